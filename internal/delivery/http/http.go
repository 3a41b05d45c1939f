package http

import (
	"context"
	"net/http"
	"survey-scheduler/config"
	"survey-scheduler/internal/service"
	"survey-scheduler/pkg/middleware"

	goValidator "github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type HttpAPIHandler struct {
	cfg       *config.Config
	echo      *echo.Echo
	validator *goValidator.Validate
	service   *service.Service
}

func NewHttpAPIHandler(ctx context.Context, cfg *config.Config, echo *echo.Echo, validator *goValidator.Validate, service *service.Service) *HttpAPIHandler {
	return &HttpAPIHandler{
		cfg:       cfg,
		echo:      echo,
		validator: validator,
		service:   service,
	}
}

func (h *HttpAPIHandler) SetupRoutes() {
	h.echo.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	base := h.echo.Group("/api")
	base.Use(middleware.NewRateLimiterMiddleware(h.cfg.API.RateLimitPerSecond, h.cfg.API.RateLimitBurst))
	h.SetupSchedules(base)
}
