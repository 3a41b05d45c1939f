package http

import (
	"errors"
	"net/http"
	"strconv"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/dto"
	"survey-scheduler/internal/model"
	"survey-scheduler/internal/recurrence"
	"survey-scheduler/internal/service"
	"survey-scheduler/pkg/utils"

	"github.com/labstack/echo/v4"
)

func (h *HttpAPIHandler) SetupSchedules(base *echo.Group) {
	v1 := base.Group("/v1")
	{
		v1.GET("/schedules", h.ListSchedules)
		v1.GET("/schedules/errored", h.ListErroredSchedules)
		v1.POST("/schedules/run", h.RunSweep)

		v1.GET("/surveys/:surveyID/schedule", h.GetSurveySchedule)
		v1.PUT("/surveys/:surveyID/schedule", h.UpsertSurveySchedule)
		v1.POST("/surveys/:surveyID/schedule/run", h.RunSurveySchedule)
		v1.GET("/surveys/:surveyID/events", h.ListSurveyEvents)
	}
}

func (h *HttpAPIHandler) ListSchedules(c echo.Context) error {
	param := model.GetScheduleParam{}
	if raw := c.QueryParam("survey_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid survey_id"))
		}
		param.SurveyIDs = []uint{uint(id)}
	}
	if raw := c.QueryParam("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid is_active"))
		}
		param.IsActive = &active
	}
	if raw := c.QueryParam("errored"); raw != "" {
		errored, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid errored"))
		}
		param.Errored = &errored
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid limit"))
		}
		param.Limit = &limit
	}

	schedules, err := h.service.SchedulerService.GetSchedules(c.Request().Context(), param)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Schedules retrieved", dto.NewScheduleResponses(schedules)))
}

// ListErroredSchedules is the triage view: every schedule flagged with a
// configuration error, waiting for its owner to re-save the config.
func (h *HttpAPIHandler) ListErroredSchedules(c echo.Context) error {
	param := model.GetScheduleParam{Errored: utils.ToPointer(true)}
	schedules, err := h.service.SchedulerService.GetSchedules(c.Request().Context(), param)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Errored schedules retrieved", dto.NewScheduleResponses(schedules)))
}

func (h *HttpAPIHandler) RunSweep(c echo.Context) error {
	response := dto.NewBaseResponse(http.StatusOK, "Sweep completed", nil)
	if err := h.service.SchedulerService.Sweep(c.Request().Context()); err != nil {
		response.Code = http.StatusInternalServerError
		response.Message = err.Error()
	}
	return c.JSON(response.Code, response)
}

func (h *HttpAPIHandler) GetSurveySchedule(c echo.Context) error {
	surveyID, err := h.surveyIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid survey id"))
	}

	schedules, err := h.service.SchedulerService.GetSchedules(c.Request().Context(), model.GetScheduleParam{SurveyIDs: []uint{surveyID}})
	if err != nil {
		return c.JSON(http.StatusInternalServerError, dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil))
	}
	if len(schedules) == 0 {
		return c.JSON(http.StatusNotFound, dto.NewBaseResponse(http.StatusNotFound, "schedule not found", nil))
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Schedule retrieved", dto.NewScheduleResponse(&schedules[0])))
}

func (h *HttpAPIHandler) UpsertSurveySchedule(c echo.Context) error {
	surveyID, err := h.surveyIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid survey id"))
	}

	req := new(dto.UpsertScheduleRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid request body"))
	}
	if err := h.validator.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	input, err := req.ToModel(surveyID)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse(err.Error()))
	}

	saved, err := h.service.SchedulerService.UpsertSchedule(c.Request().Context(), input)
	if err != nil {
		resp := h.scheduleErrorResponse(err)
		return c.JSON(resp.Code, resp)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Schedule saved", dto.NewScheduleResponse(saved)))
}

func (h *HttpAPIHandler) RunSurveySchedule(c echo.Context) error {
	surveyID, err := h.surveyIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid survey id"))
	}

	if err := h.service.SchedulerService.EvaluateSurvey(c.Request().Context(), surveyID); err != nil {
		resp := h.scheduleErrorResponse(err)
		return c.JSON(resp.Code, resp)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Survey evaluated", nil))
}

func (h *HttpAPIHandler) ListSurveyEvents(c echo.Context) error {
	surveyID, err := h.surveyIDParam(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, dto.NewBadRequestResponse("invalid survey id"))
	}

	events, err := h.service.SchedulerService.ListSurveyEvents(c.Request().Context(), surveyID)
	if err != nil {
		resp := h.scheduleErrorResponse(err)
		return c.JSON(resp.Code, resp)
	}
	return c.JSON(http.StatusOK, dto.NewSuccessResponse("Events retrieved", dto.NewEventResponses(events)))
}

func (h *HttpAPIHandler) surveyIDParam(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("surveyID"), 10, 64)
	if err != nil {
		return 0, err
	}
	return uint(id), nil
}

func (h *HttpAPIHandler) scheduleErrorResponse(err error) *dto.BaseResponse {
	switch {
	case errors.Is(err, service.ErrSurveyNotFound):
		return dto.NewBaseResponse(http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, clock.ErrUnknownZone),
		errors.Is(err, recurrence.ErrInvalidWindow),
		errors.Is(err, recurrence.ErrUnanchoredSeries),
		errors.Is(err, recurrence.ErrInvalidInterval),
		errors.Is(err, recurrence.ErrUnsupportedType),
		errors.Is(err, recurrence.ErrOverlappingWindows):
		return dto.NewBadRequestResponse(err.Error())
	default:
		return dto.NewBaseResponse(http.StatusInternalServerError, err.Error(), nil)
	}
}
