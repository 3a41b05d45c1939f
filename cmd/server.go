package cmd

import (
	"context"
	"log"
	httpNet "net/http"
	"os"
	"os/signal"
	"survey-scheduler/internal/delivery/http"
	"survey-scheduler/internal/repository"
	"survey-scheduler/internal/service"
	"survey-scheduler/pkg/logger"
	"survey-scheduler/pkg/utils"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run survey-scheduler",
	Run:   Start,
}

func Start(cmd *cobra.Command, args []string) {

	// Create a context that is canceled on interrupt signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appDep, err := NewAppDependency(ctx)
	if err != nil {
		log.Fatalf("Failed to create app dependency: %v", err)
	}

	repo := repository.NewRepository(appDep.cfg, appDep.db.DB, appDep.log)

	services := service.NewService(
		appDep.cfg,
		appDep.log,
		repo,
		appDep.clock,
	)
	httpHandler := http.NewHttpAPIHandler(ctx, appDep.cfg, appDep.echo, appDep.validator, services)

	apiServer := NewHTTPServer(ctx, appDep, httpHandler)
	go func() {
		if err := apiServer.Start(); err != nil && err != httpNet.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// The loop wakes itself on schedule writes and wake instants; the cron
	// entries are the steady cadence behind it: a periodic sweep nudge in
	// case a wake was missed, and the outbox dispatch.
	scheduler := services.SchedulerService
	dispatcher := services.DispatcherService

	utils.GoSafe(func() {
		if err := scheduler.Run(ctx); err != nil {
			appDep.log.Error("Scheduler loop exited with error", logger.ErrorField(err))
		}
	})

	engine := cron.New()
	if _, err := engine.AddFunc(appDep.cfg.Scheduler.SweepSpec, scheduler.NotifyChanged); err != nil {
		log.Fatalf("Failed to register sweep cadence: %v", err)
	}
	if _, err := engine.AddFunc(appDep.cfg.EventSink.DispatchSpec, func() {
		if err := dispatcher.DispatchPending(ctx); err != nil {
			appDep.log.Error("Event dispatch pass failed", logger.ErrorField(err))
		}
	}); err != nil {
		log.Fatalf("Failed to register dispatch cadence: %v", err)
	}
	engine.Start()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Println("Shutting down gracefully...")

	cronCtx := engine.Stop()
	<-cronCtx.Done()

	if err := apiServer.Stop(); err != nil {
		log.Fatalf("Failed to stop HTTP server: %v", err)
	}

	if err := appDep.Close(); err != nil {
		log.Fatalf("Failed to close app dependency: %v", err)
	}
}
