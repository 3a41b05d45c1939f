package service

import (
	"survey-scheduler/config"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/repository"
	"survey-scheduler/pkg/logger"
)

type Service struct {
	SchedulerService  SchedulerService
	LifecycleService  LifecycleService
	DispatcherService DispatcherService
}

func NewService(
	cfg *config.Config,
	log *logger.Logger,
	repo *repository.Repository,
	clk clock.Clock,
) *Service {
	lifecycleService := NewLifecycleService(cfg, log, clk, repo.ScheduleRepo, repo.SurveyRepo, repo.EventRepo, repo.UnitOfWork)
	schedulerService := NewSchedulerService(cfg, log, clk, repo.ScheduleRepo, repo.SurveyRepo, repo.EventRepo, lifecycleService)
	dispatcherService := NewDispatcherService(cfg, log, clk, repo.EventRepo, repo.EventSink)

	return &Service{
		SchedulerService:  schedulerService,
		LifecycleService:  lifecycleService,
		DispatcherService: dispatcherService,
	}
}
