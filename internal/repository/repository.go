package repository

import (
	"survey-scheduler/config"
	"survey-scheduler/pkg/logger"

	"gorm.io/gorm"
)

type Repository struct {
	ScheduleRepo ScheduleRepository
	SurveyRepo   SurveyRepository
	EventRepo    LifecycleEventRepository
	EventSink    EventSink
	UnitOfWork   UnitOfWork
}

func NewRepository(cfg *config.Config, db *gorm.DB, log *logger.Logger) *Repository {
	sink := NewLogSink(log)
	if cfg.EventSink.WebhookURL != "" {
		sink = NewWebhookSink(cfg, log)
	}

	return &Repository{
		ScheduleRepo: NewScheduleRepository(db),
		SurveyRepo:   NewSurveyRepository(db),
		EventRepo:    NewLifecycleEventRepository(db),
		EventSink:    sink,
		UnitOfWork:   NewUnitOfWork(db),
	}
}
