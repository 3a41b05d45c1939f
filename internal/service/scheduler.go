package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"survey-scheduler/config"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/model"
	"survey-scheduler/internal/recurrence"
	"survey-scheduler/internal/repository"
	"survey-scheduler/pkg/logger"
	"survey-scheduler/pkg/utils"
	"sync"
	"time"

	"gorm.io/gorm"
)

// ErrSurveyNotFound is returned when a schedule is written for a survey
// that does not exist.
var ErrSurveyNotFound = errors.New("survey not found")

// SchedulerService is the coordinator: it sleeps until the earliest wake
// instant, sweeps due schedules through the lifecycle service with bounded
// concurrency, and exposes the ops operations the HTTP surface calls.
// Correctness assumes a single active Run loop cluster-wide.
type SchedulerService interface {
	Run(ctx context.Context) error
	Sweep(ctx context.Context) error
	EvaluateSurvey(ctx context.Context, surveyID uint) error
	NotifyChanged()
	GetSchedules(ctx context.Context, param model.GetScheduleParam) ([]model.ScheduleConfig, error)
	UpsertSchedule(ctx context.Context, input *model.ScheduleConfig) (*model.ScheduleConfig, error)
	ListSurveyEvents(ctx context.Context, surveyID uint) ([]model.LifecycleEvent, error)
}

type schedulerService struct {
	cfg          *config.Config
	log          *logger.Logger
	clk          clock.Clock
	scheduleRepo repository.ScheduleRepository
	surveyRepo   repository.SurveyRepository
	eventRepo    repository.LifecycleEventRepository
	lifecycle    LifecycleService
	semaphore    chan struct{}
	wake         chan struct{}
}

func NewSchedulerService(
	cfg *config.Config,
	log *logger.Logger,
	clk clock.Clock,
	scheduleRepo repository.ScheduleRepository,
	surveyRepo repository.SurveyRepository,
	eventRepo repository.LifecycleEventRepository,
	lifecycle LifecycleService,
) *schedulerService {
	return &schedulerService{
		cfg:          cfg,
		log:          log,
		clk:          clk,
		scheduleRepo: scheduleRepo,
		surveyRepo:   surveyRepo,
		eventRepo:    eventRepo,
		lifecycle:    lifecycle,
		semaphore:    make(chan struct{}, cfg.Scheduler.MaxConcurrency),
		wake:         make(chan struct{}, 1),
	}
}

// Run sleeps until the earliest wake instant, a change notification or the
// idle fallback, then sweeps. A zone database failure halts sweeping and
// retries with backoff; no transitions are applied in between.
func (s *schedulerService) Run(ctx context.Context) error {
	s.log.InfoContext(ctx, "Scheduler loop started",
		logger.IntField("max_concurrency", s.cfg.Scheduler.MaxConcurrency))

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoContext(ctx, "Scheduler loop stopped")
			return nil
		case <-s.wake:
		case <-timer.C:
		}

		if err := s.Sweep(ctx); err != nil {
			if errors.Is(err, clock.ErrZoneUnavailable) {
				s.log.ErrorContextWithAlert(ctx, "Zone database unavailable, halting scheduling",
					logger.ErrorField(err),
					logger.Field("retry_in", s.cfg.Scheduler.FatalRetryDuration))
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(s.cfg.Scheduler.FatalRetryDuration)
				continue
			}
			s.log.ErrorContext(ctx, "Sweep failed", logger.ErrorField(err))
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(s.nextWakeIn(ctx))
	}
}

// nextWakeIn computes how long to sleep: until the earliest due schedule,
// clamped to at least a second and at most the idle fallback.
func (s *schedulerService) nextWakeIn(ctx context.Context) time.Duration {
	idle := s.cfg.Scheduler.IdleWakeDuration

	next, err := s.scheduleRepo.NextWakeTime(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to read next wake time", logger.ErrorField(err))
		return idle
	}
	if next == nil {
		return idle
	}

	d := next.Sub(s.clk.Now())
	if d < time.Second {
		return time.Second
	}
	if d > idle {
		return idle
	}
	return d
}

// Sweep runs one pass: every due schedule is handed to the lifecycle
// service on the bounded worker pool, each with its own deadline, so one
// slow survey never blocks the cadence of the others.
func (s *schedulerService) Sweep(ctx context.Context) error {
	now := s.clk.Now()
	due, err := s.scheduleRepo.FindDue(ctx, now, s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to find due schedules", logger.ErrorField(err))
		return fmt.Errorf("failed to find due schedules: %w", err)
	}
	if len(due) == 0 {
		s.log.DebugContext(ctx, "No schedules due")
		return nil
	}

	s.log.InfoContext(ctx, "Sweeping due schedules",
		logger.IntField("due_count", len(due)),
		logger.IntField("max_concurrency", cap(s.semaphore)))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		fatalErr error
	)

	for _, sched := range due {
		if !utils.ShouldContinue(ctx, s.log) {
			break
		}

		sched := sched
		s.semaphore <- struct{}{}
		wg.Add(1)
		utils.GoSafe(func() {
			defer wg.Done()
			defer func() { <-s.semaphore }()

			taskCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Scheduler.TimeoutDuration)
			defer cancel()

			if err := s.lifecycle.Process(taskCtx, sched.SurveyID); err != nil {
				if errors.Is(err, clock.ErrZoneUnavailable) {
					mu.Lock()
					fatalErr = err
					mu.Unlock()
					return
				}
				s.retryLater(taskCtx, &sched, err)
			}
		})
	}
	wg.Wait()

	return fatalErr
}

// retryLater re-arms a schedule after a transient failure, backing off with
// the attempt count so a struggling dependency is not hammered.
func (s *schedulerService) retryLater(ctx context.Context, sched *model.ScheduleConfig, cause error) {
	backoff := utils.Backoff(s.cfg.Scheduler.RetryBackoffDuration, sched.RetryCount, s.cfg.Scheduler.MaxRetryBackoff)
	retryAt := s.clk.Now().Add(backoff)

	s.log.ErrorContextWithAlert(ctx, "Survey evaluation failed, scheduling retry",
		logger.ErrorField(cause),
		logger.IntField("survey_id", int(sched.SurveyID)),
		logger.IntField("schedule_id", int(sched.ID)),
		logger.IntField("retry_count", sched.RetryCount),
		logger.Field("retry_at", retryAt))

	if err := s.scheduleRepo.ScheduleRetry(ctx, sched.ID, retryAt); err != nil {
		s.log.ErrorContext(ctx, "Failed to schedule retry", logger.ErrorField(err),
			logger.IntField("schedule_id", int(sched.ID)))
	}
}

// EvaluateSurvey forces one survey through the lifecycle service outside
// the sweep, for the ops surface and tests.
func (s *schedulerService) EvaluateSurvey(ctx context.Context, surveyID uint) error {
	s.log.InfoContext(ctx, "Evaluating survey on demand", logger.IntField("survey_id", int(surveyID)))
	if err := s.lifecycle.Process(ctx, surveyID); err != nil {
		return err
	}
	s.NotifyChanged()
	return nil
}

// NotifyChanged nudges the loop awake without blocking the caller. Called
// after any schedule write so a shortened wake instant takes effect
// immediately instead of after the current sleep.
func (s *schedulerService) NotifyChanged() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *schedulerService) GetSchedules(ctx context.Context, param model.GetScheduleParam) ([]model.ScheduleConfig, error) {
	return s.scheduleRepo.Get(ctx, &param)
}

func (s *schedulerService) ListSurveyEvents(ctx context.Context, surveyID uint) ([]model.LifecycleEvent, error) {
	if _, err := s.surveyRepo.FindByID(ctx, surveyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSurveyNotFound
		}
		return nil, err
	}
	return s.eventRepo.ListBySurvey(ctx, surveyID)
}

// UpsertSchedule writes an owner's schedule config. The zone and the rule
// are checked up front, with a dry expansion of the first step, so a config
// the evaluator would immediately flag is rejected at the door instead.
// Every write bumps the config version, clears any errored flag and leaves
// the schedule due immediately.
func (s *schedulerService) UpsertSchedule(ctx context.Context, input *model.ScheduleConfig) (*model.ScheduleConfig, error) {
	loc, err := s.clk.Location(input.Timezone)
	if err != nil {
		return nil, err
	}
	if input.Recurring {
		rule := input.Rule()
		series, err := recurrence.NewSeries(*rule, input.PublishAt, input.CloseAt, loc)
		if err != nil {
			return nil, err
		}
		if _, err := series.OccurrenceAt(1); err != nil && !errors.Is(err, recurrence.ErrSeriesExhausted) {
			return nil, err
		}
	} else if input.PublishAt != nil && input.CloseAt != nil && !input.CloseAt.After(*input.PublishAt) {
		return nil, recurrence.ErrInvalidWindow
	}

	if _, err := s.surveyRepo.FindByID(ctx, input.SurveyID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSurveyNotFound
		}
		return nil, err
	}

	existing, err := s.scheduleRepo.GetBySurveyID(ctx, input.SurveyID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if existing == nil {
		input.ConfigVersion = 1
		input.IsActive = true
		if err := s.scheduleRepo.Create(ctx, input); err != nil {
			return nil, err
		}
		s.log.InfoContext(ctx, "Schedule created",
			logger.IntField("survey_id", int(input.SurveyID)),
			logger.IntField("schedule_id", int(input.ID)))
		s.NotifyChanged()
		return input, nil
	}

	existing.Enabled = input.Enabled
	existing.PublishAt = input.PublishAt
	existing.CloseAt = input.CloseAt
	existing.Timezone = input.Timezone
	existing.Recurring = input.Recurring
	existing.RecurrenceType = input.RecurrenceType
	existing.RecurrenceInterval = input.RecurrenceInterval
	existing.RecurrenceEndDate = input.RecurrenceEndDate
	existing.MaxOccurrences = input.MaxOccurrences
	existing.ConfigVersion++
	existing.IsActive = true
	existing.Errored = false
	existing.ErrorReason = sql.NullString{}
	existing.NextWakeAt = sql.NullTime{}
	existing.RetryCount = 0

	if err := s.scheduleRepo.Save(ctx, existing); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "Schedule updated",
		logger.IntField("survey_id", int(existing.SurveyID)),
		logger.IntField("schedule_id", int(existing.ID)),
		logger.IntField("config_version", existing.ConfigVersion))
	s.NotifyChanged()
	return existing, nil
}
