package service

import (
	"context"
	"errors"
	"fmt"
	"survey-scheduler/config"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/evaluator"
	"survey-scheduler/internal/model"
	"survey-scheduler/internal/repository"
	"survey-scheduler/pkg/logger"
	"survey-scheduler/pkg/utils"
	"time"

	"gorm.io/gorm"
)

// errStaleConfig means the schedule's config version moved while a
// transition was being applied. The computed work is discarded; the edit
// reset the wake instant, so the next sweep re-evaluates from scratch.
var errStaleConfig = errors.New("schedule changed during evaluation")

// LifecycleService drives one survey's lifecycle forward: it re-reads the
// schedule, evaluates it, applies every missed transition in order, and
// materializes successor occurrences when a recurring cycle completes.
type LifecycleService interface {
	Process(ctx context.Context, surveyID uint) error
}

type lifecycleService struct {
	cfg          *config.Config
	log          *logger.Logger
	clk          clock.Clock
	scheduleRepo repository.ScheduleRepository
	surveyRepo   repository.SurveyRepository
	eventRepo    repository.LifecycleEventRepository
	uow          repository.UnitOfWork
}

func NewLifecycleService(
	cfg *config.Config,
	log *logger.Logger,
	clk clock.Clock,
	scheduleRepo repository.ScheduleRepository,
	surveyRepo repository.SurveyRepository,
	eventRepo repository.LifecycleEventRepository,
	uow repository.UnitOfWork,
) *lifecycleService {
	return &lifecycleService{
		cfg:          cfg,
		log:          log,
		clk:          clk,
		scheduleRepo: scheduleRepo,
		surveyRepo:   surveyRepo,
		eventRepo:    eventRepo,
		uow:          uow,
	}
}

// Process evaluates one survey and applies whatever the evaluation implies.
// The schedule is re-fetched first, so work never starts from a row that
// went stale while queued. Recoverable configuration errors flag the
// schedule and return nil; only transient failures and zone database
// failures surface as errors.
func (s *lifecycleService) Process(ctx context.Context, surveyID uint) error {
	cfg, err := s.scheduleRepo.GetBySurveyID(ctx, surveyID, utils.WithPreload("Survey"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.DebugContext(ctx, "No schedule for survey", logger.IntField("survey_id", int(surveyID)))
			return nil
		}
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	if cfg.Survey.ID == 0 {
		return fmt.Errorf("schedule %d has no survey row", cfg.ID)
	}

	loc, err := s.clk.Location(cfg.Timezone)
	if errors.Is(err, clock.ErrUnknownZone) {
		return s.flagConfigError(ctx, cfg, err)
	}
	if err != nil {
		// Zone database failure. Propagated untouched so the loop halts
		// instead of applying transitions against an unverifiable clock.
		return err
	}

	survey := cfg.Survey
	for hops := 0; hops <= s.cfg.Scheduler.MaxCatchUpOccurrences; hops++ {
		if !cfg.Enabled || !cfg.IsActive || cfg.Errored {
			return nil
		}

		now := s.clk.Now()
		ev, err := evaluator.Evaluate(cfg, survey.OccurrenceIndex, now, loc)
		if err != nil {
			return s.flagConfigError(ctx, cfg, err)
		}

		if err := s.applyTransitions(ctx, cfg, &survey, ev, now); err != nil {
			if errors.Is(err, errStaleConfig) {
				s.log.InfoContext(ctx, "Discarding stale evaluation",
					logger.IntField("survey_id", int(survey.ID)),
					logger.IntField("config_version", cfg.ConfigVersion))
				return nil
			}
			return err
		}

		if ev.State != model.StateClosed || ev.NextDue == nil {
			return s.finishEvaluation(ctx, cfg, ev, now)
		}

		// The cycle completed and a successor exists: materialize it and
		// keep walking so missed occurrences replay in one pass.
		next, nextCfg, err := s.materializeNext(ctx, cfg, &survey)
		if err != nil {
			if errors.Is(err, errStaleConfig) {
				s.log.InfoContext(ctx, "Discarding stale materialization",
					logger.IntField("survey_id", int(survey.ID)))
				return nil
			}
			return err
		}
		s.log.InfoContext(ctx, "Materialized next occurrence",
			logger.IntField("template_id", int(next.RootID())),
			logger.IntField("survey_id", int(next.ID)),
			logger.IntField("occurrence_index", next.OccurrenceIndex))
		survey, cfg = *next, nextCfg
	}

	// Catch-up budget spent. Leave the schedule due so the next sweep
	// resumes where this one stopped.
	s.log.WarnContext(ctx, "Catch-up budget spent, resuming on next sweep",
		logger.IntField("schedule_id", int(cfg.ID)),
		logger.IntField("occurrence_index", survey.OccurrenceIndex))
	_, err = s.scheduleRepo.UpdateIfVersion(ctx, cfg.ID, cfg.ConfigVersion, map[string]interface{}{
		"next_wake_at": s.clk.Now(),
	})
	return err
}

// applyTransitions walks the survey from its persisted state to the
// computed one, one transition per transaction, so consumers always see the
// full ordered history even if the walk is interrupted. A persisted state
// ahead of the computed one is left alone; the scheduler never moves a
// survey backwards.
func (s *lifecycleService) applyTransitions(ctx context.Context, cfg *model.ScheduleConfig, survey *model.Survey, ev evaluator.Evaluation, now time.Time) error {
	if survey.Status.Rank() > ev.State.Rank() {
		s.log.WarnContext(ctx, "Persisted state ahead of computed state, leaving as is",
			logger.IntField("survey_id", int(survey.ID)),
			logger.StringField("persisted", string(survey.Status)),
			logger.StringField("computed", string(ev.State)))
		return nil
	}

	for _, to := range model.StatesBetween(survey.Status, ev.State) {
		from := survey.Status
		event := &model.LifecycleEvent{
			SurveyID:        survey.ID,
			OccurrenceIndex: survey.OccurrenceIndex,
			FromState:       from,
			ToState:         to,
			At:              transitionAt(to, ev, now),
			EmittedAt:       now,
		}

		err := s.uow.Run(func(opts ...utils.DBOption) error {
			ok, err := s.scheduleRepo.UpdateIfVersion(ctx, cfg.ID, cfg.ConfigVersion, map[string]interface{}{
				"last_evaluated_at": now,
			}, opts...)
			if err != nil {
				return err
			}
			if !ok {
				return errStaleConfig
			}
			if _, err := s.eventRepo.Record(ctx, event, opts...); err != nil {
				return err
			}
			return s.surveyRepo.SetStatus(ctx, survey.ID, to, opts...)
		})
		if err != nil {
			return err
		}

		survey.Status = to
		s.log.InfoContext(ctx, "Applied lifecycle transition",
			logger.IntField("survey_id", int(survey.ID)),
			logger.IntField("occurrence_index", survey.OccurrenceIndex),
			logger.StringField("from_state", string(from)),
			logger.StringField("to_state", string(to)))
	}
	return nil
}

// transitionAt stamps the event with the intended boundary instant where one
// exists, so replayed history carries the time a transition was due rather
// than the time the loop got around to it.
func transitionAt(to model.LifecycleState, ev evaluator.Evaluation, now time.Time) time.Time {
	switch to {
	case model.StatePublished:
		if ev.WindowStart != nil {
			return *ev.WindowStart
		}
	case model.StateClosed:
		if ev.WindowEnd != nil {
			return *ev.WindowEnd
		}
	}
	return now
}

// finishEvaluation records the steady-state bookkeeping: the next wake
// instant, or parking when nothing will ever be due again.
func (s *lifecycleService) finishEvaluation(ctx context.Context, cfg *model.ScheduleConfig, ev evaluator.Evaluation, now time.Time) error {
	fields := map[string]interface{}{
		"last_evaluated_at": now,
		"retry_count":       0,
	}
	if ev.NextDue != nil {
		fields["next_wake_at"] = *ev.NextDue
	} else {
		fields["next_wake_at"] = nil
		fields["is_active"] = false
	}

	ok, err := s.scheduleRepo.UpdateIfVersion(ctx, cfg.ID, cfg.ConfigVersion, fields)
	if err != nil {
		return fmt.Errorf("failed to update schedule bookkeeping: %w", err)
	}
	if !ok {
		s.log.InfoContext(ctx, "Schedule changed during evaluation, bookkeeping skipped",
			logger.IntField("schedule_id", int(cfg.ID)))
	}
	return nil
}

// materializeNext creates the next occurrence's survey row and schedule in
// one transaction and retires the completed occurrence's schedule. The
// unique (template, occurrence index) pair makes a repeat call adopt the
// existing instance instead of creating a second one.
func (s *lifecycleService) materializeNext(ctx context.Context, cfg *model.ScheduleConfig, survey *model.Survey) (*model.Survey, *model.ScheduleConfig, error) {
	templateID := survey.RootID()
	instance := &model.Survey{
		TemplateID:      &templateID,
		OwnerID:         survey.OwnerID,
		Title:           survey.Title,
		Description:     survey.Description,
		Questions:       survey.Questions,
		Status:          model.StateDraft,
		OccurrenceIndex: survey.OccurrenceIndex + 1,
	}

	var nextCfg *model.ScheduleConfig
	err := s.uow.Run(func(opts ...utils.DBOption) error {
		ok, err := s.scheduleRepo.UpdateIfVersion(ctx, cfg.ID, cfg.ConfigVersion, map[string]interface{}{
			"is_active":    false,
			"next_wake_at": nil,
		}, opts...)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleConfig
		}

		if err := s.surveyRepo.Create(ctx, instance, opts...); err != nil {
			return err
		}
		if instance.ID == 0 {
			// A previous run already materialized this occurrence.
			existing, err := s.surveyRepo.FindByTemplateAndIndex(ctx, templateID, instance.OccurrenceIndex, opts...)
			if err != nil {
				return err
			}
			instance = existing
			nextCfg, err = s.scheduleRepo.GetBySurveyID(ctx, instance.ID, opts...)
			return err
		}

		nextCfg = cfg.CopyForOccurrence(instance.ID)
		return s.scheduleRepo.Create(ctx, nextCfg, opts...)
	})
	if err != nil {
		return nil, nil, err
	}
	return instance, nextCfg, nil
}

func (s *lifecycleService) flagConfigError(ctx context.Context, cfg *model.ScheduleConfig, cause error) error {
	s.log.ErrorContextWithAlert(ctx, "Schedule configuration error",
		logger.ErrorField(cause),
		logger.IntField("survey_id", int(cfg.SurveyID)),
		logger.IntField("schedule_id", int(cfg.ID)))

	if err := s.scheduleRepo.MarkErrored(ctx, cfg.ID, cause.Error()); err != nil {
		return fmt.Errorf("failed to flag errored schedule: %w", err)
	}
	return nil
}
