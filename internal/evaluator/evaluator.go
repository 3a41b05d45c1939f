package evaluator

import (
	"errors"
	"survey-scheduler/internal/model"
	"survey-scheduler/internal/recurrence"
	"time"
)

// Evaluation is the verdict for one survey occurrence at one instant: the
// lifecycle state the schedule implies, the next instant at which that
// verdict can change, and the occurrence's window bounds where they exist.
// When State is closed, a non-nil NextDue is the start of the following
// occurrence and means the series continues.
type Evaluation struct {
	State       model.LifecycleState
	NextDue     *time.Time
	WindowStart *time.Time
	WindowEnd   *time.Time
}

// Evaluate maps (config, occurrence index, now) onto an Evaluation. Pure:
// the same inputs always produce the same verdict, so callers can recompute
// freely and act only on the delta against persisted state. Errors are
// configuration errors surfaced by the recurrence engine.
func Evaluate(cfg *model.ScheduleConfig, occurrenceIndex int, now time.Time, loc *time.Location) (Evaluation, error) {
	if cfg == nil || !cfg.Enabled {
		return Evaluation{State: model.StateDraft}, nil
	}

	rule := cfg.Rule()
	if rule == nil {
		return evaluateSingle(cfg, occurrenceIndex, now), nil
	}

	series, err := recurrence.NewSeries(*rule, cfg.PublishAt, cfg.CloseAt, loc)
	if err != nil {
		return Evaluation{}, err
	}

	occ, err := series.OccurrenceAt(occurrenceIndex)
	if errors.Is(err, recurrence.ErrSeriesExhausted) {
		// The index ran past the series, typically after the rule was
		// tightened. Terminal, nothing left to wake for.
		return Evaluation{State: model.StateClosed}, nil
	}
	if err != nil {
		return Evaluation{}, err
	}

	ev := Evaluation{WindowStart: &occ.WindowStart, WindowEnd: occ.WindowEnd}
	switch {
	case now.Before(occ.WindowStart):
		ev.State = model.StateScheduled
		ev.NextDue = &occ.WindowStart
	case occ.WindowEnd == nil || now.Before(*occ.WindowEnd):
		ev.State = model.StatePublished
		ev.NextDue = occ.WindowEnd
	default:
		ev.State = model.StateClosed
		next, err := series.OccurrenceAt(occurrenceIndex + 1)
		if err != nil {
			if errors.Is(err, recurrence.ErrSeriesExhausted) {
				return ev, nil
			}
			return Evaluation{}, err
		}
		ev.NextDue = &next.WindowStart
	}
	return ev, nil
}

// evaluateSingle handles a schedule with no recurrence: one window taken
// directly from the configured instants. An absent publish instant means the
// survey is live as soon as it is enabled; an absent close instant means it
// stays open until toggled by hand.
func evaluateSingle(cfg *model.ScheduleConfig, occurrenceIndex int, now time.Time) Evaluation {
	if occurrenceIndex > 0 {
		return Evaluation{State: model.StateClosed}
	}

	ev := Evaluation{WindowStart: cfg.PublishAt, WindowEnd: cfg.CloseAt}
	switch {
	case cfg.PublishAt != nil && now.Before(*cfg.PublishAt):
		ev.State = model.StateScheduled
		ev.NextDue = cfg.PublishAt
	case cfg.CloseAt == nil || now.Before(*cfg.CloseAt):
		ev.State = model.StatePublished
		ev.NextDue = cfg.CloseAt
	default:
		ev.State = model.StateClosed
	}
	return ev
}
