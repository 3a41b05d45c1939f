package recurrence

import (
	"errors"
	"fmt"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/model"
	"time"
)

var (
	// ErrSeriesExhausted marks the normal end of a series, not a failure.
	ErrSeriesExhausted = errors.New("recurrence series exhausted")

	// ErrOverlappingWindows means a computed window would start at or
	// before the previous window's end. Configuration error; the schedule
	// must be flagged, never silently reshaped.
	ErrOverlappingWindows = errors.New("recurrence produces overlapping windows")

	ErrUnanchoredSeries = errors.New("recurring schedule requires publish and close instants")
	ErrInvalidWindow    = errors.New("close instant must follow publish instant")
	ErrInvalidInterval  = errors.New("recurrence interval must be at least 1")
	ErrUnsupportedType  = errors.New("unsupported recurrence type")
)

// Occurrence is one cycle of a recurring schedule, resolved to instants in
// the schedule's zone.
type Occurrence struct {
	Index       int
	WindowStart time.Time
	WindowEnd   *time.Time
}

// Series expands a recurrence rule into occurrence windows. The anchor
// window's civil start and civil length are fixed at construction; every
// later occurrence steps the start in civil time and carries the same civil
// length, so a DST transition shifts a boundary by at most the zone offset
// change and never reshapes the window.
type Series struct {
	rule  model.RecurrenceRule
	loc   *time.Location
	start clock.Civil
	span  time.Duration
}

func NewSeries(rule model.RecurrenceRule, publishAt, closeAt *time.Time, loc *time.Location) (*Series, error) {
	if !rule.Type.Valid() {
		return nil, fmt.Errorf("%w %q", ErrUnsupportedType, rule.Type)
	}
	if rule.Interval < 1 {
		return nil, ErrInvalidInterval
	}
	if publishAt == nil || closeAt == nil {
		return nil, ErrUnanchoredSeries
	}

	start := clock.CivilOf(publishAt.In(loc))
	span := clock.CivilOf(closeAt.In(loc)).Sub(start)
	if span <= 0 {
		return nil, ErrInvalidWindow
	}

	return &Series{rule: rule, loc: loc, start: start, span: span}, nil
}

// OccurrenceAt produces occurrence n of the series. It returns
// ErrSeriesExhausted once n passes the max-occurrence cap or the window
// start's civil date passes the rule's end date, and ErrOverlappingWindows
// when the window would start at or before the previous window's end.
func (s *Series) OccurrenceAt(n int) (Occurrence, error) {
	if n < 0 {
		return Occurrence{}, fmt.Errorf("occurrence index %d out of range", n)
	}
	if s.rule.MaxOccurrences != nil && n >= *s.rule.MaxOccurrences {
		return Occurrence{}, ErrSeriesExhausted
	}

	startCivil := s.startCivilAt(n)
	if s.rule.EndDate != nil {
		endDate := clock.CivilOf(*s.rule.EndDate).DateOnly()
		if startCivil.DateOnly().After(endDate) {
			return Occurrence{}, ErrSeriesExhausted
		}
	}

	startAt, _ := clock.ResolveCivil(startCivil, s.loc)
	if n > 0 {
		prevEnd, _ := clock.ResolveCivil(s.startCivilAt(n-1).Add(s.span), s.loc)
		if !startAt.After(prevEnd) {
			return Occurrence{}, fmt.Errorf("%w: occurrence %d starts %s, occurrence %d ends %s",
				ErrOverlappingWindows, n, startAt.Format(time.RFC3339), n-1, prevEnd.Format(time.RFC3339))
		}
	}

	endAt, _ := clock.ResolveCivil(startCivil.Add(s.span), s.loc)
	return Occurrence{Index: n, WindowStart: startAt, WindowEnd: &endAt}, nil
}

// startCivilAt steps the anchor start by n rule intervals. Daily and weekly
// advance whole civil days; monthly reapplies the anchor's day-of-month to
// the target month, clamped to that month's last day.
func (s *Series) startCivilAt(n int) clock.Civil {
	steps := n * s.rule.Interval
	switch s.rule.Type {
	case model.RecurrenceWeekly:
		return s.start.AddDays(7 * steps)
	case model.RecurrenceMonthly:
		return s.start.AddMonthsClamped(steps)
	default:
		return s.start.AddDays(steps)
	}
}
