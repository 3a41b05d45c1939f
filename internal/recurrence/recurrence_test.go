package recurrence

import (
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/utils"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	require.NoError(t, err)
	return loc
}

func TestNewSeriesValidation(t *testing.T) {
	ny := mustZone(t, "America/New_York")
	publish := time.Date(2026, time.March, 1, 14, 0, 0, 0, time.UTC)
	closeAt := time.Date(2026, time.March, 1, 22, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		rule        model.RecurrenceRule
		publishAt   *time.Time
		closeAt     *time.Time
		expectedErr error
	}{
		{
			name:        "unknown type",
			rule:        model.RecurrenceRule{Type: "yearly", Interval: 1},
			publishAt:   &publish,
			closeAt:     &closeAt,
			expectedErr: ErrUnsupportedType,
		},
		{
			name:        "zero interval",
			rule:        model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 0},
			publishAt:   &publish,
			closeAt:     &closeAt,
			expectedErr: ErrInvalidInterval,
		},
		{
			name:        "missing publish instant",
			rule:        model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1},
			closeAt:     &closeAt,
			expectedErr: ErrUnanchoredSeries,
		},
		{
			name:        "missing close instant",
			rule:        model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1},
			publishAt:   &publish,
			expectedErr: ErrUnanchoredSeries,
		},
		{
			name:        "close before publish",
			rule:        model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1},
			publishAt:   &closeAt,
			closeAt:     &publish,
			expectedErr: ErrInvalidWindow,
		},
		{
			name:        "zero length window",
			rule:        model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1},
			publishAt:   &publish,
			closeAt:     &publish,
			expectedErr: ErrInvalidWindow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries(tt.rule, tt.publishAt, tt.closeAt, ny)
			assert.ErrorIs(t, err, tt.expectedErr)
		})
	}
}

func TestDailySeriesAcrossSpringForward(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	// 09:00 to 17:00 New York, daily. 2026-03-08 is the spring-forward day.
	publish := time.Date(2026, time.March, 6, 14, 0, 0, 0, time.UTC)
	closeAt := time.Date(2026, time.March, 6, 22, 0, 0, 0, time.UTC)
	series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1}, &publish, &closeAt, ny)
	require.NoError(t, err)

	tests := []struct {
		index         int
		expectedStart time.Time
		expectedEnd   time.Time
	}{
		{0, time.Date(2026, time.March, 6, 14, 0, 0, 0, time.UTC), time.Date(2026, time.March, 6, 22, 0, 0, 0, time.UTC)},
		{1, time.Date(2026, time.March, 7, 14, 0, 0, 0, time.UTC), time.Date(2026, time.March, 7, 22, 0, 0, 0, time.UTC)},
		// EST becomes EDT: same civil hours, one UTC hour earlier.
		{2, time.Date(2026, time.March, 8, 13, 0, 0, 0, time.UTC), time.Date(2026, time.March, 8, 21, 0, 0, 0, time.UTC)},
		{3, time.Date(2026, time.March, 9, 13, 0, 0, 0, time.UTC), time.Date(2026, time.March, 9, 21, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		occ, err := series.OccurrenceAt(tt.index)
		require.NoError(t, err)
		assert.True(t, occ.WindowStart.Equal(tt.expectedStart), "occurrence %d start: got %s", tt.index, occ.WindowStart.UTC())
		require.NotNil(t, occ.WindowEnd)
		assert.True(t, occ.WindowEnd.Equal(tt.expectedEnd), "occurrence %d end: got %s", tt.index, occ.WindowEnd.UTC())
		assert.Equal(t, 8*time.Hour, occ.WindowEnd.Sub(occ.WindowStart), "occurrence %d keeps its civil length", tt.index)
	}
}

func TestWindowCrossingTransitionShrinksByOffsetOnly(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	// 00:30 to 03:30 New York. On 2026-03-08 the window straddles the jump
	// from 02:00 to 03:00, so the real duration loses exactly the offset
	// change and nothing else.
	publish := time.Date(2026, time.March, 7, 5, 30, 0, 0, time.UTC)
	closeAt := time.Date(2026, time.March, 7, 8, 30, 0, 0, time.UTC)
	series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1}, &publish, &closeAt, ny)
	require.NoError(t, err)

	occ, err := series.OccurrenceAt(1)
	require.NoError(t, err)
	assert.True(t, occ.WindowStart.Equal(time.Date(2026, time.March, 8, 5, 30, 0, 0, time.UTC)))
	assert.True(t, occ.WindowEnd.Equal(time.Date(2026, time.March, 8, 7, 30, 0, 0, time.UTC)))
	assert.Equal(t, 2*time.Hour, occ.WindowEnd.Sub(occ.WindowStart))
}

func TestStartInsideGapNeverFails(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	// 02:30 New York does not exist on 2026-03-08; the start shifts to the
	// first valid instant after the gap.
	publish := time.Date(2026, time.March, 7, 7, 30, 0, 0, time.UTC)
	closeAt := time.Date(2026, time.March, 7, 11, 30, 0, 0, time.UTC)
	series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1}, &publish, &closeAt, ny)
	require.NoError(t, err)

	occ, err := series.OccurrenceAt(1)
	require.NoError(t, err)
	assert.True(t, occ.WindowStart.Equal(time.Date(2026, time.March, 8, 7, 0, 0, 0, time.UTC)),
		"got %s", occ.WindowStart.UTC())
	assert.True(t, occ.WindowEnd.Equal(time.Date(2026, time.March, 8, 10, 30, 0, 0, time.UTC)))
}

func TestWeeklySeries(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	publish := time.Date(2026, time.March, 1, 14, 0, 0, 0, time.UTC)
	closeAt := time.Date(2026, time.March, 1, 22, 0, 0, 0, time.UTC)
	rule := model.RecurrenceRule{Type: model.RecurrenceWeekly, Interval: 1, MaxOccurrences: utils.ToPointer(2)}
	series, err := NewSeries(rule, &publish, &closeAt, ny)
	require.NoError(t, err)

	occ0, err := series.OccurrenceAt(0)
	require.NoError(t, err)
	assert.True(t, occ0.WindowStart.Equal(publish))
	assert.True(t, occ0.WindowEnd.Equal(closeAt))

	// One civil week later lands past the spring-forward transition.
	occ1, err := series.OccurrenceAt(1)
	require.NoError(t, err)
	assert.True(t, occ1.WindowStart.Equal(time.Date(2026, time.March, 8, 13, 0, 0, 0, time.UTC)))
	assert.True(t, occ1.WindowEnd.Equal(time.Date(2026, time.March, 8, 21, 0, 0, 0, time.UTC)))

	_, err = series.OccurrenceAt(2)
	assert.ErrorIs(t, err, ErrSeriesExhausted)
}

func TestMonthlyClamp(t *testing.T) {
	ny := mustZone(t, "America/New_York")

	tests := []struct {
		name          string
		publishUTC    time.Time
		index         int
		interval      int
		expectedStart time.Time
	}{
		{
			name:          "jan 31 anchor lands on feb 28",
			publishUTC:    time.Date(2026, time.January, 31, 14, 0, 0, 0, time.UTC),
			index:         1,
			interval:      1,
			expectedStart: time.Date(2026, time.February, 28, 14, 0, 0, 0, time.UTC),
		},
		{
			name:          "jan 31 anchor lands on feb 29 in a leap year",
			publishUTC:    time.Date(2028, time.January, 31, 14, 0, 0, 0, time.UTC),
			index:         1,
			interval:      1,
			expectedStart: time.Date(2028, time.February, 29, 14, 0, 0, 0, time.UTC),
		},
		{
			name:       "clamp does not stick: march recovers the 31st",
			publishUTC: time.Date(2026, time.January, 31, 14, 0, 0, 0, time.UTC),
			index:      2,
			interval:   1,
			// 2026-03-31 is past the transition, so 09:00 EDT.
			expectedStart: time.Date(2026, time.March, 31, 13, 0, 0, 0, time.UTC),
		},
		{
			name:          "interval two skips february entirely",
			publishUTC:    time.Date(2026, time.January, 31, 14, 0, 0, 0, time.UTC),
			index:         1,
			interval:      2,
			expectedStart: time.Date(2026, time.March, 31, 13, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			closeAt := tt.publishUTC.Add(4 * time.Hour)
			rule := model.RecurrenceRule{Type: model.RecurrenceMonthly, Interval: tt.interval}
			series, err := NewSeries(rule, &tt.publishUTC, &closeAt, ny)
			require.NoError(t, err)

			occ, err := series.OccurrenceAt(tt.index)
			require.NoError(t, err)
			assert.True(t, occ.WindowStart.Equal(tt.expectedStart), "got %s want %s", occ.WindowStart.UTC(), tt.expectedStart)
		})
	}
}

func TestSeriesEndDate(t *testing.T) {
	utc := time.UTC
	publish := time.Date(2026, time.June, 1, 9, 0, 0, 0, utc)
	closeAt := time.Date(2026, time.June, 1, 17, 0, 0, 0, utc)
	rule := model.RecurrenceRule{
		Type:     model.RecurrenceDaily,
		Interval: 1,
		EndDate:  utils.ToPointer(time.Date(2026, time.June, 3, 0, 0, 0, 0, utc)),
	}
	series, err := NewSeries(rule, &publish, &closeAt, utc)
	require.NoError(t, err)

	// June 3rd itself still starts an occurrence; June 4th does not.
	occ, err := series.OccurrenceAt(2)
	require.NoError(t, err)
	assert.True(t, occ.WindowStart.Equal(time.Date(2026, time.June, 3, 9, 0, 0, 0, utc)))

	_, err = series.OccurrenceAt(3)
	assert.ErrorIs(t, err, ErrSeriesExhausted)
}

func TestSeriesMaxOccurrencesBeatsEndDate(t *testing.T) {
	utc := time.UTC
	publish := time.Date(2026, time.June, 1, 9, 0, 0, 0, utc)
	closeAt := time.Date(2026, time.June, 1, 17, 0, 0, 0, utc)
	rule := model.RecurrenceRule{
		Type:           model.RecurrenceDaily,
		Interval:       1,
		EndDate:        utils.ToPointer(time.Date(2026, time.June, 30, 0, 0, 0, 0, utc)),
		MaxOccurrences: utils.ToPointer(3),
	}
	series, err := NewSeries(rule, &publish, &closeAt, utc)
	require.NoError(t, err)

	_, err = series.OccurrenceAt(2)
	require.NoError(t, err)
	_, err = series.OccurrenceAt(3)
	assert.ErrorIs(t, err, ErrSeriesExhausted)
}

func TestOverlappingWindows(t *testing.T) {
	utc := time.UTC
	publish := time.Date(2026, time.June, 1, 9, 0, 0, 0, utc)

	t.Run("window longer than the step", func(t *testing.T) {
		closeAt := publish.Add(25 * time.Hour)
		series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1}, &publish, &closeAt, utc)
		require.NoError(t, err)

		_, err = series.OccurrenceAt(0)
		require.NoError(t, err)
		_, err = series.OccurrenceAt(1)
		assert.ErrorIs(t, err, ErrOverlappingWindows)
	})

	t.Run("back to back windows also count", func(t *testing.T) {
		closeAt := publish.Add(24 * time.Hour)
		series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 1}, &publish, &closeAt, utc)
		require.NoError(t, err)

		_, err = series.OccurrenceAt(1)
		assert.ErrorIs(t, err, ErrOverlappingWindows)
	})

	t.Run("wider interval clears the same window", func(t *testing.T) {
		closeAt := publish.Add(25 * time.Hour)
		series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 2}, &publish, &closeAt, utc)
		require.NoError(t, err)

		occ, err := series.OccurrenceAt(1)
		require.NoError(t, err)
		assert.True(t, occ.WindowStart.Equal(publish.AddDate(0, 0, 2)))
	})
}

func TestDailyIntervalStep(t *testing.T) {
	utc := time.UTC
	publish := time.Date(2026, time.June, 1, 9, 0, 0, 0, utc)
	closeAt := time.Date(2026, time.June, 1, 10, 0, 0, 0, utc)
	series, err := NewSeries(model.RecurrenceRule{Type: model.RecurrenceDaily, Interval: 3}, &publish, &closeAt, utc)
	require.NoError(t, err)

	occ, err := series.OccurrenceAt(2)
	require.NoError(t, err)
	assert.True(t, occ.WindowStart.Equal(time.Date(2026, time.June, 7, 9, 0, 0, 0, utc)))
}
