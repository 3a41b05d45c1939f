package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"survey-scheduler/config"
	"survey-scheduler/internal/clock"
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/logger"
	"survey-scheduler/pkg/utils"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestConfig() *config.Config {
	return &config.Config{
		Scheduler: config.Scheduler{
			MaxConcurrency:        2,
			TimeoutDuration:       5 * time.Second,
			BatchSize:             10,
			IdleWakeDuration:      time.Minute,
			RetryBackoffDuration:  30 * time.Second,
			MaxRetryBackoff:       5 * time.Minute,
			FatalRetryDuration:    20 * time.Millisecond,
			MaxCatchUpOccurrences: 25,
		},
		EventSink: config.EventSinkConfig{
			BatchSize:           50,
			MaxConcurrency:      2,
			MaxDispatchAttempts: 3,
		},
	}
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console")
	require.NoError(t, err)
	return log
}

type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	zoneErr error
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *fakeClock) Location(name string) (*time.Location, error) {
	c.mu.Lock()
	zoneErr := c.zoneErr
	c.mu.Unlock()
	if zoneErr != nil {
		return nil, zoneErr
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", clock.ErrUnknownZone, name)
	}
	return loc, nil
}

// memStore backs the fake repositories with one shared table set so a walk
// that materializes new rows can read them back.
type memStore struct {
	mu             sync.Mutex
	surveys        map[uint]*model.Survey
	schedules      map[uint]*model.ScheduleConfig
	events         []model.LifecycleEvent
	nextSurveyID   uint
	nextScheduleID uint
	nextEventID    uint
}

func newMemStore() *memStore {
	return &memStore{
		surveys:   make(map[uint]*model.Survey),
		schedules: make(map[uint]*model.ScheduleConfig),
	}
}

func (s *memStore) seed(survey model.Survey, cfg model.ScheduleConfig) (*model.Survey, *model.ScheduleConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSurveyID++
	survey.ID = s.nextSurveyID
	if survey.Status == "" {
		survey.Status = model.StateDraft
	}
	sv := survey
	s.surveys[sv.ID] = &sv

	s.nextScheduleID++
	cfg.ID = s.nextScheduleID
	cfg.SurveyID = sv.ID
	if cfg.ConfigVersion == 0 {
		cfg.ConfigVersion = 1
	}
	c := cfg
	s.schedules[c.ID] = &c
	return &sv, &c
}

func (s *memStore) survey(id uint) model.Survey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.surveys[id]
}

func (s *memStore) schedule(id uint) model.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.schedules[id]
}

func (s *memStore) scheduleForSurvey(surveyID uint) *model.ScheduleConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.schedules {
		if cfg.SurveyID == surveyID {
			c := *cfg
			return &c
		}
	}
	return nil
}

func (s *memStore) eventsForSurvey(surveyID uint) []model.LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LifecycleEvent
	for _, e := range s.events {
		if e.SurveyID == surveyID {
			out = append(out, e)
		}
	}
	return out
}

func (s *memStore) allEvents() []model.LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LifecycleEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *memStore) applyFields(cfg *model.ScheduleConfig, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "last_evaluated_at":
			cfg.LastEvaluatedAt = sql.NullTime{Time: v.(time.Time), Valid: true}
		case "next_wake_at":
			if v == nil {
				cfg.NextWakeAt = sql.NullTime{}
			} else {
				cfg.NextWakeAt = sql.NullTime{Time: v.(time.Time), Valid: true}
			}
		case "retry_count":
			cfg.RetryCount = v.(int)
		case "is_active":
			cfg.IsActive = v.(bool)
		}
	}
}

type fakeScheduleRepo struct {
	store *memStore
}

func (f *fakeScheduleRepo) FindDue(ctx context.Context, now time.Time, limit int, opts ...utils.DBOption) ([]model.ScheduleConfig, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var due []model.ScheduleConfig
	for _, cfg := range f.store.schedules {
		if !cfg.Enabled || !cfg.IsActive || cfg.Errored {
			continue
		}
		if cfg.NextWakeAt.Valid && cfg.NextWakeAt.Time.After(now) {
			continue
		}
		c := *cfg
		if sv, ok := f.store.surveys[c.SurveyID]; ok {
			c.Survey = *sv
		}
		due = append(due, c)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextWakeAt.Valid != due[j].NextWakeAt.Valid {
			return !due[i].NextWakeAt.Valid
		}
		if !due[i].NextWakeAt.Valid {
			return due[i].ID < due[j].ID
		}
		return due[i].NextWakeAt.Time.Before(due[j].NextWakeAt.Time)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (f *fakeScheduleRepo) Get(ctx context.Context, param *model.GetScheduleParam, opts ...utils.DBOption) ([]model.ScheduleConfig, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []model.ScheduleConfig
	for _, cfg := range f.store.schedules {
		if param.IsActive != nil && cfg.IsActive != *param.IsActive {
			continue
		}
		if param.Errored != nil && cfg.Errored != *param.Errored {
			continue
		}
		out = append(out, *cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SurveyID < out[j].SurveyID })
	return out, nil
}

func (f *fakeScheduleRepo) GetBySurveyID(ctx context.Context, surveyID uint, opts ...utils.DBOption) (*model.ScheduleConfig, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, cfg := range f.store.schedules {
		if cfg.SurveyID == surveyID {
			out := *cfg
			if sv, ok := f.store.surveys[surveyID]; ok {
				out.Survey = *sv
			}
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeScheduleRepo) Create(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	f.store.nextScheduleID++
	cfg.ID = f.store.nextScheduleID
	c := *cfg
	c.Survey = model.Survey{}
	f.store.schedules[c.ID] = &c
	return nil
}

func (f *fakeScheduleRepo) Save(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	c := *cfg
	c.Survey = model.Survey{}
	f.store.schedules[c.ID] = &c
	return nil
}

func (f *fakeScheduleRepo) UpdateIfVersion(ctx context.Context, scheduleID uint, version int, fields map[string]interface{}, opts ...utils.DBOption) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cfg, ok := f.store.schedules[scheduleID]
	if !ok || cfg.ConfigVersion != version {
		return false, nil
	}
	f.store.applyFields(cfg, fields)
	return true, nil
}

func (f *fakeScheduleRepo) NextWakeTime(ctx context.Context, opts ...utils.DBOption) (*time.Time, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var min *time.Time
	for _, cfg := range f.store.schedules {
		if !cfg.Enabled || !cfg.IsActive || cfg.Errored || !cfg.NextWakeAt.Valid {
			continue
		}
		t := cfg.NextWakeAt.Time
		if min == nil || t.Before(*min) {
			min = &t
		}
	}
	return min, nil
}

func (f *fakeScheduleRepo) MarkErrored(ctx context.Context, scheduleID uint, reason string, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cfg, ok := f.store.schedules[scheduleID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cfg.Errored = true
	cfg.ErrorReason = sql.NullString{String: reason, Valid: true}
	cfg.NextWakeAt = sql.NullTime{}
	return nil
}

func (f *fakeScheduleRepo) Deactivate(ctx context.Context, scheduleID uint, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cfg, ok := f.store.schedules[scheduleID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cfg.IsActive = false
	cfg.NextWakeAt = sql.NullTime{}
	return nil
}

func (f *fakeScheduleRepo) ScheduleRetry(ctx context.Context, scheduleID uint, at time.Time, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	cfg, ok := f.store.schedules[scheduleID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	cfg.NextWakeAt = sql.NullTime{Time: at, Valid: true}
	cfg.RetryCount++
	return nil
}

type fakeSurveyRepo struct {
	store *memStore
}

func (f *fakeSurveyRepo) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.Survey, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	sv, ok := f.store.surveys[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *sv
	return &out, nil
}

func (f *fakeSurveyRepo) SetStatus(ctx context.Context, surveyID uint, status model.LifecycleState, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	sv, ok := f.store.surveys[surveyID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	sv.Status = status
	return nil
}

func (f *fakeSurveyRepo) Create(ctx context.Context, survey *model.Survey, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	if survey.TemplateID != nil {
		for _, existing := range f.store.surveys {
			if existing.TemplateID != nil && *existing.TemplateID == *survey.TemplateID &&
				existing.OccurrenceIndex == survey.OccurrenceIndex {
				survey.ID = 0
				return nil
			}
		}
	}
	f.store.nextSurveyID++
	survey.ID = f.store.nextSurveyID
	sv := *survey
	f.store.surveys[sv.ID] = &sv
	return nil
}

func (f *fakeSurveyRepo) FindByTemplateAndIndex(ctx context.Context, templateID uint, occurrenceIndex int, opts ...utils.DBOption) (*model.Survey, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, sv := range f.store.surveys {
		if sv.TemplateID != nil && *sv.TemplateID == templateID && sv.OccurrenceIndex == occurrenceIndex {
			out := *sv
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

type fakeEventRepo struct {
	store *memStore
}

func (f *fakeEventRepo) Record(ctx context.Context, event *model.LifecycleEvent, opts ...utils.DBOption) (bool, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for _, e := range f.store.events {
		if e.SurveyID == event.SurveyID && e.OccurrenceIndex == event.OccurrenceIndex && e.ToState == event.ToState {
			return false, nil
		}
	}
	f.store.nextEventID++
	event.ID = f.store.nextEventID
	f.store.events = append(f.store.events, *event)
	return true, nil
}

func (f *fakeEventRepo) ListUndispatched(ctx context.Context, limit int, maxAttempts int, opts ...utils.DBOption) ([]model.LifecycleEvent, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []model.LifecycleEvent
	for _, e := range f.store.events {
		if e.DispatchedAt.Valid {
			continue
		}
		if maxAttempts > 0 && e.DispatchAttempts >= maxAttempts {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeEventRepo) MarkDispatched(ctx context.Context, eventID uint, at time.Time, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for i := range f.store.events {
		if f.store.events[i].ID == eventID {
			f.store.events[i].DispatchedAt = sql.NullTime{Time: at, Valid: true}
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeEventRepo) IncrementDispatchAttempts(ctx context.Context, eventID uint, opts ...utils.DBOption) error {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	for i := range f.store.events {
		if f.store.events[i].ID == eventID {
			f.store.events[i].DispatchAttempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeEventRepo) ListBySurvey(ctx context.Context, surveyID uint, opts ...utils.DBOption) ([]model.LifecycleEvent, error) {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	var out []model.LifecycleEvent
	for _, e := range f.store.events {
		if e.SurveyID == surveyID {
			out = append(out, e)
		}
	}
	return out, nil
}

// fakeUOW runs the unit inline. The before hook lets a test interleave a
// concurrent edit with the transaction it is about to guard.
type fakeUOW struct {
	mu     sync.Mutex
	runs   int
	before func(run int)
}

func (u *fakeUOW) Run(fn func(opts ...utils.DBOption) error) error {
	u.mu.Lock()
	u.runs++
	run := u.runs
	before := u.before
	u.mu.Unlock()
	if before != nil {
		before(run)
	}
	return fn()
}

type fakeSink struct {
	mu      sync.Mutex
	emitted []string
	failFor map[string]error
}

func (s *fakeSink) Emit(ctx context.Context, event *model.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := event.IdempotencyKey()
	if err, ok := s.failFor[key]; ok {
		return err
	}
	s.emitted = append(s.emitted, key)
	return nil
}

func (s *fakeSink) emittedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.emitted))
	copy(out, s.emitted)
	return out
}

type fakeLifecycle struct {
	mu        sync.Mutex
	processed []uint
	errFor    map[uint]error
}

func (f *fakeLifecycle) Process(ctx context.Context, surveyID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processed = append(f.processed, surveyID)
	if err, ok := f.errFor[surveyID]; ok {
		return err
	}
	return nil
}

func (f *fakeLifecycle) processedIDs() []uint {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uint, len(f.processed))
	copy(out, f.processed)
	return out
}

func newLifecycleForTest(t *testing.T, now time.Time) (*lifecycleService, *memStore, *fakeClock, *fakeUOW) {
	t.Helper()
	store := newMemStore()
	clk := &fakeClock{now: now}
	uow := &fakeUOW{}
	svc := NewLifecycleService(newTestConfig(), newTestLogger(t), clk,
		&fakeScheduleRepo{store: store},
		&fakeSurveyRepo{store: store},
		&fakeEventRepo{store: store},
		uow)
	return svc, store, clk, uow
}

func newSchedulerForTest(t *testing.T, store *memStore, clk *fakeClock, lifecycle LifecycleService) *schedulerService {
	t.Helper()
	return NewSchedulerService(newTestConfig(), newTestLogger(t), clk,
		&fakeScheduleRepo{store: store},
		&fakeSurveyRepo{store: store},
		&fakeEventRepo{store: store},
		lifecycle)
}
