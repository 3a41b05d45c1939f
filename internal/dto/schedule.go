package dto

import (
	"survey-scheduler/internal/model"
	"time"
)

// UpsertScheduleRequest is the schedule config as the survey owner writes
// it. Instants are RFC3339; the end date is a civil date resolved in the
// schedule's timezone.
type UpsertScheduleRequest struct {
	Enabled            bool       `json:"enabled"`
	PublishAt          *time.Time `json:"publish_at"`
	CloseAt            *time.Time `json:"close_at"`
	Timezone           string     `json:"timezone" validate:"required"`
	Recurring          bool       `json:"recurring"`
	RecurrenceType     string     `json:"recurrence_type" validate:"required_if=Recurring true,omitempty,oneof=daily weekly monthly"`
	RecurrenceInterval int        `json:"recurrence_interval" validate:"omitempty,min=1"`
	RecurrenceEndDate  *string    `json:"recurrence_end_date" validate:"omitempty,datetime=2006-01-02"`
	MaxOccurrences     *int       `json:"max_occurrences" validate:"omitempty,min=1"`
}

// ToModel maps the request onto a schedule config for the given survey.
// The interval defaults to one step when omitted.
func (r *UpsertScheduleRequest) ToModel(surveyID uint) (*model.ScheduleConfig, error) {
	interval := r.RecurrenceInterval
	if r.Recurring && interval == 0 {
		interval = 1
	}

	var endDate *time.Time
	if r.RecurrenceEndDate != nil {
		parsed, err := time.Parse("2006-01-02", *r.RecurrenceEndDate)
		if err != nil {
			return nil, err
		}
		endDate = &parsed
	}

	return &model.ScheduleConfig{
		SurveyID:           surveyID,
		Enabled:            r.Enabled,
		PublishAt:          r.PublishAt,
		CloseAt:            r.CloseAt,
		Timezone:           r.Timezone,
		Recurring:          r.Recurring,
		RecurrenceType:     model.RecurrenceType(r.RecurrenceType),
		RecurrenceInterval: interval,
		RecurrenceEndDate:  endDate,
		MaxOccurrences:     r.MaxOccurrences,
	}, nil
}

type ScheduleResponse struct {
	ID                 uint       `json:"id"`
	SurveyID           uint       `json:"survey_id"`
	Enabled            bool       `json:"enabled"`
	PublishAt          *time.Time `json:"publish_at,omitempty"`
	CloseAt            *time.Time `json:"close_at,omitempty"`
	Timezone           string     `json:"timezone"`
	Recurring          bool       `json:"recurring"`
	RecurrenceType     string     `json:"recurrence_type,omitempty"`
	RecurrenceInterval int        `json:"recurrence_interval,omitempty"`
	RecurrenceEndDate  *string    `json:"recurrence_end_date,omitempty"`
	MaxOccurrences     *int       `json:"max_occurrences,omitempty"`
	ConfigVersion      int        `json:"config_version"`
	IsActive           bool       `json:"is_active"`
	Errored            bool       `json:"errored"`
	ErrorReason        string     `json:"error_reason,omitempty"`
	NextWakeAt         *time.Time `json:"next_wake_at,omitempty"`
	LastEvaluatedAt    *time.Time `json:"last_evaluated_at,omitempty"`
	SurveyStatus       string     `json:"survey_status,omitempty"`
	OccurrenceIndex    int        `json:"occurrence_index"`
}

func NewScheduleResponse(cfg *model.ScheduleConfig) ScheduleResponse {
	resp := ScheduleResponse{
		ID:                 cfg.ID,
		SurveyID:           cfg.SurveyID,
		Enabled:            cfg.Enabled,
		PublishAt:          cfg.PublishAt,
		CloseAt:            cfg.CloseAt,
		Timezone:           cfg.Timezone,
		Recurring:          cfg.Recurring,
		RecurrenceType:     string(cfg.RecurrenceType),
		RecurrenceInterval: cfg.RecurrenceInterval,
		MaxOccurrences:     cfg.MaxOccurrences,
		ConfigVersion:      cfg.ConfigVersion,
		IsActive:           cfg.IsActive,
		Errored:            cfg.Errored,
	}
	if !cfg.Recurring {
		resp.RecurrenceType = ""
		resp.RecurrenceInterval = 0
	}
	if cfg.RecurrenceEndDate != nil {
		formatted := cfg.RecurrenceEndDate.Format("2006-01-02")
		resp.RecurrenceEndDate = &formatted
	}
	if cfg.ErrorReason.Valid {
		resp.ErrorReason = cfg.ErrorReason.String
	}
	if cfg.NextWakeAt.Valid {
		t := cfg.NextWakeAt.Time
		resp.NextWakeAt = &t
	}
	if cfg.LastEvaluatedAt.Valid {
		t := cfg.LastEvaluatedAt.Time
		resp.LastEvaluatedAt = &t
	}
	if cfg.Survey.ID != 0 {
		resp.SurveyStatus = string(cfg.Survey.Status)
		resp.OccurrenceIndex = cfg.Survey.OccurrenceIndex
	}
	return resp
}

func NewScheduleResponses(cfgs []model.ScheduleConfig) []ScheduleResponse {
	out := make([]ScheduleResponse, 0, len(cfgs))
	for i := range cfgs {
		out = append(out, NewScheduleResponse(&cfgs[i]))
	}
	return out
}

type EventResponse struct {
	ID              uint       `json:"id"`
	SurveyID        uint       `json:"survey_id"`
	OccurrenceIndex int        `json:"occurrence_index"`
	FromState       string     `json:"from_state"`
	ToState         string     `json:"to_state"`
	At              time.Time  `json:"at"`
	EmittedAt       time.Time  `json:"emitted_at"`
	DispatchedAt    *time.Time `json:"dispatched_at,omitempty"`
	IdempotencyKey  string     `json:"idempotency_key"`
}

func NewEventResponses(events []model.LifecycleEvent) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for i := range events {
		e := &events[i]
		resp := EventResponse{
			ID:              e.ID,
			SurveyID:        e.SurveyID,
			OccurrenceIndex: e.OccurrenceIndex,
			FromState:       string(e.FromState),
			ToState:         string(e.ToState),
			At:              e.At,
			EmittedAt:       e.EmittedAt,
			IdempotencyKey:  e.IdempotencyKey(),
		}
		if e.DispatchedAt.Valid {
			t := e.DispatchedAt.Time
			resp.DispatchedAt = &t
		}
		out = append(out, resp)
	}
	return out
}
