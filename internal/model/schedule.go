package model

import (
	"database/sql"
	"time"
)

type RecurrenceType string

const (
	RecurrenceDaily   RecurrenceType = "daily"
	RecurrenceWeekly  RecurrenceType = "weekly"
	RecurrenceMonthly RecurrenceType = "monthly"
)

func (t RecurrenceType) Valid() bool {
	switch t {
	case RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	}
	return false
}

// RecurrenceRule describes how a survey's publish/close window repeats.
// EndDate is a civil date in the schedule's timezone: the last date on which
// a new occurrence may start. MaxOccurrences caps the series length. Either,
// both or neither may be set.
type RecurrenceRule struct {
	Type           RecurrenceType
	Interval       int
	EndDate        *time.Time
	MaxOccurrences *int
}

// ScheduleConfig is the per-survey schedule authored by the survey owner,
// plus the scheduler's own bookkeeping columns. PublishAt and CloseAt are
// absolute instants; Timezone names the IANA zone their civil time was
// authored in and in which recurrence boundaries are computed.
//
// ConfigVersion increments on every owner edit; transition application is
// guarded by it so work computed against a stale config is discarded.
// NextWakeAt is the due column the loop polls: NULL means "evaluate on the
// next sweep".
type ScheduleConfig struct {
	ID                 uint  `gorm:"primaryKey"`
	SurveyID           uint  `gorm:"not null;uniqueIndex"`
	Enabled            bool  `gorm:"not null;default:false"`
	PublishAt          *time.Time
	CloseAt            *time.Time
	Timezone           string         `gorm:"type:varchar(64);not null;default:'UTC'"`
	Recurring          bool           `gorm:"not null;default:false"`
	RecurrenceType     RecurrenceType `gorm:"type:varchar(10)"`
	RecurrenceInterval int            `gorm:"not null;default:1"`
	RecurrenceEndDate  *time.Time     `gorm:"type:date"`
	MaxOccurrences     *int
	ConfigVersion      int  `gorm:"not null;default:1"`
	IsActive           bool `gorm:"not null;default:true"`
	Errored            bool `gorm:"not null;default:false"`
	ErrorReason        sql.NullString `gorm:"type:text"`
	NextWakeAt         sql.NullTime
	LastEvaluatedAt    sql.NullTime
	RetryCount         int       `gorm:"not null;default:0"`
	CreatedAt          time.Time `gorm:"autoCreateTime"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime"`

	Survey Survey `gorm:"foreignKey:SurveyID;references:ID"`
}

func (ScheduleConfig) TableName() string {
	return "survey_schedules"
}

// Rule returns the recurrence rule, or nil when the schedule does not
// repeat. The rule is returned as stored; validation happens where the rule
// is expanded, so a bad row surfaces as a flagged configuration error.
func (c *ScheduleConfig) Rule() *RecurrenceRule {
	if !c.Recurring {
		return nil
	}
	return &RecurrenceRule{
		Type:           c.RecurrenceType,
		Interval:       c.RecurrenceInterval,
		EndDate:        c.RecurrenceEndDate,
		MaxOccurrences: c.MaxOccurrences,
	}
}

// CopyForOccurrence returns a fresh config for a newly materialized survey
// instance: same authored fields, reset bookkeeping.
func (c *ScheduleConfig) CopyForOccurrence(surveyID uint) *ScheduleConfig {
	return &ScheduleConfig{
		SurveyID:           surveyID,
		Enabled:            c.Enabled,
		PublishAt:          c.PublishAt,
		CloseAt:            c.CloseAt,
		Timezone:           c.Timezone,
		Recurring:          c.Recurring,
		RecurrenceType:     c.RecurrenceType,
		RecurrenceInterval: c.RecurrenceInterval,
		RecurrenceEndDate:  c.RecurrenceEndDate,
		MaxOccurrences:     c.MaxOccurrences,
		ConfigVersion:      1,
		IsActive:           true,
	}
}

type GetScheduleParam struct {
	SurveyIDs []uint `json:"survey_ids"`
	IsActive  *bool  `json:"is_active"`
	Errored   *bool  `json:"errored"`
	Limit     *int   `json:"limit"`
}
