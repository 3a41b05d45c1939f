package model

import (
	"database/sql"
	"fmt"
	"time"
)

// LifecycleEvent records one state transition of one survey occurrence. The
// unique index over (survey_id, occurrence_index, to_state) is the
// idempotency key: re-applying the same transition inserts nothing.
//
// The table doubles as the outbox for the external event sink: rows with
// DispatchedAt unset are pending delivery. At is the intended transition
// instant (window boundary), EmittedAt the wall time the row was recorded;
// the two differ when the loop catches up after being offline.
type LifecycleEvent struct {
	ID               uint           `gorm:"primaryKey"`
	SurveyID         uint           `gorm:"not null;uniqueIndex:idx_lifecycle_events_idem"`
	OccurrenceIndex  int            `gorm:"not null;uniqueIndex:idx_lifecycle_events_idem"`
	FromState        LifecycleState `gorm:"type:varchar(20);not null"`
	ToState          LifecycleState `gorm:"type:varchar(20);not null;uniqueIndex:idx_lifecycle_events_idem"`
	At               time.Time      `gorm:"not null"`
	EmittedAt        time.Time      `gorm:"not null"`
	DispatchedAt     sql.NullTime
	DispatchAttempts int       `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"autoCreateTime"`
}

func (LifecycleEvent) TableName() string {
	return "lifecycle_events"
}

// IdempotencyKey is the deduplication key consumers use to suppress
// re-deliveries of the same transition.
func (e *LifecycleEvent) IdempotencyKey() string {
	return fmt.Sprintf("%d:%d:%s", e.SurveyID, e.OccurrenceIndex, e.ToState)
}
