package repository

import (
	"context"
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/utils"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type LifecycleEventRepository interface {
	Record(ctx context.Context, event *model.LifecycleEvent, opts ...utils.DBOption) (bool, error)
	ListUndispatched(ctx context.Context, limit int, maxAttempts int, opts ...utils.DBOption) ([]model.LifecycleEvent, error)
	MarkDispatched(ctx context.Context, eventID uint, at time.Time, opts ...utils.DBOption) error
	IncrementDispatchAttempts(ctx context.Context, eventID uint, opts ...utils.DBOption) error
	ListBySurvey(ctx context.Context, surveyID uint, opts ...utils.DBOption) ([]model.LifecycleEvent, error)
}

type lifecycleEventRepository struct {
	db *gorm.DB
}

func NewLifecycleEventRepository(db *gorm.DB) LifecycleEventRepository {
	return &lifecycleEventRepository{db: db}
}

// Record inserts a transition event. The insert is dropped when the same
// (survey, occurrence, target state) was already recorded; the return value
// reports whether this call actually wrote the row.
func (r *lifecycleEventRepository) Record(ctx context.Context, event *model.LifecycleEvent, opts ...utils.DBOption) (bool, error) {
	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "survey_id"}, {Name: "occurrence_index"}, {Name: "to_state"}},
			DoNothing: true,
		}).
		Create(event)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *lifecycleEventRepository) ListUndispatched(ctx context.Context, limit int, maxAttempts int, opts ...utils.DBOption) ([]model.LifecycleEvent, error) {
	var events []model.LifecycleEvent
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("dispatched_at IS NULL")
	if maxAttempts > 0 {
		db = db.Where("dispatch_attempts < ?", maxAttempts)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Order("id ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *lifecycleEventRepository) MarkDispatched(ctx context.Context, eventID uint, at time.Time, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.LifecycleEvent{}).
		Where("id = ?", eventID).
		Update("dispatched_at", at).Error
}

func (r *lifecycleEventRepository) IncrementDispatchAttempts(ctx context.Context, eventID uint, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.LifecycleEvent{}).
		Where("id = ?", eventID).
		Update("dispatch_attempts", gorm.Expr("dispatch_attempts + 1")).Error
}

// ListBySurvey returns a survey's transition history in application order.
// Rows are keyed monotonically, so id order is rank order per occurrence.
func (r *lifecycleEventRepository) ListBySurvey(ctx context.Context, surveyID uint, opts ...utils.DBOption) ([]model.LifecycleEvent, error) {
	var events []model.LifecycleEvent
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("survey_id = ?", surveyID).
		Order("id ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
