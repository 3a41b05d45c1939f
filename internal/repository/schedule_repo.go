package repository

import (
	"context"
	"database/sql"
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/utils"
	"time"

	"gorm.io/gorm"
)

type ScheduleRepository interface {
	FindDue(ctx context.Context, now time.Time, limit int, opts ...utils.DBOption) ([]model.ScheduleConfig, error)
	Get(ctx context.Context, param *model.GetScheduleParam, opts ...utils.DBOption) ([]model.ScheduleConfig, error)
	GetBySurveyID(ctx context.Context, surveyID uint, opts ...utils.DBOption) (*model.ScheduleConfig, error)
	Create(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error
	Save(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error
	UpdateIfVersion(ctx context.Context, scheduleID uint, version int, fields map[string]interface{}, opts ...utils.DBOption) (bool, error)
	NextWakeTime(ctx context.Context, opts ...utils.DBOption) (*time.Time, error)
	MarkErrored(ctx context.Context, scheduleID uint, reason string, opts ...utils.DBOption) error
	Deactivate(ctx context.Context, scheduleID uint, opts ...utils.DBOption) error
	ScheduleRetry(ctx context.Context, scheduleID uint, at time.Time, opts ...utils.DBOption) error
}

type scheduleRepository struct {
	db *gorm.DB
}

func NewScheduleRepository(db *gorm.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

// FindDue returns enabled, active, non-errored schedules whose wake instant
// has arrived. A NULL wake instant means the schedule has never been
// evaluated and is always due.
func (r *scheduleRepository) FindDue(ctx context.Context, now time.Time, limit int, opts ...utils.DBOption) ([]model.ScheduleConfig, error) {
	var schedules []model.ScheduleConfig
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("enabled = ? AND is_active = ? AND errored = ?", true, true, false).
		Where("next_wake_at IS NULL OR next_wake_at <= ?", now).
		Order("next_wake_at ASC NULLS FIRST")
	if limit > 0 {
		db = db.Limit(limit)
	}
	if err := db.Preload("Survey").Find(&schedules).Error; err != nil {
		return nil, err
	}
	return schedules, nil
}

func (r *scheduleRepository) Get(ctx context.Context, param *model.GetScheduleParam, opts ...utils.DBOption) ([]model.ScheduleConfig, error) {
	var schedules []model.ScheduleConfig
	db := utils.ApplyOptions(r.db.WithContext(ctx), opts...).Model(&model.ScheduleConfig{})
	if len(param.SurveyIDs) > 0 {
		db = db.Where("survey_id IN ?", param.SurveyIDs)
	}
	if param.IsActive != nil {
		db = db.Where("is_active = ?", *param.IsActive)
	}
	if param.Errored != nil {
		db = db.Where("errored = ?", *param.Errored)
	}
	if param.Limit != nil {
		db = db.Limit(*param.Limit)
	}
	result := db.Preload("Survey").Order("survey_id ASC").Find(&schedules)
	if result.Error != nil {
		if result.Error == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, result.Error
	}
	return schedules, nil
}

func (r *scheduleRepository) GetBySurveyID(ctx context.Context, surveyID uint, opts ...utils.DBOption) (*model.ScheduleConfig, error) {
	var cfg model.ScheduleConfig
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("survey_id = ?", surveyID).
		First(&cfg).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *scheduleRepository) Create(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Create(cfg).Error
}

func (r *scheduleRepository) Save(ctx context.Context, cfg *model.ScheduleConfig, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).Save(cfg).Error
}

// UpdateIfVersion applies fields only while the schedule still carries the
// given config version. A false return means an owner edit landed in between
// and the caller's computed work is stale.
func (r *scheduleRepository) UpdateIfVersion(ctx context.Context, scheduleID uint, version int, fields map[string]interface{}, opts ...utils.DBOption) (bool, error) {
	result := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.ScheduleConfig{}).
		Where("id = ? AND config_version = ?", scheduleID, version).
		Updates(fields)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// NextWakeTime returns the earliest wake instant across all runnable
// schedules, or nil when nothing is waiting.
func (r *scheduleRepository) NextWakeTime(ctx context.Context, opts ...utils.DBOption) (*time.Time, error) {
	var next sql.NullTime
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.ScheduleConfig{}).
		Where("enabled = ? AND is_active = ? AND errored = ?", true, true, false).
		Where("next_wake_at IS NOT NULL").
		Select("MIN(next_wake_at)").
		Scan(&next).Error
	if err != nil {
		return nil, err
	}
	if !next.Valid {
		return nil, nil
	}
	return &next.Time, nil
}

func (r *scheduleRepository) MarkErrored(ctx context.Context, scheduleID uint, reason string, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.ScheduleConfig{}).
		Where("id = ?", scheduleID).
		Updates(map[string]interface{}{
			"errored":      true,
			"error_reason": reason,
			"next_wake_at": nil,
		}).Error
}

// Deactivate retires a schedule whose survey reached its terminal state. The
// row is kept for the ops surface; the sweep stops selecting it.
func (r *scheduleRepository) Deactivate(ctx context.Context, scheduleID uint, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.ScheduleConfig{}).
		Where("id = ?", scheduleID).
		Updates(map[string]interface{}{
			"is_active":    false,
			"next_wake_at": nil,
		}).Error
}

func (r *scheduleRepository) ScheduleRetry(ctx context.Context, scheduleID uint, at time.Time, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.ScheduleConfig{}).
		Where("id = ?", scheduleID).
		Updates(map[string]interface{}{
			"next_wake_at": at,
			"retry_count":  gorm.Expr("retry_count + 1"),
		}).Error
}
