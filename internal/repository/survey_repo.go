package repository

import (
	"context"
	"survey-scheduler/internal/model"
	"survey-scheduler/pkg/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type SurveyRepository interface {
	FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.Survey, error)
	SetStatus(ctx context.Context, surveyID uint, status model.LifecycleState, opts ...utils.DBOption) error
	Create(ctx context.Context, survey *model.Survey, opts ...utils.DBOption) error
	FindByTemplateAndIndex(ctx context.Context, templateID uint, occurrenceIndex int, opts ...utils.DBOption) (*model.Survey, error)
}

type surveyRepository struct {
	db *gorm.DB
}

func NewSurveyRepository(db *gorm.DB) SurveyRepository {
	return &surveyRepository{db: db}
}

func (r *surveyRepository) FindByID(ctx context.Context, id uint, opts ...utils.DBOption) (*model.Survey, error) {
	var survey model.Survey
	if err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).First(&survey, id).Error; err != nil {
		return nil, err
	}
	return &survey, nil
}

func (r *surveyRepository) SetStatus(ctx context.Context, surveyID uint, status model.LifecycleState, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Model(&model.Survey{}).
		Where("id = ?", surveyID).
		Update("status", status).Error
}

// Create inserts a survey instance. Materialized occurrences carry a
// (template, occurrence index) pair under a unique index; a conflicting
// insert is dropped and leaves survey.ID zero, which callers resolve with
// FindByTemplateAndIndex. That makes materialization safe to repeat.
func (r *surveyRepository) Create(ctx context.Context, survey *model.Survey, opts ...utils.DBOption) error {
	return utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "template_id"}, {Name: "occurrence_index"}},
			DoNothing: true,
		}).
		Create(survey).Error
}

func (r *surveyRepository) FindByTemplateAndIndex(ctx context.Context, templateID uint, occurrenceIndex int, opts ...utils.DBOption) (*model.Survey, error) {
	var survey model.Survey
	err := utils.ApplyOptions(r.db.WithContext(ctx), opts...).
		Where("template_id = ? AND occurrence_index = ?", templateID, occurrenceIndex).
		First(&survey).Error
	if err != nil {
		return nil, err
	}
	return &survey, nil
}
