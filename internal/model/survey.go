package model

import (
	"time"

	"gorm.io/datatypes"
)

// Survey is one concrete survey instance. A recurring survey is a chain of
// rows sharing the same TemplateID, one per occurrence; the root of the chain
// has TemplateID = nil and occurrence index 0. The unique index on
// (template_id, occurrence_index) is what makes occurrence materialization
// exactly-once.
type Survey struct {
	ID              uint           `gorm:"primaryKey"`
	TemplateID      *uint          `gorm:"uniqueIndex:idx_surveys_template_occurrence"`
	OwnerID         uint           `gorm:"not null;index"`
	Title           string         `gorm:"type:varchar(255);not null"`
	Description     string         `gorm:"type:text"`
	Questions       datatypes.JSON `gorm:"type:jsonb"`
	Status          LifecycleState `gorm:"type:varchar(20);not null;default:'draft'"`
	OccurrenceIndex int            `gorm:"not null;default:0;uniqueIndex:idx_surveys_template_occurrence"`
	CreatedAt       time.Time      `gorm:"autoCreateTime"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime"`

	Schedule *ScheduleConfig `gorm:"foreignKey:SurveyID"`
}

func (Survey) TableName() string {
	return "surveys"
}

// RootID is the id of the chain's template survey. For the root itself that
// is its own id.
func (s *Survey) RootID() uint {
	if s.TemplateID != nil {
		return *s.TemplateID
	}
	return s.ID
}
