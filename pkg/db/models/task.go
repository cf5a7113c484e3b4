package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task mirrors upstream task facts plus the costs assigned by pricing.
// Both costs stay null until the task is priced exactly once.
type Task struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	PublicID       string    `gorm:"column:public_id;not null;unique"`
	Description    string    `gorm:"column:description;not null;default:''"`
	AssignmentCost *int64    `gorm:"column:assignment_cost"`
	ClosingCost    *int64    `gorm:"column:closing_cost"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// IsNotPriced reports whether any of the two costs is still unassigned.
func (t *Task) IsNotPriced() bool {
	return t.AssignmentCost == nil || t.ClosingCost == nil
}

// BeforeCreate assigns the primary key when the row is built in Go.
func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
