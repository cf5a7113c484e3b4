package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TaskAssignment links an assignment-fee transaction to the charged task.
type TaskAssignment struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index"`
	TaskID        uuid.UUID `gorm:"column:task_id;type:uuid;not null;index"`
}

// BeforeCreate assigns the primary key when the row is built in Go.
func (a *TaskAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// TaskClosing links a closing-amount transaction to the completed task.
type TaskClosing struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index"`
	TaskID        uuid.UUID `gorm:"column:task_id;type:uuid;not null;index"`
}

// BeforeCreate assigns the primary key when the row is built in Go.
func (c *TaskClosing) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
