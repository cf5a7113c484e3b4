package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/pkg/enums"
)

// BillingCycle is a bounded accumulation period for one account's ledger
// entries. A partial unique index on (account_id) WHERE status='open' enforces
// at most one open cycle per account.
type BillingCycle struct {
	ID          uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID                `gorm:"column:account_id;type:uuid;not null;index"`
	Status      enums.BillingCycleStatus `gorm:"column:status;type:billing_cycle_status;not null;default:'open'"`
	BusinessDay time.Time                `gorm:"column:business_day;type:date;not null"`
	OpenedAt    time.Time                `gorm:"column:opened_at;not null"`
	ClosedAt    *time.Time               `gorm:"column:closed_at"`
}

// BeforeCreate assigns the primary key and default timestamps.
func (c *BillingCycle) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.OpenedAt.IsZero() {
		c.OpenedAt = time.Now().UTC()
	}
	if c.BusinessDay.IsZero() {
		c.BusinessDay = c.OpenedAt.Truncate(24 * time.Hour)
	}
	return nil
}
