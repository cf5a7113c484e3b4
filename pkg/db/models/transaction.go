package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/pkg/enums"
)

// Transaction is one immutable debit/credit entry scoped to a billing cycle.
// Credit increases what is owed to the account, debit decreases it.
type Transaction struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;primaryKey"`
	PublicID       uuid.UUID             `gorm:"column:public_id;type:uuid;not null;unique"`
	BillingCycleID uuid.UUID             `gorm:"column:billing_cycle_id;type:uuid;not null;index"`
	Date           time.Time             `gorm:"column:date;not null"`
	Debit          int64                 `gorm:"column:debit;not null"`
	Credit         int64                 `gorm:"column:credit;not null"`
	Type           enums.TransactionType `gorm:"column:type;type:transaction_type;not null"`
}

// BeforeCreate assigns identities and the entry timestamp.
func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.PublicID == uuid.Nil {
		t.PublicID = uuid.New()
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	return nil
}
