package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/pkg/enums"
)

// Account mirrors an upstream identity into the local ledger read model.
// Balance is kept in minor currency units (cents).
type Account struct {
	ID        uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	PublicID  string             `gorm:"column:public_id;not null;unique"`
	Email     string             `gorm:"column:email;not null;default:''"`
	FullName  string             `gorm:"column:full_name;not null;default:''"`
	Role      *enums.AccountRole `gorm:"column:role;type:account_role"`
	Balance   int64              `gorm:"column:balance;not null;default:0"`
	CreatedAt time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns the primary key when the row is built in Go.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
