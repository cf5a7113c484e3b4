package settlement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
)

// PendingPayment is one payable settlement row with everything the payout
// needs: the frozen transaction, its cycle, and the account being paid.
type PendingPayment struct {
	Payment      models.Payment
	Transaction  models.Transaction
	BillingCycle models.BillingCycle
	Account      models.Account
}

// Repository manages payout rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListPendingPaymentIDs(ctx context.Context) ([]uuid.UUID, error)
	LockPendingPayment(ctx context.Context, paymentID uuid.UUID) (*PendingPayment, error)
	CompletePayment(ctx context.Context, paymentID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a settlement repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) ListPendingPaymentIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("status = ?", enums.PaymentStatusPending).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// LockPendingPayment takes an exclusive lock on the payment row and loads its
// transaction, cycle, and account. Returns nil when the payment is gone or no
// longer pending, which happens when a concurrent run already paid it.
func (r *repository) LockPendingPayment(ctx context.Context, paymentID uuid.UUID) (*PendingPayment, error) {
	query := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", paymentID, enums.PaymentStatusPending)
	// SQLite (tests) rejects FOR UPDATE; its writers serialize on the database
	// handle instead.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var row PendingPayment
	if err := query.First(&row.Payment).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("id = ?", row.Payment.TransactionID).
		First(&row.Transaction).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("id = ?", row.Transaction.BillingCycleID).
		First(&row.BillingCycle).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("id = ?", row.BillingCycle.AccountID).
		First(&row.Account).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (r *repository) CompletePayment(ctx context.Context, paymentID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ?", paymentID).
		Update("status", enums.PaymentStatusCompleted).Error
}
