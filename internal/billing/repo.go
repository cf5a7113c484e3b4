package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
)

// CycleTotals aggregates the ledger entries of one cycle.
type CycleTotals struct {
	Debit  int64
	Credit int64
}

// Repository manages persistence for accounts, cycles, and ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	ListAccountPublicIDs(ctx context.Context) ([]string, error)
	UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64) error
	FindOpenCycle(ctx context.Context, accountID uuid.UUID) (*models.BillingCycle, error)
	CreateCycle(ctx context.Context, cycle *models.BillingCycle) error
	LockOpenCycle(ctx context.Context, accountPublicID string) (*models.Account, *models.BillingCycle, error)
	CloseCycle(ctx context.Context, cycleID uuid.UUID, closedAt time.Time) error
	SumCycleTransactions(ctx context.Context, cycleID uuid.UUID) (CycleTotals, error)
	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("public_id = ?", publicID).
		First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

func (r *repository) CreateAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *repository) ListAccountPublicIDs(ctx context.Context) ([]string, error) {
	var publicIDs []string
	if err := r.db.WithContext(ctx).
		Model(&models.Account{}).
		Order("created_at ASC").
		Pluck("public_id", &publicIDs).Error; err != nil {
		return nil, err
	}
	return publicIDs, nil
}

func (r *repository) UpdateAccountBalance(ctx context.Context, accountID uuid.UUID, balance int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("balance", balance).Error
}

func (r *repository) FindOpenCycle(ctx context.Context, accountID uuid.UUID) (*models.BillingCycle, error) {
	var cycle models.BillingCycle
	if err := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", accountID, enums.BillingCycleStatusOpen).
		First(&cycle).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cycle, nil
}

func (r *repository) CreateCycle(ctx context.Context, cycle *models.BillingCycle) error {
	return r.db.WithContext(ctx).Create(cycle).Error
}

// LockOpenCycle resolves the account by public id and takes an exclusive lock
// on its open cycle row for the rest of the transaction. Every concurrent
// ledger writer for the account serializes here.
func (r *repository) LockOpenCycle(ctx context.Context, accountPublicID string) (*models.Account, *models.BillingCycle, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).
		Where("public_id = ?", accountPublicID).
		First(&account).Error; err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Where("account_id = ? AND status = ?", account.ID, enums.BillingCycleStatusOpen)
	// SQLite (tests) rejects FOR UPDATE; its writers serialize on the database
	// handle instead.
	if r.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var cycle models.BillingCycle
	if err := query.First(&cycle).Error; err != nil {
		return nil, nil, err
	}
	return &account, &cycle, nil
}

func (r *repository) CloseCycle(ctx context.Context, cycleID uuid.UUID, closedAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.BillingCycle{}).
		Where("id = ?", cycleID).
		Updates(map[string]any{
			"status":    enums.BillingCycleStatusClosed,
			"closed_at": closedAt,
		}).Error
}

func (r *repository) SumCycleTransactions(ctx context.Context, cycleID uuid.UUID) (CycleTotals, error) {
	var totals CycleTotals
	if err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("COALESCE(SUM(debit), 0) AS debit, COALESCE(SUM(credit), 0) AS credit").
		Where("billing_cycle_id = ?", cycleID).
		Scan(&totals).Error; err != nil {
		return CycleTotals{}, err
	}
	return totals, nil
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}
