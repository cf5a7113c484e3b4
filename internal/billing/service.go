package billing

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	dbpkg "github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns the one-open-cycle-per-account invariant and the settlement
// close. All ledger writes for an account pass through a locked scope.
type Service struct {
	repo Repository
	db   TxRunner
	logg *logger.Logger
	now  func() time.Time
}

// ServiceParams configure the billing service.
type ServiceParams struct {
	Repository Repository
	DB         TxRunner
	Logger     *logger.Logger
}

// NewService wires a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo: params.Repository,
		db:   params.DB,
		logg: params.Logger,
		now:  time.Now,
	}, nil
}

// InitializeAccount gets-or-creates the account and its open billing cycle.
// Safe to call repeatedly and concurrently: insert races resolve through the
// unique indexes (public_id; one open cycle per account) and are treated as
// already-exists.
func (s *Service) InitializeAccount(ctx context.Context, accountPublicID string) error {
	if accountPublicID == "" {
		return apperrors.New(apperrors.CodeValidation, "account public id is required")
	}
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, err := repo.FindAccountByPublicID(ctx, accountPublicID)
		if err != nil {
			return fmt.Errorf("find account %s: %w", accountPublicID, err)
		}
		if account == nil {
			account = &models.Account{PublicID: accountPublicID}
			if err := repo.CreateAccount(ctx, account); err != nil {
				if !dbpkg.IsUniqueViolation(err, "accounts_public_id") {
					return fmt.Errorf("create account %s: %w", accountPublicID, err)
				}
				if account, err = repo.FindAccountByPublicID(ctx, accountPublicID); err != nil || account == nil {
					return fmt.Errorf("reload account %s after race: %w", accountPublicID, err)
				}
			}
		}

		cycle, err := repo.FindOpenCycle(ctx, account.ID)
		if err != nil {
			return fmt.Errorf("find open cycle for %s: %w", accountPublicID, err)
		}
		if cycle == nil {
			cycle = &models.BillingCycle{
				AccountID: account.ID,
				Status:    enums.BillingCycleStatusOpen,
			}
			if err := repo.CreateCycle(ctx, cycle); err != nil {
				if !dbpkg.IsUniqueViolation(err, "ux_billing_cycles_account_open") {
					return fmt.Errorf("open cycle for %s: %w", accountPublicID, err)
				}
				// A concurrent initializer won the race; the invariant holds.
			}
		}
		return nil
	})
}

// TransactionScope is the handle yielded inside a locked billing transaction.
// CreateTransaction is only reachable through this scope, so every ledger
// append happens under the open-cycle row lock.
type TransactionScope struct {
	Account      *models.Account
	BillingCycle *models.BillingCycle

	ctx  context.Context
	tx   *gorm.DB
	repo Repository
	now  func() time.Time
}

// DB exposes the scope's transaction so collaborating repositories can join
// the same unit of work.
func (sc *TransactionScope) DB() *gorm.DB {
	return sc.tx
}

// CreateTransaction appends an immutable ledger entry to the open cycle and
// returns it with identity assigned.
func (sc *TransactionScope) CreateTransaction(debit, credit int64, txType enums.TransactionType) (*models.Transaction, error) {
	if debit < 0 || credit < 0 {
		return nil, apperrors.New(apperrors.CodeValidation, "debit and credit must be non-negative")
	}
	if !txType.IsValid() {
		return nil, apperrors.New(apperrors.CodeValidation, fmt.Sprintf("invalid transaction type %q", txType))
	}
	transaction := &models.Transaction{
		BillingCycleID: sc.BillingCycle.ID,
		Date:           sc.now().UTC(),
		Debit:          debit,
		Credit:         credit,
		Type:           txType,
	}
	if err := sc.repo.CreateTransaction(sc.ctx, transaction); err != nil {
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return transaction, nil
}

// BillingTransaction opens a unit of work, locks the account's open cycle row,
// and runs fn with the scope. The lock is held until the scope exits; commit
// on nil error, rollback on error or panic.
func (s *Service) BillingTransaction(ctx context.Context, accountPublicID string, fn func(scope *TransactionScope) error) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		scope, err := s.lockScope(ctx, tx, accountPublicID)
		if err != nil {
			return err
		}
		return fn(scope)
	})
}

func (s *Service) lockScope(ctx context.Context, tx *gorm.DB, accountPublicID string) (*TransactionScope, error) {
	repo := s.repo.WithTx(tx)
	account, cycle, err := repo.LockOpenCycle(ctx, accountPublicID)
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Wrap(
				apperrors.CodeNotFound,
				err,
				fmt.Sprintf("no open billing cycle for account %s", accountPublicID),
			)
		}
		return nil, fmt.Errorf("lock open cycle for %s: %w", accountPublicID, err)
	}
	return &TransactionScope{
		Account:      account,
		BillingCycle: cycle,
		ctx:          ctx,
		tx:           tx,
		repo:         repo,
		now:          s.now,
	}, nil
}

// CloseResult reports what one settlement close produced.
type CloseResult struct {
	ClosedCycle           *models.BillingCycle
	NewCycle              *models.BillingCycle
	OwedDelta             int64
	Balance               int64
	SettlementTransaction *models.Transaction
	Payment               *models.Payment
}

// CloseCurrentBillingCycle settles the account's open cycle atomically: close
// it, open the successor, fold the cycle totals into the balance
// (owed_delta = credit - debit), and when the resulting balance is positive
// freeze it into a settlement transaction with a pending payment. Either every
// step commits or none do.
func (s *Service) CloseCurrentBillingCycle(ctx context.Context, accountPublicID string) (*CloseResult, error) {
	result := &CloseResult{}
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		scope, err := s.lockScope(ctx, tx, accountPublicID)
		if err != nil {
			return err
		}
		repo := s.repo.WithTx(tx)
		closingCycle := scope.BillingCycle

		closedAt := s.now().UTC()
		if err := repo.CloseCycle(ctx, closingCycle.ID, closedAt); err != nil {
			return fmt.Errorf("close cycle %s: %w", closingCycle.ID, err)
		}

		totals, err := repo.SumCycleTransactions(ctx, closingCycle.ID)
		if err != nil {
			return fmt.Errorf("sum cycle %s: %w", closingCycle.ID, err)
		}

		successor := &models.BillingCycle{
			AccountID: scope.Account.ID,
			Status:    enums.BillingCycleStatusOpen,
			OpenedAt:  closedAt,
		}
		if err := repo.CreateCycle(ctx, successor); err != nil {
			return fmt.Errorf("open successor cycle for %s: %w", accountPublicID, err)
		}

		owedDelta := totals.Credit - totals.Debit
		balance := scope.Account.Balance + owedDelta

		result.OwedDelta = owedDelta
		result.NewCycle = successor

		if balance > 0 {
			settlement := &models.Transaction{
				BillingCycleID: closingCycle.ID,
				Date:           closedAt,
				Debit:          0,
				Credit:         balance,
				Type:           enums.TransactionTypePayment,
			}
			if err := repo.CreateTransaction(ctx, settlement); err != nil {
				return fmt.Errorf("create settlement transaction: %w", err)
			}
			payment := &models.Payment{
				TransactionID: settlement.ID,
				Status:        enums.PaymentStatusPending,
			}
			if err := repo.CreatePayment(ctx, payment); err != nil {
				return fmt.Errorf("create pending payment: %w", err)
			}
			result.SettlementTransaction = settlement
			result.Payment = payment
			balance = 0
		}

		if err := repo.UpdateAccountBalance(ctx, scope.Account.ID, balance); err != nil {
			return fmt.Errorf("update balance for %s: %w", accountPublicID, err)
		}
		result.Balance = balance

		closingCycle.Status = enums.BillingCycleStatusClosed
		closingCycle.ClosedAt = &closedAt
		result.ClosedCycle = closingCycle
		return nil
	})
	if err != nil {
		return nil, err
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"account_id": accountPublicID,
		"owed_delta": result.OwedDelta,
		"paid_out":   result.Payment != nil,
	})
	s.logg.Info(logCtx, "billing cycle closed")
	return result, nil
}

// ListAccountPublicIDs returns every known account, oldest first.
func (s *Service) ListAccountPublicIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListAccountPublicIDs(ctx)
}
