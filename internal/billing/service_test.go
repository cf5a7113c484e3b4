package billing

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	conn := setupBillingTestDB(t)
	service, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		DB:         dbpkg.NewWithConn(conn),
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service, conn
}

func TestInitializeAccountIsIdempotent(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()

	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	var accountCount, cycleCount int64
	require.NoError(t, conn.Model(&models.Account{}).Count(&accountCount).Error)
	require.NoError(t, conn.Model(&models.BillingCycle{}).Count(&cycleCount).Error)
	assert.Equal(t, int64(1), accountCount)
	assert.Equal(t, int64(1), cycleCount)

	var cycle models.BillingCycle
	require.NoError(t, conn.First(&cycle).Error)
	assert.Equal(t, enums.BillingCycleStatusOpen, cycle.Status)
	assert.False(t, cycle.BusinessDay.IsZero())
}

func TestInitializeAccountRequiresPublicID(t *testing.T) {
	service, _ := newTestService(t)

	err := service.InitializeAccount(context.Background(), "")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestBillingTransactionAppendsToOpenCycle(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	err := service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		transaction, err := scope.CreateTransaction(0, 1500, enums.TransactionTypeTaskAssignment)
		if err != nil {
			return err
		}
		assert.Equal(t, scope.BillingCycle.ID, transaction.BillingCycleID)
		assert.False(t, transaction.Date.IsZero())
		return nil
	})
	require.NoError(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.Transaction{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestBillingTransactionRejectsInvalidEntries(t *testing.T) {
	service, _ := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	err := service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		_, err := scope.CreateTransaction(-1, 0, enums.TransactionTypeTaskAssignment)
		return err
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))

	err = service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		_, err := scope.CreateTransaction(0, 10, enums.TransactionType("bogus"))
		return err
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestBillingTransactionWithoutOpenCycle(t *testing.T) {
	service, _ := newTestService(t)

	err := service.BillingTransaction(context.Background(), "ghost", func(scope *TransactionScope) error {
		t.Fatal("scope must not be reached")
		return nil
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeNotFound))
}

func TestBillingTransactionRollsBackOnHandlerError(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	boom := errors.New("downstream failure")
	err := service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		if _, err := scope.CreateTransaction(0, 999, enums.TransactionTypeTaskAssignment); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestCloseCurrentBillingCyclePaysPositiveBalance(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	entries := []struct {
		debit  int64
		credit int64
		txType enums.TransactionType
	}{
		{0, 1500, enums.TransactionTypeTaskAssignment},
		{0, 1500, enums.TransactionTypeTaskAssignment},
		{2000, 0, enums.TransactionTypeTaskClosing},
	}
	for _, entry := range entries {
		require.NoError(t, service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
			_, err := scope.CreateTransaction(entry.debit, entry.credit, entry.txType)
			return err
		}))
	}

	result, err := service.CloseCurrentBillingCycle(ctx, "acct-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1000), result.OwedDelta)
	assert.Equal(t, int64(0), result.Balance)
	require.NotNil(t, result.SettlementTransaction)
	assert.Equal(t, int64(1000), result.SettlementTransaction.Credit)
	assert.Equal(t, int64(0), result.SettlementTransaction.Debit)
	assert.Equal(t, enums.TransactionTypePayment, result.SettlementTransaction.Type)
	assert.Equal(t, result.ClosedCycle.ID, result.SettlementTransaction.BillingCycleID)
	require.NotNil(t, result.Payment)
	assert.Equal(t, enums.PaymentStatusPending, result.Payment.Status)
	require.NotNil(t, result.NewCycle)
	assert.NotEqual(t, result.ClosedCycle.ID, result.NewCycle.ID)

	var account models.Account
	require.NoError(t, conn.Where("public_id = ?", "acct-1").First(&account).Error)
	assert.Equal(t, int64(0), account.Balance)

	var openCycles int64
	require.NoError(t, conn.Model(&models.BillingCycle{}).
		Where("status = ?", enums.BillingCycleStatusOpen).
		Count(&openCycles).Error)
	assert.Equal(t, int64(1), openCycles)
}

func TestCloseCurrentBillingCycleCarriesNegativeBalance(t *testing.T) {
	service, conn := newTestService(t)
	ctx := context.Background()
	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))

	require.NoError(t, service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		_, err := scope.CreateTransaction(500, 0, enums.TransactionTypeTaskClosing)
		return err
	}))

	result, err := service.CloseCurrentBillingCycle(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(-500), result.OwedDelta)
	assert.Equal(t, int64(-500), result.Balance)
	assert.Nil(t, result.SettlementTransaction)
	assert.Nil(t, result.Payment)

	var payments int64
	require.NoError(t, conn.Model(&models.Payment{}).Count(&payments).Error)
	assert.Zero(t, payments)

	// The carried deficit offsets the next cycle's earnings.
	require.NoError(t, service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		_, err := scope.CreateTransaction(0, 800, enums.TransactionTypeTaskAssignment)
		return err
	}))
	next, err := service.CloseCurrentBillingCycle(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(800), next.OwedDelta)
	assert.Equal(t, int64(0), next.Balance)
	require.NotNil(t, next.SettlementTransaction)
	assert.Equal(t, int64(300), next.SettlementTransaction.Credit)
}

type paymentFailRepo struct {
	Repository
}

func (r *paymentFailRepo) WithTx(tx *gorm.DB) Repository {
	return &paymentFailRepo{Repository: r.Repository.WithTx(tx)}
}

func (r *paymentFailRepo) CreatePayment(ctx context.Context, payment *models.Payment) error {
	return errors.New("payments table unavailable")
}

func TestCloseCurrentBillingCycleIsAtomic(t *testing.T) {
	conn := setupBillingTestDB(t)
	service, err := NewService(ServiceParams{
		Repository: &paymentFailRepo{Repository: NewRepository(conn)},
		DB:         dbpkg.NewWithConn(conn),
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, service.InitializeAccount(ctx, "acct-1"))
	require.NoError(t, service.BillingTransaction(ctx, "acct-1", func(scope *TransactionScope) error {
		_, err := scope.CreateTransaction(0, 1200, enums.TransactionTypeTaskAssignment)
		return err
	}))

	_, err = service.CloseCurrentBillingCycle(ctx, "acct-1")
	require.Error(t, err)

	// Everything rolled back: the cycle is still open, no settlement entry,
	// no successor cycle, balance untouched.
	var cycles []models.BillingCycle
	require.NoError(t, conn.Find(&cycles).Error)
	require.Len(t, cycles, 1)
	assert.Equal(t, enums.BillingCycleStatusOpen, cycles[0].Status)

	var transactions int64
	require.NoError(t, conn.Model(&models.Transaction{}).Count(&transactions).Error)
	assert.Equal(t, int64(1), transactions)

	var account models.Account
	require.NoError(t, conn.Where("public_id = ?", "acct-1").First(&account).Error)
	assert.Equal(t, int64(0), account.Balance)
}
