package settlement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/internal/cron"
	"github.com/crowdtasker/billing-backend/pkg/enums"
	"github.com/crowdtasker/billing-backend/pkg/events/payloads"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// EventSender publishes a validated domain event.
type EventSender interface {
	Send(ctx context.Context, topic, eventName string, version int, data any) error
}

// PayPaymentsJobParams configure the payout job.
type PayPaymentsJobParams struct {
	Logger            *logger.Logger
	DB                TxRunner
	Repository        Repository
	Sender            EventSender
	TransactionsTopic string
}

// NewPayPaymentsJob builds the job that completes pending payouts and
// announces them downstream.
func NewPayPaymentsJob(params PayPaymentsJobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("settlement repository required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("event sender required")
	}
	if params.TransactionsTopic == "" {
		return nil, fmt.Errorf("transactions topic required")
	}
	return &payPaymentsJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repository,
		sender: params.Sender,
		topic:  params.TransactionsTopic,
	}, nil
}

type payPaymentsJob struct {
	logg   *logger.Logger
	db     TxRunner
	repo   Repository
	sender EventSender
	topic  string
}

func (j *payPaymentsJob) Name() string { return "pay-pending-payments" }

// Run pays each pending payment in its own transaction under a row lock, so a
// concurrent run skips rows this one already settled. The completion event is
// published only after the status flip commits; a crash between the two
// re-announces on the next run at worst, which downstream consumers absorb by
// keying on the transaction public id.
func (j *payPaymentsJob) Run(ctx context.Context) error {
	ids, err := j.repo.ListPendingPaymentIDs(ctx)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}

	var (
		errs []error
		paid int
	)
	for _, paymentID := range ids {
		if err := j.payOne(ctx, paymentID); err != nil {
			errs = append(errs, fmt.Errorf("pay %s: %w", paymentID, err))
			continue
		}
		paid++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending": len(ids),
		"paid":    paid,
		"failed":  len(errs),
	})
	j.logg.Info(logCtx, "payout loop complete")
	return multierr.Combine(errs...)
}

func (j *payPaymentsJob) payOne(ctx context.Context, paymentID uuid.UUID) error {
	var completed *payloads.BillingTransactionCompletedData
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)

		row, err := repo.LockPendingPayment(ctx, paymentID)
		if err != nil {
			return fmt.Errorf("lock payment: %w", err)
		}
		if row == nil {
			return nil
		}

		amount := decimal.NewFromInt(row.Transaction.Credit - row.Transaction.Debit).
			Div(decimal.NewFromInt(100))
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"account_id":  row.Account.PublicID,
			"amount":      amount.StringFixed(2),
			"cycle_open":  row.BillingCycle.OpenedAt,
			"cycle_close": row.BillingCycle.ClosedAt,
		})
		j.logg.Info(logCtx, "paying settlement")

		if err := repo.CompletePayment(ctx, row.Payment.ID); err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}

		completed = &payloads.BillingTransactionCompletedData{
			PublicID:    row.Transaction.PublicID.String(),
			Date:        row.Transaction.Date.UTC().Format(time.RFC3339Nano),
			BusinessDay: row.BillingCycle.BusinessDay.Format("2006-01-02"),
			Account:     row.Account.PublicID,
			Debit:       row.Transaction.Debit,
			Credit:      row.Transaction.Credit,
			Details: payloads.BillingTransactionDetails{
				Type: enums.TransactionTypePayment.String(),
			},
		}
		return nil
	})
	if err != nil {
		return err
	}
	if completed == nil {
		return nil
	}
	return j.sender.Send(ctx, j.topic, payloads.BillingTransactionCompleted, 1, *completed)
}
