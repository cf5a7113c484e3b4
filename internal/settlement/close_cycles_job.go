package settlement

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/crowdtasker/billing-backend/internal/billing"
	"github.com/crowdtasker/billing-backend/internal/cron"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// CycleCloser is the slice of the billing service the close job drives.
type CycleCloser interface {
	ListAccountPublicIDs(ctx context.Context) ([]string, error)
	CloseCurrentBillingCycle(ctx context.Context, accountPublicID string) (*billing.CloseResult, error)
}

// CloseCyclesJobParams configure the cycle close job.
type CloseCyclesJobParams struct {
	Logger *logger.Logger
	Closer CycleCloser
}

// NewCloseCyclesJob builds the job that settles every account's open cycle.
func NewCloseCyclesJob(params CloseCyclesJobParams) (cron.Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Closer == nil {
		return nil, fmt.Errorf("cycle closer required")
	}
	return &closeCyclesJob{
		logg:   params.Logger,
		closer: params.Closer,
	}, nil
}

type closeCyclesJob struct {
	logg   *logger.Logger
	closer CycleCloser
}

func (j *closeCyclesJob) Name() string { return "close-billing-cycles" }

// Run settles each account independently: one failing account is recorded and
// the loop moves on, so a poisoned row cannot block everyone's payday.
func (j *closeCyclesJob) Run(ctx context.Context) error {
	accounts, err := j.closer.ListAccountPublicIDs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}

	var (
		errs   []error
		closed int
	)
	for _, accountPublicID := range accounts {
		if _, err := j.closer.CloseCurrentBillingCycle(ctx, accountPublicID); err != nil {
			errs = append(errs, fmt.Errorf("close cycle for %s: %w", accountPublicID, err))
			continue
		}
		closed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"accounts": len(accounts),
		"closed":   closed,
		"failed":   len(errs),
	})
	j.logg.Info(logCtx, "billing cycle close loop complete")
	return multierr.Combine(errs...)
}
