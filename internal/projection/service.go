package projection

import (
	"context"
	"fmt"

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

// BillingInitializer provisions the billing side of an account. Satisfied by
// the billing service.
type BillingInitializer interface {
	InitializeAccount(ctx context.Context, accountPublicID string) error
}

// Service keeps local account and task replicas in step with the upstream
// streams. All writes are upserts keyed on public id, so replayed or
// duplicated events converge instead of erroring.
type Service struct {
	repo    Repository
	db      TxRunner
	billing BillingInitializer
	logg    *logger.Logger
}

// ServiceParams configure the projection service.
type ServiceParams struct {
	Repository Repository
	DB         TxRunner
	Billing    BillingInitializer
	Logger     *logger.Logger
}

// NewService wires a projection service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("projection repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing initializer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{
		repo:    params.Repository,
		db:      params.DB,
		billing: params.Billing,
		logg:    params.Logger,
	}, nil
}

// AccountUpsert carries the replicated account fields. Empty strings mean the
// event did not carry the field and the stored value is kept.
type AccountUpsert struct {
	PublicID string
	Email    string
	FullName string
	Role     string
}

// ApplyAccountUpsert creates or refreshes the local account replica.
func (s *Service) ApplyAccountUpsert(ctx context.Context, upsert AccountUpsert) error {
	if upsert.PublicID == "" {
		return apperrors.New(apperrors.CodeValidation, "account public id is required")
	}

	var role *enums.AccountRole
	if upsert.Role != "" {
		parsed, err := enums.ParseAccountRole(upsert.Role)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeValidation, err, "invalid account role")
		}
		role = &parsed
	}

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		account, err := repo.FindAccountByPublicID(ctx, upsert.PublicID)
		if err != nil {
			return fmt.Errorf("find account %s: %w", upsert.PublicID, err)
		}
		if account == nil {
			account = &models.Account{PublicID: upsert.PublicID}
			applyAccountFields(account, upsert, role)
			if err := repo.CreateAccount(ctx, account); err != nil {
				if !dbpkg.IsUniqueViolation(err, "accounts_public_id") {
					return fmt.Errorf("create account %s: %w", upsert.PublicID, err)
				}
				if account, err = repo.FindAccountByPublicID(ctx, upsert.PublicID); err != nil || account == nil {
					return fmt.Errorf("reload account %s after race: %w", upsert.PublicID, err)
				}
			} else {
				return nil
			}
		}

		applyAccountFields(account, upsert, role)
		if err := repo.SaveAccount(ctx, account); err != nil {
			return fmt.Errorf("save account %s: %w", upsert.PublicID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logCtx := s.logg.WithAccountID(ctx, upsert.PublicID)
	s.logg.Info(logCtx, "account replica upserted")
	return nil
}

func applyAccountFields(account *models.Account, upsert AccountUpsert, role *enums.AccountRole) {
	if upsert.Email != "" {
		account.Email = upsert.Email
	}
	if upsert.FullName != "" {
		account.FullName = upsert.FullName
	}
	if role != nil {
		account.Role = role
	}
}

// ApplyRoleChange records the account's new role and, when the account becomes
// a worker, provisions its billing cycle so fees can land immediately.
func (s *Service) ApplyRoleChange(ctx context.Context, accountPublicID, role string) error {
	if err := s.ApplyAccountUpsert(ctx, AccountUpsert{PublicID: accountPublicID, Role: role}); err != nil {
		return err
	}
	parsed, err := enums.ParseAccountRole(role)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeValidation, err, "invalid account role")
	}
	if parsed == enums.AccountRoleWorker {
		if err := s.billing.InitializeAccount(ctx, accountPublicID); err != nil {
			return fmt.Errorf("initialize billing for %s: %w", accountPublicID, err)
		}
	}
	return nil
}

// ApplyTaskUpsert creates or refreshes the local task replica with the
// already-rendered description.
func (s *Service) ApplyTaskUpsert(ctx context.Context, taskPublicID, description string) error {
	if taskPublicID == "" {
		return apperrors.New(apperrors.CodeValidation, "task public id is required")
	}

	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		task, err := repo.FindTaskByPublicID(ctx, taskPublicID)
		if err != nil {
			return fmt.Errorf("find task %s: %w", taskPublicID, err)
		}
		if task == nil {
			task = &models.Task{PublicID: taskPublicID, Description: description}
			if err := repo.CreateTask(ctx, task); err != nil {
				if !dbpkg.IsUniqueViolation(err, "tasks_public_id") {
					return fmt.Errorf("create task %s: %w", taskPublicID, err)
				}
				if task, err = repo.FindTaskByPublicID(ctx, taskPublicID); err != nil || task == nil {
					return fmt.Errorf("reload task %s after race: %w", taskPublicID, err)
				}
			} else {
				return nil
			}
		}

		task.Description = description
		if err := repo.SaveTask(ctx, task); err != nil {
			return fmt.Errorf("save task %s: %w", taskPublicID, err)
		}
		return nil
	})
}
