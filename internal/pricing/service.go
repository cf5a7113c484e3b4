package pricing

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/internal/billing"
	dbpkg "github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
	"github.com/crowdtasker/billing-backend/pkg/events/payloads"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

// Price bounds in cents. Every task rolls an assignment fee and a closing
// reward inside these ranges, once, at first sight.
const (
	assignmentCostMin = 1000
	assignmentCostMax = 2000
	closingCostMin    = 2000
	closingCostMax    = 4000
)

// TxRunner executes a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BillingScope is the slice of the billing service pricing needs: account
// provisioning plus the locked ledger scope.
type BillingScope interface {
	InitializeAccount(ctx context.Context, accountPublicID string) error
	BillingTransaction(ctx context.Context, accountPublicID string, fn func(scope *billing.TransactionScope) error) error
}

// EventSender publishes a validated domain event. Satisfied by the events
// producer.
type EventSender interface {
	Send(ctx context.Context, topic, eventName string, version int, data any) error
}

// Service assigns task prices and books the fees they imply against worker
// accounts.
type Service struct {
	repo    Repository
	db      TxRunner
	billing BillingScope
	sender  EventSender
	logg    *logger.Logger

	transactionsTopic string
	taskPriceTopic    string

	// randCost picks a price in [min, max]; swapped out in tests.
	randCost func(min, max int64) int64
}

// ServiceParams configure the pricing service.
type ServiceParams struct {
	Repository        Repository
	DB                TxRunner
	Billing           BillingScope
	Sender            EventSender
	Logger            *logger.Logger
	TransactionsTopic string
	TaskPriceTopic    string
}

// NewService wires a pricing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("pricing repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Billing == nil {
		return nil, fmt.Errorf("billing scope required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("event sender required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.TransactionsTopic == "" || params.TaskPriceTopic == "" {
		return nil, fmt.Errorf("transactions and task price topics required")
	}
	return &Service{
		repo:              params.Repository,
		db:                params.DB,
		billing:           params.Billing,
		sender:            params.Sender,
		logg:              params.Logger,
		transactionsTopic: params.TransactionsTopic,
		taskPriceTopic:    params.TaskPriceTopic,
		randCost: func(min, max int64) int64 {
			return min + rand.Int64N(max-min+1)
		},
	}, nil
}

// PriceTask gets-or-creates the task and rolls its two costs if either is
// still unassigned. Prices stick: repeated calls never re-roll, and
// TaskPriceCreated is emitted only on the call that actually priced the task.
func (s *Service) PriceTask(ctx context.Context, taskPublicID string) (*models.Task, error) {
	if taskPublicID == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "task public id is required")
	}

	var (
		task   *models.Task
		priced bool
	)
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		found, err := repo.FindTaskByPublicID(ctx, taskPublicID)
		if err != nil {
			return fmt.Errorf("find task %s: %w", taskPublicID, err)
		}
		if found == nil {
			found = &models.Task{PublicID: taskPublicID}
			s.rollCosts(found)
			if err := repo.CreateTask(ctx, found); err != nil {
				if !dbpkg.IsUniqueViolation(err, "tasks_public_id") {
					return fmt.Errorf("create task %s: %w", taskPublicID, err)
				}
				if found, err = repo.FindTaskByPublicID(ctx, taskPublicID); err != nil || found == nil {
					return fmt.Errorf("reload task %s after race: %w", taskPublicID, err)
				}
			} else {
				task, priced = found, true
				return nil
			}
		}

		if found.IsNotPriced() {
			s.rollCosts(found)
			if err := repo.SaveTask(ctx, found); err != nil {
				return fmt.Errorf("save task prices %s: %w", taskPublicID, err)
			}
			priced = true
		}
		task = found
		return nil
	})
	if err != nil {
		return nil, err
	}

	if priced {
		data := payloads.TaskPriceCreatedData{
			PublicID:       task.PublicID,
			Task:           task.PublicID,
			AssignmentCost: *task.AssignmentCost,
			ClosingCost:    *task.ClosingCost,
		}
		if err := s.sender.Send(ctx, s.taskPriceTopic, payloads.TaskPriceCreated, 1, data); err != nil {
			return nil, fmt.Errorf("announce task price %s: %w", taskPublicID, err)
		}
	}
	return task, nil
}

func (s *Service) rollCosts(task *models.Task) {
	if task.AssignmentCost == nil {
		cost := s.randCost(assignmentCostMin, assignmentCostMax)
		task.AssignmentCost = &cost
	}
	if task.ClosingCost == nil {
		cost := s.randCost(closingCostMin, closingCostMax)
		task.ClosingCost = &cost
	}
}

// ChargeAssignmentFee books the task's assignment cost against the worker's
// open cycle. Prices the task and provisions the account first, so an
// assignment for a never-seen task or account still books.
func (s *Service) ChargeAssignmentFee(ctx context.Context, taskPublicID, accountPublicID string) error {
	return s.bookFee(ctx, taskPublicID, accountPublicID, enums.TransactionTypeTaskAssignment)
}

// AssessClosingAmount books the task's closing cost against the worker's open
// cycle.
func (s *Service) AssessClosingAmount(ctx context.Context, taskPublicID, accountPublicID string) error {
	return s.bookFee(ctx, taskPublicID, accountPublicID, enums.TransactionTypeTaskClosing)
}

func (s *Service) bookFee(ctx context.Context, taskPublicID, accountPublicID string, txType enums.TransactionType) error {
	if accountPublicID == "" {
		return apperrors.New(apperrors.CodeValidation, "account public id is required")
	}

	task, err := s.PriceTask(ctx, taskPublicID)
	if err != nil {
		return err
	}
	if err := s.billing.InitializeAccount(ctx, accountPublicID); err != nil {
		return err
	}

	var completed payloads.BillingTransactionCompletedData
	err = s.billing.BillingTransaction(ctx, accountPublicID, func(scope *billing.TransactionScope) error {
		var (
			transaction *models.Transaction
			err         error
		)
		repo := s.repo.WithTx(scope.DB())

		switch txType {
		case enums.TransactionTypeTaskAssignment:
			transaction, err = scope.CreateTransaction(0, *task.AssignmentCost, txType)
			if err != nil {
				return err
			}
			err = repo.CreateTaskAssignment(ctx, &models.TaskAssignment{
				TransactionID: transaction.ID,
				TaskID:        task.ID,
			})
		case enums.TransactionTypeTaskClosing:
			transaction, err = scope.CreateTransaction(*task.ClosingCost, 0, txType)
			if err != nil {
				return err
			}
			err = repo.CreateTaskClosing(ctx, &models.TaskClosing{
				TransactionID: transaction.ID,
				TaskID:        task.ID,
			})
		default:
			return apperrors.New(apperrors.CodeValidation, fmt.Sprintf("unsupported fee type %q", txType))
		}
		if err != nil {
			return fmt.Errorf("link %s transaction to task %s: %w", txType, taskPublicID, err)
		}

		completed = payloads.BillingTransactionCompletedData{
			PublicID:    transaction.PublicID.String(),
			Date:        transaction.Date.UTC().Format(time.RFC3339Nano),
			BusinessDay: scope.BillingCycle.BusinessDay.Format("2006-01-02"),
			Account:     scope.Account.PublicID,
			Debit:       transaction.Debit,
			Credit:      transaction.Credit,
			Details: payloads.BillingTransactionDetails{
				Type: txType.String(),
				Task: task.PublicID,
			},
		}
		return nil
	})
	if err != nil {
		return err
	}

	if err := s.sender.Send(ctx, s.transactionsTopic, payloads.BillingTransactionCompleted, 1, completed); err != nil {
		return fmt.Errorf("announce %s for task %s: %w", txType, taskPublicID, err)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"account_id": accountPublicID,
		"task_id":    taskPublicID,
		"type":       txType.String(),
	})
	s.logg.Info(logCtx, "fee booked")
	return nil
}
