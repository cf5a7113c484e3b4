package projection

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/pkg/db/models"
)

// Repository mirrors upstream account/task facts into the local read models.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindAccountByPublicID(ctx context.Context, publicID string) (*models.Account, error)
	CreateAccount(ctx context.Context, account *models.Account) error
	SaveAccount(ctx context.Context, account *models.Account) error
	FindTaskByPublicID(ctx context.Context, publicID string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	SaveTask(ctx context.Context, task *models.Task) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a projection repository bound to the provided database.
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

func (r *repository) SaveAccount(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *repository) FindTaskByPublicID(ctx context.Context, publicID string) (*models.Task, error) {
	var task models.Task
	if err := r.db.WithContext(ctx).
		Where("public_id = ?", publicID).
		First(&task).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &task, nil
}

func (r *repository) CreateTask(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *repository) SaveTask(ctx context.Context, task *models.Task) error {
	return r.db.WithContext(ctx).Save(task).Error
}
