package pricing

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/crowdtasker/billing-backend/pkg/db/models"
)

// Repository manages task prices and the links between ledger entries and
// tasks.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindTaskByPublicID(ctx context.Context, publicID string) (*models.Task, error)
	CreateTask(ctx context.Context, task *models.Task) error
	SaveTask(ctx context.Context, task *models.Task) error
	CreateTaskAssignment(ctx context.Context, link *models.TaskAssignment) error
	CreateTaskClosing(ctx context.Context, link *models.TaskClosing) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a pricing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
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

func (r *repository) CreateTaskAssignment(ctx context.Context, link *models.TaskAssignment) error {
	return r.db.WithContext(ctx).Create(link).Error
}

func (r *repository) CreateTaskClosing(ctx context.Context, link *models.TaskClosing) error {
	return r.db.WithContext(ctx).Create(link).Error
}
