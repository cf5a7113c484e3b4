package projection

import (
	"context"
	"fmt"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbpkg "github.com/crowdtasker/billing-backend/pkg/db"
	"github.com/crowdtasker/billing-backend/pkg/db/models"
	"github.com/crowdtasker/billing-backend/pkg/enums"
	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
	"github.com/crowdtasker/billing-backend/pkg/logger"
)

func setupProjectionTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	statements := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
  id TEXT PRIMARY KEY,
  public_id TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL DEFAULT '',
  full_name TEXT NOT NULL DEFAULT '',
  role TEXT,
  balance INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  public_id TEXT NOT NULL UNIQUE,
  description TEXT NOT NULL DEFAULT '',
  assignment_cost INTEGER,
  closing_cost INTEGER,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range statements {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type fakeInitializer struct {
	initialized []string
}

func (f *fakeInitializer) InitializeAccount(ctx context.Context, accountPublicID string) error {
	f.initialized = append(f.initialized, accountPublicID)
	return nil
}

func newTestProjection(t *testing.T) (*Service, *fakeInitializer, *gorm.DB) {
	t.Helper()

	conn := setupProjectionTestDB(t)
	initializer := &fakeInitializer{}
	service, err := NewService(ServiceParams{
		Repository: NewRepository(conn),
		DB:         dbpkg.NewWithConn(conn),
		Billing:    initializer,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	})
	require.NoError(t, err)
	return service, initializer, conn
}

func TestApplyAccountUpsertConvergesOnRedelivery(t *testing.T) {
	service, _, conn := newTestProjection(t)
	ctx := context.Background()

	upsert := AccountUpsert{
		PublicID: "acct-1",
		Email:    "worker@example.com",
		FullName: "Jordan Worker",
		Role:     "worker",
	}
	require.NoError(t, service.ApplyAccountUpsert(ctx, upsert))
	require.NoError(t, service.ApplyAccountUpsert(ctx, upsert))

	var count int64
	require.NoError(t, conn.Model(&models.Account{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	var account models.Account
	require.NoError(t, conn.Where("public_id = ?", "acct-1").First(&account).Error)
	assert.Equal(t, "worker@example.com", account.Email)
	require.NotNil(t, account.Role)
	assert.Equal(t, enums.AccountRoleWorker, *account.Role)
}

func TestApplyAccountUpsertKeepsMissingFields(t *testing.T) {
	service, _, conn := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, service.ApplyAccountUpsert(ctx, AccountUpsert{
		PublicID: "acct-1",
		Email:    "worker@example.com",
		FullName: "Jordan Worker",
	}))
	// A later event without email keeps the stored one.
	require.NoError(t, service.ApplyAccountUpsert(ctx, AccountUpsert{
		PublicID: "acct-1",
		FullName: "Jordan W.",
	}))

	var account models.Account
	require.NoError(t, conn.Where("public_id = ?", "acct-1").First(&account).Error)
	assert.Equal(t, "worker@example.com", account.Email)
	assert.Equal(t, "Jordan W.", account.FullName)
}

func TestApplyAccountUpsertRejectsUnknownRole(t *testing.T) {
	service, _, _ := newTestProjection(t)

	err := service.ApplyAccountUpsert(context.Background(), AccountUpsert{
		PublicID: "acct-1",
		Role:     "astronaut",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestApplyRoleChangeProvisionsWorkers(t *testing.T) {
	service, initializer, conn := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, service.ApplyRoleChange(ctx, "acct-1", "worker"))
	assert.Equal(t, []string{"acct-1"}, initializer.initialized)

	var account models.Account
	require.NoError(t, conn.Where("public_id = ?", "acct-1").First(&account).Error)
	require.NotNil(t, account.Role)
	assert.Equal(t, enums.AccountRoleWorker, *account.Role)

	// Managers do not get billing cycles.
	require.NoError(t, service.ApplyRoleChange(ctx, "acct-2", "manager"))
	assert.Equal(t, []string{"acct-1"}, initializer.initialized)
}

func TestApplyTaskUpsert(t *testing.T) {
	service, _, conn := newTestProjection(t)
	ctx := context.Background()

	require.NoError(t, service.ApplyTaskUpsert(ctx, "task-1", "Fix the boiler\nIt leaks"))

	var task models.Task
	require.NoError(t, conn.Where("public_id = ?", "task-1").First(&task).Error)
	assert.Equal(t, "Fix the boiler\nIt leaks", task.Description)

	require.NoError(t, service.ApplyTaskUpsert(ctx, "task-1", "[JIRA-7] Fix the boiler\nStill leaks"))
	require.NoError(t, conn.Where("public_id = ?", "task-1").First(&task).Error)
	assert.Equal(t, "[JIRA-7] Fix the boiler\nStill leaks", task.Description)

	var count int64
	require.NoError(t, conn.Model(&models.Task{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}
