package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	values map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{values: make(map[string]string)}
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := m.values[key]; exists {
		return false, nil
	}
	m.values[key] = value.(string)
	return true, nil
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	value, ok := m.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

func TestRedisLockAcquireIsExclusive(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	first, err := NewRedisLock(store, "billing:test:lock", time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, "billing:test:lock", time.Minute)
	require.NoError(t, err)

	locked, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, locked)

	require.NoError(t, first.Release(ctx))

	locked, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestRedisLockReleaseOnlyByOwner(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	holder, err := NewRedisLock(store, "billing:test:lock", time.Minute)
	require.NoError(t, err)
	bystander, err := NewRedisLock(store, "billing:test:lock", time.Minute)
	require.NoError(t, err)

	locked, err := holder.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, locked)

	// Never acquired, so releasing is a no-op.
	require.NoError(t, bystander.Release(ctx))
	_, exists := store.values["billing:test:lock"]
	assert.True(t, exists)

	// Releasing after the key expired and someone else took it must not
	// delete the new owner's lock.
	store.values["billing:test:lock"] = "someone-else"
	require.NoError(t, holder.Release(ctx))
	assert.Equal(t, "someone-else", store.values["billing:test:lock"])
}

func TestNewRedisLockValidatesParams(t *testing.T) {
	_, err := NewRedisLock(nil, "key", time.Minute)
	require.Error(t, err)

	_, err = NewRedisLock(newMemoryStore(), "", time.Minute)
	require.Error(t, err)
}
