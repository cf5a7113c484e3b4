package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/crowdtasker/billing-backend/pkg/errors"
)

const accountCreatedSchema = `{
  "type": "object",
  "required": ["event_id", "event_name", "data"],
  "properties": {
    "event_name": {"const": "AccountCreated"},
    "data": {
      "type": "object",
      "required": ["public_id"],
      "properties": {
        "public_id": {"type": "string"}
      }
    }
  }
}`

func writeSchemaFile(t *testing.T, root, eventName, fileName, body string) {
	t.Helper()
	dir := filepath.Join(root, eventName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, fileName), []byte(body), 0o644))
}

func TestLoadRegistersEveryVersion(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "AccountCreated", "1.json", accountCreatedSchema)
	writeSchemaFile(t, dir, "AccountCreated", "2.json", accountCreatedSchema)
	writeSchemaFile(t, dir, "TaskAdded", "1.json", `{"type": "object"}`)

	registry, err := Load(dir)
	require.NoError(t, err)

	assert.True(t, registry.Has("AccountCreated", 1))
	assert.True(t, registry.Has("AccountCreated", 2))
	assert.True(t, registry.Has("TaskAdded", 1))
	assert.False(t, registry.Has("TaskAdded", 2))
	assert.False(t, registry.Has("AccountDeleted", 1))
}

func TestLoadRejectsNonNumericVersion(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "AccountCreated", "latest.json", accountCreatedSchema)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version must be numeric")
}

func TestLoadRejectsEmptyDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schemas found")
}

func TestValidateAcceptsConformingEnvelope(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "AccountCreated", "1.json", accountCreatedSchema)

	registry, err := Load(dir)
	require.NoError(t, err)

	envelope := map[string]any{
		"event_id":   "e-1",
		"event_name": "AccountCreated",
		"data":       map[string]any{"public_id": "acct-1"},
	}
	require.NoError(t, registry.Validate("AccountCreated", 1, envelope))
}

func TestValidateRejectsNonConformingEnvelope(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "AccountCreated", "1.json", accountCreatedSchema)

	registry, err := Load(dir)
	require.NoError(t, err)

	// data.public_id missing.
	envelope := map[string]any{
		"event_id":   "e-1",
		"event_name": "AccountCreated",
		"data":       map[string]any{},
	}
	err = registry.Validate("AccountCreated", 1, envelope)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}

func TestValidateFailsClosedForUnknownPair(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "AccountCreated", "1.json", accountCreatedSchema)

	registry, err := Load(dir)
	require.NoError(t, err)

	err = registry.Validate("AccountCreated", 9, map[string]any{})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeValidation))
}
