package tokenstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"polyflow-registrar/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	require.NoError(t, store.Append("alice@example.com", "tok-one", 1717257600))
	require.NoError(t, store.Append("bob@example.com", "tok-two", 0))

	raw, err := os.ReadFile(filepath.Join(dir, "tokens.txt"))
	require.NoError(t, err)
	content := string(raw)

	assert.Equal(t, 1, strings.Count(content, "# Registration tokens"), "header written exactly once")
	assert.Contains(t, content, "alice@example.com|tok-one|2024-06-01 16:00:00 UTC")
	assert.Contains(t, content, "bob@example.com|tok-two|Unknown")

	info, err := os.Stat(filepath.Join(dir, "tokens.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "token file must not be world readable")
}

func TestWriteDetail(t *testing.T) {
	dir := t.TempDir()
	store := New(dir)

	attempt := models.RegistrationAttempt{
		Email:       "alice@example.com",
		TraceID:     "trace-123",
		Success:     true,
		Token:       "tok-one",
		RequestedAt: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2024, 6, 1, 12, 1, 0, 0, time.UTC),
	}
	loginResponse := json.RawMessage(`{"success":true,"msg":{"token":"tok-one"}}`)

	require.NoError(t, store.WriteDetail(attempt, loginResponse))

	entries, err := os.ReadDir(filepath.Join(dir, "tokens_detailed"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "alice_example_com_"), "email must be filesystem-safe: %s", name)

	raw, err := os.ReadFile(filepath.Join(dir, "tokens_detailed", name))
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "alice@example.com", doc["email"])
	assert.Equal(t, "trace-123", doc["trace_id"])
	assert.Equal(t, "polyflow.tech", doc["site"])
	assert.NotNil(t, doc["login_response"])
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "a_b_example_com", safeName("a.b@example.com"))
	assert.NotContains(t, safeName("x/../../etc@passwd.d"), "/")
}
