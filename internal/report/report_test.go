package report

import (
	"encoding/json"
	"os"
	"testing"

	"polyflow-registrar/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	attempts := []models.RegistrationAttempt{
		{Email: "a@example.com", Success: true, Token: "tok-a"},
		{Email: "b@example.com", Success: false, Error: "verification code never arrived"},
		{Email: "c@example.com", Success: true, Token: "tok-c"},
	}

	r := Build(attempts)

	assert.Equal(t, 3, r.TotalProcessed)
	assert.Equal(t, 2, r.SuccessfulCount)
	assert.Equal(t, 1, r.FailedCount)
	assert.Equal(t, "66.7%", r.SuccessRate)
	assert.False(t, r.Timestamp.IsZero())
}

func TestBuild_Empty(t *testing.T) {
	r := Build(nil)
	assert.Equal(t, 0, r.TotalProcessed)
	assert.Equal(t, "0%", r.SuccessRate)
}

func TestWrite(t *testing.T) {
	dir := t.TempDir()
	r := Build([]models.RegistrationAttempt{
		{Email: "a@example.com", Success: true, Token: "tok-a"},
	})

	path, err := r.Write(dir)
	require.NoError(t, err)
	assert.Contains(t, path, "batch_report_")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var parsed BatchReport
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, 1, parsed.TotalProcessed)
	assert.Equal(t, "100.0%", parsed.SuccessRate)
	require.Len(t, parsed.Attempts, 1)
	assert.Equal(t, "a@example.com", parsed.Attempts[0].Email)
}
