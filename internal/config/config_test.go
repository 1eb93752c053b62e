package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/ds")
	cfg := Load()
	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, "/tmp/ds/submissions.db", cfg.DatabasePath)
	assert.Equal(t, 3, cfg.SubmissionConcurrency)
	assert.Equal(t, 3*time.Minute, cfg.AttemptTimeout)
	assert.Equal(t, 168*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 0, cfg.TaskMaxRetries)
	require.NoError(t, cfg.Validate())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SWEEP_INTERVAL", "72h")
	t.Setenv("SUBMISSION_CONCURRENCY", "5")
	t.Setenv("ATTEMPT_TIMEOUT", "not-a-duration")
	t.Setenv("AUTOMATION_DRIVER", "http")
	cfg := Load()
	assert.Equal(t, 72*time.Hour, cfg.SweepInterval)
	assert.Equal(t, 5, cfg.SubmissionConcurrency)
	assert.Equal(t, 3*time.Minute, cfg.AttemptTimeout)
	assert.Equal(t, "http", cfg.AutomationDriver)
}

func TestValidate(t *testing.T) {
	cfg := Load()
	cfg.SubmissionConcurrency = 0
	cfg.StaleGrace = time.Minute
	cfg.AutomationDriver = "selenium"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SUBMISSION_CONCURRENCY")
	assert.Contains(t, err.Error(), "STALE_GRACE must exceed ATTEMPT_TIMEOUT")
	assert.Contains(t, err.Error(), "AUTOMATION_DRIVER")
}
