package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("AUTOGRADER_JWT_SECRET", "secret")
	t.Setenv("AUTOGRADER_APP_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, "autograder", cfg.EventsPrefix)
	require.Equal(t, 10*time.Minute, cfg.FeedbackCacheTTL)
	require.Equal(t, 5, cfg.SubmissionRateLimit)
	require.Equal(t, time.Minute, cfg.SubmissionRateWindow)
	require.Equal(t, 10*time.Second, cfg.ExecutionTimeout)
	require.Equal(t, "python:3.11-alpine", cfg.GraderImage)
	require.Equal(t, time.Minute, cfg.GraderSweepInterval)
}

func TestLoadReadsOverrides(t *testing.T) {
	t.Setenv("AUTOGRADER_JWT_SECRET", "secret")
	t.Setenv("AUTOGRADER_FEEDBACK_CACHE_TTL", "30s")
	t.Setenv("AUTOGRADER_SUBMISSION_RATE_LIMIT", "2")
	t.Setenv("AUTOGRADER_NATS_URL", "nats://localhost:4222")
	t.Setenv("AUTOGRADER_GRADER_SWEEP_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 30*time.Second, cfg.FeedbackCacheTTL)
	require.Equal(t, 2, cfg.SubmissionRateLimit)
	require.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	require.Equal(t, 15*time.Second, cfg.GraderSweepInterval)
}

func TestLoadRequiresSecretAndValidDurations(t *testing.T) {
	t.Setenv("AUTOGRADER_JWT_SECRET", "")
	_, err := Load()
	require.Error(t, err)

	t.Setenv("AUTOGRADER_JWT_SECRET", "secret")
	t.Setenv("AUTOGRADER_FEEDBACK_CACHE_TTL", "soon")
	_, err = Load()
	require.Error(t, err)
}
