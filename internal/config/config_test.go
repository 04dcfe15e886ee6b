package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "api", cfg.Mode)
	assert.Equal(t, "0.0.0.0:8080", cfg.ListenAddr())
	assert.Equal(t, 10*time.Minute, cfg.AutomationPollInterval)
	assert.Equal(t, 30*time.Second, cfg.CampaignPollInterval)
	assert.Equal(t, time.Minute, cfg.SchedulePollInterval)
	assert.Equal(t, 30*24*time.Hour, cfg.TrialDuration)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("COVERDESK_MODE", "worker")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("AUTOMATION_POLL_INTERVAL", "5m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "worker", cfg.Mode)
	assert.Equal(t, "0.0.0.0:9090", cfg.ListenAddr())
	assert.Equal(t, 5*time.Minute, cfg.AutomationPollInterval)
}
