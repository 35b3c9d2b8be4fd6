package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_CONFIG_NAME", "missing")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, EnvDev, c.Env)
	assert.Equal(t, 8888, c.Server.Port)
	assert.Equal(t, 10, c.Quota.FreeGamesPerMonth)
	assert.Equal(t, 100, c.Scheduler.BatchSize)
	assert.Equal(t, 10*time.Minute, c.Scheduler.JobTimeout)
	assert.True(t, c.Scheduler.Enabled)
	assert.False(t, c.Email.Enabled())
}

func TestNewFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	file := filepath.Join(dir, "app.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
env: prod
quota:
  free_games_per_month: 3
scheduler:
  timezone: Europe/Paris
  jobs:
    dispatch-notifications:
      spec: "*/5 * * * *"
    sync-subscriptions:
      disabled: true
`), 0o600))
	t.Setenv("APP_CONFIG_FILE", file)
	t.Setenv("APP_STRIPE_WEBHOOK_SECRET", "whsec_test")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, EnvProd, c.Env)
	assert.Equal(t, 3, c.Quota.FreeGamesPerMonth)
	assert.Equal(t, "whsec_test", c.Stripe.WebhookSecret)
	assert.Equal(t, "*/5 * * * *", c.Scheduler.Jobs["dispatch-notifications"].Spec)
	assert.True(t, c.Scheduler.Jobs["sync-subscriptions"].Disabled)
	assert.Equal(t, "Europe/Paris", c.Scheduler.Location().String())
}

func TestSchedulerLocationFallback(t *testing.T) {
	assert.Equal(t, time.UTC, SchedulerConfig{}.Location())
	assert.Equal(t, time.UTC, SchedulerConfig{Timezone: "Not/AZone"}.Location())
}
