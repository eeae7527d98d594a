package costconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoader_DefaultsOnly(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.Equal(t, "fail_closed", cfg.Budget.FailureMode)
	require.Equal(t, 5*time.Minute, cfg.Policy.ReloadInterval)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: redis
  redis_addr: redis.internal:6379
budget:
  failure_mode: fail_open
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, "redis", cfg.Store.Backend)
	require.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr)
	require.Equal(t, "fail_open", cfg.Budget.FailureMode)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: redis
`), 0o644))

	t.Setenv("COSTGUARD_STORE_BACKEND", "memory")
	t.Setenv("COSTGUARD_METRICS_INCLUDE_RUN_ID", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Store.Backend)
	require.True(t, cfg.Metrics.IncludeRunID)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Store.Backend, cfg.Store.Backend)
}

func TestLoader_InvalidEnumRejected(t *testing.T) {
	t.Setenv("COSTGUARD_STORE_BACKEND", "sqlite")
	_, err := NewLoader().Load()
	require.Error(t, err)
}
