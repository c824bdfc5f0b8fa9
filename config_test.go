package harness

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/flags"
	"github.com/hyperspot/e2e-harness/types"
)

// parseConfig runs NewConfig through a real cli invocation.
func parseConfig(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	var cfg *Config
	var cfgErr error

	app := cli.NewApp()
	app.Name = "hyperspot-e2e"
	app.Flags = flags.Flags
	app.Action = func(ctx *cli.Context) error {
		cfg, cfgErr = NewConfig(ctx, zap.NewNop().Sugar())
		return nil
	}
	require.NoError(t, app.Run(append([]string{"hyperspot-e2e"}, args...)))
	return cfg, cfgErr
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml")
	require.NoError(t, err)

	assert.Equal(t, types.ModeLocal, cfg.Mode)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:8087", cfg.BaseURL)
	assert.False(t, cfg.BaseURLSet)
	assert.Equal(t, 60*time.Second, cfg.HealthTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.HealthInterval)
	assert.Equal(t, 10*time.Second, cfg.GracePeriod)
	assert.True(t, cfg.RunOnce)
	assert.Equal(t, 50, cfg.LogTail)
	assert.True(t, filepath.IsAbs(cfg.TestDir))
	assert.True(t, filepath.IsAbs(cfg.ServiceDir))
	assert.True(t, filepath.IsAbs(cfg.SuiteManifest))
	assert.True(t, filepath.IsAbs(cfg.LogDir))
}

func TestNewConfig_MissingRequired(t *testing.T) {
	_, err := parseConfig(t, "--suites", "suites.yaml")
	require.ErrorContains(t, err, "testdir")

	_, err = parseConfig(t, "--testdir", "e2e")
	require.ErrorContains(t, err, "suites")
}

func TestNewConfig_DockerMode(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml", "--docker")
	require.NoError(t, err)

	assert.Equal(t, types.ModeDocker, cfg.Mode)
	assert.Equal(t, "http://127.0.0.1:8087", cfg.BaseURL)
}

func TestNewConfig_BaseURLOverride(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml",
		"--base-url", "http://10.0.0.5:9999")
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.5:9999", cfg.BaseURL)
	assert.True(t, cfg.BaseURLSet)
}

func TestNewConfig_BaseURLConflictsWithDocker(t *testing.T) {
	_, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml",
		"--docker", "--base-url", "http://10.0.0.5:9999")
	require.ErrorContains(t, err, "conflicts with --docker")
}

func TestNewConfig_PortOverride(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml", "--port", "9090")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "http://127.0.0.1:9090", cfg.BaseURL)

	_, err = parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml", "--port", "70000")
	require.ErrorContains(t, err, "out of range")
}

func TestNewConfig_HealthTimings(t *testing.T) {
	_, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml",
		"--health-interval", "2m", "--health-timeout", "1m")
	require.ErrorContains(t, err, "must be shorter than")

	_, err = parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml",
		"--health-timeout", "-1s")
	require.ErrorContains(t, err, "must be positive")
}

func TestNewConfig_RunInterval(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml",
		"--run-interval", "1h")
	require.NoError(t, err)
	assert.False(t, cfg.RunOnce)
	assert.Equal(t, time.Hour, cfg.RunInterval)
}

func TestNewConfig_Smoke(t *testing.T) {
	cfg, err := parseConfig(t, "--testdir", "e2e", "--suites", "suites.yaml", "--smoke")
	require.NoError(t, err)
	assert.True(t, cfg.Smoke)
}
