package launcher

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDockerLauncherConfigValidation(t *testing.T) {
	_, err := NewDockerLauncher(DockerConfig{Port: 8087})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "image is required")

	_, err = NewDockerLauncher(DockerConfig{Image: "hyperspot-server:e2e"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port must be positive")
}

func TestDockerLauncherContainerNameIsRunScoped(t *testing.T) {
	l, err := NewDockerLauncher(DockerConfig{
		Image: "hyperspot-server:e2e",
		Port:  8087,
		RunID: "abc123",
		Log:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)
	assert.Equal(t, "hyperspot-e2e-abc123", l.containerName())
}

func TestDockerLauncherEngineUnavailable(t *testing.T) {
	collector := newTestCollector(t, "docker-engine")
	defer collector.Close()

	// A missing docker binary must surface as a launch-time runtime
	// failure, never as a health-check failure later on.
	l, err := NewDockerLauncher(DockerConfig{
		Binary: "/nonexistent/docker",
		Image:  "hyperspot-server:e2e",
		Port:   freePort(t),
		RunID:  "docker-engine",
		Log:    zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	_, err = l.Start(context.Background(), collector)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container runtime unavailable")
}

func TestDockerLauncherStopBeforeStart(t *testing.T) {
	l, err := NewDockerLauncher(DockerConfig{
		Image: "hyperspot-server:e2e",
		Port:  8087,
		RunID: "docker-noop",
		Log:   zap.NewNop().Sugar(),
	})
	require.NoError(t, err)

	// No container was created; stop is a no-op, twice.
	require.NoError(t, l.Stop(context.Background(), nil))
	require.NoError(t, l.Stop(context.Background(), nil))
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "abc", shortID("abc"))
	assert.Equal(t, "0123456789ab", shortID("0123456789abcdef0123"))
}
