package harness

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/logging"
	"github.com/hyperspot/e2e-harness/runner"
	"github.com/hyperspot/e2e-harness/types"
)

// stubScheduler satisfies CycleScheduler without running any cycles.
type stubScheduler struct {
	startErr   error
	stopped    bool
	registered func() error
}

func (s *stubScheduler) Start(ctx context.Context) error       { return s.startErr }
func (s *stubScheduler) Stop() error                           { s.stopped = true; return nil }
func (s *stubScheduler) RegisterCallback(cb func() error)      { s.registered = cb }
func (s *stubScheduler) WaitForShutdown(context.Context) error { return nil }
func (s *stubScheduler) Stopped() bool                         { return s.stopped }

// newTestConfig builds a minimal valid local-mode config backed by a real
// service module dir and suite manifest.
func newTestConfig(t *testing.T) *Config {
	t.Helper()

	serviceDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(serviceDir, "go.mod"),
		[]byte("module example.com/hyperspot-server\n\ngo 1.22\n"), 0644))

	manifest := filepath.Join(t.TempDir(), "suites.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
suites:
  - id: smoke
    smoke: true
    tests:
      - name: TestHealthz
        package: ./suites/smoke
`), 0644))

	return &Config{
		Mode:           types.ModeLocal,
		BaseURL:        "http://127.0.0.1:8087",
		Port:           8087,
		HealthTimeout:  5 * time.Second,
		HealthInterval: 100 * time.Millisecond,
		GracePeriod:    time.Second,
		ServiceDir:     serviceDir,
		TestDir:        t.TempDir(),
		SuiteManifest:  manifest,
		GoBinary:       "sh", // resolvable on PATH, never invoked by these tests
		LogDir:         t.TempDir(),
		LogTail:        10,
		RunOnce:        true,
		Log:            zap.NewNop().Sugar(),
	}
}

// writeServiceArtifact installs a stand-in server binary that prints its
// boot lines and stays alive until terminated.
func writeServiceArtifact(t *testing.T, serviceDir string, lines ...string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "echo %q\n", line)
	}
	b.WriteString("exec sleep 30\n")
	require.NoError(t, os.WriteFile(filepath.Join(serviceDir, BinaryName), []byte(b.String()), 0755))
}

// writeFakeGoTool writes a shell script that mimics go test -json by
// emitting canned event lines and exiting with the given status.
func writeFakeGoTool(t *testing.T, jsonOutput string, exitCode int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "go")
	script := fmt.Sprintf("#!/bin/sh\ncat <<'EOF'\n%sEOF\nexit %d\n", jsonOutput, exitCode)
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

const healthzSuiteOutput = `{"Time":"2026-01-01T00:00:00Z","Action":"start","Package":"pkg"}
{"Time":"2026-01-01T00:00:01Z","Action":"run","Package":"pkg","Test":"TestHealthz"}
{"Time":"2026-01-01T00:00:02Z","Action":"pass","Package":"pkg","Test":"TestHealthz","Elapsed":1}
{"Time":"2026-01-01T00:00:02Z","Action":"pass","Package":"pkg","Elapsed":2}
`

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

// readRunLog locates the single run directory under logDir and reads the
// named sink file.
func readRunLog(t *testing.T, logDir, name string) string {
	t.Helper()
	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	content, err := os.ReadFile(filepath.Join(logDir, entries[0].Name(), name))
	require.NoError(t, err)
	return string(content)
}

func TestNew_NilConfig(t *testing.T) {
	_, err := New(context.Background(), nil, "test", func(error) {})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_ValidLocalConfig(t *testing.T) {
	cfg := newTestConfig(t)
	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.NotNil(t, h.registry)
}

func TestNew_MissingServiceModule(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.ServiceDir = t.TempDir() // no go.mod

	_, err := New(context.Background(), cfg, "test", func(error) {})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_MissingManifest(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.SuiteManifest = filepath.Join(t.TempDir(), "absent.yaml")

	_, err := New(context.Background(), cfg, "test", func(error) {})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestNew_MissingDockerPrerequisites(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Mode = types.ModeDocker
	cfg.DockerBinary = "/nonexistent/docker"

	_, err := New(context.Background(), cfg, "test", func(error) {})
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestStart_RunOnceTestFailure(t *testing.T) {
	cfg := newTestConfig(t)
	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	h.scheduler = &stubScheduler{}
	h.result = &runner.RunnerResult{
		Status:   types.TestStatusFail,
		ExitCode: 1,
	}

	err = h.Start(context.Background())
	require.Error(t, err)

	var testErr *TestFailureError
	require.ErrorAs(t, err, &testErr)
	assert.Equal(t, 1, testErr.ExitCode)
	assert.False(t, IsHarnessError(err))
}

func TestStart_RunOncePropagatesRunnerExitCode(t *testing.T) {
	cfg := newTestConfig(t)
	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	h.scheduler = &stubScheduler{}
	h.result = &runner.RunnerResult{
		Status:   types.TestStatusFail,
		ExitCode: 2, // go test exited 2; propagated verbatim
	}

	err = h.Start(context.Background())
	var testErr *TestFailureError
	require.ErrorAs(t, err, &testErr)
	assert.Equal(t, 2, testErr.ExitCode)
}

func TestStart_RunOnceSuccessTriggersShutdown(t *testing.T) {
	cfg := newTestConfig(t)

	shutdownCh := make(chan struct{})
	h, err := New(context.Background(), cfg, "test", func(error) { close(shutdownCh) })
	require.NoError(t, err)

	h.scheduler = &stubScheduler{}
	h.result = &runner.RunnerResult{Status: types.TestStatusPass}

	require.NoError(t, h.Start(context.Background()))

	select {
	case <-shutdownCh:
	case <-time.After(time.Second):
		t.Fatal("shutdown callback never invoked")
	}
}

func TestStart_HarnessErrorKeepsType(t *testing.T) {
	cfg := newTestConfig(t)
	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	h.scheduler = &stubScheduler{startErr: NewBuildError(assert.AnError, "compiler output")}

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsBuildError(err))
	assert.True(t, IsHarnessError(err))
}

func TestRunCycle_HealthyInstanceFullLifecycle(t *testing.T) {
	cfg := newTestConfig(t)

	healthz := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthz.Close()

	writeServiceArtifact(t, cfg.ServiceDir, "server listening")
	cfg.SkipBuild = true
	cfg.Port = freePort(t)
	cfg.BaseURL = healthz.URL
	cfg.BaseURLSet = true
	cfg.GoBinary = writeFakeGoTool(t, healthzSuiteOutput, 0)

	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	require.NoError(t, h.Start(context.Background()))

	require.NotNil(t, h.Result())
	assert.Equal(t, types.TestStatusPass, h.Result().Status)
	assert.Equal(t, 0, h.Result().ExitCode)

	// The instance's output landed in the run's sink pair, and both sinks
	// were flushed by teardown before the cycle reported its outcome.
	stdout := readRunLog(t, cfg.LogDir, logging.StdoutFilename)
	assert.Contains(t, stdout, "server listening")
	readRunLog(t, cfg.LogDir, logging.StderrFilename)

	// Teardown released the reserved port along with the instance.
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", cfg.Port))
	require.NoError(t, err)
	require.NoError(t, ln.Close())
}

func TestRunCycle_NeverHealthySurfacesLogTail(t *testing.T) {
	cfg := newTestConfig(t)

	unhealthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer unhealthy.Close()

	writeServiceArtifact(t, cfg.ServiceDir, "boot: loading models")
	cfg.SkipBuild = true
	cfg.Port = freePort(t)
	cfg.BaseURL = unhealthy.URL
	cfg.BaseURLSet = true
	cfg.HealthTimeout = 500 * time.Millisecond
	cfg.HealthInterval = 50 * time.Millisecond

	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	err = h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsHealthTimeoutError(err))
	assert.True(t, IsHarnessError(err))

	// The captured boot output reaches both the error's diagnostics and the
	// operator-visible message.
	var healthErr *HealthTimeoutError
	require.ErrorAs(t, err, &healthErr)
	assert.Contains(t, healthErr.Diagnostics, "boot: loading models")
	assert.Contains(t, err.Error(), "boot: loading models")
}

func TestStopIdempotent(t *testing.T) {
	cfg := newTestConfig(t)
	h, err := New(context.Background(), cfg, "test", func(error) {})
	require.NoError(t, err)

	stub := &stubScheduler{}
	h.scheduler = stub
	h.result = &runner.RunnerResult{Status: types.TestStatusPass}
	require.NoError(t, h.Start(context.Background()))

	require.NoError(t, h.Stop(context.Background()))
	assert.True(t, h.Stopped())
	// Second stop is a no-op
	require.NoError(t, h.Stop(context.Background()))
}
