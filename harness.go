// Package harness orchestrates the full e2e lifecycle of hyperspot-server:
// build the artifact, start an instance, wait for readiness, run the HTTP
// test suite, and tear everything down on every exit path.
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/builder"
	"github.com/hyperspot/e2e-harness/exitcodes"
	"github.com/hyperspot/e2e-harness/health"
	"github.com/hyperspot/e2e-harness/launcher"
	"github.com/hyperspot/e2e-harness/logging"
	"github.com/hyperspot/e2e-harness/metrics"
	"github.com/hyperspot/e2e-harness/registry"
	"github.com/hyperspot/e2e-harness/runner"
	"github.com/hyperspot/e2e-harness/types"
)

// BinaryName is the artifact filename produced by the local build.
const BinaryName = "hyperspot-server-e2e"

// Harness drives build → start → health-check → test → teardown cycles.
type Harness struct {
	ctx       context.Context
	config    *Config
	version   string
	registry  *registry.Registry
	scheduler CycleScheduler
	formatter ResultFormatter
	reporter  MetricsReporter
	result    *runner.RunnerResult

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New validates the configuration, checks mode prerequisites, and wires the
// harness components. No service resources are acquired yet.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*Harness, error) {
	if config == nil {
		return nil, NewConfigError(errors.New("config is required"))
	}

	config.Log.Debugw("Creating harness with config",
		"mode", config.Mode,
		"serviceDir", config.ServiceDir,
		"testDir", config.TestDir,
		"suiteManifest", config.SuiteManifest,
		"runInterval", config.RunInterval,
		"runOnce", config.RunOnce,
		"smoke", config.Smoke)

	// Fail before any resource is acquired when the selected backend cannot
	// possibly work.
	switch config.Mode {
	case types.ModeLocal:
		if err := builder.CheckLocalPrerequisites(config.GoBinary, config.ServiceDir); err != nil {
			return nil, NewConfigError(err)
		}
	case types.ModeDocker:
		if err := builder.CheckDockerPrerequisites(config.DockerBinary, config.ServiceDir); err != nil {
			return nil, NewConfigError(err)
		}
	default:
		return nil, NewConfigError(fmt.Errorf("unknown mode %q", config.Mode))
	}

	reg, err := registry.NewRegistry(registry.Config{
		Log:          config.Log,
		ManifestFile: config.SuiteManifest,
	})
	if err != nil {
		return nil, NewConfigError(fmt.Errorf("failed to create registry: %w", err))
	}

	h := &Harness{
		ctx:              ctx,
		config:           config,
		version:          version,
		registry:         reg,
		scheduler:        NewDefaultCycleScheduler(config.RunInterval, config.RunOnce, config.Log),
		formatter:        NewConsoleResultFormatter(config.Log),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}
	config.Log.Infow("harness.New: created registry and scheduler")
	return h, nil
}

// Start runs harness cycles at the configured interval.
func (h *Harness) Start(ctx context.Context) error {
	// Panic recovery so a runtime error still reports as a harness failure
	defer func() {
		if r := recover(); r != nil {
			h.config.Log.Errorw("Runtime error occurred", "error", r)
			os.Exit(exitcodes.HarnessErr)
		}
	}()

	h.ctx = ctx
	h.running.Store(true)

	if h.config.RunOnce {
		h.config.Log.Infow("Starting hyperspot-e2e in run-once mode")
	} else {
		h.config.Log.Infow("Starting hyperspot-e2e in continuous mode", "interval", h.config.RunInterval)
	}

	h.scheduler.RegisterCallback(h.runCycle)
	if err := h.scheduler.Start(ctx); err != nil {
		// Harness failures keep their type so main can map the exit code.
		return err
	}

	if h.config.RunOnce {
		h.config.Log.Infow("Cycle completed, exiting (run-once mode)")

		if h.result != nil && h.result.Status == types.TestStatusFail {
			h.config.Log.Warnw("Run-once cycle completed with test failures",
				"exit_code", h.result.ExitCode)
			return NewTestFailureError(h.result.String(), h.result.ExitCode)
		}

		go func() {
			h.shutdownCallback(nil)
		}()
	}
	return nil
}

// runCycle performs one complete build/start/probe/test/teardown cycle.
// Teardown runs exactly once on every path out of this function, including
// panics and harness failures.
func (h *Harness) runCycle() error {
	runID := uuid.New().String()
	log := h.config.Log.With("run_id", runID)
	cycleStart := time.Now()

	log.Infow("Starting harness cycle", "mode", h.config.Mode)

	collector, err := logging.NewCollector(h.config.LogDir, runID)
	if err != nil {
		metrics.RecordErrorDetails("log collector", err)
		return NewLaunchError(fmt.Errorf("creating log collector: %w", err))
	}

	var (
		instance     *types.ServiceInstance
		l            launcher.Launcher
		teardownOnce sync.Once
	)
	// Teardown failures are reported but never override the run outcome.
	teardown := func() {
		teardownOnce.Do(func() {
			tdStart := time.Now()
			if l != nil && instance != nil {
				stopCtx, cancel := context.WithTimeout(context.Background(), h.config.GracePeriod+10*time.Second)
				defer cancel()
				if err := l.Stop(stopCtx, instance); err != nil {
					log.Warnw("Teardown: failed to stop instance", "error", err)
					metrics.RecordErrorDetails("teardown stop", err)
				}
				if !instance.Terminal() {
					if err := instance.Transition(types.StatusStopped); err != nil {
						log.Warnw("Teardown: status transition rejected", "error", err)
					}
				}
			}
			if err := collector.Close(); err != nil {
				log.Warnw("Teardown: failed to close log collector", "error", err)
			}
			metrics.RecordPhase(runID, "teardown", time.Since(tdStart))
			log.Infow("Teardown complete")
		})
	}
	defer teardown()

	// Build
	artifact, err := h.buildArtifact(runID, log)
	if err != nil {
		return err
	}

	// Launch
	launchStart := time.Now()
	l, err = h.newLauncher(runID, artifact)
	if err != nil {
		metrics.RecordErrorDetails("launcher", err)
		return NewLaunchError(err)
	}
	instance, err = l.Start(h.ctx, collector)
	if err != nil {
		metrics.RecordErrorDetails("launch", err)
		return NewLaunchError(err)
	}
	metrics.RecordPhase(runID, "launch", time.Since(launchStart))
	log.Infow("Service instance started",
		"handle", instance.Handle,
		"mode", instance.Mode,
		"stdout", instance.StdoutPath,
		"stderr", instance.StderrPath)

	// Health
	healthStart := time.Now()
	prober, err := health.NewProber(health.Config{
		BaseURL:  h.config.BaseURL,
		Interval: h.config.HealthInterval,
		Timeout:  h.config.HealthTimeout,
		RunID:    runID,
		Log:      log,
	})
	if err != nil {
		return NewConfigError(err)
	}
	if _, err := prober.WaitHealthy(h.ctx); err != nil {
		metrics.RecordPhase(runID, "health", time.Since(healthStart))
		if !errors.Is(err, health.ErrDeadlineExceeded) {
			// Operator interrupt, not an unhealthy service. Teardown still
			// runs through the deferred path.
			return err
		}
		if err := instance.Transition(types.StatusUnhealthy); err != nil {
			log.Warnw("Status transition rejected", "error", err)
		}
		metrics.RecordErrorDetails("health", err)
		// Stop the instance and close the sinks before reading the tail;
		// queued writes only land once the collector has flushed.
		teardown()
		return NewHealthTimeoutError(err, collector.Tail(h.config.LogTail))
	}
	if err := instance.Transition(types.StatusHealthy); err != nil {
		log.Warnw("Status transition rejected", "error", err)
	}
	metrics.RecordPhase(runID, "health", time.Since(healthStart))

	// Test
	testRunner, err := runner.NewTestRunner(runner.Config{
		Registry:  h.registry,
		SmokeOnly: h.config.Smoke,
		TestDir:   h.config.TestDir,
		Log:       log,
		GoBinary:  h.config.GoBinary,
		BaseURL:   h.config.BaseURL,
		AuthToken: h.config.AuthToken,
		RunID:     runID,
	})
	if err != nil {
		return NewConfigError(fmt.Errorf("failed to create test runner: %w", err))
	}

	executor := NewDefaultTestExecutor(testRunner, runID, log)
	result, err := executor.RunTests(h.ctx)
	if err != nil {
		return NewConfigError(fmt.Errorf("test runner failed to execute: %w", err))
	}
	h.result = result

	if err := h.formatter.FormatResults(result); err != nil {
		log.Warnw("Failed to render results table", "error", err)
	}
	h.reporter.ReportResults(h.config.Mode, runID, result)

	// Release the instance before reporting the cycle outcome so the test
	// verdict never races with a still-running server.
	teardown()

	outcome := types.RunOutcome{
		TestExitCode:   result.ExitCode,
		InstanceStatus: instance.Status,
	}
	if result.Status == types.TestStatusFail {
		outcome.Diagnostics = collector.Tail(h.config.LogTail)
	}
	log.Infow("Harness cycle completed",
		"status", result.Status,
		"exit_code", outcome.TestExitCode,
		"instance_status", outcome.InstanceStatus,
		"total", result.Stats.Total,
		"passed", result.Stats.Passed,
		"failed", result.Stats.Failed,
		"duration", time.Since(cycleStart))
	if outcome.Diagnostics != "" {
		log.Infow("Service log tail for failed run", "diagnostics", outcome.Diagnostics)
	}
	return nil
}

// buildArtifact runs the builder for the selected mode, or resolves the
// existing artifact when the build is skipped.
func (h *Harness) buildArtifact(runID string, log *zap.SugaredLogger) (string, error) {
	buildStart := time.Now()
	defer func() {
		metrics.RecordPhase(runID, "build", time.Since(buildStart))
	}()

	switch h.config.Mode {
	case types.ModeLocal:
		output := filepath.Join(h.config.ServiceDir, BinaryName)
		if h.config.SkipBuild {
			if _, err := os.Stat(output); err != nil {
				return "", NewBuildError(fmt.Errorf("skip-build set but no artifact at %s: %w", output, err), "")
			}
			log.Infow("Skipping build, reusing artifact", "artifact", output)
			return output, nil
		}
		b := &builder.GoBuilder{
			GoBinary:   h.config.GoBinary,
			ServiceDir: h.config.ServiceDir,
			Output:     output,
			Log:        h.config.Log,
		}
		artifact, err := b.Build(h.ctx)
		if err != nil {
			return "", wrapBuildFailure(err)
		}
		return artifact, nil

	case types.ModeDocker:
		if h.config.SkipBuild {
			log.Infow("Skipping build, reusing image", "image", h.config.Image)
			return h.config.Image, nil
		}
		b := &builder.DockerBuilder{
			DockerBinary: h.config.DockerBinary,
			ServiceDir:   h.config.ServiceDir,
			Image:        h.config.Image,
			Log:          h.config.Log,
		}
		artifact, err := b.Build(h.ctx)
		if err != nil {
			return "", wrapBuildFailure(err)
		}
		return artifact, nil
	}
	return "", NewConfigError(fmt.Errorf("unknown mode %q", h.config.Mode))
}

// wrapBuildFailure lifts the builder's failure into the harness taxonomy,
// preserving the toolchain output.
func wrapBuildFailure(err error) error {
	metrics.RecordErrorDetails("build", err)
	var bf *builder.BuildFailure
	if errors.As(err, &bf) {
		return NewBuildError(bf.Err, bf.Output)
	}
	return NewBuildError(err, "")
}

// newLauncher creates the backend launcher for the selected mode.
func (h *Harness) newLauncher(runID, artifact string) (launcher.Launcher, error) {
	switch h.config.Mode {
	case types.ModeLocal:
		return launcher.NewProcessLauncher(launcher.ProcessConfig{
			BinaryPath:  artifact,
			Port:        h.config.Port,
			GracePeriod: h.config.GracePeriod,
			RunID:       runID,
			Log:         h.config.Log,
		})
	case types.ModeDocker:
		return launcher.NewDockerLauncher(launcher.DockerConfig{
			Binary:      h.config.DockerBinary,
			Image:       artifact,
			Port:        h.config.Port,
			GracePeriod: h.config.GracePeriod,
			RunID:       runID,
			Log:         h.config.Log,
		})
	}
	return nil, fmt.Errorf("unknown mode %q", h.config.Mode)
}

// Stop stops the harness scheduler. Any in-flight cycle still completes its
// teardown through its own deferred path.
func (h *Harness) Stop(ctx context.Context) error {
	h.config.Log.Infow("Stopping hyperspot-e2e")

	if !h.running.Load() {
		h.config.Log.Debugw("Harness already stopped, nothing to do")
		return nil
	}
	h.running.Store(false)

	if err := h.scheduler.Stop(); err != nil {
		return err
	}

	h.config.Log.Infow("hyperspot-e2e stopped successfully")
	return nil
}

// Stopped returns true if the harness is stopped.
func (h *Harness) Stopped() bool {
	return !h.running.Load()
}

// WaitForShutdown blocks until all scheduler goroutines have terminated.
func (h *Harness) WaitForShutdown(ctx context.Context) error {
	return h.scheduler.WaitForShutdown(ctx)
}

// Result returns the most recent cycle's test results.
func (h *Harness) Result() *runner.RunnerResult {
	return h.result
}
