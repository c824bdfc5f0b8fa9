package harness

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/metrics"
	"github.com/hyperspot/e2e-harness/runner"
)

// TestExecutor runs the selected suites against a healthy instance.
type TestExecutor interface {
	RunTests(ctx context.Context) (*runner.RunnerResult, error)
}

// DefaultTestExecutor drives the runner and accounts for the test phase of
// the cycle it belongs to.
type DefaultTestExecutor struct {
	runner runner.TestRunner
	runID  string
	log    *zap.SugaredLogger
}

// NewDefaultTestExecutor creates an executor scoped to one cycle's run ID.
func NewDefaultTestExecutor(r runner.TestRunner, runID string, log *zap.SugaredLogger) *DefaultTestExecutor {
	return &DefaultTestExecutor{
		runner: r,
		runID:  runID,
		log:    log,
	}
}

// RunTests runs the suites and records the phase duration. An error here
// means the runner itself could not execute, not that tests failed.
func (e *DefaultTestExecutor) RunTests(ctx context.Context) (*runner.RunnerResult, error) {
	start := time.Now()
	result, err := e.runner.RunAllTests(ctx)
	if err != nil {
		metrics.RecordErrorDetails("test runner", err)
		return nil, err
	}
	metrics.RecordPhase(e.runID, "test", time.Since(start))

	e.log.Infow("Test run completed",
		"run_id", result.RunID,
		"status", result.Status,
		"total", result.Stats.Total,
		"failed", result.Stats.Failed,
		"duration", result.Duration)
	return result, nil
}

var _ TestExecutor = (*DefaultTestExecutor)(nil)
