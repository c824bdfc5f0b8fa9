package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/runner"
	"github.com/hyperspot/e2e-harness/types"
)

// mockRunner satisfies runner.TestRunner with canned results.
type mockRunner struct {
	result *runner.RunnerResult
	err    error
	calls  int
}

func (m *mockRunner) RunAllTests(ctx context.Context) (*runner.RunnerResult, error) {
	m.calls++
	return m.result, m.err
}

func (m *mockRunner) RunTest(ctx context.Context, metadata types.TestMetadata) (*types.TestResult, error) {
	return nil, nil
}

func TestDefaultTestExecutor_RunTests(t *testing.T) {
	want := &runner.RunnerResult{RunID: "run-1", Status: types.TestStatusPass}
	mock := &mockRunner{result: want}

	executor := NewDefaultTestExecutor(mock, "run-1", zap.NewNop().Sugar())
	got, err := executor.RunTests(context.Background())
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, 1, mock.calls)
}

func TestDefaultTestExecutor_Error(t *testing.T) {
	mock := &mockRunner{err: assert.AnError}

	executor := NewDefaultTestExecutor(mock, "run-1", zap.NewNop().Sugar())
	_, err := executor.RunTests(context.Background())
	require.ErrorIs(t, err, assert.AnError)
}

func TestDefaultMetricsReporter(t *testing.T) {
	reporter := NewDefaultMetricsReporter()
	result := &runner.RunnerResult{
		Status: types.TestStatusPass,
		Stats:  runner.ResultStats{Total: 3, Passed: 3},
	}

	assert.NotPanics(t, func() {
		reporter.ReportResults(types.ModeLocal, "run-1", result)
	})
}
