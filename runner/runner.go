// Package runner executes the external test suite against a running service
// instance via go test subprocesses.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hyperspot/e2e-harness/registry"
	"github.com/hyperspot/e2e-harness/types"
)

// Go test2json (TestEvent) action constants for JSON test output.
// See https://cs.opensource.google/go/go/+/master:src/cmd/test2json/main.go;l=34-60
const (
	ActionStart  = "start"
	ActionPass   = "pass"
	ActionFail   = "fail"
	ActionSkip   = "skip"
	ActionOutput = "output"
)

// Environment variable names the test suite reads to locate the service.
const (
	EnvBaseURL   = "E2E_BASE_URL"
	EnvAuthToken = "E2E_AUTH_TOKEN"
)

// SuiteResult captures aggregated results for a test suite.
type SuiteResult struct {
	ID          string
	Description string
	Tests       map[string]*types.TestResult
	Status      types.TestStatus
	Duration    time.Duration
	Stats       ResultStats
}

// RunnerResult captures the complete test run results.
type RunnerResult struct {
	Suites   map[string]*SuiteResult
	Status   types.TestStatus
	Duration time.Duration
	Stats    ResultStats
	RunID    string
	// ExitCode is the exit status the harness should propagate: the first
	// non-zero go test exit code observed, or 0 when everything passed.
	ExitCode int
}

// ResultStats tracks test statistics at each level.
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	StartTime time.Time
	EndTime   time.Time
}

// TestRunner defines the interface for running the external test suite.
type TestRunner interface {
	RunAllTests(ctx context.Context) (*RunnerResult, error)
	RunTest(ctx context.Context, metadata types.TestMetadata) (*types.TestResult, error)
}

type runner struct {
	registry  *registry.Registry
	tests     []types.TestMetadata
	testDir   string
	log       *zap.SugaredLogger
	runID     string
	goBinary  string
	baseURL   string
	authToken string
	tracer    trace.Tracer
	// exitCode keeps the first non-zero go test exit status seen this run.
	exitCode int
}

// Config holds configuration for creating a new runner.
type Config struct {
	Registry *registry.Registry
	// SmokeOnly restricts the run to suites marked smoke in the manifest.
	SmokeOnly bool
	// TestDir is the directory containing the test module.
	TestDir string
	Log     *zap.SugaredLogger
	// GoBinary is the path to the Go binary, "go" when empty.
	GoBinary string
	// BaseURL is exported to the suite as E2E_BASE_URL.
	BaseURL string
	// AuthToken is exported as E2E_AUTH_TOKEN when non-empty.
	AuthToken string
	// RunID ties the runner output to an orchestration run; a fresh UUID is
	// generated when empty.
	RunID string
}

// NewTestRunner creates a new test runner instance.
func NewTestRunner(cfg Config) (TestRunner, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.TestDir == "" {
		return nil, fmt.Errorf("test directory is required")
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Log == nil {
		cfg.Log = zap.S()
	}
	if cfg.GoBinary == "" {
		cfg.GoBinary = "go"
	}

	var tests []types.TestMetadata
	if cfg.SmokeOnly {
		tests = cfg.Registry.GetSmokeTests()
	} else {
		tests = cfg.Registry.GetTests()
	}
	if len(tests) == 0 {
		return nil, fmt.Errorf("no tests selected from manifest")
	}

	cfg.Log.Debugw("NewTestRunner()",
		"testDir", cfg.TestDir,
		"smokeOnly", cfg.SmokeOnly,
		"goBinary", cfg.GoBinary,
		"tests", len(tests))

	return &runner{
		registry:  cfg.Registry,
		tests:     tests,
		testDir:   cfg.TestDir,
		log:       cfg.Log,
		runID:     cfg.RunID,
		goBinary:  cfg.GoBinary,
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		tracer:    otel.Tracer("test runner"),
	}, nil
}

// RunAllTests implements the TestRunner interface.
func (r *runner) RunAllTests(ctx context.Context) (*RunnerResult, error) {
	if r.runID == "" {
		r.runID = uuid.New().String()
	}

	start := time.Now()
	r.log.Debugw("Running all tests", "run_id", r.runID)

	result := &RunnerResult{
		Suites: make(map[string]*SuiteResult),
		Stats:  ResultStats{StartTime: start},
		RunID:  r.runID,
	}

	for suiteID, suiteTests := range r.groupTestsBySuite() {
		if err := r.processSuite(ctx, suiteID, suiteTests, result); err != nil {
			return nil, fmt.Errorf("processing suite %s: %w", suiteID, err)
		}
	}

	result.Duration = time.Since(start)
	result.Status = determineRunnerStatus(result)
	result.Stats.EndTime = time.Now()
	result.ExitCode = r.exitCode
	if result.Status == types.TestStatusFail && result.ExitCode == 0 {
		result.ExitCode = 1
	}
	return result, nil
}

// groupTestsBySuite organizes the selected tests by their suite.
func (r *runner) groupTestsBySuite() map[string][]types.TestMetadata {
	suiteTests := make(map[string][]types.TestMetadata)
	for _, test := range r.tests {
		suiteTests[test.Suite] = append(suiteTests[test.Suite], test)
	}
	return suiteTests
}

// processSuite handles the execution of a single suite.
func (r *runner) processSuite(ctx context.Context, suiteID string, suiteTests []types.TestMetadata, result *RunnerResult) error {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("suite %s", suiteID))
	defer span.End()

	suiteStart := time.Now()
	suiteResult := &SuiteResult{
		ID:    suiteID,
		Tests: make(map[string]*types.TestResult),
		Stats: ResultStats{StartTime: suiteStart},
	}
	result.Suites[suiteID] = suiteResult

	for _, metadata := range suiteTests {
		testResult, err := r.RunTest(ctx, metadata)
		if err != nil {
			return fmt.Errorf("running test %s: %w", metadata.ID, err)
		}
		suiteResult.Tests[testKey(metadata)] = testResult
		result.updateStats(suiteResult, testResult)
	}

	suiteResult.Duration = time.Since(suiteStart)
	suiteResult.Status = determineSuiteStatus(suiteResult)
	suiteResult.Stats.EndTime = time.Now()

	return nil
}

// testKey returns the key to use for a test in result maps.
func testKey(metadata types.TestMetadata) string {
	if metadata.RunAll {
		return metadata.Package
	}
	return metadata.FuncName
}

// RunTest implements the TestRunner interface.
func (r *runner) RunTest(ctx context.Context, metadata types.TestMetadata) (*types.TestResult, error) {
	r.log.Infow("Running test", "test", metadata.ID)
	start := time.Now()

	result, exitCode, err := r.runGoTest(ctx, metadata)
	if err != nil {
		return nil, err
	}
	result.Duration = time.Since(start)

	if exitCode != 0 {
		if r.exitCode == 0 {
			r.exitCode = exitCode
		}
		if result.Status != types.TestStatusFail {
			// go test exited non-zero without a parsed failure event, e.g. a
			// compile error in the test package.
			result.Status = types.TestStatusFail
		}
	}
	return result, nil
}

// TestEvent represents a single event from the go test JSON output.
type TestEvent struct {
	Time    time.Time // Time the event occurred
	Action  string    // The action taken (run, pause, cont, pass, fail, skip, output)
	Package string    // The package being tested
	Test    string    // The test function name (may be empty for package events)
	Output  string    // Output text (may be empty)
	Elapsed float64   // Elapsed time in seconds for the specific action
}

// runGoTest runs one go test invocation and parses its JSON output.
func (r *runner) runGoTest(ctx context.Context, metadata types.TestMetadata) (*types.TestResult, int, error) {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("test %s", metadata.GetName()))
	defer span.End()

	if metadata.Timeout != 0 {
		var cancel func()
		// The child process enforces its own -timeout; pad the parent
		// deadline so the child reports first.
		ctx, cancel = context.WithTimeout(ctx, metadata.Timeout+200*time.Millisecond)
		defer cancel()
	}

	args := buildTestArgs(metadata)
	cmd := exec.CommandContext(ctx, r.goBinary, args...)
	cmd.Dir = r.testDir
	cmd.Env = r.testEnv()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.log.Debugw("Running test command",
		"dir", cmd.Dir,
		"package", metadata.Package,
		"test", metadata.FuncName,
		"command", cmd.String(),
		"timeout", metadata.Timeout)

	runErr := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return &types.TestResult{
			Metadata: metadata,
			Status:   types.TestStatusFail,
			Error:    fmt.Errorf("test timed out after %v", metadata.Timeout),
			TimedOut: true,
		}, 1, nil
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, 0, fmt.Errorf("starting go test: %w", runErr)
		}
	}

	result := r.parseTestOutput(stdout.Bytes(), metadata)
	if result == nil {
		result = newFailedTestResult(metadata, fmt.Errorf("failed to parse test output"))
	}

	if (result.Status == types.TestStatusFail || result.Status == types.TestStatusSkip) && stdout.Len() > 0 {
		result.Stdout = stdout.String()
	}

	if runErr != nil && stderr.Len() > 0 {
		if result.Error != nil {
			result.Error = fmt.Errorf("%w\nstderr: %s", result.Error, stderr.String())
		} else {
			result.Error = fmt.Errorf("stderr: %s", stderr.String())
		}
	}

	return result, exitCode, nil
}

// testEnv builds the subprocess environment, layering the service location
// on top of the parent environment.
func (r *runner) testEnv() []string {
	env := append(os.Environ(), EnvBaseURL+"="+r.baseURL)
	if r.authToken != "" {
		env = append(env, EnvAuthToken+"="+r.authToken)
	}
	return env
}

// buildTestArgs constructs the command line arguments for running a test.
func buildTestArgs(metadata types.TestMetadata) []string {
	args := []string{"test"}

	if metadata.Package != "" {
		args = append(args, metadata.Package)
	} else {
		args = append(args, "./...")
	}

	if !metadata.RunAll && metadata.FuncName != "" {
		args = append(args, "-run", fmt.Sprintf("^%s$", metadata.FuncName))
	}

	// Always disable caching
	args = append(args, "-count", "1")

	if metadata.Timeout != 0 {
		args = append(args, "-timeout", metadata.Timeout.String())
	}

	args = append(args, "-v", "-json")

	return args
}

// parseTestOutput parses the JSON test output and extracts test result information.
func (r *runner) parseTestOutput(output []byte, metadata types.TestMetadata) *types.TestResult {
	if len(output) == 0 {
		r.log.Debugw("Empty test output", "test", metadata.FuncName, "package", metadata.Package)
		return newFailedTestResult(metadata, fmt.Errorf("empty test output"))
	}

	result := &types.TestResult{
		Metadata: metadata,
		Status:   types.TestStatusPass, // Default to pass unless determined otherwise
		SubTests: make(map[string]*types.TestResult),
	}

	var testStart, testEnd time.Time
	var errorMsg strings.Builder
	var hasSkip bool
	var hasAnyValidEvent bool

	subTestStartTimes := make(map[string]time.Time)

	for _, line := range bytes.Split(output, []byte("\n")) {
		if len(line) == 0 {
			continue
		}

		var event TestEvent
		if err := json.Unmarshal(line, &event); err != nil {
			r.log.Debugw("Failed to parse test JSON output line", "error", err, "line", string(line))
			continue
		}

		hasAnyValidEvent = true

		if isMainTestEvent(event, metadata.FuncName) {
			processMainTestEvent(event, result, &testStart, &testEnd, &errorMsg, &hasSkip)
		} else {
			processSubTestEvent(event, result, subTestStartTimes, &hasSkip)
		}
	}

	if !hasAnyValidEvent {
		return newFailedTestResult(metadata, fmt.Errorf("no valid JSON output from test"))
	}

	result.Duration = calculateTestDuration(testStart, testEnd)

	if errorMsg.Len() > 0 && result.Status == types.TestStatusFail {
		result.Error = fmt.Errorf("%s", errorMsg.String())
	}

	if hasSkip && result.Status != types.TestStatusFail && len(result.SubTests) == 0 {
		result.Status = types.TestStatusSkip
	}

	r.log.Debugw("Parsed test output",
		"test", metadata.FuncName,
		"package", metadata.Package,
		"status", result.Status,
		"subtests", len(result.SubTests))

	return result
}

// isMainTestEvent checks if the event belongs to the main test or package.
func isMainTestEvent(event TestEvent, mainTestName string) bool {
	return event.Test == "" || event.Test == mainTestName
}

// processMainTestEvent handles events for the main test.
func processMainTestEvent(event TestEvent, result *types.TestResult, testStart, testEnd *time.Time,
	errorMsg *strings.Builder, hasSkip *bool) {
	switch event.Action {
	case ActionStart:
		*testStart = event.Time
	case ActionPass:
		*testEnd = event.Time
		if result.Status != types.TestStatusFail {
			result.Status = types.TestStatusPass
		}
	case ActionFail:
		*testEnd = event.Time
		result.Status = types.TestStatusFail
	case ActionSkip:
		*testEnd = event.Time
		result.Status = types.TestStatusSkip
		*hasSkip = true
	case ActionOutput:
		if event.Output != "" {
			errorMsg.WriteString(event.Output)
		}
	}
}

// processSubTestEvent handles events for subtests.
func processSubTestEvent(event TestEvent, result *types.TestResult,
	subTestStartTimes map[string]time.Time, hasSkip *bool) {
	subTest, exists := result.SubTests[event.Test]
	if !exists {
		subTest = &types.TestResult{
			Metadata: types.TestMetadata{
				FuncName: event.Test,
				Package:  result.Metadata.Package,
			},
			Status: types.TestStatusPass,
		}
		result.SubTests[event.Test] = subTest
	}

	switch event.Action {
	case ActionStart:
		subTestStartTimes[event.Test] = event.Time
	case ActionPass:
		subTest.Status = types.TestStatusPass
		calculateSubTestDuration(subTest, event, subTestStartTimes)
	case ActionFail:
		subTest.Status = types.TestStatusFail
		// A failing subtest fails the main test too.
		result.Status = types.TestStatusFail
		calculateSubTestDuration(subTest, event, subTestStartTimes)
	case ActionSkip:
		subTest.Status = types.TestStatusSkip
		*hasSkip = true
		calculateSubTestDuration(subTest, event, subTestStartTimes)
	case ActionOutput:
		updateSubTestError(subTest, event.Output)
	}
}

// calculateSubTestDuration sets the duration for a subtest based on tracked start time or elapsed field.
func calculateSubTestDuration(subTest *types.TestResult, event TestEvent, subTestStartTimes map[string]time.Time) {
	if startTime, ok := subTestStartTimes[event.Test]; ok {
		subTest.Duration = event.Time.Sub(startTime)
	} else if event.Elapsed > 0 {
		subTest.Duration = time.Duration(event.Elapsed * float64(time.Second))
	}
}

// updateSubTestError updates a subtest's error message.
func updateSubTestError(subTest *types.TestResult, output string) {
	if output == "" {
		return
	}
	if subTest.Error == nil {
		subTest.Error = fmt.Errorf("%s", output)
	} else {
		subTest.Error = fmt.Errorf("%s\n%s", subTest.Error.Error(), output)
	}
}

// calculateTestDuration calculates the duration of a test.
func calculateTestDuration(start, end time.Time) time.Duration {
	if !start.IsZero() && !end.IsZero() {
		return end.Sub(start)
	} else if !start.IsZero() {
		return time.Since(start)
	}
	return 0
}

// newFailedTestResult creates a new failed test result.
func newFailedTestResult(metadata types.TestMetadata, err error) *types.TestResult {
	return &types.TestResult{
		Metadata: metadata,
		Status:   types.TestStatusFail,
		Error:    err,
		SubTests: make(map[string]*types.TestResult),
	}
}
