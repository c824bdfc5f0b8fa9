package types

import "time"

// TestStatus represents the possible states of a test execution.
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
	TestStatusSkip TestStatus = "skip"
)

// TestResult captures the outcome of a single test run.
type TestResult struct {
	Metadata TestMetadata
	Status   TestStatus
	Error    error
	Duration time.Duration
	// SubTests holds individual results when a whole package was run.
	SubTests map[string]*TestResult
	// Stdout captures the runner output for failing tests.
	Stdout string
	// TimedOut tracks whether this test hit its timeout.
	TimedOut bool
}
