package types

import "time"

// HealthCheckResult captures the outcome of a single readiness probe attempt.
type HealthCheckResult struct {
	Succeeded bool
	// HTTPStatus is the observed status code, 0 when the request never
	// produced a response (connection refused, timeout).
	HTTPStatus int
	// Err records the transport error for attempts that never reached the
	// service.
	Err error
	// Attempt is the 1-based probe attempt number.
	Attempt int
	// Elapsed is the time since probing started.
	Elapsed time.Duration
}

// RunOutcome is the terminal value of one orchestration.
type RunOutcome struct {
	// TestExitCode is the test runner's own exit code, propagated verbatim
	// as the harness exit status when non-zero.
	TestExitCode int
	// InstanceStatus is the service instance status observed at teardown.
	InstanceStatus InstanceStatus
	// Diagnostics holds the tail of captured logs when the run failed
	// before or during testing; empty on clean success.
	Diagnostics string
}
