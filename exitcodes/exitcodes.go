// Package exitcodes defines the standard exit codes used by hyperspot-e2e.
package exitcodes

// Exit code constants used by hyperspot-e2e
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when the service became healthy and all tests passed
// * TestFailure (1): Used when the test suite failed; when the test runner
//   exits non-zero its own exit code is propagated verbatim
// * HarnessErr (2): Used for harness-level failures: invalid configuration,
//   build failures, launch failures and health-check timeouts
const (
	Success     = 0 // Service healthy, all tests pass
	TestFailure = 1 // Test assertion failures
	HarnessErr  = 2 // Harness never got to run tests
)
