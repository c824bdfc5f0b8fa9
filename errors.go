package harness

import (
	"errors"
	"fmt"
)

// ConfigError represents invalid or conflicting invocation options. It is
// reported before any resource is acquired and leads to exit code 2.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %v", e.Err)
}

// Unwrap implements the errors.Unwrap interface
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError
func NewConfigError(err error) *ConfigError {
	return &ConfigError{Err: err}
}

// IsConfigError checks if the error is or wraps a ConfigError
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return err != nil && errors.As(err, &configErr)
}

// BuildError represents an artifact build failure. There are no harness
// resources to release when it occurs.
type BuildError struct {
	// Output is the builder's own error output, surfaced unmodified.
	Output string
	Err    error
}

func (e *BuildError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("build error: %v\n%s", e.Err, e.Output)
	}
	return fmt.Sprintf("build error: %v", e.Err)
}

func (e *BuildError) Unwrap() error {
	return e.Err
}

// NewBuildError creates a new BuildError carrying the builder's output.
func NewBuildError(err error, output string) *BuildError {
	return &BuildError{Err: err, Output: output}
}

// IsBuildError checks if the error is or wraps a BuildError
func IsBuildError(err error) bool {
	var buildErr *BuildError
	return err != nil && errors.As(err, &buildErr)
}

// LaunchError represents a failure to start the service instance: port
// conflict, spawn failure, or container runtime unavailability. Teardown is
// still attempted defensively in case partial resources were created.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch error: %v", e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// NewLaunchError creates a new LaunchError
func NewLaunchError(err error) *LaunchError {
	return &LaunchError{Err: err}
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return err != nil && errors.As(err, &launchErr)
}

// HealthTimeoutError represents a service that never became ready within the
// health deadline. Diagnostics carry the captured log tail.
type HealthTimeoutError struct {
	Err         error
	Diagnostics string
}

func (e *HealthTimeoutError) Error() string {
	if e.Diagnostics != "" {
		return fmt.Sprintf("health timeout: %v\n%s", e.Err, e.Diagnostics)
	}
	return fmt.Sprintf("health timeout: %v", e.Err)
}

func (e *HealthTimeoutError) Unwrap() error {
	return e.Err
}

// NewHealthTimeoutError creates a new HealthTimeoutError
func NewHealthTimeoutError(err error, diagnostics string) *HealthTimeoutError {
	return &HealthTimeoutError{Err: err, Diagnostics: diagnostics}
}

// IsHealthTimeoutError checks if the error is or wraps a HealthTimeoutError
func IsHealthTimeoutError(err error) bool {
	var healthErr *HealthTimeoutError
	return err != nil && errors.As(err, &healthErr)
}

// TestFailureError represents a non-zero exit from the test runner. It is not
// a harness defect; the runner's exit code is propagated verbatim.
type TestFailureError struct {
	Message  string
	ExitCode int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("test failure (exit %d): %s", e.ExitCode, e.Message)
}

// NewTestFailureError creates a new TestFailureError
func NewTestFailureError(message string, exitCode int) *TestFailureError {
	return &TestFailureError{Message: message, ExitCode: exitCode}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// IsHarnessError reports whether err belongs to the harness-failure part of
// the taxonomy, i.e. anything other than a test-assertion failure.
func IsHarnessError(err error) bool {
	return IsConfigError(err) || IsBuildError(err) || IsLaunchError(err) || IsHealthTimeoutError(err)
}
