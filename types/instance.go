// Package types contains shared types used across the e2e harness.
package types

import "fmt"

// Mode selects the execution backend for the service under test.
type Mode string

// String implements the Stringer interface for Mode.
func (m Mode) String() string {
	return string(m)
}

// Mode enum values
const (
	ModeLocal  Mode = "local"
	ModeDocker Mode = "docker"
)

// InstanceStatus represents the lifecycle state of a service instance.
type InstanceStatus string

// InstanceStatus enum values. Transitions only move forward through
// NotStarted → Starting → (Healthy|Unhealthy) → Stopped, or to Failed
// from any non-terminal state.
const (
	StatusNotStarted InstanceStatus = "not_started"
	StatusStarting   InstanceStatus = "starting"
	StatusHealthy    InstanceStatus = "healthy"
	StatusUnhealthy  InstanceStatus = "unhealthy"
	StatusStopped    InstanceStatus = "stopped"
	StatusFailed     InstanceStatus = "failed"
)

// statusRank orders statuses so that illegal backward transitions can be
// rejected. Failed is reachable from any non-terminal state.
var statusRank = map[InstanceStatus]int{
	StatusNotStarted: 0,
	StatusStarting:   1,
	StatusHealthy:    2,
	StatusUnhealthy:  2,
	StatusStopped:    3,
	StatusFailed:     3,
}

// ServiceInstance tracks one running instance of the service under test.
// It is owned exclusively by the orchestrator for the duration of one run;
// callers other than the owning launcher treat Handle as opaque.
type ServiceInstance struct {
	// RunID scopes the instance to a single orchestrator run.
	RunID string
	// Handle is the backend handle: a PID string for local mode, a
	// container ID for docker mode.
	Handle string
	// Mode records which launcher created this instance.
	Mode Mode
	// Status is the current lifecycle state.
	Status InstanceStatus
	// StdoutPath and StderrPath are the log sink locations.
	StdoutPath string
	StderrPath string
}

// Transition advances the instance status, rejecting backward moves.
func (si *ServiceInstance) Transition(next InstanceStatus) error {
	if si.Status == StatusStopped || si.Status == StatusFailed {
		return fmt.Errorf("instance %s is terminal (%s), cannot transition to %s", si.RunID, si.Status, next)
	}
	if next == StatusFailed {
		si.Status = StatusFailed
		return nil
	}
	if statusRank[next] < statusRank[si.Status] {
		return fmt.Errorf("illegal backward transition %s → %s", si.Status, next)
	}
	si.Status = next
	return nil
}

// Terminal reports whether the instance has reached a terminal status.
func (si *ServiceInstance) Terminal() bool {
	return si.Status == StatusStopped || si.Status == StatusFailed
}
