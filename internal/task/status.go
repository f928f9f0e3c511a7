// Package task provides the task model for awe.
package task

// Status represents the current state of a task.
type Status string

const (
	StatusQueued        Status = "queued"
	StatusRunning       Status = "running"
	StatusWaitingManual Status = "waiting_manual"
	StatusPassed        Status = "passed"
	StatusFailedGate    Status = "failed_gate"
	StatusFailedSystem  Status = "failed_system"
	StatusCanceled      Status = "canceled"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{
		StatusQueued, StatusRunning, StatusWaitingManual,
		StatusPassed, StatusFailedGate, StatusFailedSystem, StatusCanceled,
	}
}

// IsValidStatus returns true if s is a valid status value.
func IsValidStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusRunning, StatusWaitingManual,
		StatusPassed, StatusFailedGate, StatusFailedSystem, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status never transitions out on its own.
// failed_gate is terminal for the workflow but may re-enter queued via an
// explicit author decision, so it is reported separately.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusPassed, StatusFailedSystem, StatusCanceled:
		return true
	default:
		return false
	}
}

// IsFinal returns true for every status that ends a workflow run,
// including failed_gate.
func (s Status) IsFinal() bool {
	return s.IsTerminal() || s == StatusFailedGate
}
