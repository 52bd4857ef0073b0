package domain

import (
	"errors"
	"time"
)

// =============================================================================
// Run Errors
// =============================================================================

var (
	ErrRunIDRequired   = errors.New("run ID is required")
	ErrRunModeInvalid  = errors.New("run mode must be deploy or undeploy")
	ErrRunStateInvalid = errors.New("run state is invalid")
)

// =============================================================================
// States
// =============================================================================

// State is the outcome of a step or of a whole run.
type State string

const (
	StateNew      State = "new"
	StateRunning  State = "running"
	StateSuccess  State = "success"
	StateDegraded State = "degraded"
	StateFailed   State = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateSuccess || s == StateDegraded || s == StateFailed
}

// Verdict maps the number of failed targets to a step state.
//
// Example:
//
//	Verdict(0, 2) // StateSuccess
//	Verdict(1, 2) // StateDegraded
//	Verdict(2, 2) // StateFailed
func Verdict(failed, total int) State {
	switch {
	case failed <= 0:
		return StateSuccess
	case failed >= total:
		return StateFailed
	default:
		return StateDegraded
	}
}

// TargetState is the availability of a target during a run.
type TargetState string

const (
	TargetAvailable TargetState = "available"
	TargetFailed    TargetState = "failed"
)

// =============================================================================
// Run
// =============================================================================

// TargetOutcome is the final state of one target in a run.
// FailedStep is -1 when the target never failed.
type TargetOutcome struct {
	Name       string      `json:"name" yaml:"name"`
	State      TargetState `json:"state" yaml:"state"`
	FailedStep int         `json:"failed_step" yaml:"failed_step"`
	FailedTask string      `json:"failed_task,omitempty" yaml:"failed_task,omitempty"`
	Error      string      `json:"error,omitempty" yaml:"error,omitempty"`
}

// Run is the persisted summary of one invocation.
type Run struct {
	ID         string          `json:"id" yaml:"id"`
	Mode       Mode            `json:"mode" yaml:"mode"`
	Files      []string        `json:"files" yaml:"files"`
	State      State           `json:"state" yaml:"state"`
	Steps      int             `json:"steps" yaml:"steps"`
	DryRun     bool            `json:"dry_run" yaml:"dry_run"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Targets    []TargetOutcome `json:"targets" yaml:"targets"`
}

// Validate checks the invariants of a run summary.
func (r Run) Validate() error {
	if r.ID == "" {
		return ErrRunIDRequired
	}
	if !r.Mode.IsValid() {
		return ErrRunModeInvalid
	}
	if !r.State.IsTerminal() {
		return ErrRunStateInvalid
	}
	return nil
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// FailedTargets counts the targets that ended in the failed state.
func (r Run) FailedTargets() int {
	n := 0
	for _, t := range r.Targets {
		if t.State == TargetFailed {
			n++
		}
	}
	return n
}
