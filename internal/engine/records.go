package engine

import (
	"sort"
	"sync"

	"github.com/artpar/octahe/internal/core/domain"
	"github.com/artpar/octahe/internal/core/unit"
	"github.com/artpar/octahe/internal/shell/exec"
)

// =============================================================================
// Task Records
// =============================================================================

// TaskRecord is the state of one step across all targets.
type TaskRecord struct {
	Index int
	Step  domain.Step
	State domain.State
}

// =============================================================================
// Target Records
// =============================================================================

// TargetRecord is the state of one target during a run.
//
// The execution fields are owned by the worker applying the current step to
// this target. The step barrier orders access between steps.
type TargetRecord struct {
	Target     domain.Target
	Capability exec.Capability
	State      domain.TargetState
	FailedStep int
	FailedTask string
	Err        error

	// LastStep is the index of the last step completed on this target.
	LastStep int

	settings   exec.Settings
	cmd        string
	stopSignal string
	iface      string
	health     *unit.Healthcheck
}

func newTargetRecord(target domain.Target) *TargetRecord {
	return &TargetRecord{
		Target:     target,
		State:      domain.TargetAvailable,
		FailedStep: -1,
		LastStep:   -1,
	}
}

// =============================================================================
// Records
// =============================================================================

// Records holds the task and target tables for one run.
type Records struct {
	mu      sync.Mutex
	known   map[string]domain.Target
	order   []string
	targets map[string]*TargetRecord
	tasks   map[int]*TaskRecord
}

// NewRecords creates empty tables for the given targets. Records are
// created on first use.
func NewRecords(targets map[string]domain.Target, order []string) *Records {
	return &Records{
		known:   targets,
		order:   append([]string(nil), order...),
		targets: make(map[string]*TargetRecord),
		tasks:   make(map[int]*TaskRecord),
	}
}

// Target returns the record for name, creating it if needed.
func (r *Records) Target(name string) *TargetRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.targets[name]
	if !ok {
		rec = newTargetRecord(r.known[name])
		r.targets[name] = rec
	}
	return rec
}

// Available returns the names of targets that have not failed, in
// declaration order.
func (r *Records) Available() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var names []string
	for _, name := range r.order {
		if rec, ok := r.targets[name]; ok && rec.State == domain.TargetFailed {
			continue
		}
		names = append(names, name)
	}
	return names
}

// Fail marks a target failed. The first failure is kept.
func (r *Records) Fail(name string, step int, task string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.targets[name]
	if !ok {
		rec = newTargetRecord(r.known[name])
		r.targets[name] = rec
	}
	if rec.State == domain.TargetFailed {
		return
	}
	rec.State = domain.TargetFailed
	rec.FailedStep = step
	rec.FailedTask = task
	rec.Err = err
}

// Failed counts the failed targets.
func (r *Records) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, rec := range r.targets {
		if rec.State == domain.TargetFailed {
			n++
		}
	}
	return n
}

// Total is the number of targets in the run.
func (r *Records) Total() int {
	return len(r.order)
}

// Task returns the record for step index, creating it if needed.
func (r *Records) Task(index int, step domain.Step) *TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[index]
	if !ok {
		task = &TaskRecord{Index: index, Step: step, State: domain.StateNew}
		r.tasks[index] = task
	}
	return task
}

// SetTaskState moves a task to state.
func (r *Records) SetTaskState(index int, state domain.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if task, ok := r.tasks[index]; ok {
		task.State = state
	}
}

// Tasks returns a snapshot of the scheduled tasks ordered by index.
func (r *Records) Tasks() []TaskRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	tasks := make([]TaskRecord, 0, len(r.tasks))
	for _, task := range r.tasks {
		tasks = append(tasks, *task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Index < tasks[j].Index })
	return tasks
}

// Outcomes returns the final state of every target in declaration order.
func (r *Records) Outcomes() []domain.TargetOutcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	outcomes := make([]domain.TargetOutcome, 0, len(r.order))
	for _, name := range r.order {
		outcome := domain.TargetOutcome{Name: name, State: domain.TargetAvailable, FailedStep: -1}
		if rec, ok := r.targets[name]; ok && rec.State == domain.TargetFailed {
			outcome.State = domain.TargetFailed
			outcome.FailedStep = rec.FailedStep
			outcome.FailedTask = rec.FailedTask
			if rec.Err != nil {
				outcome.Error = rec.Err.Error()
			}
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

// capabilities returns every capability created during the run.
func (r *Records) capabilities() []exec.Capability {
	r.mu.Lock()
	defer r.mu.Unlock()

	var caps []exec.Capability
	for _, name := range r.order {
		if rec, ok := r.targets[name]; ok && rec.Capability != nil {
			caps = append(caps, rec.Capability)
		}
	}
	return caps
}
