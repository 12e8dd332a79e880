// Package job defines the JobRun entity that tracks one execution attempt of
// a task group's research process, and the append-only log buffer its
// observers tail.
package job

import (
	"sync"
	"time"
)

// Status represents the current state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
)

// Snapshot is a consistent point-in-time view of a run, safe to hand to
// concurrent pollers. CompletedTasks only ever grows during a run, and a task
// index is moved into it before CurrentTaskIndex advances, so no reader can
// observe a task as both current and completed mid-flight.
type Snapshot struct {
	InProgress       bool   `json:"in_progress"`
	Completed        bool   `json:"completed"`
	CompletedTasks   []int  `json:"completed_tasks"`
	CurrentTaskIndex *int   `json:"current_task_index"`
	RAGID            string `json:"rag_id,omitempty"`
}

// EmptySnapshot is the answer for a group that has never had a run.
func EmptySnapshot() Snapshot {
	return Snapshot{CompletedTasks: []int{}}
}

// Run is one execution attempt of a task group. At most one Run is active per
// (research, group) pair; the runner enforces that with a check-and-set at
// start time. All state transitions happen under one mutex so snapshots are
// never torn.
type Run struct {
	ResearchID string
	GroupIndex int

	mu        sync.Mutex
	status    Status
	completed []int
	current   *int
	ragID     string
	startedAt time.Time
}

// NewRun creates a Run in the running state.
func NewRun(researchID string, groupIndex int) *Run {
	return &Run{
		ResearchID: researchID,
		GroupIndex: groupIndex,
		status:     StatusRunning,
		completed:  []int{},
		startedAt:  time.Now(),
	}
}

// BeginTask marks the task at the given position as the one being executed.
func (r *Run) BeginTask(position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := position
	r.current = &p
}

// CompleteTask moves the current task into the completed set and clears the
// current index in one critical section.
func (r *Run) CompleteTask(position int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, position)
	r.current = nil
}

// SkipTask clears the current index without marking it completed. Used when a
// task fails: the run proceeds to the next one.
func (r *Run) SkipTask() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
}

// Finish transitions the run to completed, recording the RAG index id if one
// was built.
func (r *Run) Finish(ragID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = StatusCompleted
	r.current = nil
	r.ragID = ragID
}

// Completed reports whether the run has reached its terminal state.
func (r *Run) Completed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status == StatusCompleted
}

// StartedAt returns the run's start time.
func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

// Snapshot returns a consistent copy of the run's observable state.
func (r *Run) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		InProgress:     r.status == StatusRunning,
		Completed:      r.status == StatusCompleted,
		CompletedTasks: make([]int, len(r.completed)),
		RAGID:          r.ragID,
	}
	copy(snap.CompletedTasks, r.completed)
	if r.current != nil {
		c := *r.current
		snap.CurrentTaskIndex = &c
	}
	return snap
}
