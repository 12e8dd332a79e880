// Package store defines the repository port for research sessions, task
// groups, tasks and run logs.
package store

import (
	"context"

	"github.com/gpericol/researchflow/internal/domain/research"
)

// Store is the port interface for persistence. Implementations must make
// every mutating operation atomic with respect to concurrent readers: in
// particular RemoveTask renumbers the remaining tasks of the group in the
// same transaction, so a reader sees either the pre- or post-removal
// indexing, never an intermediate state.
type Store interface {
	// Researches
	CreateResearch(ctx context.Context, title string) (*research.Research, error)
	ListResearches(ctx context.Context) ([]research.Summary, error)
	GetResearch(ctx context.Context, id string) (*research.Research, error)
	SaveLastPrompt(ctx context.Context, id string, p research.Prompt) error
	AppendPrompt(ctx context.Context, id string, p research.Prompt) error

	// Task groups, addressed by position within the research.
	// SetGroupInProgress with inProgress=true is a compare-and-set start
	// guard: it fails with ErrConflict when the group is already claimed.
	GetGroup(ctx context.Context, researchID string, groupIndex int) (*research.TaskGroup, error)
	SetGroupInProgress(ctx context.Context, researchID string, groupIndex int, inProgress bool) error
	SetGroupRAGID(ctx context.Context, researchID string, groupIndex int, ragID string) error

	// Tasks. AddTask appends a task to an existing group; AppendTasks creates
	// a new group from the research's current refined prompt and returns the
	// new group's position. AddTask and RemoveTask fail with ErrConflict
	// while the group has a research in progress; the check happens inside
	// the mutation's transaction, not as a separate read.
	AddTask(ctx context.Context, researchID string, groupIndex int, text string) (*research.Task, error)
	AppendTasks(ctx context.Context, researchID string, descriptions []string) (int, error)
	RemoveTask(ctx context.Context, researchID string, groupIndex, taskIndex int) error
	CompleteTask(ctx context.Context, taskID string) error

	// Run logs (append-only, flushed at run end)
	AppendRunLogs(ctx context.Context, researchID string, lines []string) error
	TailRunLogs(ctx context.Context, researchID string, n int) ([]string, error)
}
