package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/store"
)

// TaskService handles manual task edits on a group: adding a custom task and
// removing one. Removal renumbers the survivors, so a client holding a task
// index from before the removal must re-fetch before acting on it again.
type TaskService struct {
	store  store.Store
	logger *slog.Logger
}

// NewTaskService creates a new TaskService.
func NewTaskService(st store.Store, logger *slog.Logger) *TaskService {
	return &TaskService{store: st, logger: logger}
}

// Add appends a custom task to the given group and returns it, position set.
// The store rejects the mutation with domain.ErrConflict while the group has
// a research in progress; the check is part of the insert transaction, so a
// run started concurrently cannot slip in between.
func (s *TaskService) Add(ctx context.Context, researchID string, groupIndex int, text string) (*research.Task, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("task text is required: %w", domain.ErrValidation)
	}

	t, err := s.store.AddTask(ctx, researchID, groupIndex, text)
	if err != nil {
		return nil, err
	}

	s.logger.Info("added custom task", "research_id", researchID, "group_index", groupIndex, "position", t.Position)
	return t, nil
}

// Remove deletes the task at taskIndex from the given group. The remaining
// tasks are renumbered; removing the last task deletes the group itself.
// Like Add, the in-progress guard lives inside the store transaction.
func (s *TaskService) Remove(ctx context.Context, researchID string, groupIndex, taskIndex int) error {
	if err := s.store.RemoveTask(ctx, researchID, groupIndex, taskIndex); err != nil {
		return err
	}

	s.logger.Info("removed task", "research_id", researchID, "group_index", groupIndex, "task_index", taskIndex)
	return nil
}
