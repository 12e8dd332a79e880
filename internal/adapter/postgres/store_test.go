package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gpericol/researchflow/internal/adapter/postgres"
	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use Store. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.Store {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()

	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	return postgres.NewStore(pool)
}

func seedGroup(t *testing.T, store *postgres.Store, descriptions []string) (researchID string) {
	t.Helper()
	ctx := context.Background()

	r, err := store.CreateResearch(ctx, "integration test")
	if err != nil {
		t.Fatalf("create research: %v", err)
	}
	if err := store.SaveLastPrompt(ctx, r.ID, research.Prompt{Original: "o", Refined: "r"}); err != nil {
		t.Fatalf("save last prompt: %v", err)
	}
	if _, err := store.AppendTasks(ctx, r.ID, descriptions); err != nil {
		t.Fatalf("append tasks: %v", err)
	}
	return r.ID
}

func TestStoreResearchLifecycle(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"first", "second", "third"})

	r, err := store.GetResearch(ctx, id)
	if err != nil {
		t.Fatalf("get research: %v", err)
	}
	if len(r.Groups) != 1 {
		t.Fatalf("groups = %d, want 1", len(r.Groups))
	}
	g := r.Groups[0]
	if g.Prompt != "r" {
		t.Errorf("group prompt = %q, want refined prompt", g.Prompt)
	}
	if len(g.Tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(g.Tasks))
	}
	for i, task := range g.Tasks {
		if task.Position != i {
			t.Errorf("task %d position = %d", i, task.Position)
		}
	}
}

func TestStoreRemoveTaskRenumbers(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"a", "b", "c"})

	if err := store.RemoveTask(ctx, id, 0, 1); err != nil {
		t.Fatalf("remove task: %v", err)
	}

	g, err := store.GetGroup(ctx, id, 0)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(g.Tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(g.Tasks))
	}
	if g.Tasks[0].Description != "a" || g.Tasks[1].Description != "c" {
		t.Errorf("tasks = %q/%q, want a/c", g.Tasks[0].Description, g.Tasks[1].Description)
	}
	if g.Tasks[1].Position != 1 {
		t.Errorf("surviving task position = %d, want 1", g.Tasks[1].Position)
	}
}

func TestStoreRemoveLastTaskDeletesGroup(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"only"})
	if _, err := store.AppendTasks(ctx, id, []string{"later group task"}); err != nil {
		t.Fatalf("append second group: %v", err)
	}

	if err := store.RemoveTask(ctx, id, 0, 0); err != nil {
		t.Fatalf("remove task: %v", err)
	}

	r, err := store.GetResearch(ctx, id)
	if err != nil {
		t.Fatalf("get research: %v", err)
	}
	if len(r.Groups) != 1 {
		t.Fatalf("groups = %d, want 1 after empty group deletion", len(r.Groups))
	}
	if r.Groups[0].Position != 0 {
		t.Errorf("surviving group position = %d, want 0", r.Groups[0].Position)
	}
}

func TestStoreInProgressGuard(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"a"})

	if err := store.SetGroupInProgress(ctx, id, 0, true); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	err := store.SetGroupInProgress(ctx, id, 0, true)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("second claim error = %v, want ErrConflict", err)
	}
	if err := store.SetGroupInProgress(ctx, id, 0, false); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.SetGroupInProgress(ctx, id, 0, true); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestStoreTaskMutationsBlockedWhileRunning(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"a", "b"})

	if err := store.SetGroupInProgress(ctx, id, 0, true); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := store.AddTask(ctx, id, 0, "late addition"); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("add during run error = %v, want ErrConflict", err)
	}
	if err := store.RemoveTask(ctx, id, 0, 0); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("remove during run error = %v, want ErrConflict", err)
	}

	if err := store.SetGroupInProgress(ctx, id, 0, false); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := store.AddTask(ctx, id, 0, "after release"); err != nil {
		t.Fatalf("add after release: %v", err)
	}
}

func TestStoreRunLogs(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	id := seedGroup(t, store, []string{"a"})

	if err := store.AppendRunLogs(ctx, id, []string{"one", "two", "three"}); err != nil {
		t.Fatalf("append run logs: %v", err)
	}

	lines, err := store.TailRunLogs(ctx, id, 2)
	if err != nil {
		t.Fatalf("tail run logs: %v", err)
	}
	if len(lines) != 2 || lines[0] != "two" || lines[1] != "three" {
		t.Fatalf("tail = %v, want [two three]", lines)
	}

	all, err := store.TailRunLogs(ctx, id, 0)
	if err != nil {
		t.Fatalf("tail all: %v", err)
	}
	if len(all) != 3 || all[0] != "one" {
		t.Fatalf("tail all = %v, want oldest first", all)
	}
}

func TestStoreNotFound(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()

	_, err := store.GetResearch(ctx, "00000000-0000-0000-0000-000000000000")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("get missing research error = %v, want ErrNotFound", err)
	}

	id := seedGroup(t, store, []string{"a"})
	err = store.RemoveTask(ctx, id, 0, 7)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("remove missing task error = %v, want ErrNotFound", err)
	}
}
