package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/gpericol/researchflow/internal/adapter/otel"
	"github.com/gpericol/researchflow/internal/adapter/ws"
	"github.com/gpericol/researchflow/internal/config"
	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/job"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/broadcast"
	"github.com/gpericol/researchflow/internal/port/messagequeue"
	"github.com/gpericol/researchflow/internal/port/ragstore"
	"github.com/gpericol/researchflow/internal/port/searchengine"
	"github.com/gpericol/researchflow/internal/port/store"
)

type runKey struct {
	researchID string
	groupIndex int
}

// Runner executes research runs in the background and answers progress and
// log-tail queries about them. At most one run is active per (research, group)
// pair; the start guard is a compare-and-set on the group's in-progress flag,
// so a second start request is rejected rather than stacking a second run.
type Runner struct {
	store  store.Store
	engine searchengine.Engine
	rag    ragstore.Store
	logger *slog.Logger
	cfg    config.Runner

	queue   messagequeue.Queue    // optional
	hub     broadcast.Broadcaster // optional
	metrics *otel.Metrics         // optional

	// sem bounds how many runs execute concurrently across all sessions.
	// nil means unbounded.
	sem *semaphore.Weighted

	mu   sync.Mutex
	runs map[runKey]*job.Run
	logs map[string]*job.LogBuffer

	wg sync.WaitGroup
}

// NewRunner creates a Runner with the given collaborators.
func NewRunner(st store.Store, engine searchengine.Engine, rag ragstore.Store, cfg config.Runner, logger *slog.Logger) *Runner {
	r := &Runner{
		store:  st,
		engine: engine,
		rag:    rag,
		logger: logger,
		cfg:    cfg,
		runs:   make(map[runKey]*job.Run),
		logs:   make(map[string]*job.LogBuffer),
	}
	if cfg.MaxConcurrentRuns > 0 {
		r.sem = semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns))
	}
	return r
}

// SetQueue sets the optional event stream for run lifecycle and log events.
func (r *Runner) SetQueue(q messagequeue.Queue) { r.queue = q }

// SetHub sets the optional real-time broadcaster for connected UI clients.
func (r *Runner) SetHub(h broadcast.Broadcaster) { r.hub = h }

// SetMetrics sets the optional metric instruments.
func (r *Runner) SetMetrics(m *otel.Metrics) { r.metrics = m }

// Start begins a background run for the given group. It returns
// domain.ErrNotFound when the group does not exist, domain.ErrValidation when
// the group has no incomplete tasks, and domain.ErrConflict when a run is
// already in progress for it. On success the run executes asynchronously;
// callers observe it through Progress and LogTail.
func (r *Runner) Start(ctx context.Context, researchID string, groupIndex int) error {
	group, err := r.store.GetGroup(ctx, researchID, groupIndex)
	if err != nil {
		return err
	}

	pending := group.PendingTasks()
	if len(pending) == 0 {
		return fmt.Errorf("no tasks to research: %w", domain.ErrValidation)
	}

	// Claim the group. The store update is a compare-and-set, so two
	// concurrent starts cannot both pass this point.
	if err := r.store.SetGroupInProgress(ctx, researchID, groupIndex, true); err != nil {
		if r.metrics != nil {
			r.metrics.RunsRejected.Add(ctx, 1)
		}
		return err
	}

	run := job.NewRun(researchID, groupIndex)
	key := runKey{researchID: researchID, groupIndex: groupIndex}

	r.mu.Lock()
	r.runs[key] = run
	buf := r.logs[researchID]
	if buf == nil {
		buf = job.NewLogBuffer(r.cfg.LogRetentionLines)
		r.logs[researchID] = buf
	}
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.RunsStarted.Add(ctx, 1)
	}
	r.publish(ctx, messagequeue.SubjectRunStarted, messagequeue.RunEvent{
		ResearchID: researchID,
		GroupIndex: groupIndex,
	})
	r.logger.Info("research run started", "research_id", researchID, "group_index", groupIndex, "pending_tasks", len(pending))

	r.wg.Add(1)
	go r.perform(run, group, pending, buf)

	return nil
}

// Progress returns a consistent snapshot of the group's run state. A group
// with no live run answers the empty snapshot, carrying the RAG index id when
// a past run built one.
func (r *Runner) Progress(ctx context.Context, researchID string, groupIndex int) (job.Snapshot, error) {
	r.mu.Lock()
	run := r.runs[runKey{researchID: researchID, groupIndex: groupIndex}]
	r.mu.Unlock()

	if run != nil {
		return run.Snapshot(), nil
	}

	group, err := r.store.GetGroup(ctx, researchID, groupIndex)
	if err != nil {
		return job.EmptySnapshot(), err
	}
	snap := job.EmptySnapshot()
	snap.RAGID = group.RAGID
	return snap, nil
}

// LogTail returns up to n of the most recent log lines for a research, oldest
// first. Live runs answer from the in-memory buffer; otherwise the persisted
// log is consulted.
func (r *Runner) LogTail(ctx context.Context, researchID string, n int) ([]string, error) {
	r.mu.Lock()
	buf := r.logs[researchID]
	r.mu.Unlock()

	if buf != nil {
		return buf.Tail(n), nil
	}
	return r.store.TailRunLogs(ctx, researchID, n)
}

// Shutdown waits for all in-flight runs to finish or the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// perform executes one run. It is detached from the start request's context:
// the run outlives the HTTP request that triggered it.
func (r *Runner) perform(run *job.Run, group *research.TaskGroup, pending []research.Task, buf *job.LogBuffer) {
	defer r.wg.Done()
	ctx := context.Background()

	var flushed []string
	logf := func(format string, args ...any) {
		line := fmt.Sprintf(format, args...)
		buf.Appendf("INFO", "%s", line)
		flushed = append(flushed, line)
		r.publish(ctx, messagequeue.SubjectRunLog, messagequeue.LogEvent{
			ResearchID: run.ResearchID,
			GroupIndex: run.GroupIndex,
			Line:       line,
		})
		if r.hub != nil {
			r.hub.BroadcastEvent(ctx, ws.EventRunLog, ws.RunLogEvent{
				ResearchID: run.ResearchID,
				GroupIndex: run.GroupIndex,
				Line:       line,
			})
		}
	}

	if r.sem != nil {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			// Only happens when ctx is cancelled, which Background never is.
			r.logger.Error("acquire run slot", "error", err)
			r.finalize(ctx, run, "", nil)
			return
		}
		defer r.sem.Release(1)
	}

	logf("Starting research for group %d (%d tasks)", run.GroupIndex, len(pending))

	var collected []research.Result
	for i, task := range pending {
		run.BeginTask(task.Position)
		r.broadcastProgress(ctx, run)
		logf("Researching task %d: %s", task.Position, task.Description)

		prompt := fmt.Sprintf("%s\n\nSpecific task: %s", group.Prompt, task.Description)
		results, err := r.engine.Search(ctx, prompt, logf)
		if err != nil {
			// A failed task is logged and skipped; the run carries on.
			logf("Task %d failed: %v", task.Position, err)
			run.SkipTask()
			if r.metrics != nil {
				r.metrics.TasksFailed.Add(ctx, 1)
			}
		} else {
			collected = append(collected, results...)
			if err := r.store.CompleteTask(ctx, task.ID); err != nil {
				r.logger.Error("persist task completion", "task_id", task.ID, "error", err)
			}
			run.CompleteTask(task.Position)
			if r.metrics != nil {
				r.metrics.TasksCompleted.Add(ctx, 1)
			}
			logf("Task %d completed with %d relevant results", task.Position, len(results))
		}
		r.broadcastProgress(ctx, run)

		if i < len(pending)-1 && r.cfg.TaskPause > 0 {
			time.Sleep(r.cfg.TaskPause)
		}
	}

	ragID := ""
	if len(collected) > 0 {
		ragID = fmt.Sprintf("rag_%s_%d", run.ResearchID, run.GroupIndex)
		metadata := map[string]string{
			"research_id": run.ResearchID,
			"group_index": strconv.Itoa(run.GroupIndex),
		}
		if err := r.rag.Save(ctx, ragID, group.Prompt, collected, metadata); err != nil {
			r.logger.Error("build rag index", "rag_id", ragID, "error", err)
			logf("Failed to build the knowledge index: %v", err)
			ragID = ""
		} else {
			if err := r.store.SetGroupRAGID(ctx, run.ResearchID, run.GroupIndex, ragID); err != nil {
				r.logger.Error("persist rag id", "rag_id", ragID, "error", err)
			}
			logf("Knowledge index %s ready (%d documents)", ragID, len(collected))
		}
	} else {
		logf("Research finished with no relevant results")
	}

	r.finalize(ctx, run, ragID, flushed)
}

// finalize transitions the run to its terminal state, releases the group and
// persists the run's log lines.
func (r *Runner) finalize(ctx context.Context, run *job.Run, ragID string, lines []string) {
	run.Finish(ragID)

	if err := r.store.SetGroupInProgress(ctx, run.ResearchID, run.GroupIndex, false); err != nil {
		r.logger.Error("release group", "research_id", run.ResearchID, "group_index", run.GroupIndex, "error", err)
	}
	if err := r.store.AppendRunLogs(ctx, run.ResearchID, lines); err != nil {
		r.logger.Error("persist run logs", "research_id", run.ResearchID, "error", err)
	}

	snap := run.Snapshot()
	if r.metrics != nil {
		r.metrics.RunsCompleted.Add(ctx, 1)
		r.metrics.RunDuration.Record(ctx, time.Since(run.StartedAt()).Seconds())
	}
	r.publish(ctx, messagequeue.SubjectRunCompleted, messagequeue.RunEvent{
		ResearchID:     run.ResearchID,
		GroupIndex:     run.GroupIndex,
		CompletedTasks: len(snap.CompletedTasks),
		RAGID:          ragID,
	})
	if r.hub != nil {
		r.hub.BroadcastEvent(ctx, ws.EventRunCompleted, ws.RunCompletedEvent{
			ResearchID:     run.ResearchID,
			GroupIndex:     run.GroupIndex,
			CompletedTasks: len(snap.CompletedTasks),
			RAGID:          ragID,
		})
	}
	r.logger.Info("research run finished",
		"research_id", run.ResearchID,
		"group_index", run.GroupIndex,
		"completed_tasks", len(snap.CompletedTasks),
		"rag_id", ragID,
		"duration", time.Since(run.StartedAt()))
}

func (r *Runner) broadcastProgress(ctx context.Context, run *job.Run) {
	if r.hub == nil {
		return
	}
	snap := run.Snapshot()
	r.hub.BroadcastEvent(ctx, ws.EventRunProgress, ws.RunProgressEvent{
		ResearchID:       run.ResearchID,
		GroupIndex:       run.GroupIndex,
		CompletedTasks:   snap.CompletedTasks,
		CurrentTaskIndex: snap.CurrentTaskIndex,
	})
}

func (r *Runner) publish(ctx context.Context, subject string, payload any) {
	if r.queue == nil || !r.queue.IsConnected() {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		r.logger.Error("marshal queue event", "subject", subject, "error", err)
		return
	}
	if err := r.queue.Publish(ctx, subject, data); err != nil {
		r.logger.Error("publish queue event", "subject", subject, "error", err)
	}
}
