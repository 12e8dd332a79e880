package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/store"
)

// Store implements store.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// --- Researches ---

func (s *Store) CreateResearch(ctx context.Context, title string) (*research.Research, error) {
	var r research.Research
	err := s.pool.QueryRow(ctx,
		`INSERT INTO researches (id, title)
		 VALUES ($1, $2)
		 RETURNING id, title, created_at, updated_at`,
		uuid.NewString(), title,
	).Scan(&r.ID, &r.Title, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create research: %w", err)
	}
	return &r, nil
}

func (s *Store) ListResearches(ctx context.Context) ([]research.Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT r.id, r.title,
		        (SELECT count(*) FROM task_groups g WHERE g.research_id = r.id),
		        r.created_at
		 FROM researches r ORDER BY r.created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list researches: %w", err)
	}
	defer rows.Close()

	var summaries []research.Summary
	for rows.Next() {
		var sm research.Summary
		if err := rows.Scan(&sm.ID, &sm.Title, &sm.Groups, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan research summary: %w", err)
		}
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

func (s *Store) GetResearch(ctx context.Context, id string) (*research.Research, error) {
	var r research.Research
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, last_prompt_original, last_prompt_refined, created_at, updated_at
		 FROM researches WHERE id = $1`, id,
	).Scan(&r.ID, &r.Title, &r.LastPrompt.Original, &r.LastPrompt.Refined, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, notFoundWrap(err, "get research %s", id)
	}

	prompts, err := s.listPrompts(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Prompts = prompts

	groups, err := s.listGroups(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Groups = groups

	return &r, nil
}

func (s *Store) listPrompts(ctx context.Context, researchID string) ([]research.Prompt, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT original, refined, answers, created_at
		 FROM prompts WHERE research_id = $1 ORDER BY id`, researchID)
	if err != nil {
		return nil, fmt.Errorf("list prompts for %s: %w", researchID, err)
	}
	defer rows.Close()

	var prompts []research.Prompt
	for rows.Next() {
		var (
			p       research.Prompt
			answers []byte
		)
		if err := rows.Scan(&p.Original, &p.Refined, &answers, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prompt: %w", err)
		}
		if len(answers) > 0 {
			if err := json.Unmarshal(answers, &p.Answers); err != nil {
				return nil, fmt.Errorf("unmarshal prompt answers: %w", err)
			}
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

func (s *Store) listGroups(ctx context.Context, researchID string) ([]research.TaskGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position, prompt, research_in_progress, rag_id, created_at
		 FROM task_groups WHERE research_id = $1 ORDER BY position`, researchID)
	if err != nil {
		return nil, fmt.Errorf("list groups for %s: %w", researchID, err)
	}
	defer rows.Close()

	var groups []research.TaskGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range groups {
		tasks, err := s.listTasks(ctx, groups[i].ID)
		if err != nil {
			return nil, err
		}
		groups[i].Tasks = tasks
	}
	return groups, nil
}

func (s *Store) listTasks(ctx context.Context, groupID string) ([]research.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, position, description, completed, notes, created_at
		 FROM tasks WHERE group_id = $1 ORDER BY position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for group %s: %w", groupID, err)
	}
	defer rows.Close()

	var tasks []research.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *Store) SaveLastPrompt(ctx context.Context, id string, p research.Prompt) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE researches SET last_prompt_original = $2, last_prompt_refined = $3, updated_at = now()
		 WHERE id = $1`, id, p.Original, p.Refined)
	return execExpectOne(tag, err, "save last prompt for %s", id)
}

func (s *Store) AppendPrompt(ctx context.Context, id string, p research.Prompt) error {
	answers, err := json.Marshal(p.Answers)
	if err != nil {
		return fmt.Errorf("marshal prompt answers: %w", err)
	}
	if p.Answers == nil {
		answers = []byte("{}")
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO prompts (research_id, original, refined, answers)
		 SELECT id, $2, $3, $4 FROM researches WHERE id = $1`,
		id, p.Original, p.Refined, answers)
	return execExpectOne(tag, err, "append prompt to %s", id)
}

// --- Task groups ---

func (s *Store) GetGroup(ctx context.Context, researchID string, groupIndex int) (*research.TaskGroup, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, position, prompt, research_in_progress, rag_id, created_at
		 FROM task_groups WHERE research_id = $1 AND position = $2`, researchID, groupIndex)

	g, err := scanGroup(row)
	if err != nil {
		return nil, notFoundWrap(err, "get group %d of %s", groupIndex, researchID)
	}

	tasks, err := s.listTasks(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	g.Tasks = tasks
	return &g, nil
}

// SetGroupInProgress flips the run flag on a group. Setting it to true is a
// compare-and-set: if the flag is already true the group is claimed by a live
// run and domain.ErrConflict is returned.
func (s *Store) SetGroupInProgress(ctx context.Context, researchID string, groupIndex int, inProgress bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_groups SET research_in_progress = $3
		 WHERE research_id = $1 AND position = $2
		 AND ($3 = FALSE OR research_in_progress = FALSE)`,
		researchID, groupIndex, inProgress)
	if err != nil {
		return fmt.Errorf("set in_progress on group %d of %s: %w", groupIndex, researchID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM task_groups WHERE research_id = $1 AND position = $2)`,
			researchID, groupIndex).Scan(&exists)
		if err != nil {
			return fmt.Errorf("set in_progress on group %d of %s: %w", groupIndex, researchID, err)
		}
		if exists {
			return fmt.Errorf("group %d of %s already running: %w", groupIndex, researchID, domain.ErrConflict)
		}
		return fmt.Errorf("set in_progress on group %d of %s: %w", groupIndex, researchID, domain.ErrNotFound)
	}
	return nil
}

func (s *Store) SetGroupRAGID(ctx context.Context, researchID string, groupIndex int, ragID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_groups SET rag_id = $3 WHERE research_id = $1 AND position = $2`,
		researchID, groupIndex, ragID)
	return execExpectOne(tag, err, "set rag_id on group %d of %s", groupIndex, researchID)
}

// --- Tasks ---

func (s *Store) AddTask(ctx context.Context, researchID string, groupIndex int, text string) (*research.Task, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var (
		groupID    string
		inProgress bool
	)
	err = tx.QueryRow(ctx,
		`SELECT id, research_in_progress FROM task_groups WHERE research_id = $1 AND position = $2 FOR UPDATE`,
		researchID, groupIndex).Scan(&groupID, &inProgress)
	if err != nil {
		return nil, notFoundWrap(err, "add task to group %d of %s", groupIndex, researchID)
	}
	if inProgress {
		return nil, fmt.Errorf("group %d of %s has a research in progress: %w", groupIndex, researchID, domain.ErrConflict)
	}

	t, err := scanTask(tx.QueryRow(ctx,
		`INSERT INTO tasks (id, group_id, position, description)
		 SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3 FROM tasks WHERE group_id = $2
		 RETURNING id, position, description, completed, notes, created_at`,
		uuid.NewString(), groupID, text))
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit add task: %w", err)
	}
	return &t, nil
}

func (s *Store) AppendTasks(ctx context.Context, researchID string, descriptions []string) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var prompt string
	err = tx.QueryRow(ctx,
		`SELECT last_prompt_refined FROM researches WHERE id = $1 FOR UPDATE`,
		researchID).Scan(&prompt)
	if err != nil {
		return 0, notFoundWrap(err, "append tasks to %s", researchID)
	}

	var position int
	err = tx.QueryRow(ctx,
		`INSERT INTO task_groups (id, research_id, position, prompt)
		 SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3 FROM task_groups WHERE research_id = $2
		 RETURNING position`,
		uuid.NewString(), researchID, prompt).Scan(&position)
	if err != nil {
		return 0, fmt.Errorf("insert task group: %w", err)
	}

	var groupID string
	err = tx.QueryRow(ctx,
		`SELECT id FROM task_groups WHERE research_id = $1 AND position = $2`,
		researchID, position).Scan(&groupID)
	if err != nil {
		return 0, fmt.Errorf("lookup new group: %w", err)
	}

	for i, desc := range descriptions {
		_, err = tx.Exec(ctx,
			`INSERT INTO tasks (id, group_id, position, description) VALUES ($1, $2, $3, $4)`,
			uuid.NewString(), groupID, i, desc)
		if err != nil {
			return 0, fmt.Errorf("insert task %d: %w", i, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append tasks: %w", err)
	}
	return position, nil
}

// RemoveTask deletes a task and renumbers the survivors in one transaction.
// When the last task of a group is removed the group itself is deleted and
// the later groups shift down to keep positions dense.
func (s *Store) RemoveTask(ctx context.Context, researchID string, groupIndex, taskIndex int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var (
		groupID    string
		inProgress bool
	)
	err = tx.QueryRow(ctx,
		`SELECT id, research_in_progress FROM task_groups WHERE research_id = $1 AND position = $2 FOR UPDATE`,
		researchID, groupIndex).Scan(&groupID, &inProgress)
	if err != nil {
		return notFoundWrap(err, "remove task %d from group %d of %s", taskIndex, groupIndex, researchID)
	}
	if inProgress {
		return fmt.Errorf("group %d of %s has a research in progress: %w", groupIndex, researchID, domain.ErrConflict)
	}

	var removed string
	err = tx.QueryRow(ctx,
		`DELETE FROM tasks WHERE group_id = $1 AND position = $2 RETURNING id`,
		groupID, taskIndex).Scan(&removed)
	if err != nil {
		return notFoundWrap(err, "remove task %d from group %d of %s", taskIndex, groupIndex, researchID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE tasks SET position = position - 1 WHERE group_id = $1 AND position > $2`,
		groupID, taskIndex)
	if err != nil {
		return fmt.Errorf("renumber tasks: %w", err)
	}

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT count(*) FROM tasks WHERE group_id = $1`, groupID).Scan(&remaining); err != nil {
		return fmt.Errorf("count remaining tasks: %w", err)
	}
	if remaining == 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM task_groups WHERE id = $1`, groupID); err != nil {
			return fmt.Errorf("delete empty group: %w", err)
		}
		_, err = tx.Exec(ctx,
			`UPDATE task_groups SET position = position - 1 WHERE research_id = $1 AND position > $2`,
			researchID, groupIndex)
		if err != nil {
			return fmt.Errorf("renumber groups: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove task: %w", err)
	}
	return nil
}

func (s *Store) CompleteTask(ctx context.Context, taskID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET completed = TRUE WHERE id = $1`, taskID)
	return execExpectOne(tag, err, "complete task %s", taskID)
}

// --- Run logs ---

func (s *Store) AppendRunLogs(ctx context.Context, researchID string, lines []string) error {
	if len(lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, line := range lines {
		batch.Queue(`INSERT INTO run_logs (research_id, line) VALUES ($1, $2)`, researchID, line)
	}
	results := s.pool.SendBatch(ctx, batch)
	defer results.Close() //nolint:errcheck

	for range lines {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("append run logs for %s: %w", researchID, err)
		}
	}
	return nil
}

func (s *Store) TailRunLogs(ctx context.Context, researchID string, n int) ([]string, error) {
	query := `SELECT line FROM run_logs WHERE research_id = $1 ORDER BY id DESC`
	args := []any{researchID}
	if n > 0 {
		query += ` LIMIT $2`
		args = append(args, n)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("tail run logs for %s: %w", researchID, err)
	}
	defer rows.Close()

	var lines []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, fmt.Errorf("scan run log line: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Query returns newest first; callers expect oldest first.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
