package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/llm"
	"github.com/gpericol/researchflow/internal/port/messagequeue"
	"github.com/gpericol/researchflow/internal/port/ragstore"
	"github.com/gpericol/researchflow/internal/port/searchengine"
	"github.com/gpericol/researchflow/internal/port/store"
)

// mockStore implements store.Store in memory for testing. All operations are
// guarded by one mutex so concurrent runner tests exercise the same atomicity
// the real store provides.
type mockStore struct {
	mu         sync.Mutex
	seq        int
	researches map[string]*research.Research
	logs       map[string][]string
}

var _ store.Store = (*mockStore)(nil)

func newMockStore() *mockStore {
	return &mockStore{
		researches: make(map[string]*research.Research),
		logs:       make(map[string][]string),
	}
}

// seedGroup creates a research with one group holding the given tasks and
// returns the research ID.
func (m *mockStore) seedGroup(descriptions ...string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	id := fmt.Sprintf("research-%d", m.seq)
	g := research.TaskGroup{ID: id + "-g0", Prompt: "seeded prompt"}
	for i, d := range descriptions {
		g.Tasks = append(g.Tasks, research.Task{
			ID:          fmt.Sprintf("%s-t%d", g.ID, i),
			Position:    i,
			Description: d,
		})
	}
	m.researches[id] = &research.Research{
		ID:     id,
		Title:  "seeded",
		Groups: []research.TaskGroup{g},
	}
	return id
}

func (m *mockStore) CreateResearch(_ context.Context, title string) (*research.Research, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r := &research.Research{
		ID:        fmt.Sprintf("research-%d", m.seq),
		Title:     title,
		CreatedAt: time.Now(),
	}
	m.researches[r.ID] = r
	cp := *r
	return &cp, nil
}

func (m *mockStore) ListResearches(_ context.Context) ([]research.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []research.Summary
	for _, r := range m.researches {
		out = append(out, research.Summary{ID: r.ID, Title: r.Title, Groups: len(r.Groups)})
	}
	return out, nil
}

func (m *mockStore) GetResearch(_ context.Context, id string) (*research.Research, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.researches[id]
	if !ok {
		return nil, fmt.Errorf("research %s: %w", id, domain.ErrNotFound)
	}
	cp := *r
	cp.Groups = append([]research.TaskGroup(nil), r.Groups...)
	return &cp, nil
}

func (m *mockStore) SaveLastPrompt(_ context.Context, id string, p research.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.researches[id]
	if !ok {
		return fmt.Errorf("research %s: %w", id, domain.ErrNotFound)
	}
	r.LastPrompt = p
	return nil
}

func (m *mockStore) AppendPrompt(_ context.Context, id string, p research.Prompt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.researches[id]
	if !ok {
		return fmt.Errorf("research %s: %w", id, domain.ErrNotFound)
	}
	r.Prompts = append(r.Prompts, p)
	return nil
}

func (m *mockStore) group(researchID string, groupIndex int) (*research.TaskGroup, error) {
	r, ok := m.researches[researchID]
	if !ok {
		return nil, fmt.Errorf("research %s: %w", researchID, domain.ErrNotFound)
	}
	if groupIndex < 0 || groupIndex >= len(r.Groups) {
		return nil, fmt.Errorf("group %d: %w", groupIndex, domain.ErrNotFound)
	}
	return &r.Groups[groupIndex], nil
}

func (m *mockStore) GetGroup(_ context.Context, researchID string, groupIndex int) (*research.TaskGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.group(researchID, groupIndex)
	if err != nil {
		return nil, err
	}
	cp := *g
	cp.Tasks = append([]research.Task(nil), g.Tasks...)
	return &cp, nil
}

func (m *mockStore) SetGroupInProgress(_ context.Context, researchID string, groupIndex int, inProgress bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.group(researchID, groupIndex)
	if err != nil {
		return err
	}
	if inProgress && g.ResearchInProgress {
		return fmt.Errorf("group %d already running: %w", groupIndex, domain.ErrConflict)
	}
	g.ResearchInProgress = inProgress
	return nil
}

func (m *mockStore) SetGroupRAGID(_ context.Context, researchID string, groupIndex int, ragID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.group(researchID, groupIndex)
	if err != nil {
		return err
	}
	g.RAGID = ragID
	return nil
}

func (m *mockStore) AddTask(_ context.Context, researchID string, groupIndex int, text string) (*research.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, err := m.group(researchID, groupIndex)
	if err != nil {
		return nil, err
	}
	if g.ResearchInProgress {
		return nil, fmt.Errorf("group %d of %s has a research in progress: %w", groupIndex, researchID, domain.ErrConflict)
	}
	t := research.Task{
		ID:          fmt.Sprintf("%s-t%d", g.ID, len(g.Tasks)),
		Position:    len(g.Tasks),
		Description: text,
	}
	g.Tasks = append(g.Tasks, t)
	return &t, nil
}

func (m *mockStore) AppendTasks(_ context.Context, researchID string, descriptions []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.researches[researchID]
	if !ok {
		return 0, fmt.Errorf("research %s: %w", researchID, domain.ErrNotFound)
	}
	position := len(r.Groups)
	g := research.TaskGroup{
		ID:       fmt.Sprintf("%s-g%d", researchID, position),
		Position: position,
		Prompt:   r.LastPrompt.Refined,
	}
	for i, d := range descriptions {
		g.Tasks = append(g.Tasks, research.Task{
			ID:          fmt.Sprintf("%s-t%d", g.ID, i),
			Position:    i,
			Description: d,
		})
	}
	r.Groups = append(r.Groups, g)
	return position, nil
}

func (m *mockStore) RemoveTask(_ context.Context, researchID string, groupIndex, taskIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.researches[researchID]
	if !ok {
		return fmt.Errorf("research %s: %w", researchID, domain.ErrNotFound)
	}
	g, err := m.group(researchID, groupIndex)
	if err != nil {
		return err
	}
	if g.ResearchInProgress {
		return fmt.Errorf("group %d of %s has a research in progress: %w", groupIndex, researchID, domain.ErrConflict)
	}
	if taskIndex < 0 || taskIndex >= len(g.Tasks) {
		return fmt.Errorf("task %d: %w", taskIndex, domain.ErrNotFound)
	}
	g.Tasks = append(g.Tasks[:taskIndex], g.Tasks[taskIndex+1:]...)
	for i := range g.Tasks {
		g.Tasks[i].Position = i
	}
	if len(g.Tasks) == 0 {
		r.Groups = append(r.Groups[:groupIndex], r.Groups[groupIndex+1:]...)
		for i := range r.Groups {
			r.Groups[i].Position = i
		}
	}
	return nil
}

func (m *mockStore) CompleteTask(_ context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.researches {
		for gi := range r.Groups {
			for ti := range r.Groups[gi].Tasks {
				if r.Groups[gi].Tasks[ti].ID == taskID {
					r.Groups[gi].Tasks[ti].Completed = true
					return nil
				}
			}
		}
	}
	return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
}

func (m *mockStore) AppendRunLogs(_ context.Context, researchID string, lines []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[researchID] = append(m.logs[researchID], lines...)
	return nil
}

func (m *mockStore) TailRunLogs(_ context.Context, researchID string, n int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lines := m.logs[researchID]
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return append([]string(nil), lines...), nil
}

// fakeEngine implements searchengine.Engine. When block is non-nil, Search
// waits until the channel is closed, which lets tests hold a run open.
type fakeEngine struct {
	mu      sync.Mutex
	results []research.Result
	err     error
	calls   int
	active  int
	maxSeen int
	block   chan struct{}
	failOn  string // substring of the prompt that triggers err
}

var _ searchengine.Engine = (*fakeEngine)(nil)

func (e *fakeEngine) Search(_ context.Context, taskPrompt string, logf searchengine.Logf) ([]research.Result, error) {
	e.mu.Lock()
	e.calls++
	e.active++
	if e.active > e.maxSeen {
		e.maxSeen = e.active
	}
	block := e.block
	e.mu.Unlock()

	if block != nil {
		<-block
	}

	defer func() {
		e.mu.Lock()
		e.active--
		e.mu.Unlock()
	}()

	logf("searched: %s", taskPrompt)
	if e.failOn != "" && strings.Contains(taskPrompt, e.failOn) {
		return nil, fmt.Errorf("simulated failure")
	}
	if e.err != nil {
		return nil, e.err
	}
	if e.results != nil {
		return e.results, nil
	}
	return []research.Result{{Title: "doc", URL: "https://example.com", Content: "content", Score: 0.9}}, nil
}

// fakeRAG implements ragstore.Store, recording Save calls.
type fakeRAG struct {
	mu     sync.Mutex
	saved  map[string][]research.Result
	answer *ragstore.Answer
	err    error
}

var _ ragstore.Store = (*fakeRAG)(nil)

func newFakeRAG() *fakeRAG {
	return &fakeRAG{saved: make(map[string][]research.Result)}
}

func (f *fakeRAG) Save(_ context.Context, ragID, _ string, results []research.Result, _ map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.saved[ragID] = append(f.saved[ragID], results...)
	return nil
}

func (f *fakeRAG) Exists(_ context.Context, ragID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.saved[ragID]
	return ok, nil
}

func (f *fakeRAG) Query(_ context.Context, ragID, _ string) (*ragstore.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.answer != nil {
		return f.answer, nil
	}
	return &ragstore.Answer{Response: "answer for " + ragID, Sources: []ragstore.Source{}}, nil
}

// fakeLLM implements llm.Client with canned completions.
type fakeLLM struct {
	completions []string // answered in order; last one repeats
	calls       int
	err         error
}

var _ llm.Client = (*fakeLLM)(nil)

func (f *fakeLLM) Complete(_ context.Context, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	i := f.calls
	f.calls++
	if i >= len(f.completions) {
		i = len(f.completions) - 1
	}
	if i < 0 {
		return "", nil
	}
	return f.completions[i], nil
}

func (f *fakeLLM) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu        sync.Mutex
	published []struct {
		subject string
		data    []byte
	}
}

var _ messagequeue.Queue = (*mockQueue)(nil)

func (q *mockQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.published = append(q.published, struct {
		subject string
		data    []byte
	}{subject, data})
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, _ string, _ messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *mockQueue) Close() error      { return nil }
func (q *mockQueue) IsConnected() bool { return true }

func (q *mockQueue) subjects() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, p := range q.published {
		out = append(out, p.subject)
	}
	return out
}

// mockHub implements broadcast.Broadcaster, recording event types.
type mockHub struct {
	mu     sync.Mutex
	events []string
}

func (h *mockHub) BroadcastEvent(_ context.Context, eventType string, _ any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, eventType)
}
