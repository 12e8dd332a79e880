// Package research defines the research session entities: a Research owns an
// ordered list of TaskGroups, each of which owns an ordered list of Tasks.
package research

import "time"

// Task is a single research point inside a group. Tasks carry a durable
// generated ID; the positional index within the group is what the wire
// protocol uses to address them, so Position is renumbered when an earlier
// task is removed.
type Task struct {
	ID          string    `json:"id"`
	Position    int       `json:"position"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TaskGroup is a set of tasks derived from one refined prompt and the target
// of one research run at a time. RAGID is set only after a run has finished
// and its results were folded into a retrieval index.
type TaskGroup struct {
	ID                 string    `json:"id"`
	Position           int       `json:"position"`
	Prompt             string    `json:"prompt"`
	Tasks              []Task    `json:"tasks"`
	ResearchInProgress bool      `json:"research_in_progress"`
	RAGID              string    `json:"rag_id,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// PendingTasks returns the tasks not yet completed, in position order.
func (g *TaskGroup) PendingTasks() []Task {
	var pending []Task
	for _, t := range g.Tasks {
		if !t.Completed {
			pending = append(pending, t)
		}
	}
	return pending
}

// Prompt is one round of the brainstorming flow: the user's original prompt,
// the refined version produced from their answers, and the answers themselves.
type Prompt struct {
	Original  string            `json:"original"`
	Refined   string            `json:"refined"`
	Answers   map[string]string `json:"answers,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Research is a user-initiated research project.
type Research struct {
	ID         string      `json:"id"`
	Title      string      `json:"title"`
	LastPrompt Prompt      `json:"last_prompt"`
	Prompts    []Prompt    `json:"prompts,omitempty"`
	Groups     []TaskGroup `json:"tasks"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Summary is the listing view of a research session.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Groups    int       `json:"groups"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is one relevant document produced by the web research pipeline.
type Result struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
