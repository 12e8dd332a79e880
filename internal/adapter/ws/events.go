package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Event type constants for WebSocket messages.
const (
	EventRunProgress  = "run.progress"
	EventRunLog       = "run.log"
	EventRunCompleted = "run.completed"
)

// RunProgressEvent is broadcast when a run completes a task.
type RunProgressEvent struct {
	ResearchID       string `json:"research_id"`
	GroupIndex       int    `json:"group_index"`
	CompletedTasks   []int  `json:"completed_tasks"`
	CurrentTaskIndex *int   `json:"current_task_index"`
}

// RunLogEvent is broadcast for each log line a run appends.
type RunLogEvent struct {
	ResearchID string `json:"research_id"`
	GroupIndex int    `json:"group_index"`
	Line       string `json:"line"`
}

// RunCompletedEvent is broadcast when a run reaches its terminal state.
type RunCompletedEvent struct {
	ResearchID     string `json:"research_id"`
	GroupIndex     int    `json:"group_index"`
	CompletedTasks int    `json:"completed_tasks"`
	RAGID          string `json:"rag_id,omitempty"`
}

// scoped is implemented by payloads that belong to a single research; the
// hub uses it to route the event to the clients watching that research.
type scoped interface {
	research() string
}

func (e RunProgressEvent) research() string  { return e.ResearchID }
func (e RunLogEvent) research() string       { return e.ResearchID }
func (e RunCompletedEvent) research() string { return e.ResearchID }

// BroadcastEvent marshals a typed event and broadcasts it to the clients
// watching its research. Payloads without a research scope go to everyone.
func (h *Hub) BroadcastEvent(ctx context.Context, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	target := ""
	if s, ok := payload.(scoped); ok {
		target = s.research()
	}
	h.Broadcast(ctx, target, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
