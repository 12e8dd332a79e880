// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subject constants for run lifecycle and log streaming.
const (
	SubjectRunStarted   = "research.runs.started"
	SubjectRunCompleted = "research.runs.completed"
	SubjectRunLog       = "research.runs.log" // streamed log lines
)

// RunEvent is the payload published on run lifecycle subjects.
type RunEvent struct {
	ResearchID     string `json:"research_id"`
	GroupIndex     int    `json:"group_index"`
	CompletedTasks int    `json:"completed_tasks,omitempty"`
	RAGID          string `json:"rag_id,omitempty"`
}

// LogEvent is the payload published on SubjectRunLog.
type LogEvent struct {
	ResearchID string `json:"research_id"`
	GroupIndex int    `json:"group_index"`
	Line       string `json:"line"`
}
