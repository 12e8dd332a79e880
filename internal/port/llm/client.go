// Package llm defines the port for the language model used by brainstorming,
// task generation, relevance scoring and RAG answer synthesis.
package llm

import "context"

// Client is the port interface for chat completions and embeddings.
type Client interface {
	// Complete sends a system + user prompt pair and returns the model's
	// text response.
	Complete(ctx context.Context, system, user string) (string, error)

	// Embed returns one embedding vector per input text.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
