// Package ragstore defines the port for the retrieval-augmented generation
// index built from research results.
package ragstore

import (
	"context"

	"github.com/gpericol/researchflow/internal/domain/research"
)

// Source is one document that contributed to an answer.
type Source struct {
	Title string  `json:"title,omitempty"`
	URL   string  `json:"url,omitempty"`
	Score float64 `json:"score"`
}

// Answer is the response to a RAG query.
type Answer struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

// Store builds and queries retrieval indexes. The index id is chosen by the
// caller (one index per task group) and stored on the group once a run has
// finished; Save on an existing id folds the new results into it.
type Store interface {
	Save(ctx context.Context, ragID, groupPrompt string, results []research.Result, metadata map[string]string) error
	Exists(ctx context.Context, ragID string) (bool, error)
	Query(ctx context.Context, ragID, query string) (*Answer, error)
}
