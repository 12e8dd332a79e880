// Package searchengine defines the port for the web research pipeline.
package searchengine

import (
	"context"

	"github.com/gpericol/researchflow/internal/domain/research"
)

// Logf receives human-readable progress lines from the engine while a search
// is running. Implementations append them to the run's log buffer.
type Logf func(format string, args ...any)

// Engine runs one research task against the web and returns the relevant
// documents it found. Implementations are expected to be safe for concurrent
// use by multiple runs.
type Engine interface {
	Search(ctx context.Context, taskPrompt string, logf Logf) ([]research.Result, error)
}
