package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/port/ragstore"
	"github.com/gpericol/researchflow/internal/port/store"
)

// RAGService answers questions against the knowledge index a finished run
// built for a task group.
type RAGService struct {
	store  store.Store
	rag    ragstore.Store
	logger *slog.Logger
}

// NewRAGService creates a new RAGService.
func NewRAGService(st store.Store, rag ragstore.Store, logger *slog.Logger) *RAGService {
	return &RAGService{store: st, rag: rag, logger: logger}
}

// Query runs a retrieval query against the index of the given group.
func (s *RAGService) Query(ctx context.Context, researchID string, groupIndex int, query string) (*ragstore.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", domain.ErrValidation)
	}

	group, err := s.store.GetGroup(ctx, researchID, groupIndex)
	if err != nil {
		return nil, err
	}
	if group.RAGID == "" {
		return nil, fmt.Errorf("group %d has no research results yet: %w", groupIndex, domain.ErrNotFound)
	}

	answer, err := s.rag.Query(ctx, group.RAGID, query)
	if err != nil {
		return nil, err
	}

	s.logger.Info("rag query answered", "research_id", researchID, "group_index", groupIndex, "sources", len(answer.Sources))
	return answer, nil
}
