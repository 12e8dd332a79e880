package service

import (
	"context"
	"errors"
	"testing"

	"github.com/gpericol/researchflow/internal/domain"
)

func TestRAGServiceQueryValidation(t *testing.T) {
	st := newMockStore()
	id := st.seedGroup("a")
	svc := NewRAGService(st, newFakeRAG(), discardLogger())

	_, err := svc.Query(context.Background(), id, 0, "  ")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want ErrValidation", err)
	}
}

func TestRAGServiceQueryWithoutIndex(t *testing.T) {
	st := newMockStore()
	id := st.seedGroup("a")
	svc := NewRAGService(st, newFakeRAG(), discardLogger())

	_, err := svc.Query(context.Background(), id, 0, "what did we find?")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestRAGServiceQuery(t *testing.T) {
	st := newMockStore()
	id := st.seedGroup("a")
	ctx := context.Background()
	if err := st.SetGroupRAGID(ctx, id, 0, "rag_test_0"); err != nil {
		t.Fatalf("seed rag id: %v", err)
	}
	svc := NewRAGService(st, newFakeRAG(), discardLogger())

	answer, err := svc.Query(ctx, id, 0, "what did we find?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if answer.Response != "answer for rag_test_0" {
		t.Errorf("response = %q, query not routed to the group's index", answer.Response)
	}
}
