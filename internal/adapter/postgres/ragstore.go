package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gpericol/researchflow/internal/config"
	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/llm"
	"github.com/gpericol/researchflow/internal/port/ragstore"
)

const ragAnswerSystemPrompt = `You are a research assistant. Answer the user's question using only the
provided context passages. Cite facts from the passages; if the context does
not contain the answer, say so plainly. Be concise.`

// RAGStore implements ragstore.Store on PostgreSQL. Result documents are
// chunked, embedded and stored as float4 arrays; queries embed the question,
// rank chunks by cosine similarity in memory and synthesize an answer with
// the chat model.
type RAGStore struct {
	pool *pgxpool.Pool
	llm  llm.Client
	cfg  config.RAG
}

var _ ragstore.Store = (*RAGStore)(nil)

// NewRAGStore creates a RAGStore using the given pool and LLM client.
func NewRAGStore(pool *pgxpool.Pool, client llm.Client, cfg config.RAG) *RAGStore {
	return &RAGStore{pool: pool, llm: client, cfg: cfg}
}

func (s *RAGStore) Save(ctx context.Context, ragID, groupPrompt string, results []research.Result, metadata map[string]string) error {
	type chunk struct {
		title, url, text string
	}
	var chunks []chunk
	for _, r := range results {
		for _, part := range splitChunks(r.Content, s.cfg.ChunkSize) {
			chunks = append(chunks, chunk{title: r.Title, url: r.URL, text: part})
		}
	}

	var embeddings [][]float32
	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.text
		}
		var err error
		embeddings, err = s.llm.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks for %s: %w", ragID, err)
		}
		if len(embeddings) != len(chunks) {
			return fmt.Errorf("embed chunks for %s: got %d vectors for %d chunks", ragID, len(embeddings), len(chunks))
		}
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if metadata == nil {
		meta = []byte("{}")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`INSERT INTO rag_indexes (id, prompt, metadata) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET prompt = EXCLUDED.prompt, metadata = EXCLUDED.metadata`,
		ragID, groupPrompt, meta)
	if err != nil {
		return fmt.Errorf("upsert rag index %s: %w", ragID, err)
	}

	for i, c := range chunks {
		_, err = tx.Exec(ctx,
			`INSERT INTO rag_chunks (rag_id, title, url, content, embedding) VALUES ($1, $2, $3, $4, $5)`,
			ragID, c.title, c.url, c.text, embeddings[i])
		if err != nil {
			return fmt.Errorf("insert rag chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rag save: %w", err)
	}
	return nil
}

func (s *RAGStore) Exists(ctx context.Context, ragID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM rag_indexes WHERE id = $1)`, ragID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check rag index %s: %w", ragID, err)
	}
	return exists, nil
}

func (s *RAGStore) Query(ctx context.Context, ragID, query string) (*ragstore.Answer, error) {
	exists, err := s.Exists(ctx, ragID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("rag index %s: %w", ragID, domain.ErrNotFound)
	}

	vectors, err := s.llm.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	queryVec := vectors[0]

	rows, err := s.pool.Query(ctx,
		`SELECT title, url, content, embedding FROM rag_chunks WHERE rag_id = $1`, ragID)
	if err != nil {
		return nil, fmt.Errorf("load chunks for %s: %w", ragID, err)
	}
	defer rows.Close()

	type scored struct {
		title, url, content string
		score               float64
	}
	var candidates []scored
	for rows.Next() {
		var (
			c         scored
			embedding []float32
		)
		if err := rows.Scan(&c.title, &c.url, &c.content, &embedding); err != nil {
			return nil, fmt.Errorf("scan rag chunk: %w", err)
		}
		c.score = cosineSimilarity(queryVec, embedding)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	if topK := s.cfg.TopK; topK > 0 && len(candidates) > topK {
		candidates = candidates[:topK]
	}

	if len(candidates) == 0 {
		return &ragstore.Answer{
			Response: "No indexed content is available for this research group yet.",
			Sources:  []ragstore.Source{},
		}, nil
	}

	var b strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, c.title, c.url, c.content)
	}
	user := fmt.Sprintf("Context passages:\n\n%sQuestion: %s", b.String(), query)

	response, err := s.llm.Complete(ctx, ragAnswerSystemPrompt, user)
	if err != nil {
		return nil, fmt.Errorf("synthesize answer for %s: %w", ragID, err)
	}

	// One source per distinct URL, keeping the best score.
	best := make(map[string]ragstore.Source)
	var order []string
	for _, c := range candidates {
		if src, ok := best[c.url]; !ok {
			best[c.url] = ragstore.Source{Title: c.title, URL: c.url, Score: c.score}
			order = append(order, c.url)
		} else if c.score > src.Score {
			src.Score = c.score
			best[c.url] = src
		}
	}
	sources := make([]ragstore.Source, 0, len(order))
	for _, url := range order {
		sources = append(sources, best[url])
	}

	return &ragstore.Answer{Response: strings.TrimSpace(response), Sources: sources}, nil
}

// splitChunks cuts text into pieces of at most size characters, preferring to
// break at whitespace so words stay whole.
func splitChunks(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexAny(text[:size], " \t\n"); idx > size/2 {
			cut = idx
		}
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
