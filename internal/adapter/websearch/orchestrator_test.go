package websearch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gpericol/researchflow/internal/config"
	"github.com/gpericol/researchflow/internal/port/llm"
)

// fakeLLM scripts replies by matching a substring of the system prompt.
type fakeLLM struct {
	queryReply   string
	linkScore    string
	contentScore string
}

var _ llm.Client = (*fakeLLM)(nil)

func (f *fakeLLM) Complete(_ context.Context, system, _ string) (string, error) {
	switch {
	case strings.Contains(system, "search query expert"):
		return f.queryReply, nil
	case strings.Contains(system, "evaluate search results"):
		return f.linkScore, nil
	case strings.Contains(system, "evaluate page content"):
		return f.contentScore, nil
	}
	return "", fmt.Errorf("unexpected prompt")
}

func (f *fakeLLM) Embed(context.Context, []string) ([][]float32, error) {
	return nil, fmt.Errorf("not used")
}

type fakeSearch struct {
	items []SearchItem
	calls int
}

func (f *fakeSearch) Search(_ context.Context, _ string, _ int) ([]SearchItem, error) {
	f.calls++
	return f.items, nil
}

func testConfig() config.Search {
	return config.Search{
		ResultsLimit:              10,
		MaxRelevantResults:        2,
		MaxSearchCycles:           2,
		LinkRelevanceThreshold:    0.7,
		ContentRelevanceThreshold: 0.7,
		CacheSizeMB:               1,
		FetchTimeout:              5 * time.Second,
	}
}

func newTestOrchestrator(t *testing.T, cfg config.Search, l llm.Client, s searchClient) *Orchestrator {
	t.Helper()
	cache, err := newContentCache(cfg.CacheSizeMB << 20)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(cache.close)
	return &Orchestrator{
		cfg:     cfg,
		llm:     l,
		search:  s,
		scraper: newScraper(cfg.FetchTimeout),
		cache:   cache,
	}
}

func TestSearch_CollectsRelevantResults(t *testing.T) {
	page := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("<html><body><p>Useful research content.</p></body></html>"))
	}))
	defer page.Close()

	o := newTestOrchestrator(t, testConfig(),
		&fakeLLM{queryReply: "golang concurrency", linkScore: "0.9", contentScore: "0.85"},
		&fakeSearch{items: []SearchItem{
			{Title: "A", Link: page.URL + "/a", Snippet: "about a"},
			{Title: "B", Link: page.URL + "/b", Snippet: "about b"},
			{Title: "C", Link: page.URL + "/c", Snippet: "about c"},
		}},
	)

	var logged []string
	results, err := o.Search(context.Background(), "explain goroutines", func(format string, args ...any) {
		logged = append(logged, fmt.Sprintf(format, args...))
	})
	if err != nil {
		t.Fatal(err)
	}

	// MaxRelevantResults caps collection at 2 even though 3 links qualify.
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Title != "A" || results[0].Score != 0.85 {
		t.Errorf("unexpected first result %+v", results[0])
	}
	if !strings.Contains(results[0].Content, "Useful research content.") {
		t.Errorf("content not extracted: %q", results[0].Content)
	}
	if len(logged) == 0 {
		t.Error("expected progress log lines")
	}
}

func TestSearch_FiltersLowRelevanceLinks(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(),
		&fakeLLM{queryReply: "q", linkScore: "0.2", contentScore: "0.9"},
		&fakeSearch{items: []SearchItem{{Title: "A", Link: "http://127.0.0.1:1/a"}}},
	)

	results, err := o.Search(context.Background(), "task", nil)
	if err != nil {
		t.Fatal(err)
	}
	// Low link score means the page is never fetched, so the dead URL above
	// must not surface as an error.
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSearch_SkipsUnreachablePages(t *testing.T) {
	o := newTestOrchestrator(t, testConfig(),
		&fakeLLM{queryReply: "q", linkScore: "0.9", contentScore: "0.9"},
		&fakeSearch{items: []SearchItem{{Title: "A", Link: "http://127.0.0.1:1/dead"}}},
	)

	results, err := o.Search(context.Background(), "task", nil)
	if err != nil {
		t.Fatalf("fetch failure must be skipped, not fatal: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSearch_RetriesCyclesUntilEnough(t *testing.T) {
	search := &fakeSearch{} // always empty
	o := newTestOrchestrator(t, testConfig(),
		&fakeLLM{queryReply: "q", linkScore: "0.9", contentScore: "0.9"},
		search,
	)

	if _, err := o.Search(context.Background(), "task", nil); err != nil {
		t.Fatal(err)
	}
	if search.calls != 2 {
		t.Fatalf("expected 2 search cycles, got %d", search.calls)
	}
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"0.8", 0.8, false},
		{"Score: 0.75", 0.75, false},
		{"1", 1, false},
		{"0,9", 0.9, false},
		{"2.5", 1, false}, // clamped
		{"no digits here", 0, true},
	}
	for _, c := range cases {
		got, err := parseScore(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseScore(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseScore(%q): %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("parseScore(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
