package websearch

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gpericol/researchflow/internal/config"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/llm"
	"github.com/gpericol/researchflow/internal/port/searchengine"
)

const queryBuilderPrompt = `You are a search query expert. Given a research task,
produce ONE concise web search query that would surface the most relevant pages.
Reply with the query only, no quotes, no explanation.`

const linkRelevancePrompt = `You evaluate search results. Given a research task
and a search result (title and snippet), rate how likely the page is to contain
information relevant to the task. Reply with a single number between 0.0 and 1.0.`

const contentRelevancePrompt = `You evaluate page content. Given a research task
and the text of a web page, rate how relevant the content is to the task.
Reply with a single number between 0.0 and 1.0.`

// Orchestrator drives the search → filter → scrape → score pipeline for one
// research task. It implements searchengine.Engine and is safe for concurrent
// use.
type Orchestrator struct {
	cfg     config.Search
	llm     llm.Client
	search  searchClient
	scraper *scraper
	cache   *contentCache
}

var _ searchengine.Engine = (*Orchestrator)(nil)

// NewOrchestrator wires the pipeline from its collaborators.
func NewOrchestrator(cfg config.Search, llmClient llm.Client, search *GoogleClient) (*Orchestrator, error) {
	cache, err := newContentCache(cfg.CacheSizeMB << 20)
	if err != nil {
		return nil, fmt.Errorf("content cache: %w", err)
	}
	return &Orchestrator{
		cfg:     cfg,
		llm:     llmClient,
		search:  search,
		scraper: newScraper(cfg.FetchTimeout),
		cache:   cache,
	}, nil
}

// Close releases the content cache.
func (o *Orchestrator) Close() {
	o.cache.close()
}

// Search runs up to MaxSearchCycles query variations until MaxRelevantResults
// relevant documents are collected. Individual page failures are logged and
// skipped.
func (o *Orchestrator) Search(ctx context.Context, taskPrompt string, logf searchengine.Logf) ([]research.Result, error) {
	if logf == nil {
		logf = func(string, ...any) {}
	}

	var (
		results     []research.Result
		seen        = map[string]bool{}
		pastQueries []string
	)

	for cycle := 1; cycle <= o.cfg.MaxSearchCycles && len(results) < o.cfg.MaxRelevantResults; cycle++ {
		query, err := o.buildQuery(ctx, taskPrompt, pastQueries)
		if err != nil {
			return nil, fmt.Errorf("build query: %w", err)
		}
		pastQueries = append(pastQueries, query)
		logf("search cycle %d/%d: %q", cycle, o.cfg.MaxSearchCycles, query)

		items, err := o.search.Search(ctx, query, o.cfg.ResultsLimit)
		if err != nil {
			return nil, fmt.Errorf("web search: %w", err)
		}
		logf("found %d search results", len(items))

		for _, item := range items {
			if len(results) >= o.cfg.MaxRelevantResults {
				break
			}
			if item.Link == "" || seen[item.Link] {
				continue
			}
			seen[item.Link] = true

			linkScore, err := o.scoreLink(ctx, taskPrompt, item)
			if err != nil {
				logf("skipping %s: relevance scoring failed: %v", item.Link, err)
				continue
			}
			if linkScore < o.cfg.LinkRelevanceThreshold {
				continue
			}

			content, err := o.pageContent(ctx, item.Link)
			if err != nil {
				logf("skipping %s: %v", item.Link, err)
				continue
			}
			if content == "" {
				continue
			}

			contentScore, err := o.scoreContent(ctx, taskPrompt, content)
			if err != nil {
				logf("skipping %s: content scoring failed: %v", item.Link, err)
				continue
			}
			if contentScore < o.cfg.ContentRelevanceThreshold {
				logf("discarded %s: content score %.2f below threshold", item.Link, contentScore)
				continue
			}

			logf("accepted %s (score %.2f)", item.Link, contentScore)
			results = append(results, research.Result{
				Title:   item.Title,
				URL:     item.Link,
				Content: content,
				Score:   contentScore,
			})
		}
	}

	return results, nil
}

// buildQuery asks the LLM for a search query, steering it away from queries
// already tried in earlier cycles.
func (o *Orchestrator) buildQuery(ctx context.Context, taskPrompt string, pastQueries []string) (string, error) {
	user := "Research task: " + taskPrompt
	if len(pastQueries) > 0 {
		user += "\n\nQueries already tried (produce a different one):\n" + strings.Join(pastQueries, "\n")
	}

	out, err := o.llm.Complete(ctx, queryBuilderPrompt, user)
	if err != nil {
		return "", err
	}
	query := strings.Trim(strings.TrimSpace(out), `"`)
	if query == "" {
		return taskPrompt, nil
	}
	return query, nil
}

func (o *Orchestrator) scoreLink(ctx context.Context, taskPrompt string, item SearchItem) (float64, error) {
	user := fmt.Sprintf("Research task: %s\n\nTitle: %s\nSnippet: %s", taskPrompt, item.Title, item.Snippet)
	out, err := o.llm.Complete(ctx, linkRelevancePrompt, user)
	if err != nil {
		return 0, err
	}
	return parseScore(out)
}

func (o *Orchestrator) scoreContent(ctx context.Context, taskPrompt, content string) (float64, error) {
	const scoringWindow = 4000
	if len(content) > scoringWindow {
		content = content[:scoringWindow]
	}
	user := fmt.Sprintf("Research task: %s\n\nPage content:\n%s", taskPrompt, content)
	out, err := o.llm.Complete(ctx, contentRelevancePrompt, user)
	if err != nil {
		return 0, err
	}
	return parseScore(out)
}

// pageContent returns the extracted text for a URL, from cache when possible.
func (o *Orchestrator) pageContent(ctx context.Context, url string) (string, error) {
	if content, ok := o.cache.get(url); ok {
		return content, nil
	}
	content, err := o.scraper.fetch(ctx, url)
	if err != nil {
		return "", err
	}
	o.cache.set(url, content)
	return content, nil
}

// parseScore extracts the first number from an LLM reply and clamps it to
// [0, 1].
func parseScore(out string) (float64, error) {
	for _, field := range strings.FieldsFunc(out, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.' && r != ','
	}) {
		field = strings.Trim(strings.ReplaceAll(field, ",", "."), ".")
		if field == "" {
			continue
		}
		score, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		return score, nil
	}
	return 0, fmt.Errorf("no score in reply %q", out)
}
