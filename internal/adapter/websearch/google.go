// Package websearch implements the search engine port: Google Custom Search,
// page scraping with an in-process cache, and LLM relevance scoring.
package websearch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"encoding/json"

	"github.com/gpericol/researchflow/internal/resilience"
)

const googleEndpoint = "https://www.googleapis.com/customsearch/v1"

// SearchItem is one raw result from the search API.
type SearchItem struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet"`
}

// searchClient is the outbound search API dependency of the orchestrator,
// narrowed to an interface so tests can fake it.
type searchClient interface {
	Search(ctx context.Context, query string, limit int) ([]SearchItem, error)
}

// GoogleClient talks to the Google Custom Search JSON API.
type GoogleClient struct {
	endpoint   string
	apiKey     string
	engineID   string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewGoogleClient creates a Google Custom Search client.
func NewGoogleClient(apiKey, engineID string) *GoogleClient {
	return &GoogleClient{
		endpoint: googleEndpoint,
		apiKey:   apiKey,
		engineID: engineID,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *GoogleClient) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Search runs one query and returns up to limit results. The API caps a
// single page at 10 items, so larger limits are fetched page by page.
func (c *GoogleClient) Search(ctx context.Context, query string, limit int) ([]SearchItem, error) {
	if limit <= 0 {
		limit = 10
	}

	var items []SearchItem
	for start := 1; len(items) < limit; start += 10 {
		page, err := c.searchPage(ctx, query, start, min(10, limit-len(items)))
		if err != nil {
			return nil, err
		}
		if len(page) == 0 {
			break
		}
		items = append(items, page...)
	}
	return items, nil
}

func (c *GoogleClient) searchPage(ctx context.Context, query string, start, num int) ([]SearchItem, error) {
	q := url.Values{}
	q.Set("key", c.apiKey)
	q.Set("cx", c.engineID)
	q.Set("q", query)
	q.Set("start", strconv.Itoa(start))
	q.Set("num", strconv.Itoa(num))

	var items []SearchItem
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("search API error %d: %s", resp.StatusCode, string(data))
		}

		var result struct {
			Items []SearchItem `json:"items"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("unmarshal search response: %w", err)
		}
		items = result.Items
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return items, nil
	}
	if err := call(); err != nil {
		return nil, err
	}
	return items, nil
}
