// Package apiclient provides a typed HTTP client for the ResearchFlow API,
// used by the researchwatch CLI and by external tooling.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gpericol/researchflow/internal/domain/job"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/ragstore"
	"github.com/gpericol/researchflow/internal/resilience"
)

// Client talks to a ResearchFlow server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a new API client. baseURL is the server root, e.g.
// "http://localhost:8080".
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Outcome is the success/error envelope the study endpoints answer with.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// Err converts a rejected outcome into an error.
func (o Outcome) Err() error {
	if o.Success {
		return nil
	}
	return fmt.Errorf("request rejected: %s", o.Error)
}

// ListResearches returns all research sessions.
func (c *Client) ListResearches(ctx context.Context) ([]research.Summary, error) {
	var out []research.Summary
	if err := c.do(ctx, http.MethodGet, "/research/", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetResearch returns one research session with its groups and tasks.
func (c *Client) GetResearch(ctx context.Context, id string) (*research.Research, error) {
	var out research.Research
	if err := c.do(ctx, http.MethodGet, "/research/"+url.PathEscape(id)+"/", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartResearch requests a background run for the given group.
func (c *Client) StartResearch(ctx context.Context, researchID string, groupIndex int) error {
	var out Outcome
	path := fmt.Sprintf("/research/%s/start-research/%d", url.PathEscape(researchID), groupIndex)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	return out.Err()
}

// CheckProgress returns the current run snapshot for the given group.
func (c *Client) CheckProgress(ctx context.Context, researchID string, groupIndex int) (job.Snapshot, error) {
	var out job.Snapshot
	path := fmt.Sprintf("/research/%s/check-research-progress/%d", url.PathEscape(researchID), groupIndex)
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetLogs returns up to lines of the most recent run log lines, oldest
// first. lines <= 0 fetches the whole log.
func (c *Client) GetLogs(ctx context.Context, researchID string, lines int) ([]string, error) {
	path := "/research/" + url.PathEscape(researchID) + "/get-logs"
	if lines > 0 {
		path += "?lines=" + strconv.Itoa(lines)
	}
	var out struct {
		Logs []string `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

// AddCustomTask appends a task to a group and returns its position.
func (c *Client) AddCustomTask(ctx context.Context, researchID string, groupIndex int, text string) (int, error) {
	body := map[string]any{"groupIndex": groupIndex, "taskText": text}
	var out struct {
		Outcome
		Index int `json:"index"`
	}
	path := "/task/research/" + url.PathEscape(researchID) + "/add-custom-task"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return 0, err
	}
	return out.Index, out.Err()
}

// RemoveTask deletes the task at taskIndex from the given group.
func (c *Client) RemoveTask(ctx context.Context, researchID string, groupIndex, taskIndex int) error {
	var out Outcome
	path := fmt.Sprintf("/task/research/%s/remove-task/%d/%d", url.PathEscape(researchID), groupIndex, taskIndex)
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return err
	}
	return out.Err()
}

// RAGAnswer is the response to a knowledge-index query.
type RAGAnswer struct {
	Response string            `json:"response"`
	Sources  []ragstore.Source `json:"sources"`
}

// ExecuteRAGQuery asks a question against the group's knowledge index.
func (c *Client) ExecuteRAGQuery(ctx context.Context, researchID string, groupIndex int, query string) (*RAGAnswer, error) {
	q := url.Values{}
	q.Set("group_index", strconv.Itoa(groupIndex))
	q.Set("query", query)
	path := "/research/" + url.PathEscape(researchID) + "/execute-rag-query?" + q.Encode()

	var out struct {
		Outcome
		RAGAnswer
	}
	if err := c.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	if err := out.Err(); err != nil {
		return nil, err
	}
	return &out.RAGAnswer, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	call := func() error {
		var reader io.Reader
		if body != nil {
			data, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("marshal request: %w", err)
			}
			reader = bytes.NewReader(data)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request %s %s: %w", method, path, err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode >= 400 {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(data))
		}
		if out != nil {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}

	if c.breaker != nil {
		return c.breaker.Execute(call)
	}
	return call()
}
