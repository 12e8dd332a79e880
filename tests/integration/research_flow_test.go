//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/gpericol/researchflow/internal/apiclient"
)

func postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(testServer.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestResearchLifecycle(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()
	client := apiclient.New(testServer.URL)

	// 1. Create a research session
	var created struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if code := postJSON(t, "/research/", map[string]string{"title": "solar adoption"}, &created); code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", code)
	}
	if created.ID == "" {
		t.Fatal("expected non-empty research ID")
	}

	// 2. Brainstorm: questions, answers, refined prompt
	var questions struct {
		Success   bool     `json:"success"`
		Questions []string `json:"questions"`
	}
	postJSON(t, "/research/"+created.ID+"/generate-questions",
		map[string]string{"prompt": "tell me about solar adoption"}, &questions)
	if !questions.Success || len(questions.Questions) != 3 {
		t.Fatalf("questions = %+v", questions)
	}

	answers := map[string]string{}
	for _, q := range questions.Questions {
		answers[q] = "whatever fits"
	}
	var refined struct {
		Success       bool   `json:"success"`
		RefinedPrompt string `json:"refined_prompt"`
	}
	postJSON(t, "/research/"+created.ID+"/submit-answers",
		map[string]any{"answers": answers}, &refined)
	if !refined.Success || refined.RefinedPrompt == "" {
		t.Fatalf("refined = %+v", refined)
	}

	// 3. Generate a task group
	var generated struct {
		Success    bool `json:"success"`
		GroupIndex int  `json:"group_index"`
		Tasks      []struct {
			Description string `json:"description"`
		} `json:"tasks"`
	}
	postJSON(t, "/research/"+created.ID+"/generate-tasks", map[string]string{}, &generated)
	if !generated.Success || len(generated.Tasks) != 3 {
		t.Fatalf("generated = %+v", generated)
	}
	group := generated.GroupIndex

	// 4. Add and remove a custom task through the client
	idx, err := client.AddCustomTask(ctx, created.ID, group, "extra task")
	if err != nil {
		t.Fatalf("add custom task: %v", err)
	}
	if idx != 3 {
		t.Fatalf("expected new task at index 3, got %d", idx)
	}
	if err := client.RemoveTask(ctx, created.ID, group, idx); err != nil {
		t.Fatalf("remove task: %v", err)
	}

	// 5. Start the research and poll to completion
	if err := client.StartResearch(ctx, created.ID, group); err != nil {
		t.Fatalf("start research: %v", err)
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		snap, err := client.CheckProgress(ctx, created.ID, group)
		if err != nil {
			t.Fatalf("check progress: %v", err)
		}
		if snap.Completed {
			if snap.InProgress {
				t.Fatal("completed run still reports in_progress")
			}
			if len(snap.CompletedTasks) != 3 {
				t.Fatalf("completed tasks = %v", snap.CompletedTasks)
			}
			if snap.RAGID == "" {
				t.Fatal("expected rag_id after completion")
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("run did not complete in time")
		}
		time.Sleep(50 * time.Millisecond)
	}

	// 6. Logs were flushed to the store
	if err := testRunner.Shutdown(ctx); err != nil {
		t.Fatalf("runner shutdown: %v", err)
	}
	logs, err := client.GetLogs(ctx, created.ID, 0)
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	if len(logs) == 0 {
		t.Fatal("expected persisted run logs")
	}

	// 7. Query the knowledge index built from the results
	answer, err := client.ExecuteRAGQuery(ctx, created.ID, group, "what did we find?")
	if err != nil {
		t.Fatalf("rag query: %v", err)
	}
	if answer.Response == "" {
		t.Fatal("expected non-empty answer")
	}
	if len(answer.Sources) == 0 {
		t.Fatal("expected at least one source")
	}
}

func TestStartResearchConflict(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()
	client := apiclient.New(testServer.URL)

	// Starting a run on a group that does not exist is a business rejection,
	// reported in the outcome envelope rather than an HTTP error.
	var created struct {
		ID string `json:"id"`
	}
	postJSON(t, "/research/", map[string]string{"title": "empty session"}, &created)

	err := client.StartResearch(ctx, created.ID, 0)
	if err == nil {
		t.Fatal("expected rejection for unknown group")
	}
}
