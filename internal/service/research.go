// Package service implements business logic on top of ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/llm"
	"github.com/gpericol/researchflow/internal/port/store"
)

const questionsSystemPrompt = `You are a research assistant helping a user sharpen a research topic.
Given the user's initial prompt, produce exactly 3 clarifying questions that
would help narrow the scope of the research. Output one question per line,
with no numbering and no extra text.`

const refineSystemPrompt = `You are a research assistant. Given a user's initial research prompt and
their answers to clarifying questions, rewrite the prompt as a single focused
research brief. Output only the refined prompt text.`

const tasksSystemPrompt = `You are a research planner. Given a refined research brief, break it down
into 3 to 6 concrete research tasks. Each task must be independently
researchable on the web. Output one task per line, with no numbering and no
extra text.`

// ResearchService handles research session lifecycle: creation, brainstorming
// (clarifying questions and prompt refinement) and task generation.
type ResearchService struct {
	store  store.Store
	llm    llm.Client
	logger *slog.Logger
}

// NewResearchService creates a new ResearchService.
func NewResearchService(st store.Store, client llm.Client, logger *slog.Logger) *ResearchService {
	return &ResearchService{store: st, llm: client, logger: logger}
}

// Create creates a new research session. An empty title gets a default name.
func (s *ResearchService) Create(ctx context.Context, title string) (*research.Research, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "New research"
	}
	return s.store.CreateResearch(ctx, title)
}

// List returns all research sessions.
func (s *ResearchService) List(ctx context.Context) ([]research.Summary, error) {
	return s.store.ListResearches(ctx)
}

// Get returns a research session by ID.
func (s *ResearchService) Get(ctx context.Context, id string) (*research.Research, error) {
	return s.store.GetResearch(ctx, id)
}

// GenerateQuestions records the user's initial prompt and returns clarifying
// questions for the brainstorming round.
func (s *ResearchService) GenerateQuestions(ctx context.Context, researchID, prompt string) ([]string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required: %w", domain.ErrValidation)
	}
	if _, err := s.store.GetResearch(ctx, researchID); err != nil {
		return nil, err
	}

	out, err := s.llm.Complete(ctx, questionsSystemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate questions: %w", err)
	}
	questions := splitLines(out)
	if len(questions) == 0 {
		return nil, fmt.Errorf("generate questions: model returned no questions")
	}

	if err := s.store.SaveLastPrompt(ctx, researchID, research.Prompt{Original: prompt}); err != nil {
		return nil, err
	}

	s.logger.Info("generated brainstorming questions", "research_id", researchID, "count", len(questions))
	return questions, nil
}

// SubmitAnswers refines the initial prompt from the user's answers and stores
// the completed brainstorming round.
func (s *ResearchService) SubmitAnswers(ctx context.Context, researchID string, answers map[string]string) (string, error) {
	if len(answers) == 0 {
		return "", fmt.Errorf("answers are required: %w", domain.ErrValidation)
	}
	r, err := s.store.GetResearch(ctx, researchID)
	if err != nil {
		return "", err
	}
	if r.LastPrompt.Original == "" {
		return "", fmt.Errorf("no prompt submitted yet: %w", domain.ErrValidation)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Initial prompt: %s\n\nAnswers to clarifying questions:\n", r.LastPrompt.Original)
	for q, a := range answers {
		fmt.Fprintf(&b, "Q: %s\nA: %s\n", q, a)
	}

	refined, err := s.llm.Complete(ctx, refineSystemPrompt, b.String())
	if err != nil {
		return "", fmt.Errorf("refine prompt: %w", err)
	}
	refined = strings.TrimSpace(refined)
	if refined == "" {
		return "", fmt.Errorf("refine prompt: model returned empty text")
	}

	p := research.Prompt{
		Original: r.LastPrompt.Original,
		Refined:  refined,
		Answers:  answers,
	}
	if err := s.store.SaveLastPrompt(ctx, researchID, p); err != nil {
		return "", err
	}
	if err := s.store.AppendPrompt(ctx, researchID, p); err != nil {
		return "", err
	}

	s.logger.Info("refined research prompt", "research_id", researchID)
	return refined, nil
}

// GenerateTasks derives a new task group from the research's refined prompt.
// It returns the new group's position and its tasks.
func (s *ResearchService) GenerateTasks(ctx context.Context, researchID string) (int, []research.Task, error) {
	r, err := s.store.GetResearch(ctx, researchID)
	if err != nil {
		return 0, nil, err
	}
	if r.LastPrompt.Refined == "" {
		return 0, nil, fmt.Errorf("no refined prompt yet: %w", domain.ErrValidation)
	}

	out, err := s.llm.Complete(ctx, tasksSystemPrompt, r.LastPrompt.Refined)
	if err != nil {
		return 0, nil, fmt.Errorf("generate tasks: %w", err)
	}
	descriptions := splitLines(out)
	if len(descriptions) == 0 {
		return 0, nil, fmt.Errorf("generate tasks: model returned no tasks")
	}

	position, err := s.store.AppendTasks(ctx, researchID, descriptions)
	if err != nil {
		return 0, nil, err
	}

	g, err := s.store.GetGroup(ctx, researchID, position)
	if err != nil {
		return 0, nil, err
	}

	s.logger.Info("generated task group", "research_id", researchID, "group_index", position, "tasks", len(g.Tasks))
	return position, g.Tasks, nil
}

// splitLines parses model output into clean items: one per non-empty line,
// with bullet and numbering prefixes stripped.
func splitLines(out string) []string {
	var items []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789.) ")
		if line != "" {
			items = append(items, line)
		}
	}
	return items
}
