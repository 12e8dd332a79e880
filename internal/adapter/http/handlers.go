package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gpericol/researchflow/internal/domain"
	"github.com/gpericol/researchflow/internal/domain/job"
	"github.com/gpericol/researchflow/internal/domain/research"
	"github.com/gpericol/researchflow/internal/port/ragstore"
	"github.com/gpericol/researchflow/internal/service"
)

// Handlers holds all HTTP handlers and their service dependencies.
type Handlers struct {
	Research *service.ResearchService
	Tasks    *service.TaskService
	Runner   *service.Runner
	RAG      *service.RAGService
}

// --- Research sessions ---

type createResearchRequest struct {
	Title string `json:"title"`
}

func (h *Handlers) CreateResearch(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[createResearchRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Research.Create(r.Context(), req.Title)
	if err != nil {
		writeDomainError(w, err, "research not found")
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *Handlers) ListResearches(w http.ResponseWriter, r *http.Request) {
	researches, err := h.Research.List(r.Context())
	if err != nil {
		writeDomainError(w, err, "researches not found")
		return
	}
	if researches == nil {
		researches = []research.Summary{}
	}
	writeJSON(w, http.StatusOK, researches)
}

func (h *Handlers) GetResearch(w http.ResponseWriter, r *http.Request) {
	res, err := h.Research.Get(r.Context(), urlParam(r, "research_id"))
	if err != nil {
		writeDomainError(w, err, "research not found")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Brainstorming ---

type generateQuestionsRequest struct {
	Prompt string `json:"prompt"`
}

type generateQuestionsResponse struct {
	Success   bool     `json:"success"`
	Questions []string `json:"questions"`
}

func (h *Handlers) GenerateQuestions(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[generateQuestionsRequest](w, r)
	if !ok {
		return
	}
	questions, err := h.Research.GenerateQuestions(r.Context(), urlParam(r, "research_id"), req.Prompt)
	if err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateQuestionsResponse{Success: true, Questions: questions})
}

type submitAnswersRequest struct {
	Answers map[string]string `json:"answers"`
}

type submitAnswersResponse struct {
	Success       bool   `json:"success"`
	RefinedPrompt string `json:"refined_prompt"`
}

func (h *Handlers) SubmitAnswers(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[submitAnswersRequest](w, r)
	if !ok {
		return
	}
	refined, err := h.Research.SubmitAnswers(r.Context(), urlParam(r, "research_id"), req.Answers)
	if err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitAnswersResponse{Success: true, RefinedPrompt: refined})
}

type generateTasksResponse struct {
	Success    bool            `json:"success"`
	GroupIndex int             `json:"group_index"`
	Tasks      []research.Task `json:"tasks"`
}

func (h *Handlers) GenerateTasks(w http.ResponseWriter, r *http.Request) {
	position, tasks, err := h.Research.GenerateTasks(r.Context(), urlParam(r, "research_id"))
	if err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, generateTasksResponse{Success: true, GroupIndex: position, Tasks: tasks})
}

// --- Research runs ---

func (h *Handlers) StartResearch(w http.ResponseWriter, r *http.Request) {
	groupIndex, ok := intParam(w, r, "group_index")
	if !ok {
		return
	}
	if err := h.Runner.Start(r.Context(), urlParam(r, "research_id"), groupIndex); err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Success: true})
}

func (h *Handlers) CheckResearchProgress(w http.ResponseWriter, r *http.Request) {
	groupIndex, ok := intParam(w, r, "group_index")
	if !ok {
		return
	}
	snap, err := h.Runner.Progress(r.Context(), urlParam(r, "research_id"), groupIndex)
	if err != nil {
		// A group the client still polls after it was removed or renumbered
		// answers the idle snapshot, not an error.
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusOK, job.EmptySnapshot())
			return
		}
		writeDomainError(w, err, "group not found")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type logsResponse struct {
	Logs []string `json:"logs"`
}

func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	lines := 0
	if raw := r.URL.Query().Get("lines"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid lines")
			return
		}
		lines = n
	}
	logs, err := h.Runner.LogTail(r.Context(), urlParam(r, "research_id"), lines)
	if err != nil {
		writeDomainError(w, err, "research not found")
		return
	}
	if logs == nil {
		logs = []string{}
	}
	writeJSON(w, http.StatusOK, logsResponse{Logs: logs})
}

// --- Task edits ---

type addTaskRequest struct {
	GroupIndex int    `json:"groupIndex"`
	TaskText   string `json:"taskText"`
}

type addTaskResponse struct {
	Success bool           `json:"success"`
	Index   int            `json:"index"`
	Task    *research.Task `json:"task"`
}

func (h *Handlers) AddCustomTask(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[addTaskRequest](w, r)
	if !ok {
		return
	}
	task, err := h.Tasks.Add(r.Context(), urlParam(r, "research_id"), req.GroupIndex, req.TaskText)
	if err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, addTaskResponse{Success: true, Index: task.Position, Task: task})
}

func (h *Handlers) RemoveTask(w http.ResponseWriter, r *http.Request) {
	groupIndex, ok := intParam(w, r, "group_index")
	if !ok {
		return
	}
	taskIndex, ok := intParam(w, r, "task_index")
	if !ok {
		return
	}
	if err := h.Tasks.Remove(r.Context(), urlParam(r, "research_id"), groupIndex, taskIndex); err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcomeResponse{Success: true})
}

// --- RAG queries ---

type ragQueryResponse struct {
	Success  bool              `json:"success"`
	Response string            `json:"response"`
	Sources  []ragstore.Source `json:"sources"`
}

func (h *Handlers) ExecuteRAGQuery(w http.ResponseWriter, r *http.Request) {
	groupIndex := 0
	if raw := r.URL.Query().Get("group_index"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid group_index")
			return
		}
		groupIndex = n
	}
	answer, err := h.RAG.Query(r.Context(), urlParam(r, "research_id"), groupIndex, r.URL.Query().Get("query"))
	if err != nil {
		writeOutcomeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ragQueryResponse{Success: true, Response: answer.Response, Sources: answer.Sources})
}
