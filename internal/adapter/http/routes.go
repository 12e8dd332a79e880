package http

import (
	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. The research
// and task route shapes are the wire protocol the web client depends on.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Route("/research", func(r chi.Router) {
		r.Get("/", h.ListResearches)
		r.Post("/", h.CreateResearch)

		r.Route("/{research_id}", func(r chi.Router) {
			r.Get("/", h.GetResearch)

			// Brainstorming and task generation
			r.Post("/generate-questions", h.GenerateQuestions)
			r.Post("/submit-answers", h.SubmitAnswers)
			r.Post("/generate-tasks", h.GenerateTasks)

			// Background research runs
			r.Post("/start-research/{group_index}", h.StartResearch)
			r.Get("/check-research-progress/{group_index}", h.CheckResearchProgress)
			r.Get("/get-logs", h.GetLogs)

			// Knowledge index queries
			r.Post("/execute-rag-query", h.ExecuteRAGQuery)
		})
	})

	r.Route("/task/research/{research_id}", func(r chi.Router) {
		r.Post("/add-custom-task", h.AddCustomTask)
		r.Post("/remove-task/{group_index}/{task_index}", h.RemoveTask)
	})
}
