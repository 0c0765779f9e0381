package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/input"
)

// NewRouter creates the chi router exposing the workflow engine over HTTP
func NewRouter(engine input.WorkflowEngine, maxRevisions int, logger app.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(logger))
	r.Use(Recovery(logger))

	h := NewSessionHandler(engine, maxRevisions)

	r.Get("/health", Health)
	r.Post("/resume", h.Resume)

	r.Route("/sessions/{key}", func(r chi.Router) {
		r.Post("/", h.Start)
		r.Get("/", h.Get)
		r.Delete("/", h.Reset)
		r.Put("/current", h.SetStep)
		r.Post("/suspend", h.Suspend)

		r.Route("/steps/{step}", func(r chi.Router) {
			r.Patch("/", h.Update)
			r.Post("/generate", h.Generate)
			r.Post("/revisions", h.Revise)
			r.Post("/approve", h.Approve)
			r.Post("/complete", h.Complete)
			r.Get("/artifacts", h.History)
			r.Get("/artifacts/{version}", h.Artifact)
		})
	})

	return r
}

// Health handles GET /health
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
