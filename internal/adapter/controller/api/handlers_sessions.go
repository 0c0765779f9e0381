package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/YoshitsuguKoike/odoogen/internal/application/dto"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/input"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// SessionHandler handles session HTTP requests
type SessionHandler struct {
	engine       input.WorkflowEngine
	maxRevisions int
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(engine input.WorkflowEngine, maxRevisions int) *SessionHandler {
	return &SessionHandler{engine: engine, maxRevisions: maxRevisions}
}

type startRequest struct {
	workflow.Requirements
	Replace bool `json:"replace"`
}

type revisionRequest struct {
	Feedback string `json:"feedback"`
}

type completeRequest struct {
	Payload string `json:"payload"`
}

type setStepRequest struct {
	Step string `json:"step"`
}

type resumeRequest struct {
	Token string `json:"token"`
}

type suspendResponse struct {
	Token   string          `json:"token"`
	Session *dto.SessionDTO `json:"session"`
}

func (h *SessionHandler) session(w http.ResponseWriter, status int, s *workflow.Session, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, status, dto.NewSessionDTO(s, h.maxRevisions))
}

func stepParam(w http.ResponseWriter, r *http.Request) (workflow.Step, bool) {
	step, err := workflow.ParseStep(chi.URLParam(r, "step"))
	if err != nil {
		writeError(w, err)
		return "", false
	}
	return step, true
}

// Start handles POST /sessions/{key}
func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.Start(r.Context(), chi.URLParam(r, "key"), req.Requirements, req.Replace)
	h.session(w, http.StatusCreated, s, err)
}

// Get handles GET /sessions/{key}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Session(r.Context(), chi.URLParam(r, "key"))
	h.session(w, http.StatusOK, s, err)
}

// Reset handles DELETE /sessions/{key}
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Reset(r.Context(), chi.URLParam(r, "key")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetStep handles PUT /sessions/{key}/current
func (h *SessionHandler) SetStep(w http.ResponseWriter, r *http.Request) {
	var req setStepRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	step, err := workflow.ParseStep(req.Step)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.engine.SetStep(r.Context(), chi.URLParam(r, "key"), step)
	h.session(w, http.StatusOK, s, err)
}

// Suspend handles POST /sessions/{key}/suspend
func (h *SessionHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	token, err := h.engine.SaveAndSuspend(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	s, err := h.engine.Session(r.Context(), key)
	if err != nil {
		writeError(w, err)
		return
	}
	out := dto.NewSessionDTO(s, h.maxRevisions)
	out.ResumeToken = token
	writeJSON(w, http.StatusOK, suspendResponse{Token: token, Session: out})
}

// Resume handles POST /resume
func (h *SessionHandler) Resume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.Resume(r.Context(), req.Token)
	h.session(w, http.StatusOK, s, err)
}

// Update handles PATCH /sessions/{key}/steps/{step}
func (h *SessionHandler) Update(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	var patch workflow.StepPatch
	if err := decodeJSON(r, &patch); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.UpdateStepData(r.Context(), chi.URLParam(r, "key"), step, patch)
	h.session(w, http.StatusOK, s, err)
}

// Generate handles POST /sessions/{key}/steps/{step}/generate
func (h *SessionHandler) Generate(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	s, err := h.engine.Generate(r.Context(), chi.URLParam(r, "key"), step)
	h.session(w, http.StatusOK, s, err)
}

// Revise handles POST /sessions/{key}/steps/{step}/revisions
func (h *SessionHandler) Revise(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	var req revisionRequest
	if err := decodeJSON(r, &req); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	s, err := h.engine.RequestRevision(r.Context(), chi.URLParam(r, "key"), step, req.Feedback)
	h.session(w, http.StatusOK, s, err)
}

// Approve handles POST /sessions/{key}/steps/{step}/approve
func (h *SessionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	s, err := h.engine.Approve(r.Context(), chi.URLParam(r, "key"), step)
	h.session(w, http.StatusOK, s, err)
}

// Complete handles POST /sessions/{key}/steps/{step}/complete.
// The body is optional.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	var req completeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			badRequest(w, "invalid request body: "+err.Error())
			return
		}
	}
	s, err := h.engine.CompleteStep(r.Context(), chi.URLParam(r, "key"), step, req.Payload)
	h.session(w, http.StatusOK, s, err)
}

// History handles GET /sessions/{key}/steps/{step}/artifacts
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	history, err := h.engine.History(r.Context(), chi.URLParam(r, "key"), step)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewArtifactDTOs(step, history))
}

// Artifact handles GET /sessions/{key}/steps/{step}/artifacts/{version}.
// "latest" selects the newest version.
func (h *SessionHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	step, ok := stepParam(w, r)
	if !ok {
		return
	}
	version := 0
	if raw := chi.URLParam(r, "version"); raw != "latest" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			badRequest(w, "version must be a positive integer or 'latest'")
			return
		}
		version = v
	}
	a, err := h.engine.Artifact(r.Context(), chi.URLParam(r, "key"), step, version)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewArtifactDTOs(step, []workflow.Artifact{*a})[0])
}
