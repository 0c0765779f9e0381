package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

type errorDetail struct {
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message"`
	Step      string                 `json:"step,omitempty"`
	Retryable bool                   `json:"retryable"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeError maps workflow errors onto HTTP statuses. Precondition
// violations are conflicts; remote failures are gateway errors.
func writeError(w http.ResponseWriter, err error) {
	var wfErr workflow.WorkflowError
	if !errors.As(err, &wfErr) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Message: err.Error()}})
		return
	}
	writeJSON(w, statusFor(wfErr), errorBody{Error: errorDetail{
		Code:      wfErr.Code,
		Message:   wfErr.Error(),
		Step:      wfErr.Step.String(),
		Retryable: wfErr.Retryable,
		Details:   wfErr.Details,
	}})
}

func statusFor(err workflow.WorkflowError) int {
	switch err.Code {
	case workflow.ErrSessionNotFound.Code, workflow.ErrVersionNotFound.Code:
		return http.StatusNotFound
	case workflow.ErrInvalidInput.Code:
		return http.StatusBadRequest
	case workflow.ErrGenerationFailed.Code:
		return http.StatusBadGateway
	case workflow.ErrGenerationTimeout.Code:
		return http.StatusGatewayTimeout
	case workflow.ErrOutOfOrderTransition.Code,
		workflow.ErrStepNotApproved.Code,
		workflow.ErrRevisionLimitExceeded.Code,
		workflow.ErrGenerationInProgress.Code,
		workflow.ErrSessionAlreadyActive.Code,
		workflow.ErrNotGeneratable.Code,
		workflow.ErrNotRevisable.Code,
		workflow.ErrNothingGenerated.Code,
		workflow.ErrStaleResponse.Code:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(w http.ResponseWriter, message string) {
	writeError(w, workflow.ErrInvalidInput.WithMessage(message))
}
