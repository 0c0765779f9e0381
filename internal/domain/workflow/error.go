package workflow

import (
	"errors"
	"fmt"
)

// WorkflowError represents domain-specific errors for the module generation workflow.
// Two errors are considered equal by errors.Is when their codes match.
type WorkflowError struct {
	Code      string
	Message   string
	Step      Step
	Retryable bool
	Details   map[string]interface{}
	Err       error
}

// Error implements the error interface
func (e WorkflowError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Step != "" {
		msg += fmt.Sprintf(" (step %s)", e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e WorkflowError) Unwrap() error {
	return e.Err
}

// Is matches workflow errors by code
func (e WorkflowError) Is(target error) bool {
	var t WorkflowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// WithStep returns a copy of the error bound to a step
func (e WorkflowError) WithStep(step Step) WorkflowError {
	e.Step = step
	return e
}

// WithMessage returns a copy of the error with a more specific message
func (e WorkflowError) WithMessage(message string) WorkflowError {
	e.Message = message
	return e
}

// WithDetails adds details to an existing error
func (e WorkflowError) WithDetails(details map[string]interface{}) WorkflowError {
	e.Details = details
	return e
}

// Wrap attaches an underlying cause
func (e WorkflowError) Wrap(err error) WorkflowError {
	e.Err = err
	return e
}

// WithRetryable overrides the retry affordance of the error
func (e WorkflowError) WithRetryable(retryable bool) WorkflowError {
	e.Retryable = retryable
	return e
}

// Local precondition violations. They are detected before any remote call.
var (
	ErrOutOfOrderTransition = WorkflowError{
		Code:    "OUT_OF_ORDER_TRANSITION",
		Message: "Step is not reachable from the current step",
	}

	ErrStepNotApproved = WorkflowError{
		Code:    "STEP_NOT_APPROVED",
		Message: "Step must be approved before it can be completed",
	}

	ErrRevisionLimitExceeded = WorkflowError{
		Code:    "REVISION_LIMIT_EXCEEDED",
		Message: "Revision limit reached for this step",
	}

	ErrGenerationInProgress = WorkflowError{
		Code:    "GENERATION_IN_PROGRESS",
		Message: "A generation is already running for this step",
	}

	ErrSessionAlreadyActive = WorkflowError{
		Code:    "SESSION_ALREADY_ACTIVE",
		Message: "A workflow session is already active",
	}

	ErrSessionNotFound = WorkflowError{
		Code:    "SESSION_NOT_FOUND",
		Message: "Workflow session not found",
	}

	ErrNotGeneratable = WorkflowError{
		Code:    "NOT_GENERATABLE",
		Message: "Step content is not produced by a remote service",
	}

	ErrNotRevisable = WorkflowError{
		Code:    "NOT_REVISABLE",
		Message: "Step does not support feedback revisions",
	}

	ErrNothingGenerated = WorkflowError{
		Code:    "NOTHING_GENERATED",
		Message: "Step has no generated content yet",
	}

	ErrVersionNotFound = WorkflowError{
		Code:    "VERSION_NOT_FOUND",
		Message: "Artifact version not found",
	}

	ErrInvalidInput = WorkflowError{
		Code:    "INVALID_INPUT",
		Message: "Invalid input",
	}
)

// Remote errors. The engine never retries them; the caller decides.
var (
	ErrGenerationFailed = WorkflowError{
		Code:      "GENERATION_FAILED",
		Message:   "Remote generation failed",
		Retryable: true,
	}

	ErrGenerationTimeout = WorkflowError{
		Code:      "GENERATION_TIMEOUT",
		Message:   "Remote generation timed out",
		Retryable: true,
	}

	ErrStaleResponse = WorkflowError{
		Code:      "STALE_RESPONSE",
		Message:   "Step changed while the generation was running; result discarded",
		Retryable: true,
	}
)

func hasCode(err error, code string) bool {
	var wfErr WorkflowError
	return errors.As(err, &wfErr) && wfErr.Code == code
}

// IsOutOfOrder checks if the error is an out-of-order transition error
func IsOutOfOrder(err error) bool {
	return hasCode(err, ErrOutOfOrderTransition.Code)
}

// IsNotApproved checks if the error is a step-not-approved error
func IsNotApproved(err error) bool {
	return hasCode(err, ErrStepNotApproved.Code)
}

// IsRevisionLimitExceeded checks if the error is a revision budget error
func IsRevisionLimitExceeded(err error) bool {
	return hasCode(err, ErrRevisionLimitExceeded.Code)
}

// IsGenerationInProgress checks if the error is an in-flight generation error
func IsGenerationInProgress(err error) bool {
	return hasCode(err, ErrGenerationInProgress.Code)
}

// IsSessionNotFound checks if the error is a not found error
func IsSessionNotFound(err error) bool {
	return hasCode(err, ErrSessionNotFound.Code)
}

// IsVersionNotFound checks if the error is a missing artifact version error
func IsVersionNotFound(err error) bool {
	return hasCode(err, ErrVersionNotFound.Code)
}

// IsStaleResponse checks if a generation result was discarded
func IsStaleResponse(err error) bool {
	return hasCode(err, ErrStaleResponse.Code)
}

// IsTimeout checks if the error is a generation timeout
func IsTimeout(err error) bool {
	return hasCode(err, ErrGenerationTimeout.Code)
}

// IsLocal reports whether err is a precondition failure detected without I/O
func IsLocal(err error) bool {
	var wfErr WorkflowError
	if !errors.As(err, &wfErr) {
		return false
	}
	switch wfErr.Code {
	case ErrGenerationFailed.Code, ErrGenerationTimeout.Code, ErrStaleResponse.Code:
		return false
	default:
		return true
	}
}

// IsRetryable reports whether the caller may retry the same request unchanged
func IsRetryable(err error) bool {
	var wfErr WorkflowError
	return errors.As(err, &wfErr) && wfErr.Retryable
}
