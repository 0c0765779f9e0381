package output

import (
	"context"
	"fmt"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// GenerationGateway is the interface to the remote AI/codegen/test services.
// Every operation returns a well-formed payload or an error; polling is a
// side-effect free read.
type GenerationGateway interface {
	// GenerateSpecification produces the functional specification from requirements
	GenerateSpecification(ctx context.Context, req SpecificationRequest) (*GeneratedContent, error)

	// ReviseSpecification regenerates a specification with user feedback
	ReviseSpecification(ctx context.Context, req RevisionRequest) (*GeneratedContent, error)

	// GenerateDevelopmentPlan produces the development plan from the approved specification
	GenerateDevelopmentPlan(ctx context.Context, req DevelopmentPlanRequest) (*GeneratedContent, error)

	// ReviseDevelopmentPlan regenerates a plan with user feedback
	ReviseDevelopmentPlan(ctx context.Context, req RevisionRequest) (*GeneratedContent, error)

	// GenerateModule starts asynchronous code generation; the result is polled
	GenerateModule(ctx context.Context, req ModuleRequest) (GenerationHandle, error)

	// PollGenerationStatus returns the current state of a module generation
	PollGenerationStatus(ctx context.Context, handle GenerationHandle) (*GenerationStatusReport, error)

	// RunAutomatedTests runs the Odoo test suite against a generated module
	RunAutomatedTests(ctx context.Context, req TestRequest) (*TestResults, error)
}

// RequestContext is embedded in every request. It carries the full module
// context so the remote services stay stateless.
type RequestContext struct {
	SessionID workflow.SessionID
	RequestID string
	Module    workflow.Requirements
}

// SpecificationRequest asks for a new specification
type SpecificationRequest struct {
	RequestContext
	Requirements string // Approved requirements text
}

// RevisionRequest asks for a feedback-driven regeneration of existing content
type RevisionRequest struct {
	RequestContext
	RemoteID       string // Identifier returned by the previous generation, may be empty
	Feedback       string
	CurrentContent string
}

// DevelopmentPlanRequest asks for a plan derived from the approved specification
type DevelopmentPlanRequest struct {
	RequestContext
	Specification string
}

// ModuleRequest starts code generation from the approved plan.
// Feedback and CurrentContent are set for revisions of the module output.
type ModuleRequest struct {
	RequestContext
	DevelopmentPlan string
	Feedback        string
	CurrentContent  string
}

// TestRequest runs the automated tests for a generated module
type TestRequest struct {
	RequestContext
	Handle       GenerationHandle
	ModuleOutput string
}

// GeneratedContent is an opaque content blob returned by a generation
type GeneratedContent struct {
	Content  string
	RemoteID string
	Metadata map[string]string
}

// GenerationHandle identifies an asynchronous module generation
type GenerationHandle string

// GenerationStatus is the remote state of an asynchronous generation
type GenerationStatus string

const (
	GenerationPending   GenerationStatus = "pending"
	GenerationCompleted GenerationStatus = "completed"
	GenerationFailed    GenerationStatus = "failed"
)

// GenerationStatusReport is the result of a poll. Content is only set once completed.
type GenerationStatusReport struct {
	Status   GenerationStatus
	Content  string
	Message  string
	Metadata map[string]string
}

// TestResults is the outcome of an automated test run
type TestResults struct {
	Content string
	Passed  int
	Failed  int
	Success bool
}

// GatewayError is a typed remote failure
type GatewayError struct {
	Operation  string
	StatusCode int
	Message    string
	Retryable  bool
	Timeout    bool
	Err        error
}

// Error implements the error interface
func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("%s failed", e.Operation)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *GatewayError) Unwrap() error {
	return e.Err
}
