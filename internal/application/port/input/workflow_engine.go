package input

import (
	"context"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// WorkflowEngine defines the operations of the module generation workflow.
// Every operation addresses a session by its caller-supplied key and returns
// a copy of the resulting session.
type WorkflowEngine interface {
	// Start creates a new session at REQUIREMENTS. An existing session is
	// only replaced when replace is true.
	Start(ctx context.Context, key string, initial workflow.Requirements, replace bool) (*workflow.Session, error)

	// UpdateStepData merges a partial update into a step record
	UpdateStepData(ctx context.Context, key string, step workflow.Step, patch workflow.StepPatch) (*workflow.Session, error)

	// Generate produces the content of a step through the remote services
	Generate(ctx context.Context, key string, step workflow.Step) (*workflow.Session, error)

	// RequestRevision regenerates a step with user feedback
	RequestRevision(ctx context.Context, key string, step workflow.Step, feedback string) (*workflow.Session, error)

	// Approve marks a step approved
	Approve(ctx context.Context, key string, step workflow.Step) (*workflow.Session, error)

	// CompleteStep finalizes the current step and advances the workflow
	CompleteStep(ctx context.Context, key string, step workflow.Step, finalPayload string) (*workflow.Session, error)

	// SetStep navigates back to an earlier step
	SetStep(ctx context.Context, key string, step workflow.Step) (*workflow.Session, error)

	// SaveAndSuspend persists the session and returns a resume token
	SaveAndSuspend(ctx context.Context, key string) (string, error)

	// Resume loads the session a token was issued for
	Resume(ctx context.Context, token string) (*workflow.Session, error)

	// Reset clears the session
	Reset(ctx context.Context, key string) error

	// Session returns the current session
	Session(ctx context.Context, key string) (*workflow.Session, error)

	// History returns all artifact versions of a step
	History(ctx context.Context, key string, step workflow.Step) ([]workflow.Artifact, error)

	// Artifact returns one artifact version of a step; version 0 means latest
	Artifact(ctx context.Context, key string, step workflow.Step, version int) (*workflow.Artifact, error)
}
