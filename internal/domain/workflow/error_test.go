package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkflowError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      WorkflowError
		expected string
	}{
		{
			name:     "code and message",
			err:      WorkflowError{Code: "X", Message: "boom"},
			expected: "[X] boom",
		},
		{
			name:     "with step",
			err:      ErrStepNotApproved.WithStep(StepSpecification),
			expected: "[STEP_NOT_APPROVED] Step must be approved before it can be completed (step SPECIFICATION)",
		},
		{
			name:     "with cause",
			err:      ErrGenerationFailed.Wrap(errors.New("502 bad gateway")),
			expected: "[GENERATION_FAILED] Remote generation failed: 502 bad gateway",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestWorkflowError_IsMatchesByCode(t *testing.T) {
	err := ErrRevisionLimitExceeded.
		WithStep(StepSpecification).
		WithDetails(map[string]interface{}{"used": 5, "max": 5})

	assert.True(t, errors.Is(err, ErrRevisionLimitExceeded))
	assert.False(t, errors.Is(err, ErrStepNotApproved))

	wrapped := fmt.Errorf("request revision: %w", err)
	assert.True(t, errors.Is(wrapped, ErrRevisionLimitExceeded))
	assert.True(t, IsRevisionLimitExceeded(wrapped))

	var wfErr WorkflowError
	assert.True(t, errors.As(wrapped, &wfErr))
	assert.Equal(t, StepSpecification, wfErr.Step)
	assert.Equal(t, 5, wfErr.Details["max"])
}

func TestWorkflowError_UnwrapReachesCause(t *testing.T) {
	err := ErrGenerationTimeout.Wrap(context.DeadlineExceeded)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, IsTimeout(err))
}

func TestWorkflowError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		local     bool
		retryable bool
	}{
		{"out of order", ErrOutOfOrderTransition, true, false},
		{"not approved", ErrStepNotApproved, true, false},
		{"revision limit", ErrRevisionLimitExceeded, true, false},
		{"in progress", ErrGenerationInProgress, true, false},
		{"already active", ErrSessionAlreadyActive, true, false},
		{"generation failed", ErrGenerationFailed, false, true},
		{"non retryable remote failure", ErrGenerationFailed.WithRetryable(false), false, false},
		{"timeout", ErrGenerationTimeout, false, true},
		{"stale", ErrStaleResponse, false, true},
		{"plain error", errors.New("disk full"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.local, IsLocal(tt.err))
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestWorkflowError_CopiesDoNotMutateSentinels(t *testing.T) {
	_ = ErrOutOfOrderTransition.WithStep(StepModuleOutput).WithMessage("changed")
	assert.Equal(t, Step(""), ErrOutOfOrderTransition.Step)
	assert.Equal(t, "Step is not reachable from the current step", ErrOutOfOrderTransition.Message)
}
