package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	domain "github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

const testKey = "default"

type harness struct {
	engine    *Engine
	sessions  *memorySessions
	artifacts *memoryArtifacts
	gateway   *fakeGateway
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sessions:  newMemorySessions(),
		artifacts: newMemoryArtifacts(),
		gateway:   newFakeGateway(),
	}
	clock := newFakeClock()
	ids := 0
	h.engine = NewEngine(h.sessions, h.artifacts, h.gateway, passthroughTx{}, cfg,
		WithClock(clock.Now),
		WithLogger(app.NopLogger{}),
		WithRequestIDs(func() string {
			ids++
			return fmt.Sprintf("req-%d", ids)
		}),
	)
	return h
}

func hrRequirements() domain.Requirements {
	return domain.Requirements{
		ModuleName:    "hr_employee_skills",
		ModuleVersion: "16.0.1.0.0",
		Author:        "ACME",
		Depends:       []string{"hr"},
		Description:   "Track employee skills and certifications",
	}
}

func (h *harness) start(t *testing.T) *domain.Session {
	t.Helper()
	s, err := h.engine.Start(context.Background(), testKey, hrRequirements(), false)
	require.NoError(t, err)
	return s
}

// advanceTo drives the session forward until step is the current step
func (h *harness) advanceTo(t *testing.T, step domain.Step) *domain.Session {
	t.Helper()
	ctx := context.Background()
	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)

	for s.CurrentStep != step {
		cur := s.CurrentStep
		if cur.IsGenerated() && s.Record(cur).Version == 0 {
			_, err = h.engine.Generate(ctx, testKey, cur)
			require.NoError(t, err)
		}
		_, err = h.engine.Approve(ctx, testKey, cur)
		require.NoError(t, err)
		s, err = h.engine.CompleteStep(ctx, testKey, cur, "")
		require.NoError(t, err)
	}
	return s
}

func TestPackageLeaks(t *testing.T) {
	defer goleak.VerifyNone(t)
}

// TestEngine_ModuleScenario walks the hr_employee_skills example end to end
func TestEngine_ModuleScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	s, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	spec := s.Record(domain.StepSpecification)
	assert.Equal(t, 1, spec.Version)
	assert.Contains(t, spec.Content, "hr_employee_skills")
	assert.Contains(t, spec.Content, "16.0.1.0.0")
	assert.False(t, spec.Approved)
	assert.Equal(t, "spec-1", spec.Fields[domain.FieldRemoteID])

	rc := h.gateway.lastRequest()
	assert.Equal(t, s.ID, rc.SessionID)
	assert.Equal(t, "hr_employee_skills", rc.Module.ModuleName)
	assert.Equal(t, "16.0.1.0.0", rc.Module.ModuleVersion)
	assert.Equal(t, []string{"hr"}, rc.Module.Depends)
	assert.NotEmpty(t, rc.RequestID)

	_, err = h.engine.Approve(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	s, err = h.engine.CompleteStep(ctx, testKey, domain.StepSpecification, spec.Content)
	require.NoError(t, err)
	assert.Equal(t, domain.StepDevelopmentPlan, s.CurrentStep)

	for i := 1; i <= 5; i++ {
		s, err = h.engine.RequestRevision(ctx, testKey, domain.StepSpecification, "add a notes section")
		require.NoError(t, err, "revision %d", i)
		rec := s.Record(domain.StepSpecification)
		assert.Equal(t, i+1, rec.Version)
		assert.Equal(t, i, rec.RevisionsUsed)
		assert.False(t, rec.Approved)
		assert.True(t, rec.Completed)
		assert.Equal(t, "spec-1", rec.Fields[domain.FieldRemoteID])
		assert.Equal(t, s.ID, h.gateway.lastRequest().SessionID)
	}
	assert.Equal(t, domain.StepDevelopmentPlan, s.CurrentStep)

	_, err = h.engine.RequestRevision(ctx, testKey, domain.StepSpecification, "add a notes section")
	require.Error(t, err)
	assert.True(t, domain.IsRevisionLimitExceeded(err))
	assert.True(t, domain.IsLocal(err))
	assert.Equal(t, 5, h.gateway.count("ReviseSpecification"), "sixth revision must not reach the remote service")

	s, err = h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, 6, s.Record(domain.StepSpecification).Version)
}

func TestEngine_VersionMonotonicity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	for i := 1; i <= 3; i++ {
		s, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
		require.NoError(t, err)
		assert.Equal(t, i, s.Record(domain.StepSpecification).Version)
	}
	for i := 4; i <= 5; i++ {
		s, err := h.engine.RequestRevision(ctx, testKey, domain.StepSpecification, fmt.Sprintf("feedback %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, s.Record(domain.StepSpecification).Version)
	}

	history, err := h.engine.History(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i, a := range history {
		assert.Equal(t, i+1, a.Version)
	}

	latest, err := h.engine.Artifact(ctx, testKey, domain.StepSpecification, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, latest.Version)

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, latest.Content, s.Record(domain.StepSpecification).Content)

	_, err = h.engine.Artifact(ctx, testKey, domain.StepSpecification, 9)
	assert.True(t, domain.IsVersionNotFound(err))
}

func TestEngine_CompleteRequiresApproval(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)

	_, err = h.engine.CompleteStep(ctx, testKey, domain.StepSpecification, "final")
	require.Error(t, err)
	assert.True(t, domain.IsNotApproved(err))

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, domain.StepSpecification, s.CurrentStep)
	assert.False(t, s.Record(domain.StepSpecification).Completed)
	assert.NotEqual(t, "final", s.Record(domain.StepSpecification).Content)
}

func TestEngine_NoForwardSkip(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepDevelopmentPlan)

	for _, target := range []domain.Step{domain.StepModuleOutput, domain.StepOdooTesting} {
		_, err := h.engine.SetStep(ctx, testKey, target)
		assert.True(t, domain.IsOutOfOrder(err), target)
	}

	s, err := h.engine.SetStep(ctx, testKey, domain.StepRequirements)
	require.NoError(t, err)
	assert.Equal(t, domain.StepRequirements, s.CurrentStep)
	assert.True(t, s.Record(domain.StepRequirements).Approved)
	assert.True(t, s.Record(domain.StepSpecification).Completed)
	assert.NoError(t, s.Validate())
}

func TestEngine_GenerateChecksOrderBeforeRemoteCall(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)

	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	assert.True(t, domain.IsOutOfOrder(err))

	_, err = h.engine.Generate(ctx, testKey, domain.StepRequirements)
	assert.ErrorIs(t, err, domain.ErrNotGeneratable)

	_, err = h.engine.RequestRevision(ctx, testKey, domain.StepSpecification, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	assert.Zero(t, h.gateway.total())
}

func TestEngine_SaveAndSuspendIsByteStable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)
	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)

	token1, err := h.engine.SaveAndSuspend(ctx, testKey)
	require.NoError(t, err)
	first := h.sessions.raw(testKey)

	token2, err := h.engine.SaveAndSuspend(ctx, testKey)
	require.NoError(t, err)
	second := h.sessions.raw(testKey)

	assert.Equal(t, token1, token2)
	assert.Equal(t, string(first), string(second))

	s, err := h.engine.Resume(ctx, token1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Record(domain.StepSpecification).Version)
}

func TestEngine_ResumeTokenBoundToSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)

	token, err := h.engine.SaveAndSuspend(ctx, testKey)
	require.NoError(t, err)

	require.NoError(t, h.engine.Reset(ctx, testKey))
	_, err = h.engine.Resume(ctx, token)
	assert.True(t, domain.IsSessionNotFound(err))

	h.start(t)
	_, err = h.engine.Resume(ctx, token)
	assert.True(t, domain.IsSessionNotFound(err), "token of a reset session must not resume its replacement")
}

func TestEngine_StartRejectsActiveSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	first := h.start(t)

	_, err := h.engine.Start(ctx, testKey, hrRequirements(), false)
	assert.ErrorIs(t, err, domain.ErrSessionAlreadyActive)

	replaced, err := h.engine.Start(ctx, testKey, domain.Requirements{ModuleName: "Fleet Extras"}, true)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, replaced.ID)
	assert.Equal(t, "fleet_extras", replaced.Requirements().ModuleName)
	assert.Equal(t, "16.0.1.0.0", replaced.Requirements().ModuleVersion)

	stored, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, replaced.ID, stored.ID)

	_, err = h.engine.Start(ctx, "../escape", hrRequirements(), false)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestEngine_UpdateStepData(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)

	s, err := h.engine.UpdateStepData(ctx, testKey, domain.StepRequirements, domain.StepPatch{
		Fields: map[string]string{domain.FieldModuleName: "HR Skills Matrix", domain.FieldAuthor: ""},
	})
	require.NoError(t, err)
	req := s.Requirements()
	assert.Equal(t, "hr_skills_matrix", req.ModuleName)
	assert.Empty(t, req.Author)
	assert.Equal(t, domain.StepRequirements, s.CurrentStep)

	content := "early plan"
	_, err = h.engine.UpdateStepData(ctx, testKey, domain.StepDevelopmentPlan, domain.StepPatch{Content: &content})
	assert.True(t, domain.IsOutOfOrder(err))
}

func TestEngine_StaleResponseIsDiscarded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.gateway.SpecFunc = func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
		close(entered)
		<-release
		return &output.GeneratedContent{Content: "late remote specification"}, nil
	}

	type result struct {
		s   *domain.Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
		done <- result{s, err}
	}()

	<-entered
	edited := "hand written specification"
	_, err := h.engine.UpdateStepData(ctx, testKey, domain.StepSpecification, domain.StepPatch{Content: &edited})
	require.NoError(t, err)
	close(release)

	r := <-done
	require.Error(t, r.err)
	assert.Nil(t, r.s)
	assert.True(t, domain.IsStaleResponse(r.err))
	assert.True(t, domain.IsRetryable(r.err))

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	rec := s.Record(domain.StepSpecification)
	assert.Equal(t, edited, rec.Content)
	assert.Zero(t, rec.Version)

	history, err := h.engine.History(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEngine_NavigationMakesResponseStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.gateway.SpecFunc = func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
		close(entered)
		<-release
		return &output.GeneratedContent{Content: "late"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
		done <- err
	}()

	<-entered
	_, err := h.engine.SetStep(ctx, testKey, domain.StepRequirements)
	require.NoError(t, err)
	close(release)

	assert.True(t, domain.IsStaleResponse(<-done))
}

func TestEngine_ConcurrentGenerationRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	entered := make(chan struct{})
	release := make(chan struct{})
	h.gateway.SpecFunc = func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
		close(entered)
		<-release
		return &output.GeneratedContent{Content: "hr_employee_skills 16.0.1.0.0"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
		done <- err
	}()
	<-entered

	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	assert.True(t, domain.IsGenerationInProgress(err))

	_, err = h.engine.Approve(ctx, testKey, domain.StepSpecification)
	assert.True(t, domain.IsGenerationInProgress(err))

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 1, h.gateway.count("GenerateSpecification"))

	s, err := h.engine.Approve(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Record(domain.StepSpecification).Version)
}

func TestEngine_RemoteFailureLeavesRecordUntouched(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{
			name:      "service unavailable",
			err:       &output.GatewayError{Operation: "specification-agent", StatusCode: 503, Retryable: true},
			retryable: true,
		},
		{
			name:      "rejected request",
			err:       &output.GatewayError{Operation: "specification-agent", StatusCode: 400, Message: "moduleName missing"},
			retryable: false,
		},
		{
			name:      "untyped error",
			err:       errors.New("connection reset"),
			retryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, Config{})
			h.start(t)
			h.advanceTo(t, domain.StepSpecification)
			before, err := h.engine.Session(ctx, testKey)
			require.NoError(t, err)

			h.gateway.SpecFunc = func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
				return nil, tt.err
			}

			_, err = h.engine.Generate(ctx, testKey, domain.StepSpecification)
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrGenerationFailed)
			assert.False(t, domain.IsLocal(err))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))

			after, err := h.engine.Session(ctx, testKey)
			require.NoError(t, err)
			assert.Equal(t, before.Record(domain.StepSpecification), after.Record(domain.StepSpecification))
		})
	}
}

func TestEngine_GenerationTimeout(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{GenerationTimeout: 20 * time.Millisecond})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	h.gateway.SpecFunc = func(ctx context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.Error(t, err)
	assert.True(t, domain.IsTimeout(err))
	assert.True(t, domain.IsRetryable(err))

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Zero(t, s.Record(domain.StepSpecification).Version)

	// The in-flight marker is released after a timeout
	h.gateway.SpecFunc = nil
	_, err = h.engine.Generate(ctx, testKey, domain.StepSpecification)
	assert.NoError(t, err)
}

func TestEngine_CancelledCallerDiscardsLateResult(t *testing.T) {
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	ctx, cancel := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	h.gateway.SpecFunc = func(_ context.Context, req output.SpecificationRequest) (*output.GeneratedContent, error) {
		close(entered)
		<-release
		return &output.GeneratedContent{Content: "late"}, nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
		done <- err
	}()
	<-entered
	cancel()
	close(release)

	assert.ErrorIs(t, <-done, context.Canceled)

	s, err := h.engine.Session(context.Background(), testKey)
	require.NoError(t, err)
	assert.Zero(t, s.Record(domain.StepSpecification).Version)
}

func TestEngine_StorageFailureIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	h.start(t)
	h.advanceTo(t, domain.StepSpecification)

	h.sessions.failSaves(errors.New("disk full"), specGenerated)
	_, err := h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	h.sessions.failSaves(nil, nil)

	assert.Equal(t, 1, h.artifacts.reverted)
	history, err := h.engine.History(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	assert.Empty(t, history)

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	assert.Zero(t, s.Record(domain.StepSpecification).Version)

	// Counters stay aligned on the next attempt
	s, err = h.engine.Generate(ctx, testKey, domain.StepSpecification)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Record(domain.StepSpecification).Version)
}

func TestEngine_ModuleGenerationPolls(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{PollInterval: time.Millisecond})
	h.start(t)
	h.advanceTo(t, domain.StepModuleOutput)

	h.gateway.PollFunc = func(ctx context.Context, handle output.GenerationHandle, attempt int) (*output.GenerationStatusReport, error) {
		if attempt < 3 {
			return &output.GenerationStatusReport{Status: output.GenerationPending}, nil
		}
		return &output.GenerationStatusReport{
			Status:   output.GenerationCompleted,
			Content:  "hr_employee_skills/__manifest__.py\nhr_employee_skills/models/skill.py",
			Metadata: map[string]string{domain.FieldDownloadURL: "http://localhost:5678/files/job-1.zip"},
		}, nil
	}

	s, err := h.engine.Generate(ctx, testKey, domain.StepModuleOutput)
	require.NoError(t, err)

	rec := s.Record(domain.StepModuleOutput)
	assert.Equal(t, 1, rec.Version)
	assert.Contains(t, rec.Content, "__manifest__.py")
	assert.Equal(t, "job-1", rec.Fields[domain.FieldHandle])
	assert.Equal(t, "http://localhost:5678/files/job-1.zip", rec.Fields[domain.FieldDownloadURL])
	assert.Equal(t, 3, h.gateway.count("PollGenerationStatus"))
	require.Len(t, h.gateway.modules, 1)
	assert.Equal(t, "plan for hr_employee_skills", h.gateway.modules[0].DevelopmentPlan)
}

func TestEngine_ModuleRevisionCarriesFeedback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{PollInterval: time.Millisecond})
	h.start(t)
	h.advanceTo(t, domain.StepModuleOutput)

	_, err := h.engine.Generate(ctx, testKey, domain.StepModuleOutput)
	require.NoError(t, err)
	s, err := h.engine.RequestRevision(ctx, testKey, domain.StepModuleOutput, "add a security group")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Record(domain.StepModuleOutput).Version)
	assert.Equal(t, "job-2", s.Record(domain.StepModuleOutput).Fields[domain.FieldHandle])
	require.Len(t, h.gateway.modules, 2)
	assert.Equal(t, "add a security group", h.gateway.modules[1].Feedback)
	assert.Equal(t, "module files for job-1", h.gateway.modules[1].CurrentContent)
}

func TestEngine_ModuleGenerationFailed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{PollInterval: time.Millisecond})
	h.start(t)
	h.advanceTo(t, domain.StepModuleOutput)

	h.gateway.PollFunc = func(ctx context.Context, handle output.GenerationHandle, attempt int) (*output.GenerationStatusReport, error) {
		return &output.GenerationStatusReport{Status: output.GenerationFailed, Message: "syntax error in models/skill.py"}, nil
	}

	_, err := h.engine.Generate(ctx, testKey, domain.StepModuleOutput)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrGenerationFailed)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestEngine_ModulePollingTimesOut(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{PollInterval: time.Millisecond, GenerationTimeout: 30 * time.Millisecond})
	h.start(t)
	h.advanceTo(t, domain.StepModuleOutput)

	h.gateway.PollFunc = func(ctx context.Context, handle output.GenerationHandle, attempt int) (*output.GenerationStatusReport, error) {
		return &output.GenerationStatusReport{Status: output.GenerationPending}, nil
	}

	_, err := h.engine.Generate(ctx, testKey, domain.StepModuleOutput)
	assert.True(t, domain.IsTimeout(err))
}

func TestEngine_TestingStepFinishesSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{PollInterval: time.Millisecond})
	h.start(t)
	s := h.advanceTo(t, domain.StepOdooTesting)
	handle := s.Record(domain.StepModuleOutput).Fields[domain.FieldHandle]

	s, err := h.engine.Generate(ctx, testKey, domain.StepOdooTesting)
	require.NoError(t, err)
	rec := s.Record(domain.StepOdooTesting)
	assert.Equal(t, "passed", rec.Fields[domain.FieldTestStatus])
	assert.Equal(t, "12", rec.Fields[domain.FieldTestsPassed])
	assert.Equal(t, "0", rec.Fields[domain.FieldTestsFailed])
	require.Len(t, h.gateway.tests, 1)
	assert.Equal(t, output.GenerationHandle(handle), h.gateway.tests[0].Handle)

	_, err = h.engine.RequestRevision(ctx, testKey, domain.StepOdooTesting, "again")
	assert.ErrorIs(t, err, domain.ErrNotRevisable)

	_, err = h.engine.Approve(ctx, testKey, domain.StepOdooTesting)
	require.NoError(t, err)
	s, err = h.engine.CompleteStep(ctx, testKey, domain.StepOdooTesting, "")
	require.NoError(t, err)
	assert.True(t, s.IsFinished())
	assert.Equal(t, domain.StepOdooTesting, s.CurrentStep)
}

func TestEngine_OperationsOnOneSessionAreSerialized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})
	s := h.start(t)
	startSeq := s.Record(domain.StepRequirements).Seq

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.engine.UpdateStepData(ctx, testKey, domain.StepRequirements, domain.StepPatch{
				Fields: map[string]string{fmt.Sprintf("note_%02d", i): "x"},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	s, err := h.engine.Session(ctx, testKey)
	require.NoError(t, err)
	rec := s.Record(domain.StepRequirements)
	assert.Equal(t, startSeq+writers, rec.Seq)
	notes := 0
	for k := range rec.Fields {
		if strings.HasPrefix(k, "note_") {
			notes++
		}
	}
	assert.Equal(t, writers, notes)
}

func TestEngine_MissingSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, Config{})

	_, err := h.engine.Approve(ctx, testKey, domain.StepRequirements)
	assert.True(t, domain.IsSessionNotFound(err))

	_, err = h.engine.SaveAndSuspend(ctx, testKey)
	assert.True(t, domain.IsSessionNotFound(err))

	assert.NoError(t, h.engine.Reset(ctx, testKey))
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{MaxRevisions: 2}.withDefaults()
	assert.Equal(t, 2, cfg.MaxRevisions)
	assert.Equal(t, 5*time.Minute, cfg.GenerationTimeout)
	assert.Equal(t, 10*time.Minute, cfg.TestTimeout)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
	assert.Equal(t, "16.0", cfg.DefaultOdooVersion)
	assert.Equal(t, "community", cfg.DefaultOdooEdition)
}

func TestConfig_TestTimeoutNeverBelowGenerationTimeout(t *testing.T) {
	cfg := Config{GenerationTimeout: 20 * time.Minute, TestTimeout: time.Minute}.withDefaults()
	assert.Equal(t, 20*time.Minute, cfg.TestTimeout)
	assert.Equal(t, 20*time.Minute, cfg.callTimeout(domain.StepOdooTesting))
	assert.Equal(t, 20*time.Minute, cfg.callTimeout(domain.StepModuleOutput))

	cfg = Config{GenerationTimeout: time.Minute, TestTimeout: 15 * time.Minute}.withDefaults()
	assert.Equal(t, 15*time.Minute, cfg.callTimeout(domain.StepOdooTesting))
	assert.Equal(t, time.Minute, cfg.callTimeout(domain.StepSpecification))
}

// specGenerated matches snapshots that carry a stored specification version
func specGenerated(s *domain.Session) bool {
	return s.Record(domain.StepSpecification).Version > 0
}
