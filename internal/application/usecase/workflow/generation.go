package workflow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	domain "github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// requestTag identifies the session state a remote request was issued against
type requestTag struct {
	sessionID   domain.SessionID
	step        domain.Step
	currentStep domain.Step
	version     int
	seq         int64
}

func tagOf(s *domain.Session, step domain.Step) requestTag {
	rec := s.Record(step)
	return requestTag{
		sessionID:   s.ID,
		step:        step,
		currentStep: s.CurrentStep,
		version:     rec.Version,
		seq:         rec.Seq,
	}
}

func (t requestTag) matches(s *domain.Session) bool {
	rec := s.Record(t.step)
	return s.ID == t.sessionID &&
		s.CurrentStep == t.currentStep &&
		rec.Version == t.version &&
		rec.Seq == t.seq
}

// generationResult is the content to commit for a step
type generationResult struct {
	content string
	fields  map[string]string
}

// remoteCall performs the remote part of a generation against a snapshot
type remoteCall func(ctx context.Context, s *domain.Session, rc output.RequestContext) (*generationResult, error)

// Generate produces the content of step through the remote services
func (e *Engine) Generate(ctx context.Context, key string, step domain.Step) (*domain.Session, error) {
	return e.run(ctx, key, step, false, func(s *domain.Session) error {
		return s.CheckGeneratable(step)
	}, func(ctx context.Context, s *domain.Session, rc output.RequestContext) (*generationResult, error) {
		return e.generate(ctx, s, step, rc)
	})
}

// RequestRevision regenerates step with feedback. The revision budget is
// checked before any remote call.
func (e *Engine) RequestRevision(ctx context.Context, key string, step domain.Step, feedback string) (*domain.Session, error) {
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return nil, domain.ErrInvalidInput.WithStep(step).WithMessage("revision feedback is empty")
	}
	return e.run(ctx, key, step, true, func(s *domain.Session) error {
		return s.CheckRevisable(step, e.cfg.MaxRevisions)
	}, func(ctx context.Context, s *domain.Session, rc output.RequestContext) (*generationResult, error) {
		return e.revise(ctx, s, step, feedback, rc)
	})
}

// run executes one generation: local checks under the session lock, the
// remote call without it, then a validated commit under the lock again.
func (e *Engine) run(ctx context.Context, key string, step domain.Step, revision bool, check func(*domain.Session) error, call remoteCall) (_ *domain.Session, err error) {
	requestID := e.newRequestID()
	timeout := e.cfg.callTimeout(step)
	snapshot, tag, err := e.begin(ctx, key, step, requestID, timeout, check)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			e.settle(ctx, key, step, requestID)
		}
	}()

	rc := output.RequestContext{
		SessionID: snapshot.ID,
		RequestID: requestID,
		Module:    snapshot.Requirements(),
	}
	e.logger.Info("Requesting %s for session %s (request %s, version %d)", describe(step, revision), snapshot.ID, rc.RequestID, tag.version)

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	started := time.Now()
	result, err := call(callCtx, snapshot, rc)
	cancel()
	if err != nil {
		err = e.remoteError(ctx, step, err)
		e.logger.Warn("%s failed for session %s after %s: %v", describe(step, revision), snapshot.ID, time.Since(started).Round(time.Millisecond), err)
		return nil, err
	}

	// The caller abandoned the request; a late result is never applied
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if step == domain.StepSpecification {
		e.checkVersionMention(snapshot, result.content)
	}
	return e.commit(ctx, key, tag, result, revision)
}

// begin checks the local preconditions and persists the in-flight marker of
// requestID. The marker is visible to every process sharing the store.
func (e *Engine) begin(ctx context.Context, key string, step domain.Step, requestID string, timeout time.Duration, check func(*domain.Session) error) (*domain.Session, requestTag, error) {
	unlock := e.lock(key)
	defer unlock()

	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, requestTag{}, err
	}
	if err := check(s); err != nil {
		return nil, requestTag{}, err
	}
	if err := s.Requirements().Validate(); err != nil {
		return nil, requestTag{}, err
	}
	now := e.clock()
	if s.GenerationInFlight(step, now) {
		return nil, requestTag{}, domain.ErrGenerationInProgress.WithStep(step).WithDetails(map[string]interface{}{
			"request_id": s.Record(step).InFlight.RequestID,
		})
	}
	if err := e.reconcile(ctx, s, step); err != nil {
		return nil, requestTag{}, err
	}

	s.MarkInFlight(step, requestID, now.Add(timeout))
	s.LastSavedAt = stamp(s.LastSavedAt, now)
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, requestTag{}, fmt.Errorf("save session: %w", err)
	}
	return s.Clone(), tagOf(s, step), nil
}

// reconcile drops artifact versions beyond the version recorded on the
// session. They are left behind when a failed commit could not be undone.
func (e *Engine) reconcile(ctx context.Context, s *domain.Session, step domain.Step) error {
	key := domain.NewArtifactKey(s.ID, step)
	recorded := s.Record(step).Version
	latest, err := e.artifacts.LatestVersion(ctx, key)
	if err != nil {
		return fmt.Errorf("read artifact history %s: %w", key, err)
	}
	if latest <= recorded {
		return nil
	}

	reverter, ok := e.artifacts.(repository.ArtifactReverter)
	if !ok {
		return fmt.Errorf("artifact history %s holds version %d beyond recorded version %d and the store cannot revert it", key, latest, recorded)
	}
	for v := latest; v > recorded; v-- {
		if err := reverter.Revert(ctx, key, v); err != nil {
			return fmt.Errorf("revert orphaned artifact %s version %d: %w", key, v, err)
		}
	}
	e.logger.Warn("Removed %d orphaned %s version(s) of session %s", latest-recorded, step, s.ID)
	return nil
}

// settle removes the in-flight marker of a request that stored nothing
func (e *Engine) settle(ctx context.Context, key string, step domain.Step, requestID string) {
	ctx = context.WithoutCancel(ctx)
	unlock := e.lock(key)
	defer unlock()

	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		if !domain.IsSessionNotFound(err) {
			e.logger.Warn("Failed to load session %s to clear %s marker: %v", key, step, err)
		}
		return
	}
	if !s.ClearInFlight(step, requestID) {
		return
	}
	s.LastSavedAt = stamp(s.LastSavedAt, e.clock())
	if err := e.sessions.Save(ctx, s); err != nil {
		e.logger.Warn("Failed to clear %s marker of session %s: %v", step, s.ID, err)
	}
}

// commit appends the artifact and records it on the session in one
// transaction. A result whose request tag no longer matches is discarded.
func (e *Engine) commit(ctx context.Context, key string, tag requestTag, result *generationResult, revision bool) (*domain.Session, error) {
	unlock := e.lock(key)
	defer unlock()

	s, err := e.sessions.Load(ctx, key)
	if err != nil && !domain.IsSessionNotFound(err) {
		return nil, err
	}
	if s == nil || !tag.matches(s) {
		e.logger.Warn("Discarding stale %s result for session %s", tag.step, tag.sessionID)
		return nil, domain.ErrStaleResponse.WithStep(tag.step).WithDetails(map[string]interface{}{
			"issued_version": tag.version,
			"issued_step":    tag.currentStep,
		})
	}

	prev := s.Clone()
	now := e.clock()
	artifactKey := domain.NewArtifactKey(s.ID, tag.step)
	var (
		version int
		saved   bool
	)
	err = e.txManager.InTransaction(ctx, func(txCtx context.Context) error {
		v, err := e.artifacts.Append(txCtx, artifactKey, result.content)
		if err != nil {
			return fmt.Errorf("append artifact %s: %w", artifactKey, err)
		}
		version = v
		if err := s.RecordGeneration(tag.step, result.content, result.fields, v, revision, now); err != nil {
			return err
		}
		if err := s.Validate(); err != nil {
			return err
		}
		s.LastSavedAt = stamp(s.LastSavedAt, now)
		if err := e.sessions.Save(txCtx, s); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		saved = true
		return nil
	})
	if err != nil {
		e.rollback(ctx, artifactKey, version, prev, s, saved)
		return nil, err
	}

	op := "generate"
	if revision {
		op = "revise"
	}
	e.record(ctx, repository.JournalRecord{SessionID: s.ID.String(), Key: key, Op: op, Step: tag.step.String(), Version: version})
	e.logger.Info("Stored %s version %d for session %s", tag.step, version, s.ID)
	return s.Clone(), nil
}

// rollback undoes effects that escaped a failed commit transaction
func (e *Engine) rollback(ctx context.Context, key domain.ArtifactKey, version int, prev, attempted *domain.Session, saved bool) {
	ctx = context.WithoutCancel(ctx)
	if version > 0 {
		if reverter, ok := e.artifacts.(repository.ArtifactReverter); ok {
			if err := reverter.Revert(ctx, key, version); err != nil {
				e.logger.Error("Failed to revert artifact %s version %d: %v", key, version, err)
			}
		}
	}
	if saved {
		prev.LastSavedAt = stamp(attempted.LastSavedAt, e.clock())
		if err := e.sessions.Save(ctx, prev); err != nil {
			e.logger.Error("Failed to restore session %s: %v", prev.ID, err)
		}
	}
}

func (e *Engine) generate(ctx context.Context, s *domain.Session, step domain.Step, rc output.RequestContext) (*generationResult, error) {
	switch step {
	case domain.StepSpecification:
		out, err := e.gateway.GenerateSpecification(ctx, output.SpecificationRequest{
			RequestContext: rc,
			Requirements:   s.Record(domain.StepRequirements).Content,
		})
		if err != nil {
			return nil, err
		}
		return contentResult(out), nil

	case domain.StepDevelopmentPlan:
		out, err := e.gateway.GenerateDevelopmentPlan(ctx, output.DevelopmentPlanRequest{
			RequestContext: rc,
			Specification:  s.Record(domain.StepSpecification).Content,
		})
		if err != nil {
			return nil, err
		}
		return contentResult(out), nil

	case domain.StepModuleOutput:
		return e.buildModule(ctx, output.ModuleRequest{
			RequestContext:  rc,
			DevelopmentPlan: s.Record(domain.StepDevelopmentPlan).Content,
		})

	case domain.StepOdooTesting:
		module := s.Record(domain.StepModuleOutput)
		results, err := e.gateway.RunAutomatedTests(ctx, output.TestRequest{
			RequestContext: rc,
			Handle:         output.GenerationHandle(module.Fields[domain.FieldHandle]),
			ModuleOutput:   module.Content,
		})
		if err != nil {
			return nil, err
		}
		status := "failed"
		if results.Success {
			status = "passed"
		}
		return &generationResult{
			content: results.Content,
			fields: map[string]string{
				domain.FieldTestStatus:  status,
				domain.FieldTestsPassed: strconv.Itoa(results.Passed),
				domain.FieldTestsFailed: strconv.Itoa(results.Failed),
			},
		}, nil
	}
	return nil, domain.ErrNotGeneratable.WithStep(step)
}

func (e *Engine) revise(ctx context.Context, s *domain.Session, step domain.Step, feedback string, rc output.RequestContext) (*generationResult, error) {
	rec := s.Record(step)
	req := output.RevisionRequest{
		RequestContext: rc,
		RemoteID:       rec.Fields[domain.FieldRemoteID],
		Feedback:       feedback,
		CurrentContent: rec.Content,
	}

	switch step {
	case domain.StepSpecification:
		out, err := e.gateway.ReviseSpecification(ctx, req)
		if err != nil {
			return nil, err
		}
		return contentResult(out), nil

	case domain.StepDevelopmentPlan:
		out, err := e.gateway.ReviseDevelopmentPlan(ctx, req)
		if err != nil {
			return nil, err
		}
		return contentResult(out), nil

	case domain.StepModuleOutput:
		return e.buildModule(ctx, output.ModuleRequest{
			RequestContext:  rc,
			DevelopmentPlan: s.Record(domain.StepDevelopmentPlan).Content,
			Feedback:        feedback,
			CurrentContent:  rec.Content,
		})
	}
	return nil, domain.ErrNotRevisable.WithStep(step)
}

// buildModule starts a module generation and polls it until it settles.
// The wait is bounded by ctx.
func (e *Engine) buildModule(ctx context.Context, req output.ModuleRequest) (*generationResult, error) {
	handle, err := e.gateway.GenerateModule(ctx, req)
	if err != nil {
		return nil, err
	}
	if handle == "" {
		return nil, domain.ErrGenerationFailed.WithStep(domain.StepModuleOutput).WithMessage("remote service returned no generation handle")
	}

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		report, err := e.gateway.PollGenerationStatus(ctx, handle)
		if err != nil {
			return nil, err
		}

		switch report.Status {
		case output.GenerationCompleted:
			fields := map[string]string{domain.FieldHandle: string(handle)}
			if url := report.Metadata[domain.FieldDownloadURL]; url != "" {
				fields[domain.FieldDownloadURL] = url
			}
			return &generationResult{content: report.Content, fields: fields}, nil
		case output.GenerationFailed:
			msg := report.Message
			if msg == "" {
				msg = "module generation failed"
			}
			return nil, domain.ErrGenerationFailed.WithStep(domain.StepModuleOutput).WithMessage(msg)
		case output.GenerationPending:
			e.logger.Debug("Module generation %s pending (poll %d)", handle, attempt)
		default:
			return nil, domain.ErrGenerationFailed.WithStep(domain.StepModuleOutput).
				WithMessage(fmt.Sprintf("unknown generation status %q", report.Status))
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// remoteError converts a gateway failure into a typed workflow error
func (e *Engine) remoteError(parent context.Context, step domain.Step, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}

	var wfErr domain.WorkflowError
	if errors.As(err, &wfErr) {
		if wfErr.Step == "" {
			wfErr = wfErr.WithStep(step)
		}
		return wfErr
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrGenerationTimeout.WithStep(step).Wrap(err)
	}

	var gwErr *output.GatewayError
	if errors.As(err, &gwErr) {
		if gwErr.Timeout {
			return domain.ErrGenerationTimeout.WithStep(step).Wrap(err)
		}
		return domain.ErrGenerationFailed.WithStep(step).WithRetryable(gwErr.Retryable).Wrap(err)
	}
	return domain.ErrGenerationFailed.WithStep(step).Wrap(err)
}

// checkVersionMention warns when a specification does not name the module
// version it was generated for
func (e *Engine) checkVersionMention(s *domain.Session, content string) {
	req := s.Requirements()
	if req.ModuleVersion != "" && !strings.Contains(content, req.ModuleVersion) {
		e.logger.Warn("Specification for %s does not mention module version %s", req.ModuleName, req.ModuleVersion)
	}
}

func contentResult(out *output.GeneratedContent) *generationResult {
	var fields map[string]string
	if out.RemoteID != "" {
		fields = map[string]string{domain.FieldRemoteID: out.RemoteID}
	}
	return &generationResult{content: out.Content, fields: fields}
}

func describe(step domain.Step, revision bool) string {
	if revision {
		return strings.ToLower(step.Title()) + " revision"
	}
	return strings.ToLower(step.Title()) + " generation"
}
