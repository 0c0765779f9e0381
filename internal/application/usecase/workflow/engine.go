package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/input"
	"github.com/YoshitsuguKoike/odoogen/internal/application/port/output"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	domain "github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
	"github.com/YoshitsuguKoike/odoogen/internal/pkg/modname"
)

// Config holds the workflow policy
type Config struct {
	MaxRevisions       int           // Revision budget per step
	GenerationTimeout  time.Duration // Bound on one remote generation, polling included
	TestTimeout        time.Duration // Bound on an automated test run; never below GenerationTimeout
	PollInterval       time.Duration // Delay between module status polls
	DefaultOdooVersion string
	DefaultOdooEdition string
}

// DefaultConfig returns the default workflow policy
func DefaultConfig() Config {
	return Config{
		MaxRevisions:       5,
		GenerationTimeout:  5 * time.Minute,
		TestTimeout:        10 * time.Minute,
		PollInterval:       3 * time.Second,
		DefaultOdooVersion: "16.0",
		DefaultOdooEdition: "community",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxRevisions <= 0 {
		c.MaxRevisions = d.MaxRevisions
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = d.GenerationTimeout
	}
	if c.TestTimeout <= 0 {
		c.TestTimeout = d.TestTimeout
	}
	if c.TestTimeout < c.GenerationTimeout {
		c.TestTimeout = c.GenerationTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.DefaultOdooVersion == "" {
		c.DefaultOdooVersion = d.DefaultOdooVersion
	}
	if c.DefaultOdooEdition == "" {
		c.DefaultOdooEdition = d.DefaultOdooEdition
	}
	return c
}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the logger
func WithLogger(logger app.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithJournal records every successful transition in journal
func WithJournal(journal repository.JournalRepository) Option {
	return func(e *Engine) { e.journal = journal }
}

// WithRequestIDs overrides the generator of remote request correlation ids
func WithRequestIDs(next func() string) Option {
	return func(e *Engine) { e.newRequestID = next }
}

// callTimeout bounds the remote part of a generation of step
func (c Config) callTimeout(step domain.Step) time.Duration {
	if step == domain.StepOdooTesting {
		return c.TestTimeout
	}
	return c.GenerationTimeout
}

// keyLock is a session mutex shared by the operations waiting on one key
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Engine is the single authority for step sequencing and revision policy.
// Operations on one session key are serialized; remote calls run without
// holding the session lock and their results are validated on arrival.
type Engine struct {
	sessions     repository.SessionRepository
	artifacts    repository.ArtifactRepository
	gateway      output.GenerationGateway
	txManager    output.TransactionManager
	cfg          Config
	logger       app.Logger
	journal      repository.JournalRepository
	now          func() time.Time
	newRequestID func() string

	mu    sync.Mutex
	locks map[string]*keyLock
}

var _ input.WorkflowEngine = (*Engine)(nil)

// NewEngine creates a workflow engine
func NewEngine(
	sessions repository.SessionRepository,
	artifacts repository.ArtifactRepository,
	gateway output.GenerationGateway,
	txManager output.TransactionManager,
	cfg Config,
	opts ...Option,
) *Engine {
	e := &Engine{
		sessions:     sessions,
		artifacts:    artifacts,
		gateway:      gateway,
		txManager:    txManager,
		cfg:          cfg.withDefaults(),
		logger:       app.GetLogger(),
		now:          time.Now,
		newRequestID: uuid.NewString,
		locks:        make(map[string]*keyLock),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective workflow policy
func (e *Engine) Config() Config {
	return e.cfg
}

// Start creates a new session at REQUIREMENTS
func (e *Engine) Start(ctx context.Context, key string, initial domain.Requirements, replace bool) (*domain.Session, error) {
	if err := domain.ValidateKey(key); err != nil {
		return nil, err
	}
	req := initial.Normalize(e.cfg.DefaultOdooVersion, e.cfg.DefaultOdooEdition)

	unlock := e.lock(key)
	defer unlock()

	existing, err := e.sessions.Load(ctx, key)
	switch {
	case err == nil && !replace:
		return nil, domain.ErrSessionAlreadyActive.WithDetails(map[string]interface{}{
			"session_id":   existing.ID,
			"current_step": existing.CurrentStep,
		})
	case err != nil && !domain.IsSessionNotFound(err):
		return nil, fmt.Errorf("load session: %w", err)
	}

	now := e.clock()
	s := domain.NewSession(key, req, now)
	s.LastSavedAt = now
	if existing != nil {
		// The replacement must win over the stored snapshot
		s.LastSavedAt = stamp(existing.LastSavedAt, now)
	}
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	e.record(ctx, repository.JournalRecord{SessionID: s.ID.String(), Key: key, Op: "start", Step: s.CurrentStep.String()})
	if existing != nil {
		e.logger.Info("Replaced session %s with %s (key %s)", existing.ID, s.ID, key)
	} else {
		e.logger.Info("Started session %s (key %s, module %s)", s.ID, key, req.ModuleName)
	}
	return s.Clone(), nil
}

// UpdateStepData merges a partial update into the record of step
func (e *Engine) UpdateStepData(ctx context.Context, key string, step domain.Step, patch domain.StepPatch) (*domain.Session, error) {
	if name, ok := patch.Fields[domain.FieldModuleName]; ok && name != "" {
		fields := make(map[string]string, len(patch.Fields))
		for k, v := range patch.Fields {
			fields[k] = v
		}
		fields[domain.FieldModuleName] = modname.Normalize(name)
		patch.Fields = fields
	}

	return e.mutate(ctx, key, "update", func(s *domain.Session, now time.Time) error {
		return s.ApplyPatch(step, patch, now)
	})
}

// Approve marks step approved without advancing the workflow
func (e *Engine) Approve(ctx context.Context, key string, step domain.Step) (*domain.Session, error) {
	return e.mutate(ctx, key, "approve", func(s *domain.Session, now time.Time) error {
		if s.GenerationInFlight(step, now) {
			return domain.ErrGenerationInProgress.WithStep(step)
		}
		return s.Approve(step, now)
	})
}

// CompleteStep finalizes the current step and advances to the next one
func (e *Engine) CompleteStep(ctx context.Context, key string, step domain.Step, finalPayload string) (*domain.Session, error) {
	return e.mutate(ctx, key, "complete", func(s *domain.Session, now time.Time) error {
		if s.GenerationInFlight(step, now) {
			return domain.ErrGenerationInProgress.WithStep(step)
		}
		return s.Complete(step, finalPayload, now)
	})
}

// SetStep navigates back to step; forward skipping is rejected
func (e *Engine) SetStep(ctx context.Context, key string, step domain.Step) (*domain.Session, error) {
	return e.mutate(ctx, key, "navigate", func(s *domain.Session, now time.Time) error {
		return s.Navigate(step, now)
	})
}

// SaveAndSuspend persists the session unchanged and returns its resume token
func (e *Engine) SaveAndSuspend(ctx context.Context, key string) (string, error) {
	unlock := e.lock(key)
	defer unlock()

	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return "", err
	}
	if err := e.sessions.Save(ctx, s); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}
	e.logger.Info("Suspended session %s at %s", s.ID, s.CurrentStep)
	return s.ResumeToken(), nil
}

// Resume returns the session a resume token was issued for
func (e *Engine) Resume(ctx context.Context, token string) (*domain.Session, error) {
	key, id, err := domain.ParseResumeToken(token)
	if err != nil {
		return nil, err
	}
	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.ID != id {
		return nil, domain.ErrSessionNotFound.WithMessage("resume token does not match the active session")
	}
	e.logger.Info("Resumed session %s at %s", s.ID, s.CurrentStep)
	return s, nil
}

// Reset clears the session. Artifact history is kept.
func (e *Engine) Reset(ctx context.Context, key string) error {
	unlock := e.lock(key)
	defer unlock()

	if err := e.sessions.Clear(ctx, key); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	e.record(ctx, repository.JournalRecord{Key: key, Op: "reset"})
	e.logger.Info("Reset session key %s", key)
	return nil
}

// Session returns the current session for key
func (e *Engine) Session(ctx context.Context, key string) (*domain.Session, error) {
	return e.sessions.Load(ctx, key)
}

// History returns all artifact versions of step
func (e *Engine) History(ctx context.Context, key string, step domain.Step) ([]domain.Artifact, error) {
	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !step.IsValid() {
		return nil, domain.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	return e.artifacts.History(ctx, domain.NewArtifactKey(s.ID, step))
}

// Artifact returns one artifact version of step; version 0 means latest
func (e *Engine) Artifact(ctx context.Context, key string, step domain.Step, version int) (*domain.Artifact, error) {
	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	if !step.IsValid() {
		return nil, domain.ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	return e.artifacts.Get(ctx, domain.NewArtifactKey(s.ID, step), version)
}

// mutate runs fn against a freshly loaded session under the session lock
// and persists the result. Nothing is stored when fn or the save fails.
func (e *Engine) mutate(ctx context.Context, key, op string, fn func(s *domain.Session, now time.Time) error) (*domain.Session, error) {
	unlock := e.lock(key)
	defer unlock()

	s, err := e.sessions.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	from := s.CurrentStep

	now := e.clock()
	if err := fn(s, now); err != nil {
		e.logger.Debug("Rejected %s on session %s: %v", op, s.ID, err)
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.LastSavedAt = stamp(s.LastSavedAt, now)
	if err := e.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	rec := repository.JournalRecord{SessionID: s.ID.String(), Key: key, Op: op, Step: s.CurrentStep.String()}
	if from != s.CurrentStep {
		rec.FromStep = from.String()
	}
	e.record(ctx, rec)

	if from != s.CurrentStep {
		e.logger.Info("Session %s moved %s -> %s (%s)", s.ID, from, s.CurrentStep, op)
	} else {
		e.logger.Debug("Session %s %s at %s", s.ID, op, s.CurrentStep)
	}
	return s.Clone(), nil
}

// record appends to the journal. Journal failures never fail the operation.
func (e *Engine) record(ctx context.Context, rec repository.JournalRecord) {
	if e.journal == nil {
		return
	}
	rec.Timestamp = e.clock()
	if err := e.journal.Append(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("Failed to journal %s for key %s: %v", rec.Op, rec.Key, err)
	}
}

// lock serializes operations on key. Entries are dropped once no operation
// holds or waits for them.
func (e *Engine) lock(key string) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &keyLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}
}

// lockCount returns the number of session keys with a live lock
func (e *Engine) lockCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.locks)
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// stamp returns a save time strictly after prev
func stamp(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Nanosecond)
}
