package workflow

import (
	"crypto/rand"
	"fmt"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
)

// SessionID is a value object for the workflow session identifier
type SessionID string

// NewSessionID generates a new ULID based session identifier
func NewSessionID(now time.Time) SessionID {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return SessionID(ulid.MustNew(ulid.Timestamp(now), entropy).String())
}

// String returns the string representation of the ID
func (id SessionID) String() string {
	return string(id)
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateKey checks a caller-supplied session key. Keys are used as file
// names and storage keys, so they are restricted to a safe alphabet.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("invalid session key %q", key))
	}
	return nil
}

// Session is one active workflow instance
type Session struct {
	ID          SessionID            `json:"id"`
	Key         string               `json:"key"`
	CurrentStep Step                 `json:"current_step"`
	Steps       map[Step]*StepRecord `json:"steps"`
	CreatedAt   time.Time            `json:"created_at"`
	UpdatedAt   time.Time            `json:"updated_at"`
	LastSavedAt time.Time            `json:"last_saved_at"`
	FinishedAt  *time.Time           `json:"finished_at,omitempty"`
}

// NewSession creates a session positioned at the first step with the
// requirements stored on the REQUIREMENTS record
func NewSession(key string, req Requirements, now time.Time) *Session {
	now = now.UTC()
	s := &Session{
		ID:          NewSessionID(now),
		Key:         key,
		CurrentStep: FirstStep(),
		Steps:       make(map[Step]*StepRecord, len(orderedSteps)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, step := range orderedSteps {
		s.Steps[step] = &StepRecord{}
	}

	rec := s.Steps[StepRequirements]
	rec.Content = req.Description
	rec.mergeFields(req.Fields())
	rec.EditedAt = timePtr(now)
	rec.Seq = 1
	return s
}

// Record returns the record for a step, creating an empty one if needed
func (s *Session) Record(step Step) *StepRecord {
	if s.Steps == nil {
		s.Steps = make(map[Step]*StepRecord, len(orderedSteps))
	}
	rec, ok := s.Steps[step]
	if !ok {
		rec = &StepRecord{}
		s.Steps[step] = rec
	}
	return rec
}

// Requirements returns the module context from step 1
func (s *Session) Requirements() Requirements {
	return RequirementsFromRecord(s.Steps[StepRequirements])
}

// IsFinished returns true once the terminal step has been completed
func (s *Session) IsFinished() bool {
	return s.FinishedAt != nil
}

// Clone returns a deep copy so callers never share mutable state with the engine
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Steps = make(map[Step]*StepRecord, len(s.Steps))
	for step, rec := range s.Steps {
		c.Steps[step] = rec.clone()
	}
	c.FinishedAt = cloneTime(s.FinishedAt)
	return &c
}

// Reachable reports whether the step may be visited, i.e. it is not past the current step
func (s *Session) Reachable(step Step) bool {
	return step.IsValid() && !step.After(s.CurrentStep)
}

// ApplyPatch merges a partial update into a step record. Only the current
// step and already completed steps may be edited; the current step never moves.
func (s *Session) ApplyPatch(step Step, patch StepPatch, now time.Time) error {
	if !step.IsValid() {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	rec := s.Record(step)
	if step != s.CurrentStep && !rec.Completed {
		return ErrOutOfOrderTransition.WithStep(step).WithDetails(map[string]interface{}{
			"current_step": s.CurrentStep,
		})
	}
	if patch.IsEmpty() {
		return nil
	}

	if patch.Content != nil {
		rec.Content = *patch.Content
	}
	rec.mergeFields(patch.Fields)
	rec.EditedAt = timePtr(now.UTC())
	rec.Seq++
	s.touch(now)
	return nil
}

// CheckGeneratable verifies the local preconditions of a generation request
func (s *Session) CheckGeneratable(step Step) error {
	if !step.IsGenerated() {
		return ErrNotGeneratable.WithStep(step)
	}
	prev, _ := step.Previous()
	prevRec := s.Record(prev)
	if !prevRec.Completed {
		return ErrOutOfOrderTransition.WithStep(step).WithDetails(map[string]interface{}{
			"current_step": s.CurrentStep,
			"missing":      prev,
		})
	}
	// A revised predecessor stays completed but must be approved again
	if !prevRec.Approved {
		return ErrStepNotApproved.WithStep(prev).WithDetails(map[string]interface{}{
			"requested_step": step,
		})
	}
	return nil
}

// GenerationInFlight reports whether a remote generation for step is still
// running at now
func (s *Session) GenerationInFlight(step Step, now time.Time) bool {
	m := s.Record(step).InFlight
	return m != nil && now.Before(m.Deadline)
}

// MarkInFlight records a remote generation issued for step. Content, flags
// and seq are untouched, so results tagged before the mark stay valid.
func (s *Session) MarkInFlight(step Step, requestID string, deadline time.Time) {
	s.Record(step).InFlight = &InFlight{RequestID: requestID, Deadline: deadline.UTC()}
}

// ClearInFlight removes the marker of requestID. It returns false when the
// step carries no marker of that request.
func (s *Session) ClearInFlight(step Step, requestID string) bool {
	rec := s.Record(step)
	if rec.InFlight == nil || rec.InFlight.RequestID != requestID {
		return false
	}
	rec.InFlight = nil
	return true
}

// CheckRevisable verifies the local preconditions of a revision request,
// including the revision budget
func (s *Session) CheckRevisable(step Step, maxRevisions int) error {
	if !step.IsRevisable() {
		return ErrNotRevisable.WithStep(step)
	}
	if err := s.CheckGeneratable(step); err != nil {
		return err
	}
	rec := s.Record(step)
	if rec.Version == 0 {
		return ErrNothingGenerated.WithStep(step)
	}
	budget := rec.Budget(maxRevisions)
	if budget.Exhausted() {
		return ErrRevisionLimitExceeded.WithStep(step).WithDetails(map[string]interface{}{
			"used": budget.Used,
			"max":  budget.Max,
		})
	}
	return nil
}

// RecordGeneration stores a newly generated artifact version on the record.
// The step loses its approval; revision results also consume budget.
func (s *Session) RecordGeneration(step Step, content string, fields map[string]string, version int, revision bool, now time.Time) error {
	rec := s.Record(step)
	if version != rec.Version+1 {
		return fmt.Errorf("artifact version %d does not follow step version %d for %s", version, rec.Version, step)
	}
	rec.Content = content
	rec.mergeFields(fields)
	rec.Version = version
	if revision {
		rec.RevisionsUsed++
	}
	rec.Approved = false
	rec.ApprovedAt = nil
	rec.GeneratedAt = timePtr(now.UTC())
	rec.InFlight = nil
	rec.Seq++
	s.touch(now)
	return nil
}

// Approve marks a step as approved without advancing the workflow
func (s *Session) Approve(step Step, now time.Time) error {
	if !step.IsValid() {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	if !s.Reachable(step) {
		return ErrOutOfOrderTransition.WithStep(step).WithDetails(map[string]interface{}{
			"current_step": s.CurrentStep,
		})
	}
	rec := s.Record(step)
	if step.IsGenerated() && rec.Version == 0 {
		return ErrNothingGenerated.WithStep(step)
	}
	if step == StepRequirements {
		if err := s.Requirements().Validate(); err != nil {
			return err
		}
	}
	rec.Approved = true
	rec.ApprovedAt = timePtr(now.UTC())
	rec.Seq++
	s.touch(now)
	return nil
}

// Complete finalizes the current step and advances to the next one.
// An empty payload keeps the current content.
func (s *Session) Complete(step Step, payload string, now time.Time) error {
	if !step.IsValid() {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	rec := s.Record(step)
	if !rec.Approved {
		return ErrStepNotApproved.WithStep(step)
	}
	if step != s.CurrentStep {
		return ErrOutOfOrderTransition.WithStep(step).WithDetails(map[string]interface{}{
			"current_step": s.CurrentStep,
		})
	}

	now = now.UTC()
	if payload != "" {
		rec.Content = payload
	}
	rec.Completed = true
	rec.CompletedAt = timePtr(now)
	rec.Seq++

	if next, ok := step.Next(); ok {
		s.CurrentStep = next
	} else {
		s.FinishedAt = timePtr(now)
	}
	s.touch(now)
	return nil
}

// Navigate moves the current step backwards (or stays). Forward skipping is
// rejected; flags of the revisited step are preserved.
func (s *Session) Navigate(step Step, now time.Time) error {
	if !step.IsValid() {
		return ErrInvalidInput.WithMessage(fmt.Sprintf("unknown step: %q", step))
	}
	if step.After(s.CurrentStep) {
		return ErrOutOfOrderTransition.WithStep(step).WithDetails(map[string]interface{}{
			"current_step": s.CurrentStep,
		})
	}
	if step == s.CurrentStep {
		return nil
	}
	s.CurrentStep = step
	s.touch(now)
	return nil
}

// Validate checks the structural invariants of a session. A violation is an
// internal bug, not a user error.
func (s *Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("invariant violated: session has no id")
	}
	if !s.CurrentStep.IsValid() {
		return fmt.Errorf("invariant violated: invalid current step %q", s.CurrentStep)
	}
	for step, rec := range s.Steps {
		if !step.IsValid() {
			return fmt.Errorf("invariant violated: unknown step %q in session %s", step, s.ID)
		}
		if rec == nil {
			return fmt.Errorf("invariant violated: nil record for %s", step)
		}
		if rec.Version < 0 || rec.RevisionsUsed < 0 {
			return fmt.Errorf("invariant violated: negative counters on %s", step)
		}
		if rec.RevisionsUsed > rec.Version {
			return fmt.Errorf("invariant violated: %s has %d revisions but version %d", step, rec.RevisionsUsed, rec.Version)
		}
	}
	if prev, ok := s.CurrentStep.Previous(); ok {
		if rec, exists := s.Steps[prev]; !exists || !rec.Completed {
			return fmt.Errorf("invariant violated: current step %s reached with %s incomplete", s.CurrentStep, prev)
		}
	}
	return nil
}

func (s *Session) touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}
