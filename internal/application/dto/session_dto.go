package dto

import (
	"time"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// SessionDTO is the presentation view of a workflow session
type SessionDTO struct {
	ID          string                `json:"id" yaml:"id"`
	Key         string                `json:"key" yaml:"key"`
	CurrentStep string                `json:"current_step" yaml:"current_step"`
	Finished    bool                  `json:"finished" yaml:"finished"`
	Module      workflow.Requirements `json:"module" yaml:"module"`
	Steps       []StepDTO             `json:"steps" yaml:"steps"`
	CreatedAt   time.Time             `json:"created_at" yaml:"created_at"`
	LastSavedAt time.Time             `json:"last_saved_at" yaml:"last_saved_at"`
	ResumeToken string                `json:"resume_token,omitempty" yaml:"resume_token,omitempty"`
}

// StepDTO is the presentation view of one step record
type StepDTO struct {
	Step               string            `json:"step" yaml:"step"`
	Number             int               `json:"number" yaml:"number"`
	Title              string            `json:"title" yaml:"title"`
	Current            bool              `json:"current" yaml:"current"`
	Approved           bool              `json:"approved" yaml:"approved"`
	Completed          bool              `json:"completed" yaml:"completed"`
	Version            int               `json:"version" yaml:"version"`
	RevisionsUsed      int               `json:"revisions_used" yaml:"revisions_used"`
	RevisionsRemaining int               `json:"revisions_remaining" yaml:"revisions_remaining"`
	Content            string            `json:"content,omitempty" yaml:"content,omitempty"`
	Fields             map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	GeneratedAt        *time.Time        `json:"generated_at,omitempty" yaml:"generated_at,omitempty"`
	EditedAt           *time.Time        `json:"edited_at,omitempty" yaml:"edited_at,omitempty"`
	ApprovedAt         *time.Time        `json:"approved_at,omitempty" yaml:"approved_at,omitempty"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" yaml:"completed_at,omitempty"`
}

// ArtifactDTO is one stored version of a step's content
type ArtifactDTO struct {
	Step      string    `json:"step" yaml:"step"`
	Version   int       `json:"version" yaml:"version"`
	Content   string    `json:"content" yaml:"content"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// NewSessionDTO converts a session for presentation. Revision budgets are
// computed against maxRevisions; revisable steps only.
func NewSessionDTO(s *workflow.Session, maxRevisions int) *SessionDTO {
	out := &SessionDTO{
		ID:          s.ID.String(),
		Key:         s.Key,
		CurrentStep: s.CurrentStep.String(),
		Finished:    s.IsFinished(),
		Module:      s.Requirements(),
		CreatedAt:   s.CreatedAt,
		LastSavedAt: s.LastSavedAt,
	}
	for _, step := range workflow.Steps() {
		rec := s.Steps[step]
		if rec == nil {
			rec = &workflow.StepRecord{}
		}
		sd := StepDTO{
			Step:          step.String(),
			Number:        step.Number(),
			Title:         step.Title(),
			Current:       step == s.CurrentStep,
			Approved:      rec.Approved,
			Completed:     rec.Completed,
			Version:       rec.Version,
			RevisionsUsed: rec.RevisionsUsed,
			Content:       rec.Content,
			Fields:        rec.Fields,
			GeneratedAt:   rec.GeneratedAt,
			EditedAt:      rec.EditedAt,
			ApprovedAt:    rec.ApprovedAt,
			CompletedAt:   rec.CompletedAt,
		}
		if step.IsRevisable() {
			sd.RevisionsRemaining = rec.Budget(maxRevisions).Remaining()
		}
		out.Steps = append(out.Steps, sd)
	}
	return out
}

// NewArtifactDTOs converts an artifact history for presentation
func NewArtifactDTOs(step workflow.Step, history []workflow.Artifact) []ArtifactDTO {
	out := make([]ArtifactDTO, 0, len(history))
	for _, a := range history {
		out = append(out, ArtifactDTO{
			Step:      step.String(),
			Version:   a.Version,
			Content:   a.Content,
			CreatedAt: a.CreatedAt,
		})
	}
	return out
}
