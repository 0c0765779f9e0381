package workflow

import (
	"fmt"
	"time"
)

// ArtifactKey identifies the version history of one step of one session
type ArtifactKey struct {
	SessionID SessionID
	Step      Step
}

// NewArtifactKey creates the history key for a session step
func NewArtifactKey(id SessionID, step Step) ArtifactKey {
	return ArtifactKey{SessionID: id, Step: step}
}

// String returns "<session>/<step>"
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s/%s", k.SessionID, k.Step)
}

// Artifact is one stored version of a step's generated content
type Artifact struct {
	Key       ArtifactKey `json:"-" yaml:"-"`
	Version   int         `json:"version" yaml:"version"`
	Content   string      `json:"content" yaml:"content"`
	CreatedAt time.Time   `json:"created_at" yaml:"created_at"`
}
