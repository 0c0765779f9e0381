package repository

import (
	"context"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// SessionRepository persists full session snapshots keyed by session key.
// Implementations store a snapshot atomically: a reader never observes a
// partial write. Concurrent saves resolve last-write-wins by LastSavedAt.
type SessionRepository interface {
	// Load returns the snapshot saved under key, or workflow.ErrSessionNotFound
	Load(ctx context.Context, key string) (*workflow.Session, error)

	// Save writes the snapshot. A save whose LastSavedAt is older than the
	// stored one is ignored.
	Save(ctx context.Context, s *workflow.Session) error

	// Clear removes the snapshot. Clearing a missing key is not an error.
	Clear(ctx context.Context, key string) error
}
