package repository

import (
	"context"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// ArtifactRepository is an append-only history of generated step content.
// Versions are contiguous per key and start at 1.
type ArtifactRepository interface {
	// Append stores content as the next version and returns that version
	Append(ctx context.Context, key workflow.ArtifactKey, content string) (int, error)

	// Get returns one version; version 0 means latest.
	// Missing versions return workflow.ErrVersionNotFound.
	Get(ctx context.Context, key workflow.ArtifactKey, version int) (*workflow.Artifact, error)

	// History returns all versions in ascending order
	History(ctx context.Context, key workflow.ArtifactKey) ([]workflow.Artifact, error)

	// LatestVersion returns the highest stored version, 0 if none
	LatestVersion(ctx context.Context, key workflow.ArtifactKey) (int, error)
}

// ArtifactReverter is implemented by stores that cannot join the session
// transaction. The engine calls Revert to drop a version whose session
// commit failed.
type ArtifactReverter interface {
	Revert(ctx context.Context, key workflow.ArtifactKey, version int) error
}
