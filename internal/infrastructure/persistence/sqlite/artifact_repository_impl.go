package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// ArtifactRepositoryImpl implements repository.ArtifactRepository with SQLite
type ArtifactRepositoryImpl struct {
	db *sql.DB
}

var _ repository.ArtifactReverter = (*ArtifactRepositoryImpl)(nil)

// NewArtifactRepository creates a new SQLite-based artifact repository
func NewArtifactRepository(db *sql.DB) repository.ArtifactRepository {
	return &ArtifactRepositoryImpl{db: db}
}

// Append stores content as the next version. The version is derived from
// the stored rows inside the INSERT statement.
func (r *ArtifactRepositoryImpl) Append(ctx context.Context, key workflow.ArtifactKey, content string) (int, error) {
	query := `
		INSERT INTO artifacts (session_id, step, version, content, created_at)
		SELECT ?, ?, COALESCE(MAX(version), 0) + 1, ?, ?
		FROM artifacts WHERE session_id = ? AND step = ?
		RETURNING version
	`
	var version int
	err := executor(ctx, r.db).QueryRowContext(ctx, query,
		key.SessionID.String(), key.Step.String(), content, time.Now().UTC(),
		key.SessionID.String(), key.Step.String(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("append artifact failed: %w", err)
	}
	return version, nil
}

// Get retrieves one version; version 0 means latest
func (r *ArtifactRepositoryImpl) Get(ctx context.Context, key workflow.ArtifactKey, version int) (*workflow.Artifact, error) {
	var row *sql.Row
	db := executor(ctx, r.db)
	if version == 0 {
		row = db.QueryRowContext(ctx, `
			SELECT version, content, created_at FROM artifacts
			WHERE session_id = ? AND step = ?
			ORDER BY version DESC LIMIT 1
		`, key.SessionID.String(), key.Step.String())
	} else {
		row = db.QueryRowContext(ctx, `
			SELECT version, content, created_at FROM artifacts
			WHERE session_id = ? AND step = ? AND version = ?
		`, key.SessionID.String(), key.Step.String(), version)
	}

	a := workflow.Artifact{Key: key}
	err := row.Scan(&a.Version, &a.Content, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrVersionNotFound.WithStep(key.Step).WithDetails(map[string]interface{}{
			"session_id": key.SessionID,
			"version":    version,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact failed: %w", err)
	}
	return &a, nil
}

// History returns all versions in ascending order
func (r *ArtifactRepositoryImpl) History(ctx context.Context, key workflow.ArtifactKey) ([]workflow.Artifact, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, `
		SELECT version, content, created_at FROM artifacts
		WHERE session_id = ? AND step = ?
		ORDER BY version ASC
	`, key.SessionID.String(), key.Step.String())
	if err != nil {
		return nil, fmt.Errorf("list artifacts failed: %w", err)
	}
	defer rows.Close()

	var history []workflow.Artifact
	for rows.Next() {
		a := workflow.Artifact{Key: key}
		if err := rows.Scan(&a.Version, &a.Content, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan artifact failed: %w", err)
		}
		history = append(history, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate artifacts failed: %w", err)
	}
	return history, nil
}

// LatestVersion returns the highest stored version, 0 if none
func (r *ArtifactRepositoryImpl) LatestVersion(ctx context.Context, key workflow.ArtifactKey) (int, error) {
	var version int
	err := executor(ctx, r.db).QueryRowContext(ctx,
		"SELECT COALESCE(MAX(version), 0) FROM artifacts WHERE session_id = ? AND step = ?",
		key.SessionID.String(), key.Step.String(),
	).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get latest artifact version failed: %w", err)
	}
	return version, nil
}

// Revert deletes a version whose session commit failed. Only used when the
// session store is outside the SQLite transaction.
func (r *ArtifactRepositoryImpl) Revert(ctx context.Context, key workflow.ArtifactKey, version int) error {
	_, err := executor(ctx, r.db).ExecContext(ctx,
		"DELETE FROM artifacts WHERE session_id = ? AND step = ? AND version = ?",
		key.SessionID.String(), key.Step.String(), version,
	)
	if err != nil {
		return fmt.Errorf("revert artifact failed: %w", err)
	}
	return nil
}
