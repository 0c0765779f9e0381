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

// SessionRepositoryImpl implements repository.SessionRepository with SQLite
type SessionRepositoryImpl struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-based session repository
func NewSessionRepository(db *sql.DB) repository.SessionRepository {
	return &SessionRepositoryImpl{db: db}
}

// Load retrieves the session snapshot stored under key
func (r *SessionRepositoryImpl) Load(ctx context.Context, key string) (*workflow.Session, error) {
	var snapshot []byte
	err := executor(ctx, r.db).QueryRowContext(ctx,
		"SELECT snapshot FROM sessions WHERE session_key = ?", key,
	).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, workflow.ErrSessionNotFound.WithDetails(map[string]interface{}{"key": key})
	}
	if err != nil {
		return nil, fmt.Errorf("load session failed: %w", err)
	}

	s, err := workflow.DecodeSnapshot(snapshot)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return s, nil
}

// Save upserts the snapshot. The row is only replaced when the incoming
// snapshot is not older than the stored one.
func (r *SessionRepositoryImpl) Save(ctx context.Context, s *workflow.Session) error {
	snapshot, err := workflow.EncodeSnapshot(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO sessions (session_key, session_id, current_step, snapshot, last_saved_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_key) DO UPDATE SET
			session_id = excluded.session_id,
			current_step = excluded.current_step,
			snapshot = excluded.snapshot,
			last_saved_at = excluded.last_saved_at,
			updated_at = excluded.updated_at
		WHERE excluded.last_saved_at >= sessions.last_saved_at
	`
	_, err = executor(ctx, r.db).ExecContext(ctx, query,
		s.Key, s.ID.String(), s.CurrentStep.String(), snapshot,
		s.LastSavedAt.UnixNano(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save session failed: %w", err)
	}
	return nil
}

// Clear deletes the session stored under key
func (r *SessionRepositoryImpl) Clear(ctx context.Context, key string) error {
	if _, err := executor(ctx, r.db).ExecContext(ctx, "DELETE FROM sessions WHERE session_key = ?", key); err != nil {
		return fmt.Errorf("clear session failed: %w", err)
	}
	return nil
}
