package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// SessionRepository stores one JSON snapshot per session key under
// <baseDir>/sessions/<key>.json
type SessionRepository struct {
	fs      afero.Fs
	baseDir string
	mu      sync.Mutex
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a file-based session repository
func NewSessionRepository(fs afero.Fs, baseDir string) *SessionRepository {
	return &SessionRepository{fs: fs, baseDir: baseDir}
}

func (r *SessionRepository) path(key string) string {
	return filepath.Join(r.baseDir, "sessions", key+".json")
}

// Load reads and validates the snapshot for key
func (r *SessionRepository) Load(ctx context.Context, key string) (*workflow.Session, error) {
	if err := workflow.ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(r.fs, r.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, workflow.ErrSessionNotFound.WithDetails(map[string]interface{}{"key": key})
	}
	if err != nil {
		return nil, fmt.Errorf("read session %s: %w", key, err)
	}

	s, err := workflow.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return s, nil
}

// Save writes the full snapshot atomically. A snapshot older than the
// stored one is dropped.
func (r *SessionRepository) Save(ctx context.Context, s *workflow.Session) error {
	if err := workflow.ValidateKey(s.Key); err != nil {
		return err
	}
	data, err := workflow.EncodeSnapshot(s)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// An unreadable stored snapshot is overwritten
	if stored, err := r.Load(ctx, s.Key); err == nil && s.LastSavedAt.Before(stored.LastSavedAt) {
		return nil
	}
	return WriteFileAtomic(r.fs, r.path(s.Key), data, 0o600)
}

// Clear removes the snapshot for key
func (r *SessionRepository) Clear(ctx context.Context, key string) error {
	if err := workflow.ValidateKey(key); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fs.Remove(r.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove session %s: %w", key, err)
	}
	return nil
}
