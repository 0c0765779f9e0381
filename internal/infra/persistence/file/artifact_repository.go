package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

const artifactExt = ".md"

// ArtifactRepository keeps one file per version under
// <baseDir>/artifacts/<sessionID>/<step>/<00000001>.md.
// Appends are serialized within the process.
type ArtifactRepository struct {
	fs      afero.Fs
	baseDir string
	mu      sync.Mutex
}

var (
	_ repository.ArtifactRepository = (*ArtifactRepository)(nil)
	_ repository.ArtifactReverter   = (*ArtifactRepository)(nil)
)

// NewArtifactRepository creates a file-based artifact repository
func NewArtifactRepository(fs afero.Fs, baseDir string) *ArtifactRepository {
	return &ArtifactRepository{fs: fs, baseDir: baseDir}
}

func (r *ArtifactRepository) dir(key workflow.ArtifactKey) string {
	return filepath.Join(r.baseDir, "artifacts", key.SessionID.String(), key.Step.String())
}

func (r *ArtifactRepository) path(key workflow.ArtifactKey, version int) string {
	return filepath.Join(r.dir(key), fmt.Sprintf("%08d%s", version, artifactExt))
}

// Append writes content as the next version
func (r *ArtifactRepository) Append(ctx context.Context, key workflow.ArtifactKey, content string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	versions, err := r.versions(key)
	if err != nil {
		return 0, err
	}
	version := 1
	if len(versions) > 0 {
		version = versions[len(versions)-1] + 1
	}
	if err := WriteFileAtomic(r.fs, r.path(key, version), []byte(content), 0o600); err != nil {
		return 0, fmt.Errorf("write artifact %s v%d: %w", key, version, err)
	}
	return version, nil
}

// Get reads one version; version 0 means latest
func (r *ArtifactRepository) Get(ctx context.Context, key workflow.ArtifactKey, version int) (*workflow.Artifact, error) {
	if version == 0 {
		latest, err := r.LatestVersion(ctx, key)
		if err != nil {
			return nil, err
		}
		version = latest
	}
	if version <= 0 {
		return nil, r.notFound(key, 0)
	}

	p := r.path(key, version)
	content, err := afero.ReadFile(r.fs, p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, r.notFound(key, version)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact %s v%d: %w", key, version, err)
	}
	a := &workflow.Artifact{Key: key, Version: version, Content: string(content)}
	if info, err := r.fs.Stat(p); err == nil {
		a.CreatedAt = info.ModTime().UTC()
	}
	return a, nil
}

// History reads all versions in ascending order
func (r *ArtifactRepository) History(ctx context.Context, key workflow.ArtifactKey) ([]workflow.Artifact, error) {
	versions, err := r.versions(key)
	if err != nil {
		return nil, err
	}
	history := make([]workflow.Artifact, 0, len(versions))
	for _, v := range versions {
		a, err := r.Get(ctx, key, v)
		if err != nil {
			return nil, err
		}
		history = append(history, *a)
	}
	return history, nil
}

// LatestVersion returns the highest stored version, 0 if none
func (r *ArtifactRepository) LatestVersion(ctx context.Context, key workflow.ArtifactKey) (int, error) {
	versions, err := r.versions(key)
	if err != nil || len(versions) == 0 {
		return 0, err
	}
	return versions[len(versions)-1], nil
}

// Revert removes a version whose session commit failed
func (r *ArtifactRepository) Revert(ctx context.Context, key workflow.ArtifactKey, version int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fs.Remove(r.path(key, version)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove artifact %s v%d: %w", key, version, err)
	}
	return nil
}

func (r *ArtifactRepository) versions(key workflow.ArtifactKey) ([]int, error) {
	entries, err := afero.ReadDir(r.fs, r.dir(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list artifacts %s: %w", key, err)
	}

	var versions []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, artifactExt) {
			continue
		}
		v, err := strconv.Atoi(strings.TrimSuffix(name, artifactExt))
		if err != nil || v <= 0 {
			continue
		}
		versions = append(versions, v)
	}
	sort.Ints(versions)
	return versions, nil
}

func (r *ArtifactRepository) notFound(key workflow.ArtifactKey, version int) error {
	return workflow.ErrVersionNotFound.WithStep(key.Step).WithDetails(map[string]interface{}{
		"session_id": key.SessionID,
		"version":    version,
	})
}
