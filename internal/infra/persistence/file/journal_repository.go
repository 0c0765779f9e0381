package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/odoogen/internal/app"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
)

// JournalRepository appends transitions as NDJSON lines to one file
type JournalRepository struct {
	fs   afero.Fs
	path string
	mu   sync.Mutex
}

var _ repository.JournalRepository = (*JournalRepository)(nil)

// NewJournalRepository creates a journal writing to path
func NewJournalRepository(fs afero.Fs, path string) *JournalRepository {
	return &JournalRepository{fs: fs, path: path}
}

// Append writes one record and syncs the file
func (r *JournalRepository) Append(ctx context.Context, record repository.JournalRecord) error {
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.fs.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create journal directory: %w", err)
	}
	f, err := r.fs.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append journal record: %w", err)
	}
	if err := f.Sync(); err != nil {
		// The record is written; durability is best effort
		app.GetLogger().Warn("Failed to fsync journal: %v", err)
	}
	return nil
}

// Load reads matching records. Corrupted lines are skipped.
func (r *JournalRepository) Load(ctx context.Context, filter repository.JournalFilter) ([]repository.JournalRecord, error) {
	r.mu.Lock()
	data, err := afero.ReadFile(r.fs, r.path)
	r.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return []repository.JournalRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	records := []repository.JournalRecord{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec repository.JournalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			app.GetLogger().Warn("Skipping corrupted journal line %d: %v", lineNum, err)
			continue
		}
		if filter.Key != "" && rec.Key != filter.Key {
			continue
		}
		if filter.SessionID != "" && rec.SessionID != filter.SessionID {
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}

	if filter.Limit > 0 && len(records) > filter.Limit {
		records = records[len(records)-filter.Limit:]
	}
	return records, nil
}
