package file_test

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/infra/persistence/file"
)

func TestJournalRepository_AppendAndLoad(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := file.NewJournalRepository(fs, "/home/odoogen/journal.ndjson")
	ctx := context.Background()

	records := []repository.JournalRecord{
		{Timestamp: baseTime, SessionID: "s1", Key: "default", Op: "start", Step: "REQUIREMENTS"},
		{Timestamp: baseTime.Add(time.Second), SessionID: "s1", Key: "default", Op: "complete", FromStep: "REQUIREMENTS", Step: "SPECIFICATION"},
		{Timestamp: baseTime.Add(2 * time.Second), SessionID: "s2", Key: "other", Op: "start", Step: "REQUIREMENTS"},
		{Timestamp: baseTime.Add(3 * time.Second), SessionID: "s1", Key: "default", Op: "generate", Step: "SPECIFICATION", Version: 1},
	}
	for _, r := range records {
		require.NoError(t, repo.Append(ctx, r))
	}

	tests := []struct {
		name   string
		filter repository.JournalFilter
		want   []string
	}{
		{name: "all", filter: repository.JournalFilter{}, want: []string{"start", "complete", "start", "generate"}},
		{name: "by key", filter: repository.JournalFilter{Key: "default"}, want: []string{"start", "complete", "generate"}},
		{name: "by session", filter: repository.JournalFilter{SessionID: "s2"}, want: []string{"start"}},
		{name: "newest only", filter: repository.JournalFilter{Key: "default", Limit: 2}, want: []string{"complete", "generate"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.Load(ctx, tt.filter)
			require.NoError(t, err)
			ops := make([]string, 0, len(got))
			for _, r := range got {
				ops = append(ops, r.Op)
			}
			assert.Equal(t, tt.want, ops)
		})
	}

	got, err := repo.Load(ctx, repository.JournalFilter{SessionID: "s1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Version)
	assert.True(t, got[0].Timestamp.Equal(baseTime.Add(3*time.Second)))
}

func TestJournalRepository_MissingAndCorrupted(t *testing.T) {
	fs := afero.NewMemMapFs()
	repo := file.NewJournalRepository(fs, "/journal.ndjson")
	ctx := context.Background()

	got, err := repo.Load(ctx, repository.JournalFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, afero.WriteFile(fs, "/journal.ndjson", []byte("{broken\n\n"), 0o644))
	require.NoError(t, repo.Append(ctx, repository.JournalRecord{Timestamp: baseTime, Key: "default", Op: "reset"}))

	got, err = repo.Load(ctx, repository.JournalFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "reset", got[0].Op)
}
