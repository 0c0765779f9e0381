package redis

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

// fakeClient keeps hashes in memory and runs the save script in Go
type fakeClient struct {
	mu      sync.Mutex
	hashes  map[string]map[string]string
	ttls    map[string]int64
	evals   int
	failErr error
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		hashes: make(map[string]map[string]string),
		ttls:   make(map[string]int64),
	}
}

func (f *fakeClient) runSave(keys []string, args ...interface{}) *goredis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.evals++
	if f.failErr != nil {
		return goredis.NewCmdResult(nil, f.failErr)
	}

	key := keys[0]
	snapshot := string(args[0].([]byte))
	savedAt := args[1].(string)
	ttl := args[2].(int64)

	if h, ok := f.hashes[key]; ok && h["saved_at"] > savedAt {
		return goredis.NewCmdResult(int64(0), nil)
	}
	f.hashes[key] = map[string]string{"snapshot": snapshot, "saved_at": savedAt}
	f.ttls[key] = ttl
	return goredis.NewCmdResult(int64(1), nil)
}

func (f *fakeClient) Eval(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd {
	return f.runSave(keys, args...)
}

func (f *fakeClient) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *goredis.Cmd {
	return f.runSave(keys, args...)
}

func (f *fakeClient) EvalRO(ctx context.Context, script string, keys []string, args ...interface{}) *goredis.Cmd {
	return goredis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeClient) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...interface{}) *goredis.Cmd {
	return goredis.NewCmdResult(nil, errors.New("not supported"))
}

func (f *fakeClient) ScriptExists(ctx context.Context, hashes ...string) *goredis.BoolSliceCmd {
	return goredis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (f *fakeClient) ScriptLoad(ctx context.Context, script string) *goredis.StringCmd {
	return goredis.NewStringResult("", nil)
}

func (f *fakeClient) HGet(ctx context.Context, key, field string) *goredis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.hashes[key]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	v, ok := h[field]
	if !ok {
		return goredis.NewStringResult("", goredis.Nil)
	}
	return goredis.NewStringResult(v, nil)
}

func (f *fakeClient) Del(ctx context.Context, keys ...string) *goredis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.hashes[k]; ok {
			delete(f.hashes, k)
			n++
		}
	}
	return goredis.NewIntResult(n, nil)
}

var baseTime = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

func newSession(key string, savedAt time.Time) *workflow.Session {
	req := workflow.Requirements{ModuleName: "hr_employee_skills", ModuleVersion: "16.0.1.0.0"}.
		Normalize("16.0", "community")
	s := workflow.NewSession(key, req, baseTime)
	s.LastSavedAt = savedAt
	return s
}

func TestSessionRepository_SaveLoad(t *testing.T) {
	client := newFakeClient()
	repo := NewSessionRepository(client, time.Hour)
	ctx := context.Background()

	s := newSession("default", baseTime)
	require.NoError(t, repo.Save(ctx, s))

	assert.Contains(t, client.hashes, "odoogen:session:default")
	assert.Equal(t, int64(3600000), client.ttls["odoogen:session:default"])

	loaded, err := repo.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, s.ID, loaded.ID)

	encoded, err := workflow.EncodeSnapshot(s)
	require.NoError(t, err)
	assert.Equal(t, string(encoded), client.hashes["odoogen:session:default"]["snapshot"])
}

func TestSessionRepository_LastWriteWins(t *testing.T) {
	repo := NewSessionRepository(newFakeClient(), 0)
	ctx := context.Background()

	newer := newSession("default", baseTime.Add(2*time.Second))
	older := newSession("default", baseTime.Add(time.Second))
	require.NoError(t, repo.Save(ctx, newer))
	require.NoError(t, repo.Save(ctx, older))

	loaded, err := repo.Load(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, newer.ID, loaded.ID)

	// Re-saving the same snapshot is accepted
	require.NoError(t, repo.Save(ctx, loaded))
}

func TestSessionRepository_Missing(t *testing.T) {
	repo := NewSessionRepository(newFakeClient(), 0)

	_, err := repo.Load(context.Background(), "default")
	assert.True(t, workflow.IsSessionNotFound(err))
}

func TestSessionRepository_Clear(t *testing.T) {
	client := newFakeClient()
	repo := NewSessionRepository(client, 0)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, newSession("default", baseTime)))
	require.NoError(t, repo.Clear(ctx, "default"))
	require.NoError(t, repo.Clear(ctx, "default"))

	_, err := repo.Load(ctx, "default")
	assert.True(t, workflow.IsSessionNotFound(err))
}

func TestSessionRepository_SaveError(t *testing.T) {
	client := newFakeClient()
	client.failErr = errors.New("connection refused")
	repo := NewSessionRepository(client, 0)

	err := repo.Save(context.Background(), newSession("default", baseTime))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestSessionRepository_InvalidKey(t *testing.T) {
	client := newFakeClient()
	repo := NewSessionRepository(client, 0)

	err := repo.Save(context.Background(), newSession("a b", baseTime))
	assert.ErrorIs(t, err, workflow.ErrInvalidInput)
	assert.Zero(t, client.evals)
}
