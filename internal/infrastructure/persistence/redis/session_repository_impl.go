package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/YoshitsuguKoike/odoogen/internal/domain/repository"
	"github.com/YoshitsuguKoike/odoogen/internal/domain/workflow"
)

const (
	keyPrefix     = "odoogen:session:"
	fieldSnapshot = "snapshot"
	savedAtLayout = "%020d"
)

// Client is the subset of *goredis.Client the repository needs
type Client interface {
	goredis.Scripter
	HGet(ctx context.Context, key, field string) *goredis.StringCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// saveScript writes the snapshot unless the stored one is newer.
// saved_at is zero-padded nanoseconds so string comparison orders it.
var saveScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'saved_at')
if current and current > ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'snapshot', ARGV[1], 'saved_at', ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return 1
`)

// SessionRepositoryImpl stores each session snapshot in a hash under
// odoogen:session:<key>
type SessionRepositoryImpl struct {
	client Client
	ttl    time.Duration
}

// NewSessionRepository creates a Redis-backed session repository.
// A zero ttl keeps snapshots until they are cleared.
func NewSessionRepository(client Client, ttl time.Duration) repository.SessionRepository {
	return &SessionRepositoryImpl{client: client, ttl: ttl}
}

// Dial parses a redis:// URL and checks the connection
func Dial(ctx context.Context, url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

func sessionKey(key string) string {
	return keyPrefix + key
}

// Load reads the snapshot stored for key
func (r *SessionRepositoryImpl) Load(ctx context.Context, key string) (*workflow.Session, error) {
	if err := workflow.ValidateKey(key); err != nil {
		return nil, err
	}
	data, err := r.client.HGet(ctx, sessionKey(key), fieldSnapshot).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, workflow.ErrSessionNotFound.WithDetails(map[string]interface{}{"key": key})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}

	s, err := workflow.DecodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", key, err)
	}
	return s, nil
}

// Save writes the snapshot. An older snapshot never replaces a newer one.
func (r *SessionRepositoryImpl) Save(ctx context.Context, s *workflow.Session) error {
	if err := workflow.ValidateKey(s.Key); err != nil {
		return err
	}
	data, err := workflow.EncodeSnapshot(s)
	if err != nil {
		return err
	}

	savedAt := fmt.Sprintf(savedAtLayout, s.LastSavedAt.UnixNano())
	err = saveScript.Run(ctx, r.client, []string{sessionKey(s.Key)}, data, savedAt, r.ttl.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", s.Key, err)
	}
	return nil
}

// Clear deletes the snapshot for key
func (r *SessionRepositoryImpl) Clear(ctx context.Context, key string) error {
	if err := workflow.ValidateKey(key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, sessionKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}
