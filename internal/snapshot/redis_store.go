// Package snapshot caches the last authoritative comment list of a scope so
// a reopened scope can render before its first fetch completes.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portal/threads/internal/comment"
)

const defaultTTL = 24 * time.Hour

// Entry is what gets stored per scope.
type Entry struct {
	Scope    comment.Scope      `json:"scope"`
	Comments []*comment.Comment `json:"comments"`
	SavedAt  time.Time          `json:"saved_at"`
}

// RedisStore keeps flat comment lists in Redis, one key per scope.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "comments:snapshot:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(scope comment.Scope) string {
	return s.prefix + scope.String()
}

// Save replaces the cached list for scope. Pending placeholders are never
// cached and replies are stripped; the list is stored flat.
func (s *RedisStore) Save(ctx context.Context, scope comment.Scope, comments []*comment.Comment) error {
	flat := make([]*comment.Comment, 0, len(comments))
	for _, c := range comments {
		if c == nil || c.Pending {
			continue
		}
		flat = append(flat, c.CloneFields())
	}

	data, err := json.Marshal(Entry{Scope: scope, Comments: flat, SavedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.key(scope), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the cached entry for scope. A missing or expired entry is
// reported with ok=false and no error.
func (s *RedisStore) Load(ctx context.Context, scope comment.Scope) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, s.key(scope)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return entry, true, nil
}

// Delete drops the cached entry for scope.
func (s *RedisStore) Delete(ctx context.Context, scope comment.Scope) error {
	if err := s.client.Del(ctx, s.key(scope)).Err(); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the connection so other Redis users can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}
