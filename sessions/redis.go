package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

// RedisStore persists sessions in Redis with a TTL so abandoned
// sessions age out on their own. The *redis.Client is injected, never
// constructed here, so callers control pooling, auth and cluster
// topology.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithTTL sets the expiry applied to every session key.
// Default is 24 hours. Zero disables expiry.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for Redis keys.
// Default is "agentmesh".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore creates a Redis-backed session store.
//
// Example:
//
//	store := NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    WithTTL(24*time.Hour),
//	    WithPrefix("agentmesh"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	store := &RedisStore{
		client: client,
		ttl:    defaultTTL,
		prefix: "agentmesh",
	}

	for _, opt := range opts {
		opt(store)
	}

	return store
}

// Get retrieves a session by ID from Redis.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	data, err := s.client.Get(ctx, s.sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sessions: redis get: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("sessions: unmarshal session: %w", err)
	}

	return &sess, nil
}

// Save persists a session to Redis with TTL, stamping UpdatedAt and
// setting CreatedAt on first save. The timestamps are written back to
// sess as well.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	if sess == nil {
		return ErrInvalidSession
	}
	if sess.ID == "" {
		return ErrInvalidID
	}

	now := time.Now()
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	sess.UpdatedAt = now

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sessions: marshal session: %w", err)
	}

	if err := s.client.Set(ctx, s.sessionKey(sess.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("sessions: redis set: %w", err)
	}

	return nil
}

// Delete removes a session from Redis.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidID
	}

	deleted, err := s.client.Del(ctx, s.sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("sessions: redis del: %w", err)
	}
	if deleted == 0 {
		return ErrNotFound
	}

	return nil
}

// List scans all session keys, batch-loads them over a single
// pipelined round-trip, and sorts in memory. Fine at gateway scale;
// a deployment with millions of sessions would want a secondary index
// instead.
func (s *RedisStore) List(ctx context.Context, opts ListOptions) ([]*Session, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, s.sessionKey("*"), 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("sessions: redis scan: %w", err)
	}

	sessions, err := s.pipelinedLoad(ctx, keys)
	if err != nil {
		return nil, err
	}

	sortSessions(sessions, opts.SortBy, opts.SortOrder)
	return applyPagination(sessions, opts.Offset, opts.Limit), nil
}

// Patch merges fields into an existing session and returns the updated
// copy. Concurrent patches are last-write-wins.
func (s *RedisStore) Patch(ctx context.Context, id string, fields map[string]any) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := applyPatch(sess, fields); err != nil {
		return nil, err
	}

	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}

	return sess, nil
}

// pipelinedLoad fetches all keys in one round-trip. Keys that expired
// between the SCAN and the GET are skipped.
func (s *RedisStore) pipelinedLoad(ctx context.Context, keys []string) ([]*Session, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("sessions: redis pipeline: %w", err)
	}

	sessions := make([]*Session, 0, len(keys))
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("sessions: redis get: %w", err)
		}
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, fmt.Errorf("sessions: unmarshal session: %w", err)
		}
		sessions = append(sessions, &sess)
	}

	return sessions, nil
}

// sessionKey generates the Redis key for a session.
func (s *RedisStore) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}
