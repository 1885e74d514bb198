package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victoralfred/um_tracker/internal/domain/analytics"
	"github.com/victoralfred/um_tracker/internal/domain/session"
)

const (
	storageKeyPrefix  = "analytics:"
	defaultSessionTTL = 24 * time.Hour
)

// Storage implements session.Storage using Redis hashes. Each client
// namespace owns one hash per scope; the session hash carries a sliding TTL
// so it disappears once the client goes quiet, the durable hash never expires.
type Storage struct {
	client     *redis.Client
	namespace  string
	sessionTTL time.Duration
}

// NewStorage creates a new Redis storage
func NewStorage(addr string, db int, password, namespace string, sessionTTL time.Duration) *Storage {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return NewStorageWithClient(rdb, namespace, sessionTTL)
}

// NewStorageWithClient creates a new Redis storage with existing client (for testing)
func NewStorageWithClient(client *redis.Client, namespace string, sessionTTL time.Duration) *Storage {
	if sessionTTL <= 0 {
		sessionTTL = defaultSessionTTL
	}
	return &Storage{
		client:     client,
		namespace:  namespace,
		sessionTTL: sessionTTL,
	}
}

func (s *Storage) hashKey(scope session.Scope) string {
	return storageKeyPrefix + s.namespace + ":" + scope.String()
}

// Get retrieves a value by key
func (s *Storage) Get(ctx context.Context, scope session.Scope, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, s.hashKey(scope), key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%w: failed to get %s: %v", analytics.ErrStorageUnavailable, key, err)
	}
	return value, true, nil
}

// Set saves a value and refreshes the session TTL
func (s *Storage) Set(ctx context.Context, scope session.Scope, key, value string) error {
	hashKey := s.hashKey(scope)

	// Use pipeline so the value and its expiry land together
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, hashKey, key, value)
	if scope == session.ScopeSession {
		pipe.Expire(ctx, hashKey, s.sessionTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: failed to set %s: %v", analytics.ErrStorageUnavailable, key, err)
	}
	return nil
}

// Remove deletes a key
func (s *Storage) Remove(ctx context.Context, scope session.Scope, key string) error {
	if err := s.client.HDel(ctx, s.hashKey(scope), key).Err(); err != nil {
		return fmt.Errorf("%w: failed to remove %s: %v", analytics.ErrStorageUnavailable, key, err)
	}
	return nil
}

// ClearSession drops every session-scoped value for the namespace
func (s *Storage) ClearSession(ctx context.Context) error {
	if err := s.client.Del(ctx, s.hashKey(session.ScopeSession)).Err(); err != nil {
		return fmt.Errorf("%w: failed to clear session: %v", analytics.ErrStorageUnavailable, err)
	}
	return nil
}

// Ping tests the connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client
func (s *Storage) Close() error {
	return s.client.Close()
}
