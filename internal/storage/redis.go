package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"
)

const (
	triesKeyPrefix = "webmention:tries:"
	pungKeyPrefix  = "webmention:pung:"
	pendingKey     = "webmention:pending"
)

// RedisAttemptStore keeps delivery attempt state in Redis
type RedisAttemptStore struct {
	client *redis.Client
}

// Ensure RedisAttemptStore implements AttemptStore
var _ AttemptStore = (*RedisAttemptStore)(nil)

// NewRedisAttemptStore creates a store using an existing client
func NewRedisAttemptStore(client *redis.Client) *RedisAttemptStore {
	return &RedisAttemptStore{client: client}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return client, nil
}

func (s *RedisAttemptStore) IncrementTryCount(ctx context.Context, documentID string) (int, error) {
	n, err := s.client.Incr(ctx, triesKeyPrefix+documentID).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment try count: %w", err)
	}
	return int(n), nil
}

func (s *RedisAttemptStore) GetTryCount(ctx context.Context, documentID string) (int, error) {
	n, err := s.client.Get(ctx, triesKeyPrefix+documentID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read try count: %w", err)
	}
	return n, nil
}

func (s *RedisAttemptStore) ClearTryCount(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, triesKeyPrefix+documentID).Err(); err != nil {
		return fmt.Errorf("failed to clear try count: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) MarkPending(ctx context.Context, documentID string) error {
	if err := s.client.SAdd(ctx, pendingKey, documentID).Err(); err != nil {
		return fmt.Errorf("failed to mark document pending: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) ClearPending(ctx context.Context, documentID string) error {
	if err := s.client.SRem(ctx, pendingKey, documentID).Err(); err != nil {
		return fmt.Errorf("failed to clear pending flag: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) ListPending(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, pendingKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending documents: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *RedisAttemptStore) AddPing(ctx context.Context, documentID, target string) error {
	if err := s.client.SAdd(ctx, pungKeyPrefix+documentID, target).Err(); err != nil {
		return fmt.Errorf("failed to record notified target: %w", err)
	}
	return nil
}

func (s *RedisAttemptStore) GetPung(ctx context.Context, documentID string) ([]string, error) {
	targets, err := s.client.SMembers(ctx, pungKeyPrefix+documentID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read notified targets: %w", err)
	}
	sort.Strings(targets)
	return targets, nil
}
