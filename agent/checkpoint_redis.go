package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCheckpointStore persists checkpoints as JSON values in Redis.
type RedisCheckpointStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ CheckpointStore = (*RedisCheckpointStore)(nil)

// RedisCheckpointOptions configures the Redis-backed store. A zero TTL
// keeps checkpoints until explicitly deleted.
type RedisCheckpointOptions struct {
	Prefix string
	TTL    time.Duration
}

func NewRedisCheckpointStore(client *redis.Client, opts RedisCheckpointOptions, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Prefix == "" {
		opts.Prefix = "checkpoint"
	}
	return &RedisCheckpointStore{
		client: client,
		prefix: opts.Prefix,
		ttl:    opts.TTL,
		logger: logger,
	}
}

func (s *RedisCheckpointStore) key(contextID string) string {
	return fmt.Sprintf("%s:%s", s.prefix, contextID)
}

func (s *RedisCheckpointStore) Load(ctx context.Context, contextID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.key(contextID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", contextID, err)
	}
	return &cp, nil
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *Checkpoint) error {
	if cp.ContextID == "" {
		return errors.New("checkpoint missing context id")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ContextID, err)
	}

	if err := s.client.Set(ctx, s.key(cp.ContextID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("context_id", cp.ContextID),
		zap.Int("messages", len(cp.Messages)))
	return nil
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, contextID string) error {
	if err := s.client.Del(ctx, s.key(contextID)).Err(); err != nil {
		return fmt.Errorf("redis del checkpoint: %w", err)
	}
	return nil
}
