package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/humanloop/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisSink stores each task as a hash of request entries.
//
// Keys:
//
//	<prefix>task:<task_id>          hash, field "<conversation_id>:<request_id>" -> Entry JSON
//	<prefix>task:<task_id>:synced   last snapshot timestamp (RFC3339Nano)
//	<prefix>tasks                   sorted set of task ids scored by last sync
type RedisSink struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	owned     bool
	logger    *zap.Logger
}

// NewRedisSink connects to Redis and verifies the connection.
func NewRedisSink(cfg config.RedisConfig, logger *zap.Logger) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewRedisSinkWithClient(client, cfg.KeyPrefix, cfg.TTL, logger)
	s.owned = true
	return s, nil
}

// NewRedisSinkWithClient wraps an existing client. The client is not closed by Close.
func NewRedisSinkWithClient(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisSink {
	if keyPrefix == "" {
		keyPrefix = "humanloop:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSink{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		logger:    logger.With(zap.String("sink", "redis")),
	}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) taskKey(taskID string) string   { return s.keyPrefix + "task:" + taskID }
func (s *RedisSink) syncedKey(taskID string) string { return s.taskKey(taskID) + ":synced" }
func (s *RedisSink) indexKey() string               { return s.keyPrefix + "tasks" }

func (s *RedisSink) SyncTask(ctx context.Context, snap *TaskSnapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	entries := snap.Entries()
	fields := make([]any, 0, len(entries)*2)
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal entry %s: %w", e.RequestID, err)
		}
		fields = append(fields, e.ConversationID+":"+e.RequestID, data)
	}

	key := s.taskKey(snap.TaskID)
	synced := s.syncedKey(snap.TaskID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields...)
		}
		pipe.Set(ctx, synced, snap.Timestamp.Format(time.RFC3339Nano), s.ttl)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(snap.Timestamp.Unix()), Member: snap.TaskID})
		if s.ttl > 0 && len(fields) > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sync task %s: %w", snap.TaskID, err)
	}
	s.logger.Debug("task synced", zap.String("task_id", snap.TaskID), zap.Int("requests", len(entries)))
	return nil
}

func (s *RedisSink) Load(ctx context.Context, taskID string) (*TaskSnapshot, error) {
	ts, err := s.client.Get(ctx, s.syncedKey(taskID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	timestamp, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("parse sync timestamp: %w", err)
	}

	raw, err := s.client.HGetAll(ctx, s.taskKey(taskID)).Result()
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(raw))
	for field, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			s.logger.Warn("skip corrupt entry", zap.String("field", field), zap.Error(err))
			continue
		}
		entries = append(entries, e)
	}
	return Assemble(taskID, timestamp, entries), nil
}

// ListTasks returns task ids synced at or after since, oldest first.
func (s *RedisSink) ListTasks(ctx context.Context, since time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", since.Unix()),
		Max: "+inf",
	}).Result()
}

// Ping checks the connection.
func (s *RedisSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisSink) Close(context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}
