package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/browsergrid/handoff/types"
)

// RedisConfig configures the Redis-backed session store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" env:"ADDR"`
	Password  string `yaml:"password" json:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" json:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX"`
	// TTL bounds how long terminal session records linger. Zero keeps them
	// until the run is torn down explicitly.
	TTL time.Duration `yaml:"ttl" json:"ttl" env:"TTL"`
}

// RedisStore is a Redis-backed Store implementation, suitable when the
// operator dashboard and the automation run in separate processes.
// Session records are stored as JSON values with a set per run for indexing.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
}

// NewRedisStore connects to Redis and returns a session store.
func NewRedisStore(config RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "handoff:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "session:",
		ttl:       config.TTL,
	}, nil
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string, ttl time.Duration) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "handoff:"
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix + "session:", ttl: ttl}
}

func (s *RedisStore) dataKey(id string) string {
	return s.keyPrefix + "data:" + id
}

func (s *RedisStore) runKey(runID string) string {
	return s.keyPrefix + "run:" + runID
}

func (s *RedisStore) allKey() string {
	return s.keyPrefix + "all"
}

// Save persists a new session and indexes it under its run.
func (s *RedisStore) Save(ctx context.Context, sess *types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.dataKey(sess.ID), data, s.ttl)
	pipe.SAdd(ctx, s.runKey(sess.RunID), sess.ID)
	pipe.SAdd(ctx, s.allKey(), sess.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrStoreUnavailable, "redis save failed").WithCause(err)
	}
	return nil
}

// Load returns the session with the given id.
func (s *RedisStore) Load(ctx context.Context, id string) (*types.Session, error) {
	data, err := s.client.Get(ctx, s.dataKey(id)).Bytes()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis load failed").WithCause(err)
	}

	var sess types.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &sess, nil
}

// ListByRun returns sessions for a run, oldest first.
func (s *RedisStore) ListByRun(ctx context.Context, runID string, status types.Status) ([]*types.Session, error) {
	indexKey := s.allKey()
	if runID != "" {
		indexKey = s.runKey(runID)
	}

	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "redis list failed").WithCause(err)
	}

	var results []*types.Session
	for _, id := range ids {
		sess, err := s.Load(ctx, id)
		if err != nil {
			// Index entry outlived its record (TTL); skip it.
			if types.GetErrorCode(err) == types.ErrSessionNotFound {
				continue
			}
			return nil, err
		}
		if status == "" || sess.Status == status {
			results = append(results, sess)
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt.Before(results[j].CreatedAt)
	})
	return results, nil
}

// Update overwrites an existing session record.
func (s *RedisStore) Update(ctx context.Context, sess *types.Session) error {
	exists, err := s.client.Exists(ctx, s.dataKey(sess.ID)).Result()
	if err != nil {
		return types.NewError(types.ErrStoreUnavailable, "redis update failed").WithCause(err)
	}
	if exists == 0 {
		return notFound(sess.ID)
	}
	return s.Save(ctx, sess)
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
