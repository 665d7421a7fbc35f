package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCounterStore implements CounterStore on Redis, for deployments where
// several front-end instances must share quota. The window lives as a
// counter with a TTL, the cool-down as a separate key with its own TTL.
type RedisCounterStore struct {
	client *redis.Client
	policy Policy
	prefix string
}

var _ CounterStore = (*RedisCounterStore)(nil)

// RedisConfig for creating a Redis-backed counter store.
type RedisConfig struct {
	// Addr is the Redis address, e.g. "localhost:6379"
	Addr string

	// Password is empty for no auth
	Password string

	// DB is the Redis database number
	DB int

	// Prefix namespaces this store's keys; two stores with different
	// prefixes never share quota. Default "throttle".
	Prefix string
}

// NewRedisCounterStore creates a Redis-backed counter store enforcing the
// given policy.
func NewRedisCounterStore(cfg RedisConfig, policy Policy) (*RedisCounterStore, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "throttle"
	}

	return &RedisCounterStore{client: client, policy: policy, prefix: prefix}, nil
}

// NewRedisCounterStoreFromClient wraps an existing client, sharing its
// connection pool across per-class stores.
func NewRedisCounterStoreFromClient(client *redis.Client, prefix string, policy Policy) (*RedisCounterStore, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrInvalidConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "throttle"
	}
	return &RedisCounterStore{client: client, policy: policy, prefix: prefix}, nil
}

// Policy returns the policy the store enforces.
func (s *RedisCounterStore) Policy() Policy {
	return s.policy
}

// Consume spends one point for key. Eviction is Redis TTL expiry: the block
// key outlives the counter, so an expired counter never lifts an active
// block.
func (s *RedisCounterStore) Consume(ctx context.Context, key string) (*Result, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	countKey := s.prefix + ":count:" + key
	blockKey := s.prefix + ":block:" + key

	blocked, err := s.client.Exists(ctx, blockKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if blocked > 0 {
		retry, err := s.client.PTTL(ctx, blockKey).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		hits, _ := s.client.Get(ctx, countKey).Int()
		if retry < 0 {
			retry = s.policy.Block
		}
		return &Result{Allowed: false, Remaining: 0, RetryAfter: retry, Hits: hits}, nil
	}

	hits, err := s.client.Incr(ctx, countKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if hits == 1 {
		if err := s.client.PExpire(ctx, countKey, s.policy.Window).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if int(hits) <= s.policy.Points {
		reset, err := s.client.PTTL(ctx, countKey).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if reset < 0 {
			reset = s.policy.Window
		}
		return &Result{
			Allowed:    true,
			Remaining:  s.policy.Points - int(hits),
			RetryAfter: reset,
			Hits:       int(hits),
		}, nil
	}

	if s.policy.Block > 0 {
		if err := s.client.Set(ctx, blockKey, "1", s.policy.Block).Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return &Result{
		Allowed:    false,
		Remaining:  0,
		RetryAfter: s.policy.Block,
		Hits:       int(hits),
	}, nil
}

// Ping checks the Redis connection.
func (s *RedisCounterStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisCounterStore) Close() error {
	return s.client.Close()
}

// timeout guard for constructors that want to fail fast on a dead Redis.
const redisDialTimeout = 5 * time.Second

// DialRedisCounterStore creates the store and verifies connectivity before
// returning it.
func DialRedisCounterStore(cfg RedisConfig, policy Policy) (*RedisCounterStore, error) {
	s, err := NewRedisCounterStore(cfg, policy)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisDialTimeout)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("%w: ping failed: %v", ErrStoreUnavailable, err)
	}
	return s, nil
}
