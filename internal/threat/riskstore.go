package threat

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RiskStore is the shared mutable state behind the scorer: decaying risk
// counters, fixed-window burst counters, and temporary block flags.
// Increments must be atomic; concurrent requests from the same identity
// must not lose updates.
type RiskStore interface {
	// AddScore atomically adds points to the identity's risk counter and
	// refreshes its TTL to decay, returning the new total. The counter
	// expires decay after the last contributing event.
	AddScore(ctx context.Context, key string, points int, decay time.Duration) (int, error)

	// IncrBurst atomically increments the identity's burst counter and
	// returns the count within the current fixed window. The window TTL
	// is set only when the counter is created.
	IncrBurst(ctx context.Context, key string, window time.Duration) (int, error)

	BlockUser(ctx context.Context, userID string, d time.Duration) error
	BlockIP(ctx context.Context, ip string, d time.Duration) error
	IsBlockedUser(ctx context.Context, userID string) (bool, error)
	IsBlockedIP(ctx context.Context, ip string) (bool, error)
}

const (
	riskKeyPrefix      = "threat:risk:"
	burstKeyPrefix     = "threat:burst:"
	blockUserKeyPrefix = "threat:block:user:"
	blockIPKeyPrefix   = "threat:block:ip:"
)

// RedisRiskStore implements RiskStore on a shared Redis instance so
// blocks and scores apply across all application processes.
type RedisRiskStore struct {
	rdb *redis.Client
}

// NewRedisRiskStore creates a store backed by the given Redis address.
func NewRedisRiskStore(addr, password string, db int) *RedisRiskStore {
	return &RedisRiskStore{
		rdb: redis.NewClient(&redis.Options{
			Addr:         addr,
			Password:     password,
			DB:           db,
			DialTimeout:  500 * time.Millisecond,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		}),
	}
}

// NewRiskStoreFromClient wraps an existing client (tests use miniredis).
func NewRiskStoreFromClient(rdb *redis.Client) *RedisRiskStore {
	return &RedisRiskStore{rdb: rdb}
}

// AddScore runs INCRBY + EXPIRE in one pipeline round-trip. The EXPIRE on
// every increment is what gives "resets to zero decay after the last
// contributing event" rather than a hard wall-clock window.
func (s *RedisRiskStore) AddScore(ctx context.Context, key string, points int, decay time.Duration) (int, error) {
	pipe := s.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, riskKeyPrefix+key, int64(points))
	pipe.Expire(ctx, riskKeyPrefix+key, decay)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incrementing risk score: %w", err)
	}
	return int(incr.Val()), nil
}

// IncrBurst increments the fixed-window request counter. The TTL is set
// only on creation so the window ends at a fixed time regardless of
// traffic, resetting the count.
func (s *RedisRiskStore) IncrBurst(ctx context.Context, key string, window time.Duration) (int, error) {
	count, err := s.rdb.Incr(ctx, burstKeyPrefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("incrementing burst counter: %w", err)
	}
	if count == 1 {
		if err := s.rdb.Expire(ctx, burstKeyPrefix+key, window).Err(); err != nil {
			return int(count), fmt.Errorf("setting burst window: %w", err)
		}
	}
	return int(count), nil
}

// BlockUser sets a temporary user-level block flag.
func (s *RedisRiskStore) BlockUser(ctx context.Context, userID string, d time.Duration) error {
	if err := s.rdb.Set(ctx, blockUserKeyPrefix+userID, "1", d).Err(); err != nil {
		return fmt.Errorf("blocking user %s: %w", userID, err)
	}
	return nil
}

// BlockIP sets a temporary IP-level block flag.
func (s *RedisRiskStore) BlockIP(ctx context.Context, ip string, d time.Duration) error {
	if err := s.rdb.Set(ctx, blockIPKeyPrefix+ip, "1", d).Err(); err != nil {
		return fmt.Errorf("blocking ip %s: %w", ip, err)
	}
	return nil
}

// IsBlockedUser reports whether the user currently has a block flag.
func (s *RedisRiskStore) IsBlockedUser(ctx context.Context, userID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blockUserKeyPrefix+userID).Result()
	if err != nil {
		return false, fmt.Errorf("checking user block: %w", err)
	}
	return n > 0, nil
}

// IsBlockedIP reports whether the IP currently has a block flag.
func (s *RedisRiskStore) IsBlockedIP(ctx context.Context, ip string) (bool, error) {
	n, err := s.rdb.Exists(ctx, blockIPKeyPrefix+ip).Result()
	if err != nil {
		return false, fmt.Errorf("checking ip block: %w", err)
	}
	return n > 0, nil
}
