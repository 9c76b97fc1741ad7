package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/timmy/catalogsync/internal/domain"
)

// Compare-and-delete / compare-and-extend so a job never frees or extends a
// slot that expired and was taken by another job.
var (
	releaseSlotScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshSlotScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisSlotConfig configures RedisJobSlots.
type RedisSlotConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
	Prefix   string
}

// RedisJobSlots keeps active-job slots in Redis with a TTL lease. Holders must
// call Refresh more often than TTL.
type RedisJobSlots struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisJobSlots connects to Redis and verifies the connection.
func NewRedisJobSlots(ctx context.Context, cfg *RedisSlotConfig) (*RedisJobSlots, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &RedisJobSlots{client: client, ttl: ttl, prefix: cfg.Prefix}, nil
}

// Close closes the Redis client.
func (s *RedisJobSlots) Close() error {
	return s.client.Close()
}

func (s *RedisJobSlots) key(datasourceID string) string {
	return s.prefix + datasourceID
}

// Acquire claims the datasource's slot for jobID with SET NX.
func (s *RedisJobSlots) Acquire(ctx context.Context, datasourceID, jobID string) error {
	ok, err := s.client.SetNX(ctx, s.key(datasourceID), jobID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis acquire slot: %w", err)
	}
	if !ok {
		holder, _, _ := s.Holder(ctx, datasourceID)
		return domain.NewConflictError("datasource %q already has an active sync job %s", datasourceID, holder)
	}
	return nil
}

// Release frees the slot if jobID still holds it.
func (s *RedisJobSlots) Release(ctx context.Context, datasourceID, jobID string) error {
	if err := releaseSlotScript.Run(ctx, s.client, []string{s.key(datasourceID)}, jobID).Err(); err != nil {
		return fmt.Errorf("redis release slot: %w", err)
	}
	return nil
}

// Refresh extends the lease.
// Returns:
//   - error: conflict if the lease expired and jobID lost the slot.
func (s *RedisJobSlots) Refresh(ctx context.Context, datasourceID, jobID string) error {
	n, err := refreshSlotScript.Run(ctx, s.client, []string{s.key(datasourceID)}, jobID, s.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis refresh slot: %w", err)
	}
	if n == 0 {
		return domain.NewConflictError("sync job %s lost the active slot of datasource %q", jobID, datasourceID)
	}
	return nil
}

// Holder returns the job holding the datasource's slot, if any.
func (s *RedisJobSlots) Holder(ctx context.Context, datasourceID string) (string, bool, error) {
	jobID, err := s.client.Get(ctx, s.key(datasourceID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get slot: %w", err)
	}
	return jobID, true, nil
}
