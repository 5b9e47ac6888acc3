package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/carinspect/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SetJobSnapshot(ctx context.Context, snap JobSnapshot, ttl time.Duration) error
	GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// JobSnapshot is the small, frequently polled view of a job kept in Redis.
// The job store stays authoritative; a snapshot may lag it by one write.
type JobSnapshot struct {
	JobID           uuid.UUID        `json:"job_id"`
	CarID           uuid.UUID        `json:"car_id"`
	UserID          uuid.UUID        `json:"user_id"`
	Status          models.JobStatus `json:"status"`
	AttemptCount    int              `json:"attempt_count"`
	ProgressMessage *string          `json:"progress_message,omitempty"`
	ErrorReason     *string          `json:"error_reason,omitempty"`
	ReportStatus    *string          `json:"report_status,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// SnapshotOf builds the cached view of j.
func SnapshotOf(j *models.Job) JobSnapshot {
	return JobSnapshot{
		JobID:           j.ID,
		CarID:           j.CarID,
		UserID:          j.UserID,
		Status:          j.Status,
		AttemptCount:    j.AttemptCount,
		ProgressMessage: j.ProgressMessage,
		ErrorReason:     j.ErrorReason,
		ReportStatus:    j.ReportStatus,
		UpdatedAt:       j.UpdatedAt,
	}
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying connection pool so other Redis users can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetJobSnapshot(ctx context.Context, snap JobSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	return c.client.Set(ctx, JobStatusKey(snap.JobID), data, ttl).Err()
}

func (c *RedisCache) GetJobSnapshot(ctx context.Context, jobID uuid.UUID) (*JobSnapshot, bool, error) {
	val, err := c.client.Get(ctx, JobStatusKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var snap JobSnapshot
	if err := json.Unmarshal(val, &snap); err != nil {
		return nil, false, fmt.Errorf("unmarshal job snapshot: %w", err)
	}
	return &snap, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
