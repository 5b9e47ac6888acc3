// Package queue implements a durable at-least-once job queue on Redis.
//
// A message lives in exactly one of four keys: the ready list, the delayed set
// (scored by the time it becomes ready), the in-flight set (scored by its lease
// deadline) or the dead list. Every move between keys is a single Lua script, so
// a crash never loses or duplicates a message inside Redis. A worker that dies
// mid-job leaves its message in the in-flight set until RequeueExpired hands it out again.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseLost is returned by Ack, Retry and DeadLetter when the delivery is no
// longer in flight, usually because its lease expired and it was redelivered.
var ErrLeaseLost = errors.New("delivery lease lost")

// Message is the start message for one analysis attempt.
type Message struct {
	// ID is unique per enqueue and keeps otherwise identical messages distinct.
	ID    string    `json:"id"`
	JobID uuid.UUID `json:"job_id"`
	CarID uuid.UUID `json:"car_id"`
	// Attempt is the 1-based attempt number this delivery represents.
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// AttemptsMade is the number of attempts that ran before this one.
func (m Message) AttemptsMade() int {
	if m.Attempt <= 1 {
		return 0
	}
	return m.Attempt - 1
}

// Delivery is a message handed to a consumer. It must be settled with exactly one
// of Ack, Retry or DeadLetter.
type Delivery struct {
	Message
	raw string
}

// Stats is a point-in-time view of the queue sizes.
type Stats struct {
	Ready    int64
	Delayed  int64
	InFlight int64
	Dead     int64
}

type Config struct {
	Name              string
	VisibilityTimeout time.Duration
	// PromoteBatch bounds how many due delayed messages one Dequeue moves to ready.
	PromoteBatch int
}

// RedisQueue is the Redis implementation of the queue.
type RedisQueue struct {
	client redis.UniversalClient
	cfg    Config
	now    func() time.Time
}

// NewRedisQueue creates a queue whose keys are prefixed with cfg.Name.
func NewRedisQueue(client redis.UniversalClient, cfg Config) *RedisQueue {
	if cfg.PromoteBatch <= 0 {
		cfg.PromoteBatch = 100
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	return &RedisQueue{client: client, cfg: cfg, now: time.Now}
}

func (q *RedisQueue) readyKey() string    { return q.cfg.Name + ":ready" }
func (q *RedisQueue) delayedKey() string  { return q.cfg.Name + ":delayed" }
func (q *RedisQueue) inflightKey() string { return q.cfg.Name + ":inflight" }
func (q *RedisQueue) deadKey() string     { return q.cfg.Name + ":dead" }

var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[3]))
for _, m in ipairs(due) do
  redis.call('ZREM', KEYS[2], m)
  redis.call('LPUSH', KEYS[1], m)
end
local m = redis.call('RPOP', KEYS[1])
if not m then
  return false
end
redis.call('ZADD', KEYS[3], ARGV[2], m)
return m
`)

var ackScript = redis.NewScript(`
return redis.call('ZREM', KEYS[1], ARGV[1])
`)

var retryScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
return 1
`)

var deadScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('LPUSH', KEYS[2], ARGV[2])
return 1
`)

var requeueScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, m in ipairs(expired) do
  redis.call('ZREM', KEYS[1], m)
  redis.call('RPUSH', KEYS[2], m)
end
return #expired
`)

// Enqueue adds msg to the queue. With a positive delay it becomes visible only after delay.
func (q *RedisQueue) Enqueue(ctx context.Context, msg Message, delay time.Duration) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Attempt < 1 {
		msg.Attempt = 1
	}
	if msg.EnqueuedAt.IsZero() {
		msg.EnqueuedAt = q.now().UTC()
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if delay <= 0 {
		err = q.client.LPush(ctx, q.readyKey(), payload).Err()
	} else {
		readyAt := q.now().Add(delay).UnixMilli()
		err = q.client.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt), Member: payload}).Err()
	}
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", msg.JobID, err)
	}
	return nil
}

// Dequeue claims the next ready message, promoting due delayed messages first.
// It returns nil, nil when nothing is ready.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Delivery, error) {
	now := q.now()
	res, err := claimScript.Run(ctx, q.client,
		[]string{q.readyKey(), q.delayedKey(), q.inflightKey()},
		now.UnixMilli(), now.Add(q.cfg.VisibilityTimeout).UnixMilli(), q.cfg.PromoteBatch,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal([]byte(res), &msg); err != nil {
		// A payload we cannot read would be redelivered forever; park it instead.
		_ = deadScript.Run(ctx, q.client, []string{q.inflightKey(), q.deadKey()}, res, res).Err()
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &Delivery{Message: msg, raw: res}, nil
}

// Ack removes a successfully handled delivery.
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	n, err := ackScript.Run(ctx, q.client, []string{q.inflightKey()}, d.raw).Int()
	if err != nil {
		return fmt.Errorf("ack job %s: %w", d.JobID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Retry settles d and schedules the next attempt of the same job after delay.
func (q *RedisQueue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	next := d.Message
	next.ID = uuid.NewString()
	next.Attempt = d.Attempt + 1
	next.EnqueuedAt = q.now().UTC()
	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	readyAt := q.now().Add(delay).UnixMilli()
	n, err := retryScript.Run(ctx, q.client, []string{q.inflightKey(), q.delayedKey()},
		d.raw, string(payload), readyAt).Int()
	if err != nil {
		return fmt.Errorf("retry job %s: %w", d.JobID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

type deadEntry struct {
	Message  Message   `json:"message"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetter settles d and parks it on the dead list with reason.
func (q *RedisQueue) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	entry, err := json.Marshal(deadEntry{Message: d.Message, Reason: reason, FailedAt: q.now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal dead entry: %w", err)
	}
	n, err := deadScript.Run(ctx, q.client, []string{q.inflightKey(), q.deadKey()}, d.raw, string(entry)).Int()
	if err != nil {
		return fmt.Errorf("dead-letter job %s: %w", d.JobID, err)
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// RequeueExpired moves in-flight deliveries whose lease has passed back to the
// head of the ready list and returns how many were moved.
func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	n, err := requeueScript.Run(ctx, q.client, []string{q.inflightKey(), q.readyKey()},
		q.now().UnixMilli(), q.cfg.PromoteBatch).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	return n, nil
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	pipe := q.client.Pipeline()
	ready := pipe.LLen(ctx, q.readyKey())
	delayed := pipe.ZCard(ctx, q.delayedKey())
	inflight := pipe.ZCard(ctx, q.inflightKey())
	dead := pipe.LLen(ctx, q.deadKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Stats{}, fmt.Errorf("queue stats: %w", err)
	}
	return Stats{
		Ready:    ready.Val(),
		Delayed:  delayed.Val(),
		InFlight: inflight.Val(),
		Dead:     dead.Val(),
	}, nil
}
