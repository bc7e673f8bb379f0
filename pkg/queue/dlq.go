package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DeadLetterSink parks exhausted jobs for later inspection.
type DeadLetterSink interface {
	Push(ctx context.Context, job Job, cause error) error
}

// DeadLetterReader lists parked jobs of a lane, newest first.
type DeadLetterReader interface {
	List(ctx context.Context, lane Lane, limit int64) ([]DeadLetter, error)
}

// DeadLetter is one parked job.
type DeadLetter struct {
	Job      Job       `json:"job"`
	Error    string    `json:"error"`
	ParkedAt time.Time `json:"parkedAt"`
}

// RedisDeadLetter keeps one capped list per lane.
type RedisDeadLetter struct {
	client    redis.UniversalClient
	keyPrefix string
	maxLen    int64
}

// RedisDeadLetterOption configures RedisDeadLetter.
type RedisDeadLetterOption func(*RedisDeadLetter)

// WithKeyPrefix sets custom key prefix.
func WithKeyPrefix(prefix string) RedisDeadLetterOption {
	return func(r *RedisDeadLetter) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// WithMaxLen caps each lane's list; 0 keeps everything.
func WithMaxLen(n int64) RedisDeadLetterOption {
	return func(r *RedisDeadLetter) { r.maxLen = n }
}

func NewRedisDeadLetter(client redis.UniversalClient, opts ...RedisDeadLetterOption) *RedisDeadLetter {
	r := &RedisDeadLetter{
		client:    client,
		keyPrefix: "finfuse:queue",
		maxLen:    10000,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var (
	_ DeadLetterSink   = (*RedisDeadLetter)(nil)
	_ DeadLetterReader = (*RedisDeadLetter)(nil)
)

func (r *RedisDeadLetter) Push(ctx context.Context, job Job, cause error) error {
	rec := DeadLetter{Job: job, ParkedAt: time.Now().UTC()}
	if cause != nil {
		rec.Error = cause.Error()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal dlq: %w", err)
	}

	key := r.key(job.Lane)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, key, 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("lpush dlq: %w", err)
	}
	return nil
}

// List returns up to limit most recent dead letters of lane.
func (r *RedisDeadLetter) List(ctx context.Context, lane Lane, limit int64) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}
	raw, err := r.client.LRange(ctx, r.key(lane), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange dlq: %w", err)
	}
	out := make([]DeadLetter, 0, len(raw))
	for _, s := range raw {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(s), &dl); err != nil {
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

func (r *RedisDeadLetter) key(lane Lane) string {
	return fmt.Sprintf("%s:%s:dlq", r.keyPrefix, lane)
}
