package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"FinFuse/internal/domain/models"
	"FinFuse/internal/domain/repository"

	"github.com/redis/go-redis/v9"
)

// RedisSignalStore keeps one JSON document per signal plus index sets.
// Writes use WATCH/MULTI so a concurrent writer aborts the transaction.
type RedisSignalStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

// RedisStoreOption configures RedisSignalStore.
type RedisStoreOption func(*RedisSignalStore)

// WithRedisKeyPrefix sets custom key prefix.
func WithRedisKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisSignalStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithTerminalTTL expires settled signals after ttl. 0 keeps them forever.
func WithTerminalTTL(ttl time.Duration) RedisStoreOption {
	return func(s *RedisSignalStore) { s.ttl = ttl }
}

func NewRedisSignalStore(client redis.UniversalClient, opts ...RedisStoreOption) *RedisSignalStore {
	s := &RedisSignalStore{
		client:    client,
		keyPrefix: "finfuse",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ repository.SignalStore = (*RedisSignalStore)(nil)

func (s *RedisSignalStore) signalKey(id string) string {
	return fmt.Sprintf("%s:signal:%s", s.keyPrefix, id)
}

func (s *RedisSignalStore) symbolKey(symbol string) string {
	return fmt.Sprintf("%s:signals:symbol:%s", s.keyPrefix, symbol)
}

func (s *RedisSignalStore) pendingKey() string {
	return fmt.Sprintf("%s:signals:pending", s.keyPrefix)
}

func (s *RedisSignalStore) timelineKey() string {
	return fmt.Sprintf("%s:signals:timeline", s.keyPrefix)
}

func (s *RedisSignalStore) Create(ctx context.Context, sig *models.Signal) error {
	if err := sig.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.signalKey(sig.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("setnx signal: %w", err)
	}
	if !ok {
		return models.NewValidationError("id", "duplicate signal id "+sig.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.symbolKey(sig.Symbol), sig.ID)
	pipe.ZAdd(ctx, s.timelineKey(), redis.Z{Score: float64(sig.CreatedAt.UnixNano()), Member: sig.ID})
	if sig.Status == models.StatusPending {
		pipe.SAdd(ctx, s.pendingKey(), sig.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("index signal: %w", err)
	}
	return nil
}

func (s *RedisSignalStore) Get(ctx context.Context, id string) (*models.Signal, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisSignalStore) get(ctx context.Context, c redis.Cmdable, id string) (*models.Signal, error) {
	raw, err := c.Get(ctx, s.signalKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", models.ErrSignalNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get signal: %w", err)
	}
	var sig models.Signal
	if err := json.Unmarshal(raw, &sig); err != nil {
		return nil, fmt.Errorf("unmarshal signal %s: %w", id, err)
	}
	return &sig, nil
}

func (s *RedisSignalStore) Transition(ctx context.Context, id string, expectedVersion uint64, to models.Status, meta map[string]any) (*models.Signal, error) {
	return s.swap(ctx, id, func(cur *models.Signal) (*models.Signal, error) {
		if err := checkTransition(cur, expectedVersion, to); err != nil {
			return nil, err
		}
		return cur.WithStatus(to, meta, s.now()), nil
	})
}

func (s *RedisSignalStore) AttachJob(ctx context.Context, id string, expectedVersion uint64, jobID string) (*models.Signal, error) {
	return s.swap(ctx, id, func(cur *models.Signal) (*models.Signal, error) {
		if err := checkAttach(cur, expectedVersion); err != nil {
			return nil, err
		}
		return cur.WithJob(jobID, s.now()), nil
	})
}

// swap reads the signal under WATCH and writes the version built by next.
// A write by anyone else in between aborts with ErrStaleSignalState.
func (s *RedisSignalStore) swap(ctx context.Context, id string, next func(*models.Signal) (*models.Signal, error)) (*models.Signal, error) {
	key := s.signalKey(id)
	var written *models.Signal

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := s.get(ctx, tx, id)
		if err != nil {
			return err
		}
		upd, err := next(cur)
		if err != nil {
			return err
		}
		data, err := json.Marshal(upd)
		if err != nil {
			return fmt.Errorf("marshal signal: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if upd.Status.IsTerminal() {
				pipe.SRem(ctx, s.pendingKey(), id)
				if s.ttl > 0 {
					pipe.Expire(ctx, key, s.ttl)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		written = upd
		return nil
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		return nil, fmt.Errorf("signal %s: %w", id, models.ErrStaleSignalState)
	}
	if err != nil {
		return nil, err
	}
	return written, nil
}

func (s *RedisSignalStore) LatestPending(ctx context.Context, symbol string) ([]*models.Signal, error) {
	symbol = strings.ToUpper(symbol)
	ids, err := s.client.SInter(ctx, s.symbolKey(symbol), s.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("sinter pending: %w", err)
	}
	sigs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return latestPerSource(sigs), nil
}

func (s *RedisSignalStore) ListPending(ctx context.Context) ([]*models.Signal, error) {
	ids, err := s.client.SMembers(ctx, s.pendingKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers pending: %w", err)
	}
	sigs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := sigs[:0]
	for _, sig := range sigs {
		if sig.Status == models.StatusPending {
			out = append(out, sig)
		}
	}
	return sortAndLimit(out, 0), nil
}

func (s *RedisSignalStore) List(ctx context.Context, f repository.SignalFilter) ([]*models.Signal, error) {
	var ids []string
	var err error
	switch {
	case f.Symbol != "":
		ids, err = s.client.SMembers(ctx, s.symbolKey(strings.ToUpper(f.Symbol))).Result()
	case f.Status == models.StatusPending:
		ids, err = s.client.SMembers(ctx, s.pendingKey()).Result()
	default:
		ids, err = s.client.ZRevRange(ctx, s.timelineKey(), 0, -1).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("list signal ids: %w", err)
	}

	sigs, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := sigs[:0]
	for _, sig := range sigs {
		if matchFilter(sig, f) {
			out = append(out, sig)
		}
	}
	return sortAndLimit(out, f.Limit), nil
}

// load fetches signals in chunks. Ids whose document expired are skipped.
func (s *RedisSignalStore) load(ctx context.Context, ids []string) ([]*models.Signal, error) {
	const chunk = 500
	out := make([]*models.Signal, 0, len(ids))
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		keys := make([]string, 0, end-start)
		for _, id := range ids[start:end] {
			keys = append(keys, s.signalKey(id))
		}
		vals, err := s.client.MGet(ctx, keys...).Result()
		if err != nil {
			return nil, fmt.Errorf("mget signals: %w", err)
		}
		for _, v := range vals {
			str, ok := v.(string)
			if !ok {
				continue
			}
			var sig models.Signal
			if err := json.Unmarshal([]byte(str), &sig); err != nil {
				return nil, fmt.Errorf("unmarshal signal: %w", err)
			}
			out = append(out, &sig)
		}
	}
	return out, nil
}

func (s *RedisSignalStore) Close() error { return s.client.Close() }
