package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/surrealdb/canvassync/pkg/logger"
)

const (
	redisKeyPrefix  = "canvassync:ratelimit:"
	redisMaxRetries = 8
)

// RedisStore shares entries between processes, e.g. several relays behind a
// load balancer. Updates use optimistic WATCH/MULTI transactions.
type RedisStore struct {
	rdb *redis.Client
	log logger.Logger
}

type RedisConfig struct {
	Addr     string
	DB       int
	Password string
}

func NewRedisStore(cfg RedisConfig, log logger.Logger) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		DB:       cfg.DB,
		Password: cfg.Password,
	})
	return &RedisStore{rdb: rdb, log: logger.OrDiscard(log)}
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(rdb *redis.Client, log logger.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, log: logger.OrDiscard(log)}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) (Entry, error) {
	rkey := redisKeyPrefix + key
	var out Entry

	txf := func(tx *redis.Tx) error {
		var (
			cur   Entry
			found bool
		)
		b, err := tx.Get(ctx, rkey).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(b, &cur); err != nil {
				s.log.Warn("ratelimit: discarding undecodable entry", "key", rkey, "error", err)
			} else {
				found = true
			}
		}

		next, ttl := fn(cur, found)
		payload, err := json.Marshal(next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, rkey, payload, ttl)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, rkey)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return Entry{}, fmt.Errorf("ratelimit: redis update %q: %w", key, err)
	}
	return Entry{}, fmt.Errorf("ratelimit: redis update %q: too much contention", key)
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
