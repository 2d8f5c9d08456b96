package quoteindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	cli *redis.Client
}

// OpenRedis connects the ephemeral tier to redis. Quote links get native
// TTL expiry there and survive process restarts.
func OpenRedis(ctx context.Context, url string) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &redisStore{cli: cli}, nil
}

func (s *redisStore) Put(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return s.cli.Set(ctx, "ql:"+key, b, ttl).Err()
}

func (s *redisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	b, err := s.cli.Get(ctx, "ql:"+key).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (s *redisStore) Close() error { return s.cli.Close() }
