package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/redis/go-redis/v9"
)

// Redis is the go-redis backed Store. PutBatch commits through a
// TxPipeline (MULTI/EXEC) so the batch is applied atomically; prefix
// scans use SCAN plus MGET.
type Redis struct {
	c *redis.Client
}

func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: redis url: %v", common.ErrorStore, err)
	}
	c := redis.NewClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: redis ping: %v", common.ErrorStore, err)
	}
	return &Redis{c: c}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, fmt.Errorf("%w: redis GET: %v", common.ErrorStore, err)
	}
	return v, nil
}

func (r *Redis) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.c.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("%w: redis EXISTS: %v", common.ErrorStore, err)
	}
	return n > 0, nil
}

func (r *Redis) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	var keys []string
	iter := r.c.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("%w: redis SCAN: %v", common.ErrorStore, err)
	}
	if len(keys) == 0 {
		return nil, nil
	}
	sort.Strings(keys)

	values, err := r.c.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: redis MGET: %v", common.ErrorStore, err)
	}

	out := make([]KV, 0, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			// Key vanished between SCAN and MGET.
			continue
		}
		out = append(out, KV{Key: keys[i], Value: []byte(s)})
	}
	return out, nil
}

func (r *Redis) PutBatch(ctx context.Context, puts []KV, deletes []string) error {
	pipe := r.c.TxPipeline()
	for _, kv := range puts {
		pipe.Set(ctx, kv.Key, kv.Value, 0)
	}
	for _, k := range deletes {
		pipe.Del(ctx, k)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: redis pipeline: %v", common.ErrorStore, err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.c.Close()
}
