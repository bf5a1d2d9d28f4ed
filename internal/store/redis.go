package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis keeps one list per recipient under notify:msgs:<recipient>. A positive ttl expires an
// idle queue, counted from its last append.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) key(recipient string) string {
	return fmt.Sprintf("notify:msgs:%v", recipient)
}

func (r *Redis) Append(ctx context.Context, key string, value []byte) error {
	rid := r.key(key)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, rid, value)
		if r.ttl > 0 {
			pipe.Expire(ctx, rid, r.ttl)
		}

		return nil
	})

	return err
}

func (r *Redis) Range(ctx context.Context, key string) ([][]byte, error) {
	res, err := r.rdb.LRange(ctx, r.key(key), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}

	out := make([][]byte, 0, len(res))
	for _, value := range res {
		out = append(out, []byte(value))
	}

	return out, nil
}

func (r *Redis) Last(ctx context.Context, key string) ([]byte, bool, error) {
	res, err := r.rdb.LIndex(ctx, r.key(key), -1).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}

	return res, true, nil
}

func (r *Redis) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.key(key)).Err()
}

func (r *Redis) RemoveLast(ctx context.Context, key string) error {
	err := r.rdb.RPop(ctx, r.key(key)).Err()
	if err == redis.Nil {
		return nil
	}

	return err
}

// Close leaves the client open; it is shared with the rest of the gateway.
func (r *Redis) Close() error {
	return nil
}
