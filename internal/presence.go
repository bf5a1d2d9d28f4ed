package internal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Presence records which instance holds a connection, with traffic counters.
type Presence interface {
	Join(ctx context.Context, c *Connection) error
	Touch(ctx context.Context, id string) error
	Count(ctx context.Context, id, field string) error
	Leave(ctx context.Context, id string) error
}

type nopPresence struct{}

func (nopPresence) Join(context.Context, *Connection) error { return nil }
func (nopPresence) Touch(context.Context, string) error { return nil }
func (nopPresence) Count(context.Context, string, string) error { return nil }
func (nopPresence) Leave(context.Context, string) error { return nil }

type redisPresence struct {
	rdb        *redis.Client
	instanceID string
	ttl        time.Duration
}

func NewRedisPresence(rdb *redis.Client, instanceID string, ttl time.Duration) Presence {
	return &redisPresence{rdb: rdb, instanceID: instanceID, ttl: ttl}
}

func presenceKey(id string) string {
	return fmt.Sprintf("notify:conn:%v", id)
}

func (p *redisPresence) Join(ctx context.Context, c *Connection) error {
	rid := presenceKey(c.ID)
	data := map[string]string{
		"inst": p.instanceID,
		"rcpt": c.Recipient,
		"join": strconv.Itoa(int(time.Now().Unix())),
		"recv": "0",
		"sent": "0",
	}

	if err := p.rdb.HSet(ctx, rid, data).Err(); err != nil {
		return err
	}

	return p.rdb.Expire(ctx, rid, p.ttl).Err()
}

func (p *redisPresence) Touch(ctx context.Context, id string) error {
	return p.rdb.Expire(ctx, presenceKey(id), p.ttl).Err()
}

func (p *redisPresence) Count(ctx context.Context, id, field string) error {
	return p.rdb.HIncrBy(ctx, presenceKey(id), field, 1).Err()
}

func (p *redisPresence) Leave(ctx context.Context, id string) error {
	return p.rdb.Del(ctx, presenceKey(id)).Err()
}
