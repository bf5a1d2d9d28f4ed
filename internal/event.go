package internal

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"manualpilot/notify/protocol"
)

const clusterChannel = "notify:events"

// Cluster relays events to the other gateway instances.
type Cluster interface {
	Publish(ctx context.Context, event Event) error
}

type nopCluster struct{}

func (nopCluster) Publish(context.Context, Event) error { return nil }

type redisCluster struct {
	rdb        *redis.Client
	instanceID string
}

func NewRedisCluster(rdb *redis.Client, instanceID string) Cluster {
	return &redisCluster{rdb: rdb, instanceID: instanceID}
}

func (c *redisCluster) Publish(ctx context.Context, event Event) error {
	event.Origin = c.instanceID

	b, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return c.rdb.Publish(ctx, clusterChannel, string(b)).Err()
}

// SubscribeEvents delivers events published by other instances to the local rooms until ctx
// is done.
func SubscribeEvents(ctx context.Context, logger *slog.Logger, gw *Gateway, rdb *redis.Client, instanceID string) {
	sub := rdb.Subscribe(ctx, clusterChannel)
	ch := sub.Channel()

	for {
		select {
		case <-ctx.Done():
			_ = sub.Close()
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}

			event := Event{}
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				logger.Error("failed to unmarshal cluster event", slog.Any("err", err))
				continue
			}

			if event.Origin == instanceID {
				continue
			}

			switch event.Type {
			case EventTypeDownload:
				frame := protocol.Frame{Event: protocol.EventDownload, Payload: event.Payload}
				n := gw.deliverLocal(event.Recipient, frame, event.Except)
				logger.Debug("relayed download",
					slog.String("recipient", event.Recipient),
					slog.String("origin", event.Origin),
					slog.Int("connections", n),
				)
			case EventTypeDrop:
				gw.dropLocal(event.Recipient)
			default:
				logger.Warn("unknown event type", slog.String("event", string(event.Type)))
			}
		}
	}
}
