package internal

import (
	"context"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/exp/slog"

	"manualpilot/notify/internal/store"
	"manualpilot/notify/protocol"
)

const storeTimeout = 5 * time.Second

const (
	triggerConnect = "connect"
	triggerPoll    = "poll"
)

// Gateway routes notifications to the rooms of this instance and falls back to the message
// store when an acknowledged push goes unanswered.
type Gateway struct {
	ctx        context.Context
	logger     *slog.Logger
	state      *State
	acks       *Acks
	messages   *store.Store
	presence   Presence
	cluster    Cluster
	metrics    *Metrics
	ackTimeout time.Duration
}

func NewGateway(
	ctx context.Context,
	logger *slog.Logger,
	messages *store.Store,
	presence Presence,
	cluster Cluster,
	metrics *Metrics,
	ackTimeout time.Duration,
) *Gateway {
	if presence == nil {
		presence = nopPresence{}
	}

	if cluster == nil {
		cluster = nopCluster{}
	}

	return &Gateway{
		ctx:        ctx,
		logger:     logger,
		state:      NewState(),
		acks:       NewAcks(),
		messages:   messages,
		presence:   presence,
		cluster:    cluster,
		metrics:    metrics,
		ackTimeout: ackTimeout,
	}
}

// Push sends msg as a data event to every connection of msg.Recipient except the one with id
// except, then waits up to the ack timeout for any of them to acknowledge. Without an
// acknowledgment the message is saved for later pickup and Push reports false.
func (g *Gateway) Push(ctx context.Context, msg protocol.Message, except string) (bool, error) {
	log := g.logger.With(slog.String("recipient", msg.Recipient))

	kid, err := ksuid.NewRandom()
	if err != nil {
		return false, err
	}

	id := kid.String()
	frame, err := protocol.NewFrame(protocol.EventData, id, msg)
	if err != nil {
		return false, err
	}

	acked, forget := g.acks.Expect(id)
	defer forget()

	if n := g.deliverLocal(msg.Recipient, frame, except); n > 0 {
		timer := time.NewTimer(g.ackTimeout)
		defer timer.Stop()

		select {
		case <-acked:
			g.metrics.Pushes.WithLabelValues("delivered").Inc()
			log.Debug("push acknowledged", slog.String("ack", id))
			return true, nil
		case <-timer.C:
		case <-ctx.Done():
		}
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	if err := g.messages.Save(sctx, msg.Recipient, msg); err != nil {
		g.metrics.Pushes.WithLabelValues("failed").Inc()
		return false, err
	}

	g.metrics.Pushes.WithLabelValues("stored").Inc()
	log.Warn("push not acknowledged, stored for later", slog.String("job", msg.JobType))

	return false, nil
}

// Notify sends msg as a download event to the room of msg.Recipient on every instance. No
// acknowledgment is awaited and nothing is stored. It returns the number of local
// connections reached.
func (g *Gateway) Notify(ctx context.Context, msg protocol.Message, except string) (int, error) {
	frame, err := protocol.NewFrame(protocol.EventDownload, "", msg)
	if err != nil {
		return 0, err
	}

	n := g.deliverLocal(msg.Recipient, frame, except)
	g.metrics.Downloads.Inc()

	event := Event{
		Type:      EventTypeDownload,
		Recipient: msg.Recipient,
		Except:    except,
		Payload:   frame.Payload,
	}

	if err := g.cluster.Publish(ctx, event); err != nil {
		g.logger.Error("failed to relay download", slog.String("recipient", msg.Recipient), slog.Any("err", err))
	}

	return n, nil
}

// Redeliver sends the most recent buffered message for c's recipient to c alone, under its
// own job type.
func (g *Gateway) Redeliver(ctx context.Context, c *Connection, trigger string) (bool, error) {
	msg, ok, err := g.messages.Latest(ctx, c.Recipient)
	if err != nil || !ok {
		return false, err
	}

	frame, err := protocol.MessageFrame(msg, "")
	if err != nil {
		return false, err
	}

	if !c.Send(frame) {
		g.metrics.Backpressure.Inc()
		return false, nil
	}

	g.metrics.Redeliveries.WithLabelValues(trigger).Inc()
	return true, nil
}

// Acknowledge clears everything buffered for recipient.
func (g *Gateway) Acknowledge(ctx context.Context, recipient string) error {
	g.metrics.Acknowledgments.Inc()
	return g.messages.Clear(ctx, recipient)
}

// Retract removes the most recently buffered message for recipient.
func (g *Gateway) Retract(ctx context.Context, recipient string) error {
	return g.messages.Pop(ctx, recipient)
}

// Drop closes every connection of recipient on every instance.
func (g *Gateway) Drop(ctx context.Context, recipient string) (int, error) {
	n := g.dropLocal(recipient)

	if err := g.cluster.Publish(ctx, Event{Type: EventTypeDrop, Recipient: recipient}); err != nil {
		return n, err
	}

	return n, nil
}

func (g *Gateway) deliverLocal(recipient string, frame protocol.Frame, except string) int {
	n := 0
	for _, c := range g.state.Room(recipient) {
		if c.ID == except {
			continue
		}

		if !c.Send(frame) {
			g.metrics.Backpressure.Inc()
			g.logger.Warn("connection queue full", slog.String("id", c.ID))
			continue
		}

		n++
	}

	return n
}

func (g *Gateway) dropLocal(recipient string) int {
	room := g.state.Room(recipient)
	for _, c := range room {
		c.Drop()
	}

	return len(room)
}

// dispatch handles one frame read from c.
func (g *Gateway) dispatch(ctx context.Context, c *Connection, frame protocol.Frame) {
	log := g.logger.With(slog.String("id", c.ID), slog.String("recipient", c.Recipient))

	switch frame.Event {
	case protocol.EventAck:
		if !g.acks.Resolve(frame.ID) {
			log.Debug("late or unknown ack", slog.String("ack", frame.ID))
		}
	case protocol.EventNotificationReceived:
		if err := g.Acknowledge(ctx, c.Recipient); err != nil {
			log.Error("failed to clear messages", slog.Any("err", err))
		}
	case protocol.EventCheckStatus:
		if _, err := g.Redeliver(ctx, c, triggerPoll); err != nil {
			log.Error("failed to answer status check", slog.Any("err", err))
		}
	case protocol.EventData:
		msg, err := frame.Message()
		if err != nil || msg.Recipient == "" {
			log.Warn("ignoring malformed data event")
			return
		}

		// acks for this push arrive on other connections' readers; do not hold this one
		go func() {
			if _, err := g.Push(g.ctx, msg, c.ID); err != nil {
				log.Error("failed to push", slog.Any("err", err))
			}
		}()
	case protocol.EventDownload:
		msg, err := frame.Message()
		if err != nil || msg.Recipient == "" {
			log.Warn("ignoring malformed download event")
			return
		}

		if _, err := g.Notify(ctx, msg, c.ID); err != nil {
			log.Error("failed to notify", slog.Any("err", err))
		}
	default:
		log.Warn("unknown event", slog.String("event", string(frame.Event)))
	}
}
