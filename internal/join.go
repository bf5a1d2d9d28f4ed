package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/segmentio/ksuid"
	"golang.org/x/exp/slog"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"manualpilot/notify/protocol"
)

const writeTimeout = 10 * time.Second

func JoinRoute(
	gw *Gateway,
	logger *slog.Logger,
	resolver RecipientResolver,
	originPatterns []string,
	pingInterval time.Duration,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipient, err := resolver(r)
		if err != nil {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		kid, err := ksuid.NewRandom()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		id := kid.String()
		log := logger.With(slog.String("id", id), slog.String("recipient", recipient))

		opts := &websocket.AcceptOptions{
			OriginPatterns: originPatterns,
		}

		conn, err := websocket.Accept(w, r, opts)
		if err != nil {
			log.Warn("failed to accept", slog.Any("err", err))
			return
		}

		c := NewConnection(r.Context(), id, recipient)
		ctx := c.ctx

		if err := gw.presence.Join(ctx, c); err != nil {
			log.Error("failed to record presence", slog.Any("err", err))
		}

		gw.state.Join(c)
		gw.metrics.Connections.Inc()

		log.Info("joined")

		defer func() {
			c.Drop()
			gw.state.Leave(c)
			gw.metrics.Connections.Dec()

			if err := gw.presence.Leave(context.Background(), id); err != nil {
				log.Error("failed to cleanup", slog.Any("err", err))
			}

			_ = conn.Close(websocket.StatusNormalClosure, "")
		}()

		// latest buffered message only; older ones are superseded
		if _, err := gw.Redeliver(ctx, c, triggerConnect); err != nil {
			log.Error("failed to redeliver", slog.Any("err", err))
		}

		go func() {
			defer c.Drop()
			for {
				typ, b, err := conn.Read(ctx)
				if err != nil {
					return
				}

				if err := gw.presence.Count(ctx, id, "recv"); err != nil {
					log.Error("failed to update received messages stats", slog.Any("err", err))
				}

				if typ != websocket.MessageText {
					log.Warn("ignoring binary frame")
					continue
				}

				frame := protocol.Frame{}
				if err := json.Unmarshal(b, &frame); err != nil {
					log.Warn("ignoring malformed frame", slog.Any("err", err))
					continue
				}

				gw.dispatch(ctx, c, frame)
			}
		}()

		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := conn.Ping(ctx); err != nil {
						log.Error("failed to ping", slog.Any("err", err))
						c.Drop()
						return
					}

					if err := gw.presence.Touch(ctx, id); err != nil {
						log.Error("failed to extend presence", slog.Any("err", err))
					}
				}
			}
		}()

		for {
			select {
			case <-ctx.Done():
				log.Info("left")
				return
			case frame := <-c.out:
				wctx, cancel := context.WithTimeout(ctx, writeTimeout)
				err := wsjson.Write(wctx, conn, frame)
				cancel()

				if err != nil {
					log.Error("failed to write message", slog.Any("err", err))
					return
				}

				if err := gw.presence.Count(ctx, id, "sent"); err != nil {
					log.Error("failed to update sent messages stats", slog.Any("err", err))
				}
			}
		}
	}
}
