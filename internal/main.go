package internal

import (
	"context"
	"crypto/ed25519"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/exp/slog"

	"manualpilot/notify/auth"
	"manualpilot/notify/internal/store"
)

// MaxRelayBody bounds request bodies on the signed job relay routes.
const MaxRelayBody = 16 << 10

type Options struct {
	InstanceID     string
	AllowedOrigins []string
	AckTimeout     time.Duration
	PingInterval   time.Duration
	PresenceTTL    time.Duration
	RelayPublicKey ed25519.PublicKey
	SessionSecret  []byte
}

// Main wires the gateway routes. rdb is optional; without it presence and cross-instance
// relay are disabled.
func Main(
	ctx context.Context,
	logger *slog.Logger,
	opts Options,
	messages *store.Store,
	rdb *redis.Client,
) (chi.Router, error) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	var (
		presence Presence = nopPresence{}
		cluster  Cluster  = nopCluster{}
	)

	if rdb != nil {
		presence = NewRedisPresence(rdb, opts.InstanceID, opts.PresenceTTL)
		cluster = NewRedisCluster(rdb, opts.InstanceID)
	}

	gw := NewGateway(ctx, logger, messages, presence, cluster, metrics, opts.AckTimeout)

	if rdb != nil {
		go SubscribeEvents(ctx, logger, gw, rdb, opts.InstanceID)
	}

	return NewRouter(gw, logger, reg, opts), nil
}

func NewRouter(gw *Gateway, logger *slog.Logger, gatherer prometheus.Gatherer, opts Options) chi.Router {
	router := chi.NewRouter()
	router.Use(mid(opts.InstanceID))
	router.Get("/health", health())
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.Get("/ws", JoinRoute(gw, logger, NewRecipientResolver(opts.SessionSecret), opts.AllowedOrigins, opts.PingInterval))

	if len(opts.RelayPublicKey) == ed25519.PublicKeySize {
		verifier := auth.NewRequestVerifier(opts.RelayPublicKey, auth.DefaultHeader)
		router.Group(func(r chi.Router) {
			// the verifier digests the body before the signature is known to be good
			r.Use(middleware.RequestSize(MaxRelayBody))
			r.Post("/notify", NotifyHandler(gw, logger, verifier))
			r.Delete("/notify/{recipient}/latest", RetractHandler(gw, logger, verifier))
			r.Delete("/sessions/{recipient}", DropHandler(gw, logger, verifier))
		})
	} else {
		logger.Warn("no relay public key, job relay routes disabled")
	}

	return router
}

func health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func mid(instanceID string) func(http.Handler) http.Handler {
	return func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Server", "manualpilot-notify")
			w.Header().Set("Instance-ID", instanceID)
			handler.ServeHTTP(w, r)
		})
	}
}
