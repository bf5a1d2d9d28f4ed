package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/ksuid"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/exp/slog"

	"manualpilot/notify/impl"
	"manualpilot/notify/internal"
	"manualpilot/notify/internal/store"
)

type Env struct {
	Port             int                   `env:"PORT,default=8080"`
	InstanceID       string                `env:"INSTANCE_ID"`
	ServiceDomain    string                `env:"SERVICE_DOMAIN"`
	AllowedOrigins   []string              `env:"ALLOWED_ORIGINS,default=localhost:3000"`
	RedisURL         string                `env:"REDIS_URL"`
	StoreBackend     string                `env:"STORE_BACKEND,default=memory"`
	SQLitePath       string                `env:"SQLITE_PATH,default=notify.db"`
	StoreTTL         time.Duration         `env:"STORE_TTL,default=24h"`
	AckTimeout       time.Duration         `env:"ACK_TIMEOUT,default=5s"`
	PingInterval     time.Duration         `env:"PING_INTERVAL,default=45s"`
	PresenceTTL      time.Duration         `env:"PRESENCE_TTL,default=90s"`
	RelayPublicKey   envconfig.Base64Bytes `env:"RELAY_PUBLIC_KEY"`
	SessionSecret    string                `env:"JWT_SECRET"`
	PorkbunAPIKey    string                `env:"PORKBUN_API_KEY"`
	PorkbunAPISecret string                `env:"PORKBUN_API_SECRET"`
	LogLevel         string                `env:"LOG_LEVEL,default=info"`
}

func openStore(ctx context.Context, env Env, rdb *redis.Client) (*store.Store, error) {
	switch env.StoreBackend {
	case "memory":
		return store.New(store.NewMemory()), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("STORE_BACKEND=redis requires REDIS_URL")
		}

		return store.New(store.NewRedis(rdb, env.StoreTTL)), nil
	case "sqlite":
		backend, err := store.OpenSQLite(ctx, env.SQLitePath)
		if err != nil {
			return nil, err
		}

		return store.New(backend), nil
	}

	return nil, fmt.Errorf("unknown store backend %q", env.StoreBackend)
}

func doMain(logger *slog.Logger, level *slog.LevelVar) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := Env{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return err
	}

	if err := level.UnmarshalText([]byte(env.LogLevel)); err != nil {
		return err
	}

	if env.InstanceID == "" {
		env.InstanceID = ksuid.New().String()
	}

	logger = logger.With(slog.String("instance", env.InstanceID))

	var rdb *redis.Client
	if env.RedisURL != "" {
		rOpts, err := redis.ParseURL(env.RedisURL)
		if err != nil {
			return err
		}

		rdb = redis.NewClient(rOpts)
		if err := rdb.Info(ctx).Err(); err != nil {
			return err
		}

		//goland:noinspection GoUnhandledErrorResult
		defer rdb.Close()
	}

	messages, err := openStore(ctx, env, rdb)
	if err != nil {
		return err
	}

	//goland:noinspection GoUnhandledErrorResult
	defer messages.Close()

	opts := internal.Options{
		InstanceID:     env.InstanceID,
		AllowedOrigins: env.AllowedOrigins,
		AckTimeout:     env.AckTimeout,
		PingInterval:   env.PingInterval,
		PresenceTTL:    env.PresenceTTL,
		RelayPublicKey: ed25519.PublicKey(env.RelayPublicKey),
		SessionSecret:  []byte(env.SessionSecret),
	}

	router, err := internal.Main(ctx, logger, opts, messages, rdb)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%v", env.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if env.ServiceDomain != "" {
		if rdb == nil {
			return fmt.Errorf("SERVICE_DOMAIN requires REDIS_URL for certificate storage")
		}

		tlsConfig, err := impl.TLSConfig(env.ServiceDomain, env.PorkbunAPIKey, env.PorkbunAPISecret, rdb)
		if err != nil {
			return err
		}

		server.TLSConfig = tlsConfig
	}

	//goland:noinspection GoUnhandledErrorResult
	defer server.Close()

	ec := make(chan error, 1)
	go func() {
		logger.Debug("starting...", slog.String("address", server.Addr), slog.String("store", env.StoreBackend))

		var err error
		if server.TLSConfig != nil {
			err = server.ListenAndServeTLS("", "")
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			ec <- err
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sc:
		logger.Warn("shutdown signal", slog.String("signal", sig.String()))
	case err := <-ec:
		return fmt.Errorf("http server: %w", err)
	}

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()

	return server.Shutdown(sctx)
}

func main() {
	level := &slog.LevelVar{}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{AddSource: true, Level: level}))

	if err := doMain(logger, level); err != nil {
		logger.Error("failed to start", slog.Any("err", err))
		os.Exit(1)
	}
}
