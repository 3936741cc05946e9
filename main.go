package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-envconfig"
	"golang.org/x/exp/slog"

	"cobrowse/relay/impl"
	"cobrowse/relay/internal"
)

type Env struct {
	Port       int    `env:"PORT,default=8080"`
	InstanceID string `env:"INSTANCE_ID,default=relay-0"`

	// ServiceDomain turns on direct TLS termination; leave unset behind a
	// reverse proxy. RedisURL is required for TLS (certificate storage) and
	// otherwise only enables presence bookkeeping.
	ServiceDomain string `env:"SERVICE_DOMAIN"`
	RedisURL      string `env:"REDIS_URL"`
}

func doMain(logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := Env{}
	if err := envconfig.Process(ctx, &env); err != nil {
		return err
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
	}

	router := internal.Main(logger, env.InstanceID, rdb)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%v", env.Port),
		Handler: router,
	}

	if env.ServiceDomain != "" {
		if rdb == nil {
			return fmt.Errorf("SERVICE_DOMAIN requires REDIS_URL for certificate storage")
		}

		tlsConfig, err := impl.TLSConfig(ctx, env.ServiceDomain, rdb)
		if err != nil {
			return err
		}

		server.TLSConfig = tlsConfig
	}

	//goland:noinspection GoUnhandledErrorResult
	defer server.Close()

	ec := make(chan error)
	go func() {
		logger.Debug("starting...", slog.String("address", server.Addr))

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
		logger.Error("failed to start http server", err)
	}

	return nil
}

func main() {
	handler := slog.HandlerOptions{AddSource: true, Level: slog.LevelDebug}
	logger := slog.New(handler.NewTextHandler(os.Stdout))

	if err := doMain(logger); err != nil {
		logger.Error("failed to start", err)
		os.Exit(1)
	}
}
