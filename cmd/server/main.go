package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sfu-gateway/internal/auth"
	"sfu-gateway/internal/gateway"
	"sfu-gateway/internal/platform/config"
	"sfu-gateway/internal/platform/logger"
	"sfu-gateway/internal/platform/metrics"
	"sfu-gateway/internal/registry"
	"sfu-gateway/internal/roster"
	"sfu-gateway/internal/version"
)

const startupTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	client, blocking, err := registry.Connect(ctx, registry.ConnConfig{
		Addrs:            cfg.Redis.Addresses(),
		Password:         cfg.Redis.Password,
		PoolSize:         cfg.Redis.PoolSize,
		BlockingPoolSize: cfg.Redis.BlockingPoolSize,
	})
	cancel()
	if err != nil {
		log.Error("cannot reach redis", "addrs", cfg.Redis.Addresses(), "error", err)
		os.Exit(1)
	}
	defer client.Close()
	defer blocking.Close()

	reg := registry.New(client, blocking, registry.Config{
		LivenessWindow:     cfg.Registry.LivenessWindow,
		PurgeProbability:   cfg.Registry.PurgeProbability,
		PollTimeout:        cfg.Registry.PollTimeout,
		NotificationMaxLen: cfg.Registry.NotificationMaxLen,
		MaxSfuLoad:         cfg.Registry.MaxSfuLoad,
	}, registry.WithLogger(log))

	source, cache, err := newRosterSource(cfg.Roster, log)
	if err != nil {
		log.Error("invalid roster configuration", "error", err)
		os.Exit(1)
	}
	if cache != nil {
		defer cache.Close()
	}

	authenticator, err := newAuthenticator(cfg.Auth, log)
	if err != nil {
		log.Error("invalid auth configuration", "error", err)
		os.Exit(1)
	}

	met := metrics.New()
	gw := gateway.New(gateway.Config{
		Registry: reg,
		Roster:   source,
		Auth:     authenticator,
		Policy:   reg.Policy(),
		Metrics:  met,
		Logger:   log,
		UpdateGauges: func() {
			if cache != nil {
				met.SetRosterCacheEntries(cache.Len())
			}
		},
	})

	srv := &http.Server{Addr: cfg.Server.Addr(), Handler: gw.Handler()}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		version.Attr(),
		"addr", srv.Addr,
		"redis", cfg.Redis.Addresses(),
		"max_sfu_load", cfg.Registry.MaxSfuLoad,
		"auth_disabled", cfg.Auth.Disabled,
		"log_level", cfg.Log.Level,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")

	ctx, cancel = context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	gw.Close()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}

// newRosterSource returns the fixed debug roster when one is configured,
// otherwise a cached schedule service client. cache is nil in debug mode.
func newRosterSource(cfg config.RosterConfig, log *slog.Logger) (roster.Source, *roster.Cache, error) {
	if cfg.Debug != "" {
		students, teachers, err := cfg.DebugRoster()
		if err != nil {
			return nil, nil, err
		}
		log.Warn("using a fixed debug roster", "students", students, "teachers", teachers)
		return roster.Fixed{Students: students, Teachers: teachers}, nil, nil
	}

	client := roster.NewClient(cfg.Endpoint,
		roster.WithTimeout(cfg.Timeout),
		roster.WithLogger(log),
	)
	cache := roster.NewCache(client, cfg.CacheTTL, log)
	return cache, cache, nil
}

func newAuthenticator(cfg config.AuthConfig, log *slog.Logger) (auth.Authenticator, error) {
	if cfg.Disabled {
		return auth.NewDebugAuthenticator(log), nil
	}

	var (
		verifier *auth.JWTVerifier
		err      error
	)
	if cfg.PublicKeyPath != "" {
		verifier, err = auth.LoadPublicKeyVerifier(cfg.PublicKeyPath)
	} else {
		verifier, err = auth.NewHMACVerifier([]byte(cfg.HMACSecret))
	}
	if err != nil {
		return nil, err
	}
	if cfg.DevMode {
		log.Warn("dev mode, accepting authentication tokens from the query string")
	}
	return &auth.TokenAuthenticator{Verifier: verifier, DevMode: cfg.DevMode}, nil
}
