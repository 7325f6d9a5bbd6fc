package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/keywordlab/trendpulse/internal/cache"
	"github.com/keywordlab/trendpulse/internal/config"
	"github.com/keywordlab/trendpulse/internal/engine"
	"github.com/keywordlab/trendpulse/internal/gate"
	httpapi "github.com/keywordlab/trendpulse/internal/interfaces/http"
	"github.com/keywordlab/trendpulse/internal/persistence/postgres"
	"github.com/keywordlab/trendpulse/internal/retry"
	"github.com/keywordlab/trendpulse/internal/telemetry"
	"github.com/keywordlab/trendpulse/internal/trends"
)

// bindServeFlags declares the few overrides serve accepts on top of the
// config file and environment.
func bindServeFlags(flags *pflag.FlagSet) {
	flags.Int("port", 0, "listen port override")
	flags.String("provider", "", "trends provider override (google|mock)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port != 0 {
		cfg.HTTP.Port = port
	}
	if provider, _ := cmd.Flags().GetString("provider"); provider != "" {
		cfg.Trends.Provider = provider
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	zerolog.SetGlobalLevel(level)
	logger := log.With().Str("service", appName).Logger()

	logger.Info().
		Str("version", version).
		Str("env", cfg.Env).
		Str("addr", cfg.HTTP.Addr()).
		Str("provider", cfg.Trends.Provider).
		Msg("starting trendpulse")

	redisClient, err := openRedis(cfg)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	db, err := postgres.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime())
	db.SetConnMaxIdleTime(cfg.Database.ConnMaxIdleTime())

	metrics := telemetry.New()
	store := postgres.NewQueriesRepo(db, cfg.Database.QueryTimeout())
	cacheLayer := cache.New(redisClient, cache.Config{
		FreshTTL: cfg.Cache.FreshTTL(),
		StaleTTL: cfg.Cache.StaleTTL(),
	}, logger, metrics)

	var provider trends.Provider
	switch cfg.Trends.Provider {
	case "mock":
		provider = trends.NewMockProvider()
		logger.Warn().Msg("using the mock trends provider, responses are synthetic")
	default:
		provider = trends.NewClient(trends.Config{
			BaseURL: cfg.Trends.BaseURL,
			Timeout: cfg.Trends.Timeout(),
		}, logger, metrics)
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Trends.MaxAttempts
	policy.BaseDelay = cfg.Trends.BaseDelay()

	eng := engine.New(cacheLayer, store, provider, gate.New(), engine.Config{
		Policy:       policy,
		RequestDelay: cfg.Trends.RequestDelay(),
	}, logger, metrics)

	handlers := httpapi.NewHandlers(eng, cacheLayer, store, logger, version)
	server := httpapi.NewServer(httpapi.Config{
		Addr:            cfg.HTTP.Addr(),
		Env:             cfg.Env,
		Version:         version,
		ReadTimeout:     cfg.HTTP.ReadTimeout(),
		WriteTimeout:    cfg.HTTP.WriteTimeout(),
		IdleTimeout:     cfg.HTTP.IdleTimeout(),
		RateLimitWindow: cfg.RateLimit.Window(),
		RateLimitMax:    cfg.RateLimit.MaxRequests,
	}, handlers, metrics, logger)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown error")
		return err
	}

	logger.Info().Msg("shutdown complete")
	return nil
}

// openRedis prefers the URL form (REDIS_URL) over the discrete fields.
func openRedis(cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.URL != "" {
		return cache.Open(cfg.Redis.URL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
