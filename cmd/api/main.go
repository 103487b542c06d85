package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/carebook/booking-engine/internal/api/router"
	"github.com/carebook/booking-engine/internal/availability"
	"github.com/carebook/booking-engine/internal/calcom"
	appconfig "github.com/carebook/booking-engine/internal/config"
	"github.com/carebook/booking-engine/internal/directory"
	"github.com/carebook/booking-engine/internal/observability/metrics"
	"github.com/carebook/booking-engine/internal/widget"
	"github.com/carebook/booking-engine/pkg/logging"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Local dev convenience; the file is absent in deployed environments.
	_ = godotenv.Load()

	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting booking engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("invalid timezone, using UTC", "timezone", cfg.Timezone, "error", err)
		loc = time.UTC
	}

	redisClient := newRedisClient(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bookingMetrics := metrics.NewBookingMetrics(nil)

	calClient := calcom.NewClient(logger, calcom.WithBaseURL(cfg.CalBaseURL))
	scheduler := availability.NewService(calClient, loc, bookingMetrics, logger)

	catalog, err := loadCatalog(cfg, redisClient)
	if err != nil {
		if cfg.DirectoryPath != "" {
			logger.Error("failed to load practitioner directory", "error", err, "path", cfg.DirectoryPath)
			os.Exit(1)
		}
		logger.Warn("stored catalog unavailable, using default", "error", err)
		catalog = directory.DefaultCatalog()
	}

	primary := directory.PrimaryService
	if cfg.Primary == "practitioner" {
		primary = directory.PrimaryPractitioner
	}

	widgetHandler := widget.NewHandler(widget.Config{
		Resolver:   directory.NewResolver(catalog, primary),
		Scheduler:  scheduler,
		History:    widget.NewHistoryStore(redisClient),
		Language:   cfg.Language,
		Location:   loc,
		SessionTTL: cfg.SessionTTL,
		Logger:     logger,
		Metrics:    bookingMetrics,
	})

	r := router.New(&router.Config{
		Logger:             logger,
		Widget:             widgetHandler,
		MetricsHandler:     promhttp.Handler(),
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

func newRedisClient(cfg *appconfig.Config, logger *logging.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	opts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// Session history is best-effort; the booking flow works without it.
		logger.Warn("redis unreachable, continuing without history", "addr", cfg.RedisAddr, "error", err)
	}
	return client
}

// loadCatalog prefers the JSON file when configured, then the redis-backed
// store, which falls back to the built-in default catalog.
func loadCatalog(cfg *appconfig.Config, redisClient *redis.Client) (*directory.Catalog, error) {
	if cfg.DirectoryPath != "" {
		return directory.LoadFile(cfg.DirectoryPath)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return directory.NewStore(redisClient).Get(ctx)
}
