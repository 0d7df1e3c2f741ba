package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/example/parish-rides/internal/config"
	"github.com/example/parish-rides/internal/donation"
	"github.com/example/parish-rides/internal/events"
	"github.com/example/parish-rides/internal/geo"
	httpapi "github.com/example/parish-rides/internal/http"
	"github.com/example/parish-rides/internal/logging"
	"github.com/example/parish-rides/internal/matching"
	"github.com/example/parish-rides/internal/payments"
	"github.com/example/parish-rides/internal/review"
	"github.com/example/parish-rides/internal/storage"
)

func main() {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	if cfg.PGDSN != "" && cfg.RunMigrations {
		if err := runMigrations(cfg.PGDSN, logger); err != nil {
			logger.Error("migrations failed", "error", err)
			os.Exit(1)
		}
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			logger.Error("postgres open failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		store = pg
		logger.Info("using postgres store")
	} else {
		store = storage.NewMemoryStore()
		logger.Info("using in-memory store")
	}

	var producer events.Producer = events.NopProducer{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		producer = kp
		logger.Info("kafka producer enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	var index geo.OpenRequestIndex
	if cfg.RedisAddr != "" {
		index = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey)
		logger.Info("redis open-request index enabled", "addr", cfg.RedisAddr, "key", cfg.RedisGeoKey)
	}

	var issuer payments.Issuer = payments.LocalIssuer{}
	if cfg.StripeAPIKey != "" {
		issuer = payments.NewStripeIssuer(cfg.StripeAPIKey)
		logger.Info("stripe issuer enabled")
	}

	donations := &donation.Service{Store: store, Issuer: issuer, Events: producer, Logger: logger}
	match := &matching.Service{Store: store, Events: producer, Index: index, Prompter: donations, Logger: logger}
	reviews := &review.Service{Store: store, Donations: donations, Events: producer, Logger: logger}

	srv := httpapi.NewServer(match, donations, reviews, logger)
	srv.NearbyRadiusMeters = cfg.NearbyRadiusMeters
	srv.NearbyLimit = cfg.NearbyLimit
	if cfg.StripeWebhookSecret != "" {
		srv.Webhook = payments.NewWebhookVerifier(cfg.StripeWebhookSecret)
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("parish-rides listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runMigrations applies every migrations/*.sql file in lexical order.
// Statements are idempotent (CREATE TABLE IF NOT EXISTS), so re-running
// on boot is harmless.
func runMigrations(dsn string, logger *slog.Logger) error {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	files, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(b)); err != nil {
			return err
		}
		logger.Info("migration applied", "file", f)
	}
	return nil
}
