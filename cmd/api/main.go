package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/cpd/internal/api"
	"example.com/cpd/internal/auth"
	"example.com/cpd/internal/cache"
	"example.com/cpd/internal/config"
	"example.com/cpd/internal/domain"
	"example.com/cpd/internal/logger"
	"example.com/cpd/internal/observability"
	"example.com/cpd/internal/outbox"
	"example.com/cpd/internal/persistence/memory"
	"example.com/cpd/internal/persistence/postgres"
	httptransport "example.com/cpd/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: cfg.ServiceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    true,
	})
	if err != nil {
		log.Warn("tracing disabled", "error", err)
	}

	var (
		repo       domain.Repository
		dispatcher *outbox.Dispatcher
	)
	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage; data is lost on restart")
		repo = memory.NewStore()
	default:
		if cfg.AutoMigrate {
			if err := migrate(cfg.PostgresURL); err != nil {
				log.Fatal("failed to migrate database", "error", err)
			}
		}
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			log.Fatal("failed to connect to postgres", "error", err)
		}
		defer pool.Close()
		repo = postgres.NewRepository(pool)

		if len(cfg.KafkaBrokers) > 0 {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()
			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, registry, log, cfg.OutboxPollInterval, cfg.OutboxBatchSize)
			go dispatcher.Start(ctx)
		} else {
			log.Warn("KAFKA_BROKERS not set; outbox events stay queued in postgres")
		}
	}

	opts := []domain.Option{
		domain.WithLogger(log),
		domain.WithVerifyBaseURL(cfg.VerifyBaseURL),
		domain.WithCodeAttempts(cfg.CodeMaxAttempts),
		domain.WithIssuanceRetries(cfg.IssuanceMaxRetries, func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 50 * time.Millisecond
			b.MaxElapsedTime = 5 * time.Second
			return b
		}),
	}
	if cfg.RedisAddr != "" {
		rdb, err := cache.Dial(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			log.Warn("mapping cache disabled", "error", err)
		} else {
			defer rdb.Close()
			mappings := cache.NewMappings(rdb, repo, cfg.MappingCacheTTL, log)
			opts = append(opts, domain.WithMappingCache(mappings, mappings))
		}
	}
	service := domain.NewService(repo, opts...)

	mux := http.NewServeMux()
	api.NewHandler(service, log).RegisterRoutes(mux)
	if cfg.MetricsAddress == "" {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	authMiddleware := auth.NewMiddleware(
		auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer},
		auth.SkipPrefixes("/v1/verify/", "/healthz", "/metrics"),
	)
	handler := httptransport.Instrument("cpd-api", log, httptransport.CORS(cfg.CORSOrigin, authMiddleware.Wrap(mux)))

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, handler)

	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" {
		metricsSrv = &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Info("metrics listening", "address", cfg.MetricsAddress)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("cpd api listening", "address", cfg.HTTPAddress, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", "error", err)
		}
	}()

	<-shutdownCh
	log.Info("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warn("tracing shutdown failed", "error", err)
	}
}

func migrate(databaseURL string) error {
	m, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
