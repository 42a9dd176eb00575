package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/supportdesk/assignment/internal/config"
	"github.com/supportdesk/assignment/internal/db"
	httpapi "github.com/supportdesk/assignment/internal/http"
	"github.com/supportdesk/assignment/internal/http/handlers"
	"github.com/supportdesk/assignment/internal/intake"
	"github.com/supportdesk/assignment/internal/locks"
	"github.com/supportdesk/assignment/internal/notify"
	"github.com/supportdesk/assignment/internal/recency"
	"github.com/supportdesk/assignment/internal/scoring"
	"github.com/supportdesk/assignment/internal/service"
	"github.com/supportdesk/assignment/internal/utils"
)

// storage is what both the Postgres store and the in-memory store provide.
type storage interface {
	handlers.Store
	service.AgentProvider
	service.TicketSource
	service.PersistenceSink
	service.RunRecorder
}

type lockBackend interface {
	locks.Locker
	locks.TryLocker
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := log.Level(level).With().Str("service", "assignment-engine").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	lk, closeLocks := openLocks(ctx, cfg, logger)
	defer closeLocks()

	weights, err := scoring.LoadWeights(cfg.ScoringFile)
	if err != nil {
		logger.Fatal().Err(err).Str("file", cfg.ScoringFile).Msg("failed to load scoring weights")
	}

	var publisher notify.Publisher = notify.LogPublisher{Logger: logger}
	brokers := cfg.Brokers()
	if len(brokers) > 0 {
		publisher = notify.NewKafkaPublisher(brokers, cfg.NotifyTopic)
	} else {
		logger.Info().Msg("kafka not configured, notifications go to the log")
	}
	dispatcher := notify.NewDispatcher(publisher, notify.DispatcherConfig{
		Buffer:  cfg.NotifyBuffer,
		Workers: cfg.Workers,
		Timeout: cfg.NotifyTimeout,
	}, logger)

	history := recency.NewTracker(cfg.HistoryTTL)
	timeouts := service.Timeouts{Provider: cfg.ProviderTimeout, Commit: cfg.CommitTimeout}

	coordinator := &service.Coordinator{
		Provider: store,
		Tickets:  store,
		Sink:     store,
		Notifier: dispatcher,
		Locks:    lk,
		History:  history,
		Weights:  weights,
		Timeouts: timeouts,
		Logger:   logger.With().Str("component", "coordinator").Logger(),
	}
	rebalancer := &service.Rebalancer{
		Provider: store,
		Tickets:  store,
		Sink:     store,
		Notifier: dispatcher,
		Locks:    lk,
		RunLock:  lk,
		Runs:     store,
		History:  history,
		Weights:  weights,
		Config: service.RebalanceConfig{
			OverloadThreshold:  cfg.OverloadThreshold,
			UnderloadThreshold: cfg.UnderloadThreshold,
			MaxMoves:           cfg.RebalanceMaxMoves,
		},
		Timeouts: timeouts,
		Logger:   logger.With().Str("component", "rebalancer").Logger(),
	}
	go rebalancer.Start(ctx, cfg.RebalanceInterval)

	consumerDone := make(chan struct{})
	if len(brokers) > 0 {
		reader := intake.NewReader(brokers, cfg.TicketsTopic, cfg.KafkaGroupID)
		consumer := &intake.Consumer{
			Reader:   reader,
			Tickets:  store,
			Assigner: coordinator,
			Workers:  cfg.Workers,
			Timeout:  cfg.CommitTimeout,
			Logger:   logger.With().Str("component", "intake").Logger(),
		}
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("ticket consumer stopped")
			}
			_ = reader.Close()
		}()
	} else {
		close(consumerDone)
	}

	router := httpapi.Router(cfg, store, coordinator, rebalancer, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	<-consumerDone
	if err := dispatcher.Close(); err != nil {
		logger.Warn().Err(err).Msg("notification publisher close failed")
	}
	logger.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (storage, func()) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
		return db.NewMemoryStore(), func() {}
	}
	store, err := db.New(ctx, cfg.DatabaseURL, utils.RetryPolicy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     utils.ExponentialBackoff(cfg.RetryBaseDelay, 5*time.Second),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect db")
	}
	if err := store.Migrate(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to migrate db")
	}
	return store, store.Close
}

func openLocks(ctx context.Context, cfg config.Config, logger zerolog.Logger) (lockBackend, func()) {
	if cfg.RedisAddr == "" {
		logger.Info().Msg("REDIS_ADDR not set, locks are process-local")
		return locks.NewKeyedMutex(), func() {}
	}
	client, err := locks.OpenRedis(ctx, locks.RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	locker := &locks.RedisLocker{
		Client: client,
		TTL:    cfg.LockTTL,
		Logger: logger.With().Str("component", "locks").Logger(),
	}
	return locker, func() { _ = client.Close() }
}
