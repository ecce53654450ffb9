package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/retry"
	"github.com/wb-go/wbf/zlog"

	"github.com/stagefox/rockstar-booth/internal/album"
	sessionapi "github.com/stagefox/rockstar-booth/internal/api/handlers/session"
	"github.com/stagefox/rockstar-booth/internal/api/router"
	"github.com/stagefox/rockstar-booth/internal/api/server"
	"github.com/stagefox/rockstar-booth/internal/config"
	"github.com/stagefox/rockstar-booth/internal/generator"
	"github.com/stagefox/rockstar-booth/internal/infra/kafka/consumer"
	"github.com/stagefox/rockstar-booth/internal/infra/kafka/producer"
	"github.com/stagefox/rockstar-booth/internal/kafka/handlers/events"
	"github.com/stagefox/rockstar-booth/internal/repository/history"
	"github.com/stagefox/rockstar-booth/internal/service/booth"
	"github.com/stagefox/rockstar-booth/internal/session"
	"github.com/stagefox/rockstar-booth/internal/storage/file"
)

func main() {
	// Context & signals: used for graceful shutdown on system interrupts.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize logger and load application configuration.
	zlog.Init()
	cfg := config.MustLoad("./config")

	// Connect to PostgreSQL (master and slaves).
	opts := &dbpg.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}

	// Collect slave DSNs for replica connections.
	slaveDSNs := make([]string, 0, len(cfg.Database.Slaves))
	for _, s := range cfg.Database.Slaves {
		slaveDSNs = append(slaveDSNs, s.DSN())
	}

	db, err := dbpg.New(cfg.Database.Master.DSN(), slaveDSNs, opts)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to database")
	}

	// Retry strategy for Kafka operations.
	strategy := retry.Strategy{
		Attempts: cfg.Retry.Attempts,
		Delay:    cfg.Retry.Delay,
		Backoff:  cfg.Retry.Backoff,
	}

	// Initialize object storage (MinIO).
	storage, err := file.NewStorage(ctx, cfg.Storage.Endpoint, cfg.Storage.AccessKey, cfg.Storage.SecretKey, cfg.Storage.BucketName, cfg.Storage.UseSSL)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to connect to storage")
	}

	// Remote generation client (Gemini).
	gen, err := generator.New(ctx, cfg.Generation.APIKey, cfg.Generation.Model, cfg.Generation.CallTimeout, cfg.Generation.RatePerSec, cfg.Generation.RateBurst)
	if err != nil {
		zlog.Logger.Fatal().Err(err).Msg("failed to create generation client")
	}

	// Initialize repository, producer, assembler, session store and service layer.
	repo := history.NewRepository(db)
	p := producer.New(&cfg.Kafka, strategy)
	assembler := album.New(storage, cfg.Album.Columns, cfg.Album.CellWidth, cfg.Album.CellHeight, cfg.Album.FontPath, cfg.Album.Title)
	sessions := session.NewStore()
	service := booth.NewService(sessions, storage, gen, assembler, p, repo, cfg.Generation.Workers)

	// Kafka message handler archiving generation events.
	completedHandler := events.NewCompletedHandler(repo)

	// HTTP handler for booth session routes.
	sessHandler := sessionapi.NewHandler(service)

	// Kafka consumer for generation event archiving.
	c := consumer.New(&cfg.Kafka, strategy, completedHandler)

	// Start Kafka consumer in a separate goroutine.
	var wg sync.WaitGroup
	wg.Add(1)
	go c.Consume(ctx, &wg)

	// Start HTTP server in a separate goroutine.
	r := router.Setup(sessHandler)
	s := server.New(cfg.Server.HTTPPort, r)
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Block until context is canceled (SIGINT/SIGTERM).
	<-ctx.Done()
	zlog.Logger.Info().Msg("context done")

	// Wait for Kafka consumer goroutine to finish.
	wg.Wait()

	// Graceful shutdown with timeout for HTTP server.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	zlog.Logger.Info().Msg("shutting down server")
	if err := s.Shutdown(shutdownCtx); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if errors.Is(shutdownCtx.Err(), context.DeadlineExceeded) {
		zlog.Logger.Info().Msg("timeout exceeded, forcing shutdown")
	}

	// Close master and slave databases.
	if err := db.Master.Close(); err != nil {
		zlog.Logger.Printf("failed to close master DB: %v", err)
	}
	for i, slave := range db.Slaves {
		if err := slave.Close(); err != nil {
			zlog.Logger.Printf("failed to close slave DB %d: %v", i, err)
		}
	}

	// Close Kafka producer and consumer clients.
	if err = p.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka producer client")
	}
	if err = c.Client.Close(); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to close kafka consumer client")
	}
}
