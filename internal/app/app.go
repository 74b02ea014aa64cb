// Package app provides the application lifecycle management for the refinery.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/transcript-refinery/internal/api"
	"github.com/jonesrussell/transcript-refinery/internal/cluster"
	"github.com/jonesrussell/transcript-refinery/internal/config"
	"github.com/jonesrussell/transcript-refinery/internal/llm"
	"github.com/jonesrussell/transcript-refinery/internal/logger"
	"github.com/jonesrussell/transcript-refinery/internal/metrics"
	"github.com/jonesrussell/transcript-refinery/internal/queue"
	"github.com/jonesrussell/transcript-refinery/internal/reports"
	"github.com/jonesrussell/transcript-refinery/internal/store"
	"github.com/jonesrussell/transcript-refinery/internal/worker"
	"github.com/jonesrussell/transcript-refinery/internal/youtube"
)

// DefaultShutdownTimeout is the timeout for graceful shutdown.
const DefaultShutdownTimeout = 30 * time.Second

// App holds the refinery's wired dependencies.
type App struct {
	config      *config.Config
	logger      logger.Logger
	redisClient *redis.Client
	manager     *cluster.Manager
	fetcher     *youtube.Fetcher
	llmClient   llm.Client
	queue       *queue.Queue
	reports     *reports.Writer
	metrics     *metrics.Metrics
	version     string
}

// Options contains configuration for creating a new App
type Options struct {
	ConfigPath string
	Version    string
}

// New creates an App with all dependencies initialized.
func New(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	appLogger = appLogger.With(
		logger.String("service", "refinery"),
		logger.String("version", opts.Version),
	)

	redisClient, err := store.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	llmClient, err := llm.NewFromConfig(cfg.LLM, appLogger)
	if err != nil {
		_ = appLogger.Sync()
		return nil, fmt.Errorf("create LLM client: %w", err)
	}

	st := store.New(redisClient, cfg.Redis.ClusterTTL, appLogger)
	q := queue.New(redisClient, appLogger)
	writer := reports.NewWriter(cfg.Output.Dir, appLogger)
	guard := llm.Guard{MaxUSD: cfg.LLM.MaxCostUSD}
	manager := cluster.New(st, q, llmClient, writer, guard, appLogger)

	return &App{
		config:      cfg,
		logger:      appLogger,
		redisClient: redisClient,
		manager:     manager,
		fetcher:     youtube.NewFetcher(appLogger),
		llmClient:   llmClient,
		queue:       q,
		reports:     writer,
		metrics:     metrics.New(),
		version:     opts.Version,
	}, nil
}

// RunAPI starts the HTTP server and blocks until shutdown.
func (a *App) RunAPI(ctx context.Context) error {
	router := api.NewRouter(a.manager, a.redisClient, a.config, a.metrics, a.logger)
	server := router.NewServer()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server",
			logger.String("address", a.config.Server.Address),
			logger.Bool("debug", a.config.Debug),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down", logger.Error(ctx.Err()))
	case err := <-serverErr:
		if err != nil {
			a.logger.Error("Server error", logger.Error(err))
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown error", logger.Error(err))
		return err
	}
	a.logger.Info("HTTP server stopped")
	return nil
}

// RunWorker starts the job consumer pool and blocks until shutdown.
func (a *App) RunWorker(ctx context.Context) error {
	w := worker.New(
		a.queue,
		a.manager,
		a.fetcher,
		a.llmClient,
		a.reports,
		a.metrics,
		worker.Config{
			Concurrency:      a.config.Worker.Concurrency,
			FetchTimeout:     a.config.Worker.FetchTimeout,
			CleanTimeout:     a.config.Worker.CleanTimeout,
			SynthesisTimeout: a.config.Worker.SynthesisTimeout,
			MaxTokens:        a.config.LLM.MaxTokens,
		},
		a.logger,
	)

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.logger.Info("Starting worker pool",
		logger.Int("concurrency", a.config.Worker.Concurrency),
	)
	w.Start(workerCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		a.logger.Info("Shutting down gracefully", logger.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("Shutting down", logger.Error(ctx.Err()))
	}

	cancel()
	w.Stop()
	a.logger.Info("Worker pool stopped")
	return nil
}

// Close cleans up resources.
func (a *App) Close() error {
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("Failed to close Redis client", logger.Error(err))
		}
	}
	return a.logger.Sync()
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.logger
}
