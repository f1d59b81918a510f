// Package main is the entrypoint for the KLibras recognition worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/KLibras/klibras-api/internal/cache"
	"github.com/KLibras/klibras-api/internal/config"
	"github.com/KLibras/klibras-api/internal/queue"
	"github.com/KLibras/klibras-api/internal/scorer"
	"github.com/KLibras/klibras-api/internal/scorer/ffmpeg"
	"github.com/KLibras/klibras-api/internal/scorer/landmark"
	"github.com/KLibras/klibras-api/internal/scorer/mock"
	"github.com/KLibras/klibras-api/internal/scorer/tfserving"
	"github.com/KLibras/klibras-api/internal/store"
	"github.com/KLibras/klibras-api/internal/worker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency,
		"scorer", cfg.Scorer.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	sc, err := newScorer(cfg.Scorer)
	if err != nil {
		return fmt.Errorf("create scorer: %w", err)
	}
	slog.Info("scorer initialized", "provider", sc.Name())

	w, err := worker.New(worker.Options{
		Store:  store.NewPostgresStore(pool),
		Cache:  redisCache,
		Scorer: sc,
		Dial: func(ctx context.Context) (queue.Transport, error) {
			return queue.DialWithBackoff(ctx, cfg.Queue.URL)
		},
		QueueName:      cfg.Queue.Name,
		Concurrency:    cfg.Worker.Concurrency,
		ReconnectDelay: cfg.Worker.ReconnectDelay,
		JobTimeout:     cfg.Worker.JobTimeout,
		Logger:         slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("create worker: %w", err)
	}

	return w.Run(ctx)
}

// newScorer builds the configured scorer: the real ffmpeg + landmarker +
// model-server pipeline, or a mock for local development without the
// sidecars.
func newScorer(cfg config.ScorerConfig) (scorer.Scorer, error) {
	switch cfg.Provider {
	case "mock":
		return mock.NewMockScorer(), nil
	case "pipeline":
		return scorer.NewPipeline(scorer.PipelineOptions{
			Decoder:             ffmpeg.NewDecoder(cfg.FFmpegPath),
			Extractor:           landmark.NewClient(cfg.LandmarkerURL, cfg.Timeout),
			Classifier:          tfserving.NewClassifier(cfg.ClassifierURL, cfg.Actions, cfg.Timeout),
			ConfidenceThreshold: cfg.ConfidenceThreshold,
			SequenceLength:      cfg.SequenceLength,
		})
	default:
		return nil, fmt.Errorf("unknown scorer provider %q", cfg.Provider)
	}
}
