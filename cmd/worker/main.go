package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"genserver/internal/adapter/repo"
	"genserver/internal/comfy"
	"genserver/internal/events"
	"genserver/internal/infra"
	"genserver/internal/jobs"
	"genserver/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	jobRepo := repo.NewJobRepository(pool)
	artifactRepo := repo.NewArtifactRepository(pool)

	storagePath := cfg.StoragePath
	if storagePath == "" {
		storagePath = "./storage"
	}
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	fileStore, err := storage.NewFileStore(storagePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure storage")
	}

	comfyClient, err := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.ComfyBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ComfyPollTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure queue backend client")
	}

	var publisher events.Publisher = events.NoopPublisher{}
	if strings.TrimSpace(cfg.AMQPURL) != "" {
		if p, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.JobEventsExchange, logger); err != nil {
			logger.Warn().Err(err).Msg("worker: event broker unavailable, job events disabled")
		} else {
			publisher = p
		}
	}
	defer func() { _ = publisher.Close() }()

	finalizer := jobs.NewFinalizer(jobRepo, artifactRepo, fileStore, comfyClient, publisher, logger)
	poller := jobs.NewPoller(jobRepo, comfyClient, finalizer, logger)

	concurrency := cfg.WorkerConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	logger.Info().Int("concurrency", concurrency).Msg("worker: started")

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			workerLogger := logger.With().Int("worker", n).Logger()
			jobs.RunWorker(ctx, jobRepo, poller, cfg.PollInterval, workerLogger)
		}(i)
	}
	wg.Wait()
	logger.Info().Msg("worker: stopped")
}
