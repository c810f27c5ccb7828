package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"genserver/internal/adapter/repo"
	"genserver/internal/comfy"
	"genserver/internal/events"
	"genserver/internal/http/handlers"
	"genserver/internal/http/httpapi"
	"genserver/internal/infra"
	"genserver/internal/infra/geoip"
	"genserver/internal/jobs"
	"genserver/internal/middleware"
	"genserver/internal/runpod"
	"genserver/internal/storage"
)

const serverlessProvider = "runpod"

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer pool.Close()

	if _, statErr := os.Stat(cfg.MigrationsDir); statErr == nil {
		if err := infra.RunMigrations(ctx, pool, cfg.MigrationsDir, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
	} else {
		logger.Warn().Str("dir", cfg.MigrationsDir).Msg("migrations directory missing, skipping")
	}

	jobRepo := repo.NewJobRepository(pool)
	artifactRepo := repo.NewArtifactRepository(pool)
	usageRepo := repo.NewModelUsageRepository(pool)
	tokenRepo := repo.NewTokenRepository(pool)

	fileStore, err := storage.NewFileStore(resolveStoragePath(cfg.StoragePath))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	comfyClient, err := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.ComfyBaseURL,
		Logger:         &logger,
		RequestTimeout: cfg.ComfySubmitTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure queue backend client")
	}

	serverlessKey := strings.TrimSpace(cfg.ServerlessAPIKey)
	if serverlessKey == "" {
		if stored, err := tokenRepo.Token(ctx, serverlessProvider); err != nil {
			logger.Warn().Err(err).Msg("failed to load serverless api key from store")
		} else {
			serverlessKey = stored
		}
	}
	runpodClient, err := runpod.NewClient(runpod.Options{
		APIKey:     serverlessKey,
		BaseURL:    cfg.ServerlessBaseURL,
		EndpointID: cfg.ServerlessEndpointID,
		Logger:     &logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure serverless client")
	}
	if !runpodClient.HasCredentials() {
		logger.Warn().Msg("serverless credentials missing, serverless submissions will fail at dispatch")
	}

	publisher := newPublisher(cfg, logger)
	defer func() { _ = publisher.Close() }()

	service := jobs.NewService(jobs.ServiceOptions{
		Jobs:       jobRepo,
		Comfy:      comfyClient,
		Serverless: runpodClient,
		Usage:      usageRepo,
		Events:     publisher,
		Config:     cfg,
		Logger:     logger,
	})
	finalizer := jobs.NewFinalizer(jobRepo, artifactRepo, fileStore, comfyClient, publisher, logger)

	app := &handlers.App{
		Jobs:      service,
		JobRepo:   jobRepo,
		Artifacts: artifactRepo,
		Finalizer: finalizer,
		Files:     fileStore,
		Logger:    logger,
	}

	router := httpapi.NewRouter(app, httpapi.RouterOptions{
		JWTSecret:     cfg.JWTSecret,
		DefaultLocale: cfg.DefaultLocale,
		Country:       countryLookup(cfg, logger),
		RateLimit:     cfg.RateLimitPerMin,
		CORSOrigins:   cfg.CORSOrigins,
	})
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}

func newPublisher(cfg *infra.Config, logger infra.Logger) events.Publisher {
	if strings.TrimSpace(cfg.AMQPURL) == "" {
		return events.NoopPublisher{}
	}
	publisher, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.JobEventsExchange, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("event broker unavailable, job events disabled")
		return events.NoopPublisher{}
	}
	return publisher
}

func countryLookup(cfg *infra.Config, logger infra.Logger) middleware.CountryLookup {
	if strings.TrimSpace(cfg.GeoIPDBPath) == "" {
		return nil
	}
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip database unavailable, country detection disabled")
		return nil
	}
	return resolver.CountryCode
}

func resolveStoragePath(path string) string {
	if path == "" {
		path = "./storage"
	}
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	return path
}
