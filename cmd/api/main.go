package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/propertyreel/server/internal/adapter/repo"
	"github.com/propertyreel/server/internal/domain"
	"github.com/propertyreel/server/internal/http/handlers"
	httpapi "github.com/propertyreel/server/internal/http/httpapi"
	"github.com/propertyreel/server/internal/infra"
	"github.com/propertyreel/server/internal/limiter"
	"github.com/propertyreel/server/internal/orchestrator"
	"github.com/propertyreel/server/internal/providers/inference"
	"github.com/propertyreel/server/internal/stitch"
	"github.com/propertyreel/server/internal/storage"
)

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

	jobs := repo.NewJobRepository(pool)
	items := repo.NewJobItemRepository(pool)
	credits := repo.NewCreditLedger(pool)

	store, err := newObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure storage")
	}

	inferenceClient, err := inference.NewClient(inference.Options{
		APIKey:  cfg.InferenceAPIKey,
		BaseURL: cfg.InferenceBaseURL,
		Logger:  &logger,
		Describe: inference.PollPolicy{
			Interval:    cfg.DescribePollInterval,
			MaxAttempts: cfg.DescribeMaxAttempts,
		},
		Animate: inference.PollPolicy{
			Interval:    cfg.AnimatePollInterval,
			MaxAttempts: cfg.AnimateMaxAttempts,
		},
		HTTPClient: &http.Client{Timeout: 60 * time.Second},
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure inference client")
	}
	if !inferenceClient.HasCredentials() {
		logger.Warn().Msg("inference api key missing, stage triggers will fail")
	}

	stitcher := stitch.New(cfg.FFmpegBin, store, logger)

	orch := orchestrator.New(orchestrator.Options{
		Jobs:         jobs,
		Items:        items,
		Credits:      credits,
		Store:        store,
		Inference:    inferenceClient,
		Stitcher:     stitcher,
		Logger:       logger,
		PricePerItem: cfg.PricePerItem,
		MaxBatchSize: cfg.MaxBatchSize,
	})
	reporter := orchestrator.NewStatusReporter(jobs, items)

	app := handlers.NewApp(orch, reporter, jobs, credits, logger)
	router := httpapi.NewRouter(app, cfg, logger, newLimiter(cfg))

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

func newObjectStore(ctx context.Context, cfg *infra.Config) (domain.ObjectStore, error) {
	if cfg.StorageDriver == "s3" {
		return storage.NewS3Store(ctx, storage.S3Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
	}
	storagePath := cfg.StoragePath
	if !filepath.IsAbs(storagePath) {
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
	}
	return storage.NewFileStore(storagePath, cfg.StorageBaseURL)
}

func newLimiter(cfg *infra.Config) limiter.Limiter {
	if cfg.RateLimitBackend == "redis" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return limiter.NewRedis(client, cfg.RateLimitPerMin, time.Minute)
	}
	return limiter.NewMemory(cfg.RateLimitPerMin, time.Minute)
}
