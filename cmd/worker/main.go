package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/therealutkarshpriyadarshi/stickerforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/catalog"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/config"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/fulfillment"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stickerforge-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	var (
		cfg *config.Config
		err error
	)
	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if cfg.Queue.Host == "" {
		return fmt.Errorf("queue.host must be set to replay fulfillment failures")
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to queue: %w", err)
	}
	defer q.Close()

	var variantCache cache.VariantCache = cache.NewMemoryCache()
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, using in-process variant cache")
		} else {
			defer redisCache.Close()
			variantCache = redisCache
		}
	}

	partner := catalog.NewPartnerClient(catalog.PartnerConfig{
		BaseURL:          cfg.Catalog.BaseURL,
		APIKey:           cfg.Catalog.APIKey,
		PageSize:         cfg.Catalog.PageSize,
		MaxResponseBytes: cfg.Catalog.MaxResponseBytes,
		Timeout:          cfg.Catalog.Timeout,
	}, logger)
	resolver := catalog.NewResolver(catalog.ResolverConfig{
		ProductID:      cfg.Catalog.ProductID,
		DefaultCountry: cfg.Catalog.DefaultCountry,
		CacheTTL:       cfg.Catalog.CacheTTL,
	}, partner, variantCache, logger)
	submitter := fulfillment.NewSubmitter(fulfillment.Config{
		BaseURL:              cfg.Catalog.BaseURL,
		APIKey:               cfg.Catalog.APIKey,
		TestMode:             cfg.Fulfillment.TestMode,
		Quantity:             cfg.Fulfillment.Quantity,
		MaxIdempotencyKeyLen: cfg.Fulfillment.MaxIdempotencyKeyLen,
		Attributes: catalog.Attributes{
			Size:    cfg.Catalog.Size,
			Pack:    cfg.Catalog.Pack,
			Variant: cfg.Catalog.Variant,
		},
		PreferredSKU: cfg.Catalog.PreferredSKU,
		Timeout:      cfg.Fulfillment.Timeout,
	}, resolver, q, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &replayWorker{
		queue:    q,
		resubmit: submitter.Resubmit,
		interval: cfg.Queue.ReplayInterval,
		batch:    cfg.Queue.ReplayBatch,
		logger:   logger,
	}

	logger.WithFields(map[string]interface{}{
		"interval": w.interval.String(),
		"batch":    w.batch,
	}).Info("worker started, replaying parked fulfillment orders")
	w.Run(ctx)

	logger.Info("worker stopped")
	return nil
}
