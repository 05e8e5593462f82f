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

	"github.com/gin-gonic/gin"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/auth"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/cache"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/catalog"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/config"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/database"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/email"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/entitlement"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/fulfillment"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/generation"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/imageprep"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/logging"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/metrics"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/middleware"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/payment"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/queue"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/storage"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/tracing"
	"github.com/therealutkarshpriyadarshi/stickerforge/internal/webhook"
)

const serviceName = "stickerforge-api"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "stickerforge-api: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		return config.Load(configPath)
	}
	return config.LoadFromEnv()
}

func run() error {
	cfg, err := loadConfig()
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

	tracingService := cfg.Tracing.ServiceName
	if tracingService == "" {
		tracingService = serviceName
	}
	_, tracerCloser, err := tracing.InitTracer(cfg.Tracing.Enabled, tracingService, cfg.Tracing.Endpoint)
	if err != nil {
		return err
	}
	defer tracerCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	users := database.NewUserRepository(db)
	tokens := database.NewTokenRepository(db)
	sessions := database.NewSessionRepository(db)
	subscriptions := database.NewSubscriptionRepository(db)
	generations := database.NewGenerationRepository(db)

	probes := []metrics.Probe{{Name: "database", Check: db.Health}}

	// Variant cache
	var variantCache cache.VariantCache = cache.NewMemoryCache()
	if cfg.Redis.Host != "" {
		redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, using in-process variant cache")
		} else {
			defer redisCache.Close()
			variantCache = redisCache
			probes = append(probes, metrics.Probe{Name: "redis", Check: redisCache.Ping})
		}
	}

	// Fallback file host
	var fileHost generation.FileHost
	if cfg.FileHost.Kind == "minio" {
		stor, err := storage.New(cfg.Storage, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize storage: %w", err)
		}
		fileHost = stor
	} else {
		fileHost = generation.NewTmpFilesHost(cfg.FileHost.UploadURL, cfg.FileHost.Timeout, logger)
	}

	// Fulfillment failure queue
	var failures queue.FailurePublisher = queue.NewLogPublisher(logger)
	var failureQueue FailureQueue
	if cfg.Queue.Host != "" {
		q, err := queue.New(cfg.Queue, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to queue: %w", err)
		}
		defer q.Close()
		failures = q
		failureQueue = q
		probes = append(probes, metrics.Probe{Name: "queue", Check: func(ctx context.Context) error {
			_, err := q.Depth()
			return err
		}})
	}

	// Email
	sender := email.NewSender(cfg.Email.APIKey, cfg.Email.From, cfg.Email.Timeout, logger)
	notifier := email.NewNotifier(sender, cfg.Email.OperatorEmail, logger)

	// Auth
	if cfg.Auth.CookieSecret == "" {
		return errors.New("auth.cookiesecret must be set")
	}
	codec, err := auth.NewCookieCodec(cfg.Auth.CookieSecret)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(auth.Config{
		BaseURL:    cfg.Auth.BaseURL,
		TokenTTL:   cfg.Auth.TokenTTL,
		SessionTTL: cfg.Auth.SessionTTL,
	}, users, tokens, sessions, notifier, codec, logger)

	gate := entitlement.NewGate(subscriptions, generations, cfg.Generation.FreeDailyLimit)

	// Generation
	provider := generation.NewHTTPProvider(generation.ProviderConfig{
		BaseURL:  cfg.Generation.BaseURL,
		APIToken: cfg.Generation.APIToken,
		Model:    cfg.Generation.Model,
		Timeout:  cfg.Generation.RequestTimeout,
	}, logger)
	orchestrator := generation.NewOrchestrator(provider, fileHost, generation.Options{
		Prep: imageprep.Options{
			MaxDimension: cfg.Generation.MaxDimension,
			PadFraction:  cfg.Generation.PadFraction,
		},
		Quality:      cfg.Generation.Quality,
		OutputFormat: cfg.Generation.OutputFormat,
	}, logger)
	recorder := generation.NewRecorder(generations, logger)

	// Catalog and fulfillment
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
	}, resolver, failures, logger)

	// Payments
	payments := payment.NewClient(payment.Config{
		SecretKey:          cfg.Payment.SecretKey,
		WebhookSecret:      cfg.Payment.WebhookSecret,
		ProPriceID:         cfg.Payment.ProPriceID,
		StickerPriceCents:  cfg.Payment.StickerPriceCents,
		StickerProductName: cfg.Payment.StickerProductName,
		Currency:           cfg.Payment.Currency,
		SuccessURL:         cfg.Payment.SuccessURL,
		CancelURL:          cfg.Payment.CancelURL,
		AllowedCountries:   cfg.Payment.AllowedCountries,
	}, logger)
	events := webhook.NewRouter(users, subscriptions, submitter, notifier, logger)

	// Metrics exporter
	metricsServer := metrics.NewServer(cfg.Metrics.Port, probes...)
	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	go rateLimiter.Cleanup(ctx, 10*time.Minute)

	api := &API{
		generator:    orchestrator,
		recorder:     recorder,
		entitlements: gate,
		sessions:     authenticator,
		payments:     payments,
		events:       events,
		catalog:      resolver,
		failures:     failureQueue,
		resubmitter:  submitter,
		health:       db,
		logger:       logger,
		cookie: CookieConfig{
			Name:   cfg.Auth.CookieName,
			Secure: cfg.Auth.CookieSecure,
		},
		baseURL:        cfg.Auth.BaseURL,
		maxUploadBytes: cfg.Generation.MaxUploadBytes,
		adminKey:       cfg.Server.AdminKey,
		rateLimiter:    rateLimiter,
	}

	gin.SetMode(gin.ReleaseMode)
	router := setupRouter(api)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("metrics server shutdown")
	}

	logger.Info("server stopped")
	return nil
}
