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

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/config"
	"github.com/kailas-cloud/docextract/internal/db"
	"github.com/kailas-cloud/docextract/internal/db/memory"
	dbRedis "github.com/kailas-cloud/docextract/internal/db/redis"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/domain/pattern"
	logpkg "github.com/kailas-cloud/docextract/internal/logger"
	"github.com/kailas-cloud/docextract/internal/metrics"
	budgetrepo "github.com/kailas-cloud/docextract/internal/repository/budget"
	"github.com/kailas-cloud/docextract/internal/repository/errlog"
	"github.com/kailas-cloud/docextract/internal/repository/resultcache"
	"github.com/kailas-cloud/docextract/internal/resilience"
	chiTransport "github.com/kailas-cloud/docextract/internal/transport/chi"
	openaiVision "github.com/kailas-cloud/docextract/internal/transport/openai"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
	"github.com/kailas-cloud/docextract/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/docextract/internal/usecase/health"
	"github.com/kailas-cloud/docextract/internal/usecase/localextract"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
	"github.com/kailas-cloud/docextract/internal/usecase/recovery"
	"github.com/kailas-cloud/docextract/internal/usecase/schemamap"
	"github.com/kailas-cloud/docextract/internal/usecase/usage"
	"github.com/kailas-cloud/docextract/internal/usecase/validate"
	"github.com/kailas-cloud/docextract/internal/usecase/vision"
	"github.com/kailas-cloud/docextract/internal/version"
)

// freeFraction is the share of cached entries dropped by the free-resources action.
const freeFraction = 0.5

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting docextract API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("cache_driver", cfg.Cache.Driver),
		zap.Bool("vision_enabled", cfg.Vision.APIKey != ""),
	)

	ctx := context.Background()

	// Local store always exists: it backs the memory cache driver and the budget counters
	// when no shared store is configured.
	local := memory.New(memory.WithMaxEntries(cfg.Cache.MaxEntries))

	var remote *dbRedis.Store
	if cfg.Cache.Driver == config.DriverRedis || cfg.Errors.Ship.Enabled {
		remote, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer remote.Close()

		if err := remote.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database", zap.Strings("addrs", cfg.Database.Addrs))
	}

	var store db.Store = local
	if cfg.Cache.Driver == config.DriverRedis {
		store = remote
	}

	// Register pipeline metrics explicitly (no init())
	metrics.RegisterPipelineMetrics()

	registry := classify.NewRegistry(entitiesFromConfig(cfg.Classifier.Entities)...)
	classifier := classify.New(registry, document.Type(cfg.Classifier.DefaultType), logger)

	vs := buildVision(ctx, cfg.Vision, registry.Aliases(), store, logger)

	// Failure handling
	errLog := errlog.New(errlog.Config{
		Capacity:    cfg.Errors.LogCapacity,
		Ship:        cfg.Errors.Ship.Enabled,
		ShipKey:     cfg.Errors.Ship.Key,
		ShipMaxLen:  cfg.Errors.Ship.MaxLen,
		ShipTimeout: time.Duration(cfg.Errors.Ship.TimeoutMS) * time.Millisecond,
	}, shipperFor(cfg.Errors.Ship.Enabled, remote), logger)

	dispatcher := recovery.NewDispatcher(logger)
	if cfg.Errors.AutoRetry.Enabled {
		scheduler := recovery.NewRetryScheduler(
			time.Duration(cfg.Errors.AutoRetry.DelayMS)*time.Millisecond,
			cfg.Errors.AutoRetry.MaxAttempts, logger,
		)
		defer scheduler.Close()
		dispatcher.Register(failure.ActionRetryWithBackoff, scheduler.Handle)
	}
	dispatcher.Register(failure.ActionFreeResources, recovery.FreeResources(local, freeFraction))

	// Pipeline
	locale := pattern.LocaleCH
	if cfg.Extraction.Locale == "eu" {
		locale = pattern.LocaleEU
	}
	tolerance, err := cfg.Validation.ToleranceDecimal()
	if err != nil {
		logger.Fatal("Invalid validation tolerance", zap.Error(err))
	}

	cache := resultcache.New(store, cfg.Cache.KeyPrefix+"result:",
		time.Duration(cfg.Cache.TTLSec)*time.Second, metrics.CacheTotal, logger)

	pipelineSvc := pipeline.New(cache, vs.extractor, classifier, logger).
		WithLocalExtractor(localextract.New(
			localextract.WithLocale(locale),
			localextract.WithDefaultCurrency(cfg.Extraction.DefaultCurrency),
		)).
		WithValidator(validate.New(validate.WithTolerance(tolerance), validate.WithLocale(locale))).
		WithMapper(schemamap.New(
			schemamap.WithCollectionNames(collectionNames(cfg.Mapping.Collections)),
			schemamap.WithReviewFlags(cfg.Mapping.ReviewFlags),
		)).
		WithFailureHandling(recovery.NewClassifier(), dispatcher, errLog).
		WithMinTextChars(cfg.Extraction.MinTextChars).
		WithRunTimeout(time.Duration(cfg.Vision.TimeoutSec*(cfg.Vision.MaxRetries+1)) * time.Second)

	// Health service; pass a nil interface (not a typed nil pointer) when vision is off.
	var visionChecker healthuc.VisionChecker
	if vs.client != nil {
		visionChecker = vs.client
	}
	healthSvc := healthuc.New(store, visionChecker)

	var budgetReader usage.BudgetReader
	if vs.budget != nil {
		budgetReader = vs.budget
	}
	usageSvc := usage.New(budgetReader, cfg.Vision.Model)
	batchSvc := batch.New(pipelineSvc, logger).WithConcurrency(cfg.Batch.Concurrency)

	server := chiTransport.NewServer(pipelineSvc, errLog, healthSvc, cfg.HTTP.MaxUploadMB, logger).
		WithBatch(batchSvc).
		WithUsage(usageSvc)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      server.Router(cfg.Auth.APIKeys),
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	if err := errLog.Close(shutdownCtx); err != nil {
		logger.Warn("Error log did not drain", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

type visionStack struct {
	client    *openaiVision.VisionClient
	extractor pipeline.VisionExtractor
	budget    *vision.BudgetTracker
}

// buildVision assembles the decorator chain: OpenAI -> Instrumented (budget).
// Every field is nil when no api key is configured.
func buildVision(
	ctx context.Context,
	vc config.VisionConfig,
	aliases []string,
	store db.Store,
	logger *zap.Logger,
) visionStack {
	if vc.APIKey == "" {
		logger.Warn("Vision model not configured; scanned documents will fail with INITIALIZATION_ERROR")
		return visionStack{}
	}

	res := resilience.DefaultConfig()
	res.MaxRetries = max(vc.MaxRetries, 0)
	res.InitialBackoff = time.Duration(vc.DefaultBackoffMS) * time.Millisecond
	res.MaxBackoff = time.Duration(vc.MaxBackoffMS) * time.Millisecond
	res.BreakerEnabled = vc.Breaker.BreakerEnabled()
	res.BreakerMinRequests = vc.Breaker.MinRequests
	res.BreakerFailureRatio = vc.Breaker.FailureRatio
	res.BreakerOpenTimeout = time.Duration(vc.Breaker.OpenTimeoutSec) * time.Second
	res.BreakerHalfOpenMaxCalls = vc.Breaker.HalfOpenMaxCalls

	client := openaiVision.NewVisionClient(&openaiVision.Config{
		APIKey:            vc.APIKey,
		BaseURL:           vc.BaseURL,
		Model:             vc.Model,
		Timeout:           time.Duration(vc.TimeoutSec) * time.Second,
		MaxPayload:        vc.MaxPayloadMB << 20,
		MaxTokens:         vc.MaxTokens,
		Temperature:       vc.Temperature,
		DefaultConfidence: vc.DefaultConfidence,
		RateLimitRPS:      vc.RateLimitRPS,
		Aliases:           aliases,
		Resilience:        res,
		Logger:            logger,
	})

	// Pass nil interface (not typed nil pointer!) if budget is not configured.
	var (
		checker vision.BudgetChecker
		tracker *vision.BudgetTracker
	)
	if vc.Budget.DailyTokenLimit > 0 || vc.Budget.MonthlyTokenLimit > 0 {
		action := vision.BudgetActionWarn
		if vc.Budget.Action == string(vision.BudgetActionReject) {
			action = vision.BudgetActionReject
		}
		tracker = vision.NewBudgetTracker(
			vc.Model, vc.Budget.DailyTokenLimit, vc.Budget.MonthlyTokenLimit, action, logger,
		)
		// Connect persistence store; loads current counters.
		tracker.WithStore(ctx, budgetrepo.New(store, budgetrepo.DefaultGrace))
		checker = tracker
	}

	logger.Info("Vision extractor created",
		zap.String("model", vc.Model),
		zap.Int("aliases", len(aliases)),
		zap.Bool("budget", tracker != nil),
	)
	return visionStack{
		client:    client,
		extractor: vision.NewInstrumentedExtractor(client, vc.Model, checker, logger),
		budget:    tracker,
	}
}

func entitiesFromConfig(in []config.EntityConfig) []classify.Entity {
	out := make([]classify.Entity, len(in))
	for i, e := range in {
		out[i] = classify.Entity{Name: e.Name, Aliases: e.Aliases, AddressMarkers: e.AddressMarkers}
	}
	return out
}

func collectionNames(in map[string]string) map[document.Type]string {
	out := make(map[document.Type]string, len(in))
	for t, name := range in {
		out[document.Type(t)] = name
	}
	return out
}

// shipperFor returns remote as an error log shipper, or a nil interface when shipping is off.
func shipperFor(enabled bool, remote *dbRedis.Store) interface {
	PushCapped(ctx context.Context, key string, value []byte, maxLen int64) error
} {
	if !enabled || remote == nil {
		return nil
	}
	return remote
}
