package docextract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/db"
	"github.com/kailas-cloud/docextract/internal/db/memory"
	dbRedis "github.com/kailas-cloud/docextract/internal/db/redis"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/domain/pattern"
	"github.com/kailas-cloud/docextract/internal/repository/errlog"
	"github.com/kailas-cloud/docextract/internal/repository/resultcache"
	"github.com/kailas-cloud/docextract/internal/resilience"
	openaiVision "github.com/kailas-cloud/docextract/internal/transport/openai"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
	"github.com/kailas-cloud/docextract/internal/usecase/classify"
	healthuc "github.com/kailas-cloud/docextract/internal/usecase/health"
	"github.com/kailas-cloud/docextract/internal/usecase/localextract"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
	"github.com/kailas-cloud/docextract/internal/usecase/recovery"
	"github.com/kailas-cloud/docextract/internal/usecase/schemamap"
	"github.com/kailas-cloud/docextract/internal/usecase/validate"
)

const (
	defaultReadinessTimeout = 10 * time.Second
	defaultCacheTTL         = 7 * 24 * time.Hour
	cachePrefix             = "docextract:result:"
)

// Internal interfaces for substitution in tests.
type pipelineUseCase interface {
	Process(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
	Reprocess(ctx context.Context, in pipeline.Input) (pipeline.Output, error)
}

type errorLogReader interface {
	Recent(limit int) []errlog.Entry
	Close(ctx context.Context) error
}

// Client is the docextract SDK entry point. Safe for concurrent use.
type Client struct {
	store     db.Store
	pipeline  pipelineUseCase
	batch     batchUseCase
	errors    errorLogReader
	healthSvc healthUseCase
	obs       *observer
}

// New creates a Client. Without WithRedis results are cached in process memory.
// The provided context is used for the initial readiness check.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{driver: "memory"}
	for _, o := range opts {
		o.apply(cfg)
	}
	if cfg.defaultType != "" && !document.Type(cfg.defaultType).IsValid() {
		return nil, fmt.Errorf("docextract: unknown default type %q", cfg.defaultType)
	}

	store, err := createStore(cfg)
	if err != nil {
		return nil, err
	}

	if err := store.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
		store.Close()
		return nil, fmt.Errorf("docextract: store not ready: %w", err)
	}

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		store.Close()
		return nil, err
	}
	return wireClient(store, cfg, obs), nil
}

func createStore(cfg *clientConfig) (db.Store, error) {
	switch cfg.driver {
	case "memory":
		return memory.New(memory.WithMaxEntries(cfg.maxEntries)), nil
	case "redis":
		if len(cfg.addrs) == 0 || cfg.addrs[0] == "" {
			return nil, errors.New("docextract: redis address required")
		}
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("docextract: create redis store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("docextract: unknown driver %q", cfg.driver)
	}
}

func wireClient(store db.Store, cfg *clientConfig, obs *observer) *Client {
	logger := zap.NewNop()

	entities := make([]classify.Entity, len(cfg.entities))
	for i, e := range cfg.entities {
		entities[i] = classify.Entity{Name: e.name, Aliases: e.aliases, AddressMarkers: e.addressMarkers}
	}
	registry := classify.NewRegistry(entities...)

	// Pass nil interfaces (not typed nil pointers) when vision is off.
	var extractor pipeline.VisionExtractor
	var checker healthuc.VisionChecker
	switch {
	case cfg.vision != nil:
		extractor = &visionAdapter{inner: cfg.vision}
	case cfg.openAIKey != "":
		client := openaiVision.NewVisionClient(&openaiVision.Config{
			APIKey:     cfg.openAIKey,
			BaseURL:    cfg.openAIBase,
			Model:      cfg.openAIModel,
			Aliases:    registry.Aliases(),
			Resilience: resilience.DefaultConfig(),
			Logger:     logger,
		})
		extractor, checker = client, client
	}

	locale := pattern.LocaleCH
	if cfg.euLocale {
		locale = pattern.LocaleEU
	}
	validatorOpts := []validate.Option{validate.WithLocale(locale)}
	if cfg.tolerance != nil {
		validatorOpts = append(validatorOpts, validate.WithTolerance(*cfg.tolerance))
	}
	collections := make(map[document.Type]string, len(cfg.collections))
	for t, name := range cfg.collections {
		collections[document.Type(t)] = name
	}

	ttl := cfg.cacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	cache := resultcache.New(store, cachePrefix, ttl, nil, logger)

	errLog := errlog.New(errlog.Config{Capacity: cfg.errorLog}, nil, logger)
	dispatcher := recovery.NewDispatcher(logger)
	if shrinker, ok := store.(recovery.Shrinker); ok {
		dispatcher.Register(failure.ActionFreeResources, recovery.FreeResources(shrinker, 0.5))
	}

	svc := pipeline.New(cache, extractor, classify.New(registry, document.Type(cfg.defaultType), logger), logger).
		WithLocalExtractor(localextract.New(
			localextract.WithLocale(locale),
			localextract.WithDefaultCurrency(cfg.currency),
		)).
		WithValidator(validate.New(validatorOpts...)).
		WithMapper(schemamap.New(
			schemamap.WithCollectionNames(collections),
			schemamap.WithReviewFlags(cfg.review),
		)).
		WithFailureHandling(recovery.NewClassifier(), dispatcher, errLog)
	if cfg.minChars > 0 {
		svc = svc.WithMinTextChars(cfg.minChars)
	}

	return &Client{
		store:     store,
		pipeline:  svc,
		batch:     batch.New(svc, logger),
		errors:    errLog,
		healthSvc: healthuc.New(store, checker),
		obs:       obs,
	}
}

// ExtractOption tunes a single Extract or Reprocess call.
type ExtractOption func(*pipeline.Input)

// AsType declares the document type. Registered entities still override invoice direction.
func AsType(t DocumentType) ExtractOption {
	return func(in *pipeline.Input) { in.DeclaredType = document.Type(t) }
}

// WithDeadline bounds the extraction.
func WithDeadline(d time.Duration) ExtractOption {
	return func(in *pipeline.Input) { in.Deadline = d }
}

// Extract processes one document. Identical bytes return the cached result.
// Errors are classified failures; inspect them with AsFailure.
func (c *Client) Extract(ctx context.Context, data []byte, filename string, opts ...ExtractOption) (Result, error) {
	return c.run(ctx, "extract", c.pipeline.Process, data, filename, opts)
}

// Reprocess discards the cached result for data and processes it again.
func (c *Client) Reprocess(ctx context.Context, data []byte, filename string, opts ...ExtractOption) (Result, error) {
	return c.run(ctx, "reprocess", c.pipeline.Reprocess, data, filename, opts)
}

func (c *Client) run(
	ctx context.Context,
	op string,
	fn func(context.Context, pipeline.Input) (pipeline.Output, error),
	data []byte,
	filename string,
	opts []ExtractOption,
) (res Result, err error) {
	start := time.Now()
	defer func() { c.obs.observe(op, start, err) }()

	in := pipeline.Input{Data: data, Filename: filename}
	for _, o := range opts {
		o(&in)
	}
	out, err := fn(ctx, in)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", op, err)
	}
	if res, err = resultFromOutput(out); err != nil {
		return Result{}, err
	}
	c.obs.document(res)
	return res, nil
}

// ErrorEntry is one logged failure.
type ErrorEntry struct {
	CorrelationID   string
	Timestamp       time.Time
	Code            string
	Severity        string
	RecoveryAction  string
	Message         string
	RecoveryMessage string
	Context         map[string]string
}

// Errors returns up to limit recent failures, newest first.
func (c *Client) Errors(limit int) []ErrorEntry {
	entries := c.errors.Recent(limit)
	out := make([]ErrorEntry, len(entries))
	for i, e := range entries {
		out[i] = ErrorEntry{
			CorrelationID:   e.CorrelationID,
			Timestamp:       e.Timestamp,
			Code:            string(e.Code),
			Severity:        string(e.Severity),
			RecoveryAction:  string(e.Action),
			Message:         e.Message,
			RecoveryMessage: e.RecoveryMessage,
			Context:         e.Context,
		}
	}
	return out
}

// Ping checks store connectivity.
func (c *Client) Ping(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { c.obs.observe("ping", start, err) }()

	if err = c.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close releases all resources.
func (c *Client) Close() {
	if c.errors != nil {
		_ = c.errors.Close(context.Background())
	}
	if c.store != nil {
		c.store.Close()
	}
}
