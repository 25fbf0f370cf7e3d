// Package pipeline orchestrates one document run: cache lookup, extraction on the
// local or vision path, classification, validation, and schema mapping.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/domain/schema"
	"github.com/kailas-cloud/docextract/internal/metrics"
	"github.com/kailas-cloud/docextract/internal/repository/errlog"
	"github.com/kailas-cloud/docextract/internal/repository/resultcache"
	"github.com/kailas-cloud/docextract/internal/textlayer"
	"github.com/kailas-cloud/docextract/internal/usecase/classify"
	"github.com/kailas-cloud/docextract/internal/usecase/localextract"
	"github.com/kailas-cloud/docextract/internal/usecase/recovery"
	"github.com/kailas-cloud/docextract/internal/usecase/schemamap"
	"github.com/kailas-cloud/docextract/internal/usecase/validate"
)

// Extraction paths.
const (
	PathIntake = "intake"
	PathLocal  = "local"
	PathVision = "vision"
)

// CacheStatus reports how the result cache served a request.
type CacheStatus string

// Cache statuses.
const (
	CacheHit    CacheStatus = "hit"
	CacheMiss   CacheStatus = "miss"
	CacheBypass CacheStatus = "bypass"
)

const (
	// DefaultPutTimeout bounds the cache write after a successful run.
	DefaultPutTimeout = 2 * time.Second
	// DefaultRunTimeout bounds a shared extraction run, independent of any caller.
	DefaultRunTimeout = 2 * time.Minute
)

// Input is one document submission.
type Input struct {
	Data         []byte
	Filename     string
	DeclaredType document.Type
	BypassCache  bool
	// Deadline bounds how long this caller waits; zero means only the caller's context.
	// A shared extraction keeps running while other callers still wait for it.
	Deadline time.Duration
}

// Result is the success output. It is what the cache stores.
type Result struct {
	DocumentType     document.Type               `json:"document_type"`
	Confidence       float64                     `json:"confidence"`
	ExtractedData    candidate.Candidate         `json:"extracted_data"`
	ValidationErrors []candidate.ValidationError `json:"validation_errors"`
	SchemaMapping    schema.Mapping              `json:"schema_mapping"`
	ProcessingTimeMS int64                       `json:"processing_time_ms"`
	ExtractionPath   string                      `json:"extraction_path"`
}

// Output carries the serialized result. Body is byte-identical across cache hits.
type Output struct {
	Body      []byte
	Cache     CacheStatus
	Digest    string
	Coalesced bool
}

// Decode parses the body.
func (o Output) Decode() (Result, error) {
	var r Result
	if err := json.Unmarshal(o.Body, &r); err != nil {
		return Result{}, fmt.Errorf("decode result: %w", err)
	}
	return r, nil
}

// Service runs documents through the pipeline. Safe for concurrent use.
type Service struct {
	cache      ResultCache
	vision     VisionExtractor
	classifier *classify.Classifier
	local      *localextract.Extractor
	validator  *validate.Validator
	mapper     *schemamap.Mapper

	errors   ErrorClassifier
	recovery RecoveryDispatcher
	errlog   ErrorLog

	minTextChars int
	putTimeout   time.Duration
	runTimeout   time.Duration
	now          func() time.Time
	logger       *zap.Logger

	inflight  singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*flight
}

// New creates a pipeline. A nil vision extractor fails image documents with
// INITIALIZATION_ERROR.
func New(cache ResultCache, vision VisionExtractor, classifier *classify.Classifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cache:        cache,
		vision:       vision,
		classifier:   classifier,
		local:        localextract.New(),
		validator:    validate.New(),
		mapper:       schemamap.New(),
		errors:       recovery.NewClassifier(),
		recovery:     recovery.NewDispatcher(logger),
		errlog:       errlog.New(errlog.Config{}, nil, logger),
		minTextChars: textlayer.DefaultMinChars,
		putTimeout:   DefaultPutTimeout,
		runTimeout:   DefaultRunTimeout,
		flights:      make(map[string]*flight),
		now:          time.Now,
		logger:       logger,
	}
}

// WithLocalExtractor replaces the pattern extractor.
func (s *Service) WithLocalExtractor(e *localextract.Extractor) *Service {
	s.local = e
	return s
}

// WithValidator replaces the validator.
func (s *Service) WithValidator(v *validate.Validator) *Service {
	s.validator = v
	return s
}

// WithMapper replaces the schema mapper.
func (s *Service) WithMapper(m *schemamap.Mapper) *Service {
	s.mapper = m
	return s
}

// WithFailureHandling replaces the error classifier, recovery dispatcher and error log.
// Nil arguments keep the current component.
func (s *Service) WithFailureHandling(c ErrorClassifier, d RecoveryDispatcher, l ErrorLog) *Service {
	if c != nil {
		s.errors = c
	}
	if d != nil {
		s.recovery = d
	}
	if l != nil {
		s.errlog = l
	}
	return s
}

// WithMinTextChars sets the non-space rune count of a reliable text layer.
func (s *Service) WithMinTextChars(n int) *Service {
	if n > 0 {
		s.minTextChars = n
	}
	return s
}

// WithRunTimeout bounds one extraction run that concurrent callers share.
func (s *Service) WithRunTimeout(d time.Duration) *Service {
	if d > 0 {
		s.runTimeout = d
	}
	return s
}

// WithClock sets the clock used for processing time.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Process runs one document. Identical bytes are served from the cache unless
// BypassCache is set; concurrent runs for the same bytes share one extraction.
// Every error returned is a *failure.Failure.
func (s *Service) Process(ctx context.Context, in Input) (Output, error) {
	start := s.now()

	raw, err := document.NewRaw(in.Data, in.Filename)
	if err != nil {
		return Output{}, s.fail(ctx, err, in, "", PathIntake, document.StateReceived)
	}
	digest := resultcache.Digest(raw.Bytes())

	status := CacheMiss
	if in.BypassCache {
		status = CacheBypass
		if err := s.cache.Evict(ctx, digest); err != nil {
			s.logger.Warn("Cache evict failed", zap.String("digest", short(digest)), zap.Error(err))
		}
	} else if body, err := s.cache.Get(ctx, digest); err == nil {
		return Output{Body: body, Cache: CacheHit, Digest: digest}, nil
	}

	if in.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, in.Deadline)
		defer cancel()
	}

	fl, ch := s.join(ctx, digest, func(ctx context.Context) (any, error) {
		return s.run(ctx, raw, digest, in, start)
	})

	select {
	case res := <-ch:
		s.leave(digest, fl)
		if res.Shared {
			metrics.CoalescedTotal.Inc()
		}
		if res.Err != nil {
			return Output{Digest: digest, Cache: status, Coalesced: res.Shared}, res.Err
		}
		return Output{Body: res.Val.([]byte), Cache: status, Digest: digest, Coalesced: res.Shared}, nil
	case <-ctx.Done():
		s.leave(digest, fl)
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", domain.ErrTimeout, err)
		}
		return Output{Digest: digest, Cache: status},
			s.fail(ctx, fmt.Errorf("waiting for extraction: %w", err), in, digest, PathIntake, document.StateExtracting)
	}
}

// flight is the shared run for one digest. Its context belongs to no caller and is
// canceled when the last waiting caller leaves.
type flight struct {
	base    context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers the caller on the digest's flight and subscribes it to the run.
func (s *Service) join(
	ctx context.Context, digest string, fn func(context.Context) (any, error),
) (*flight, <-chan singleflight.Result) {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()

	fl, ok := s.flights[digest]
	if !ok {
		base, cancel := context.WithCancel(context.WithoutCancel(ctx))
		fl = &flight{base: base, cancel: cancel}
		s.flights[digest] = fl
	}
	fl.waiters++
	ch := s.inflight.DoChan(digest, func() (any, error) {
		ctx, cancel := context.WithTimeout(fl.base, s.runTimeout)
		defer cancel()
		return fn(ctx)
	})
	return fl, ch
}

func (s *Service) leave(digest string, fl *flight) {
	s.flightsMu.Lock()
	defer s.flightsMu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if s.flights[digest] == fl {
		delete(s.flights, digest)
		// A run canceled here must not be joined by the next caller.
		s.inflight.Forget(digest)
	}
	fl.cancel()
}

// Reprocess runs a document with the cache bypassed.
func (s *Service) Reprocess(ctx context.Context, in Input) (Output, error) {
	in.BypassCache = true
	return s.Process(ctx, in)
}

func (s *Service) run(ctx context.Context, raw document.Raw, digest string, in Input, start time.Time) ([]byte, error) {
	lc := document.NewLifecycle()
	advance := func(to document.State) {
		if err := lc.Advance(to); err != nil {
			s.logger.Error("Invalid pipeline transition", zap.String("digest", short(digest)), zap.Error(err))
			return
		}
		s.logger.Debug("Document stage", zap.String("digest", short(digest)), zap.String("state", string(to)))
	}

	cand, path, err := s.extract(ctx, raw, in.DeclaredType, advance)
	if err != nil {
		lc.Fail()
		return nil, s.fail(ctx, err, in, digest, path, lc.Current())
	}
	advance(document.StateExtracted)

	advance(document.StateValidating)
	cand, verrs := s.validator.Normalize(cand)
	if path == PathLocal {
		cand.Confidence = candidate.Score(cand)
	}
	advance(document.StateValidated)

	mapping, err := s.mapper.Map(cand, verrs)
	if err != nil {
		lc.Fail()
		return nil, s.fail(ctx, err, in, digest, path, lc.Current())
	}

	if verrs == nil {
		verrs = []candidate.ValidationError{}
	}
	elapsed := s.now().Sub(start)
	body, err := json.Marshal(Result{
		DocumentType:     cand.DocumentType,
		Confidence:       cand.Confidence,
		ExtractedData:    cand,
		ValidationErrors: verrs,
		SchemaMapping:    mapping,
		ProcessingTimeMS: elapsed.Milliseconds(),
		ExtractionPath:   path,
	})
	if err != nil {
		lc.Fail()
		return nil, s.fail(ctx, fmt.Errorf("encode result: %w", err), in, digest, path, lc.Current())
	}
	advance(document.StateMapped)
	body = s.store(ctx, digest, body)

	for _, ve := range verrs {
		metrics.ValidationErrorsTotal.WithLabelValues(fieldLabel(ve.Field)).Inc()
	}
	metrics.DocumentsTotal.WithLabelValues(path, "ok").Inc()
	metrics.DocumentDuration.WithLabelValues(path).Observe(elapsed.Seconds())

	s.logger.Info("Document processed",
		zap.String("digest", short(digest)),
		zap.String("path", path),
		zap.String("document_type", string(cand.DocumentType)),
		zap.Float64("confidence", cand.Confidence),
		zap.Int("validation_errors", len(verrs)),
		zap.Duration("duration", elapsed),
	)
	return body, nil
}

// extract picks the path: a reliable text layer (or any plain text) goes local, images
// go to the vision model, and a PDF without text is unsupported.
func (s *Service) extract(
	ctx context.Context, raw document.Raw, declared document.Type, advance func(document.State),
) (candidate.Candidate, string, error) {
	layer, err := textlayer.Read(raw)
	if err != nil {
		return candidate.Candidate{}, PathLocal, fmt.Errorf("read text layer: %w", err)
	}

	switch {
	case raw.Format() == document.FormatText || layer.Reliable(s.minTextChars):
		pre, _ := s.classifier.ClassifyText(layer.Text, declared)
		advance(document.StateClassified)
		advance(document.StateExtracting)
		cand := s.local.Extract(layer.Text, pre.Type)
		s.classifier.ApplyText(&cand, layer.Text, declared)
		return cand, PathLocal, nil

	case raw.Format() == document.FormatPDF:
		return candidate.Candidate{}, PathLocal,
			fmt.Errorf("%w: %s has no text layer, convert it to an image", domain.ErrUnsupportedFormat, raw.Filename())

	case s.vision == nil:
		return candidate.Candidate{}, PathVision, fmt.Errorf("vision model: %w", domain.ErrNotConfigured)
	}

	advance(document.StateExtracting)
	ext, err := s.vision.Extract(ctx, raw)
	if err != nil {
		return candidate.Candidate{}, PathVision, err
	}
	cand := ext.Candidate
	s.classifier.Apply(&cand, declared)
	return cand, PathVision, nil
}

// store writes body once. When another run already wrote the digest, its bytes win.
func (s *Service) store(ctx context.Context, digest string, body []byte) []byte {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.putTimeout)
	defer cancel()

	written, err := s.cache.PutOnce(ctx, digest, body)
	if err != nil || written {
		return body
	}
	if existing, err := s.cache.Get(ctx, digest); err == nil {
		return existing
	}
	return body
}

func (s *Service) fail(
	ctx context.Context, err error, in Input, digest, path string, state document.State,
) *failure.Failure {
	f := s.errors.Classify(err)

	var job recovery.Job
	if digest != "" {
		retry := in
		retry.BypassCache = false
		job = recovery.Job{Digest: digest, Run: func(ctx context.Context) error {
			_, err := s.Process(ctx, retry)
			return err
		}}
	}
	outcome := s.recovery.Dispatch(ctx, f, job)

	s.errlog.Append(f, map[string]string{
		"filename": in.Filename,
		"digest":   short(digest),
		"path":     path,
		"state":    string(state),
	})
	metrics.DocumentsTotal.WithLabelValues(path, "failed").Inc()

	s.logger.Warn("Document failed",
		zap.String("digest", short(digest)),
		zap.String("path", path),
		zap.String("code", string(f.Class.Code)),
		zap.String("severity", string(f.Class.Severity)),
		zap.String("correlation_id", f.CorrelationID),
		zap.String("recovery_action", string(outcome.Action)),
		zap.Bool("recovery_executed", outcome.Executed),
		zap.Error(errors.Unwrap(f)),
	)
	return f
}

// fieldLabel folds indexed line item fields into one metric label.
func fieldLabel(field string) string {
	if strings.HasPrefix(field, "line_items[") {
		return "line_items"
	}
	return field
}

func short(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}
