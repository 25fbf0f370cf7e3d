package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/oapi-codegen/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/logger"
	"github.com/kailas-cloud/docextract/internal/metrics"
	"github.com/kailas-cloud/docextract/internal/usecase/health"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
	"github.com/kailas-cloud/docextract/internal/version"
)

// Response headers.
const (
	HeaderCache         = "X-Cache"
	HeaderDigest        = "X-Document-Digest"
	HeaderCorrelationID = "X-Correlation-ID"
	HeaderVisionTokens  = "X-Vision-Tokens"
	HeaderFilename      = "X-Filename"
)

// Error codes for requests rejected before they reach the pipeline.
const (
	CodeBadRequest   = "bad_request"
	CodeUnauthorized = "unauthorized"
	CodeInternal     = "internal_error"
	CodeTooLarge     = "request_too_large"
)

const (
	defaultErrorsLimit = 50
	maxErrorsLimit     = 500
	multipartField     = "file"
	multipartOverhead  = 1 << 20
)

// ErrorResponse is the body of a request-level error.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExtractParams are the query parameters of the extract and reprocess routes.
type ExtractParams struct {
	DeclaredType *string `json:"declared_type,omitempty"`
	BypassCache  *bool   `json:"bypass_cache,omitempty"`
	DeadlineMS   *int    `json:"deadline_ms,omitempty"`
}

// ErrorsParams are the query parameters of GET /v1/errors.
type ErrorsParams struct {
	Limit *int `json:"limit,omitempty"`
}

type errorsResponse struct {
	Items any    `json:"items"`
	Total uint64 `json:"total"`
}

type healthResponse struct {
	Status  health.Status                 `json:"status"`
	Checks  map[string]health.CheckResult `json:"checks"`
	Service string                        `json:"service"`
	Version string                        `json:"version"`
}

// Server is the HTTP API over the pipeline.
type Server struct {
	pipeline  Pipeline
	errors    ErrorLog
	health    HealthChecker
	batch     BatchExtractor
	usage     UsageReporter
	logger    *zap.Logger
	maxUpload int64
}

// NewServer creates an HTTP API server. maxUploadMB bounds how much of a request body is read;
// the pipeline itself rejects documents above the domain limit.
func NewServer(p Pipeline, errs ErrorLog, h HealthChecker, maxUploadMB int, logger *zap.Logger) *Server {
	if maxUploadMB <= 0 {
		maxUploadMB = document.MaxFileSize >> 20
	}
	return &Server{
		pipeline:  p,
		errors:    errs,
		health:    h,
		logger:    logger,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

// WithBatch enables POST /v1/documents/batch.
func (s *Server) WithBatch(b BatchExtractor) *Server {
	s.batch = b
	return s
}

// WithUsage enables GET /v1/usage.
func (s *Server) WithUsage(u UsageReporter) *Server {
	s.usage = u
	return s
}

// Router builds the chi router with the middleware chain.
func (s *Server) Router(apiKeys []string) http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(apiKeys))
	r.Use(metrics.Middleware())

	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/documents/extract", s.ExtractDocument)
		r.Post("/documents/reprocess", s.ReprocessDocument)
		r.Get("/errors", s.ListErrors)
		r.Get("/errors/taxonomy", s.ListTaxonomy)
		if s.batch != nil {
			r.Post("/documents/batch", s.BatchExtract)
		}
		if s.usage != nil {
			r.Get("/usage", s.GetUsage)
		}
	})
	return r
}

// ExtractDocument handles POST /v1/documents/extract.
func (s *Server) ExtractDocument(w http.ResponseWriter, r *http.Request) {
	s.handleDocument(w, r, s.pipeline.Process)
}

// ReprocessDocument handles POST /v1/documents/reprocess. The cached result is discarded.
func (s *Server) ReprocessDocument(w http.ResponseWriter, r *http.Request) {
	s.handleDocument(w, r, s.pipeline.Reprocess)
}

type runFunc func(ctx context.Context, in pipeline.Input) (pipeline.Output, error)

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request, run runFunc) {
	params, err := bindExtractParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	in, err := s.inputFromRequest(w, r, params)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	ctx, usage := domain.NewContextWithVisionUsage(r.Context())
	out, err := run(ctx, in)
	setVisionHeaders(w, usage)
	if out.Digest != "" {
		w.Header().Set(HeaderDigest, out.Digest)
	}
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}

	w.Header().Set(HeaderCache, string(out.Cache))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out.Body)
}

// ListErrors handles GET /v1/errors.
func (s *Server) ListErrors(w http.ResponseWriter, r *http.Request) {
	var params ErrorsParams
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &params.Limit); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid limit: "+err.Error())
		return
	}
	limit := defaultErrorsLimit
	if params.Limit != nil {
		limit = *params.Limit
	}
	if limit <= 0 || limit > maxErrorsLimit {
		writeError(w, http.StatusBadRequest, CodeBadRequest,
			fmt.Sprintf("limit must be between 1 and %d", maxErrorsLimit))
		return
	}

	writeJSON(w, http.StatusOK, errorsResponse{
		Items: s.errors.Recent(limit),
		Total: s.errors.Total(),
	})
}

type taxonomyItem struct {
	Code            failure.Code     `json:"code"`
	Message         string           `json:"message"`
	Severity        failure.Severity `json:"severity"`
	Action          failure.Action   `json:"recovery_action"`
	RecoveryMessage string           `json:"recovery_message"`
	Automatic       bool             `json:"automatic"`
}

// ListTaxonomy handles GET /v1/errors/taxonomy.
func (s *Server) ListTaxonomy(w http.ResponseWriter, _ *http.Request) {
	classes := failure.Taxonomy()
	items := make([]taxonomyItem, len(classes))
	for i, c := range classes {
		items[i] = taxonomyItem{c.Code, c.MessageTemplate, c.Severity, c.Action, c.RecoveryMessage, c.Automatic}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status == health.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status:  report.Status,
		Checks:  report.Checks,
		Service: version.Service,
		Version: version.Version,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func bindExtractParams(r *http.Request) (ExtractParams, error) {
	var p ExtractParams
	q := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "declared_type", q, &p.DeclaredType); err != nil {
		return p, fmt.Errorf("invalid declared_type: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "bypass_cache", q, &p.BypassCache); err != nil {
		return p, fmt.Errorf("invalid bypass_cache: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "deadline_ms", q, &p.DeadlineMS); err != nil {
		return p, fmt.Errorf("invalid deadline_ms: %w", err)
	}
	if p.DeadlineMS != nil && *p.DeadlineMS < 0 {
		return p, errors.New("deadline_ms must not be negative")
	}
	return p, nil
}

// inputFromRequest reads the document from a multipart "file" field or the raw body.
// At most maxUpload+1 bytes of the document are read so oversized documents still reach
// the pipeline and are classified there. A multipart body is cut off at
// maxUpload+multipartOverhead before parsing.
func (s *Server) inputFromRequest(w http.ResponseWriter, r *http.Request, p ExtractParams) (pipeline.Input, error) {
	in, err := baseInput(p)
	if err != nil {
		return in, err
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return in, fmt.Errorf("parse multipart body: %w", err)
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		file, header, err := r.FormFile(multipartField)
		if err != nil {
			return in, fmt.Errorf("multipart field %q: %w", multipartField, err)
		}
		defer func() { _ = file.Close() }()
		data, err := io.ReadAll(io.LimitReader(file, s.maxUpload+1))
		if err != nil {
			return in, fmt.Errorf("read upload: %w", err)
		}
		in.Data, in.Filename = data, header.Filename
		return in, nil
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, s.maxUpload+1))
	if err != nil {
		return in, fmt.Errorf("read body: %w", err)
	}
	in.Data, in.Filename = data, r.Header.Get(HeaderFilename)
	return in, nil
}

// baseInput applies the query parameters shared by every document of a request.
func baseInput(p ExtractParams) (pipeline.Input, error) {
	var in pipeline.Input
	if p.DeclaredType != nil {
		t, err := document.ParseType(*p.DeclaredType)
		if err != nil {
			return in, err
		}
		in.DeclaredType = t
	}
	if p.BypassCache != nil {
		in.BypassCache = *p.BypassCache
	}
	if p.DeadlineMS != nil {
		in.Deadline = time.Duration(*p.DeadlineMS) * time.Millisecond
	}
	return in, nil
}

// statusByCode maps failure codes onto HTTP statuses.
var statusByCode = map[failure.Code]int{
	failure.CodeFileTooLarge:      http.StatusRequestEntityTooLarge,
	failure.CodeUnsupportedFormat: http.StatusUnsupportedMediaType,
	failure.CodeTimeout:           http.StatusGatewayTimeout,
	failure.CodeAPI:               http.StatusBadGateway,
	failure.CodeNetwork:           http.StatusBadGateway,
	failure.CodeInitialization:    http.StatusServiceUnavailable,
	failure.CodeValidation:        http.StatusUnprocessableEntity,
}

// failureStatus returns the HTTP status for a classified failure.
func failureStatus(f *failure.Failure) int {
	if errors.Is(f, domain.ErrRateLimited) {
		return http.StatusTooManyRequests
	}
	if st, ok := statusByCode[f.Class.Code]; ok {
		return st
	}
	return http.StatusInternalServerError
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var f *failure.Failure
	if !errors.As(err, &f) {
		logger.FromContext(r.Context()).Error("Unclassified pipeline error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
		return
	}

	var rle *domain.RateLimitError
	if errors.As(f, &rle) && rle.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int((rle.RetryAfter+time.Second-1)/time.Second)))
	}
	if f.CorrelationID != "" {
		w.Header().Set(HeaderCorrelationID, f.CorrelationID)
	}
	writeJSON(w, failureStatus(f), f)
}

func setVisionHeaders(w http.ResponseWriter, usage *domain.VisionUsage) {
	if tokens := usage.TotalTokens(); tokens > 0 {
		w.Header().Set(HeaderVisionTokens, strconv.Itoa(tokens))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: strings.TrimSpace(message),
	})
}
