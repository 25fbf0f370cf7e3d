// Package openai implements document extraction against an OpenAI-compatible
// multimodal chat model.
package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/metrics"
	"github.com/kailas-cloud/docextract/internal/resilience"
)

const (
	operationExtract = "vision.extract"

	DefaultTimeout           = 30 * time.Second
	DefaultMaxPayload        = 20 << 20
	DefaultMaxTokens         = 2048
	DefaultConfidence        = 0.7
	defaultTemperature       = float32(0.1)
	imageDetail              = openai.ImageURLDetailHigh
	completionTokenLabel     = "completion"
	promptTokenLabel         = "prompt"
	requestStatusSuccess     = "success"
	requestStatusRateLimited = "rate_limited"
	requestStatusError       = "error"
)

// Config holds the vision provider settings.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout bounds a single model call, retries excluded.
	Timeout    time.Duration
	MaxPayload int
	MaxTokens  int
	// Temperature is sent as-is; nil selects a near-deterministic default.
	Temperature       *float32
	DefaultConfidence float64
	// RateLimitRPS paces outgoing calls; 0 disables pacing.
	RateLimitRPS float64
	// Aliases are known entity names injected into the prompt.
	Aliases    []string
	Resilience resilience.Config
	Logger     *zap.Logger
	// HTTPClient overrides the transport (tests).
	HTTPClient *http.Client
}

// VisionClient extracts candidates from document images.
type VisionClient struct {
	client      *openai.Client
	model       string
	timeout     time.Duration
	maxPayload  int
	maxTokens   int
	temperature float32
	confidence  float64
	prompt      string
	schema      *jsonschema.Schema
	limiter     *rate.Limiter
	exec        *resilience.Executor
	logger      *zap.Logger
}

// NewVisionClient creates a vision client. Zero config values take the package defaults.
func NewVisionClient(cfg *Config) *VisionClient {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &hintDoer{next: httpClient, now: time.Now}

	c := &VisionClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		timeout:     cfg.Timeout,
		maxPayload:  cfg.MaxPayload,
		maxTokens:   cfg.MaxTokens,
		temperature: defaultTemperature,
		confidence:  cfg.DefaultConfidence,
		prompt:      BuildPrompt(cfg.Aliases),
		schema:      compileResponseSchema(),
		logger:      logger,
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.maxPayload <= 0 {
		c.maxPayload = DefaultMaxPayload
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if cfg.Temperature != nil {
		c.temperature = *cfg.Temperature
	}
	if c.confidence <= 0 || c.confidence > 1 {
		c.confidence = DefaultConfidence
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	model := c.model
	c.exec = resilience.NewExecutor(cfg.Resilience, logger).
		OnRetry(func(string, int, time.Duration, error) {
			metrics.VisionRetriesTotal.WithLabelValues(model).Inc()
		})
	return c
}

// Model returns the configured model name.
func (c *VisionClient) Model() string { return c.model }

// Extract sends the image to the model and parses the structured answer.
// Only image formats are accepted; PDFs must go through the text layer.
func (c *VisionClient) Extract(ctx context.Context, raw document.Raw) (candidate.Extraction, error) {
	if !raw.Format().IsImage() {
		return candidate.Extraction{}, fmt.Errorf("vision accepts images only, got %s: %w",
			raw.Format(), domain.ErrUnsupportedFormat)
	}
	if raw.Size() > c.maxPayload {
		return candidate.Extraction{}, fmt.Errorf("payload %d bytes exceeds %d: %w",
			raw.Size(), c.maxPayload, domain.ErrFileTooLarge)
	}

	req := c.buildRequest(raw)
	ctx, hint := withRetryHint(ctx)

	var resp openai.ChatCompletionResponse
	start := time.Now()
	err := c.exec.Execute(ctx, operationExtract, func(ctx context.Context) error {
		r, callErr := c.call(ctx, req, hint)
		if callErr != nil {
			return callErr
		}
		resp = r
		return nil
	}, classifyVisionError)
	duration := time.Since(start)

	if err != nil {
		err = c.finalError(ctx, err)
		status := requestStatusError
		if errors.Is(err, domain.ErrRateLimited) {
			status = requestStatusRateLimited
		}
		metrics.VisionRequestsTotal.WithLabelValues(c.model, status).Inc()
		c.logger.Warn("Vision extraction failed",
			zap.String("model", c.model),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return candidate.Extraction{}, err
	}

	metrics.VisionRequestsTotal.WithLabelValues(c.model, requestStatusSuccess).Inc()
	metrics.VisionRequestDuration.WithLabelValues(c.model).Observe(duration.Seconds())
	prompt, completion := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if prompt+completion > 0 {
		metrics.VisionTokensTotal.WithLabelValues(c.model, promptTokenLabel).Add(float64(prompt))
		metrics.VisionTokensTotal.WithLabelValues(c.model, completionTokenLabel).Add(float64(completion))
	}
	domain.VisionUsageFromContext(ctx).Record(prompt, completion)

	c.logger.Debug("Vision extraction finished",
		zap.String("model", c.model),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", prompt),
		zap.Int("completion_tokens", completion),
	)

	if len(resp.Choices) == 0 {
		return candidate.Extraction{}, fmt.Errorf("empty choices: %w", domain.ErrMalformedResponse)
	}
	cand, err := ParseResponse(c.schema, resp.Choices[0].Message.Content, c.confidence)
	if err != nil {
		return candidate.Extraction{}, err
	}
	return candidate.Extraction{
		Candidate:        cand,
		PromptTokens:     prompt,
		CompletionTokens: completion,
		Model:            c.model,
	}, nil
}

func (c *VisionClient) buildRequest(raw document.Raw) openai.ChatCompletionRequest {
	dataURL := "data:" + raw.MIMEType() + ";base64," + base64.StdEncoding.EncodeToString(raw.Bytes())
	return openai.ChatCompletionRequest{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: c.prompt},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL, Detail: imageDetail},
					},
				},
			},
		},
	}
}

// call performs one paced, time-bounded attempt and maps the failure onto domain errors.
func (c *VisionClient) call(
	ctx context.Context,
	req openai.ChatCompletionRequest,
	hint *retryHint,
) (openai.ChatCompletionResponse, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return openai.ChatCompletionResponse{}, fmt.Errorf("rate limiter: %w", err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(callCtx, req)
	if err == nil {
		return resp, nil
	}
	if ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return openai.ChatCompletionResponse{}, fmt.Errorf("vision call exceeded %s: %w", c.timeout, domain.ErrTimeout)
	}
	return openai.ChatCompletionResponse{}, parseAPIError(err, hint.take())
}

// finalError turns caller cancellation into ErrTimeout, keeping the last attempt's cause.
func (c *VisionClient) finalError(ctx context.Context, err error) error {
	if errors.Is(err, domain.ErrTimeout) {
		return err
	}
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("vision call aborted by caller deadline: %w: %w", domain.ErrTimeout, err)
	}
	return err
}

// classifyVisionError retries 429 only; the breaker ignores rate limits.
func classifyVisionError(err error) resilience.ErrorClassification {
	var rle *domain.RateLimitError
	if errors.As(err, &rle) {
		return resilience.ErrorClassification{Retryable: true, RecordFailure: false, RetryAfter: rle.RetryAfter}
	}
	return resilience.ErrorClassification{Retryable: false, RecordFailure: true}
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *VisionClient) HealthCheck(ctx context.Context) error {
	if _, err := c.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError maps go-openai failures: 429 → RateLimitError, other statuses → StatusError,
// everything without a status → ErrNetwork.
func parseAPIError(err error, retryAfter time.Duration) error {
	status, detail := 0, ""

	var reqErr *openai.RequestError
	var apiErr *openai.APIError
	switch {
	case errors.As(err, &apiErr):
		status, detail = apiErr.HTTPStatusCode, apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		detail = extractDetail(reqErr.Body)
		if detail == "" {
			detail = strings.TrimSpace(string(reqErr.Body))
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &domain.RateLimitError{RetryAfter: retryAfter, Detail: detail}
	case status != 0:
		return &domain.StatusError{StatusCode: status, Detail: detail}
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("vision transport: %w: %w", domain.ErrNetwork, err)
	}
	return fmt.Errorf("vision request failed: %w: %w", domain.ErrNetwork, err)
}

// extractDetail pulls "detail" or "error.message" out of a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error.Message
}
