package openai

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

type retryHintKey struct{}

// retryHint receives the server's retry delay for the attempt in flight.
// go-openai drops response headers on error, so the doer records them here.
type retryHint struct {
	mu    sync.Mutex
	after time.Duration
}

func withRetryHint(ctx context.Context) (context.Context, *retryHint) {
	h := &retryHint{}
	return context.WithValue(ctx, retryHintKey{}, h), h
}

func (h *retryHint) set(d time.Duration) {
	h.mu.Lock()
	h.after = d
	h.mu.Unlock()
}

// take returns the recorded hint and clears it for the next attempt.
func (h *retryHint) take() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	d := h.after
	h.after = 0
	return d
}

// hintDoer wraps the HTTP client used by go-openai.
type hintDoer struct {
	next openai.HTTPDoer
	now  func() time.Time
}

func (d *hintDoer) Do(req *http.Request) (*http.Response, error) {
	resp, err := d.next.Do(req)
	if err != nil || resp.StatusCode != http.StatusTooManyRequests {
		return resp, err
	}
	if h, ok := req.Context().Value(retryHintKey{}).(*retryHint); ok {
		h.set(parseRetryAfter(resp.Header, d.now()))
	}
	return resp, nil
}

// parseRetryAfter reads retry-after-ms, then Retry-After as seconds or an HTTP date.
// Returns 0 when no usable hint is present.
func parseRetryAfter(h http.Header, now time.Time) time.Duration {
	if v := strings.TrimSpace(h.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
