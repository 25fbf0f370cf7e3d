// Package recovery maps failures onto the error taxonomy and runs the recovery
// actions marked automatic.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/kailas-cloud/docextract/internal/domain"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	"github.com/kailas-cloud/docextract/internal/metrics"
)

// Rule maps matching errors onto a taxonomy code. Rules are evaluated in order.
type Rule struct {
	Name  string
	Code  failure.Code
	Match func(err error, msg string) bool
}

// Sentinel matches errors wrapping any of targets.
func Sentinel(name string, code failure.Code, targets ...error) Rule {
	return Rule{Name: name, Code: code, Match: func(err error, _ string) bool {
		for _, t := range targets {
			if errors.Is(err, t) {
				return true
			}
		}
		return false
	}}
}

// Keywords matches lower-cased messages containing any of words.
func Keywords(name string, code failure.Code, words ...string) Rule {
	return Rule{Name: name, Code: code, Match: func(_ error, msg string) bool {
		for _, w := range words {
			if strings.Contains(msg, w) {
				return true
			}
		}
		return false
	}}
}

// DefaultRules returns the standard rule table: typed sentinels, then transport errors,
// then keyword rules with the most specific categories first.
func DefaultRules() []Rule {
	return []Rule{
		Sentinel("not-configured", failure.CodeInitialization, domain.ErrNotConfigured),
		Sentinel("worker-crashed", failure.CodeWorker, domain.ErrWorkerCrashed),
		Sentinel("too-large", failure.CodeFileTooLarge, domain.ErrFileTooLarge),
		Sentinel("format", failure.CodeUnsupportedFormat, domain.ErrUnsupportedFormat, domain.ErrEmptyDocument),
		Sentinel("timeout", failure.CodeTimeout, domain.ErrTimeout, context.DeadlineExceeded),
		Sentinel("upstream", failure.CodeAPI,
			domain.ErrRateLimited, domain.ErrUpstreamModel, domain.ErrMalformedResponse,
			domain.ErrCircuitOpen, domain.ErrBudgetExceeded),
		Sentinel("record-store", failure.CodeRecordStore, domain.ErrRecordStore),
		Sentinel("resources", failure.CodeMemory, domain.ErrResourceExhausted),
		Sentinel("validation", failure.CodeValidation, domain.ErrValidation),
		Sentinel("network", failure.CodeNetwork, domain.ErrNetwork),
		{Name: "net-error", Code: failure.CodeNetwork, Match: func(err error, _ string) bool {
			var ne net.Error
			return errors.As(err, &ne) && !ne.Timeout()
		}},
		{Name: "net-timeout", Code: failure.CodeTimeout, Match: func(err error, _ string) bool {
			var ne net.Error
			return errors.As(err, &ne) && ne.Timeout()
		}},

		Keywords("kw-init", failure.CodeInitialization, "not initialized", "initialization", "failed to load"),
		Keywords("kw-worker", failure.CodeWorker, "tesseract", "worker"),
		Keywords("kw-api", failure.CodeAPI, "openai", "gpt", "rate limit", "429", "quota", "api error"),
		Keywords("kw-record-store", failure.CodeRecordStore, "notion", "record store"),
		Keywords("kw-too-large", failure.CodeFileTooLarge, "too large", "file size", "payload"),
		Keywords("kw-format", failure.CodeUnsupportedFormat, "unsupported", "format", "mime"),
		Keywords("kw-memory", failure.CodeMemory, "out of memory", "memory", "heap"),
		Keywords("kw-validation", failure.CodeValidation, "validation", "inconsistent"),
		Keywords("kw-timeout", failure.CodeTimeout, "timeout", "timed out", "deadline"),
		Keywords("kw-network", failure.CodeNetwork, "network", "connection", "econnrefused", "dns", "unreachable"),
	}
}

// Classifier maps arbitrary errors onto the taxonomy.
type Classifier struct {
	rules []Rule
}

// NewClassifier creates a classifier; no rules means DefaultRules.
func NewClassifier(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Code returns the first matching rule's code, or CodeUnknown.
func (c *Classifier) Code(err error) failure.Code {
	if err == nil {
		return failure.CodeUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, r := range c.rules {
		if r.Match(err, msg) {
			return r.Code
		}
	}
	return failure.CodeUnknown
}

// Classify wraps err into a Failure. An error that already is a Failure is returned as is.
func (c *Classifier) Classify(err error) *failure.Failure {
	var f *failure.Failure
	if errors.As(err, &f) {
		return f
	}
	class := failure.Lookup(c.Code(err))
	f = &failure.Failure{
		Class:           class,
		Message:         class.Message(detail(err)),
		RecoveryMessage: class.RecoveryMessage,
		Err:             err,
	}
	var rle *domain.RateLimitError
	if errors.As(err, &rle) && rle.RetryAfter > 0 {
		f.RecoveryMessage = fmt.Sprintf("%s Retry after %s.", class.RecoveryMessage, rle.RetryAfter)
	}
	metrics.ClassifiedErrorsTotal.WithLabelValues(string(class.Code), string(class.Severity)).Inc()
	return f
}

func detail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
