package docextract

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type entity struct {
	name           string
	aliases        []string
	addressMarkers []string
}

type clientConfig struct {
	driver   string // "memory" (default) or "redis"
	addrs    []string
	password string

	cacheTTL   time.Duration
	maxEntries int

	openAIKey   string
	openAIBase  string
	openAIModel string
	vision      VisionModel

	entities    []entity
	defaultType DocumentType
	euLocale    bool
	currency    string
	tolerance   *decimal.Decimal
	minChars    int
	collections map[DocumentType]string
	review      bool
	errorLog    int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithRedis stores cached results in a Redis or Valkey instance instead of process memory.
func WithRedis(addr, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = "redis"
		c.addrs = []string{addr}
		c.password = password
	})
}

// WithCache sets the result cache TTL and, for the memory driver, its entry cap.
func WithCache(ttl time.Duration, maxEntries int) Option {
	return optionFunc(func(c *clientConfig) {
		c.cacheTTL = ttl
		c.maxEntries = maxEntries
	})
}

// WithOpenAI enables the vision path through an OpenAI-compatible chat completions API.
func WithOpenAI(apiKey, model string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIKey = apiKey
		c.openAIModel = model
	})
}

// WithOpenAIBaseURL points WithOpenAI at a compatible gateway.
func WithOpenAIBaseURL(url string) Option {
	return optionFunc(func(c *clientConfig) {
		c.openAIBase = url
	})
}

// WithVisionModel sets a custom vision model. It takes precedence over WithOpenAI.
func WithVisionModel(m VisionModel) Option {
	return optionFunc(func(c *clientConfig) {
		c.vision = m
	})
}

// WithEntity registers one of the owning organization's legal entities.
// Documents the entity emits are client invoices; documents addressed to it are supplier invoices.
func WithEntity(name string, aliases ...string) Option {
	return optionFunc(func(c *clientConfig) {
		c.entities = append(c.entities, entity{name: name, aliases: aliases})
	})
}

// WithEntityAddress adds address lines that mark the entity's own letterhead.
func WithEntityAddress(name string, lines ...string) Option {
	return optionFunc(func(c *clientConfig) {
		for i := range c.entities {
			if c.entities[i].name == name {
				c.entities[i].addressMarkers = append(c.entities[i].addressMarkers, lines...)
				return
			}
		}
		c.entities = append(c.entities, entity{name: name, addressMarkers: lines})
	})
}

// WithDefaultType sets the type used when no party matches a registered entity.
// Default: supplier-invoice.
func WithDefaultType(t DocumentType) Option {
	return optionFunc(func(c *clientConfig) {
		c.defaultType = t
	})
}

// WithEULocale parses lone commas as decimal marks (1.234,56).
func WithEULocale() Option {
	return optionFunc(func(c *clientConfig) {
		c.euLocale = true
	})
}

// WithDefaultCurrency sets the currency assumed when a document states none. Default: CHF.
func WithDefaultCurrency(code string) Option {
	return optionFunc(func(c *clientConfig) {
		c.currency = code
	})
}

// WithTolerance sets the reconciliation tolerance for totals. Default: 0.01.
func WithTolerance(t decimal.Decimal) Option {
	return optionFunc(func(c *clientConfig) {
		c.tolerance = &t
	})
}

// WithMinTextChars sets how many characters a PDF text layer needs to skip the vision model.
func WithMinTextChars(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.minChars = n
	})
}

// WithCollection overrides the target collection name for a document type.
func WithCollection(t DocumentType, name string) Option {
	return optionFunc(func(c *clientConfig) {
		if c.collections == nil {
			c.collections = make(map[DocumentType]string)
		}
		c.collections[t] = name
	})
}

// WithReviewFlags adds "À vérifier" and "Remarques" properties to mappings
// that carry validation errors.
func WithReviewFlags() Option {
	return optionFunc(func(c *clientConfig) {
		c.review = true
	})
}

// WithErrorLogCapacity sets how many recent failures Errors can return. Default: 100.
func WithErrorLogCapacity(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.errorLog = n
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
