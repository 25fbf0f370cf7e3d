package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// Config holds the docextract service configuration.
type Config struct {
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Cache      CacheConfig      `yaml:"cache"`
	Database   DatabaseConfig   `yaml:"database"`
	Vision     VisionConfig     `yaml:"vision"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Validation ValidationConfig `yaml:"validation"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Mapping    MappingConfig    `yaml:"mapping"`
	Batch      BatchConfig      `yaml:"batch"`
	Errors     ErrorsConfig     `yaml:"errors"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// AuthConfig holds API authentication settings.
type AuthConfig struct {
	APIKeys []string `yaml:"api_keys"`
}

// HTTPConfig holds HTTP server settings.
type HTTPConfig struct {
	Port            int `yaml:"port"`
	ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	WriteTimeoutSec int `yaml:"write_timeout_sec"`
	ShutdownSec     int `yaml:"shutdown_timeout_sec"`
	MaxUploadMB     int `yaml:"max_upload_mb"`
}

// Cache drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Driver     string `yaml:"driver"` // memory, redis (default: memory)
	TTLSec     int    `yaml:"ttl_sec"`
	MaxEntries int    `yaml:"max_entries"` // memory driver only
	KeyPrefix  string `yaml:"key_prefix"`
}

// DatabaseConfig holds the networked KV store connection settings.
type DatabaseConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// VisionConfig holds vision model settings. An empty api_key disables the vision path.
type VisionConfig struct {
	APIKey            string        `yaml:"api_key"`
	BaseURL           string        `yaml:"base_url"`
	Model             string        `yaml:"model"`
	TimeoutSec        int           `yaml:"timeout_sec"`
	MaxPayloadMB      int           `yaml:"max_payload_mb"`
	MaxRetries        int           `yaml:"max_retries"` // negative disables retries
	DefaultBackoffMS  int           `yaml:"default_backoff_ms"`
	MaxBackoffMS      int           `yaml:"max_backoff_ms"`
	MaxTokens         int           `yaml:"max_tokens"`
	Temperature       *float32      `yaml:"temperature"`
	RateLimitRPS      float64       `yaml:"rate_limit_rps"` // 0 = unpaced
	DefaultConfidence float64       `yaml:"default_confidence"`
	Breaker           BreakerConfig `yaml:"breaker"`
	Budget            BudgetConfig  `yaml:"budget"`
}

// BreakerConfig holds circuit breaker settings for the vision model.
type BreakerConfig struct {
	Enabled          *bool   `yaml:"enabled"`
	MinRequests      uint32  `yaml:"min_requests"`
	FailureRatio     float64 `yaml:"failure_ratio"`
	OpenTimeoutSec   int     `yaml:"open_timeout_sec"`
	HalfOpenMaxCalls uint32  `yaml:"half_open_max_calls"`
}

// BudgetConfig holds token budget settings.
type BudgetConfig struct {
	DailyTokenLimit   int64  `yaml:"daily_token_limit"`   // 0 = unlimited
	MonthlyTokenLimit int64  `yaml:"monthly_token_limit"` // 0 = unlimited
	Action            string `yaml:"action"`              // "reject" | "warn" (default)
}

// ExtractionConfig holds text layer settings.
type ExtractionConfig struct {
	MinTextChars    int    `yaml:"min_text_chars"`
	Locale          string `yaml:"locale"` // ch, eu (default: ch)
	DefaultCurrency string `yaml:"default_currency"`
}

// ValidationConfig holds reconciliation settings.
type ValidationConfig struct {
	Tolerance string `yaml:"tolerance"` // decimal string, e.g. "0.01"
}

// EntityConfig is one of the owner's legal entities.
type EntityConfig struct {
	Name           string   `yaml:"name"`
	Aliases        []string `yaml:"aliases"`
	AddressMarkers []string `yaml:"address_markers"`
}

// ClassifierConfig holds the owner registry.
type ClassifierConfig struct {
	Entities    []EntityConfig `yaml:"entities"`
	DefaultType string         `yaml:"default_type"`
}

// MappingConfig overrides target collection names by document type.
type MappingConfig struct {
	Collections map[string]string `yaml:"collections"`
	// ReviewFlags adds review and remarks properties to mappings with validation errors.
	ReviewFlags bool `yaml:"review_flags"`
}

// BatchConfig holds multi-document extraction settings.
type BatchConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// ErrorsConfig holds error log and recovery settings.
type ErrorsConfig struct {
	LogCapacity int             `yaml:"log_capacity"`
	Ship        ShipConfig      `yaml:"ship"`
	AutoRetry   AutoRetryConfig `yaml:"auto_retry"`
}

// ShipConfig controls remote error log shipping to the KV store.
type ShipConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Key       string `yaml:"key"`
	MaxLen    int64  `yaml:"max_len"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// AutoRetryConfig controls the retry-with-backoff recovery action.
type AutoRetryConfig struct {
	Enabled     bool `yaml:"enabled"`
	DelayMS     int  `yaml:"delay_ms"`
	MaxAttempts int  `yaml:"max_attempts"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
// A .env file in the working directory, when present, is loaded first.
func Load(env string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse expands env variables in data, decodes it, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration or panics.
func MustLoad(env string) Config {
	cfg, err := Load(env)
	if err != nil {
		panic(err)
	}
	return cfg
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 30
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 90
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 20
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = DriverMemory
	}
	if c.Cache.TTLSec <= 0 {
		c.Cache.TTLSec = 7 * 24 * 3600
	}
	if c.Cache.MaxEntries <= 0 {
		c.Cache.MaxEntries = 10000
	}
	if c.Cache.KeyPrefix == "" {
		c.Cache.KeyPrefix = "docextract:"
	}
	if c.Database.ReadinessTimeout <= 0 {
		c.Database.ReadinessTimeout = 10
	}
	c.Vision.applyDefaults()
	if c.Extraction.MinTextChars <= 0 {
		c.Extraction.MinTextChars = 40
	}
	if c.Extraction.Locale == "" {
		c.Extraction.Locale = "ch"
	}
	if c.Extraction.DefaultCurrency == "" {
		c.Extraction.DefaultCurrency = "CHF"
	}
	if c.Validation.Tolerance == "" {
		c.Validation.Tolerance = "0.01"
	}
	if c.Classifier.DefaultType == "" {
		c.Classifier.DefaultType = string(document.SupplierInvoice)
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = 4
	}
	if c.Errors.LogCapacity <= 0 {
		c.Errors.LogCapacity = 100
	}
	if c.Errors.Ship.MaxLen <= 0 {
		c.Errors.Ship.MaxLen = 1000
	}
	if c.Errors.Ship.TimeoutMS <= 0 {
		c.Errors.Ship.TimeoutMS = 2000
	}
	if c.Errors.AutoRetry.DelayMS <= 0 {
		c.Errors.AutoRetry.DelayMS = 5000
	}
	if c.Errors.AutoRetry.MaxAttempts <= 0 {
		c.Errors.AutoRetry.MaxAttempts = 3
	}
}

func (v *VisionConfig) applyDefaults() {
	if v.BaseURL == "" {
		v.BaseURL = "https://api.openai.com/v1"
	}
	if v.Model == "" {
		v.Model = "gpt-4o-mini"
	}
	if v.TimeoutSec <= 0 {
		v.TimeoutSec = 30
	}
	if v.MaxPayloadMB <= 0 {
		v.MaxPayloadMB = 20
	}
	if v.MaxRetries < 0 {
		v.MaxRetries = 0
	} else if v.MaxRetries == 0 {
		v.MaxRetries = 3
	}
	if v.DefaultBackoffMS <= 0 {
		v.DefaultBackoffMS = 1000
	}
	if v.MaxBackoffMS <= 0 {
		v.MaxBackoffMS = 8000
	}
	if v.MaxTokens <= 0 {
		v.MaxTokens = 2048
	}
	if v.DefaultConfidence <= 0 {
		v.DefaultConfidence = 0.7
	}
	if v.Breaker.MinRequests == 0 {
		v.Breaker.MinRequests = 5
	}
	if v.Breaker.FailureRatio <= 0 {
		v.Breaker.FailureRatio = 0.6
	}
	if v.Breaker.OpenTimeoutSec <= 0 {
		v.Breaker.OpenTimeoutSec = 30
	}
	if v.Breaker.HalfOpenMaxCalls == 0 {
		v.Breaker.HalfOpenMaxCalls = 1
	}
}

// BreakerEnabled reports whether the vision circuit breaker is on (default: on).
func (b BreakerConfig) BreakerEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// ToleranceDecimal parses the validation tolerance.
func (v ValidationConfig) ToleranceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(v.Tolerance)
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	switch c.Cache.Driver {
	case DriverMemory:
	case DriverRedis:
		if len(c.Database.Addrs) == 0 {
			return fmt.Errorf("database.addrs is required for the redis cache driver")
		}
	default:
		return fmt.Errorf("cache.driver must be \"memory\" or \"redis\", got %q", c.Cache.Driver)
	}
	if c.Errors.Ship.Enabled && len(c.Database.Addrs) == 0 {
		return fmt.Errorf("database.addrs is required when errors.ship.enabled is set")
	}
	switch c.Vision.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf("vision.budget.action must be \"warn\" or \"reject\", got %q", c.Vision.Budget.Action)
	}
	if c.Vision.Breaker.FailureRatio > 1 {
		return fmt.Errorf("vision.breaker.failure_ratio must be in (0, 1], got %v", c.Vision.Breaker.FailureRatio)
	}
	if c.Vision.DefaultConfidence > 1 {
		return fmt.Errorf("vision.default_confidence must be in (0, 1], got %v", c.Vision.DefaultConfidence)
	}
	switch c.Extraction.Locale {
	case "", "ch", "eu":
	default:
		return fmt.Errorf("extraction.locale must be \"ch\" or \"eu\", got %q", c.Extraction.Locale)
	}
	if c.Validation.Tolerance != "" {
		tol, err := c.Validation.ToleranceDecimal()
		if err != nil {
			return fmt.Errorf("validation.tolerance: %w", err)
		}
		if tol.IsNegative() {
			return fmt.Errorf("validation.tolerance must not be negative, got %s", tol)
		}
	}
	if _, err := document.ParseType(c.Classifier.DefaultType); err != nil {
		return fmt.Errorf("classifier.default_type: %w", err)
	}
	for i, e := range c.Classifier.Entities {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("classifier.entities[%d].name is required", i)
		}
	}
	for t := range c.Mapping.Collections {
		if !document.Type(t).IsValid() {
			return fmt.Errorf("mapping.collections: unknown document type %q", t)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
