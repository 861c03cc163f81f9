package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/rendis/leadflow/internal/engine"
	"github.com/rendis/leadflow/internal/scheduler"
	"github.com/rendis/leadflow/internal/sender"
	"github.com/rendis/leadflow/pkg/schema"
)

// Config holds all leadflow configuration.
// Priority: flags > env vars > settings.json > defaults.
type Config struct {
	DBPath      string        `json:"db_path"      validate:"required"`
	LogLevel    string        `json:"log_level"    validate:"oneof=debug info warn warning error"`
	LogFormat   string        `json:"log_format"   validate:"oneof=text json"`
	Schedule    string        `json:"schedule"     validate:"required,cron"`
	Concurrency int           `json:"concurrency"  validate:"gte=1,lte=256"`
	BatchSize   int           `json:"batch_size"   validate:"gte=1,lte=10000"`
	ClaimTTL    string        `json:"claim_ttl"    validate:"required,duration"`
	Retry       RetryConfig   `json:"retry"`
	Breaker     BreakerConfig `json:"breaker"`
	Sender      SenderConfig  `json:"sender"`
	VaultKey    string        `json:"vault_key,omitempty"`
	Transport   string        `json:"transport"    validate:"oneof=stdio sse"`
	ListenAddr  string        `json:"listen_addr"  validate:"required_if=Transport sse"`
	BaseURL     string        `json:"base_url"     validate:"omitempty,url"`
}

// RetryConfig enables bounded resends when Max > 0.
type RetryConfig struct {
	Max      int    `json:"max"       validate:"gte=0,lte=20"`
	Backoff  string `json:"backoff"   validate:"omitempty,oneof=constant linear exponential"`
	Delay    string `json:"delay"     validate:"omitempty,duration"`
	MaxDelay string `json:"max_delay" validate:"omitempty,duration"`
}

// BreakerConfig configures the provider circuit breaker.
type BreakerConfig struct {
	Enabled          bool   `json:"enabled"`
	FailureThreshold int    `json:"failure_threshold" validate:"gte=0"`
	Cooldown         string `json:"cooldown"          validate:"omitempty,duration"`
	HalfOpenMax      int    `json:"half_open_max"     validate:"gte=0"`
}

// SenderConfig selects the email provider.
type SenderConfig struct {
	Kind         string `json:"kind"           validate:"oneof=log http"`
	Endpoint     string `json:"endpoint"       validate:"required_if=Kind http"`
	APIKeySecret string `json:"api_key_secret"`
	From         string `json:"from"           validate:"omitempty,email"`
	Timeout      string `json:"timeout"        validate:"omitempty,duration"`
}

func defaultConfig() Config {
	breaker := engine.DefaultCircuitBreakerConfig()
	return Config{
		DBPath:      filepath.Join(leadflowDir(), "leadflow.db"),
		LogLevel:    "info",
		LogFormat:   "text",
		Schedule:    scheduler.DefaultSchedule,
		Concurrency: engine.DefaultConcurrency,
		BatchSize:   engine.DefaultBatchSize,
		ClaimTTL:    engine.DefaultClaimTTL.String(),
		Breaker: BreakerConfig{
			FailureThreshold: breaker.FailureThreshold,
			Cooldown:         breaker.Cooldown.String(),
			HalfOpenMax:      breaker.HalfOpenMax,
		},
		Sender:     SenderConfig{Kind: "log"},
		Transport:  "stdio",
		ListenAddr: ":4100",
	}
}

func leadflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leadflow"
	}
	return filepath.Join(home, ".leadflow")
}

func settingsPath() string {
	return filepath.Join(leadflowDir(), "settings.json")
}

// loadConfig layers settings.json and LEADFLOW_* variables over the defaults.
// A missing settings file is not an error; a malformed one is.
func loadConfig(path string, getenv func(string) string) (Config, error) {
	cfg := defaultConfig()

	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("LEADFLOW_DB_PATH", &cfg.DBPath)
	str("LEADFLOW_LOG_LEVEL", &cfg.LogLevel)
	str("LEADFLOW_LOG_FORMAT", &cfg.LogFormat)
	str("LEADFLOW_SCHEDULE", &cfg.Schedule)
	str("LEADFLOW_CLAIM_TTL", &cfg.ClaimTTL)
	str("LEADFLOW_RETRY_BACKOFF", &cfg.Retry.Backoff)
	str("LEADFLOW_RETRY_DELAY", &cfg.Retry.Delay)
	str("LEADFLOW_RETRY_MAX_DELAY", &cfg.Retry.MaxDelay)
	str("LEADFLOW_BREAKER_COOLDOWN", &cfg.Breaker.Cooldown)
	str("LEADFLOW_SENDER_KIND", &cfg.Sender.Kind)
	str("LEADFLOW_SENDER_ENDPOINT", &cfg.Sender.Endpoint)
	str("LEADFLOW_SENDER_API_KEY_SECRET", &cfg.Sender.APIKeySecret)
	str("LEADFLOW_SENDER_FROM", &cfg.Sender.From)
	str("LEADFLOW_SENDER_TIMEOUT", &cfg.Sender.Timeout)
	str("LEADFLOW_VAULT_KEY", &cfg.VaultKey)
	str("LEADFLOW_TRANSPORT", &cfg.Transport)
	str("LEADFLOW_LISTEN_ADDR", &cfg.ListenAddr)
	str("LEADFLOW_BASE_URL", &cfg.BaseURL)
	if v := getenv("LEADFLOW_BREAKER"); v != "" {
		cfg.Breaker.Enabled = v == "true" || v == "1"
	}

	err := errors.Join(
		num("LEADFLOW_CONCURRENCY", &cfg.Concurrency),
		num("LEADFLOW_BATCH_SIZE", &cfg.BatchSize),
		num("LEADFLOW_RETRY_MAX", &cfg.Retry.Max),
		num("LEADFLOW_BREAKER_THRESHOLD", &cfg.Breaker.FailureThreshold),
	)
	return cfg, err
}

// sseBaseURL returns the configured base URL, derived from the listen
// address when empty.
func (c Config) sseBaseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return "http://localhost" + c.ListenAddr
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParseSchedule(fl.Field().String())
		return err == nil
	})
	v.RegisterStructValidation(validateLease, Config{})
	return v
}

// validateLease rejects an HTTP sender that may outlive the claim lease: a
// send still in flight when the lease expires lets another pass claim the
// same step.
func validateLease(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.Sender.Kind != "http" {
		return
	}
	ttl, err := time.ParseDuration(c.ClaimTTL)
	if err != nil {
		return
	}
	timeout := sender.DefaultTimeout
	if c.Sender.Timeout != "" {
		if timeout, err = time.ParseDuration(c.Sender.Timeout); err != nil {
			return
		}
	}
	if timeout >= ttl {
		sl.ReportError(c.Sender.Timeout, "Sender.Timeout", "Timeout", "ltclaimttl", c.ClaimTTL)
	}
}

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		details[fe.Namespace()] = fmt.Sprintf("failed %q (value %v)", fe.Tag(), fe.Value())
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid configuration: %s", verrs.Error()).
		WithDetails(details)
}

// EngineConfig converts the validated settings into engine.Config.
func (c Config) EngineConfig() engine.Config {
	ttl, _ := time.ParseDuration(c.ClaimTTL)
	cfg := engine.Config{
		Concurrency: c.Concurrency,
		BatchSize:   c.BatchSize,
		ClaimTTL:    ttl,
	}
	if c.Retry.Max > 0 {
		cfg.Retry = &schema.RetryPolicy{
			Max:      c.Retry.Max,
			Backoff:  c.Retry.Backoff,
			Delay:    c.Retry.Delay,
			MaxDelay: c.Retry.MaxDelay,
		}
	}
	if c.Breaker.Enabled {
		// Zero fields keep the breaker defaults.
		breaker := engine.DefaultCircuitBreakerConfig()
		if c.Breaker.FailureThreshold > 0 {
			breaker.FailureThreshold = c.Breaker.FailureThreshold
		}
		if cooldown, err := time.ParseDuration(c.Breaker.Cooldown); err == nil && cooldown > 0 {
			breaker.Cooldown = cooldown
		}
		if c.Breaker.HalfOpenMax > 0 {
			breaker.HalfOpenMax = c.Breaker.HalfOpenMax
		}
		cfg.Breaker = &breaker
	}
	return cfg
}
