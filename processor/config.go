package processor

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bespokelabs/curator-go/types"
)

var validate = validator.New()

// Config carries everything a request processor needs besides the formatter.
type Config struct {
	Model   string `yaml:"model" validate:"required"`
	BaseURL string `yaml:"base_url"`
	// APIKey overrides the provider's environment variable.
	APIKey string `yaml:"-"`

	// MaxRetries is a pointer so an explicit zero disables retries instead
	// of falling back to the default.
	MaxRetries          *int `yaml:"max_retries" validate:"omitempty,gte=0"`
	RequireAllResponses bool `yaml:"require_all_responses"`

	// Online limits.
	MaxRequestsPerMinute  int           `yaml:"max_requests_per_minute" validate:"gte=0"`
	MaxTokensPerMinute    int           `yaml:"max_tokens_per_minute" validate:"gte=0"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests" validate:"gte=0"`
	RateLimitCooldown     time.Duration `yaml:"-"`

	// Batch behavior.
	BatchSize                  int           `yaml:"batch_size" validate:"gte=0"`
	BatchCheckInterval         time.Duration `yaml:"-"`
	DeleteSuccessfulBatchFiles bool          `yaml:"delete_successful_batch_files"`
	DeleteFailedBatchFiles     bool          `yaml:"delete_failed_batch_files"`

	GenerationParams types.GenerationParams `yaml:"generation"`
}

// Defaults match the original library's backend parameters.
const (
	DefaultMaxRetries            = 10
	DefaultMaxRequestsPerMinute  = 100
	DefaultMaxTokensPerMinute    = 100_000
	DefaultMaxConcurrentRequests = 10
	DefaultRateLimitCooldown     = 15 * time.Second
	DefaultBatchSize             = 1_000
	DefaultBatchCheckInterval    = 60 * time.Second
)

// DefaultConfig returns a config with the stock limits for model.
func DefaultConfig(model string) Config {
	retries := DefaultMaxRetries
	return Config{
		Model:                      model,
		MaxRetries:                 &retries,
		MaxRequestsPerMinute:       DefaultMaxRequestsPerMinute,
		MaxTokensPerMinute:         DefaultMaxTokensPerMinute,
		MaxConcurrentRequests:      DefaultMaxConcurrentRequests,
		RateLimitCooldown:          DefaultRateLimitCooldown,
		BatchSize:                  DefaultBatchSize,
		BatchCheckInterval:         DefaultBatchCheckInterval,
		DeleteSuccessfulBatchFiles: true,
	}
}

// Normalize fills unset fields with defaults and validates the result.
func (c *Config) Normalize() error {
	def := DefaultConfig(c.Model)
	if c.MaxRetries == nil {
		c.MaxRetries = def.MaxRetries
	}
	if c.MaxRequestsPerMinute == 0 {
		c.MaxRequestsPerMinute = def.MaxRequestsPerMinute
	}
	if c.MaxTokensPerMinute == 0 {
		c.MaxTokensPerMinute = def.MaxTokensPerMinute
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = def.MaxConcurrentRequests
	}
	if c.RateLimitCooldown == 0 {
		c.RateLimitCooldown = def.RateLimitCooldown
	}
	if c.BatchSize == 0 {
		c.BatchSize = def.BatchSize
	}
	if c.BatchCheckInterval == 0 {
		c.BatchCheckInterval = def.BatchCheckInterval
	}
	return c.Validate()
}

// Validate checks the config constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("processor: invalid config: %w", err)
	}
	return nil
}

// LoadConfig reads a YAML backend-parameters file. Durations are given as
// strings like "30s".
func LoadConfig(path string) (Config, error) {
	var raw struct {
		Config             `yaml:",inline"`
		RateLimitCooldown  string `yaml:"rate_limit_cooldown"`
		BatchCheckInterval string `yaml:"batch_check_interval"`
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("processor: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return Config{}, fmt.Errorf("processor: parse config %s: %w", path, err)
	}
	cfg := raw.Config
	if raw.RateLimitCooldown != "" {
		if cfg.RateLimitCooldown, err = time.ParseDuration(raw.RateLimitCooldown); err != nil {
			return Config{}, fmt.Errorf("processor: parse rate_limit_cooldown: %w", err)
		}
	}
	if raw.BatchCheckInterval != "" {
		if cfg.BatchCheckInterval, err = time.ParseDuration(raw.BatchCheckInterval); err != nil {
			return Config{}, fmt.Errorf("processor: parse batch_check_interval: %w", err)
		}
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
