package curator

import (
	"fmt"
	"reflect"
	"time"

	"github.com/bububa/instructor-go"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Config carries the run-level settings shared by every LLM instance.
type Config struct {
	// model is the provider model name.
	model string
	// backend forces a request-processor backend; empty means auto.
	backend string
	// batch switches to the provider's batch API.
	batch bool
	// cacheDir overrides CURATOR_CACHE_DIR.
	cacheDir string
	// runName identifies the prompt logic in the run fingerprint.
	runName string
	// disableCache randomizes the fingerprint so nothing is reused.
	disableCache bool
	// format is the registered structured-output type, if any.
	format *responseFormatSpec
	// genParams are forwarded to the provider with every request.
	genParams types.GenerationParams
	// backendParams tune the request processor.
	backendParams processor.Config
	// client is an explicit instructor client for the router backend.
	client instructor.Instructor
	// proc overrides processor construction entirely.
	proc processor.Processor
}

// Option configures an LLM.
type Option func(*Config)

// WithModel sets the provider model name.
func WithModel(model string) Option {
	return func(c *Config) {
		c.model = model
	}
}

// WithBackend forces a backend: openai, anthropic, gemini or instructor.
// Unset, the backend is chosen from the model name.
func WithBackend(backend string) Option {
	return func(c *Config) {
		c.backend = backend
	}
}

// WithBatch switches the run to the provider's batch API.
func WithBatch() Option {
	return func(c *Config) {
		c.batch = true
	}
}

// WithCacheDir overrides the cache directory for this LLM.
func WithCacheDir(dir string) Option {
	return func(c *Config) {
		c.cacheDir = dir
	}
}

// WithRunName names the prompt logic for fingerprinting. Two LLMs with
// different prompt funcs but identical settings need distinct run names to
// keep separate caches; the default is derived from the prompt func symbol.
func WithRunName(name string) Option {
	return func(c *Config) {
		c.runName = name
	}
}

// WithCacheDisabled randomizes the run fingerprint so no cached responses
// are reused and none are shared with later runs.
func WithCacheDisabled() Option {
	return func(c *Config) {
		c.disableCache = true
	}
}

// WithResponseFormat registers a structured-output type by prototype, e.g.
// WithResponseFormat(Recipe{}). Completions are decoded and validated into
// this type before parsing.
func WithResponseFormat(prototype any) Option {
	return func(c *Config) {
		typ := reflect.TypeOf(prototype)
		for typ.Kind() == reflect.Pointer {
			typ = typ.Elem()
		}
		c.format = &responseFormatSpec{typ: typ, name: typ.Name()}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float32) Option {
	return func(c *Config) {
		c.genParams.Temperature = &temperature
	}
}

// WithTopP sets nucleus sampling.
func WithTopP(topP float32) Option {
	return func(c *Config) {
		c.genParams.TopP = &topP
	}
}

// WithPresencePenalty sets the presence penalty.
func WithPresencePenalty(v float32) Option {
	return func(c *Config) {
		c.genParams.PresencePenalty = &v
	}
}

// WithFrequencyPenalty sets the frequency penalty.
func WithFrequencyPenalty(v float32) Option {
	return func(c *Config) {
		c.genParams.FrequencyPenalty = &v
	}
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Config) {
		c.genParams.MaxTokens = maxTokens
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) Option {
	return func(c *Config) {
		c.genParams.Stop = stop
	}
}

// WithGenerationParams replaces all sampling parameters at once.
func WithGenerationParams(params types.GenerationParams) Option {
	return func(c *Config) {
		c.genParams = params
	}
}

// WithBackendParams replaces the request-processor parameters (rate limits,
// retries, batch sizing). Zero fields keep their defaults.
func WithBackendParams(params processor.Config) Option {
	return func(c *Config) {
		c.backendParams = params
	}
}

// WithAPIKey overrides the provider API key environment variable.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.backendParams.APIKey = key
	}
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.backendParams.BaseURL = baseURL
	}
}

// WithMaxRetries caps retry attempts per request. Zero disables retries.
func WithMaxRetries(n int) Option {
	return func(c *Config) {
		c.backendParams.MaxRetries = &n
	}
}

// WithRateLimits sets the per-minute request and token budgets.
func WithRateLimits(requestsPerMinute, tokensPerMinute int) Option {
	return func(c *Config) {
		c.backendParams.MaxRequestsPerMinute = requestsPerMinute
		c.backendParams.MaxTokensPerMinute = tokensPerMinute
	}
}

// WithRequireAllResponses makes a run with any failed row return an error.
func WithRequireAllResponses() Option {
	return func(c *Config) {
		c.backendParams.RequireAllResponses = true
	}
}

// WithBatchSize sets how many requests go into one provider batch.
func WithBatchSize(n int) Option {
	return func(c *Config) {
		c.backendParams.BatchSize = n
	}
}

// WithBatchCheckInterval sets the polling interval for submitted batches.
func WithBatchCheckInterval(d time.Duration) Option {
	return func(c *Config) {
		c.backendParams.BatchCheckInterval = d
	}
}

// WithKeepBatchFiles keeps provider-side files after download for both
// successful and failed batches.
func WithKeepBatchFiles() Option {
	return func(c *Config) {
		c.backendParams.DeleteSuccessfulBatchFiles = false
		c.backendParams.DeleteFailedBatchFiles = false
	}
}

// WithClient supplies an instructor client for the router backend, the way
// an agent gets its client.
func WithClient(clt instructor.Instructor) Option {
	return func(c *Config) {
		c.client = clt
		c.backend = processor.BackendInstructor
	}
}

// WithProcessor bypasses backend selection with a custom processor.
func WithProcessor(p processor.Processor) Option {
	return func(c *Config) {
		c.proc = p
	}
}

func (c *Config) validate() error {
	if c.model == "" && c.proc == nil {
		return fmt.Errorf("curator: %w", ErrMissingModel)
	}
	return nil
}
