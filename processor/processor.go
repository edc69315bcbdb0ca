// Package processor turns formatted requests into responses, online or via
// provider batch APIs, with caching, rate limiting and resume built in.
//
// A working directory is the unit of caching. It holds requests JSONL files,
// the responses collected so far, and (in batch mode) the submitted batch
// objects. Running a processor twice over the same directory only performs
// the work that is still missing.
package processor

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/types"
)

// Backend names.
const (
	BackendOpenAI     = "openai"
	BackendAnthropic  = "anthropic"
	BackendGemini     = "gemini"
	BackendInstructor = "instructor"
)

// ErrRateLimited marks provider responses that should pause the run instead
// of burning retries. Provider adapters wrap their 429s with it.
var ErrRateLimited = errors.New("rate limited by provider")

// ErrMissingResponses is returned when RequireAllResponses is set and some
// rows failed.
var ErrMissingResponses = errors.New("not all requests succeeded")

// Formatter adapts dataset rows to requests and completions back to rows.
// The generic implementation lives in the root package; processors only see
// this interface.
type Formatter interface {
	// CreateRequest formats one input row (nil for a datasetless run) into a
	// provider-neutral request.
	CreateRequest(row json.RawMessage, idx int) (*types.Request, error)
	// ParseResponse derives ParsedRows from the response message, recording
	// parse failures as response errors.
	ParseResponse(resp *types.Response)
	// Structured reports whether completions must decode into a response format.
	Structured() bool
	// ResponseFormat returns a fresh pointer to the response format value, or
	// nil when the run is plain text.
	ResponseFormat() any
	// ResponseFormatName names the response format for run metadata.
	ResponseFormatName() string
}

// Processor runs all requests for a dataset inside a working directory and
// assembles the output dataset from the responses.
type Processor interface {
	Backend() string
	Run(ctx context.Context, ds *dataset.Dataset, workingDir string, fmtr Formatter) (*dataset.Dataset, error)
}

// BatchCanceler is implemented by batch processors.
type BatchCanceler interface {
	CancelAll(ctx context.Context, workingDir string) error
}
