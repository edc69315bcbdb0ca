package types

import (
	"encoding/json"
	"time"

	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"
)

// BatchStatus is the provider-neutral lifecycle state of a submitted batch.
type BatchStatus string

const (
	// BatchSubmitted means the provider accepted the batch and is working on it.
	BatchSubmitted BatchStatus = "submitted"
	// BatchFinished means the provider ended processing; results can be downloaded.
	BatchFinished BatchStatus = "finished"
	// BatchDownloaded means results were fetched and written to the working dir.
	BatchDownloaded BatchStatus = "downloaded"
)

// RequestCounts merges provider-specific request states onto
// succeeded/failed/total.
type RequestCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// FromAnthropic maps anthropic batch counts. Canceled, errored and expired
// requests all count as failed.
func (c *RequestCounts) FromAnthropic(v anthropic.RequestCounts) {
	c.Succeeded = v.Succeeded
	c.Failed = v.Canceled + v.Errored + v.Expired
	c.Total = v.Processing + c.Succeeded + c.Failed
}

// FromOpenAI maps openai batch counts.
func (c *RequestCounts) FromOpenAI(v openai.BatchRequestCounts) {
	c.Succeeded = v.Completed
	c.Failed = v.Failed
	c.Total = v.Total
}

// Done reports whether every request in the batch reached a terminal state.
func (c RequestCounts) Done() bool {
	return c.Total > 0 && c.Succeeded+c.Failed == c.Total
}

// Batch is a provider-neutral batch object. Batches are persisted to
// batch_objects.jsonl so an interrupted run re-attaches instead of
// resubmitting.
type Batch struct {
	ID          string        `json:"id"`
	RequestFile string        `json:"request_file"`
	Status      BatchStatus   `json:"status"`
	RawStatus   string        `json:"raw_status,omitempty"`
	Counts      RequestCounts `json:"request_counts"`
	CreatedAt   time.Time     `json:"created_at,omitempty"`
	FinishedAt  time.Time     `json:"finished_at,omitempty"`
	// APIKeySuffix helps diagnose key mismatches when re-attaching.
	APIKeySuffix string `json:"api_key_suffix,omitempty"`
	// Raw is the provider batch payload as last seen.
	Raw json.RawMessage `json:"raw_batch,omitempty"`
}
