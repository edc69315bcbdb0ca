package types

import (
	"encoding/json"
	"time"
)

// Response is the provider-neutral outcome of a Request. One line of a
// responses JSONL file. A response either carries the completion text plus
// the rows parsed from it, or the errors that prevented one.
type Response struct {
	// Message is the raw completion text. In structured mode it is the
	// canonical JSON encoding of the decoded response format.
	Message string `json:"response_message,omitempty"`
	// Errors are user-visible failure reasons (API errors, parse failures).
	Errors []string `json:"response_errors,omitempty"`
	// ParsedRows are the output dataset rows produced by the parse func.
	ParsedRows []json.RawMessage `json:"parsed_rows,omitempty"`
	// RawResponse is the provider payload as received, for debugging.
	RawResponse json.RawMessage `json:"raw_response,omitempty"`
	// Request is the originating request; its OriginalRowIdx keys resume
	// bookkeeping.
	Request    *Request   `json:"generic_request"`
	CreatedAt  time.Time  `json:"created_at,omitempty"`
	FinishedAt time.Time  `json:"finished_at,omitempty"`
	Usage      TokenUsage `json:"token_usage"`
	// Cost is the estimated request cost in USD.
	Cost float64 `json:"response_cost,omitempty"`
}

// Failed reports whether the response carries errors instead of a message.
func (r *Response) Failed() bool {
	return len(r.Errors) > 0
}

// AddError records a failure reason.
func (r *Response) AddError(err error) {
	if err == nil {
		return
	}
	r.Errors = append(r.Errors, err.Error())
}
