package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Limit from the Anthropic message batches documentation.
const maxRequestsPerBatch = 100_000

// Batch is the Anthropic Message Batches backend for the batch engine.
type Batch struct {
	client *anthropic.Client
	apiKey string
}

var _ processor.BatchBackend = (*Batch)(nil)

// NewBatch builds the backend from a processor config.
func NewBatch(cfg processor.Config) *Batch {
	client, key := NewClient(cfg)
	return &Batch{client: client, apiKey: key}
}

// Backend returns the backend name.
func (b *Batch) Backend() string { return processor.BackendAnthropic }

// MaxRequestsPerBatch is the provider's per-batch request limit.
func (b *Batch) MaxRequestsPerBatch() int { return maxRequestsPerBatch }

// Submit creates a message batch for the shard.
func (b *Batch) Submit(ctx context.Context, reqs []*types.Request, fmtr processor.Formatter, requestFile string) (*types.Batch, error) {
	batchReq := anthropic.BatchRequest{
		Requests: make([]anthropic.InnerRequests, 0, len(reqs)),
	}
	for _, req := range reqs {
		batchReq.Requests = append(batchReq.Requests, anthropic.InnerRequests{
			CustomId: strconv.Itoa(req.OriginalRowIdx),
			Params:   messagesRequest(req, fmtr),
		})
	}
	res, err := b.client.CreateBatch(ctx, batchReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: create batch: %w", err)
	}
	return b.toGeneric(&res.BatchRespCore, requestFile)
}

// Retrieve refreshes the batch object.
func (b *Batch) Retrieve(ctx context.Context, batch *types.Batch) (*types.Batch, error) {
	res, err := b.client.RetrieveBatch(ctx, anthropic.BatchId(batch.ID))
	if err != nil {
		return nil, err
	}
	return b.toGeneric(&res.BatchRespCore, batch.RequestFile)
}

// Download streams the batch results and joins them back to the shard's
// requests by custom id.
func (b *Batch) Download(ctx context.Context, batch *types.Batch, reqs []*types.Request, fmtr processor.Formatter) ([]*types.Response, error) {
	byIdx := make(map[int]*types.Request, len(reqs))
	for _, req := range reqs {
		byIdx[req.OriginalRowIdx] = req
	}
	res, err := b.client.RetrieveBatchResults(ctx, anthropic.BatchId(batch.ID))
	if err != nil {
		return nil, fmt.Errorf("anthropic: retrieve batch results: %w", err)
	}

	out := make([]*types.Response, 0, len(res.Responses))
	for _, result := range res.Responses {
		idx, err := strconv.Atoi(result.CustomId)
		if err != nil {
			return nil, fmt.Errorf("anthropic: bad custom_id %q", result.CustomId)
		}
		resp := &types.Response{Request: byIdx[idx]}
		if raw, err := json.Marshal(result); err == nil {
			resp.RawResponse = raw
		}
		if result.Result.Type != anthropic.ResultTypeSucceeded {
			resp.Errors = append(resp.Errors, fmt.Sprintf("batch result %s", result.Result.Type))
			out = append(out, resp)
			continue
		}
		if err := fillFromMessages(resp, &result.Result.Result); err != nil {
			resp.AddError(err)
		}
		out = append(out, resp)
	}
	return out, nil
}

// Cancel asks the provider to cancel the batch. Ended batches are returned
// unchanged.
func (b *Batch) Cancel(ctx context.Context, batch *types.Batch) (*types.Batch, error) {
	cur, err := b.Retrieve(ctx, batch)
	if err != nil {
		return nil, err
	}
	if cur.Status != types.BatchSubmitted {
		return cur, nil
	}
	res, err := b.client.CancelBatch(ctx, anthropic.BatchId(batch.ID))
	if err != nil {
		return nil, err
	}
	return b.toGeneric(&res.BatchRespCore, batch.RequestFile)
}

// CleanupFiles is a no-op: message batches have no provider-side files.
func (b *Batch) CleanupFiles(ctx context.Context, batch *types.Batch, succeeded bool) error {
	return nil
}

// toGeneric maps an anthropic batch object onto the provider-neutral form.
// in_progress/canceling stay submitted; ended is finished.
func (b *Batch) toGeneric(raw *anthropic.BatchRespCore, requestFile string) (*types.Batch, error) {
	out := &types.Batch{
		ID:          string(raw.Id),
		RequestFile: requestFile,
		RawStatus:   string(raw.ProcessingStatus),
		CreatedAt:   raw.CreatedAt,
	}
	switch raw.ProcessingStatus {
	case anthropic.ProcessingStatusInProgress, anthropic.ProcessingStatusCanceling:
		out.Status = types.BatchSubmitted
	case anthropic.ProcessingStatusEnded:
		out.Status = types.BatchFinished
	default:
		return nil, fmt.Errorf("anthropic: unknown batch status %q", raw.ProcessingStatus)
	}
	if raw.EndedAt != nil {
		out.FinishedAt = *raw.EndedAt
	}
	out.Counts.FromAnthropic(raw.RequestCounts)
	if n := len(b.apiKey); n >= 4 {
		out.APIKeySuffix = b.apiKey[n-4:]
	}
	if bs, err := json.Marshal(raw); err == nil {
		out.Raw = bs
	}
	return out, nil
}
