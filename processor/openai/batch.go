package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Limits from the OpenAI batch API documentation.
const (
	maxRequestsPerBatch = 50_000
	completionWindow    = "24h"
)

// Batch is the OpenAI Batch API backend for the batch engine.
type Batch struct {
	client *openai.Client
	apiKey string
}

var _ processor.BatchBackend = (*Batch)(nil)

// NewBatch builds the backend from a processor config.
func NewBatch(cfg processor.Config) *Batch {
	return &Batch{client: NewClient(cfg), apiKey: cfg.APIKey}
}

// Backend returns the backend name.
func (b *Batch) Backend() string { return processor.BackendOpenAI }

// MaxRequestsPerBatch is the provider's per-batch request limit.
func (b *Batch) MaxRequestsPerBatch() int { return maxRequestsPerBatch }

// batchLine is one line of the uploaded batch input file.
type batchLine struct {
	CustomID string                       `json:"custom_id"`
	Method   string                       `json:"method"`
	URL      string                       `json:"url"`
	Body     openai.ChatCompletionRequest `json:"body"`
}

// Submit uploads the shard as a batch input file and creates the batch.
func (b *Batch) Submit(ctx context.Context, reqs []*types.Request, fmtr processor.Formatter, requestFile string) (*types.Batch, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, req := range reqs {
		line := batchLine{
			CustomID: strconv.Itoa(req.OriginalRowIdx),
			Method:   "POST",
			URL:      string(openai.BatchEndpointChatCompletions),
			Body:     chatRequest(req, fmtr),
		}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("openai: encode batch line: %w", err)
		}
	}

	file, err := b.client.CreateFileBytes(ctx, openai.FileBytesRequest{
		Name:    requestFile,
		Bytes:   buf.Bytes(),
		Purpose: openai.PurposeBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: upload batch file: %w", err)
	}

	res, err := b.client.CreateBatch(ctx, openai.CreateBatchRequest{
		InputFileID:      file.ID,
		Endpoint:         openai.BatchEndpointChatCompletions,
		CompletionWindow: completionWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create batch: %w", err)
	}
	return b.toGeneric(&res.Batch, requestFile)
}

// Retrieve refreshes the batch object.
func (b *Batch) Retrieve(ctx context.Context, batch *types.Batch) (*types.Batch, error) {
	res, err := b.client.RetrieveBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return b.toGeneric(&res.Batch, batch.RequestFile)
}

// Download reads the output (and error) files of a finished batch.
func (b *Batch) Download(ctx context.Context, batch *types.Batch, reqs []*types.Request, fmtr processor.Formatter) ([]*types.Response, error) {
	var raw openai.Batch
	if err := json.Unmarshal(batch.Raw, &raw); err != nil {
		return nil, fmt.Errorf("openai: decode tracked batch: %w", err)
	}
	byIdx := make(map[int]*types.Request, len(reqs))
	for _, req := range reqs {
		byIdx[req.OriginalRowIdx] = req
	}

	var out []*types.Response
	for _, fileID := range []*string{raw.OutputFileID, raw.ErrorFileID} {
		if fileID == nil || *fileID == "" {
			continue
		}
		resps, err := b.downloadFile(ctx, *fileID, byIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, resps...)
	}
	if out == nil {
		return nil, errors.New("openai: finished batch has no result files")
	}
	return out, nil
}

func (b *Batch) downloadFile(ctx context.Context, fileID string, byIdx map[int]*types.Request) ([]*types.Response, error) {
	content, err := b.client.GetFileContent(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("openai: get file %s: %w", fileID, err)
	}
	defer content.Close()

	var out []*types.Response
	scanner := bufio.NewScanner(content)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		resp, err := parseResultLine(line, byIdx)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, scanner.Err()
}

// parseResultLine maps one batch output line back to a generic response.
func parseResultLine(line []byte, byIdx map[int]*types.Request) (*types.Response, error) {
	customID := gjson.GetBytes(line, "custom_id").String()
	idx, err := strconv.Atoi(customID)
	if err != nil {
		return nil, fmt.Errorf("openai: bad custom_id %q", customID)
	}
	resp := &types.Response{Request: byIdx[idx]}
	raw := make([]byte, len(line))
	copy(raw, line)
	resp.RawResponse = raw

	if errField := gjson.GetBytes(line, "error"); errField.Exists() && errField.Type != gjson.Null {
		resp.Errors = append(resp.Errors, errField.Raw)
		return resp, nil
	}
	status := gjson.GetBytes(line, "response.status_code").Int()
	if status != 200 {
		resp.Errors = append(resp.Errors, fmt.Sprintf("status code %d", status))
		return resp, nil
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(gjson.GetBytes(line, "response.body").Raw), &completion); err != nil {
		resp.AddError(fmt.Errorf("decode completion body: %w", err))
		return resp, nil
	}
	if len(completion.Choices) == 0 {
		resp.Errors = append(resp.Errors, "empty choices in completion")
		return resp, nil
	}
	resp.Message = completion.Choices[0].Message.Content
	resp.Usage.FromOpenAI(completion.Usage)
	return resp, nil
}

// Cancel asks the provider to cancel the batch. Batches already in a
// terminal state are returned unchanged.
func (b *Batch) Cancel(ctx context.Context, batch *types.Batch) (*types.Batch, error) {
	cur, err := b.Retrieve(ctx, batch)
	if err != nil {
		return nil, err
	}
	if cur.Status != types.BatchSubmitted {
		return cur, nil
	}
	res, err := b.client.CancelBatch(ctx, batch.ID)
	if err != nil {
		return nil, err
	}
	return b.toGeneric(&res.Batch, batch.RequestFile)
}

// CleanupFiles deletes the provider-side input and result files.
func (b *Batch) CleanupFiles(ctx context.Context, batch *types.Batch, succeeded bool) error {
	var raw openai.Batch
	if err := json.Unmarshal(batch.Raw, &raw); err != nil {
		return fmt.Errorf("openai: decode tracked batch: %w", err)
	}
	ids := []string{raw.InputFileID}
	if raw.OutputFileID != nil {
		ids = append(ids, *raw.OutputFileID)
	}
	if raw.ErrorFileID != nil {
		ids = append(ids, *raw.ErrorFileID)
	}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if err := b.client.DeleteFile(ctx, id); err != nil {
			return fmt.Errorf("openai: delete file %s: %w", id, err)
		}
	}
	return nil
}

// toGeneric maps an openai batch object onto the provider-neutral form.
// Statuses validating/in_progress/finalizing/cancelling stay submitted;
// completed/failed/expired/cancelled are finished.
func (b *Batch) toGeneric(raw *openai.Batch, requestFile string) (*types.Batch, error) {
	out := &types.Batch{
		ID:          raw.ID,
		RequestFile: requestFile,
		RawStatus:   raw.Status,
		CreatedAt:   time.Unix(int64(raw.CreatedAt), 0).UTC(),
	}
	switch raw.Status {
	case "validating", "in_progress", "finalizing", "cancelling":
		out.Status = types.BatchSubmitted
	case "completed", "failed", "expired", "cancelled":
		out.Status = types.BatchFinished
	default:
		return nil, fmt.Errorf("openai: unknown batch status %q", raw.Status)
	}
	if raw.CompletedAt != nil {
		out.FinishedAt = time.Unix(int64(*raw.CompletedAt), 0).UTC()
	}
	out.Counts.FromOpenAI(raw.RequestCounts)
	if n := len(b.apiKey); n >= 4 {
		out.APIKeySuffix = b.apiKey[n-4:]
	}
	if bs, err := json.Marshal(raw); err == nil {
		out.Raw = bs
	}
	return out, nil
}
