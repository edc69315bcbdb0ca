// Package openai adapts the OpenAI chat and batch APIs to the processor
// engine.
package openai

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// NewClient builds an openai client from the processor config, falling back
// to OPENAI_API_KEY and OPENAI_API_BASE_URL.
func NewClient(cfg processor.Config) *openai.Client {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	ocfg := openai.DefaultConfig(key)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("OPENAI_API_BASE_URL")
	}
	if baseURL != "" {
		ocfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(ocfg)
}

// chatRequest converts a generic request to an openai chat completion
// request. Structured runs use the json_schema response format.
func chatRequest(req *types.Request, fmtr processor.Formatter) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	p := req.GenerationParams
	if p.Temperature != nil {
		out.Temperature = *p.Temperature
	}
	if p.TopP != nil {
		out.TopP = *p.TopP
	}
	if p.PresencePenalty != nil {
		out.PresencePenalty = *p.PresencePenalty
	}
	if p.FrequencyPenalty != nil {
		out.FrequencyPenalty = *p.FrequencyPenalty
	}
	out.MaxTokens = p.MaxTokens
	out.Stop = p.Stop

	if req.StructuredOutput {
		if format := fmtr.ResponseFormat(); format != nil {
			out.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   fmtr.ResponseFormatName(),
					Schema: reflectSchema(format),
				},
			}
		} else {
			out.ResponseFormat = &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			}
		}
	}
	return out
}

func reflectSchema(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(v)
}

// wrapErr classifies provider errors, marking throttling responses so the
// engine pauses instead of retrying immediately.
func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	return err
}

// fillFromCompletion copies completion text, usage and the raw payload into
// a generic response.
func fillFromCompletion(resp *types.Response, res *openai.ChatCompletionResponse) error {
	if raw, err := json.Marshal(res); err == nil {
		resp.RawResponse = raw
	}
	if len(res.Choices) == 0 {
		return errors.New("openai: empty choices in completion")
	}
	resp.Message = res.Choices[0].Message.Content
	resp.Usage.FromOpenAI(res.Usage)
	return nil
}
