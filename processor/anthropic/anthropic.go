// Package anthropic adapts the Anthropic Messages and Message Batches APIs
// to the processor engine.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/invopop/jsonschema"
	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// defaultMaxTokens is used when the request sets none; the messages API
// requires an explicit max_tokens.
const defaultMaxTokens = 8192

// NewClient builds an anthropic client from the processor config, falling
// back to ANTHROPIC_API_KEY and ANTHROPIC_API_BASE_URL.
func NewClient(cfg processor.Config) (*anthropic.Client, string) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("ANTHROPIC_API_KEY")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = os.Getenv("ANTHROPIC_API_BASE_URL")
	}
	opts := make([]anthropic.ClientOption, 0, 1)
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(baseURL))
	}
	return anthropic.NewClient(key, opts...), key
}

// messagesRequest converts a generic request. System messages become the
// request system prompt; structured runs get a JSON-only instruction
// appended to it.
func messagesRequest(req *types.Request, fmtr processor.Formatter) anthropic.MessagesRequest {
	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.GenerationParams.MaxTokens,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultMaxTokens
	}
	p := req.GenerationParams
	out.Temperature = p.Temperature
	out.TopP = p.TopP
	out.StopSequences = p.Stop

	system := req.SystemMessage()
	if req.StructuredOutput {
		if format := fmtr.ResponseFormat(); format != nil {
			schema, _ := json.Marshal(reflectSchema(format))
			instruction := fmt.Sprintf(
				"Respond only with a JSON object matching this JSON schema, with no extra text:\n%s", schema)
			if system != "" {
				system += "\n\n"
			}
			system += instruction
		}
	}
	out.System = system

	for _, m := range req.Messages {
		switch m.Role {
		case types.SystemRole:
			// already folded into the system prompt
		case types.AssistantRole:
			out.Messages = append(out.Messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			out.Messages = append(out.Messages, anthropic.NewUserTextMessage(m.Content))
		}
	}
	return out
}

func reflectSchema(v any) *jsonschema.Schema {
	r := jsonschema.Reflector{DoNotReference: true}
	return r.Reflect(v)
}

// wrapErr classifies provider errors, marking throttling so the engine
// pauses the run.
func wrapErr(err error) error {
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) && apiErr.IsRateLimitErr() {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode == 429 {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	return err
}

// fillFromMessages copies completion text, usage and the raw payload into a
// generic response.
func fillFromMessages(resp *types.Response, res *anthropic.MessagesResponse) error {
	if raw, err := json.Marshal(res); err == nil {
		resp.RawResponse = raw
	}
	if len(res.Content) == 0 {
		return errors.New("anthropic: empty content in response")
	}
	resp.Message = res.GetFirstContentText()
	resp.Usage.FromAnthropic(res.Usage)
	return nil
}
