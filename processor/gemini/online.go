// Package gemini adapts the Google generative AI API to the online engine.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Online is the Gemini backend for the online engine. The API client is
// created lazily because construction needs a context.
type Online struct {
	cfg processor.Config

	once    sync.Once
	client  *genai.Client
	initErr error
}

var _ processor.OnlineBackend = (*Online)(nil)

// NewOnline builds the backend from a processor config.
func NewOnline(cfg processor.Config) *Online {
	return &Online{cfg: cfg}
}

// Backend returns the backend name.
func (o *Online) Backend() string { return processor.BackendGemini }

func (o *Online) init(ctx context.Context) error {
	o.once.Do(func() {
		key := o.cfg.APIKey
		if key == "" {
			key = os.Getenv("GEMINI_API_KEY")
		}
		o.client, o.initErr = genai.NewClient(ctx, option.WithAPIKey(key))
	})
	return o.initErr
}

// Call performs one content generation request.
func (o *Online) Call(ctx context.Context, req *types.Request, fmtr processor.Formatter, resp *types.Response) error {
	if err := o.init(ctx); err != nil {
		return err
	}
	model := o.client.GenerativeModel(req.Model)
	p := req.GenerationParams
	if p.Temperature != nil {
		model.SetTemperature(*p.Temperature)
	}
	if p.TopP != nil {
		model.SetTopP(*p.TopP)
	}
	if p.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(p.MaxTokens))
	}
	if len(p.Stop) > 0 {
		model.StopSequences = p.Stop
	}
	if req.StructuredOutput {
		model.ResponseMIMEType = "application/json"
	}
	if system := req.SystemMessage(); system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	contents := chatContents(req.Messages)
	if len(contents) == 0 {
		return errors.New("gemini: no chat messages in request")
	}
	session := model.StartChat()
	session.History = contents[:len(contents)-1]
	res, err := session.SendMessage(ctx, contents[len(contents)-1].Parts...)
	if err != nil {
		return wrapErr(err)
	}
	if raw, err := json.Marshal(res); err == nil {
		resp.RawResponse = raw
	}
	text, err := responseText(res)
	if err != nil {
		return err
	}
	resp.Message = text
	if res.UsageMetadata != nil {
		resp.Usage = types.TokenUsage{
			PromptTokens:     int(res.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(res.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(res.UsageMetadata.TotalTokenCount),
		}
	}
	return nil
}

// chatContents converts the non-system messages to chat turns. Assistant
// messages take the "model" role; system messages are already folded into
// the system instruction.
func chatContents(msgs []types.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.SystemRole:
		case types.AssistantRole:
			out = append(out, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		default:
			out = append(out, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}
	return out
}

func responseText(res *genai.GenerateContentResponse) (string, error) {
	if len(res.Candidates) == 0 || res.Candidates[0].Content == nil {
		return "", errors.New("gemini: empty candidates in response")
	}
	var sb strings.Builder
	for _, part := range res.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String(), nil
}

func wrapErr(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == 429 {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	return err
}
