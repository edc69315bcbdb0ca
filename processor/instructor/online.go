// Package instructor routes completions through instructor-go clients, so a
// single backend serves OpenAI-compatible, Anthropic and Cohere endpoints
// with schema-validated structured output.
package instructor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/bububa/instructor-go"
	"github.com/bububa/instructor-go/instructors"
	anthropicInstructor "github.com/bububa/instructor-go/instructors/anthropic"
	cohereInstructor "github.com/bububa/instructor-go/instructors/cohere"
	openaiInstructor "github.com/bububa/instructor-go/instructors/openai"
	cohere "github.com/cohere-ai/cohere-go/v2"
	cohereClient "github.com/cohere-ai/cohere-go/v2/client"
	cohereOption "github.com/cohere-ai/cohere-go/v2/option"
	anthropic "github.com/liushuangls/go-anthropic/v2"
	openai "github.com/sashabaranov/go-openai"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

const defaultAnthropicMaxTokens = 8192

// Online is the multi-provider backend for the online engine.
type Online struct {
	client instructor.Instructor
}

var _ processor.OnlineBackend = (*Online)(nil)

// NewOnline wraps an existing instructor client.
func NewOnline(clt instructor.Instructor) *Online {
	return &Online{client: clt}
}

// NewOnlineFromEnv picks the provider from the model name (claude-* goes to
// Anthropic, command-* to Cohere, everything else to an OpenAI-compatible
// endpoint) and builds the client from the usual environment variables.
func NewOnlineFromEnv(cfg processor.Config) *Online {
	return &Online{client: newInstructor(providerForModel(cfg.Model), cfg)}
}

func providerForModel(model string) instructor.Provider {
	model = strings.ToLower(model)
	switch {
	case strings.HasPrefix(model, "claude"):
		return instructor.ProviderAnthropic
	case strings.HasPrefix(model, "command"):
		return instructor.ProviderCohere
	default:
		return instructor.ProviderOpenAI
	}
}

func newInstructor(provider instructor.Provider, cfg processor.Config) instructor.Instructor {
	retries := 3
	if cfg.MaxRetries != nil {
		retries = *cfg.MaxRetries
	}
	opts := []instructor.Option{
		instructor.WithMode(instructor.ModeJSON),
		instructor.WithMaxRetries(retries),
		instructor.WithValidation(),
	}
	switch provider {
	case instructor.ProviderAnthropic:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("ANTHROPIC_API_BASE_URL")
		}
		clientOpts := make([]anthropic.ClientOption, 0, 1)
		if baseURL != "" {
			clientOpts = append(clientOpts, anthropic.WithBaseURL(baseURL))
		}
		return instructors.FromAnthropic(anthropic.NewClient(key, clientOpts...), opts...)
	case instructor.ProviderCohere:
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("COHERE_API_KEY")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = os.Getenv("COHERE_API_BASE_URL")
		}
		clientOpts := make([]cohereOption.RequestOption, 0, 2)
		clientOpts = append(clientOpts, cohereOption.WithToken(key))
		if baseURL != "" {
			clientOpts = append(clientOpts, cohereOption.WithBaseURL(baseURL))
		}
		return instructors.FromCohere(cohereClient.NewClient(clientOpts...), opts...)
	default:
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
		return instructors.FromOpenAI(openai.NewClientWithConfig(ocfg), opts...)
	}
}

// Backend returns the backend name.
func (o *Online) Backend() string { return processor.BackendInstructor }

// textOutput wraps plain-text runs so every completion goes through the same
// schema-validated path.
type textOutput struct {
	Response string `json:"response" jsonschema:"title=response,description=The response text."`
}

// Call performs one completion through the instructor client.
func (o *Online) Call(ctx context.Context, req *types.Request, fmtr processor.Formatter, resp *types.Response) error {
	target := fmtr.ResponseFormat()
	plainText := target == nil
	if plainText {
		target = new(textOutput)
	}

	switch clt := o.client.(type) {
	case *openaiInstructor.Instructor:
		chatReq := openaiRequest(req)
		var res openai.ChatCompletionResponse
		if err := clt.Chat(ctx, &chatReq, target, &res); err != nil {
			return wrapErr(err)
		}
		if raw, err := json.Marshal(res); err == nil {
			resp.RawResponse = raw
		}
		resp.Usage.FromOpenAI(res.Usage)
	case *anthropicInstructor.Instructor:
		chatReq := anthropicRequest(req)
		var res anthropic.MessagesResponse
		if err := clt.Chat(ctx, &chatReq, target, &res); err != nil {
			return wrapErr(err)
		}
		if raw, err := json.Marshal(res); err == nil {
			resp.RawResponse = raw
		}
		resp.Usage.FromAnthropic(res.Usage)
	case *cohereInstructor.Instructor:
		chatReq := cohereRequest(req)
		var res cohere.NonStreamedChatResponse
		if err := clt.Chat(ctx, &chatReq, target, &res); err != nil {
			return wrapErr(err)
		}
		if raw, err := json.Marshal(res); err == nil {
			resp.RawResponse = raw
		}
		if meta := res.Meta; meta != nil && meta.Tokens != nil {
			if meta.Tokens.InputTokens != nil {
				resp.Usage.PromptTokens = int(*meta.Tokens.InputTokens)
			}
			if meta.Tokens.OutputTokens != nil {
				resp.Usage.CompletionTokens = int(*meta.Tokens.OutputTokens)
			}
			resp.Usage.TotalTokens = resp.Usage.PromptTokens + resp.Usage.CompletionTokens
		}
	default:
		return errors.New("instructor: unsupported client")
	}

	if plainText {
		resp.Message = target.(*textOutput).Response
		return nil
	}
	bs, err := json.Marshal(target)
	if err != nil {
		return fmt.Errorf("instructor: encode structured response: %w", err)
	}
	resp.Message = string(bs)
	return nil
}

func openaiRequest(req *types.Request) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{Model: req.Model}
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
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func anthropicRequest(req *types.Request) anthropic.MessagesRequest {
	out := anthropic.MessagesRequest{
		Model:     anthropic.Model(req.Model),
		MaxTokens: req.GenerationParams.MaxTokens,
	}
	if out.MaxTokens == 0 {
		out.MaxTokens = defaultAnthropicMaxTokens
	}
	out.Temperature = req.GenerationParams.Temperature
	out.TopP = req.GenerationParams.TopP
	out.System = req.SystemMessage()
	for _, m := range req.Messages {
		switch m.Role {
		case types.SystemRole:
		case types.AssistantRole:
			out.Messages = append(out.Messages, anthropic.NewAssistantTextMessage(m.Content))
		default:
			out.Messages = append(out.Messages, anthropic.NewUserTextMessage(m.Content))
		}
	}
	return out
}

// cohereRequest sends the last message as the chat message and the earlier
// turns as chat history.
func cohereRequest(req *types.Request) cohere.ChatRequest {
	model := req.Model
	out := cohere.ChatRequest{Model: &model}
	p := req.GenerationParams
	if p.Temperature != nil {
		temperature := float64(*p.Temperature)
		out.Temperature = &temperature
	}
	if p.MaxTokens > 0 {
		maxTokens := p.MaxTokens
		out.MaxTokens = &maxTokens
	}
	msgs := req.Messages
	last := len(msgs) - 1
	out.Message = msgs[last].Content
	for _, m := range msgs[:last] {
		v := new(cohere.Message)
		switch m.Role {
		case types.SystemRole:
			v.Role = "SYSTEM"
			v.System = &cohere.ChatMessage{Message: m.Content}
		case types.AssistantRole:
			v.Role = "CHATBOT"
			v.Chatbot = &cohere.ChatMessage{Message: m.Content}
		default:
			v.Role = "USER"
			v.User = &cohere.ChatMessage{Message: m.Content}
		}
		out.ChatHistory = append(out.ChatHistory, v)
	}
	return out
}

func wrapErr(err error) error {
	var openaiErr *openai.APIError
	if errors.As(err, &openaiErr) && openaiErr.HTTPStatusCode == 429 {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	var anthropicErr *anthropic.APIError
	if errors.As(err, &anthropicErr) && anthropicErr.IsRateLimitErr() {
		return fmt.Errorf("%w: %v", processor.ErrRateLimited, err)
	}
	return err
}
