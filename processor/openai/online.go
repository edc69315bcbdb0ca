package openai

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Online is the OpenAI chat-completions backend for the online engine.
type Online struct {
	client *openai.Client
}

var _ processor.OnlineBackend = (*Online)(nil)

// NewOnline builds the backend from a processor config.
func NewOnline(cfg processor.Config) *Online {
	return &Online{client: NewClient(cfg)}
}

// Backend returns the backend name.
func (o *Online) Backend() string { return processor.BackendOpenAI }

// Call performs one chat completion.
func (o *Online) Call(ctx context.Context, req *types.Request, fmtr processor.Formatter, resp *types.Response) error {
	res, err := o.client.CreateChatCompletion(ctx, chatRequest(req, fmtr))
	if err != nil {
		return wrapErr(err)
	}
	return fillFromCompletion(resp, &res)
}
