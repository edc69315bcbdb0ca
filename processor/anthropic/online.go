package anthropic

import (
	"context"

	anthropic "github.com/liushuangls/go-anthropic/v2"

	"github.com/bespokelabs/curator-go/processor"
	"github.com/bespokelabs/curator-go/types"
)

// Online is the Anthropic messages backend for the online engine.
type Online struct {
	client *anthropic.Client
}

var _ processor.OnlineBackend = (*Online)(nil)

// NewOnline builds the backend from a processor config.
func NewOnline(cfg processor.Config) *Online {
	client, _ := NewClient(cfg)
	return &Online{client: client}
}

// Backend returns the backend name.
func (o *Online) Backend() string { return processor.BackendAnthropic }

// Call performs one messages request.
func (o *Online) Call(ctx context.Context, req *types.Request, fmtr processor.Formatter, resp *types.Response) error {
	res, err := o.client.CreateMessages(ctx, messagesRequest(req, fmtr))
	if err != nil {
		return wrapErr(err)
	}
	return fillFromMessages(resp, &res)
}
