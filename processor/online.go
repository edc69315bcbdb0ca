package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/types"
)

// OnlineBackend performs a single completion call against one provider.
// Implementations fill resp.Message, resp.RawResponse and resp.Usage, and
// wrap provider throttling errors with ErrRateLimited.
type OnlineBackend interface {
	Backend() string
	Call(ctx context.Context, req *types.Request, fmtr Formatter, resp *types.Response) error
}

// Online runs requests against an OnlineBackend with bounded parallelism,
// per-minute request and token budgets, retries, and resume from the
// working directory.
type Online struct {
	cfg     Config
	backend OnlineBackend
	counter TokenCounter
	tracker *Tracker

	requests *rate.Limiter
	tokens   *rate.Limiter

	startHook func(context.Context, *types.Request)
	endHook   func(context.Context, *types.Response)
	errorHook func(context.Context, *types.Request, error)
}

// OnlineOption configures an Online processor.
type OnlineOption func(*Online)

// WithTokenCounter overrides the token counter used for budget estimates.
func WithTokenCounter(tc TokenCounter) OnlineOption {
	return func(o *Online) { o.counter = tc }
}

// WithStartHook is called before each request is sent.
func WithStartHook(fn func(context.Context, *types.Request)) OnlineOption {
	return func(o *Online) { o.startHook = fn }
}

// WithEndHook is called after each response is recorded.
func WithEndHook(fn func(context.Context, *types.Response)) OnlineOption {
	return func(o *Online) { o.endHook = fn }
}

// WithErrorHook is called for each failed attempt.
func WithErrorHook(fn func(context.Context, *types.Request, error)) OnlineOption {
	return func(o *Online) { o.errorHook = fn }
}

// NewOnline builds an online processor around a provider backend.
func NewOnline(cfg Config, backend OnlineBackend, opts ...OnlineOption) (*Online, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	o := &Online{
		cfg:      cfg,
		backend:  backend,
		tracker:  NewTracker(),
		requests: rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerMinute)/60, cfg.MaxRequestsPerMinute),
		tokens:   rate.NewLimiter(rate.Limit(cfg.MaxTokensPerMinute)/60, cfg.MaxTokensPerMinute),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.counter == nil {
		o.counter = CounterForModel(cfg.Model)
	}
	return o, nil
}

// Backend returns the provider backend name.
func (o *Online) Backend() string { return o.backend.Backend() }

// Tracker exposes the run counters.
func (o *Online) Tracker() *Tracker { return o.tracker }

// Run processes every dataset row, resuming from responses already present
// in the working directory, and returns the assembled output dataset.
func (o *Online) Run(ctx context.Context, ds *dataset.Dataset, workingDir string, fmtr Formatter) (*dataset.Dataset, error) {
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, fmt.Errorf("processor: mkdir %s: %w", workingDir, err)
	}
	reqs, err := o.prepareRequests(ds, workingDir, fmtr)
	if err != nil {
		return nil, err
	}

	prior, err := readAllResponses(workingDir)
	if err != nil {
		return nil, err
	}
	completed := make(map[int]bool, len(prior))
	for _, resp := range prior {
		if resp.Request != nil && !resp.Failed() {
			completed[resp.Request.OriginalRowIdx] = true
		}
	}

	writer, err := OpenResponseWriter(filepath.Join(workingDir, ResponsesFile))
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxConcurrentRequests)
	for _, req := range reqs {
		if completed[req.OriginalRowIdx] {
			o.tracker.SkipCompleted()
			continue
		}
		req := req
		g.Go(func() error {
			return o.processOne(gctx, req, fmtr, writer)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	resps, err := readAllResponses(workingDir)
	if err != nil {
		return nil, err
	}
	out := assembleDataset(resps)
	if o.cfg.RequireAllResponses && o.tracker.Snapshot().Failed > 0 {
		return out, ErrMissingResponses
	}
	return out, nil
}

// prepareRequests formats the dataset once and persists requests.jsonl; a
// resumed run loads the persisted requests instead of re-formatting.
func (o *Online) prepareRequests(ds *dataset.Dataset, workingDir string, fmtr Formatter) ([]*types.Request, error) {
	path := filepath.Join(workingDir, RequestsFile)
	if _, err := os.Stat(path); err == nil {
		return ReadRequests(path)
	}
	reqs, err := formatRequests(ds, fmtr)
	if err != nil {
		return nil, err
	}
	if err := WriteRequests(path, reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (o *Online) processOne(ctx context.Context, req *types.Request, fmtr Formatter, writer *ResponseWriter) error {
	resp := &types.Response{Request: req, CreatedAt: time.Now().UTC()}

	budget := EstimateRequestTokens(o.counter, req)
	if burst := o.tokens.Burst(); budget > burst {
		budget = burst
	}

	var lastErr error
	for attempt := 0; attempt <= *o.cfg.MaxRetries; attempt++ {
		if err := o.waitPaused(ctx); err != nil {
			return err
		}
		if err := o.requests.Wait(ctx); err != nil {
			return err
		}
		if err := o.tokens.WaitN(ctx, budget); err != nil {
			return err
		}
		if fn := o.startHook; fn != nil {
			fn(ctx, req)
		}
		o.tracker.Start()

		lastErr = o.backend.Call(ctx, req, fmtr, resp)
		if lastErr == nil {
			break
		}
		if fn := o.errorHook; fn != nil {
			fn(ctx, req, lastErr)
		}
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return lastErr
		}
		if errors.Is(lastErr, ErrRateLimited) {
			o.tracker.PauseFor(o.cfg.RateLimitCooldown)
		}
	}

	resp.FinishedAt = time.Now().UTC()
	if lastErr != nil {
		resp.AddError(lastErr)
		o.tracker.Fail()
	} else {
		resp.Cost = Cost(o.cfg.Model, resp.Usage, false)
		fmtr.ParseResponse(resp)
		if resp.Failed() {
			o.tracker.Fail()
		} else {
			o.tracker.Succeed(resp)
		}
	}
	if err := writer.Write(resp); err != nil {
		return err
	}
	if fn := o.endHook; fn != nil {
		fn(ctx, resp)
	}
	return nil
}

// waitPaused blocks while a provider cooldown is in effect.
func (o *Online) waitPaused(ctx context.Context) error {
	for {
		d := o.tracker.PauseRemaining()
		if d == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
}

// formatRequests maps every dataset row through the formatter. A nil or
// empty dataset yields a single request with a zero row, so prompt funcs
// that ignore their input still run once.
func formatRequests(ds *dataset.Dataset, fmtr Formatter) ([]*types.Request, error) {
	if ds.Len() == 0 {
		req, err := fmtr.CreateRequest(nil, 0)
		if err != nil {
			return nil, err
		}
		return []*types.Request{req}, nil
	}
	reqs := make([]*types.Request, 0, ds.Len())
	for idx, row := range ds.Rows() {
		req, err := fmtr.CreateRequest(row, idx)
		if err != nil {
			return nil, fmt.Errorf("processor: format row %d: %w", idx, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}
