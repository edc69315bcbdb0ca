package processor

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/types"
)

// maxConcurrentBatchOperations bounds simultaneous submit/retrieve/download
// calls against the provider's batch endpoints.
const maxConcurrentBatchOperations = 10

// BatchBackend implements one provider's batch API.
type BatchBackend interface {
	Backend() string
	// MaxRequestsPerBatch is the provider's per-batch request limit.
	MaxRequestsPerBatch() int
	// Submit uploads the requests as one batch and returns the batch object.
	Submit(ctx context.Context, reqs []*types.Request, fmtr Formatter, requestFile string) (*types.Batch, error)
	// Retrieve refreshes the batch object from the provider.
	Retrieve(ctx context.Context, b *types.Batch) (*types.Batch, error)
	// Download fetches the results of a finished batch, joining them back to
	// the shard's requests by custom id. Returned responses carry
	// Message/Usage/RawResponse; parsing and costing happen in the engine.
	Download(ctx context.Context, b *types.Batch, reqs []*types.Request, fmtr Formatter) ([]*types.Response, error)
	// Cancel requests cancellation; already-ended batches are returned as is.
	Cancel(ctx context.Context, b *types.Batch) (*types.Batch, error)
	// CleanupFiles deletes provider-side files for a downloaded batch.
	CleanupFiles(ctx context.Context, b *types.Batch, succeeded bool) error
}

// Batch drives a BatchBackend over sharded request files: submit, poll,
// download, resume. Submitted batches are persisted to batch_objects.jsonl
// so a restarted run re-attaches instead of resubmitting.
type Batch struct {
	cfg     Config
	backend BatchBackend
	tracker *Tracker
	sem     *semaphore.Weighted

	mu      sync.Mutex
	batches map[string]*types.Batch // request file -> batch
}

// NewBatch builds a batch processor around a provider backend.
func NewBatch(cfg Config, backend BatchBackend) (*Batch, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if backend.MaxRequestsPerBatch() > 0 && cfg.BatchSize > backend.MaxRequestsPerBatch() {
		cfg.BatchSize = backend.MaxRequestsPerBatch()
	}
	return &Batch{
		cfg:     cfg,
		backend: backend,
		tracker: NewTracker(),
		sem:     semaphore.NewWeighted(maxConcurrentBatchOperations),
		batches: make(map[string]*types.Batch),
	}, nil
}

// Backend returns the provider backend name.
func (p *Batch) Backend() string { return p.backend.Backend() }

// Tracker exposes the run counters.
func (p *Batch) Tracker() *Tracker { return p.tracker }

// Run shards the dataset into batches, submits what is not yet submitted,
// polls until every batch is downloaded, and assembles the output dataset.
func (p *Batch) Run(ctx context.Context, ds *dataset.Dataset, workingDir string, fmtr Formatter) (*dataset.Dataset, error) {
	if err := os.MkdirAll(workingDir, 0o755); err != nil {
		return nil, fmt.Errorf("processor: mkdir %s: %w", workingDir, err)
	}
	shards, err := p.prepareShards(ds, workingDir, fmtr)
	if err != nil {
		return nil, err
	}
	if err := p.loadBatchObjects(workingDir); err != nil {
		return nil, err
	}

	if err := p.submitMissing(ctx, workingDir, shards, fmtr); err != nil {
		return nil, err
	}
	if err := p.pollUntilDownloaded(ctx, workingDir, fmtr); err != nil {
		return nil, err
	}

	resps, err := readAllResponses(workingDir)
	if err != nil {
		return nil, err
	}
	out := assembleDataset(resps)
	if p.cfg.RequireAllResponses {
		for _, resp := range resps {
			if resp.Failed() {
				return out, ErrMissingResponses
			}
		}
	}
	return out, nil
}

// CancelAll cancels every tracked batch in the working directory.
func (p *Batch) CancelAll(ctx context.Context, workingDir string) error {
	if err := p.loadBatchObjects(workingDir); err != nil {
		return err
	}
	p.mu.Lock()
	tracked := make([]*types.Batch, 0, len(p.batches))
	for _, b := range p.batches {
		tracked = append(tracked, b)
	}
	p.mu.Unlock()
	if len(tracked) == 0 {
		return fmt.Errorf("processor: no submitted batches in %s", workingDir)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, b := range tracked {
		b := b
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)
			canceled, err := p.backend.Cancel(gctx, b)
			if err != nil {
				return fmt.Errorf("processor: cancel batch %s: %w", b.ID, err)
			}
			p.storeBatch(canceled)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return p.writeBatchObjects(workingDir)
}

type shard struct {
	file string
	reqs []*types.Request
}

// prepareShards formats the dataset and persists one requests_N.jsonl per
// batch of cfg.BatchSize rows. Resumed runs load the persisted shards.
func (p *Batch) prepareShards(ds *dataset.Dataset, workingDir string, fmtr Formatter) ([]shard, error) {
	reqs, err := func() ([]*types.Request, error) {
		first := filepath.Join(workingDir, BatchRequestsFile(0))
		if _, err := os.Stat(first); err == nil {
			return nil, nil
		}
		return formatRequests(ds, fmtr)
	}()
	if err != nil {
		return nil, err
	}

	var shards []shard
	if reqs != nil {
		for i := 0; i*p.cfg.BatchSize < len(reqs); i++ {
			lo := i * p.cfg.BatchSize
			hi := lo + p.cfg.BatchSize
			if hi > len(reqs) {
				hi = len(reqs)
			}
			file := BatchRequestsFile(i)
			if err := WriteRequests(filepath.Join(workingDir, file), reqs[lo:hi]); err != nil {
				return nil, err
			}
			shards = append(shards, shard{file: file, reqs: reqs[lo:hi]})
		}
		return shards, nil
	}

	paths, err := filepath.Glob(filepath.Join(workingDir, "requests_*.jsonl"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	for _, path := range paths {
		loaded, err := ReadRequests(path)
		if err != nil {
			return nil, err
		}
		shards = append(shards, shard{file: filepath.Base(path), reqs: loaded})
	}
	return shards, nil
}

func (p *Batch) submitMissing(ctx context.Context, workingDir string, shards []shard, fmtr Formatter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, sh := range shards {
		p.mu.Lock()
		_, submitted := p.batches[sh.file]
		p.mu.Unlock()
		if submitted {
			continue
		}
		sh := sh
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)
			b, err := p.backend.Submit(gctx, sh.reqs, fmtr, sh.file)
			if err != nil {
				return fmt.Errorf("processor: submit %s: %w", sh.file, err)
			}
			p.storeBatch(b)
			p.tracker.TrackBatch(b.ID, b.Status)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return p.writeBatchObjects(workingDir)
}

func (p *Batch) pollUntilDownloaded(ctx context.Context, workingDir string, fmtr Formatter) error {
	for {
		pending := p.pendingBatches()
		if len(pending) == 0 {
			return nil
		}
		if err := p.checkBatches(ctx, workingDir, pending, fmtr); err != nil {
			return err
		}
		if len(p.pendingBatches()) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.cfg.BatchCheckInterval):
		}
	}
}

func (p *Batch) pendingBatches() []*types.Batch {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*types.Batch
	for _, b := range p.batches {
		if b.Status != types.BatchDownloaded {
			out = append(out, b)
		}
	}
	return out
}

func (p *Batch) checkBatches(ctx context.Context, workingDir string, pending []*types.Batch, fmtr Formatter) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range pending {
		b := b
		g.Go(func() error {
			if err := p.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer p.sem.Release(1)

			cur := b
			if cur.Status == types.BatchSubmitted {
				refreshed, err := p.backend.Retrieve(gctx, cur)
				if err != nil {
					return fmt.Errorf("processor: retrieve batch %s: %w", cur.ID, err)
				}
				cur = refreshed
				p.storeBatch(cur)
				p.tracker.TrackBatch(cur.ID, cur.Status)
			}
			if cur.Status != types.BatchFinished {
				return nil
			}
			if err := p.downloadBatch(gctx, workingDir, cur, fmtr); err != nil {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return p.writeBatchObjects(workingDir)
}

func (p *Batch) downloadBatch(ctx context.Context, workingDir string, b *types.Batch, fmtr Formatter) error {
	path := filepath.Join(workingDir, responsesFileFor(b.RequestFile))
	if existing, err := ReadResponses(path); err != nil {
		return err
	} else if existing != nil {
		// Already written by a previous session; nothing to download or count.
		for range existing {
			p.tracker.SkipCompleted()
		}
		b.Status = types.BatchDownloaded
		p.storeBatch(b)
		return nil
	}

	reqs, err := ReadRequests(filepath.Join(workingDir, b.RequestFile))
	if err != nil {
		return err
	}
	resps, err := p.backend.Download(ctx, b, reqs, fmtr)
	if err != nil {
		return fmt.Errorf("processor: download batch %s: %w", b.ID, err)
	}
	for _, resp := range resps {
		if resp.CreatedAt.IsZero() {
			resp.CreatedAt = b.CreatedAt
		}
		if resp.FinishedAt.IsZero() {
			resp.FinishedAt = b.FinishedAt
		}
		if resp.Failed() {
			p.tracker.Fail()
			continue
		}
		resp.Cost = Cost(p.cfg.Model, resp.Usage, true)
		fmtr.ParseResponse(resp)
		if resp.Failed() {
			p.tracker.Fail()
		} else {
			p.tracker.Succeed(resp)
		}
	}

	writer, err := OpenResponseWriter(path)
	if err != nil {
		return err
	}
	for _, resp := range resps {
		if err := writer.Write(resp); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	b.Status = types.BatchDownloaded
	p.storeBatch(b)
	p.tracker.TrackBatch(b.ID, b.Status)

	succeeded := b.Counts.Failed == 0
	if (succeeded && p.cfg.DeleteSuccessfulBatchFiles) || (!succeeded && p.cfg.DeleteFailedBatchFiles) {
		if err := p.backend.CleanupFiles(ctx, b, succeeded); err != nil {
			return fmt.Errorf("processor: cleanup batch %s: %w", b.ID, err)
		}
	}
	return nil
}

// responsesFileFor maps requests_N.jsonl to responses_N.jsonl.
func responsesFileFor(requestFile string) string {
	var idx int
	if _, err := fmt.Sscanf(requestFile, "requests_%d.jsonl", &idx); err != nil {
		return ResponsesFile
	}
	return BatchResponsesFile(idx)
}

func (p *Batch) storeBatch(b *types.Batch) {
	p.mu.Lock()
	p.batches[b.RequestFile] = b
	p.mu.Unlock()
}

func (p *Batch) loadBatchObjects(workingDir string) error {
	path := filepath.Join(workingDir, BatchObjectsFile)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("processor: open %s: %w", path, err)
	}
	defer f.Close()

	p.mu.Lock()
	defer p.mu.Unlock()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		b := new(types.Batch)
		if err := json.Unmarshal(line, b); err != nil {
			return fmt.Errorf("processor: decode batch object: %w", err)
		}
		p.batches[b.RequestFile] = b
	}
	return scanner.Err()
}

// writeBatchObjects atomically rewrites the batch tracker file.
func (p *Batch) writeBatchObjects(workingDir string) error {
	p.mu.Lock()
	files := make([]string, 0, len(p.batches))
	for file := range p.batches {
		files = append(files, file)
	}
	sort.Strings(files)
	var buf bytes.Buffer
	for _, file := range files {
		bs, err := json.Marshal(p.batches[file])
		if err != nil {
			p.mu.Unlock()
			return fmt.Errorf("processor: encode batch object: %w", err)
		}
		buf.Write(bs)
		buf.WriteByte('\n')
	}
	p.mu.Unlock()

	path := filepath.Join(workingDir, BatchObjectsFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
