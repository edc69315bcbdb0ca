// Package curator generates synthetic datasets by applying LLM completions
// to every row of an input dataset, with run caching, rate limiting,
// structured output and provider batch APIs.
//
// A typed prompt func formats rows into prompts, a typed parse func turns
// completions back into rows:
//
//	recipes, err := curator.New[Cuisine, Recipe](promptFn, parseFn,
//	    curator.WithModel("gpt-4o-mini"),
//	)
//	out, err := recipes.Run(ctx, cuisines)
package curator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/db"
	"github.com/bespokelabs/curator-go/processor"
	panthropic "github.com/bespokelabs/curator-go/processor/anthropic"
	pgemini "github.com/bespokelabs/curator-go/processor/gemini"
	pinstructor "github.com/bespokelabs/curator-go/processor/instructor"
	popenai "github.com/bespokelabs/curator-go/processor/openai"
)

// Environment variables honored by every run.
const (
	// CacheDirEnv overrides the default ~/.cache/curator location.
	CacheDirEnv = "CURATOR_CACHE_DIR"
	// DisableCacheEnv ("1" or "true") randomizes run fingerprints.
	DisableCacheEnv = "CURATOR_DISABLE_CACHE"
)

const metadataFile = "metadata.db"

var (
	ErrMissingModel      = errors.New("model name is required")
	ErrMissingPromptFunc = errors.New("prompt func is required")
	ErrNotBatchMode      = errors.New("cancel requires a batch backend")
)

// LLM applies completions to datasets. I is the input row type, O the
// output row type.
type LLM[I, O any] struct {
	cfg       Config
	formatter *PromptFormatter[I, O]
}

// New builds an LLM from a prompt func, an optional parse func (nil keeps
// the default parse behavior) and options. WithModel is required unless a
// custom processor is supplied.
func New[I, O any](promptFunc PromptFunc[I], parseFunc ParseFunc[I, O], options ...Option) (*LLM[I, O], error) {
	if promptFunc == nil {
		return nil, fmt.Errorf("curator: %w", ErrMissingPromptFunc)
	}
	var cfg Config
	for _, opt := range options {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.runName == "" {
		cfg.runName = funcName(promptFunc)
	}
	return &LLM[I, O]{
		cfg: cfg,
		formatter: &PromptFormatter[I, O]{
			model:      cfg.model,
			promptFunc: promptFunc,
			parseFunc:  parseFunc,
			genParams:  cfg.genParams,
			format:     cfg.format,
		},
	}, nil
}

// Run applies completions to every dataset row and returns the output
// dataset. A nil dataset runs the prompt func once with a zero row.
// Identical runs are served from the cache directory without new requests.
func (l *LLM[I, O]) Run(ctx context.Context, ds *dataset.Dataset) (*dataset.Dataset, error) {
	proc, err := l.newProcessor()
	if err != nil {
		return nil, err
	}
	runDir, fingerprint, err := l.runDir(ds, proc.Backend())
	if err != nil {
		return nil, err
	}
	if err := l.storeMetadata(ds, proc.Backend(), runDir, fingerprint); err != nil {
		return nil, err
	}
	return proc.Run(ctx, ds, runDir, l.formatter)
}

// CancelBatches cancels the outstanding batches of the run identified by
// the dataset, for batch-mode LLMs only.
func (l *LLM[I, O]) CancelBatches(ctx context.Context, ds *dataset.Dataset) error {
	proc, err := l.newProcessor()
	if err != nil {
		return err
	}
	canceler, ok := proc.(processor.BatchCanceler)
	if !ok {
		return fmt.Errorf("curator: %w", ErrNotBatchMode)
	}
	runDir, _, err := l.runDir(ds, proc.Backend())
	if err != nil {
		return err
	}
	return canceler.CancelAll(ctx, runDir)
}

// Backend returns the resolved backend name.
func (l *LLM[I, O]) Backend() string {
	if l.cfg.backend != "" {
		return l.cfg.backend
	}
	return determineBackend(l.cfg.model)
}

// newProcessor wires the backend adapter into the online or batch engine.
func (l *LLM[I, O]) newProcessor() (processor.Processor, error) {
	if l.cfg.proc != nil {
		return l.cfg.proc, nil
	}
	pcfg := l.cfg.backendParams
	pcfg.Model = l.cfg.model
	pcfg.GenerationParams = l.cfg.genParams

	backend := l.Backend()
	if l.cfg.batch {
		switch backend {
		case processor.BackendOpenAI:
			return processor.NewBatch(pcfg, popenai.NewBatch(pcfg))
		case processor.BackendAnthropic:
			return processor.NewBatch(pcfg, panthropic.NewBatch(pcfg))
		default:
			return nil, fmt.Errorf("curator: backend %s does not support batch mode", backend)
		}
	}
	switch backend {
	case processor.BackendOpenAI:
		return processor.NewOnline(pcfg, popenai.NewOnline(pcfg))
	case processor.BackendAnthropic:
		return processor.NewOnline(pcfg, panthropic.NewOnline(pcfg))
	case processor.BackendGemini:
		return processor.NewOnline(pcfg, pgemini.NewOnline(pcfg))
	case processor.BackendInstructor:
		if l.cfg.client != nil {
			return processor.NewOnline(pcfg, pinstructor.NewOnline(l.cfg.client))
		}
		return processor.NewOnline(pcfg, pinstructor.NewOnlineFromEnv(pcfg))
	default:
		return nil, fmt.Errorf("curator: unknown backend %q", backend)
	}
}

// determineBackend picks a backend from the model name: gpt-*/o1-* go to
// openai, claude-* to anthropic, gemini-* to gemini, everything else to the
// instructor router.
func determineBackend(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.HasPrefix(m, "gpt-"), strings.HasPrefix(m, "o1-"):
		return processor.BackendOpenAI
	case strings.HasPrefix(m, "claude"):
		return processor.BackendAnthropic
	case strings.HasPrefix(m, "gemini"):
		return processor.BackendGemini
	default:
		return processor.BackendInstructor
	}
}

// runDir resolves the cache directory for this run.
func (l *LLM[I, O]) runDir(ds *dataset.Dataset, backend string) (string, string, error) {
	cacheDir := l.cfg.cacheDir
	if cacheDir == "" {
		cacheDir = os.Getenv(CacheDirEnv)
	}
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", fmt.Errorf("curator: resolve cache dir: %w", err)
		}
		cacheDir = filepath.Join(home, ".cache", "curator")
	}
	fingerprint := l.fingerprint(ds, backend)
	return filepath.Join(cacheDir, fingerprint), fingerprint, nil
}

func (l *LLM[I, O]) fingerprint(ds *dataset.Dataset, backend string) string {
	if l.cfg.disableCache || cacheDisabledByEnv() {
		return randomFingerprint()
	}
	genParams, _ := json.Marshal(l.cfg.genParams)
	return runFingerprint(
		ds.Fingerprint(),
		l.cfg.runName,
		l.cfg.model,
		l.formatter.ResponseFormatSchema(),
		l.cfg.batch,
		backend,
		genParams,
	)
}

// storeMetadata records the run in the cache-wide metadata database.
func (l *LLM[I, O]) storeMetadata(ds *dataset.Dataset, backend, runDir, fingerprint string) error {
	mdb, err := db.Open(filepath.Join(filepath.Dir(runDir), metadataFile))
	if err != nil {
		return err
	}
	defer mdb.Close()
	return mdb.StoreRun(&db.RunMetadata{
		RunHash:        fingerprint,
		SessionID:      uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		DatasetHash:    ds.Fingerprint(),
		RunName:        l.cfg.runName,
		Model:          l.cfg.model,
		Backend:        backend,
		ResponseFormat: l.formatter.ResponseFormatName(),
		BatchMode:      l.cfg.batch,
	})
}

func cacheDisabledByEnv() bool {
	switch strings.ToLower(os.Getenv(DisableCacheEnv)) {
	case "1", "true":
		return true
	}
	return false
}

// funcName derives the default run name from the prompt func symbol, so two
// different prompt funcs never share a cache directory by accident.
func funcName(fn any) string {
	if f := runtime.FuncForPC(reflect.ValueOf(fn).Pointer()); f != nil {
		return f.Name()
	}
	return "prompt"
}
