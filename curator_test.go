package curator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bespokelabs/curator-go/dataset"
	"github.com/bespokelabs/curator-go/db"
	"github.com/bespokelabs/curator-go/processor"
)

func TestNewValidation(t *testing.T) {
	if _, err := New[topicRow, string](nil, nil, WithModel("gpt-4o-mini")); !errors.Is(err, ErrMissingPromptFunc) {
		t.Errorf("nil prompt func, expect ErrMissingPromptFunc, got:%v", err)
	}
	if _, err := New[topicRow, string](topicPrompt, nil); !errors.Is(err, ErrMissingModel) {
		t.Errorf("missing model, expect ErrMissingModel, got:%v", err)
	}
}

func TestDetermineBackend(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-4o-mini", processor.BackendOpenAI},
		{"GPT-4o", processor.BackendOpenAI},
		{"o1-preview", processor.BackendOpenAI},
		{"claude-3-5-sonnet-20241022", processor.BackendAnthropic},
		{"gemini-1.5-flash", processor.BackendGemini},
		{"command-r-plus", processor.BackendInstructor},
		{"llama-3.1-70b", processor.BackendInstructor},
	}
	for _, tt := range tests {
		if got := determineBackend(tt.model); got != tt.want {
			t.Errorf("determineBackend(%s), expect:%s, got:%s", tt.model, tt.want, got)
		}
	}
}

func TestBackendOverride(t *testing.T) {
	llm, err := New[topicRow, string](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithBackend(processor.BackendInstructor),
	)
	if err != nil {
		t.Fatal(err)
	}
	if got := llm.Backend(); got != processor.BackendInstructor {
		t.Errorf("backend, expect:instructor, got:%s", got)
	}
}

// recordingProcessor captures the working directories Run is handed.
type recordingProcessor struct {
	mu   sync.Mutex
	dirs []string
}

func (p *recordingProcessor) Backend() string { return "fake" }

func (p *recordingProcessor) Run(_ context.Context, _ *dataset.Dataset, workingDir string, _ processor.Formatter) (*dataset.Dataset, error) {
	p.mu.Lock()
	p.dirs = append(p.dirs, workingDir)
	p.mu.Unlock()
	return dataset.New(), nil
}

func TestRunCachesByFingerprint(t *testing.T) {
	cacheDir := t.TempDir()
	proc := &recordingProcessor{}
	llm, err := New[topicRow, string](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithProcessor(proc),
		WithCacheDir(cacheDir),
		WithRunName("poems"),
	)
	if err != nil {
		t.Fatal(err)
	}
	ds, err := dataset.FromList([]topicRow{{Topic: "go"}})
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if _, err := llm.Run(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if _, err := llm.Run(ctx, ds); err != nil {
		t.Fatal(err)
	}
	if len(proc.dirs) != 2 || proc.dirs[0] != proc.dirs[1] {
		t.Fatalf("identical runs got different dirs: %v", proc.dirs)
	}
	if filepath.Dir(proc.dirs[0]) != cacheDir {
		t.Errorf("run dir outside cache dir: %s", proc.dirs[0])
	}

	// A different dataset lands in a different run dir.
	other, err := dataset.FromList([]topicRow{{Topic: "rust"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := llm.Run(ctx, other); err != nil {
		t.Fatal(err)
	}
	if proc.dirs[2] == proc.dirs[0] {
		t.Error("different datasets shared a run dir")
	}
}

type poemFormat struct {
	Poem string `json:"poem"`
}

type recipeFormat struct {
	Ingredients []string `json:"ingredients"`
	Steps       []string `json:"steps"`
}

func TestRunCacheKeyedByResponseFormatSchema(t *testing.T) {
	cacheDir := t.TempDir()
	proc := &recordingProcessor{}
	run := func(format any) {
		t.Helper()
		llm, err := New[topicRow, string](topicPrompt, nil,
			WithModel("gpt-4o-mini"),
			WithProcessor(proc),
			WithCacheDir(cacheDir),
			WithRunName("formats"),
			WithResponseFormat(format),
		)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := llm.Run(context.Background(), nil); err != nil {
			t.Fatal(err)
		}
	}
	run(poemFormat{})
	run(recipeFormat{})
	if proc.dirs[0] == proc.dirs[1] {
		t.Errorf("different response formats shared run dir %s", proc.dirs[0])
	}

	// Anonymous formats have no type name; only their schemas tell them apart.
	run(struct {
		Title string `json:"title"`
	}{})
	run(struct {
		Count int `json:"count"`
	}{})
	if proc.dirs[2] == proc.dirs[3] {
		t.Errorf("different anonymous formats shared run dir %s", proc.dirs[2])
	}
}

func TestRunStoresMetadata(t *testing.T) {
	cacheDir := t.TempDir()
	proc := &recordingProcessor{}
	llm, err := New[topicRow, string](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithProcessor(proc),
		WithCacheDir(cacheDir),
		WithRunName("poems"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := llm.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}

	mdb, err := db.Open(filepath.Join(cacheDir, metadataFile))
	if err != nil {
		t.Fatal(err)
	}
	defer mdb.Close()
	runs, err := mdb.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("stored runs, expect:1, got:%d", len(runs))
	}
	rec := runs[0]
	if rec.Model != "gpt-4o-mini" || rec.RunName != "poems" || rec.Backend != "fake" {
		t.Errorf("metadata mismatch: %+v", rec)
	}
	if filepath.Base(proc.dirs[0]) != rec.RunHash {
		t.Errorf("run dir %s does not match stored hash %s", proc.dirs[0], rec.RunHash)
	}
}

func TestRunCacheDisabled(t *testing.T) {
	proc := &recordingProcessor{}
	llm, err := New[topicRow, string](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithProcessor(proc),
		WithCacheDir(t.TempDir()),
		WithCacheDisabled(),
	)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if _, err := llm.Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := llm.Run(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if proc.dirs[0] == proc.dirs[1] {
		t.Error("disabled cache reused a run dir")
	}
}

func TestCancelBatchesRequiresBatchMode(t *testing.T) {
	llm, err := New[topicRow, string](topicPrompt, nil,
		WithModel("gpt-4o-mini"),
		WithProcessor(&recordingProcessor{}),
		WithCacheDir(t.TempDir()),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := llm.CancelBatches(context.Background(), nil); !errors.Is(err, ErrNotBatchMode) {
		t.Errorf("expect ErrNotBatchMode, got:%v", err)
	}
}
