package processor

import (
	"sync"
	"testing"
	"time"

	"github.com/bespokelabs/curator-go/types"
)

func TestTrackerCounters(t *testing.T) {
	tr := NewTracker()
	if tr.SessionID() == "" {
		t.Error("empty session id")
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Start()
			tr.Succeed(&types.Response{
				Usage: types.TokenUsage{PromptTokens: 10, CompletionTokens: 5},
				Cost:  0.01,
			})
		}()
	}
	wg.Wait()
	tr.Fail()
	tr.SkipCompleted()

	snap := tr.Snapshot()
	if snap.Started != 10 || snap.Succeeded != 10 {
		t.Errorf("started/succeeded, expect:10/10, got:%d/%d", snap.Started, snap.Succeeded)
	}
	if snap.Failed != 1 || snap.AlreadyCompleted != 1 {
		t.Errorf("failed/skipped, expect:1/1, got:%d/%d", snap.Failed, snap.AlreadyCompleted)
	}
	if snap.Usage.PromptTokens != 100 || snap.Usage.CompletionTokens != 50 || snap.Usage.TotalTokens != 150 {
		t.Errorf("usage mismatch: %+v", snap.Usage)
	}
}

func TestTrackerPause(t *testing.T) {
	tr := NewTracker()
	if d := tr.PauseRemaining(); d != 0 {
		t.Errorf("fresh tracker paused for %v", d)
	}
	tr.PauseFor(time.Minute)
	if d := tr.PauseRemaining(); d <= 0 || d > time.Minute {
		t.Errorf("pause remaining out of range: %v", d)
	}
	// A shorter pause must not shrink the gate.
	tr.PauseFor(time.Millisecond)
	if d := tr.PauseRemaining(); d < 30*time.Second {
		t.Errorf("shorter pause shrank the gate to %v", d)
	}
	if got := tr.Snapshot().RateLimitPauses; got != 2 {
		t.Errorf("pause count, expect:2, got:%d", got)
	}
}

func TestTrackerBatches(t *testing.T) {
	tr := NewTracker()
	tr.TrackBatch("batch_a", types.BatchSubmitted)
	tr.TrackBatch("batch_a", types.BatchFinished)
	tr.TrackBatch("batch_b", types.BatchSubmitted)
	snap := tr.Snapshot()
	if len(snap.Batches) != 2 {
		t.Fatalf("batch count, expect:2, got:%d", len(snap.Batches))
	}
	if snap.Batches["batch_a"] != types.BatchFinished {
		t.Errorf("batch_a status, expect:finished, got:%s", snap.Batches["batch_a"])
	}
}
