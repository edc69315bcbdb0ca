package processor

import (
	"sync"
	"time"

	"github.com/rs/xid"
	"go.uber.org/atomic"

	"github.com/bespokelabs/curator-go/types"
)

// Tracker counts request outcomes and accumulates usage for one run.
// All methods are safe for concurrent use by worker goroutines.
type Tracker struct {
	sessionID string

	started          atomic.Int64
	succeeded        atomic.Int64
	failed           atomic.Int64
	alreadyCompleted atomic.Int64
	rateLimitPauses  atomic.Int64

	promptTokens     atomic.Int64
	completionTokens atomic.Int64
	cost             atomic.Float64

	// pausedUntil gates all workers after a provider rate-limit error,
	// stored as unix nanos.
	pausedUntil atomic.Int64

	mu      sync.Mutex
	batches map[string]types.BatchStatus
}

// NewTracker returns a tracker with a fresh session id.
func NewTracker() *Tracker {
	return &Tracker{
		sessionID: xid.New().String(),
		batches:   make(map[string]types.BatchStatus),
	}
}

// SessionID identifies this tracker's run session.
func (t *Tracker) SessionID() string { return t.sessionID }

// Start records a request being sent.
func (t *Tracker) Start() { t.started.Inc() }

// Succeed records a completed response and its usage.
func (t *Tracker) Succeed(resp *types.Response) {
	t.succeeded.Inc()
	t.promptTokens.Add(int64(resp.Usage.PromptTokens))
	t.completionTokens.Add(int64(resp.Usage.CompletionTokens))
	t.cost.Add(resp.Cost)
}

// Fail records a request that exhausted its retries.
func (t *Tracker) Fail() { t.failed.Inc() }

// SkipCompleted records a request satisfied from the response cache.
func (t *Tracker) SkipCompleted() { t.alreadyCompleted.Inc() }

// PauseFor gates all workers until now+d and counts the pause.
func (t *Tracker) PauseFor(d time.Duration) {
	t.rateLimitPauses.Inc()
	until := time.Now().Add(d).UnixNano()
	for {
		cur := t.pausedUntil.Load()
		if cur >= until || t.pausedUntil.CompareAndSwap(cur, until) {
			return
		}
	}
}

// PauseRemaining returns how long workers must still wait, or zero.
func (t *Tracker) PauseRemaining() time.Duration {
	until := t.pausedUntil.Load()
	if until == 0 {
		return 0
	}
	d := time.Until(time.Unix(0, until))
	if d < 0 {
		return 0
	}
	return d
}

// TrackBatch records the last seen status of a submitted batch.
func (t *Tracker) TrackBatch(id string, status types.BatchStatus) {
	t.mu.Lock()
	t.batches[id] = status
	t.mu.Unlock()
}

// Snapshot is a point-in-time view of the tracker counters.
type Snapshot struct {
	SessionID        string
	Started          int64
	Succeeded        int64
	Failed           int64
	AlreadyCompleted int64
	RateLimitPauses  int64
	Usage            types.TokenUsage
	Cost             float64
	Batches          map[string]types.BatchStatus
}

// Snapshot captures the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	batches := make(map[string]types.BatchStatus, len(t.batches))
	for k, v := range t.batches {
		batches[k] = v
	}
	t.mu.Unlock()
	prompt := t.promptTokens.Load()
	completion := t.completionTokens.Load()
	return Snapshot{
		SessionID:        t.sessionID,
		Started:          t.started.Load(),
		Succeeded:        t.succeeded.Load(),
		Failed:           t.failed.Load(),
		AlreadyCompleted: t.alreadyCompleted.Load(),
		RateLimitPauses:  t.rateLimitPauses.Load(),
		Usage: types.TokenUsage{
			PromptTokens:     int(prompt),
			CompletionTokens: int(completion),
			TotalTokens:      int(prompt + completion),
		},
		Cost:    t.cost.Load(),
		Batches: batches,
	}
}
