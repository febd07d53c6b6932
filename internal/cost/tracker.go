package cost

import (
	"sync"
	"time"

	"github.com/haasonsaas/magi/pkg/models"
)

// ModelTotals accumulates usage for a single model.
type ModelTotals struct {
	Cost         float64
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
	CallCount    int64
}

// Snapshot is a point-in-time, copy-safe view of Tracker state.
type Snapshot struct {
	PerModel map[string]ModelTotals
	Total    ModelTotals
	Since    time.Time
}

// Tracker accumulates per-model token usage and USD cost for a run.
// Updates are commutative additions under a single mutex (§3): producers
// (Model Provider streams, sub-agents) call AddUsage concurrently and
// totals converge regardless of arrival order.
type Tracker struct {
	mu       sync.Mutex
	perModel map[string]*ModelTotals
	total    ModelTotals
	since    time.Time
}

// NewTracker creates an empty Tracker anchored at the current wall time.
func NewTracker() *Tracker {
	return &Tracker{
		perModel: make(map[string]*ModelTotals),
		since:    time.Now(),
	}
}

// AddUsage folds a reported Usage into the per-model and global totals. If
// u.Cost is zero but the model has known pricing, the cost is estimated
// from the token counts.
func (t *Tracker) AddUsage(u models.Usage) {
	cost := u.Cost
	if cost == 0 {
		if p, ok := Resolve(u.Model); ok {
			cost = Estimate(u.InputTokens, u.OutputTokens, u.CachedTokens, p)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	mt, ok := t.perModel[u.Model]
	if !ok {
		mt = &ModelTotals{}
		t.perModel[u.Model] = mt
	}
	mt.Cost += cost
	mt.InputTokens += int64(u.InputTokens)
	mt.OutputTokens += int64(u.OutputTokens)
	mt.CachedTokens += int64(u.CachedTokens)
	mt.CallCount++

	t.total.Cost += cost
	t.total.InputTokens += int64(u.InputTokens)
	t.total.OutputTokens += int64(u.OutputTokens)
	t.total.CachedTokens += int64(u.CachedTokens)
	t.total.CallCount++
}

// Snapshot returns a copy-safe view of the tracker's current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	perModel := make(map[string]ModelTotals, len(t.perModel))
	for model, mt := range t.perModel {
		perModel[model] = *mt
	}

	return Snapshot{
		PerModel: perModel,
		Total:    t.total,
		Since:    t.since,
	}
}

// TotalCost returns the accumulated USD cost across all models.
func (t *Tracker) TotalCost() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total.Cost
}

// Reset clears all accumulated totals and re-anchors the wall-time start.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.perModel = make(map[string]*ModelTotals)
	t.total = ModelTotals{}
	t.since = time.Now()
}
