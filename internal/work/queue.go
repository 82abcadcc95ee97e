package work

import (
	"sort"
	"sync"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
)

// Queue is the Orchestrator's sorted work item table (spec §3 WorkQueue).
// Sort key is (priority desc, creation time asc); FIFO within a priority
// class. Owned exclusively by the Orchestrator's mailbox goroutine — the
// mutex here guards GetStatus snapshots taken from other goroutines (e.g.
// the CLI `status` command), not concurrent mutation from multiple writers.
type Queue struct {
	mu    sync.RWMutex
	items map[ItemID]*Item
	order []ItemID // insertion order, used as the FIFO tiebreak
}

// NewQueue creates an empty work queue.
func NewQueue() *Queue {
	return &Queue{items: make(map[ItemID]*Item)}
}

// Submit inserts item at its sorted position and returns its id.
func (q *Queue) Submit(item *Item) ItemID {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[item.ID] = item
	q.order = append(q.order, item.ID)
	return item.ID
}

// Get returns the item with id, if present.
func (q *Queue) Get(id ItemID) (*Item, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	item, ok := q.items[id]
	return item, ok
}

// RequestWork returns the highest-priority pending item owned by role,
// marking it in-flight with agent. Ties are broken by insertion order
// (spec §4.2 RequestWork scheduling).
func (q *Queue) RequestWork(role agentid.Role, agent agentid.ID) (*Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var candidates []*Item
	for _, id := range q.order {
		item := q.items[id]
		if item.Status == StatusPending && item.OwningRole == role {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority > candidates[j].Priority
	})
	best := candidates[0]
	best.MarkInFlight(agent)
	return best, true
}

// Complete records a WorkResult for id: success marks the item completed; a
// Fatal failure (the Reviewer couldn't evaluate the artifact at all)
// requeues it without spending a review attempt; any other failure within
// the review budget requeues it with feedback and review_attempt+1 (spec
// §4.2 review loop); otherwise it is marked completed as a terminal
// failure.
func (q *Queue) Complete(id ItemID, result Result) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return nil, corerr.NotFound("work item", string(id))
	}
	if result.Success {
		item.MarkCompleted()
		return item, nil
	}
	if result.Fatal {
		item.RequeueWithoutPenalty(splitFeedback(result.Error))
		return item, nil
	}
	if item.ReviewBudgetExhausted() {
		item.MarkCompleted()
		return item, nil
	}
	item.RequeueForReview(splitFeedback(result.Error))
	return item, nil
}

func splitFeedback(s string) []string {
	if s == "" {
		return nil
	}
	return []string{s}
}

// AdvancePhase advances id to its next phase. Fails with InvalidOperation if
// the item is already terminal (spec §4.2 AdvancePhase).
func (q *Queue) AdvancePhase(id ItemID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return corerr.NotFound("work item", string(id))
	}
	return item.AdvancePhase()
}

// PhasesSnapshot returns every tracked item's current phase, for recomputing
// the Branch Registry's dynamic timeouts as items move through the pipeline
// (spec §4.6 update_phase).
func (q *Queue) PhasesSnapshot() map[ItemID]phase.Phase {
	q.mu.RLock()
	defer q.mu.RUnlock()
	phases := make(map[ItemID]phase.Phase, len(q.items))
	for id, item := range q.items {
		phases[id] = item.Phase
	}
	return phases
}

// Snapshot is a point-in-time view of the queue for GetStatus (spec §4.2).
type Snapshot struct {
	Pending   []*Item
	InFlight  []*Item
	Completed []*Item
}

// Snapshot returns every item bucketed by status, in FIFO order.
func (q *Queue) Snapshot() Snapshot {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var snap Snapshot
	for _, id := range q.order {
		item := q.items[id]
		switch item.Status {
		case StatusPending:
			snap.Pending = append(snap.Pending, item)
		case StatusInFlight:
			snap.InFlight = append(snap.InFlight, item)
		case StatusCompleted:
			snap.Completed = append(snap.Completed, item)
		}
	}
	sort.SliceStable(snap.Pending, func(i, j int) bool { return snap.Pending[i].Priority > snap.Pending[j].Priority })
	return snap
}

// InFlightOlderThan returns every in-flight item whose AssignedAt predates
// the deadlock-detection cutoff, for the Orchestrator's deadlock sweep
// (spec §4.2).
func (q *Queue) InFlightOlderThan(cutoffSeconds float64, now func() int64) []*Item {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var stuck []*Item
	for _, id := range q.order {
		item := q.items[id]
		if item.Status == StatusInFlight && item.AssignedAt != nil {
			if float64(now()-item.AssignedAt.Unix()) > cutoffSeconds {
				stuck = append(stuck, item)
			}
		}
	}
	return stuck
}

// Reassign marks a stuck item back to pending with a fresh empty assignment,
// used by deadlock recovery to hand it to a different agent on next
// RequestWork (spec §4.2 deadlock detection).
func (q *Queue) Reassign(id ItemID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return corerr.NotFound("work item", string(id))
	}
	item.Status = StatusPending
	item.AssignedAgent = agentid.ID{}
	item.AssignedAt = nil
	return nil
}

// Fail marks id as a terminal failure, used when deadlock recovery gives up
// on reassignment (spec §4.2: "transitions it to Failed").
func (q *Queue) Fail(id ItemID, reason string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, corerr.NotFound("work item", string(id))
	}
	item.ReviewFeedback = append(item.ReviewFeedback, reason)
	item.MarkCompleted()
	return item, nil
}
