// Package work implements the WorkItem/WorkQueue/WorkResult data model owned
// by the Orchestrator agent (spec §3, §4.2).
package work

import (
	"time"

	"github.com/google/uuid"
	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
)

// ItemID uniquely identifies a work item within the queue.
type ItemID string

// NewItemID generates a fresh work item id.
func NewItemID() ItemID {
	return ItemID(uuid.NewString())
}

// Status is the lifecycle state of a WorkItem within the queue (distinct
// from Phase, which tracks pipeline progress once an item is in flight).
type Status string

const (
	StatusPending    Status = "pending"
	StatusInFlight   Status = "in_flight"
	StatusCompleted  Status = "completed"
)

// Item is a unit of work the Orchestrator routes through the four-phase
// pipeline. Created and mutated only by the Orchestrator (spec §3 WorkItem).
type Item struct {
	ID                 ItemID
	Description        string
	OwningRole         agentid.Role
	Phase              phase.Phase
	Priority           int // 0-10, higher runs first
	Status             Status
	AssignedAgent      agentid.ID
	ConsolidatedCtxRef string
	ReviewFeedback     []string
	ReviewAttempt      uint32
	CreatedAt          time.Time
	AssignedAt         *time.Time
	CompletedAt        *time.Time
}

// New creates a pending work item at PromptToSpec with review_attempt 0.
func New(description string, role agentid.Role, startPhase phase.Phase, priority int) *Item {
	return &Item{
		ID:          NewItemID(),
		Description: description,
		OwningRole:  role,
		Phase:       startPhase,
		Priority:    clampPriority(priority),
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
}

func clampPriority(p int) int {
	if p < 0 {
		return 0
	}
	if p > 10 {
		return 10
	}
	return p
}

// IsTerminal reports whether the item has reached the Complete phase.
func (i *Item) IsTerminal() bool {
	return i.Phase.IsTerminal()
}

// AdvancePhase transitions the item to the next pipeline phase. Illegal once
// the item is already terminal (spec §4.2 AdvancePhase).
func (i *Item) AdvancePhase() error {
	if i.IsTerminal() {
		return corerr.InvalidOperation(corerr.CodePhaseTerminal,
			"cannot advance phase past Complete").WithDetail("item_id", string(i.ID))
	}
	next := phase.Next(i.Phase)
	if next == "" {
		return corerr.InvalidOperation(corerr.CodePhaseTerminal, "no next phase defined")
	}
	i.Phase = next
	return nil
}

// MarkInFlight assigns the item to agent and marks it in-flight.
func (i *Item) MarkInFlight(agent agentid.ID) {
	i.AssignedAgent = agent
	i.Status = StatusInFlight
	now := time.Now()
	i.AssignedAt = &now
}

// MarkCompleted marks the item as completed, terminating it regardless of
// success/failure — both outcomes are terminal from the queue's perspective
// once the Orchestrator has recorded a WorkResult (spec §4.2 CompleteWork).
func (i *Item) MarkCompleted() {
	i.Status = StatusCompleted
	now := time.Now()
	i.CompletedAt = &now
}

// RequeueForReview moves a failed PlanToArtifacts item back into the
// pending pool with updated review feedback and attempt count (spec §4.2
// review loop).
func (i *Item) RequeueForReview(feedback []string) {
	i.ReviewFeedback = feedback
	i.ReviewAttempt++
	i.Status = StatusPending
	i.AssignedAgent = agentid.ID{}
	i.AssignedAt = nil
}

// RequeueWithoutPenalty moves the item back into the pending pool without
// incrementing review_attempt, for a Fatal review result (spec §4.4: "the
// Orchestrator does NOT count them against the review_attempt budget") —
// e.g. the Reviewer couldn't even read the artifact, so this was never a
// genuine review cycle against the item's content.
func (i *Item) RequeueWithoutPenalty(feedback []string) {
	i.ReviewFeedback = feedback
	i.Status = StatusPending
	i.AssignedAgent = agentid.ID{}
	i.AssignedAt = nil
}

// ReviewBudgetExhausted reports whether the item has exceeded the maximum
// review attempts (spec §4.2: attempt >= 4 forces compressed-essentials mode;
// by convention attempt >= maxReviewAttempts forces a terminal failure).
const maxReviewAttempts = 4

func (i *Item) ReviewBudgetExhausted() bool {
	return i.ReviewAttempt >= maxReviewAttempts
}

// NeedsCompressedEssentials reports whether the Optimizer should run in
// "compressed essentials" consolidation mode for this item's current review
// attempt (spec §4.3: attempt >= 4).
func (i *Item) NeedsCompressedEssentials() bool {
	return i.ReviewAttempt >= maxReviewAttempts
}

// Result is produced by the Executor (on success/failure) and the Reviewer
// (as pass/fail) for a single work item (spec §3 WorkResult). Fatal marks a
// failure the Reviewer could not meaningfully evaluate (e.g. an unreadable
// artifact) rather than a genuine gate rejection, so CompleteWork must not
// burn a review attempt on it (spec §4.4).
type Result struct {
	ItemID    ItemID
	Success   bool
	Fatal     bool
	Data      string
	Error     string
	Duration  time.Duration
	MemoryIDs []string
}
