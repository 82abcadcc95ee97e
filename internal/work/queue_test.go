package work

import (
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
)

func TestQueueFIFOWithinPriority(t *testing.T) {
	q := NewQueue()
	low := New("first", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	high := New("second", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	q.Submit(low)
	q.Submit(high)

	agent := agentid.New()
	got, ok := q.RequestWork(agentid.RoleExecutor, agent)
	if !ok || got.ID != low.ID {
		t.Fatalf("expected FIFO tiebreak to return %q first, got %+v", low.ID, got)
	}
}

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue()
	lowPri := New("low", agentid.RoleExecutor, phase.PlanToArtifacts, 1)
	highPri := New("high", agentid.RoleExecutor, phase.PlanToArtifacts, 9)
	q.Submit(lowPri)
	q.Submit(highPri)

	got, ok := q.RequestWork(agentid.RoleExecutor, agentid.New())
	if !ok || got.ID != highPri.ID {
		t.Fatalf("expected higher priority item first, got %+v", got)
	}
}

func TestCompleteSuccessTerminates(t *testing.T) {
	q := NewQueue()
	item := New("work", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	q.Submit(item)
	agent := agentid.New()
	q.RequestWork(agentid.RoleExecutor, agent)

	updated, err := q.Complete(item.ID, Result{ItemID: item.ID, Success: true})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Fatalf("expected completed, got %v", updated.Status)
	}
}

func TestCompleteFailureRequeuesUntilBudgetExhausted(t *testing.T) {
	q := NewQueue()
	item := New("work", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	q.Submit(item)

	for i := 0; i < 4; i++ {
		q.RequestWork(agentid.RoleExecutor, agentid.New())
		updated, err := q.Complete(item.ID, Result{ItemID: item.ID, Success: false, Error: "gate failed"})
		if err != nil {
			t.Fatalf("Complete attempt %d: %v", i, err)
		}
		if i < 3 {
			if updated.Status != StatusPending {
				t.Fatalf("attempt %d: expected requeue, got %v", i, updated.Status)
			}
		}
	}

	// Attempt 5 (review_attempt now 4, exhausted) must terminate as failed.
	q.RequestWork(agentid.RoleExecutor, agentid.New())
	final, err := q.Complete(item.ID, Result{ItemID: item.ID, Success: false, Error: "still failing"})
	if err != nil {
		t.Fatalf("final Complete: %v", err)
	}
	if final.Status != StatusCompleted {
		t.Fatalf("expected terminal failure after exhausting review budget, got %v", final.Status)
	}
}

func TestCompleteFatalDoesNotSpendReviewBudget(t *testing.T) {
	q := NewQueue()
	item := New("work", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	q.Submit(item)
	q.RequestWork(agentid.RoleExecutor, agentid.New())

	updated, err := q.Complete(item.ID, Result{ItemID: item.ID, Success: false, Fatal: true, Error: "artifact unreadable"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if updated.Status != StatusPending {
		t.Fatalf("expected requeue after a fatal review, got %v", updated.Status)
	}
	if updated.ReviewAttempt != 0 {
		t.Fatalf("expected review_attempt to stay 0 after a fatal review, got %d", updated.ReviewAttempt)
	}
}

func TestAdvancePhasePastCompleteFails(t *testing.T) {
	q := NewQueue()
	item := New("work", agentid.RoleExecutor, phase.Complete, 0)
	q.Submit(item)
	if err := q.AdvancePhase(item.ID); err == nil {
		t.Fatal("expected error advancing past Complete")
	}
}
