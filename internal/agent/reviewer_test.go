package agent

import (
	"context"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

func runReviewer(t *testing.T) *Reviewer {
	t.Helper()
	r := NewReviewer(agentid.New(), conflict.New())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = r.Run(ctx) }()
	t.Cleanup(cancel)
	return r
}

func TestReviewerApprovesCleanResult(t *testing.T) {
	r := runReviewer(t)
	item := work.New("task", agentid.RoleExecutor, phase.PlanToArtifacts, 5)

	verdict, err := r.Review(context.Background(), item, work.Result{ItemID: item.ID, Success: true, Data: "clean output"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !verdict.Approved {
		t.Fatalf("expected approval, got %+v", verdict)
	}
}

func TestReviewerRejectsUnsafeOutput(t *testing.T) {
	r := runReviewer(t)
	item := work.New("task", agentid.RoleExecutor, phase.PlanToArtifacts, 5)

	verdict, err := r.Review(context.Background(), item, work.Result{ItemID: item.ID, Success: true, Data: "here is the credential dump"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Approved {
		t.Fatal("expected rejection for unsafe output")
	}
}

func TestReviewerRejectsForbiddenMarker(t *testing.T) {
	r := runReviewer(t)
	item := work.New("task", agentid.RoleExecutor, phase.PlanToArtifacts, 5)

	verdict, err := r.Review(context.Background(), item, work.Result{ItemID: item.ID, Success: true, Data: "left a TODO for later"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Approved {
		t.Fatal("expected rejection for a forbidden placeholder marker")
	}
}

func TestReviewerMarksUnreadableArtifactFatal(t *testing.T) {
	r := runReviewer(t)
	item := work.New("task", agentid.RoleExecutor, phase.PlanToArtifacts, 5)

	verdict, err := r.Review(context.Background(), item, work.Result{ItemID: item.ID, Success: false})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Approved {
		t.Fatal("expected rejection")
	}
	if !verdict.Fatal {
		t.Fatal("expected an unreadable artifact to be flagged Fatal, not charged against the review budget")
	}
}

func TestReviewerRejectsRepeatedFeedback(t *testing.T) {
	r := runReviewer(t)
	item := work.New("task", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	item.RequeueForReview([]string{"fix the off-by-one error"})

	verdict, err := r.Review(context.Background(), item, work.Result{ItemID: item.ID, Success: true, Data: "fix the off-by-one error"})
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if verdict.Approved {
		t.Fatal("expected rejection for repeating prior feedback verbatim")
	}
}
