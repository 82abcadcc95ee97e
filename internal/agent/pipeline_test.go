package agent

import (
	"context"
	"testing"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/corectx"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

type fixedGenerator struct {
	text string
	err  error
}

func (g fixedGenerator) Generate(_ context.Context, _ corectx.GenerateOptions) (corectx.GenerateResult, error) {
	if g.err != nil {
		return corectx.GenerateResult{}, g.err
	}
	return corectx.GenerateResult{Text: g.text}, nil
}

func runPipeline(t *testing.T, gen corectx.ContentGenerator) (*Orchestrator, *Pipeline, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	o := NewOrchestrator(agentid.New(), nil, nil)
	opt := NewOptimizer(agentid.New(), nil, nil)
	rev := NewReviewer(agentid.New(), conflict.New())
	ex := NewExecutor(agentid.New(), gen, nil, nil)

	go func() { _ = o.Run(ctx) }()
	go func() { _ = opt.Run(ctx) }()
	go func() { _ = rev.Run(ctx) }()
	go func() { _ = ex.Run(ctx) }()

	p := NewPipeline(agentid.New(), agentid.RoleExecutor, nil, o, opt, rev, ex)
	t.Cleanup(cancel)
	return o, p, cancel
}

func waitForStatus(t *testing.T, o *Orchestrator, id work.ItemID, want work.Status) *work.Item {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := o.GetStatus(context.Background())
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		for _, bucket := range [][]*work.Item{snap.Pending, snap.InFlight, snap.Completed} {
			for _, item := range bucket {
				if item.ID == id && item.Status == want {
					return item
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("item %s did not reach status %s in time", id, want)
	return nil
}

func TestPipelineDrivesCleanItemToCompletion(t *testing.T) {
	o, p, _ := runPipeline(t, fixedGenerator{text: "clean output"})
	ctx := context.Background()

	id, err := o.SubmitWork(ctx, "do the thing", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	if err != nil {
		t.Fatalf("SubmitWork: %v", err)
	}

	if err := p.driveOne(ctx); err != nil {
		t.Fatalf("driveOne: %v", err)
	}

	item := waitForStatus(t, o, id, work.StatusCompleted)
	if item.Phase != phase.Complete {
		t.Fatalf("expected phase Complete after an approved review, got %s", item.Phase)
	}
}

func TestPipelineRequeuesRejectedItemWithFeedback(t *testing.T) {
	o, p, _ := runPipeline(t, fixedGenerator{text: "left a TODO for later"})
	ctx := context.Background()

	id, err := o.SubmitWork(ctx, "do the thing", agentid.RoleExecutor, phase.PlanToArtifacts, 5)
	if err != nil {
		t.Fatalf("SubmitWork: %v", err)
	}

	if err := p.driveOne(ctx); err != nil {
		t.Fatalf("driveOne: %v", err)
	}

	item := waitForStatus(t, o, id, work.StatusPending)
	if item.ReviewAttempt != 1 {
		t.Fatalf("expected review_attempt 1 after a rejected cycle, got %d", item.ReviewAttempt)
	}
	if len(item.ReviewFeedback) == 0 {
		t.Fatal("expected review feedback to be recorded on the requeued item")
	}
}

func TestPipelineIgnoresEmptyQueue(t *testing.T) {
	_, p, _ := runPipeline(t, fixedGenerator{text: "unused"})
	if err := p.driveOne(context.Background()); err != nil {
		t.Fatalf("driveOne on an empty queue should be a no-op, got %v", err)
	}
}
