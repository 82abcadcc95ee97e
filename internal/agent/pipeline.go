package agent

import (
	"context"
	"strings"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// pollInterval is how often the Pipeline checks for pending work when the
// queue has nothing for its role, mirroring the Cross-Process Coordinator's
// own poll-based wakeup (spec §4.10) rather than adding a second dedicated
// wakeup channel to the Orchestrator's mailbox.
const pollInterval = 200 * time.Millisecond

// Pipeline drives a single WorkItem through Optimizer -> Executor -> Reviewer
// -> Orchestrator.CompleteWork, the review loop spec §4.2 describes for
// PlanToArtifacts items: "a PlanToArtifacts item that returns from the
// Reviewer with success=false and review_attempt < N re-enters the queue
// with review_feedback set". The four agents only expose request/reply
// mailbox operations; nothing else in the core calls them in sequence, so
// this is the piece that actually walks a WorkItem from RequestWork through
// to CompleteWork, the same role a Runner's phase-sequencing Run method
// plays over quorum-ai's Analyze/Plan/Execute calls
// (quorum-ai/internal/service/workflow/runner.go), generalized here from one
// in-process call chain to calls across four independent mailboxes.
type Pipeline struct {
	id           agentid.ID
	role         agentid.Role
	tags         []string
	orchestrator *Orchestrator
	optimizer    *Optimizer
	reviewer     *Reviewer
	executor     *Executor
}

// NewPipeline creates a Pipeline that pulls work owned by role (normally
// agentid.RoleExecutor, the only role spec §4.4/§4.5 describe as flowing
// through Consolidate -> Execute -> Review) and drives it to completion.
func NewPipeline(id agentid.ID, role agentid.Role, tags []string, o *Orchestrator, opt *Optimizer, rev *Reviewer, ex *Executor) *Pipeline {
	return &Pipeline{id: id, role: role, tags: tags, orchestrator: o, optimizer: opt, reviewer: rev, executor: ex}
}

// Run polls the Orchestrator for work owned by p.role and drives each item
// it receives through one full Consolidate/Execute/Review/Complete cycle,
// until ctx is cancelled. One item is driven at a time per Pipeline; the
// caller runs as many Pipelines as it wants concurrency for.
func (p *Pipeline) Run(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.driveOne(ctx); err != nil {
				return err
			}
		}
	}
}

// driveOne pulls at most one item and runs it through the full cycle.
// Errors from individual stages are swallowed into a failed WorkResult
// rather than propagated, so one bad item cannot kill the pipeline's
// supervised goroutine; only ctx cancellation (surfaced through send's
// plumbing) is returned to the caller.
func (p *Pipeline) driveOne(ctx context.Context) error {
	item, ok, err := p.orchestrator.RequestWork(ctx, p.role, p.id)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	cc, err := p.optimizer.Consolidate(ctx, item, p.tags)
	if err != nil {
		return err
	}

	result, err := p.executor.Execute(ctx, item, cc)
	if err != nil {
		return err
	}

	verdict, err := p.reviewer.Review(ctx, item, result)
	if err != nil {
		return err
	}

	final := resultFromVerdict(item.ID, result, verdict)
	if _, err := p.orchestrator.CompleteWork(ctx, item.ID, final); err != nil {
		return err
	}
	if final.Success && !item.IsTerminal() {
		_ = p.orchestrator.AdvancePhase(ctx, item.ID)
	}
	return nil
}

// resultFromVerdict folds the Reviewer's gate-level verdict back into the
// WorkResult the Orchestrator's queue understands: approved gates complete
// the item, a Fatal verdict requeues it without spending a review attempt,
// and any other rejection requeues it with the failed gates' details as
// review_feedback (spec §4.2 review loop, §4.4 Reviewer gates).
func resultFromVerdict(id work.ItemID, executed work.Result, verdict Verdict) work.Result {
	if verdict.Approved {
		return work.Result{ItemID: id, Success: true, Data: executed.Data, Duration: executed.Duration, MemoryIDs: executed.MemoryIDs}
	}
	return work.Result{
		ItemID:   id,
		Success:  false,
		Fatal:    verdict.Fatal,
		Error:    strings.Join(verdict.Feedback, "; "),
		Duration: executed.Duration,
	}
}
