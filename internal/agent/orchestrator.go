package agent

import (
	"context"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/eventlog"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// deadlockSweepInterval and deadlockCutoffSeconds bound how long a work
// item may sit in_flight before the Orchestrator reassigns it (spec §4.2
// deadlock detection).
const (
	deadlockSweepInterval = 30 * time.Second
	deadlockCutoffSeconds = 300.0
)

// Orchestrator owns the work queue: it is the only goroutine that ever
// mutates it, reached exclusively through its mailbox (spec §4.2).
type Orchestrator struct {
	id       agentid.ID
	inbox    Mailbox
	queue    *work.Queue
	events   *eventlog.Log
	registry *branch.Registry
	now      func() int64
}

// NewOrchestrator creates an Orchestrator with id and a fresh empty queue.
// registry may be nil, in which case the orchestrator never recalculates
// Branch Registry timeouts as items move through the pipeline (spec §4.6
// update_work_items/update_phase).
func NewOrchestrator(id agentid.ID, events *eventlog.Log, registry *branch.Registry) *Orchestrator {
	return &Orchestrator{
		id:       id,
		inbox:    NewMailbox(),
		queue:    work.NewQueue(),
		events:   events,
		registry: registry,
		now:      func() int64 { return time.Now().Unix() },
	}
}

// Mailbox returns the channel other agents and the CLI send requests on.
func (o *Orchestrator) Mailbox() Mailbox { return o.inbox }

// Run processes inbox messages and periodic deadlock sweeps until ctx is
// cancelled. Intended to run as the sole goroutine driving o.queue (spec
// §2's single-writer mailbox requirement).
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(deadlockSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-o.inbox:
			fn(ctx)
		case <-ticker.C:
			o.sweepDeadlocks(ctx)
		}
	}
}

func (o *Orchestrator) sweepDeadlocks(ctx context.Context) {
	for _, item := range o.queue.InFlightOlderThan(deadlockCutoffSeconds, o.now) {
		if err := o.queue.Reassign(item.ID); err != nil {
			continue
		}
		if o.events != nil {
			_, _ = o.events.Append(ctx, o.id, "work_item.reassigned_deadlock", string(item.ID), "", map[string]any{
				"previous_agent": item.AssignedAgent.String(),
			})
		}
	}
}

// SubmitWork enqueues a new work item and returns its id (spec §4.2
// SubmitWork).
func (o *Orchestrator) SubmitWork(ctx context.Context, desc string, role agentid.Role, startPhase phase.Phase, priority int) (work.ItemID, error) {
	reply := make(chan work.ItemID, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		item := work.New(desc, role, startPhase, priority)
		id := o.queue.Submit(item)
		if o.events != nil {
			_, _ = o.events.Append(ctx, o.id, "work_item.submitted", string(id), "", map[string]any{
				"description": desc, "role": string(role),
			})
		}
		reply <- id
	}); err != nil {
		return "", err
	}
	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// AdvancePhase advances itemID to its next phase (spec §4.2 AdvancePhase).
// On success it also recalculates the dynamic timeout of any Branch Registry
// assignment holding itemID, since a phase change shifts its factor (spec
// §4.6 update_phase).
func (o *Orchestrator) AdvancePhase(ctx context.Context, itemID work.ItemID) error {
	reply := make(chan error, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		err := o.queue.AdvancePhase(itemID)
		if err == nil && o.registry != nil {
			o.registry.UpdatePhase(itemID, o.queue.PhasesSnapshot())
		}
		reply <- err
	}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestWork returns the next pending item for role, if any (spec §4.2
// RequestWork). If agent already holds a Branch Registry assignment, the
// newly claimed item is attached to it and its timeout recalculated (spec
// §4.6 update_work_items).
func (o *Orchestrator) RequestWork(ctx context.Context, role agentid.Role, agent agentid.ID) (*work.Item, bool, error) {
	reply := make(chan RequestWorkResult, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		item, ok := o.queue.RequestWork(role, agent)
		if ok && o.registry != nil {
			if assignment, held := o.registry.GetAgentAssignment(agent); held {
				items := append(append([]work.ItemID(nil), assignment.WorkItems...), item.ID)
				_ = o.registry.UpdateWorkItems(agent, items, o.queue.PhasesSnapshot())
			}
		}
		reply <- RequestWorkResult{Item: item, OK: ok}
	}); err != nil {
		return nil, false, err
	}
	select {
	case res := <-reply:
		return res.Item, res.OK, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// CompleteWork records result against itemID (spec §4.2 CompleteWork).
func (o *Orchestrator) CompleteWork(ctx context.Context, itemID work.ItemID, result work.Result) (*work.Item, error) {
	reply := make(chan CompleteWorkResult, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		item, err := o.queue.Complete(itemID, result)
		if err == nil && o.events != nil {
			kind := "work_item.completed"
			if !result.Success {
				kind = "work_item.requeued"
				if item.Status == work.StatusCompleted {
					kind = "work_item.failed"
				}
			}
			_, _ = o.events.Append(ctx, o.id, kind, string(itemID), "", map[string]any{
				"success": result.Success, "error": result.Error,
			})
		}
		reply <- CompleteWorkResult{Item: item, Err: err}
	}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.Item, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetStatus returns a snapshot of the work queue (spec §4.2 GetStatus).
func (o *Orchestrator) GetStatus(ctx context.Context) (work.Snapshot, error) {
	reply := make(chan work.Snapshot, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		reply <- o.queue.Snapshot()
	}); err != nil {
		return work.Snapshot{}, err
	}
	select {
	case snap := <-reply:
		return snap, nil
	case <-ctx.Done():
		return work.Snapshot{}, ctx.Err()
	}
}
