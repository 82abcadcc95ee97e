package agent

import (
	"context"
	"fmt"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corectx"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// memoryK and skillK bound how many memories/skills the Optimizer pulls per
// consolidation; higher-numbered review attempts see fewer of each as the
// budget tightens (spec §4.3 consolidation modes).
const (
	memoryK = 8
	skillK  = 5
)

// Optimizer builds the ConsolidatedContext an Executor acts on, querying
// the external memory store and skill catalogue and fitting the result to
// the item's current review-attempt budget (spec §4.3).
type Optimizer struct {
	id      agentid.ID
	inbox   Mailbox
	memory  corectx.MemoryStore
	skills  corectx.SkillCatalogue
}

// NewOptimizer creates an Optimizer over the given external collaborators.
// Either may be nil, in which case that section of the context is omitted.
func NewOptimizer(id agentid.ID, memory corectx.MemoryStore, skills corectx.SkillCatalogue) *Optimizer {
	return &Optimizer{id: id, inbox: NewMailbox(), memory: memory, skills: skills}
}

// Mailbox returns the channel other agents send Consolidate requests on.
func (o *Optimizer) Mailbox() Mailbox { return o.inbox }

// Run drains the mailbox until ctx is cancelled.
func (o *Optimizer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-o.inbox:
			fn(ctx)
		}
	}
}

// Consolidate builds a ConsolidatedContext for item, tagged with tags for
// the skill catalogue lookup (spec §4.3).
func (o *Optimizer) Consolidate(ctx context.Context, item *work.Item, tags []string) (ConsolidatedContext, error) {
	reply := make(chan ConsolidateResult, 1)
	if err := send(ctx, o.inbox, func(ctx context.Context) {
		reply <- ConsolidateResult{Context: o.build(ctx, item, tags)}
	}); err != nil {
		return ConsolidatedContext{}, err
	}
	select {
	case res := <-reply:
		return res.Context, res.Err
	case <-ctx.Done():
		return ConsolidatedContext{}, ctx.Err()
	}
}

func (o *Optimizer) build(ctx context.Context, item *work.Item, tags []string) ConsolidatedContext {
	mode := o.modeFor(item)
	cc := ConsolidatedContext{
		Mode:     mode,
		Feedback: item.ReviewFeedback,
		Ref:      fmt.Sprintf("ctx/%s/%d", item.ID, item.ReviewAttempt),
	}

	if o.memory != nil && mode != ModeCompressedEssential {
		if mem, err := o.memory.Query(ctx, string(item.ID), o.budgetFor(mode, memoryK)); err == nil {
			cc.Memories = mem
		}
	}
	if o.skills != nil {
		if sk, err := o.skills.Lookup(ctx, tags, o.budgetFor(mode, skillK)); err == nil {
			cc.Skills = sk
		}
	}
	return cc
}

// modeFor picks the consolidation mode for item's current review attempt
// (spec §4.3: attempt 0 detailed, 1-3 structured_summary, 4+ compressed
// essentials — matching work.Item.NeedsCompressedEssentials's threshold).
func (o *Optimizer) modeFor(item *work.Item) ConsolidationMode {
	switch {
	case item.NeedsCompressedEssentials():
		return ModeCompressedEssential
	case item.ReviewAttempt > 0:
		return ModeStructuredSummary
	default:
		return ModeDetailed
	}
}

func (o *Optimizer) budgetFor(mode ConsolidationMode, full int) int {
	switch mode {
	case ModeStructuredSummary:
		if full > 2 {
			return full / 2
		}
		return full
	case ModeCompressedEssential:
		return 1
	default:
		return full
	}
}
