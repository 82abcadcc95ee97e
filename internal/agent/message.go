// Package agent implements the four cooperating agents — Orchestrator,
// Optimizer, Reviewer, Executor — as single-writer mailbox loops (spec §2,
// §4.2-§4.5). Each agent owns a buffered inbox channel; callers send a
// request and block on its embedded reply channel, the same request/reply-
// channel shape as quorum-ai/internal/control/plane.go's InputRequest/
// InputResponse pair, generalized from one pending-request map to a mailbox
// per agent.
package agent

import (
	"context"

	"github.com/mnemosyne-run/orchestrator/internal/corectx"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// mailboxDepth is the inbox buffer size for every agent. A full mailbox
// means the agent loop is wedged; callers block rather than drop, since
// silently losing a SubmitWork or CompleteWork breaks the work queue's
// invariants.
const mailboxDepth = 64

// Mailbox is a single-writer inbox: exactly one goroutine (the owning
// agent's Run loop) ever receives from it.
type Mailbox chan func(ctx context.Context)

// NewMailbox creates an empty mailbox.
func NewMailbox() Mailbox {
	return make(Mailbox, mailboxDepth)
}

// send enqueues fn on the mailbox and blocks until the agent loop runs it,
// or ctx is cancelled first.
func send(ctx context.Context, mb Mailbox, fn func(ctx context.Context)) error {
	select {
	case mb <- fn:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RequestWorkResult is the Orchestrator mailbox's reply to a RequestWork
// call (spec §4.2 RequestWork).
type RequestWorkResult struct {
	Item *work.Item
	OK   bool
}

// CompleteWorkResult is the Orchestrator mailbox's reply to a CompleteWork
// call (spec §4.2 CompleteWork).
type CompleteWorkResult struct {
	Item *work.Item
	Err  error
}

// ConsolidationMode names the Optimizer's context-budget strategy for a
// work item's current review attempt (spec §4.3).
type ConsolidationMode string

const (
	ModeDetailed           ConsolidationMode = "detailed"
	ModeStructuredSummary  ConsolidationMode = "structured_summary"
	ModeCompressedEssential ConsolidationMode = "compressed_essentials"
)

// ConsolidateReq asks the Optimizer to build a ConsolidatedContext for an
// item, pulling from the external memory store and skill catalogue (spec
// §4.3).
type ConsolidateReq struct {
	Item  *work.Item
	Tags  []string
	Reply chan ConsolidateResult
}

// ConsolidatedContext is the Optimizer's output: a budget-fitted bundle of
// memory, skills, and review feedback for the Executor to act on.
type ConsolidatedContext struct {
	Mode      ConsolidationMode
	Memories  []corectx.MemoryItem
	Skills    []corectx.Skill
	Feedback  []string
	Ref       string
}

type ConsolidateResult struct {
	Context ConsolidatedContext
	Err     error
}

// ReviewGate is one of the seven pass/fail checks the Reviewer runs before
// approving an item's advance out of PlanToArtifacts (spec §4.4: "intent
// satisfied; tests exist and pass; documentation present; no forbidden
// placeholder markers; facts verified; constraints upheld; no
// anti-patterns").
type ReviewGate string

const (
	GateIntentSatisfied      ReviewGate = "intent_satisfied"
	GateTestsPass            ReviewGate = "tests_pass"
	GateDocumentationPresent ReviewGate = "documentation_present"
	GateNoForbiddenMarkers   ReviewGate = "no_forbidden_markers"
	GateFactsVerified        ReviewGate = "facts_verified"
	GateConstraintsUpheld    ReviewGate = "constraints_upheld"
	GateNoAntiPatterns       ReviewGate = "no_anti_patterns"
)

// AllGates lists the seven gates in evaluation order.
func AllGates() []ReviewGate {
	return []ReviewGate{
		GateIntentSatisfied, GateTestsPass, GateDocumentationPresent,
		GateNoForbiddenMarkers, GateFactsVerified, GateConstraintsUpheld,
		GateNoAntiPatterns,
	}
}

// GateResult records one gate's verdict.
type GateResult struct {
	Gate   ReviewGate
	Passed bool
	Detail string
}

// Verdict is the Reviewer's overall pass/fail for a work item (spec §4.4):
// approved only if every gate passed. Fatal distinguishes a review that
// could not run at all (e.g. the artifact was unreadable) from a review
// that ran and found a genuine gate failure — the Orchestrator must not
// count a Fatal verdict against the item's review_attempt budget (spec
// §4.4: "reported as success=false with a distinguishable error kind so
// the Orchestrator does NOT count them against the review_attempt
// budget").
type Verdict struct {
	ItemID   work.ItemID
	Approved bool
	Fatal    bool
	Gates    []GateResult
	Feedback []string
}

// ReviewReq asks the Reviewer to evaluate a candidate result.
type ReviewReq struct {
	Item    *work.Item
	Result  work.Result
	Reply   chan ReviewResult
}

type ReviewResult struct {
	Verdict Verdict
	Err     error
}

// ExecuteReq asks the Executor to act on an item using a previously built
// ConsolidatedContext (spec §4.5).
type ExecuteReq struct {
	Item    *work.Item
	Context ConsolidatedContext
	Reply   chan ExecuteResult
}

type ExecuteResult struct {
	Result work.Result
	Err    error
}
