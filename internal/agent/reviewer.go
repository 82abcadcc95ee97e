package agent

import (
	"context"
	"strings"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// forbiddenMarkers are the placeholder tokens spec §4.4's fourth gate
// rejects outright, matched as whole words, case-insensitive.
var forbiddenMarkers = []string{"todo", "mock", "stub"}

// constraintMarkers flags output that violates the "don't touch secrets"
// constraint, mirroring the path markers conflict.determineSeverity treats
// as Block severity (spec §4.4 constraints-upheld gate, grounded on
// internal/conflict/tracker.go's critical-path globs).
var constraintMarkers = []string{"credential", "secret", ".env", "private_key"}

// Reviewer runs the seven-gate verdict over a candidate WorkResult before
// the Orchestrator is allowed to advance the item past PlanToArtifacts
// (spec §4.4).
type Reviewer struct {
	id      agentid.ID
	inbox   Mailbox
	tracker *conflict.Tracker
}

// NewReviewer creates a Reviewer backed by the shared conflict tracker.
func NewReviewer(id agentid.ID, tracker *conflict.Tracker) *Reviewer {
	return &Reviewer{id: id, inbox: NewMailbox(), tracker: tracker}
}

// Mailbox returns the channel other agents send Review requests on.
func (r *Reviewer) Mailbox() Mailbox { return r.inbox }

// Run drains the mailbox until ctx is cancelled.
func (r *Reviewer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-r.inbox:
			fn(ctx)
		}
	}
}

// Review evaluates result against item and returns the Reviewer's Verdict
// (spec §4.4).
func (r *Reviewer) Review(ctx context.Context, item *work.Item, result work.Result) (Verdict, error) {
	reply := make(chan ReviewResult, 1)
	if err := send(ctx, r.inbox, func(ctx context.Context) {
		reply <- ReviewResult{Verdict: r.evaluate(item, result)}
	}); err != nil {
		return Verdict{}, err
	}
	select {
	case res := <-reply:
		return res.Verdict, res.Err
	case <-ctx.Done():
		return Verdict{}, ctx.Err()
	}
}

// evaluate runs the seven binary gates of spec §4.4. A result the Reviewer
// cannot even inspect (no output and no reported executor error — the
// artifact itself is missing or unreadable) short-circuits as Fatal rather
// than running the gates, so the Orchestrator knows not to charge it
// against the item's review_attempt budget.
func (r *Reviewer) evaluate(item *work.Item, result work.Result) Verdict {
	if !result.Success && result.Error == "" && strings.TrimSpace(result.Data) == "" {
		return Verdict{
			ItemID:   item.ID,
			Approved: false,
			Fatal:    true,
			Feedback: []string{"review could not run: executor produced no artifact and no error"},
		}
	}

	gates := []GateResult{
		r.intentSatisfied(result),
		r.testsPass(result),
		r.documentationPresent(result),
		r.noForbiddenMarkers(result),
		r.factsVerified(result),
		r.constraintsUpheld(item, result),
		r.noAntiPatterns(item, result),
	}

	approved := true
	var feedback []string
	for _, g := range gates {
		if !g.Passed {
			approved = false
			feedback = append(feedback, string(g.Gate)+": "+g.Detail)
		}
	}

	return Verdict{ItemID: item.ID, Approved: approved, Gates: gates, Feedback: feedback}
}

// intentSatisfied checks that the executor actually produced output
// addressing the item, the first of spec §4.4's seven gates.
func (r *Reviewer) intentSatisfied(result work.Result) GateResult {
	if !result.Success || strings.TrimSpace(result.Data) == "" {
		return GateResult{Gate: GateIntentSatisfied, Passed: false, Detail: "executor reported no usable output"}
	}
	return GateResult{Gate: GateIntentSatisfied, Passed: true}
}

// testsPass scans the reported output for an explicit test-failure marker.
// WorkResult carries no structured test-run field, so this is necessarily
// a text heuristic over whatever the executor reported.
func (r *Reviewer) testsPass(result work.Result) GateResult {
	lower := strings.ToLower(result.Data)
	for _, marker := range []string{"tests failed", "test failed", "0 passed", "fail:"} {
		if strings.Contains(lower, marker) {
			return GateResult{Gate: GateTestsPass, Passed: false, Detail: "output reports a failing test run"}
		}
	}
	return GateResult{Gate: GateTestsPass, Passed: true}
}

// documentationPresent rejects output the executor itself flags as
// undocumented. Freeform WorkResult.Data has no dedicated docs field, so
// absence of explanatory text can only be judged by what the executor
// chooses to report.
func (r *Reviewer) documentationPresent(result work.Result) GateResult {
	if strings.Contains(strings.ToLower(result.Data), "undocumented") {
		return GateResult{Gate: GateDocumentationPresent, Passed: false, Detail: "executor flagged output as undocumented"}
	}
	return GateResult{Gate: GateDocumentationPresent, Passed: true}
}

// noForbiddenMarkers rejects output containing a placeholder token (spec
// §4.4: "no forbidden placeholder markers (TODO/mock/stub)").
func (r *Reviewer) noForbiddenMarkers(result work.Result) GateResult {
	lower := strings.ToLower(result.Data)
	for _, marker := range forbiddenMarkers {
		if strings.Contains(lower, marker) {
			return GateResult{Gate: GateNoForbiddenMarkers, Passed: false, Detail: "output contains forbidden marker " + marker}
		}
	}
	return GateResult{Gate: GateNoForbiddenMarkers, Passed: true}
}

// factsVerified fails when the executor itself reported an error — a
// claim the Executor cannot back up is not a verified fact.
func (r *Reviewer) factsVerified(result work.Result) GateResult {
	if result.Error != "" {
		return GateResult{Gate: GateFactsVerified, Passed: false, Detail: result.Error}
	}
	return GateResult{Gate: GateFactsVerified, Passed: true}
}

// constraintsUpheld checks the two constraints this core can observe
// directly: the output does not reference a secret/credential path, and
// the executing agent has no unresolved file conflicts open against it.
func (r *Reviewer) constraintsUpheld(item *work.Item, result work.Result) GateResult {
	lower := strings.ToLower(result.Data)
	for _, marker := range constraintMarkers {
		if strings.Contains(lower, marker) {
			return GateResult{Gate: GateConstraintsUpheld, Passed: false, Detail: "output references " + marker}
		}
	}
	if r.tracker != nil {
		if active := r.tracker.GetAgentConflicts(item.AssignedAgent); len(active) > 0 {
			return GateResult{Gate: GateConstraintsUpheld, Passed: false, Detail: "agent has unresolved file conflicts"}
		}
	}
	return GateResult{Gate: GateConstraintsUpheld, Passed: true}
}

// noAntiPatterns fails a requeued item whose new attempt repeats the exact
// feedback it was sent back to address — the clearest anti-pattern a
// retry loop can exhibit (spec §4.4's seventh gate).
func (r *Reviewer) noAntiPatterns(item *work.Item, result work.Result) GateResult {
	for _, fb := range item.ReviewFeedback {
		if fb != "" && strings.Contains(result.Data, fb) {
			return GateResult{Gate: GateNoAntiPatterns, Passed: false, Detail: "output repeats prior feedback verbatim"}
		}
	}
	return GateResult{Gate: GateNoAntiPatterns, Passed: true}
}
