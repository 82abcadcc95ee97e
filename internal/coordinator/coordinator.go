// Package coordinator provides the Branch Coordinator façade: the single
// entry point agents and the CLI use to join, switch, and release branch
// assignments, combining the branch registry, the conflict tracker, and the
// worktree manager into one call surface (spec §4.7, grounded on spec §4.7
// and original_source/cli.rs's CliHandler call shape).
package coordinator

import (
	"context"
	"fmt"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
	"github.com/mnemosyne-run/orchestrator/internal/worktree"
)

// JoinOutcome classifies how a join request was resolved.
type JoinOutcome string

const (
	JoinApproved            JoinOutcome = "approved"
	JoinRequiresCoordination JoinOutcome = "requires_coordination"
	JoinDenied               JoinOutcome = "denied"
)

// JoinResult is returned from Join.
type JoinResult struct {
	Outcome     JoinOutcome
	Assignment  *branch.Assignment
	Worktree    *worktree.Info
	Reason      string
	Suggestions []string
}

// JoinRequest carries the full set of inputs to a join/switch attempt (spec
// §4.7 JoinRequest).
type JoinRequest struct {
	Agent      agentid.ID
	Branch     string
	Intent     branch.Intent
	Mode       branch.Mode
	WorkItems  []work.ItemID
	Phases     map[work.ItemID]phase.Phase
	BaseBranch string
	// Bypass marks this request as coming from the Orchestrator role with
	// branch_isolation.orchestrator_bypass active: conflict checks against
	// existing occupants are skipped. Callers MUST record this in the event
	// log themselves (spec §4.7: "this is recorded in the event log") — the
	// coordinator has no event log handle of its own.
	Bypass bool
}

// Coordinator wires the branch registry, conflict tracker, and worktree
// manager behind a single join/switch/release API.
type Coordinator struct {
	registry  *branch.Registry
	tracker   *conflict.Tracker
	worktrees *worktree.Manager
}

// New creates a Coordinator over the given registry, tracker, and worktree
// manager.
func New(registry *branch.Registry, tracker *conflict.Tracker, worktrees *worktree.Manager) *Coordinator {
	return &Coordinator{registry: registry, tracker: tracker, worktrees: worktrees}
}

// Join attempts to assign req.Agent to req.Branch under req.Intent/req.Mode,
// creating a worktree for it on success (spec §4.7 JoinRequest). On an
// Isolated-mode conflict the result is JoinDenied with Suggestions listing
// alternative modes/branches; a caller may retry with ModeCoordinated to get
// JoinRequiresCoordination semantics communicated explicitly when the
// registry allows the overlap but the caller should be aware it is sharing
// the branch. req.Bypass (Orchestrator role only) forces the assignment
// through regardless of existing occupants.
func (c *Coordinator) Join(ctx context.Context, req JoinRequest) (*JoinResult, error) {
	mode := req.Mode
	if req.Bypass {
		mode = branch.ModeCoordinated
	}

	if report := c.registry.CheckConflict(req.Branch, req.Intent); report != nil && !req.Bypass && req.Intent.Kind != branch.IntentReadOnly {
		if mode == branch.ModeIsolated {
			return &JoinResult{
				Outcome: JoinDenied,
				Reason:  fmt.Sprintf("branch %q is occupied by agent(s) %v", req.Branch, report.Agents),
				Suggestions: []string{
					"retry with --mode coordinated",
					"choose a different branch",
					"wait for the occupying agent to release",
				},
			}, nil
		}
	}

	assignment, err := c.registry.AssignAgent(req.Agent, req.Branch, req.Intent, mode, req.WorkItems, req.Phases)
	if err != nil {
		return &JoinResult{
			Outcome: JoinDenied,
			Reason:  err.Error(),
			Suggestions: []string{
				"retry with --mode coordinated",
				"choose a different branch",
			},
		}, err
	}

	wt, err := c.worktrees.Create(ctx, req.Agent, req.Branch, req.BaseBranch)
	if err != nil {
		_ = c.registry.ReleaseAssignment(req.Agent)
		return &JoinResult{Outcome: JoinDenied, Reason: err.Error()}, err
	}

	outcome := JoinApproved
	if len(c.registry.GetAssignments(req.Branch)) > 1 && req.Intent.Kind != branch.IntentReadOnly {
		outcome = JoinRequiresCoordination
	}

	return &JoinResult{Outcome: outcome, Assignment: assignment, Worktree: wt}, nil
}

// Switch releases agent's current assignment (if any) and joins it to a new
// branch in one call.
func (c *Coordinator) Switch(
	ctx context.Context,
	agent agentid.ID,
	newBranch string,
	intent branch.Intent,
	mode branch.Mode,
	items []work.ItemID,
	phases map[work.ItemID]phase.Phase,
) (*JoinResult, error) {
	if _, ok := c.registry.GetAgentAssignment(agent); ok {
		if err := c.Release(ctx, agent); err != nil {
			return nil, fmt.Errorf("releasing prior assignment before switch: %w", err)
		}
	}
	return c.Join(ctx, JoinRequest{
		Agent: agent, Branch: newBranch, Intent: intent, Mode: mode,
		WorkItems: items, Phases: phases,
	})
}

// Release frees agent's branch assignment, removes its worktree, and clears
// its tracked files from the conflict tracker.
func (c *Coordinator) Release(ctx context.Context, agent agentid.ID) error {
	if _, ok := c.registry.GetAgentAssignment(agent); !ok {
		return nil
	}
	if err := c.registry.ReleaseAssignment(agent); err != nil {
		return err
	}
	c.tracker.ClearAgentFiles(agent)

	if wt, err := c.worktrees.Get(ctx, agent); err == nil {
		_ = c.worktrees.Remove(ctx, wt.Path, false)
	}
	return nil
}

// Status reports the coordinator's full occupancy: every branch's
// assignments, registry stats, and currently active conflicts.
type Status struct {
	Branches  map[string][]*branch.Assignment
	Stats     branch.Stats
	Conflicts []*conflict.ActiveConflict
}

// Status returns a point-in-time snapshot across every active branch.
func (c *Coordinator) Status() Status {
	branches := make(map[string][]*branch.Assignment)
	for _, name := range c.registry.ActiveBranches() {
		branches[name] = c.registry.GetAssignments(name)
	}
	return Status{
		Branches:  branches,
		Stats:     c.registry.ComputeStats(),
		Conflicts: c.tracker.GetActiveConflicts(),
	}
}

// Conflicts returns the active conflicts touching agent, or every active
// conflict when agent is the zero value.
func (c *Coordinator) Conflicts(agent agentid.ID) []*conflict.ActiveConflict {
	if agent.IsZero() {
		return c.tracker.GetActiveConflicts()
	}
	return c.tracker.GetAgentConflicts(agent)
}

// CleanupTimeouts releases every timed-out assignment and tears down its
// worktree, returning the agent ids that were reclaimed.
func (c *Coordinator) CleanupTimeouts(ctx context.Context) []agentid.ID {
	expired := c.registry.CleanupTimeouts()
	for _, agent := range expired {
		c.tracker.ClearAgentFiles(agent)
		if wt, err := c.worktrees.Get(ctx, agent); err == nil {
			_ = c.worktrees.Remove(ctx, wt.Path, true)
		}
	}
	return expired
}
