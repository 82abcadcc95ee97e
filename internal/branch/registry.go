// Package branch implements the Branch Registry: tracks which agent holds
// which git branch, under what WorkIntent and CoordinationMode, and computes
// the dynamic assignment timeout from the phases of the work items it backs
// (spec §4.6, grounded on original_source/branch_registry.rs).
package branch

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
	"github.com/mnemosyne-run/orchestrator/internal/filelock"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

// baseTimeoutHours is the per-phase-factor unit used by the dynamic timeout
// calculation below.
const baseTimeoutHours = 1.0

// Assignment records one agent's hold on a branch.
type Assignment struct {
	AgentID    agentid.ID
	Branch     string
	Intent     Intent
	Mode       Mode
	WorkItems  []work.ItemID
	AssignedAt time.Time
	Timeout    time.Duration
	LastActive time.Time
}

// IsTimedOut reports whether the assignment's timeout has elapsed since it
// was last active.
func (a *Assignment) IsTimedOut(now time.Time) bool {
	return now.Sub(a.LastActive) > a.Timeout
}

// TimeRemaining returns the duration until the assignment times out,
// clamped to zero.
func (a *Assignment) TimeRemaining(now time.Time) time.Duration {
	remaining := a.Timeout - now.Sub(a.LastActive)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// calculateDynamicTimeout implements spec §4.6's dynamic timeout formula:
// base_hours * max(sum(phase.Factor() for each work item's current phase), 1.0).
func calculateDynamicTimeout(items []work.ItemID, phases map[work.ItemID]phase.Phase) time.Duration {
	sum := 0.0
	for _, id := range items {
		if p, ok := phases[id]; ok {
			sum += p.Factor()
		}
	}
	factor := sum
	if factor < 1.0 {
		factor = 1.0
	}
	hours := baseTimeoutHours * factor
	return time.Duration(hours * float64(time.Hour))
}

// Stats summarizes the registry's current occupancy (spec §4.6 registry
// stats, supplemented from original_source's stats()).
type Stats struct {
	Total       int
	Isolated    int
	Coordinated int
}

// Registry is the branch assignment table. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	byBranch    map[string][]*Assignment
	byAgent     map[agentid.ID]*Assignment
	persistPath string
}

// New creates an empty, in-memory registry. Call Load to hydrate from disk.
func New() *Registry {
	return &Registry{
		byBranch: make(map[string][]*Assignment),
		byAgent:  make(map[agentid.ID]*Assignment),
	}
}

// NewWithPersistence creates a registry that persists to path on every
// mutation (Persist must still be called explicitly by the coordinator after
// a batch of operations, matching the teacher's Save-after-mutation style).
func NewWithPersistence(path string) *Registry {
	r := New()
	r.persistPath = path
	return r
}

// AssignAgent assigns agent to branch under intent/mode, backed by the given
// work items and their current phases. In Isolated mode, fails with
// ErrBranchConflict if the branch already holds any assignment. In
// Coordinated mode, fails if the new intent conflicts with any existing
// assignment on the branch.
func (r *Registry) AssignAgent(
	agent agentid.ID,
	branchName string,
	intent Intent,
	mode Mode,
	items []work.ItemID,
	phases map[work.ItemID]phase.Phase,
) (*Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.byBranch[branchName]
	// A ReadOnly intent is always approved regardless of other assignments
	// (spec §4.7 auto-approval rule) — it never conflicts with anything, so
	// it is exempt from both the isolated-occupancy gate and pairwise
	// conflict checks below.
	if len(existing) > 0 && intent.Kind != IntentReadOnly {
		if mode == ModeIsolated || anyIsolated(existing) {
			return nil, corerr.BranchConflict(corerr.CodeBranchOccupied,
				fmt.Sprintf("branch %q already has an isolated assignment", branchName))
		}
		for _, other := range existing {
			if other.Intent.Conflicts(intent) {
				return nil, corerr.BranchConflict(corerr.CodeBranchOccupied,
					fmt.Sprintf("branch %q assignment for agent %s conflicts with existing intent", branchName, other.AgentID))
			}
		}
	}

	if prior, ok := r.byAgent[agent]; ok {
		return nil, corerr.InvalidOperation("AGENT_ALREADY_ASSIGNED",
			fmt.Sprintf("agent %s already holds branch %q", agent, prior.Branch))
	}

	now := time.Now()
	assignment := &Assignment{
		AgentID:    agent,
		Branch:     branchName,
		Intent:     intent,
		Mode:       mode,
		WorkItems:  append([]work.ItemID(nil), items...),
		AssignedAt: now,
		LastActive: now,
		Timeout:    calculateDynamicTimeout(items, phases),
	}

	r.byBranch[branchName] = append(r.byBranch[branchName], assignment)
	r.byAgent[agent] = assignment
	return assignment, nil
}

func anyIsolated(assignments []*Assignment) bool {
	for _, a := range assignments {
		if a.Mode == ModeIsolated {
			return true
		}
	}
	return false
}

// ConflictReport describes why a prospective intent would conflict with
// existing assignments on a branch (spec §4.6 check_conflict).
type ConflictReport struct {
	Branch           string
	Agents           []agentid.ID
	OverlappingPaths []string
}

// CheckConflict reports whether newIntent would conflict with any existing
// assignment on branchName, without mutating the registry. ReadOnly never
// conflicts; FullBranch conflicts with any write intent; Write(paths)
// conflicts with another Write sharing an overlapping path prefix (spec
// §4.6, scenario S2).
func (r *Registry) CheckConflict(branchName string, newIntent Intent) *ConflictReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if newIntent.Kind == IntentReadOnly {
		return nil
	}

	var conflicting []agentid.ID
	var paths []string
	for _, other := range r.byBranch[branchName] {
		if !other.Intent.Conflicts(newIntent) {
			continue
		}
		conflicting = append(conflicting, other.AgentID)
		paths = append(paths, overlappingPaths(other.Intent, newIntent)...)
	}
	if len(conflicting) == 0 {
		return nil
	}
	return &ConflictReport{Branch: branchName, Agents: conflicting, OverlappingPaths: dedupStrings(paths)}
}

func overlappingPaths(a, b Intent) []string {
	if a.Kind == IntentFullBranch || b.Kind == IntentFullBranch {
		return nil
	}
	var out []string
	for _, pa := range a.Paths {
		for _, pb := range b.Paths {
			if pathOverlaps(pa, pb) {
				if len(pa) <= len(pb) {
					out = append(out, pa)
				} else {
					out = append(out, pb)
				}
			}
		}
	}
	return out
}

func dedupStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// GetAssignments returns all assignments currently held on branchName.
func (r *Registry) GetAssignments(branchName string) []*Assignment {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Assignment(nil), r.byBranch[branchName]...)
}

// GetAgentAssignment returns the assignment held by agent, if any.
func (r *Registry) GetAgentAssignment(agent agentid.ID) (*Assignment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byAgent[agent]
	return a, ok
}

// UpdateWorkItems replaces the work item set backing agent's assignment and
// recalculates its timeout.
func (r *Registry) UpdateWorkItems(agent agentid.ID, items []work.ItemID, phases map[work.ItemID]phase.Phase) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byAgent[agent]
	if !ok {
		return corerr.NotFound("assignment", agent.String())
	}
	a.WorkItems = append([]work.ItemID(nil), items...)
	a.Timeout = calculateDynamicTimeout(items, phases)
	a.LastActive = time.Now()
	return nil
}

// UpdatePhase recalculates the timeout of every assignment that references
// itemID, after that item's phase has changed (spec §4.6 update_phase).
func (r *Registry) UpdatePhase(itemID work.ItemID, phases map[work.ItemID]phase.Phase) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range r.byAgent {
		for _, id := range a.WorkItems {
			if id == itemID {
				a.Timeout = calculateDynamicTimeout(a.WorkItems, phases)
				a.LastActive = time.Now()
				break
			}
		}
	}
}

// Touch refreshes an assignment's LastActive timestamp, used as a
// heartbeat against timeout expiry.
func (r *Registry) Touch(agent agentid.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byAgent[agent]
	if !ok {
		return corerr.NotFound("assignment", agent.String())
	}
	a.LastActive = time.Now()
	return nil
}

// ReleaseAssignment removes agent's hold on its branch.
func (r *Registry) ReleaseAssignment(agent agentid.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.releaseLocked(agent)
}

func (r *Registry) releaseLocked(agent agentid.ID) error {
	a, ok := r.byAgent[agent]
	if !ok {
		return corerr.NotFound("assignment", agent.String())
	}
	delete(r.byAgent, agent)
	remaining := r.byBranch[a.Branch][:0]
	for _, other := range r.byBranch[a.Branch] {
		if other.AgentID != agent {
			remaining = append(remaining, other)
		}
	}
	if len(remaining) == 0 {
		delete(r.byBranch, a.Branch)
	} else {
		r.byBranch[a.Branch] = remaining
	}
	return nil
}

// CleanupTimeouts releases every assignment whose timeout has elapsed and
// returns the agent ids that were released.
func (r *Registry) CleanupTimeouts() []agentid.ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var expired []agentid.ID
	for id, a := range r.byAgent {
		if a.IsTimedOut(now) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		_ = r.releaseLocked(id)
	}
	return expired
}

// ActiveBranches returns every branch name with at least one assignment.
func (r *Registry) ActiveBranches() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	branches := make([]string, 0, len(r.byBranch))
	for b := range r.byBranch {
		branches = append(branches, b)
	}
	return branches
}

// ComputeStats summarizes registry occupancy.
func (r *Registry) ComputeStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var s Stats
	for _, a := range r.byAgent {
		s.Total++
		if a.Mode == ModeIsolated {
			s.Isolated++
		} else {
			s.Coordinated++
		}
	}
	return s
}

// registrySnapshot is the on-disk JSON shape for persistence.
type registrySnapshot struct {
	Assignments []*Assignment `json:"assignments"`
}

// Persist writes the registry to its configured path atomically, guarded by
// an advisory file lock so concurrent writers serialize instead of racing
// (spec §4.6 persist, adapted from quorum-ai's checksum/atomic-write pattern
// and original_source/branch_registry.rs persist/load).
func (r *Registry) Persist() error {
	if r.persistPath == "" {
		return nil
	}
	lock, err := filelock.Acquire(r.persistPath + ".lock")
	if err != nil {
		return corerr.Database("REGISTRY_LOCK_FAILED", err.Error()).WithCause(err)
	}
	defer lock.Release()

	r.mu.RLock()
	snap := registrySnapshot{}
	for _, a := range r.byAgent {
		snap.Assignments = append(snap.Assignments, a)
	}
	r.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}
	if err := renameio.WriteFile(r.persistPath, data, 0o600); err != nil {
		return corerr.Database("REGISTRY_PERSIST_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

// Load hydrates the registry from its configured path. A missing file is
// not an error — it means no assignments have ever been persisted.
func (r *Registry) Load() error {
	if r.persistPath == "" {
		return nil
	}
	lock, err := filelock.Acquire(r.persistPath + ".lock")
	if err != nil {
		return corerr.Database("REGISTRY_LOCK_FAILED", err.Error()).WithCause(err)
	}
	defer lock.Release()

	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading registry file: %w", err)
	}

	var snap registrySnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return corerr.Database("REGISTRY_CORRUPTED", "registry file is not valid JSON").WithCause(err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byBranch = make(map[string][]*Assignment)
	r.byAgent = make(map[agentid.ID]*Assignment)
	for _, a := range snap.Assignments {
		r.byBranch[a.Branch] = append(r.byBranch[a.Branch], a)
		r.byAgent[a.AgentID] = a
	}
	return nil
}
