package branch

import (
	"path/filepath"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/phase"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

func TestIntentConflicts(t *testing.T) {
	cases := []struct {
		name string
		a, b Intent
		want bool
	}{
		{"read-only never conflicts", ReadOnly(), FullBranch(), false},
		{"full branch conflicts with write", FullBranch(), Write("src/"), true},
		{"full branch conflicts with full branch", FullBranch(), FullBranch(), true},
		{"disjoint writes do not conflict", Write("src/a"), Write("src/b"), false},
		{"overlapping writes conflict", Write("src/"), Write("src/a/b.go"), true},
		{"identical writes conflict", Write("src/a"), Write("src/a"), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Conflicts(tc.b); got != tc.want {
				t.Errorf("Conflicts(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestDynamicTimeoutCalculation(t *testing.T) {
	items := []work.ItemID{"a", "b"}
	phases := map[work.ItemID]phase.Phase{
		"a": phase.PlanToArtifacts, // factor 2.0
		"b": phase.PromptToSpec,    // factor 0.5
	}
	got := calculateDynamicTimeout(items, phases)
	want := baseTimeoutHours * 2.5
	if got.Hours() != want {
		t.Errorf("calculateDynamicTimeout = %v hours, want %v", got.Hours(), want)
	}

	// Sum below the floor still yields the 1.0 hour minimum.
	got = calculateDynamicTimeout([]work.ItemID{"b"}, phases)
	if got.Hours() != 1.0 {
		t.Errorf("calculateDynamicTimeout floor = %v hours, want 1.0", got.Hours())
	}
}

func TestUpdatePhaseRecalculatesTimeout(t *testing.T) {
	r := New()
	a := agentid.New()

	phases := map[work.ItemID]phase.Phase{"item-1": phase.PromptToSpec}
	assignment, err := r.AssignAgent(a, "feature/x", Write("src/"), ModeCoordinated, []work.ItemID{"item-1"}, phases)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	want := calculateDynamicTimeout([]work.ItemID{"item-1"}, phases)
	if assignment.Timeout != want {
		t.Fatalf("initial timeout = %v, want %v", assignment.Timeout, want)
	}

	phases["item-1"] = phase.PlanToArtifacts // factor jumps to 2.0
	r.UpdatePhase("item-1", phases)

	got, ok := r.GetAgentAssignment(a)
	if !ok {
		t.Fatal("assignment should still exist")
	}
	want = calculateDynamicTimeout([]work.ItemID{"item-1"}, phases)
	if got.Timeout != want {
		t.Errorf("timeout after UpdatePhase = %v, want %v", got.Timeout, want)
	}

	// An unrelated item id must not perturb the assignment.
	before := got.Timeout
	r.UpdatePhase("item-unrelated", phases)
	got, _ = r.GetAgentAssignment(a)
	if got.Timeout != before {
		t.Errorf("UpdatePhase for an unheld item changed timeout: got %v, want %v", got.Timeout, before)
	}
}

func TestUpdateWorkItemsAttachesAndRecalculates(t *testing.T) {
	r := New()
	a := agentid.New()

	phases := map[work.ItemID]phase.Phase{"item-1": phase.PromptToSpec}
	if _, err := r.AssignAgent(a, "feature/x", Write("src/"), ModeCoordinated, []work.ItemID{"item-1"}, phases); err != nil {
		t.Fatalf("assign: %v", err)
	}

	phases["item-2"] = phase.PlanToArtifacts
	items := []work.ItemID{"item-1", "item-2"}
	if err := r.UpdateWorkItems(a, items, phases); err != nil {
		t.Fatalf("UpdateWorkItems: %v", err)
	}

	got, ok := r.GetAgentAssignment(a)
	if !ok {
		t.Fatal("assignment should still exist")
	}
	if len(got.WorkItems) != 2 {
		t.Fatalf("WorkItems = %v, want 2 entries", got.WorkItems)
	}
	want := calculateDynamicTimeout(items, phases)
	if got.Timeout != want {
		t.Errorf("timeout after UpdateWorkItems = %v, want %v", got.Timeout, want)
	}

	if err := r.UpdateWorkItems(agentid.New(), items, phases); err == nil {
		t.Fatal("expected UpdateWorkItems for an unassigned agent to fail")
	}
}

func TestAssignAgentIsolated(t *testing.T) {
	r := New()
	agentA := agentid.New()
	agentB := agentid.New()

	if _, err := r.AssignAgent(agentA, "feature/x", FullBranch(), ModeIsolated, nil, nil); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if _, err := r.AssignAgent(agentB, "feature/x", ReadOnly(), ModeIsolated, nil, nil); err == nil {
		t.Fatal("expected second isolated assignment to conflict")
	}
}

func TestAssignAgentCoordinated(t *testing.T) {
	r := New()
	agentA := agentid.New()
	agentB := agentid.New()

	if _, err := r.AssignAgent(agentA, "feature/x", Write("pkg/a"), ModeCoordinated, nil, nil); err != nil {
		t.Fatalf("first assignment: %v", err)
	}
	if _, err := r.AssignAgent(agentB, "feature/x", Write("pkg/b"), ModeCoordinated, nil, nil); err != nil {
		t.Fatalf("non-overlapping coordinated assignment should succeed: %v", err)
	}

	agentC := agentid.New()
	if _, err := r.AssignAgent(agentC, "feature/x", Write("pkg/a/sub"), ModeCoordinated, nil, nil); err == nil {
		t.Fatal("expected overlapping coordinated assignment to conflict")
	}
}

func TestReleaseAssignment(t *testing.T) {
	r := New()
	a := agentid.New()
	if _, err := r.AssignAgent(a, "feature/x", FullBranch(), ModeIsolated, nil, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := r.ReleaseAssignment(a); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok := r.GetAgentAssignment(a); ok {
		t.Fatal("assignment should be gone after release")
	}
	if len(r.ActiveBranches()) != 0 {
		t.Fatal("branch should be freed after release")
	}
}

func TestRegistryPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "branch_registry.json")

	r1 := NewWithPersistence(path)
	a := agentid.New()
	if _, err := r1.AssignAgent(a, "feature/x", Write("pkg/a"), ModeCoordinated, nil, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if err := r1.Persist(); err != nil {
		t.Fatalf("persist: %v", err)
	}

	r2 := NewWithPersistence(path)
	if err := r2.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := r2.GetAgentAssignment(a)
	if !ok {
		t.Fatal("expected assignment to survive persist/load round-trip")
	}
	if got.Branch != "feature/x" {
		t.Errorf("branch = %q, want feature/x", got.Branch)
	}
}

func TestCheckConflict(t *testing.T) {
	r := New()
	agentA := agentid.New()
	if _, err := r.AssignAgent(agentA, "main", Write("src/auth/"), ModeCoordinated, nil, nil); err != nil {
		t.Fatalf("assign: %v", err)
	}

	if report := r.CheckConflict("main", Write("src/auth/login.rs")); report == nil {
		t.Fatal("expected overlapping write to conflict")
	} else if len(report.Agents) != 1 || report.Agents[0] != agentA {
		t.Errorf("expected conflict report to name %s, got %+v", agentA, report.Agents)
	}

	if report := r.CheckConflict("main", Write("tests/")); report != nil {
		t.Errorf("expected disjoint write to not conflict, got %+v", report)
	}

	if report := r.CheckConflict("main", ReadOnly()); report != nil {
		t.Errorf("expected read-only to never conflict, got %+v", report)
	}
}

func TestRegistryStats(t *testing.T) {
	r := New()
	agentA := agentid.New()
	agentB := agentid.New()

	if _, err := r.AssignAgent(agentA, "feature/x", FullBranch(), ModeIsolated, nil, nil); err != nil {
		t.Fatalf("assign a: %v", err)
	}
	if _, err := r.AssignAgent(agentB, "feature/y", Write("pkg"), ModeCoordinated, nil, nil); err != nil {
		t.Fatalf("assign b: %v", err)
	}

	stats := r.ComputeStats()
	if stats.Total != 2 || stats.Isolated != 1 || stats.Coordinated != 1 {
		t.Errorf("stats = %+v, want {Total:2 Isolated:1 Coordinated:1}", stats)
	}
}
