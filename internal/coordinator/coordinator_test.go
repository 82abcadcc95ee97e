package coordinator_test

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/coordinator"
	"github.com/mnemosyne-run/orchestrator/internal/worktree"
)

func newTestRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		if out, err := cmd.CombinedOutput(); err != nil {
			t.Fatalf("git %v: %v: %s", args, err, out)
		}
	}
	run("init", "-q", "-b", "trunk")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	run("commit", "--allow-empty", "-q", "-m", "init")
	return dir
}

func newCoordinator(t *testing.T) *coordinator.Coordinator {
	t.Helper()
	repo := newTestRepo(t)
	wt, err := worktree.New(repo, filepath.Join(repo, ".mnemosyne", "worktrees"))
	if err != nil {
		t.Fatalf("worktree.New: %v", err)
	}
	return coordinator.New(branch.New(), conflict.New(), wt)
}

func TestJoinIsolatedReject(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	a1, a2 := agentid.New(), agentid.New()

	res, err := c.Join(ctx, coordinator.JoinRequest{
		Agent: a1, Branch: "main", Intent: branch.FullBranch(), Mode: branch.ModeIsolated,
	})
	if err != nil || res.Outcome != coordinator.JoinApproved {
		t.Fatalf("first isolated join: res=%+v err=%v", res, err)
	}

	res2, _ := c.Join(ctx, coordinator.JoinRequest{
		Agent: a2, Branch: "main", Intent: branch.ReadOnly(), Mode: branch.ModeIsolated,
	})
	if res2.Outcome != coordinator.JoinApproved {
		t.Fatalf("expected read-only to auto-approve despite isolated occupant, got %+v", res2)
	}
}

func TestJoinRequiresCoordination(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	a1, a2 := agentid.New(), agentid.New()

	if _, err := c.Join(ctx, coordinator.JoinRequest{
		Agent: a1, Branch: "main", Intent: branch.Write("pkg/a"), Mode: branch.ModeCoordinated,
	}); err != nil {
		t.Fatalf("join a1: %v", err)
	}

	res, err := c.Join(ctx, coordinator.JoinRequest{
		Agent: a2, Branch: "main", Intent: branch.Write("pkg/b"), Mode: branch.ModeCoordinated,
	})
	if err != nil {
		t.Fatalf("join a2: %v", err)
	}
	if res.Outcome != coordinator.JoinRequiresCoordination {
		t.Fatalf("expected RequiresCoordination, got %v", res.Outcome)
	}
}

func TestReleaseFreesWorktree(t *testing.T) {
	c := newCoordinator(t)
	ctx := context.Background()
	agent := agentid.New()

	if _, err := c.Join(ctx, coordinator.JoinRequest{
		Agent: agent, Branch: "feature/x", Intent: branch.FullBranch(), Mode: branch.ModeIsolated,
	}); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := c.Release(ctx, agent); err != nil {
		t.Fatalf("release: %v", err)
	}
	status := c.Status()
	if status.Stats.Total != 0 {
		t.Fatalf("expected no assignments after release, got %+v", status.Stats)
	}
}
