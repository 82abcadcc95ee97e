// Package worktree manages per-agent git worktrees so that concurrent
// agents can hold independent working directories and HEADs off the same
// repository (spec §4.9, adapted from quorum-ai/internal/adapters/git and
// original_source/worktree_manager.rs).
package worktree

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

const (
	prefix        = "mnemosyne-"
	branchPrefix  = "mnemosyne/"
	defaultGitBin = "git"
)

// Info describes a managed worktree.
type Info struct {
	AgentID   agentid.ID
	Path      string
	Branch    string
	Commit    string
	Detached  bool
	Locked    bool
	Prunable  bool
	CreatedAt time.Time
}

// Manager creates, lists, and reclaims per-agent worktrees rooted at
// baseDir/.worktrees relative to a single repository.
type Manager struct {
	repoPath string
	baseDir  string
	gitBin   string
}

// New creates a worktree manager for the repository at repoPath. baseDir
// defaults to "<repoPath>/.mnemosyne/worktrees" when empty.
func New(repoPath, baseDir string) (*Manager, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolving repo path: %w", err)
	}
	if baseDir == "" {
		baseDir = filepath.Join(abs, ".mnemosyne", "worktrees")
	}
	m := &Manager{repoPath: abs, baseDir: baseDir, gitBin: defaultGitBin}
	if err := m.run(context.Background(), "rev-parse", "--git-dir"); err != nil {
		return nil, corerr.ValidationError("NOT_GIT_REPO", fmt.Sprintf("%s is not a git repository", abs)).WithCause(err)
	}
	return m, nil
}

func (m *Manager) run(ctx context.Context, args ...string) error {
	_, err := m.runOutput(ctx, args...)
	return err
}

func (m *Manager) runOutput(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, m.gitBin, args...)
	cmd.Dir = m.repoPath
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func worktreePath(baseDir string, agent agentid.ID) string {
	return filepath.Join(baseDir, prefix+agent.Short())
}

// Create creates a new worktree for agent on a fresh branch, optionally
// based off baseBranch (empty means HEAD).
func (m *Manager) Create(ctx context.Context, agent agentid.ID, branch, baseBranch string) (*Info, error) {
	if err := os.MkdirAll(m.baseDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating worktree base dir: %w", err)
	}

	path := worktreePath(m.baseDir, agent)
	if _, err := os.Stat(path); err == nil {
		return nil, corerr.InvalidOperation("WORKTREE_EXISTS",
			fmt.Sprintf("worktree for agent %s already exists", agent))
	}

	if branch == "" {
		branch = branchPrefix + agent.Short()
	}

	exists, err := m.branchExists(ctx, branch)
	if err != nil {
		return nil, err
	}

	var args []string
	switch {
	case exists:
		args = []string{"worktree", "add", path, branch}
	case baseBranch != "":
		args = []string{"worktree", "add", "-b", branch, path, baseBranch}
	default:
		args = []string{"worktree", "add", "-b", branch, path}
	}

	if err := m.run(ctx, args...); err != nil {
		return nil, fmt.Errorf("creating worktree: %w", err)
	}

	return &Info{AgentID: agent, Path: path, Branch: branch, CreatedAt: time.Now()}, nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) (bool, error) {
	out, err := m.runOutput(ctx, "branch", "--list", branch)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Remove removes the worktree at path. force passes --force through to git,
// discarding uncommitted changes inside it.
func (m *Manager) Remove(ctx context.Context, path string, force bool) error {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		resolved = path
	}
	resolvedBase, err := filepath.EvalSymlinks(m.baseDir)
	if err != nil {
		resolvedBase = m.baseDir
	}
	if !strings.HasPrefix(resolved, resolvedBase) {
		return corerr.InvalidOperation("INVALID_WORKTREE", "worktree is not managed by this manager")
	}

	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return m.run(ctx, args...)
}

// RemoveForAgent removes the worktree belonging to agent, if any.
func (m *Manager) RemoveForAgent(ctx context.Context, agent agentid.ID, force bool) error {
	return m.Remove(ctx, worktreePath(m.baseDir, agent), force)
}

// List returns every worktree known to git for this repository (including
// the primary worktree, which is never "managed").
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	out, err := m.runOutput(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out), nil
}

func parsePorcelain(output string) []Info {
	var infos []Info
	var current *Info
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "worktree "):
			if current != nil {
				infos = append(infos, *current)
			}
			current = &Info{Path: strings.TrimPrefix(line, "worktree ")}
		case current != nil && strings.HasPrefix(line, "HEAD "):
			current.Commit = strings.TrimPrefix(line, "HEAD ")
		case current != nil && strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(line, "branch refs/heads/")
		case current != nil && line == "detached":
			current.Detached = true
		case current != nil && line == "locked":
			current.Locked = true
		case current != nil && line == "prunable":
			current.Prunable = true
		}
	}
	if current != nil {
		infos = append(infos, *current)
	}
	return infos
}

// ListManaged returns only worktrees whose leaf directory carries our
// prefix, i.e. worktrees this manager created.
func (m *Manager) ListManaged(ctx context.Context) ([]Info, error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	managed := all[:0]
	for _, wt := range all {
		if strings.HasPrefix(filepath.Base(wt.Path), prefix) {
			managed = append(managed, wt)
		}
	}
	return managed, nil
}

// Get returns the worktree for agent, if one exists.
func (m *Manager) Get(ctx context.Context, agent agentid.ID) (*Info, error) {
	target := worktreePath(m.baseDir, agent)
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, wt := range all {
		if wt.Path == target {
			wt.AgentID = agent
			return &wt, nil
		}
	}
	return nil, corerr.NotFound("worktree", agent.String())
}

// CleanupStale removes managed worktrees whose leaf directory's short-id
// prefix does not match any id in liveAgents. This matches on a prefix
// (agentid.ID.HasShortPrefix) rather than exact equality, since worktree
// leaf names are truncated ids (see agentid.ID.Short doc comment).
func (m *Manager) CleanupStale(ctx context.Context, liveAgents []agentid.ID) (int, error) {
	managed, err := m.ListManaged(ctx)
	if err != nil {
		return 0, err
	}

	cleaned := 0
	for _, wt := range managed {
		leaf := strings.TrimPrefix(filepath.Base(wt.Path), prefix)
		live := false
		for _, agent := range liveAgents {
			if agent.HasShortPrefix(leaf) {
				live = true
				break
			}
		}
		if live {
			continue
		}
		if err := m.Remove(ctx, wt.Path, true); err == nil {
			cleaned++
		}
	}
	_, _ = m.runOutput(ctx, "worktree", "prune")
	return cleaned, nil
}

// BaseDir returns the directory under which this manager creates worktrees.
func (m *Manager) BaseDir() string {
	return m.baseDir
}
