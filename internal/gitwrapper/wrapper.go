// Package gitwrapper enforces that every git write command an agent issues
// inside its worktree stays within the paths its branch.Intent actually
// grants, and keeps an audit trail of every command it lets through or
// blocks (spec §5 GitWrapper invariant, grounded on
// original_source/git_wrapper.rs and quorum-ai/internal/adapters/git/client.go).
package gitwrapper

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

// writeCommands lists the git subcommands that mutate the working tree or
// index and therefore must be checked against the agent's Intent before
// running. Read commands (status, log, diff --stat, etc.) pass straight
// through.
var writeCommands = map[string]struct{}{
	"add": {}, "rm": {}, "mv": {}, "commit": {}, "checkout": {},
	"restore": {}, "reset": {}, "apply": {}, "stash": {}, "cherry-pick": {},
}

// AuditEntry records one command this wrapper executed or refused.
type AuditEntry struct {
	AgentID   agentid.ID
	Command   []string
	Allowed   bool
	Reason    string
	Timestamp time.Time
}

// Wrapper runs git commands inside one agent's worktree, enforcing its
// WorkIntent on every write.
type Wrapper struct {
	agentID    agentid.ID
	worktree   string
	intent     branch.Intent
	gitBin     string
	auditMu    chan struct{} // binary semaphore guarding audit below
	audit      []AuditEntry
}

// New creates a wrapper for agent operating in worktree under intent.
func New(agent agentid.ID, worktree string, intent branch.Intent) *Wrapper {
	w := &Wrapper{
		agentID:  agent,
		worktree: worktree,
		intent:   intent,
		gitBin:   "git",
		auditMu:  make(chan struct{}, 1),
	}
	w.auditMu <- struct{}{}
	return w
}

// Run executes a git command, validating it against the agent's WorkIntent
// first when it is a write command. args excludes the leading "git".
func (w *Wrapper) Run(ctx context.Context, args ...string) (string, error) {
	allowed, reason := w.check(args)
	w.recordAudit(args, allowed, reason)
	if !allowed {
		return "", corerr.InvalidOperation(corerr.CodeWriteNotPermitted, reason)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, w.gitBin, args...)
	cmd.Dir = w.worktree
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// check decides whether args may run under w.intent. Non-write commands are
// always allowed; write commands are allowed only if the intent permits
// every path argument they actually touch, as determined by pathArguments
// — e.g. a "commit -m <message>" has no path arguments at all, so its
// free-text commit message is never mistaken for a path to validate.
func (w *Wrapper) check(args []string) (bool, string) {
	if len(args) == 0 {
		return false, "empty command"
	}
	cmd := args[0]
	if _, isWrite := writeCommands[cmd]; !isWrite {
		return true, ""
	}
	if w.intent.Kind == branch.IntentFullBranch {
		return true, ""
	}
	if w.intent.Kind == branch.IntentReadOnly {
		return false, fmt.Sprintf("agent %s holds a read-only intent, cannot run %q", w.agentID, cmd)
	}

	for _, p := range pathArguments(cmd, args[1:]) {
		if !w.intent.AllowsWrite(p) {
			return false, fmt.Sprintf("agent %s's write intent does not cover path %q", w.agentID, p)
		}
	}
	return true, ""
}

// pathArguments extracts the filesystem paths a write command's remaining
// arguments actually touch. "add"/"rm"/"mv"/"restore" treat every non-flag
// argument (or every argument after a literal "--") as a path; the other
// write commands — commit, checkout, reset, apply, stash, cherry-pick —
// take refs, flags, commit messages, or patch file names that are not
// worktree paths to validate, so only arguments explicitly marked with a
// "--" separator are treated as paths for them.
func pathArguments(cmd string, rest []string) []string {
	switch cmd {
	case "add", "rm", "mv", "restore":
		var paths []string
		afterSeparator := false
		for _, a := range rest {
			if a == "--" {
				afterSeparator = true
				continue
			}
			if !afterSeparator && strings.HasPrefix(a, "-") {
				continue
			}
			paths = append(paths, a)
		}
		return paths
	default:
		for i, a := range rest {
			if a == "--" {
				return rest[i+1:]
			}
		}
		return nil
	}
}

func (w *Wrapper) recordAudit(args []string, allowed bool, reason string) {
	<-w.auditMu
	defer func() { w.auditMu <- struct{}{} }()
	w.audit = append(w.audit, AuditEntry{
		AgentID:   w.agentID,
		Command:   append([]string(nil), args...),
		Allowed:   allowed,
		Reason:    reason,
		Timestamp: time.Now(),
	})
}

// Audit returns a copy of every recorded command, allowed or not.
func (w *Wrapper) Audit() []AuditEntry {
	<-w.auditMu
	defer func() { w.auditMu <- struct{}{} }()
	return append([]AuditEntry(nil), w.audit...)
}
