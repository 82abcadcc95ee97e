package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/corectx"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
	"github.com/mnemosyne-run/orchestrator/internal/gitwrapper"
	"github.com/mnemosyne-run/orchestrator/internal/work"
	"github.com/mnemosyne-run/orchestrator/internal/worktree"
)

// maxSubWorkers bounds how many sub-workers a single Execute call may spawn
// (spec §4.5: sub-workers act on independent, non-overlapping paths).
const maxSubWorkers = 4

// SubTask is one independent unit of an Executor's work, run concurrently
// with its siblings because it touches disjoint paths (spec §4.5).
type SubTask struct {
	Path   string
	Prompt string
}

// Executor turns a ConsolidatedContext into a WorkResult by calling the
// external content generator, optionally fanning a PlanToArtifacts item out
// across independent sub-workers (spec §4.5). When registry and worktrees
// are set, it can also commit the artifacts it produced, scoped to the
// assigned agent's own worktree and validated against that agent's
// WorkIntent (spec §5 GitWrapper invariant).
type Executor struct {
	id        agentid.ID
	inbox     Mailbox
	generator corectx.ContentGenerator
	registry  *branch.Registry
	worktrees *worktree.Manager
}

// NewExecutor creates an Executor over the given content generator. registry
// and worktrees may be nil, in which case CommitArtifacts is unavailable and
// Execute never touches git.
func NewExecutor(id agentid.ID, generator corectx.ContentGenerator, registry *branch.Registry, worktrees *worktree.Manager) *Executor {
	return &Executor{id: id, inbox: NewMailbox(), generator: generator, registry: registry, worktrees: worktrees}
}

// Mailbox returns the channel other agents send Execute requests on.
func (e *Executor) Mailbox() Mailbox { return e.inbox }

// Run drains the mailbox until ctx is cancelled.
func (e *Executor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-e.inbox:
			fn(ctx)
		}
	}
}

// Execute runs item under cc, returning the resulting WorkResult (spec
// §4.5).
func (e *Executor) Execute(ctx context.Context, item *work.Item, cc ConsolidatedContext) (work.Result, error) {
	reply := make(chan ExecuteResult, 1)
	if err := send(ctx, e.inbox, func(ctx context.Context) {
		result, err := e.run(ctx, item, cc)
		reply <- ExecuteResult{Result: result, Err: err}
	}); err != nil {
		return work.Result{}, err
	}
	select {
	case res := <-reply:
		return res.Result, res.Err
	case <-ctx.Done():
		return work.Result{}, ctx.Err()
	}
}

func (e *Executor) run(ctx context.Context, item *work.Item, cc ConsolidatedContext) (work.Result, error) {
	if e.generator == nil {
		return work.Result{}, corerr.InvalidOperation(corerr.CodeNoGenerator, "executor has no content generator configured")
	}

	start := time.Now()
	res, err := e.generator.Generate(ctx, corectx.GenerateOptions{
		Prompt:     item.Description,
		SystemHint: string(cc.Mode),
	})
	duration := time.Since(start)

	if err != nil {
		return work.Result{ItemID: item.ID, Success: false, Error: err.Error(), Duration: duration}, nil
	}
	return work.Result{ItemID: item.ID, Success: true, Data: res.Text, Duration: duration}, nil
}

// ExecuteSubTasks runs tasks concurrently, each an independent unit with
// its own rollback-free budget of one attempt; if any fails the whole
// group's error is returned so the Orchestrator can requeue the item for
// review rather than partially apply the result (spec §4.5 sub-worker
// rules: independent paths, enumerable success criteria).
func (e *Executor) ExecuteSubTasks(ctx context.Context, item *work.Item, tasks []SubTask) ([]work.Result, error) {
	if len(tasks) > maxSubWorkers {
		return nil, corerr.InvalidOperation(corerr.CodeScopeExceeded,
			fmt.Sprintf("too many sub-workers requested: %d > %d", len(tasks), maxSubWorkers))
	}
	if e.generator == nil {
		return nil, corerr.InvalidOperation(corerr.CodeNoGenerator, "executor has no content generator configured")
	}

	results := make([]work.Result, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			start := time.Now()
			res, err := e.generator.Generate(gctx, corectx.GenerateOptions{Prompt: task.Prompt})
			if err != nil {
				return fmt.Errorf("sub-worker %q: %w", task.Path, err)
			}
			results[i] = work.Result{ItemID: item.ID, Success: true, Data: res.Text, Duration: time.Since(start)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// wrapperFor builds a GitWrapper scoped to item's assigned agent: its own
// worktree, validated against its current branch.Intent. Requires registry
// and worktrees to have been supplied to NewExecutor.
func (e *Executor) wrapperFor(ctx context.Context, item *work.Item) (*gitwrapper.Wrapper, error) {
	if e.registry == nil || e.worktrees == nil {
		return nil, corerr.InvalidOperation(corerr.CodeWriteNotPermitted, "executor has no git worktree wiring configured")
	}
	assignment, ok := e.registry.GetAgentAssignment(item.AssignedAgent)
	if !ok {
		return nil, corerr.InvalidOperation(corerr.CodeWriteNotPermitted, fmt.Sprintf("agent %s holds no branch assignment", item.AssignedAgent))
	}
	info, err := e.worktrees.Get(ctx, item.AssignedAgent)
	if err != nil {
		return nil, fmt.Errorf("locating worktree for agent %s: %w", item.AssignedAgent, err)
	}
	return gitwrapper.New(item.AssignedAgent, info.Path, assignment.Intent), nil
}

// CommitArtifacts stages paths and commits them inside item's assigned
// agent's own worktree, subject to that agent's WorkIntent (spec §5: agents
// execute git write operations only within their own worktree, and only
// where their intent permits the paths touched). Returns the combined
// output of the add and commit commands.
func (e *Executor) CommitArtifacts(ctx context.Context, item *work.Item, message string, paths []string) (string, error) {
	w, err := e.wrapperFor(ctx, item)
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", corerr.InvalidOperation(corerr.CodeScopeExceeded, "no paths supplied to commit")
	}
	if out, err := w.Run(ctx, append([]string{"add"}, paths...)...); err != nil {
		return out, err
	}
	out, err := w.Run(ctx, "commit", "-m", message)
	return out, err
}
