package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne-run/orchestrator/internal/agent"
	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/coordinator"
	"github.com/mnemosyne-run/orchestrator/internal/crossprocess"
	"github.com/mnemosyne-run/orchestrator/internal/eventlog"
	"github.com/mnemosyne-run/orchestrator/internal/logging"
	"github.com/mnemosyne-run/orchestrator/internal/supervisor"
	"github.com/mnemosyne-run/orchestrator/internal/transport"
	"github.com/mnemosyne-run/orchestrator/internal/work"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the four agents and the P2P endpoint for this process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runSupervisor(a)
		},
	}
}

func runSupervisor(a *app) error {
	ctx, stop := signal.NotifyContext(rootCtx(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.New(logging.DefaultConfig())

	events, err := eventlog.Open(a.dir + "/event_log/events.db")
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer events.Close()

	orchestratorID := agentid.New()
	orch := agent.NewOrchestrator(orchestratorID, events, a.registry)
	opt := agent.NewOptimizer(agentid.New(), nil, nil)
	rev := agent.NewReviewer(agentid.New(), a.tracker)
	exec := agent.NewExecutor(agentid.New(), nil, a.registry, a.worktrees)

	router := transport.NewMessageRouter()
	registerRouterHandlers(router, a, orch, log)
	endpoint, err := transport.NewEndpoint(a.cfg.Transport, router)
	if err != nil {
		return fmt.Errorf("starting transport endpoint: %w", err)
	}
	defer endpoint.Close()
	go func() { _ = endpoint.Serve(ctx) }()

	sup := supervisor.New(a.cfg.Supervisor, log, orch, opt, rev, exec)
	pipeline := agent.NewPipeline(agentid.New(), agentid.RoleExecutor, nil, orch, opt, rev, exec)

	log.Info("starting mnemosyne agents", "listen", endpoint.Addr(), "node_id", endpoint.NodeID().String())
	if endpoint.Addr() != "" {
		log.Info("peer bootstrap ticket", "ticket", endpoint.Ticket().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error {
		if err := pipeline.Run(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})

	if a.cfg.CrossProcess.Enabled {
		cp, err := crossprocess.New(a.dir)
		if err != nil {
			return fmt.Errorf("starting cross-process coordinator: %w", err)
		}
		poll := time.Duration(a.cfg.CrossProcess.PollIntervalSeconds) * time.Second
		if poll <= 0 {
			poll = 5 * time.Second
		}
		runner := crossprocess.NewRunner(cp, orchestratorID, poll, log.Logger)
		g.Go(func() error { return runner.Run(gctx) })
	}

	return g.Wait()
}

// registerRouterHandlers wires transport.MessageRouter's inbound Kinds to
// the local agent/coordinator state they act on (spec §4.12: "route(role,
// message) ... enqueue [in] a local mailbox"). KindJoinRequest has no
// routable reply path in this wire protocol — a reply would need to be sent
// back over a fresh stream to an address this process doesn't have, since
// AgentMessage carries only the sender's AgentId, not its transport address
// (spec §4.12 leaves "an external peer directory" for that out of scope) —
// so a remote join is applied locally and only logged, never acknowledged.
func registerRouterHandlers(router *transport.MessageRouter, a *app, orch *agent.Orchestrator, log *logging.Logger) {
	router.Handle(transport.KindHeartbeat, func(_ context.Context, msg transport.AgentMessage) error {
		log.Debug("received remote heartbeat", "from", msg.From.String())
		return nil
	})

	router.Handle(transport.KindWorkEvent, func(ctx context.Context, msg transport.AgentMessage) error {
		var result work.Result
		if err := json.Unmarshal(msg.Payload, &result); err != nil {
			return fmt.Errorf("decoding work_event payload: %w", err)
		}
		_, err := orch.CompleteWork(ctx, result.ItemID, result)
		return err
	})

	router.Handle(transport.KindReleaseRequest, func(ctx context.Context, msg transport.AgentMessage) error {
		return a.coord.Release(ctx, msg.From)
	})

	router.Handle(transport.KindJoinRequest, func(ctx context.Context, msg transport.AgentMessage) error {
		var payload remoteJoinPayload
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return fmt.Errorf("decoding join_request payload: %w", err)
		}
		result, err := a.coord.Join(ctx, coordinatorJoinRequest(msg.From, payload))
		if err != nil {
			return err
		}
		log.Info("remote join request applied", "from", msg.From.String(), "outcome", string(result.Outcome))
		return nil
	})
}

// remoteJoinPayload is the wire shape of a KindJoinRequest's payload.
type remoteJoinPayload struct {
	Branch     string        `json:"branch"`
	Intent     branch.Intent `json:"intent"`
	Mode       branch.Mode   `json:"mode"`
	BaseBranch string        `json:"base_branch"`
}

func coordinatorJoinRequest(from agentid.ID, p remoteJoinPayload) coordinator.JoinRequest {
	return coordinator.JoinRequest{
		Agent:      from,
		Branch:     p.Branch,
		Intent:     p.Intent,
		Mode:       p.Mode,
		BaseBranch: p.BaseBranch,
	}
}
