// Package supervisor runs the Orchestrator, Optimizer, Reviewer, and
// Executor agent loops under one restart policy: any agent whose Run
// returns a non-nil error (other than context cancellation) is restarted,
// up to a budget, before the whole supervisor gives up and tears every
// agent down (spec §4.1 Agent Supervisor, grounded on
// golang.org/x/sync/errgroup's fan-out/fan-in shape, the same dependency
// quorum-ai's workflow package uses for its own worker pools).
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mnemosyne-run/orchestrator/internal/agent"
	"github.com/mnemosyne-run/orchestrator/internal/config"
	"github.com/mnemosyne-run/orchestrator/internal/logging"
)

// runner is anything the supervisor can start and watch.
type runner interface {
	Run(ctx context.Context) error
}

// managed pairs a runner with the label used in restart logging.
type managed struct {
	name string
	run  runner
}

// Supervisor owns the lifecycle of the four core agents.
type Supervisor struct {
	cfg    config.SupervisorConfig
	log    *logging.Logger
	agents []managed

	mu        sync.Mutex
	restarts  map[string][]time.Time

	orchestrator *agent.Orchestrator
	optimizer    *agent.Optimizer
	reviewer     *agent.Reviewer
	executor     *agent.Executor
}

// New wires the four agents under cfg's restart budget.
func New(cfg config.SupervisorConfig, log *logging.Logger, o *agent.Orchestrator, opt *agent.Optimizer, rev *agent.Reviewer, ex *agent.Executor) *Supervisor {
	return &Supervisor{
		cfg: cfg,
		log: log,
		agents: []managed{
			{name: "orchestrator", run: o},
			{name: "optimizer", run: opt},
			{name: "reviewer", run: rev},
			{name: "executor", run: ex},
		},
		restarts:     make(map[string][]time.Time),
		orchestrator: o,
		optimizer:    opt,
		reviewer:     rev,
		executor:     ex,
	}
}

// Orchestrator returns the supervised Orchestrator handle, for the CLI and
// transport layer to submit work and query status through (spec §4.1
// orchestrator_ref()).
func (s *Supervisor) Orchestrator() *agent.Orchestrator { return s.orchestrator }

// Optimizer returns the supervised Optimizer handle.
func (s *Supervisor) Optimizer() *agent.Optimizer { return s.optimizer }

// Reviewer returns the supervised Reviewer handle.
func (s *Supervisor) Reviewer() *agent.Reviewer { return s.reviewer }

// Executor returns the supervised Executor handle.
func (s *Supervisor) Executor() *agent.Executor { return s.executor }

// Run starts every agent and blocks until ctx is cancelled or an agent
// exhausts its restart budget, in which case every other agent is also
// cancelled and Run returns that agent's error.
func (s *Supervisor) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range s.agents {
		m := m
		g.Go(func() error {
			return s.superviseOne(gctx, m)
		})
	}
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Supervisor) superviseOne(ctx context.Context, m managed) error {
	for {
		err := m.run.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}

		if !s.allowRestart(m.name) {
			return fmt.Errorf("agent %q exceeded restart budget (%d restarts per %ds): %w",
				m.name, s.cfg.MaxRestarts, s.cfg.RestartWindowSecs, err)
		}
		if s.log != nil {
			s.log.Warn("restarting agent after error", "agent", m.name, "error", err)
		}
	}
}

// allowRestart records a restart attempt for name and reports whether it
// falls within the configured budget: at most MaxRestarts restarts in any
// trailing RestartWindowSecs window (spec §4.1 restart budget).
func (s *Supervisor) allowRestart(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	window := time.Duration(s.cfg.RestartWindowSecs) * time.Second
	cutoff := now.Add(-window)

	history := s.restarts[name]
	var recent []time.Time
	for _, t := range history {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= s.cfg.MaxRestarts {
		s.restarts[name] = recent
		return false
	}
	recent = append(recent, now)
	s.restarts[name] = recent
	return true
}

// ShutdownTimeout returns how long callers should wait for agents to exit
// after cancelling the context passed to Run (spec §4.1).
func (s *Supervisor) ShutdownTimeout() time.Duration {
	return time.Duration(s.cfg.ShutdownTimeoutMS) * time.Millisecond
}
