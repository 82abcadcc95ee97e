package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agent"
	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/config"
)

type flakyRunner struct {
	failures int
	calls    int
}

func (f *flakyRunner) Run(ctx context.Context) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("boom")
	}
	<-ctx.Done()
	return nil
}

func newTestSupervisor(cfg config.SupervisorConfig) *Supervisor {
	return New(cfg, nil,
		agent.NewOrchestrator(agentid.New(), nil, nil),
		agent.NewOptimizer(agentid.New(), nil, nil),
		agent.NewReviewer(agentid.New(), nil),
		agent.NewExecutor(agentid.New(), nil, nil, nil),
	)
}

func TestAllowRestartWithinBudget(t *testing.T) {
	s := newTestSupervisor(config.SupervisorConfig{MaxRestarts: 2, RestartWindowSecs: 60})
	if !s.allowRestart("orchestrator") {
		t.Fatal("first restart should be allowed")
	}
	if !s.allowRestart("orchestrator") {
		t.Fatal("second restart should be allowed")
	}
	if s.allowRestart("orchestrator") {
		t.Fatal("third restart should exceed the budget")
	}
}

func TestAllowRestartResetsOutsideWindow(t *testing.T) {
	s := newTestSupervisor(config.SupervisorConfig{MaxRestarts: 1, RestartWindowSecs: 1})
	if !s.allowRestart("reviewer") {
		t.Fatal("first restart should be allowed")
	}
	if s.allowRestart("reviewer") {
		t.Fatal("second restart should exceed the budget within the window")
	}

	s.restarts["reviewer"][0] = time.Now().Add(-2 * time.Second)
	if !s.allowRestart("reviewer") {
		t.Fatal("restart should be allowed again once the prior one ages out of the window")
	}
}

func TestSuperviseOneGivesUpAfterBudgetExhausted(t *testing.T) {
	s := newTestSupervisor(config.SupervisorConfig{MaxRestarts: 1, RestartWindowSecs: 60})
	runner := &flakyRunner{failures: 5}

	err := s.superviseOne(context.Background(), managed{name: "executor", run: runner})
	if err == nil {
		t.Fatal("expected an error once the restart budget is exhausted")
	}
	if runner.calls != 2 {
		t.Fatalf("expected exactly 2 attempts (1 initial + 1 restart), got %d", runner.calls)
	}
}
