package crossprocess

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

func TestRunnerRegistersAndUnregistersOnExit(t *testing.T) {
	c := newTestCoordinator(t)
	self := agentid.New()

	ctx, cancel := context.WithCancel(context.Background())
	r := NewRunner(c, self, 20*time.Millisecond, slog.New(slog.NewTextHandler(os.Stderr, nil)))

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		procs, err := c.GetActiveProcesses()
		if err != nil {
			t.Fatalf("GetActiveProcesses: %v", err)
		}
		if len(procs) == 1 && procs[0].AgentID == self {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	procs, err := c.GetActiveProcesses()
	if err != nil {
		t.Fatalf("GetActiveProcesses: %v", err)
	}
	if len(procs) != 1 || procs[0].AgentID != self {
		t.Fatalf("expected runner to register %s, got %+v", self, procs)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after ctx cancellation")
	}

	procs, err = c.GetActiveProcesses()
	if err != nil {
		t.Fatalf("GetActiveProcesses after shutdown: %v", err)
	}
	if len(procs) != 0 {
		t.Fatalf("expected runner to unregister on shutdown, got %+v", procs)
	}
}
