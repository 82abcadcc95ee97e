package crossprocess

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

// Runner drives the liveness side of a Coordinator for one running process:
// it registers on startup, refreshes its heartbeat and sweeps stale peers on
// a poll interval, and drains messages addressed to self, logging each one
// (spec §4.10: "a registered process updates last_heartbeat periodically").
// Nothing in this core yet acts on a received CoordinationMessage beyond
// logging it — see DESIGN.md for why SendMessage's producers are left
// unwired.
type Runner struct {
	coord *Coordinator
	self  agentid.ID
	log   *slog.Logger
	poll  time.Duration
	pid   int
}

// NewRunner creates a Runner over coord for self, polling every poll.
func NewRunner(coord *Coordinator, self agentid.ID, poll time.Duration, log *slog.Logger) *Runner {
	return &Runner{coord: coord, self: self, log: log, poll: poll, pid: os.Getpid()}
}

// Run registers self and loops heartbeats/cleanup/message-draining until ctx
// is cancelled, unregistering on the way out.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.coord.Register(r.self, r.pid); err != nil {
		return err
	}
	defer func() {
		if err := r.coord.Unregister(r.self); err != nil {
			r.log.Warn("failed to unregister process", "error", err)
		}
	}()

	wake, err := r.coord.Watch()
	if err != nil {
		r.log.Warn("cross-process queue watch unavailable, falling back to polling only", "error", err)
		wake = nil
	}
	defer r.coord.Close()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.tick(ctx)
		case <-wake:
			r.drainMessages()
		}
	}
}

func (r *Runner) tick(_ context.Context) {
	if err := r.coord.Heartbeat(r.self); err != nil {
		r.log.Warn("heartbeat failed", "error", err)
	}
	stale, err := r.coord.CleanupStaleProcesses()
	if err != nil {
		r.log.Warn("stale process cleanup failed", "error", err)
		return
	}
	for _, id := range stale {
		r.log.Info("reaped stale process registration", "agent_id", id.String())
	}
	r.drainMessages()
}

func (r *Runner) drainMessages() {
	msgs, err := r.coord.ReceiveMessages(r.self)
	if err != nil {
		r.log.Warn("receiving coordination messages failed", "error", err)
		return
	}
	for _, msg := range msgs {
		r.log.Info("received coordination message", "message_id", msg.ID, "type", string(msg.Type), "from", msg.FromAgent.String())
	}
}
