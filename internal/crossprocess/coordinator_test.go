package crossprocess

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	t.Setenv(sharedSecretEnv, "test-secret-do-not-use-in-prod")
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestRegisterAndVerify(t *testing.T) {
	c := newTestCoordinator(t)
	agent := agentid.New()

	if err := c.Register(agent, os.Getpid()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	procs, err := c.GetActiveProcesses()
	if err != nil {
		t.Fatalf("GetActiveProcesses: %v", err)
	}
	if len(procs) != 1 || procs[0].AgentID != agent {
		t.Fatalf("expected 1 registered process for %s, got %+v", agent, procs)
	}
}

func TestLoadRegistryRejectsTamperedSignature(t *testing.T) {
	c := newTestCoordinator(t)
	agent := agentid.New()
	if err := c.Register(agent, os.Getpid()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Re-open with a different secret: every signature should now fail
	// verification and be dropped.
	other := &Coordinator{baseDir: c.baseDir, queueDir: c.queueDir, registryPath: c.registryPath, secret: []byte("different-secret")}
	regs, err := other.loadRegistry()
	if err != nil {
		t.Fatalf("loadRegistry: %v", err)
	}
	if len(regs) != 0 {
		t.Fatalf("expected registrations signed with a different secret to be rejected, got %d", len(regs))
	}
}

func TestSendReceiveMessage(t *testing.T) {
	c := newTestCoordinator(t)
	from := agentid.New()
	to := agentid.New()

	msg := Message{ID: "join-req-1", FromAgent: from, ToAgent: &to, Type: MessageJoinRequest}
	if err := c.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	received, err := c.ReceiveMessages(to)
	if err != nil {
		t.Fatalf("ReceiveMessages: %v", err)
	}
	if len(received) != 1 || received[0].ID != "join-req-1" {
		t.Fatalf("expected 1 message for recipient, got %+v", received)
	}

	// Addressed messages are deleted after delivery.
	again, err := c.ReceiveMessages(to)
	if err != nil {
		t.Fatalf("ReceiveMessages (2nd): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected addressed message to be consumed, got %+v", again)
	}
}

func TestBroadcastMessageNotDeleted(t *testing.T) {
	c := newTestCoordinator(t)
	from := agentid.New()
	agentA := agentid.New()
	agentB := agentid.New()

	msg := Message{ID: "heartbeat-broadcast", FromAgent: from, Type: MessageHeartbeat}
	if err := c.SendMessage(msg); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	if got, _ := c.ReceiveMessages(agentA); len(got) != 1 {
		t.Fatalf("agentA should see the broadcast, got %d", len(got))
	}
	if got, _ := c.ReceiveMessages(agentB); len(got) != 1 {
		t.Fatalf("agentB should still see the broadcast, got %d", len(got))
	}
}

func TestSendMessageRejectsInvalidID(t *testing.T) {
	c := newTestCoordinator(t)
	msg := Message{ID: "not valid!", FromAgent: agentid.New(), Type: MessageHeartbeat}
	if err := c.SendMessage(msg); err == nil {
		t.Fatal("expected invalid message id to be rejected")
	}
}

func TestSendMessageRejectsOversized(t *testing.T) {
	c := newTestCoordinator(t)
	big := make([]byte, maxMessageBytes)
	for i := range big {
		big[i] = 'x'
	}
	msg := Message{ID: "oversized-1", FromAgent: agentid.New(), Type: MessageHeartbeat, Payload: mustJSON(t, string(big))}
	if err := c.SendMessage(msg); err == nil {
		t.Fatal("expected oversized message to be rejected")
	}
}

func mustJSON(t *testing.T, s string) []byte {
	t.Helper()
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}

func TestQueueDirPermissions(t *testing.T) {
	c := newTestCoordinator(t)
	info, err := os.Stat(c.queueDir)
	if err != nil {
		t.Fatalf("stat queue dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("queue dir perm = %v, want 0700", info.Mode().Perm())
	}
}

func TestCoordinationQueuePath(t *testing.T) {
	c := newTestCoordinator(t)
	if filepath.Base(c.queueDir) != queueDirName {
		t.Errorf("queue dir base = %q, want %q", filepath.Base(c.queueDir), queueDirName)
	}
}
