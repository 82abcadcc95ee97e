package transport

import (
	"context"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

type recordingPeer struct {
	received []AgentMessage
}

func (p *recordingPeer) Send(ctx context.Context, msg AgentMessage) error {
	p.received = append(p.received, msg)
	return nil
}

func TestRouterDispatchesToRegisteredHandler(t *testing.T) {
	r := NewMessageRouter()
	var got AgentMessage
	r.Handle(KindHeartbeat, func(ctx context.Context, msg AgentMessage) error {
		got = msg
		return nil
	})

	msg, _ := NewMessage(KindHeartbeat, agentid.New(), agentid.ID{}, map[string]string{"status": "alive"})
	if err := r.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got.Kind != KindHeartbeat {
		t.Fatalf("handler did not receive the dispatched message: %+v", got)
	}
}

func TestRouterDispatchUnknownKindErrors(t *testing.T) {
	r := NewMessageRouter()
	msg, _ := NewMessage(KindHeartbeat, agentid.New(), agentid.ID{}, nil)
	if err := r.Dispatch(context.Background(), msg); err == nil {
		t.Fatal("expected error for unregistered kind")
	}
}

func TestRouterPublishFansOutToPeers(t *testing.T) {
	r := NewMessageRouter()
	p1, p2 := &recordingPeer{}, &recordingPeer{}
	r.AttachPeer(p1)
	r.AttachPeer(p2)

	msg, _ := NewMessage(KindWorkEvent, agentid.New(), agentid.ID{}, nil)
	if err := r.Publish(context.Background(), msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(p1.received) != 1 || len(p2.received) != 1 {
		t.Fatalf("expected both peers to receive the message, got %d and %d", len(p1.received), len(p2.received))
	}
}
