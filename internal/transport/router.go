package transport

import (
	"context"
	"sync"

	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

// Handler processes one decoded AgentMessage, e.g. by dispatching it to an
// agent's mailbox.
type Handler func(ctx context.Context, msg AgentMessage) error

// MessageRouter dispatches inbound AgentMessages by Kind to registered
// handlers, and outbound messages to every attached Transport (spec §4.12
// Message Router: "fans in/out between the local mailboxes and the P2P
// endpoint").
type MessageRouter struct {
	mu       sync.RWMutex
	handlers map[Kind]Handler
	peers    []Transport
}

// Transport is anything that can send a framed AgentMessage to a remote
// peer — satisfied by *Endpoint, and by a no-op stub in tests.
type Transport interface {
	Send(ctx context.Context, msg AgentMessage) error
}

// NewMessageRouter creates an empty router.
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{handlers: make(map[Kind]Handler)}
}

// Handle registers fn as the handler for messages of kind. A second
// registration for the same kind replaces the first.
func (r *MessageRouter) Handle(kind Kind, fn Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// AttachPeer adds t as a destination for Publish.
func (r *MessageRouter) AttachPeer(t Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers = append(r.peers, t)
}

// Dispatch routes an inbound message to its registered handler.
func (r *MessageRouter) Dispatch(ctx context.Context, msg AgentMessage) error {
	r.mu.RLock()
	fn, ok := r.handlers[msg.Kind]
	r.mu.RUnlock()
	if !ok {
		return corerr.InvalidOperation(corerr.CodeInvalidMessageID, "no handler registered for kind "+string(msg.Kind))
	}
	return fn(ctx, msg)
}

// Publish sends msg to every attached peer transport, returning the first
// error encountered (later peers are still attempted).
func (r *MessageRouter) Publish(ctx context.Context, msg AgentMessage) error {
	r.mu.RLock()
	peers := make([]Transport, len(r.peers))
	copy(peers, r.peers)
	r.mu.RUnlock()

	var firstErr error
	for _, p := range peers {
		if err := p.Send(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
