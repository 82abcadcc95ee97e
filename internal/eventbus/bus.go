// Package eventbus provides the in-process pub/sub substrate the local
// message router and UI/CLI observers use to watch AgentEvents as they are
// produced, independent of the durable event log (spec §4.12 local routing,
// adapted from quorum-ai/internal/events/bus.go).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

// Event is anything the bus can carry. AgentEvent (internal/eventlog)
// satisfies this.
type Event interface {
	EventKind() string
	OccurredAt() time.Time
	OriginAgent() agentid.ID
}

type subscriber struct {
	ch       chan Event
	kinds    map[string]bool
	agent    agentid.ID
	anyAgent bool
	priority bool
}

// Bus is a pub/sub hub with ring-buffer backpressure for regular
// subscribers and blocking delivery for priority subscribers.
type Bus struct {
	mu           sync.RWMutex
	subscribers  []*subscriber
	prioritySubs []*subscriber
	bufferSize   int
	dropped      int64
	closed       bool
}

// New creates a Bus whose regular subscriber channels buffer bufferSize
// events before dropping the oldest (bufferSize <= 0 defaults to 100).
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving every event of the given kinds
// (all kinds if none given) from any agent.
func (b *Bus) Subscribe(kinds ...string) <-chan Event {
	return b.subscribe(agentid.ID{}, true, false, kinds)
}

// SubscribeForAgent scopes the subscription to events originated by agent.
func (b *Bus) SubscribeForAgent(agent agentid.ID, kinds ...string) <-chan Event {
	return b.subscribe(agent, false, false, kinds)
}

// SubscribePriority returns a never-drop subscription across all agents,
// for consumers (e.g. the durable event log writer) that must not miss an
// event under load.
func (b *Bus) SubscribePriority(kinds ...string) <-chan Event {
	return b.subscribe(agentid.ID{}, true, true, kinds)
}

func (b *Bus) subscribe(agent agentid.ID, anyAgent, priority bool, kinds []string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	bufSize := b.bufferSize
	if priority {
		bufSize = 50
	}
	sub := &subscriber{
		ch:       make(chan Event, bufSize),
		kinds:    make(map[string]bool, len(kinds)),
		agent:    agent,
		anyAgent: anyAgent,
		priority: priority,
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}
	if priority {
		b.prioritySubs = append(b.prioritySubs, sub)
	} else {
		b.subscribers = append(b.subscribers, sub)
	}
	return sub.ch
}

// Unsubscribe removes and closes a previously returned channel.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = removeSub(b.subscribers, ch)
	b.prioritySubs = removeSub(b.prioritySubs, ch)
}

func removeSub(subs []*subscriber, ch <-chan Event) []*subscriber {
	out := subs[:0]
	for _, s := range subs {
		if s.ch == ch {
			close(s.ch)
			continue
		}
		out = append(out, s)
	}
	return out
}

func (b *Bus) matches(sub *subscriber, ev Event) bool {
	if !sub.anyAgent && sub.agent != ev.OriginAgent() {
		return false
	}
	if len(sub.kinds) > 0 && !sub.kinds[ev.EventKind()] {
		return false
	}
	return true
}

// Publish delivers ev to every matching regular subscriber, dropping the
// oldest buffered event for any subscriber whose channel is full.
func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if b.matches(sub, ev) {
			b.deliverRingBuffer(sub, ev)
		}
	}
}

// PublishPriority delivers ev to regular subscribers (ring buffer) and then
// blocks delivering to every matching priority subscriber.
func (b *Bus) PublishPriority(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subscribers {
		if b.matches(sub, ev) {
			b.deliverRingBuffer(sub, ev)
		}
	}
	for _, sub := range b.prioritySubs {
		if b.matches(sub, ev) {
			sub.ch <- ev
		}
	}
}

func (b *Bus) deliverRingBuffer(sub *subscriber, ev Event) {
	select {
	case sub.ch <- ev:
		return
	default:
	}
	select {
	case <-sub.ch:
		atomic.AddInt64(&b.dropped, 1)
	default:
	}
	select {
	case sub.ch <- ev:
	default:
		atomic.AddInt64(&b.dropped, 1)
	}
}

// DroppedCount returns how many events were dropped from ring-buffered
// subscriber channels since the bus was created.
func (b *Bus) DroppedCount() int64 {
	return atomic.LoadInt64(&b.dropped)
}

// Close closes every subscriber channel. The bus is unusable afterward.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subscribers {
		close(s.ch)
	}
	for _, s := range b.prioritySubs {
		close(s.ch)
	}
	b.subscribers = nil
	b.prioritySubs = nil
}
