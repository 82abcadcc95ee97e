package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	origin := agentid.New()

	for i := 0; i < 3; i++ {
		ev, err := log.Append(ctx, origin, "work_item.phase_advanced", "item-1", "feature/x", map[string]int{"n": i})
		if err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
		if ev.Seq != uint64(i+1) {
			t.Errorf("event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}

	events, err := log.ReplayForOrigin(ctx, origin)
	if err != nil {
		t.Fatalf("ReplayForOrigin: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != uint64(i+1) {
			t.Errorf("replayed event %d seq = %d, want %d", i, ev.Seq, i+1)
		}
	}
}

func TestReplayForWorkItem(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	origin := agentid.New()

	if _, err := log.Append(ctx, origin, "work_item.created", "item-1", "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := log.Append(ctx, origin, "work_item.created", "item-2", "", nil); err != nil {
		t.Fatalf("Append: %v", err)
	}

	events, err := log.ReplayForWorkItem(ctx, "item-1")
	if err != nil {
		t.Fatalf("ReplayForWorkItem: %v", err)
	}
	if len(events) != 1 || events[0].WorkItemID != "item-1" {
		t.Fatalf("expected exactly 1 event for item-1, got %+v", events)
	}
}

func TestIndependentOriginsHaveIndependentSequences(t *testing.T) {
	dir := t.TempDir()
	log, err := Open(filepath.Join(dir, "events.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer log.Close()

	ctx := context.Background()
	a, b := agentid.New(), agentid.New()

	evA, err := log.Append(ctx, a, "heartbeat", "", "", nil)
	if err != nil {
		t.Fatalf("Append a: %v", err)
	}
	evB, err := log.Append(ctx, b, "heartbeat", "", "", nil)
	if err != nil {
		t.Fatalf("Append b: %v", err)
	}
	if evA.Seq != 1 || evB.Seq != 1 {
		t.Errorf("each origin should start its own sequence at 1, got a=%d b=%d", evA.Seq, evB.Seq)
	}
}
