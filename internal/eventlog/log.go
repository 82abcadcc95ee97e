// Package eventlog is the durable, append-only store for AgentEvents. Each
// origin (agent) owns a monotonically increasing sequence number; replay is
// side-effect-free with respect to external collaborators — it only rebuilds
// in-memory state from events already on disk (spec §4.11, grounded on
// quorum-ai/internal/adapters/state/sqlite.go for the migration/connection
// pattern).
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
)

//go:embed migrations/001_agent_events.sql
var migrationV1 string

// Event is one durable record of something an agent did. Kind is a
// free-form dotted string (e.g. "work_item.phase_advanced",
// "branch.assigned", "conflict.detected"); Payload carries kind-specific
// JSON.
type Event struct {
	ID         int64
	OriginID   agentid.ID
	Seq        uint64
	Kind       string
	WorkItemID string
	Branch     string
	Payload    json.RawMessage
	OccurredAt time.Time
}

// ForBus adapts the event into the minimal shape internal/eventbus.Bus
// expects, so a single Append can be both durably logged and fanned out
// in-process without the two packages importing one another.
func (e Event) ForBus() BusEvent {
	return BusEvent{Event: e}
}

// BusEvent implements eventbus.Event for a logged Event. Its own
// OccurredAt method shadows the embedded Event's OccurredAt field, which
// Go resolves unambiguously in favor of the shallower method.
type BusEvent struct {
	Event
}

func (e BusEvent) EventKind() string       { return e.Event.Kind }
func (e BusEvent) OccurredAt() time.Time   { return e.Event.OccurredAt }
func (e BusEvent) OriginAgent() agentid.ID { return e.Event.OriginID }

// Log is a SQLite-backed append-only event store. Safe for concurrent use;
// SQLite itself serializes writers.
type Log struct {
	db *sql.DB
	mu sync.Mutex // serializes sequence number allocation per process
}

// Open creates or opens the event log database at path, running migrations.
func Open(path string) (*Log, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating event log directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening event log database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(context.Background(), migrationV1); err != nil {
		db.Close()
		return nil, fmt.Errorf("running event log migration: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Append writes a new event for origin, assigning it the next sequence
// number for that origin.
func (l *Log) Append(ctx context.Context, origin agentid.ID, kind, workItemID, branchName string, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling event payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Event{}, corerr.Database("EVENT_LOG_TX_FAILED", err.Error()).WithCause(err)
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM agent_events WHERE origin_id = ?`, origin.String(),
	).Scan(&maxSeq); err != nil {
		return Event{}, corerr.Database("EVENT_LOG_QUERY_FAILED", err.Error()).WithCause(err)
	}
	nextSeq := uint64(1)
	if maxSeq.Valid {
		nextSeq = uint64(maxSeq.Int64) + 1
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO agent_events (origin_id, seq, kind, work_item_id, branch, payload, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		origin.String(), nextSeq, kind, workItemID, branchName, string(data), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Event{}, corerr.Database("EVENT_LOG_INSERT_FAILED", err.Error()).WithCause(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, corerr.Database("EVENT_LOG_INSERT_FAILED", err.Error()).WithCause(err)
	}
	if err := tx.Commit(); err != nil {
		return Event{}, corerr.Database("EVENT_LOG_COMMIT_FAILED", err.Error()).WithCause(err)
	}

	return Event{
		ID: id, OriginID: origin, Seq: nextSeq, Kind: kind,
		WorkItemID: workItemID, Branch: branchName, Payload: data, OccurredAt: now,
	}, nil
}

// Replay returns every event in insertion order (global id order), for
// rebuilding in-memory state after a restart. Replay must never re-trigger
// side effects visible to external collaborators (memory stores, skill
// catalogues, content generators) — callers rebuilding state from Replay
// should only mutate local structures.
func (l *Log) Replay(ctx context.Context) ([]Event, error) {
	return l.query(ctx, `SELECT id, origin_id, seq, kind, work_item_id, branch, payload, occurred_at FROM agent_events ORDER BY id ASC`)
}

// ReplayForWorkItem returns every event referencing workItemID, in
// insertion order.
func (l *Log) ReplayForWorkItem(ctx context.Context, workItemID string) ([]Event, error) {
	return l.query(ctx,
		`SELECT id, origin_id, seq, kind, work_item_id, branch, payload, occurred_at FROM agent_events WHERE work_item_id = ? ORDER BY id ASC`,
		workItemID)
}

// ReplayForOrigin returns every event from a single origin agent, in
// sequence order — useful for verifying that an origin's sequence numbers
// are gapless and monotonic (spec §8 testable property).
func (l *Log) ReplayForOrigin(ctx context.Context, origin agentid.ID) ([]Event, error) {
	return l.query(ctx,
		`SELECT id, origin_id, seq, kind, work_item_id, branch, payload, occurred_at FROM agent_events WHERE origin_id = ? ORDER BY seq ASC`,
		origin.String())
}

func (l *Log) query(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, corerr.Database("EVENT_LOG_QUERY_FAILED", err.Error()).WithCause(err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev         Event
			originStr  string
			payload    string
			occurredAt string
		)
		if err := rows.Scan(&ev.ID, &originStr, &ev.Seq, &ev.Kind, &ev.WorkItemID, &ev.Branch, &payload, &occurredAt); err != nil {
			return nil, fmt.Errorf("scanning event row: %w", err)
		}
		origin, err := agentid.Parse(originStr)
		if err != nil {
			return nil, fmt.Errorf("parsing origin id %q: %w", originStr, err)
		}
		ev.OriginID = origin
		ev.Payload = json.RawMessage(payload)
		ts, err := time.Parse(time.RFC3339Nano, occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parsing occurred_at %q: %w", occurredAt, err)
		}
		ev.OccurredAt = ts
		events = append(events, ev)
	}
	return events, rows.Err()
}
