// Package conflict implements the File/Conflict Tracker: it records which
// agent last touched which file and raises an ActiveConflict whenever more
// than one agent has touched the same file concurrently (spec §4.8,
// grounded on original_source/file_tracker.rs).
package conflict

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

// ModificationKind classifies a single file touch.
type ModificationKind string

const (
	ModCreated  ModificationKind = "created"
	ModModified ModificationKind = "modified"
	ModDeleted  ModificationKind = "deleted"
)

// FileModification is one recorded touch of a path by an agent.
type FileModification struct {
	Path      string
	AgentID   agentid.ID
	Timestamp time.Time
	Kind      ModificationKind
}

// Severity classifies how urgently a conflict needs human or Reviewer
// attention (spec §4.8 determine_severity).
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityBlock   Severity = "block"
)

// ActiveConflict is raised when two or more agents have modified the same
// path.
type ActiveConflict struct {
	ID           string
	Path         string
	Agents       []agentid.ID
	DetectedAt   time.Time
	Severity     Severity
	LastNotified *time.Time
}

// Tracker holds per-agent and per-file modification state plus the active
// conflict set derived from it. Safe for concurrent use.
type Tracker struct {
	mu            sync.RWMutex
	agentFiles    map[agentid.ID]map[string]struct{}
	fileMods      map[string][]FileModification
	activeConflicts map[string]*ActiveConflict
}

// New creates an empty tracker.
func New() *Tracker {
	return &Tracker{
		agentFiles:      make(map[agentid.ID]map[string]struct{}),
		fileMods:        make(map[string][]FileModification),
		activeConflicts: make(map[string]*ActiveConflict),
	}
}

// RecordModification records that agent touched path and re-evaluates
// whether path now has a conflict.
func (t *Tracker) RecordModification(agent agentid.ID, path string, kind ModificationKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.agentFiles[agent] == nil {
		t.agentFiles[agent] = make(map[string]struct{})
	}
	t.agentFiles[agent][path] = struct{}{}

	t.fileMods[path] = append(t.fileMods[path], FileModification{
		Path:      path,
		AgentID:   agent,
		Timestamp: time.Now(),
		Kind:      kind,
	})

	t.detectConflictsForFileLocked(path)
}

// detectConflictsForFileLocked must be called with t.mu held.
func (t *Tracker) detectConflictsForFileLocked(path string) {
	seen := make(map[agentid.ID]struct{})
	var agents []agentid.ID
	for _, mod := range t.fileMods[path] {
		if _, ok := seen[mod.AgentID]; !ok {
			seen[mod.AgentID] = struct{}{}
			agents = append(agents, mod.AgentID)
		}
	}
	if len(agents) <= 1 {
		return
	}

	id := conflictID(path, agents)
	if _, exists := t.activeConflicts[id]; exists {
		return
	}
	t.activeConflicts[id] = &ActiveConflict{
		ID:         id,
		Path:       path,
		Agents:     agents,
		DetectedAt: time.Now(),
		Severity:   determineSeverity(path),
	}
}

// determineSeverity implements spec §4.8's policy: migration/schema/secret
// files block, any other extensioned file is an error, extensionless paths
// (usually directories) are a warning.
func determineSeverity(path string) Severity {
	lower := strings.ToLower(path)
	blockMarkers := []string{"migration", "schema", ".env", "credential", "secret"}
	for _, marker := range blockMarkers {
		if strings.Contains(lower, marker) {
			return SeverityBlock
		}
	}
	base := path
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		base = path[idx+1:]
	}
	if strings.Contains(base, ".") {
		return SeverityError
	}
	return SeverityWarning
}

// conflictID derives a stable id for a (path, agent-set) pair by sorting
// agent ids and joining with path, matching original_source's
// generate_conflict_id.
func conflictID(path string, agents []agentid.ID) string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.String()
	}
	sort.Strings(ids)
	return strings.Join(ids, ",") + "@" + path
}

// GetAgentFiles returns the set of paths agent has touched.
func (t *Tracker) GetAgentFiles(agent agentid.ID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	files := t.agentFiles[agent]
	out := make([]string, 0, len(files))
	for f := range files {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// GetFileAgents returns the distinct agents that have touched path.
func (t *Tracker) GetFileAgents(path string) []agentid.ID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[agentid.ID]struct{})
	var agents []agentid.ID
	for _, mod := range t.fileMods[path] {
		if _, ok := seen[mod.AgentID]; !ok {
			seen[mod.AgentID] = struct{}{}
			agents = append(agents, mod.AgentID)
		}
	}
	return agents
}

// GetActiveConflicts returns every currently active conflict.
func (t *Tracker) GetActiveConflicts() []*ActiveConflict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*ActiveConflict, 0, len(t.activeConflicts))
	for _, c := range t.activeConflicts {
		out = append(out, c)
	}
	return out
}

// GetAgentConflicts returns active conflicts involving agent.
func (t *Tracker) GetAgentConflicts(agent agentid.ID) []*ActiveConflict {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []*ActiveConflict
	for _, c := range t.activeConflicts {
		for _, a := range c.Agents {
			if a == agent {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

// MarkConflictNotified stamps a conflict as having been surfaced to its
// agents/operator.
func (t *Tracker) MarkConflictNotified(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.activeConflicts[id]; ok {
		now := time.Now()
		c.LastNotified = &now
	}
}

// ResolveConflict removes a conflict by id, e.g. once an operator has
// reconciled the underlying edits.
func (t *Tracker) ResolveConflict(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.activeConflicts, id)
}

// ClearAgentFiles drops all files tracked for agent (used on release /
// worktree cleanup) and refreshes conflicts that may no longer involve
// enough distinct agents.
func (t *Tracker) ClearAgentFiles(agent agentid.ID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	paths := t.agentFiles[agent]
	delete(t.agentFiles, agent)

	for path := range paths {
		mods := t.fileMods[path][:0]
		for _, m := range t.fileMods[path] {
			if m.AgentID != agent {
				mods = append(mods, m)
			}
		}
		if len(mods) == 0 {
			delete(t.fileMods, path)
		} else {
			t.fileMods[path] = mods
		}
	}
	t.refreshConflictsLocked()
}

// refreshConflictsLocked drops any active conflict that no longer has at
// least two distinct agents behind it. Must be called with t.mu held.
func (t *Tracker) refreshConflictsLocked() {
	for id, c := range t.activeConflicts {
		agents := t.getFileAgentsLocked(c.Path)
		if len(agents) <= 1 {
			delete(t.activeConflicts, id)
		}
	}
}

// getFileAgentsLocked is GetFileAgents without acquiring the lock, for use
// by methods that already hold it. Must be called with t.mu held.
func (t *Tracker) getFileAgentsLocked(path string) []agentid.ID {
	seen := make(map[agentid.ID]struct{})
	var agents []agentid.ID
	for _, mod := range t.fileMods[path] {
		if _, ok := seen[mod.AgentID]; !ok {
			seen[mod.AgentID] = struct{}{}
			agents = append(agents, mod.AgentID)
		}
	}
	return agents
}

// GetFileHistory returns every recorded modification of path in order.
func (t *Tracker) GetFileHistory(path string) []FileModification {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]FileModification(nil), t.fileMods[path]...)
}
