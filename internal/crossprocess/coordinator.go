// Package crossprocess coordinates agents that run in separate OS processes
// (as opposed to goroutines within one orchestrator binary) via a signed,
// file-based message queue and process registry under
// .mnemosyne/coordination_queue/ (spec §4.10, grounded on
// original_source/cross_process.rs).
package crossprocess

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio/v2"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/corerr"
	"github.com/mnemosyne-run/orchestrator/internal/filelock"
)

const (
	maxMessageBytes  = 1024
	heartbeatTimeout = 30 * time.Second
	sharedSecretEnv  = "MNEMOSYNE_SHARED_SECRET"
	queueDirName     = "coordination_queue"
	registryFileName = "process_registry.json"
)

var messageIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// MessageType enumerates the kinds of cross-process coordination messages.
type MessageType string

const (
	MessageJoinRequest           MessageType = "join_request"
	MessageJoinApproval          MessageType = "join_approval"
	MessageJoinDenial            MessageType = "join_denial"
	MessageConflictNotification  MessageType = "conflict_notification"
	MessageIsolationRequest      MessageType = "isolation_request"
	MessageHeartbeat             MessageType = "heartbeat"
)

// Message is one entry in the file-based coordination queue. ToAgent is nil
// for broadcasts, which are never deleted on read.
type Message struct {
	ID        string          `json:"id"`
	FromAgent agentid.ID      `json:"from_agent"`
	ToAgent   *agentid.ID     `json:"to_agent,omitempty"`
	Type      MessageType     `json:"message_type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Registration is one agent process's presence record, signed so that a
// process cannot forge another agent's PID (spec §4.10).
type Registration struct {
	AgentID       agentid.ID `json:"agent_id"`
	PID           int        `json:"pid"`
	RegisteredAt  time.Time  `json:"registered_at"`
	LastHeartbeat time.Time  `json:"last_heartbeat"`
	Signature     string     `json:"signature,omitempty"`
	WorktreePath  string     `json:"worktree_path,omitempty"`
}

// Coordinator mediates cross-process agent coordination for one project
// root.
type Coordinator struct {
	baseDir      string
	queueDir     string
	registryPath string
	secret       []byte

	mu      sync.Mutex
	watcher *fsnotify.Watcher
}

// New creates the coordination directories (0700 on Unix) under baseDir and
// loads the shared HMAC secret from MNEMOSYNE_SHARED_SECRET, falling back to
// a per-user secret file with a logged warning if the env var is unset.
func New(baseDir string) (*Coordinator, error) {
	queueDir := filepath.Join(baseDir, queueDirName)
	if err := os.MkdirAll(queueDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating coordination queue dir: %w", err)
	}
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating coordination base dir: %w", err)
	}

	secret, err := loadSharedSecret()
	if err != nil {
		return nil, err
	}

	return &Coordinator{
		baseDir:      baseDir,
		queueDir:     queueDir,
		registryPath: filepath.Join(baseDir, registryFileName),
		secret:       secret,
	}, nil
}

// loadSharedSecret reads MNEMOSYNE_SHARED_SECRET, or else a per-user secret
// file at ~/.mnemosyne/shared_secret, creating one if absent. A coordinator
// running entirely within one host/user account still gets tamper-evident
// registrations this way, just not protection against a compromised account.
func loadSharedSecret() ([]byte, error) {
	if v := os.Getenv(sharedSecretEnv); v != "" {
		return []byte(v), nil
	}

	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolving user for fallback secret: %w", err)
	}
	dir := filepath.Join(u.HomeDir, ".mnemosyne")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating fallback secret dir: %w", err)
	}
	path := filepath.Join(dir, "shared_secret")
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading fallback secret: %w", err)
	}

	// No secret anywhere yet: mint one. Logged by the caller (see
	// internal/logging usage in cmd/mnemosyne-coord) as a warning since this
	// means cross-process registrations are only as trustworthy as this
	// single-user fallback.
	fresh := make([]byte, 32)
	if _, err := rand.Read(fresh); err != nil {
		return nil, fmt.Errorf("generating fallback secret: %w", err)
	}
	encoded := []byte(hex.EncodeToString(fresh))
	if err := renameio.WriteFile(path, encoded, 0o600); err != nil {
		return nil, fmt.Errorf("writing fallback secret: %w", err)
	}
	return encoded, nil
}

// Register creates or refreshes this process's registration, signing it
// with the coordinator's shared secret.
func (c *Coordinator) Register(agent agentid.ID, pid int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return err
	}

	now := time.Now()
	reg := Registration{
		AgentID:       agent,
		PID:           pid,
		RegisteredAt:  now,
		LastHeartbeat: now,
	}
	reg.Signature = c.computeSignature(reg)
	regs[agent] = reg
	return c.saveRegistry(regs)
}

// Heartbeat refreshes the LastHeartbeat of agent's registration.
func (c *Coordinator) Heartbeat(agent agentid.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return err
	}
	reg, ok := regs[agent]
	if !ok {
		return corerr.NotFound("process registration", agent.String())
	}
	reg.LastHeartbeat = time.Now()
	reg.Signature = c.computeSignature(reg)
	regs[agent] = reg
	return c.saveRegistry(regs)
}

// SetWorktreePath records the worktree path associated with agent's process.
func (c *Coordinator) SetWorktreePath(agent agentid.ID, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return err
	}
	reg, ok := regs[agent]
	if !ok {
		return corerr.NotFound("process registration", agent.String())
	}
	reg.WorktreePath = path
	reg.Signature = c.computeSignature(reg)
	regs[agent] = reg
	return c.saveRegistry(regs)
}

// Unregister removes agent's registration entirely.
func (c *Coordinator) Unregister(agent agentid.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return err
	}
	delete(regs, agent)
	return c.saveRegistry(regs)
}

// GetActiveProcesses returns every registration currently on record,
// regardless of liveness (callers wanting only live ones should follow with
// CleanupStaleProcesses).
func (c *Coordinator) GetActiveProcesses() ([]Registration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return nil, err
	}
	out := make([]Registration, 0, len(regs))
	for _, r := range regs {
		out = append(out, r)
	}
	return out, nil
}

// CleanupStaleProcesses removes registrations whose heartbeat is older than
// heartbeatTimeout AND whose PID is no longer alive, returning the removed
// agent ids. Both conditions must hold so a long-running agent mid-phase
// (heartbeat stale by policy but process still alive) is not evicted out
// from under itself.
func (c *Coordinator) CleanupStaleProcesses() ([]agentid.ID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	regs, err := c.loadRegistry()
	if err != nil {
		return nil, err
	}

	var stale []agentid.ID
	now := time.Now()
	for id, r := range regs {
		if now.Sub(r.LastHeartbeat) > heartbeatTimeout && !processExists(r.PID) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(regs, id)
	}
	if len(stale) > 0 {
		if err := c.saveRegistry(regs); err != nil {
			return nil, err
		}
	}
	return stale, nil
}

// computeSignature is HMAC-SHA256 over "agent_id:pid:registered_at", matching
// original_source's compute_signature.
func (c *Coordinator) computeSignature(r Registration) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "%s:%d:%s", r.AgentID.String(), r.PID, r.RegisteredAt.Format(time.RFC3339Nano))
	return hex.EncodeToString(mac.Sum(nil))
}

// verifySignature reports whether r.Signature matches its HMAC.
func (c *Coordinator) verifySignature(r Registration) bool {
	expected := c.computeSignature(Registration{AgentID: r.AgentID, PID: r.PID, RegisteredAt: r.RegisteredAt})
	return hmac.Equal([]byte(expected), []byte(r.Signature))
}

type registryFile struct {
	Processes []Registration `json:"processes"`
}

// loadRegistry reads and verifies every registration's signature, dropping
// (and logging, at the caller) any entry that fails verification. Caller
// must hold c.mu.
func (c *Coordinator) loadRegistry() (map[agentid.ID]Registration, error) {
	lock, err := filelock.Acquire(c.registryPath + ".lock")
	if err != nil {
		return nil, corerr.Database("REGISTRY_LOCK_FAILED", err.Error()).WithCause(err)
	}
	defer lock.Release()

	out := make(map[agentid.ID]Registration)
	data, err := os.ReadFile(c.registryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("reading process registry: %w", err)
	}

	var rf registryFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, corerr.Database("REGISTRY_CORRUPTED", "process registry is not valid JSON").WithCause(err)
	}
	for _, r := range rf.Processes {
		if !c.verifySignature(r) {
			continue
		}
		out[r.AgentID] = r
	}
	return out, nil
}

// saveRegistry persists regs atomically. Caller must hold c.mu.
func (c *Coordinator) saveRegistry(regs map[agentid.ID]Registration) error {
	rf := registryFile{Processes: make([]Registration, 0, len(regs))}
	for _, r := range regs {
		rf.Processes = append(rf.Processes, r)
	}
	data, err := json.MarshalIndent(rf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling process registry: %w", err)
	}
	if err := renameio.WriteFile(c.registryPath, data, 0o600); err != nil {
		return corerr.Database("REGISTRY_PERSIST_FAILED", err.Error()).WithCause(err)
	}
	return nil
}

// SendMessage validates and writes msg to the queue directory as
// "<id>.json". Broadcasts (ToAgent == nil) are read by every poller and are
// never deleted; addressed messages are deleted by their recipient after
// ReceiveMessages returns them.
func (c *Coordinator) SendMessage(msg Message) error {
	if !messageIDPattern.MatchString(msg.ID) {
		return corerr.ValidationError(corerr.CodeInvalidMessageID,
			fmt.Sprintf("message id %q must be alphanumeric/hyphen only", msg.ID))
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}
	if len(data) > maxMessageBytes {
		return corerr.ValidationError(corerr.CodeMessageTooLarge,
			fmt.Sprintf("message %s is %d bytes, max %d", msg.ID, len(data), maxMessageBytes))
	}
	path := filepath.Join(c.queueDir, msg.ID+".json")
	return os.WriteFile(path, data, 0o600)
}

// ReceiveMessages reads every message addressed to agent (or broadcast),
// deleting addressed ones after they are returned. Malformed files are
// skipped rather than failing the whole read.
func (c *Coordinator) ReceiveMessages(agent agentid.ID) ([]Message, error) {
	entries, err := os.ReadDir(c.queueDir)
	if err != nil {
		return nil, fmt.Errorf("reading coordination queue: %w", err)
	}

	var out []Message
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.queueDir, entry.Name())
		info, err := entry.Info()
		if err != nil || info.Size() > maxMessageBytes {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.ToAgent != nil && *msg.ToAgent != agent {
			continue
		}
		out = append(out, msg)
		if msg.ToAgent != nil {
			_ = os.Remove(path)
		}
	}
	return out, nil
}

// Watch starts an fsnotify watcher on the coordination queue directory and
// returns a channel that receives a value whenever the directory changes.
// This is a latency optimization layered over polling, not a replacement
// for it: callers should still poll ReceiveMessages on a floor interval,
// since not every filesystem (network mounts in particular) delivers
// fsnotify events reliably.
func (c *Coordinator) Watch() (<-chan struct{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watcher != nil {
		return nil, fmt.Errorf("watch already started")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	if err := w.Add(c.queueDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching coordination queue: %w", err)
	}
	c.watcher = w

	wake := make(chan struct{}, 1)
	go func() {
		for range w.Events {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, nil
}

// Close stops the fsnotify watcher, if one was started.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watcher == nil {
		return nil
	}
	err := c.watcher.Close()
	c.watcher = nil
	return err
}

// processExists reports whether pid refers to a live process, mirroring the
// original's use of `kill -0`.
func processExists(pid int) bool {
	if runtime.GOOS == "windows" {
		proc, err := os.FindProcess(pid)
		return err == nil && proc != nil
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
