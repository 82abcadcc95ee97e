// Package agentid defines the opaque 128-bit agent identity used throughout
// the orchestration core.
package agentid

import (
	"encoding/base32"
	"strings"

	"github.com/google/uuid"
)

// ID is a 128-bit value generated at agent start. It is unique within a
// process and, by construction (UUIDv4 entropy), across hosts with
// negligible collision probability.
type ID uuid.UUID

// New generates a fresh agent id.
func New() ID {
	return ID(uuid.New())
}

// String renders the full canonical form, e.g. "3fa85f64-5717-4562-b3fc-2c963f66afa6".
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Short renders a filesystem-safe, human-scannable rendering of the id, used
// for worktree directory leaf names (spec §4.9). It is a base32 (RFC4648,
// no padding) encoding of the first 5 bytes, lower-cased.
//
// Because this is a truncated rendering, two distinct agent ids could in
// principle share a Short() prefix; callers that need to map a worktree leaf
// name back to an agent id (GitWorktreeManager.cleanup_stale) must match by
// prefix, never by exact equality. This is intentional — see spec.md Open
// Questions.
func (id ID) Short() string {
	raw := uuid.UUID(id)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw[:5])
	return strings.ToLower(enc)
}

// IsZero reports whether id is the zero value (unset).
func (id ID) IsZero() bool {
	return id == ID{}
}

// Parse parses the canonical string form produced by String().
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, err
	}
	return ID(u), nil
}

// HasShortPrefix reports whether candidate is a prefix of id's Short()
// rendering. Used by worktree cleanup to match truncated leaf names back to
// a live agent id.
func (id ID) HasShortPrefix(candidate string) bool {
	return strings.HasPrefix(id.Short(), strings.ToLower(candidate))
}

// MarshalText implements encoding.TextMarshaler so ID can be used directly
// as a JSON object key (e.g. map[ID]ProcessRegistration).
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Role is one of the four agent roles.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleOptimizer    Role = "optimizer"
	RoleReviewer     Role = "reviewer"
	RoleExecutor     Role = "executor"
)

// Valid reports whether r is one of the four defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOrchestrator, RoleOptimizer, RoleReviewer, RoleExecutor:
		return true
	default:
		return false
	}
}

// Identity is an AgentId bound to a role and a branch for the lifetime of
// one agent session. It is immutable once constructed (spec §3 AgentIdentity).
type Identity struct {
	ID     ID
	Role   Role
	Branch string
}

// NewIdentity creates a new immutable identity for role on branch.
func NewIdentity(role Role, branch string) Identity {
	return Identity{ID: New(), Role: role, Branch: branch}
}
