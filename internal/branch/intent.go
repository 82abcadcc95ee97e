package branch

import "strings"

// Intent describes the scope of filesystem access an agent is declaring for
// a branch assignment (spec §4.6 WorkIntent).
type Intent struct {
	// Kind selects the intent variant.
	Kind IntentKind
	// Paths is populated only when Kind is IntentWrite — the set of path
	// prefixes the agent intends to modify.
	Paths []string
}

// IntentKind enumerates the WorkIntent variants.
type IntentKind string

const (
	// IntentReadOnly never conflicts with any other assignment.
	IntentReadOnly IntentKind = "read_only"
	// IntentWrite declares a set of path prefixes the agent will modify.
	IntentWrite IntentKind = "write"
	// IntentFullBranch claims the entire branch and conflicts with
	// everything else.
	IntentFullBranch IntentKind = "full_branch"
)

// ReadOnly constructs a read-only intent.
func ReadOnly() Intent { return Intent{Kind: IntentReadOnly} }

// Write constructs a write intent scoped to paths.
func Write(paths ...string) Intent { return Intent{Kind: IntentWrite, Paths: paths} }

// FullBranch constructs a full-branch intent.
func FullBranch() Intent { return Intent{Kind: IntentFullBranch} }

// AllowsWrite reports whether the intent permits writing to path at all
// (used by the git wrapper to enforce per-assignment write scope).
func (i Intent) AllowsWrite(path string) bool {
	switch i.Kind {
	case IntentFullBranch:
		return true
	case IntentWrite:
		for _, p := range i.Paths {
			if pathOverlaps(p, path) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Conflicts reports whether two intents on the same branch conflict with
// one another (spec §4.6 check_conflict):
//   - ReadOnly never conflicts with anything.
//   - FullBranch conflicts with anything but ReadOnly.
//   - Write vs Write conflicts only if their path sets overlap in either
//     direction (one is a prefix of the other).
func (a Intent) Conflicts(b Intent) bool {
	if a.Kind == IntentReadOnly || b.Kind == IntentReadOnly {
		return false
	}
	if a.Kind == IntentFullBranch || b.Kind == IntentFullBranch {
		return true
	}
	// Both Write: overlap if any path pair overlaps in either direction.
	for _, pa := range a.Paths {
		for _, pb := range b.Paths {
			if pathOverlaps(pa, pb) {
				return true
			}
		}
	}
	return false
}

// pathOverlaps reports whether a is a prefix of b or b is a prefix of a,
// treating both as '/'-separated path prefixes (not globs).
func pathOverlaps(a, b string) bool {
	a = strings.TrimSuffix(a, "/")
	b = strings.TrimSuffix(b, "/")
	if a == b {
		return true
	}
	return strings.HasPrefix(a+"/", b+"/") || strings.HasPrefix(b+"/", a+"/")
}

// Mode is the branch coordination policy (spec §4.6 CoordinationMode).
type Mode string

const (
	// ModeIsolated is the default: at most one agent assignment is allowed
	// per branch.
	ModeIsolated Mode = "isolated"
	// ModeCoordinated allows multiple assignments on the same branch,
	// subject to Intent.Conflicts checks between them.
	ModeCoordinated Mode = "coordinated"
)
