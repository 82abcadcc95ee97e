// Package corectx declares the external collaborator interfaces the core
// consumes but does not implement: the memory store, skill catalogue, and
// content generator named as out-of-scope externals in spec.md §1 and §9
// ("Dynamic dispatch"). The core holds these as owned handles behind stable
// references — no runtime type inspection, matching quorum-ai's port style
// (internal/core/ports.go) of declaring narrow capability interfaces next
// to the domain code that consumes them.
package corectx

import "context"

// MemoryItem is one memory the external memory store returned.
type MemoryItem struct {
	ID        string
	Content   string
	Relevance float64
}

// MemoryStore is the keyed document store with vector/text hybrid search
// (spec §1 "out of scope" list). The Optimizer queries it by ref; ranking
// itself is opaque to the core (spec §4.3).
type MemoryStore interface {
	Query(ctx context.Context, ref string, k int) ([]MemoryItem, error)
}

// Skill is one entry from the external skill catalogue.
type Skill struct {
	Name    string
	Content string
}

// SkillCatalogue looks up skills relevant to a set of tags, ranked by the
// catalogue's own (opaque) relevance function.
type SkillCatalogue interface {
	Lookup(ctx context.Context, tags []string, k int) ([]Skill, error)
}

// GenerateOptions parametrizes a call to the external LLM-based content
// generator.
type GenerateOptions struct {
	Prompt      string
	SystemHint  string
	MaxTokens   int
	Temperature float64
}

// GenerateResult is the content generator's output.
type GenerateResult struct {
	Text       string
	TokensUsed int
}

// ContentGenerator is the external LLM-based content generation facility
// the Executor calls to do the actual work of a WorkItem (spec §1 "out of
// scope" list).
type ContentGenerator interface {
	Generate(ctx context.Context, opts GenerateOptions) (GenerateResult, error)
}
