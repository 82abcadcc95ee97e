// Package cli implements the coordination subsystem's command surface:
// status/join/switch/release/conflicts over a Branch Coordinator rooted at
// .mnemosyne/ in the current repository (spec §6 "CLI surface of the
// coordination subsystem"). Structured after
// quorum-ai/cmd/quorum/cmd/root.go's cobra root + PersistentPreRunE config
// load, narrowed to the one subsystem this core owns.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/conflict"
	"github.com/mnemosyne-run/orchestrator/internal/config"
	"github.com/mnemosyne-run/orchestrator/internal/coordinator"
	"github.com/mnemosyne-run/orchestrator/internal/worktree"
)

var mnemosyneDir string

// app bundles everything a subcommand needs: the coordinator, the caller's
// own agent identity, and where .mnemosyne/ lives.
type app struct {
	coord     *coordinator.Coordinator
	registry  *branch.Registry
	tracker   *conflict.Tracker
	worktrees *worktree.Manager
	self      agentid.ID
	dir       string
	cfg       *config.Config
}

// NewRootCmd builds the `mnemosyne-coord` command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mnemosyne-coord",
		Short:         "Branch coordination for the Mnemosyne orchestration core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&mnemosyneDir, "dir", ".mnemosyne", "state directory")

	root.AddCommand(newStatusCmd(), newJoinCmd(), newSwitchCmd(), newReleaseCmd(), newConflictsCmd(), newRunCmd())
	return root
}

// Execute runs the CLI with os.Args, matching quorum-ai's cmd.Execute()
// entry point shape.
func Execute() error {
	return NewRootCmd().Execute()
}

func newApp(ctx context.Context) (*app, error) {
	loader := config.NewLoader(mnemosyneDir)
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	registry := branch.NewWithPersistence(mnemosyneDir + "/branch_registry.json")
	if err := registry.Load(); err != nil {
		return nil, fmt.Errorf("loading branch registry: %w", err)
	}
	tracker := conflict.New()

	repoRoot := "."
	wt, err := worktree.New(repoRoot, mnemosyneDir+"/worktrees")
	if err != nil {
		return nil, fmt.Errorf("opening worktree manager: %w", err)
	}

	self, err := loadOrCreateIdentity(mnemosyneDir)
	if err != nil {
		return nil, fmt.Errorf("loading cli identity: %w", err)
	}

	return &app{
		coord:     coordinator.New(registry, tracker, wt),
		registry:  registry,
		tracker:   tracker,
		worktrees: wt,
		self:      self,
		dir:       mnemosyneDir,
		cfg:       cfg,
	}, nil
}

// rootCtx is the background context subcommands use for coordinator calls;
// the CLI is a short-lived process with no cancellation source of its own.
func rootCtx() context.Context {
	return context.Background()
}

// denied prints the `✗ <reason>` failure line with suggestions, matching
// spec §7's user-visible failure format.
func denied(reason string, suggestions []string) error {
	fmt.Printf("✗ %s\n", reason)
	for _, s := range suggestions {
		fmt.Printf("  - %s\n", s)
	}
	return fmt.Errorf("%s", reason)
}
