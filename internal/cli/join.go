package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-run/orchestrator/internal/branch"
	"github.com/mnemosyne-run/orchestrator/internal/coordinator"
)

func parseIntent(kind string, files []string) (branch.Intent, error) {
	switch kind {
	case "read":
		return branch.ReadOnly(), nil
	case "write":
		if len(files) == 0 {
			return branch.Intent{}, fmt.Errorf("intent 'write' requires --files")
		}
		return branch.Write(files...), nil
	case "full":
		return branch.FullBranch(), nil
	default:
		return branch.Intent{}, fmt.Errorf("unknown intent %q: expected read, write, or full", kind)
	}
}

func parseMode(mode string) (branch.Mode, error) {
	switch mode {
	case "", "isolated":
		return branch.ModeIsolated, nil
	case "coordinated":
		return branch.ModeCoordinated, nil
	default:
		return "", fmt.Errorf("unknown mode %q: expected isolated or coordinated", mode)
	}
}

func newJoinCmd() *cobra.Command {
	var (
		mode  string
		files []string
	)
	cmd := &cobra.Command{
		Use:   "join <branch> <intent:read|write|full>",
		Short: "Join a branch with the given work intent",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runJoin(a, args[0], args[1], mode, files)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "isolated or coordinated (default isolated)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "paths covered by a write intent")
	return cmd
}

func runJoin(a *app, branchName, intentKind, mode string, files []string) error {
	intent, err := parseIntent(intentKind, files)
	if err != nil {
		return err
	}
	m, err := parseMode(mode)
	if err != nil {
		return err
	}

	res, err := a.coord.Join(rootCtx(), coordinator.JoinRequest{
		Agent: a.self, Branch: branchName, Intent: intent, Mode: m,
	})
	if err != nil && res == nil {
		return err
	}

	switch res.Outcome {
	case coordinator.JoinApproved:
		fmt.Printf("✓ joined %q as %s (worktree %s)\n", branchName, a.self.Short(), res.Worktree.Path)
		return nil
	case coordinator.JoinRequiresCoordination:
		fmt.Printf("✓ joined %q as %s under coordination (worktree %s)\n", branchName, a.self.Short(), res.Worktree.Path)
		return nil
	default:
		return denied(res.Reason, res.Suggestions)
	}
}
