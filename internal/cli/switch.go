package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-run/orchestrator/internal/coordinator"
)

func newSwitchCmd() *cobra.Command {
	var (
		mode  string
		files []string
	)
	cmd := &cobra.Command{
		Use:   "switch <branch> <intent:read|write|full>",
		Short: "Release the current assignment and join a new branch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runSwitch(a, args[0], args[1], mode, files)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "isolated or coordinated (default isolated)")
	cmd.Flags().StringSliceVar(&files, "files", nil, "paths covered by a write intent")
	return cmd
}

func runSwitch(a *app, branchName, intentKind, mode string, files []string) error {
	intent, err := parseIntent(intentKind, files)
	if err != nil {
		return err
	}
	m, err := parseMode(mode)
	if err != nil {
		return err
	}

	res, err := a.coord.Switch(rootCtx(), a.self, branchName, intent, m, nil, nil)
	if err != nil && res == nil {
		return err
	}

	switch res.Outcome {
	case coordinator.JoinApproved, coordinator.JoinRequiresCoordination:
		fmt.Printf("✓ switched to %q as %s\n", branchName, a.self.Short())
		return nil
	default:
		return denied(res.Reason, res.Suggestions)
	}
}
