package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemosyne-run/orchestrator/internal/agentid"
)

func newConflictsCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List active file conflicts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runConflicts(a, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "show conflicts across every agent, not just the caller's")
	return cmd
}

func runConflicts(a *app, all bool) error {
	agent := a.self
	if all {
		agent = agentid.ID{}
	}

	conflicts := a.coord.Conflicts(agent)
	if len(conflicts) == 0 {
		fmt.Println("no active conflicts")
		return nil
	}
	for _, c := range conflicts {
		fmt.Printf("%s  %s  agents=%v  severity=%s\n", c.ID, c.Path, c.Agents, c.Severity)
	}
	return nil
}
