package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print current branch assignments and conflicts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			return runStatus(a, all)
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include agents with no active conflicts")
	return cmd
}

func runStatus(a *app, all bool) error {
	status := a.coord.Status()

	fmt.Printf("Registry: %d total, %d isolated, %d coordinated\n\n",
		status.Stats.Total, status.Stats.Isolated, status.Stats.Coordinated)

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "BRANCH\tAGENT\tINTENT\tMODE\tTIME REMAINING")
	for branchName, assignments := range status.Branches {
		for _, as := range assignments {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				branchName, as.AgentID.Short(), as.Intent.Kind, as.Mode, as.TimeRemaining(now))
		}
	}
	w.Flush()

	if len(status.Conflicts) == 0 && !all {
		return nil
	}
	fmt.Println("\nActive conflicts:")
	for _, c := range status.Conflicts {
		fmt.Printf("  %s: %v\n", c.Path, c.Agents)
	}
	return nil
}
