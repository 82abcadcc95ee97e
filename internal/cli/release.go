package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release",
		Short: "Release the caller's current branch assignment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := a.coord.Release(rootCtx(), a.self); err != nil {
				return err
			}
			fmt.Printf("✓ released assignment for %s\n", a.self.Short())
			return nil
		},
	}
}
