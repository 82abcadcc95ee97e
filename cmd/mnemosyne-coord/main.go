// Command mnemosyne-coord is the standalone entry point for the branch
// coordination subsystem's CLI (spec §6), separate from the orchestrator
// core's own binary so a CI job or a human can join/release/inspect branch
// assignments without starting the full agent supervisor.
package main

import (
	"os"

	"github.com/mnemosyne-run/orchestrator/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
