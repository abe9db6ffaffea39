// Command syncengined is the daemon entrypoint: a thin cobra CLI wrapping
// the sync execution engine library (§1, §4.8). Nearly all logic lives
// under internal/ and pkg/; this package only wires flags, configuration
// and process lifecycle together.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "syncengined",
	Short: "Federated sync execution engine daemon",
	Long: `syncengined runs the sync execution engine as a background service,
exposing the federation boundary (describe/schema/engine/sync/health/
start/stop) over a Unix domain socket.

Commands:
  run     Run the daemon in the foreground
  start   Start the daemon in the background
  stop    Stop a running daemon
  health  Check whether the daemon is reachable and healthy`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
