// Command rlmctl runs a single task through the RLM execution engine and
// prints its final answer, following the internal/cmd package's
// one-command-per-file cobra layout.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rlmctl",
	Short: "Run a task through the RLM (Recursive Language Model) execution engine",
}

func init() {
	rootCmd.PersistentFlags().String("data-dir", ".", "Directory holding config.yaml (read when ./.rlm.yaml and ./.rlm.yml are absent)")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("rlmctl failed", "error", err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
