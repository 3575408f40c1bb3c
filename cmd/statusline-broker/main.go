// Command statusline-broker is the process entrypoint for every spec.md
// §4.13 gather invocation plus the operator-facing maintenance
// subcommands: doctor, sweep, notify. It is invoked once per statusline
// render by the launching tool and exits 0 unconditionally from gather,
// since a broker failure must never block the prompt it decorates.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

// rootFlags holds the persistent flags shared by every subcommand.
type rootFlags struct {
	baseDir string
	json    bool
}

var flags rootFlags

func defaultBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(os.TempDir(), "claude-session-health")
	}
	return filepath.Join(home, ".claude", "session-health")
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "statusline-broker",
		Short:         "Unified session-health broker for the Claude Code statusline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&flags.baseDir, "base-dir", defaultBaseDir(), "root directory for session-health state")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "emit machine-readable JSON instead of formatted text")

	root.AddCommand(newGatherCmd())
	root.AddCommand(newDoctorCmd())
	root.AddCommand(newSweepCmd())
	root.AddCommand(newNotifyCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
