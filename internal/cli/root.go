package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var rootCmd = &cobra.Command{
	Use:   "dagforge",
	Short: "dagforge — a self-healing DAG execution engine for multi-agent coding",
	Long: `dagforge drives a planned issue DAG through a level-parallel execute/merge/
integration-test pipeline, fanning out concurrent coding-agent sessions into
isolated git worktrees, merging their branches with AI-assisted conflict
resolution, and consulting a replanner when issues become unrecoverable.

Execution state is checkpointed as JSON under <artifacts_dir>/execution/ and
mirrored into a SQLite event log for timeline queries ("dag status").`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dagCmd)
}
