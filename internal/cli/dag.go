package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/checkpoint"
	"github.com/lucasnoah/dagforge/internal/config"
	"github.com/lucasnoah/dagforge/internal/eventlog"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/executor"
	"github.com/lucasnoah/dagforge/internal/github"
	"github.com/lucasnoah/dagforge/internal/logging"
	"github.com/lucasnoah/dagforge/internal/worktree"
	"github.com/spf13/cobra"
)

// dagCmd groups the top-level DAG execution engine commands: run a fresh
// plan to completion, resume one from its last checkpoint, and inspect the
// checkpointed state and event timeline of a prior run.
var dagCmd = &cobra.Command{
	Use:   "dag",
	Short: "Drive a planned issue DAG through the execute/merge/test pipeline",
}

var dagRunCmd = &cobra.Command{
	Use:   "run <plan-file>",
	Short: "Execute a freshly planned DAG to completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDAG(cmd, args[0], false)
	},
}

var dagResumeCmd = &cobra.Command{
	Use:   "resume <plan-file>",
	Short: "Resume a DAG run from its last checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDAG(cmd, args[0], true)
	},
}

var dagStatusCmd = &cobra.Command{
	Use:   "status <artifacts-dir>",
	Short: "Show the last checkpointed DAG state and its event timeline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		artifactsDir := args[0]
		store := checkpoint.New(artifactsDir)
		state, ok, err := store.Load()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint at %s\n", store.Path())
			return nil
		}

		format, _ := cmd.Flags().GetString("format")

		events, err := loadTimeline(artifactsDir)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: could not read event log: %v\n", err)
		}

		if format == "json" {
			return writeJSON(cmd, struct {
				State    execmodel.DAGState `json:"state"`
				Timeline []eventlog.Event   `json:"timeline,omitempty"`
			}{State: state, Timeline: events})
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "level:     %d/%d\n", state.CurrentLevel, len(state.Levels))
		fmt.Fprintf(w, "completed: %d\n", len(state.CompletedIssues))
		fmt.Fprintf(w, "failed:    %d\n", len(state.FailedIssues))
		fmt.Fprintf(w, "skipped:   %d\n", len(state.SkippedIssues))
		fmt.Fprintf(w, "replans:   %d/%d\n", state.ReplanCount, state.MaxReplans)
		if len(state.InFlightIssues) > 0 {
			fmt.Fprintf(w, "in-flight: %v\n", state.InFlightIssues)
		}

		if len(events) > 0 {
			fmt.Fprintf(w, "\ntimeline (from event log, not the checkpoint):\n")
			for _, e := range events {
				issue := e.IssueName
				if issue == "" {
					issue = "-"
				}
				fmt.Fprintf(w, "  %s  level=%-3d replan=%-2d %-18s issue=%s\n", e.Timestamp, e.LevelIndex, e.ReplanCount, e.EventKind, issue)
			}
		}
		return nil
	},
}

func writeJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// loadTimeline reads the event log at <artifactsDir>/execution/events.db, if
// it exists. A missing file is not an error — older artifact directories or
// runs that predate event-log support simply have no timeline to show.
func loadTimeline(artifactsDir string) ([]eventlog.Event, error) {
	path := filepath.Join(artifactsDir, "execution", "events.db")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	el, err := eventlog.Open(path)
	if err != nil {
		return nil, err
	}
	defer el.Close()

	return el.Timeline()
}

func runDAG(cmd *cobra.Command, planPath string, resume bool) error {
	plan, err := executor.LoadPlanFile(planPath)
	if err != nil {
		return err
	}

	cfgPath, _ := cmd.Flags().GetString("config")
	var cfgFile *config.ExecutionFile
	if cfgPath != "" {
		cfgFile, err = config.Load(cfgPath)
	} else {
		cfgFile, err = config.LoadDefault()
	}
	if err != nil {
		return err
	}
	if errs := config.Validate(cfgFile); len(errs) > 0 {
		return fmt.Errorf("invalid config: %v", errs[0])
	}
	cfg := cfgFile.Execution

	repoPath := cfg.RepoPath
	if plan.ArtifactsDir == "" {
		plan.ArtifactsDir = cfg.ArtifactsDir
	}

	agentCmd := cfg.AgentCommand
	if agentCmd == "" {
		agentCmd = "claude"
	}
	inv := agentcall.NewSubprocessInvoker(
		agentCmd,
		time.Duration(cfg.AgentTimeoutSeconds)*time.Second,
		agentcall.BackoffPolicy{
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMS) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMS) * time.Millisecond,
			Factor:       cfg.Retry.BackoffFactor,
			MaxAttempts:  cfg.Retry.MaxAttempts,
		},
	)

	store := checkpoint.New(plan.ArtifactsDir)
	log := logging.New(cmd.OutOrStdout())

	el, err := eventlog.Open(filepath.Join(plan.ArtifactsDir, "execution", "events.db"))
	if err != nil {
		log.Warnf("event log unavailable, continuing without it: %v", err)
		el = nil
	} else if err := el.Migrate(); err != nil {
		log.Warnf("event log migration failed, continuing without it: %v", err)
		el.Close()
		el = nil
	}
	if el != nil {
		defer el.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	opts := executor.Options{
		NodeID: "dagforge",
		Config: execmodel.ExecutionConfig{
			MaxRetriesPerIssue:        cfg.MaxRetriesPerIssue,
			MaxReplans:                cfg.MaxReplans,
			EnableReplanning:          cfg.EnableReplanning,
			RetryAdvisorModel:         cfg.Models.RetryAdvisor,
			ReplanModel:               cfg.Models.Replan,
			IssueWriterModel:          cfg.Models.IssueWriter,
			MergerModel:               cfg.Models.Merger,
			IntegrationTesterModel:    cfg.Models.IntegrationTester,
			MaxIntegrationTestRetries: cfg.MaxIntegrationTestRetries,
			EnableIntegrationTesting:  cfg.EnableIntegrationTesting,
			MaxCodingIterations:       cfg.MaxCodingIterations,
			CoderModel:                cfg.Models.Coder,
			QAModel:                   cfg.Models.QA,
			CodeReviewerModel:         cfg.Models.CodeReviewer,
			QASynthesizerModel:        cfg.Models.QASynthesizer,
			AgentMaxTurns:             cfg.AgentMaxTurns,
			AgentTimeoutSeconds:       cfg.AgentTimeoutSeconds,
			MaxBudgetUSD:              cfg.MaxBudgetUSD,
			MaxConcurrentIssues:       cfg.MaxConcurrentIssues,
		},
		EventLog:       el,
		FallbackGit:    &worktree.ExecGit{},
		GitHub:         github.NewClient(&github.ExecRunner{}),
		EnableGitHubPR: cfg.EnableGitHubPR,
	}

	state, err := executor.Run(ctx, inv, store, log, opts, plan, repoPath, resume)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\ndone: %d completed, %d failed, %d skipped (replans: %d)\n",
		len(state.CompletedIssues), len(state.FailedIssues), len(state.SkippedIssues), state.ReplanCount)
	if len(state.FailedIssues) > 0 {
		return fmt.Errorf("%d issue(s) failed unrecoverably", len(state.FailedIssues))
	}
	return nil
}

func init() {
	dagRunCmd.Flags().String("config", "", "path to execution config YAML (defaults to ./dagforge.yaml or ~/.dagforge/config.yaml)")
	dagResumeCmd.Flags().String("config", "", "path to execution config YAML (defaults to ./dagforge.yaml or ~/.dagforge/config.yaml)")
	dagStatusCmd.Flags().String("format", "text", "Output format: text or json")

	dagCmd.AddCommand(dagRunCmd)
	dagCmd.AddCommand(dagResumeCmd)
	dagCmd.AddCommand(dagStatusCmd)
}
