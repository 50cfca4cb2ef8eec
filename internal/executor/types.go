// Package executor ties dagplan, checkpoint, mergegate, replanner,
// codingloop, and retryadvisor together into the top-level level-by-level
// run loop: execute a level's issues concurrently, merge and integration-test
// the result, check for unrecoverable failures, consult the replanner, and
// repeat until every level is done or the replanner aborts. Grounded on the
// reference execution engine's run_dag.
package executor

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/lucasnoah/dagforge/internal/eventlog"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/github"
	"github.com/lucasnoah/dagforge/internal/mergegate"
	"github.com/lucasnoah/dagforge/internal/retryadvisor"
	"github.com/lucasnoah/dagforge/internal/worktree"
)

// GitConfig carries the branch-per-issue workflow fields populated once a
// prior "git init" step has set up an integration branch. A nil GitConfig
// means issues run without worktree isolation, merge, or integration testing.
type GitConfig struct {
	IntegrationBranch string `json:"integration_branch"`
	OriginalBranch    string `json:"original_branch"`
	InitialCommitSHA  string `json:"initial_commit_sha"`
	Mode              string `json:"mode"`
}

// PlanInput is the planning pipeline's output, narrowed to the fields the
// executor needs to seed a DAGState. Everything else about how the plan was
// produced is out of scope here.
type PlanInput struct {
	ArtifactsDir          string
	RationaleSummary      string
	PRDDescription        string
	PRDAcceptanceCriteria []string
	ArchitectureSummary   string
	Issues                []execmodel.Issue
	Levels                [][]string
	FileConflicts         []mergegate.FileConflict
	Git                   *GitConfig
}

// InitDAGState builds the initial DAGState for a fresh (non-resumed) run,
// deriving artifact paths and the PRD/architecture summaries the way the
// reference engine's _init_dag_state does.
func InitDAGState(plan PlanInput, repoPath string, maxReplans int) execmodel.DAGState {
	var prdPath, archPath, issuesDir string
	if plan.ArtifactsDir != "" {
		prdPath = filepath.Join(plan.ArtifactsDir, "plan", "prd.md")
		archPath = filepath.Join(plan.ArtifactsDir, "plan", "architecture.md")
		issuesDir = filepath.Join(plan.ArtifactsDir, "plan", "issues")
	}

	state := execmodel.DAGState{
		RepoPath:            repoPath,
		ArtifactsDir:        plan.ArtifactsDir,
		PRDPath:             prdPath,
		ArchitecturePath:    archPath,
		IssuesDir:           issuesDir,
		OriginalPlanSummary: plan.RationaleSummary,
		PRDSummary:          buildPRDSummary(plan.PRDDescription, plan.PRDAcceptanceCriteria),
		ArchitectureSummary: plan.ArchitectureSummary,
		AllIssues:           plan.Issues,
		Levels:              plan.Levels,
		MaxReplans:          maxReplans,
	}

	if plan.Git != nil {
		state.GitIntegrationBranch = plan.Git.IntegrationBranch
		state.GitOriginalBranch = plan.Git.OriginalBranch
		state.GitInitialCommit = plan.Git.InitialCommitSHA
		state.GitMode = plan.Git.Mode
		state.WorktreesDir = filepath.Join(repoPath, ".worktrees")
	}

	return state
}

func buildPRDSummary(description string, acceptanceCriteria []string) string {
	if len(acceptanceCriteria) == 0 {
		return description
	}
	var b strings.Builder
	b.WriteString(description)
	b.WriteString("\nAcceptance Criteria:")
	for _, c := range acceptanceCriteria {
		b.WriteString("\n- ")
		b.WriteString(c)
	}
	return b.String()
}

// branchName mirrors the reference engine's "issue/<NN>-<name>" branch
// naming convention for worktree cleanup sweeps.
func branchName(issue execmodel.Issue) string {
	return fmt.Sprintf("issue/%02d-%s", issue.SequenceNumber, issue.Name)
}

// Options configures one RunDAG/Resume invocation.
type Options struct {
	NodeID string
	Config execmodel.ExecutionConfig

	// ExecuteFn, when non-nil, is wrapped by the retry advisor and used
	// instead of the built-in coding loop for every issue in the DAG —
	// the "external execute_fn" path. When nil, every issue runs through
	// the built-in coder/QA/reviewer/synthesizer loop directly (which
	// already owns its own internal retry-via-feedback mechanism, so it
	// is never itself wrapped by the retry advisor).
	ExecuteFn retryadvisor.ExecuteFunc

	// ProjectContext is passed through to the coding loop's coder agent
	// verbatim; its shape is owned entirely by the coder agent contract.
	ProjectContext any

	// EventLog, when non-nil, receives one row per level-start,
	// issue-terminal-outcome, merge, integration-test, and replan-decision
	// — an audit trail independent of the JSON checkpoint. A nil EventLog
	// disables recording entirely.
	EventLog *eventlog.DB

	// FallbackGit, when non-nil, is used after the agent-delegated final
	// cleanup sweep to remove any remaining worktrees directly via git — a
	// local safety net run on every final sweep, not a replacement for the
	// agent-delegated cleanup path.
	FallbackGit worktree.GitRunner

	// GitHub, when non-nil and EnableGitHubPR is set, is used to push the
	// integration branch and open a pull request once a run finishes with
	// no unrecoverable failures.
	GitHub         *github.Client
	EnableGitHubPR bool
}
