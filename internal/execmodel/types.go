// Package execmodel defines the typed records exchanged between the DAG
// executor and its supporting drivers: issues, per-attempt results, replan
// decisions, and the serializable execution state they accumulate into.
package execmodel

// IssueOutcome is the terminal or in-flight classification of a single
// issue execution attempt.
type IssueOutcome string

const (
	OutcomeCompleted          IssueOutcome = "completed"
	OutcomeFailedRetryable    IssueOutcome = "failed_retryable"
	OutcomeFailedUnrecoverable IssueOutcome = "failed_unrecoverable"
	OutcomeSkipped            IssueOutcome = "skipped"
)

// ReplanAction is what the replanner decided to do with the remaining DAG.
type ReplanAction string

const (
	ReplanContinue   ReplanAction = "continue"
	ReplanModifyDAG  ReplanAction = "modify_dag"
	ReplanReduceScope ReplanAction = "reduce_scope"
	ReplanAbort      ReplanAction = "abort"
)

// SynthesisAction is the feedback synthesizer's fix/approve/block decision.
type SynthesisAction string

const (
	SynthesisFix     SynthesisAction = "fix"
	SynthesisApprove SynthesisAction = "approve"
	SynthesisBlock   SynthesisAction = "block"
)

// Issue is one planned unit of engineering work. Created by the (external)
// planning pipeline, mutated only by the replanner driver or worktree-setup
// enrichment. Terminal issues are never deleted — they are retained in
// AllIssues for context; a replan's removed_issue_names drops only
// non-terminal issues.
type Issue struct {
	Name               string   `json:"name"`
	SequenceNumber     int      `json:"sequence_number"`
	Title              string   `json:"title"`
	Description        string   `json:"description"`
	AcceptanceCriteria []string `json:"acceptance_criteria"`
	DependsOn          []string `json:"depends_on"`
	Provides           []string `json:"provides,omitempty"`
	FilesToCreate      []string `json:"files_to_create,omitempty"`
	FilesToModify      []string `json:"files_to_modify,omitempty"`
	TestingStrategy    string   `json:"testing_strategy,omitempty"`

	// Populated by the retry-advisor driver on a re-attempt.
	RetryContext   string `json:"retry_context,omitempty"`
	PreviousError  string `json:"previous_error,omitempty"`
	RetryDiagnosis string `json:"retry_diagnosis,omitempty"`

	// Accumulated warnings about upstream failures (set by the replan
	// driver's "continue" path).
	FailureNotes []string `json:"failure_notes,omitempty"`

	// Populated by worktree setup during level entry.
	IntegrationBranch string `json:"integration_branch,omitempty"`
	WorktreePath       string `json:"worktree_path,omitempty"`
	BranchName         string `json:"branch_name,omitempty"`

	// Extra carries forward-compatible fields from the planner or replanner
	// that this version of the executor does not recognize by name.
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a deep-enough copy of the issue for safe mutation by a
// retry attempt or replan step without aliasing the caller's slices.
func (i Issue) Clone() Issue {
	c := i
	c.AcceptanceCriteria = append([]string(nil), i.AcceptanceCriteria...)
	c.DependsOn = append([]string(nil), i.DependsOn...)
	c.Provides = append([]string(nil), i.Provides...)
	c.FilesToCreate = append([]string(nil), i.FilesToCreate...)
	c.FilesToModify = append([]string(nil), i.FilesToModify...)
	c.FailureNotes = append([]string(nil), i.FailureNotes...)
	if i.Extra != nil {
		c.Extra = make(map[string]any, len(i.Extra))
		for k, v := range i.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// IterationRecord summarizes one coding-loop iteration for stuck detection
// and for the final IssueResult's history.
type IterationRecord struct {
	Iteration      int    `json:"iteration"`
	Action         string `json:"action"`
	Summary        string `json:"summary"`
	QAPassed       bool   `json:"qa_passed"`
	ReviewApproved bool   `json:"review_approved"`
	ReviewBlocking bool   `json:"review_blocking"`
}

// IssueResult is the outcome of a single execution attempt for one issue.
type IssueResult struct {
	IssueName       string            `json:"issue_name"`
	Outcome         IssueOutcome      `json:"outcome"`
	ResultSummary   string            `json:"result_summary,omitempty"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ErrorContext    string            `json:"error_context,omitempty"`
	Attempts        int               `json:"attempts"`
	FilesChanged    []string          `json:"files_changed,omitempty"`
	BranchName      string            `json:"branch_name,omitempty"`
	IterationHistory []IterationRecord `json:"iteration_history,omitempty"`
}

// LevelResult is the aggregate outcome of executing every active issue in
// one level. The three slices are mutually disjoint by issue name.
type LevelResult struct {
	LevelIndex int           `json:"level_index"`
	Completed  []IssueResult `json:"completed"`
	Failed     []IssueResult `json:"failed"`
	Skipped    []IssueResult `json:"skipped"`
}

// ReplanDecision is the structured output of the replanner agent.
type ReplanDecision struct {
	Action            ReplanAction `json:"action"`
	Rationale         string       `json:"rationale"`
	UpdatedIssues     []Issue      `json:"updated_issues,omitempty"`
	RemovedIssueNames []string     `json:"removed_issue_names,omitempty"`
	SkippedIssueNames []string     `json:"skipped_issue_names,omitempty"`
	NewIssues         []Issue      `json:"new_issues,omitempty"`
	Summary           string       `json:"summary,omitempty"`
}

// MergeResult is the structured output of the merger agent.
type MergeResult struct {
	Success                 bool              `json:"success"`
	MergedBranches          []string          `json:"merged_branches"`
	FailedBranches          []string          `json:"failed_branches"`
	ConflictResolutions     []ConflictResolution `json:"conflict_resolutions,omitempty"`
	MergeCommitSHA          string            `json:"merge_commit_sha,omitempty"`
	PreMergeSHA             string            `json:"pre_merge_sha,omitempty"`
	NeedsIntegrationTest    bool              `json:"needs_integration_test"`
	IntegrationTestRationale string           `json:"integration_test_rationale,omitempty"`
	Summary                 string            `json:"summary"`
}

// ConflictResolution records how the merger resolved one overlapping file.
type ConflictResolution struct {
	File               string   `json:"file"`
	Branches           []string `json:"branches"`
	ResolutionStrategy string   `json:"resolution_strategy"`
}

// IntegrationTestResult is the result of running integration tests after a merge.
type IntegrationTestResult struct {
	Passed          bool                    `json:"passed"`
	TestsWritten    []string                `json:"tests_written,omitempty"`
	TestsRun        int                     `json:"tests_run"`
	TestsPassed     int                     `json:"tests_passed"`
	TestsFailed     int                     `json:"tests_failed"`
	FailureDetails  []IntegrationTestFailure `json:"failure_details,omitempty"`
	Summary         string                  `json:"summary"`
}

// IntegrationTestFailure describes one failing integration test.
type IntegrationTestFailure struct {
	TestName string `json:"test_name"`
	Error    string `json:"error"`
	File     string `json:"file,omitempty"`
}

// WorkspaceInfo is one entry of the workspace-setup agent's response: where
// an issue's isolated worktree and branch live.
type WorkspaceInfo struct {
	IssueName    string `json:"issue_name"`
	BranchName   string `json:"branch_name"`
	WorktreePath string `json:"worktree_path"`
}

// DAGState is the complete, serializable execution state — the only thing
// ever checkpointed. It is owned exclusively by the top-level executor;
// every other component receives a read-only view or a narrower slice of it.
type DAGState struct {
	// Artifact paths.
	RepoPath         string `json:"repo_path"`
	ArtifactsDir     string `json:"artifacts_dir"`
	PRDPath          string `json:"prd_path"`
	ArchitecturePath string `json:"architecture_path"`
	IssuesDir        string `json:"issues_dir"`
	WorktreesDir     string `json:"worktrees_dir"`

	// Plan context.
	OriginalPlanSummary  string `json:"original_plan_summary"`
	PRDSummary           string `json:"prd_summary"`
	ArchitectureSummary  string `json:"architecture_summary"`

	// Issue tracking.
	AllIssues []Issue    `json:"all_issues"`
	Levels    [][]string `json:"levels"`

	// Execution progress.
	CompletedIssues  []IssueResult `json:"completed_issues"`
	FailedIssues     []IssueResult `json:"failed_issues"`
	SkippedIssues    []string      `json:"skipped_issues"`
	InFlightIssues   []string      `json:"in_flight_issues"`
	CurrentLevel     int           `json:"current_level"`

	// Replan tracking.
	ReplanCount   int              `json:"replan_count"`
	ReplanHistory []ReplanDecision `json:"replan_history"`
	MaxReplans    int              `json:"max_replans"`

	// Git branch tracking.
	GitIntegrationBranch string   `json:"git_integration_branch"`
	GitOriginalBranch    string   `json:"git_original_branch"`
	GitInitialCommit     string   `json:"git_initial_commit"`
	GitMode              string   `json:"git_mode"`
	PendingMergeBranches []string `json:"pending_merge_branches"`
	MergedBranches       []string `json:"merged_branches"`
	UnmergedBranches     []string `json:"unmerged_branches"`

	// Merge/test history.
	MergeResults           []MergeResult           `json:"merge_results"`
	IntegrationTestResults []IntegrationTestResult `json:"integration_test_results"`
}

// IssueByName returns a lookup map of AllIssues keyed by name.
func (s *DAGState) IssueByName() map[string]Issue {
	m := make(map[string]Issue, len(s.AllIssues))
	for _, i := range s.AllIssues {
		m[i.Name] = i
	}
	return m
}

// TerminalNames returns the set of issue names already in a terminal state
// (completed, failed, or skipped).
func (s *DAGState) TerminalNames() map[string]bool {
	done := make(map[string]bool, len(s.CompletedIssues)+len(s.FailedIssues)+len(s.SkippedIssues))
	for _, r := range s.CompletedIssues {
		done[r.IssueName] = true
	}
	for _, r := range s.FailedIssues {
		done[r.IssueName] = true
	}
	for _, n := range s.SkippedIssues {
		done[n] = true
	}
	return done
}

// ExecutionConfig tunes every bounded-retry and concurrency knob the
// executor and its drivers read. Zero values are never used directly by
// the executor; callers should construct this via config.Execution fields
// (already defaulted by the config loader) rather than a bare literal.
type ExecutionConfig struct {
	MaxRetriesPerIssue        int
	MaxReplans                int
	EnableReplanning          bool
	RetryAdvisorModel         string
	ReplanModel               string
	IssueWriterModel          string
	MergerModel               string
	IntegrationTesterModel    string
	MaxIntegrationTestRetries int
	EnableIntegrationTesting  bool

	MaxCodingIterations int
	CoderModel          string
	QAModel             string
	CodeReviewerModel   string
	QASynthesizerModel  string

	AgentMaxTurns       int
	AgentTimeoutSeconds int

	MaxBudgetUSD *float64

	MaxConcurrentIssues int
}
