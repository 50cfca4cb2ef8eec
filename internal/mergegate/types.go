// Package mergegate drives the level-boundary git operations that sit
// between the per-issue coding loop and the next level's start: worktree
// setup, branch merge, integration testing, and worktree cleanup. Each of
// these is delegated to an external agent through agentcall.Invoker, and
// this package owns the request shaping, retry policy, and DAGState
// bookkeeping around each call. The only direct git/gh invocations are the
// local helpers in localops.go (FallbackCleanup, OpenIntegrationPR).
// Grounded on the reference execution engine's _setup_worktrees,
// _merge_level_branches, _run_integration_tests, and _cleanup_worktrees.
package mergegate

import "github.com/lucasnoah/dagforge/internal/execmodel"

// Targets names the node whose workspace/merge/test agents this gate calls.
type Targets struct {
	NodeID string
}

func (t Targets) target(fn string) string {
	if t.NodeID == "" {
		return fn
	}
	return t.NodeID + "." + fn
}

const (
	fnWorkspaceSetup   = "run_workspace_setup"
	fnMerger           = "run_merger"
	fnIntegrationTester = "run_integration_tester"
	fnWorkspaceCleanup = "run_workspace_cleanup"
)

// FileConflict flags a file touched by more than one branch in a level,
// computed by the caller before merge so the merger agent can pay extra
// attention to it.
type FileConflict struct {
	File     string   `json:"file"`
	Branches []string `json:"branches"`
}

type workspaceSetupRequest struct {
	RepoPath           string           `json:"repo_path"`
	IntegrationBranch  string           `json:"integration_branch"`
	Issues             []execmodel.Issue `json:"issues"`
	WorktreesDir       string           `json:"worktrees_dir"`
	ArtifactsDir       string           `json:"artifacts_dir"`
	Level              int              `json:"level"`
}

type workspaceSetupResult struct {
	Success    bool                      `json:"success"`
	Workspaces []execmodel.WorkspaceInfo `json:"workspaces"`
}

type branchToMerge struct {
	BranchName       string   `json:"branch_name"`
	IssueName        string   `json:"issue_name"`
	ResultSummary    string   `json:"result_summary"`
	FilesChanged     []string `json:"files_changed"`
	IssueDescription string   `json:"issue_description"`
}

type mergeRequest struct {
	RepoPath            string           `json:"repo_path"`
	IntegrationBranch   string           `json:"integration_branch"`
	BranchesToMerge     []branchToMerge  `json:"branches_to_merge"`
	FileConflicts       []FileConflict   `json:"file_conflicts"`
	PRDSummary          string           `json:"prd_summary"`
	ArchitectureSummary string           `json:"architecture_summary"`
	ArtifactsDir        string           `json:"artifacts_dir"`
	Level               int              `json:"level"`
	Model               string           `json:"model,omitempty"`
}

type mergedBranchInfo struct {
	BranchName    string   `json:"branch_name"`
	IssueName     string   `json:"issue_name"`
	ResultSummary string   `json:"result_summary"`
	FilesChanged  []string `json:"files_changed"`
}

type integrationTestRequest struct {
	RepoPath            string                       `json:"repo_path"`
	IntegrationBranch   string                       `json:"integration_branch"`
	MergedBranches      []mergedBranchInfo           `json:"merged_branches"`
	PRDSummary          string                       `json:"prd_summary"`
	ArchitectureSummary string                       `json:"architecture_summary"`
	ConflictResolutions []execmodel.ConflictResolution `json:"conflict_resolutions,omitempty"`
	ArtifactsDir        string                       `json:"artifacts_dir"`
	Level               int                          `json:"level"`
	Model               string                       `json:"model,omitempty"`
}

type cleanupRequest struct {
	RepoPath        string   `json:"repo_path"`
	WorktreesDir    string   `json:"worktrees_dir"`
	BranchesToClean []string `json:"branches_to_clean"`
	ArtifactsDir    string   `json:"artifacts_dir"`
	Level           int      `json:"level"`
}

type cleanupResult struct {
	Success bool     `json:"success"`
	Cleaned []string `json:"cleaned"`
}
