package mergegate

import (
	"context"
	"regexp"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/logging"
)

var sequencePrefix = regexp.MustCompile(`^\d{2}-`)

// SetupWorktrees asks the workspace-setup agent to create an isolated git
// worktree and branch per active issue, then enriches each issue with the
// resulting WorktreePath/BranchName/IntegrationBranch. If the agent call
// fails or reports success=false, the active issues are returned unchanged
// — they run without isolation rather than blocking the level.
//
// The setup agent may echo an issue's name back with or without its
// leading two-digit sequence prefix (e.g. "01-value-copy-trait" instead of
// "value-copy-trait"); both forms are matched against the requested issue
// names.
func SetupWorktrees(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	state execmodel.DAGState,
	activeIssues []execmodel.Issue,
) []execmodel.Issue {
	if log == nil {
		log = logging.Noop
	}

	req := workspaceSetupRequest{
		RepoPath:          state.RepoPath,
		IntegrationBranch: state.GitIntegrationBranch,
		Issues:            activeIssues,
		WorktreesDir:      state.WorktreesDir,
		ArtifactsDir:      state.ArtifactsDir,
		Level:             state.CurrentLevel,
	}
	var out workspaceSetupResult
	if err := agentcall.CallInto(ctx, inv, targets.target(fnWorkspaceSetup), req, &out); err != nil {
		log.Warnf("worktree setup call failed, issues will run without isolation: %v", err)
		return activeIssues
	}
	if !out.Success {
		log.Warnf("worktree setup reported failure, issues will run without isolation")
		return activeIssues
	}

	byName := make(map[string]execmodel.WorkspaceInfo, len(out.Workspaces)*2)
	for _, ws := range out.Workspaces {
		byName[ws.IssueName] = ws
		if stripped := sequencePrefix.ReplaceAllString(ws.IssueName, ""); stripped != ws.IssueName {
			byName[stripped] = ws
		}
	}

	enriched := make([]execmodel.Issue, len(activeIssues))
	for i, issue := range activeIssues {
		ws, ok := byName[issue.Name]
		if !ok {
			enriched[i] = issue
			continue
		}
		c := issue.Clone()
		c.WorktreePath = ws.WorktreePath
		c.BranchName = ws.BranchName
		c.IntegrationBranch = state.GitIntegrationBranch
		enriched[i] = c
	}

	log.Infof("worktree setup complete: %d worktrees", len(out.Workspaces))
	return enriched
}

// MergeLevel merges every completed issue's branch in levelResult into the
// integration branch, retrying once if the merger reports failed branches.
// Returns nil if there was nothing to merge. On return, state's
// MergeResults/MergedBranches/UnmergedBranches have been updated.
func MergeLevel(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	state *execmodel.DAGState,
	level execmodel.LevelResult,
	issueByName map[string]execmodel.Issue,
	fileConflicts []FileConflict,
	cfg execmodel.ExecutionConfig,
) *execmodel.MergeResult {
	if log == nil {
		log = logging.Noop
	}

	var toMerge []branchToMerge
	for _, r := range level.Completed {
		if r.BranchName == "" {
			continue
		}
		toMerge = append(toMerge, branchToMerge{
			BranchName:       r.BranchName,
			IssueName:        r.IssueName,
			ResultSummary:    r.ResultSummary,
			FilesChanged:     r.FilesChanged,
			IssueDescription: issueByName[r.IssueName].Description,
		})
	}
	if len(toMerge) == 0 {
		return nil
	}

	req := mergeRequest{
		RepoPath:            state.RepoPath,
		IntegrationBranch:   state.GitIntegrationBranch,
		BranchesToMerge:     toMerge,
		FileConflicts:       fileConflicts,
		PRDSummary:          state.PRDSummary,
		ArchitectureSummary: state.ArchitectureSummary,
		ArtifactsDir:        state.ArtifactsDir,
		Level:               level.LevelIndex,
		Model:               cfg.MergerModel,
	}

	log.Infof("merging %d branches", len(toMerge))
	merge := callMerger(ctx, inv, targets, req)

	if !merge.Success && len(merge.FailedBranches) > 0 {
		log.Warnf("merge failed, retrying once")
		merge = callMerger(ctx, inv, targets, req)
	}

	state.MergeResults = append(state.MergeResults, merge)
	state.MergedBranches = appendDistinct(state.MergedBranches, merge.MergedBranches)
	state.UnmergedBranches = appendDistinct(state.UnmergedBranches, merge.FailedBranches)

	log.Infof("merge complete: merged=%v failed=%v", merge.MergedBranches, merge.FailedBranches)
	return &merge
}

func callMerger(ctx context.Context, inv agentcall.Invoker, targets Targets, req mergeRequest) execmodel.MergeResult {
	var out execmodel.MergeResult
	if err := agentcall.CallInto(ctx, inv, targets.target(fnMerger), req, &out); err != nil {
		return execmodel.MergeResult{Success: false, FailedBranches: branchNames(req.BranchesToMerge), Summary: err.Error()}
	}
	return out
}

func branchNames(branches []branchToMerge) []string {
	names := make([]string, len(branches))
	for i, b := range branches {
		names[i] = b.BranchName
	}
	return names
}

func appendDistinct(existing []string, additions []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	for _, a := range additions {
		if !seen[a] {
			seen[a] = true
			existing = append(existing, a)
		}
	}
	return existing
}

// RunIntegrationTests runs the integration tester after a merge, if the
// merger flagged it as needed and integration testing is enabled. Retries
// up to cfg.MaxIntegrationTestRetries additional times until the tests
// pass. Returns nil if skipped. On a non-nil return, state's
// IntegrationTestResults has been updated.
func RunIntegrationTests(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	state *execmodel.DAGState,
	merge execmodel.MergeResult,
	level execmodel.LevelResult,
	cfg execmodel.ExecutionConfig,
) *execmodel.IntegrationTestResult {
	if log == nil {
		log = logging.Noop
	}
	if !merge.NeedsIntegrationTest || !cfg.EnableIntegrationTesting {
		return nil
	}

	mergedSet := make(map[string]bool, len(merge.MergedBranches))
	for _, b := range merge.MergedBranches {
		mergedSet[b] = true
	}
	var merged []mergedBranchInfo
	for _, r := range level.Completed {
		if r.BranchName != "" && mergedSet[r.BranchName] {
			merged = append(merged, mergedBranchInfo{
				BranchName:    r.BranchName,
				IssueName:     r.IssueName,
				ResultSummary: r.ResultSummary,
				FilesChanged:  r.FilesChanged,
			})
		}
	}

	req := integrationTestRequest{
		RepoPath:            state.RepoPath,
		IntegrationBranch:   state.GitIntegrationBranch,
		MergedBranches:      merged,
		PRDSummary:          state.PRDSummary,
		ArchitectureSummary: state.ArchitectureSummary,
		ConflictResolutions: merge.ConflictResolutions,
		ArtifactsDir:        state.ArtifactsDir,
		Level:               level.LevelIndex,
		Model:               cfg.IntegrationTesterModel,
	}

	log.Infof("running integration tests")
	var result execmodel.IntegrationTestResult
	for attempt := 0; attempt <= cfg.MaxIntegrationTestRetries; attempt++ {
		var out execmodel.IntegrationTestResult
		if err := agentcall.CallInto(ctx, inv, targets.target(fnIntegrationTester), req, &out); err != nil {
			out = execmodel.IntegrationTestResult{Passed: false, Summary: err.Error()}
		}
		result = out
		if result.Passed {
			break
		}
		if attempt < cfg.MaxIntegrationTestRetries {
			log.Warnf("integration test failed (attempt %d), retrying", attempt+1)
		}
	}

	state.IntegrationTestResults = append(state.IntegrationTestResults, result)
	log.Infof("integration test %s: %s", passFail(result.Passed), result.Summary)
	return &result
}

func passFail(passed bool) string {
	if passed {
		return "passed"
	}
	return "failed"
}

// CleanupWorktrees removes worktrees and branches for branchesToClean,
// retrying once on failure (transient issues such as locked worktrees).
// A no-op if branchesToClean is empty.
func CleanupWorktrees(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	state execmodel.DAGState,
	branchesToClean []string,
	level int,
) {
	if log == nil {
		log = logging.Noop
	}
	if len(branchesToClean) == 0 {
		return
	}

	log.Infof("cleaning up %d worktrees", len(branchesToClean))
	req := cleanupRequest{
		RepoPath:        state.RepoPath,
		WorktreesDir:    state.WorktreesDir,
		BranchesToClean: branchesToClean,
		ArtifactsDir:    state.ArtifactsDir,
		Level:           level,
	}

	for attempt := 1; attempt <= 2; attempt++ {
		var out cleanupResult
		err := agentcall.CallInto(ctx, inv, targets.target(fnWorkspaceCleanup), req, &out)
		if err != nil {
			log.Errorf("worktree cleanup error (attempt %d/2): %v", attempt, err)
			continue
		}
		if out.Success {
			log.Infof("worktree cleanup complete: %v", out.Cleaned)
			return
		}
		log.Warnf("worktree cleanup returned success=false (attempt %d/2), cleaned=%v", attempt, out.Cleaned)
	}

	log.Errorf("worktree cleanup failed after retries for: %v", branchesToClean)
}
