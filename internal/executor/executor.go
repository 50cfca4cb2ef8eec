package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/checkpoint"
	"github.com/lucasnoah/dagforge/internal/codingloop"
	"github.com/lucasnoah/dagforge/internal/dagplan"
	"github.com/lucasnoah/dagforge/internal/eventlog"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/logging"
	"github.com/lucasnoah/dagforge/internal/mergegate"
	"github.com/lucasnoah/dagforge/internal/replanner"
	"github.com/lucasnoah/dagforge/internal/retryadvisor"
	"golang.org/x/sync/semaphore"
)

// Run drives a planned DAG to completion (or to an aborted/exhausted stop),
// level by level. When resume is true and store has a checkpoint, execution
// continues from it instead of from plan's initial state.
func Run(
	ctx context.Context,
	inv agentcall.Invoker,
	store *checkpoint.Store,
	log logging.Logger,
	opts Options,
	plan PlanInput,
	repoPath string,
	resume bool,
) (execmodel.DAGState, error) {
	if log == nil {
		log = logging.Noop
	}

	state := InitDAGState(plan, repoPath, opts.Config.MaxReplans)

	if resume && store != nil {
		if loaded, ok, err := store.Load(); err != nil {
			return state, err
		} else if ok {
			state = loaded
			log.Infof("resumed from checkpoint: level=%d completed=%d failed=%d",
				state.CurrentLevel, len(state.CompletedIssues), len(state.FailedIssues))
		}
	}

	log.Infof("DAG execution %s: %d issues, %d levels",
		startWord(resume), len(state.AllIssues), len(state.Levels))

	saveCheckpoint(store, log, state)

	mgTargets := mergegate.Targets{NodeID: opts.NodeID}
	rpTargets := replanner.Targets{NodeID: opts.NodeID}

	issueByName := state.IssueByName()

	for state.CurrentLevel < len(state.Levels) {
		levelNames := state.Levels[state.CurrentLevel]
		done := state.TerminalNames()

		var active []execmodel.Issue
		for _, name := range levelNames {
			if issue, ok := issueByName[name]; ok && !done[name] {
				active = append(active, issue)
			}
		}

		if len(active) == 0 {
			state.CurrentLevel++
			continue
		}

		log.Infof("executing level %d: %v", state.CurrentLevel, issueNames(active))
		recordEvent(opts.EventLog, log, eventlog.KindLevelStart, state.CurrentLevel, "", state.ReplanCount,
			map[string]any{"issues": issueNames(active)})

		if state.GitIntegrationBranch != "" {
			active = mergegate.SetupWorktrees(ctx, inv, mgTargets, log, state, active)
		}

		state.InFlightIssues = issueNames(active)
		levelResult := executeLevel(ctx, inv, log, opts, state, active)
		state.InFlightIssues = nil

		saveCheckpoint(store, log, state)

		state.CompletedIssues = append(state.CompletedIssues, levelResult.Completed...)
		state.FailedIssues = append(state.FailedIssues, levelResult.Failed...)
		for _, s := range levelResult.Skipped {
			state.SkippedIssues = appendDistinctString(state.SkippedIssues, s.IssueName)
		}
		recordIssueOutcomes(opts.EventLog, log, state.CurrentLevel, state.ReplanCount, levelResult)

		log.Infof("level %d complete: completed=%v failed=%v",
			state.CurrentLevel, resultNames(levelResult.Completed), resultNames(levelResult.Failed))

		if state.GitIntegrationBranch != "" {
			merge := mergegate.MergeLevel(ctx, inv, mgTargets, log, &state, levelResult, issueByName, plan.FileConflicts, opts.Config)
			if merge != nil {
				recordEvent(opts.EventLog, log, eventlog.KindMerge, state.CurrentLevel, "", state.ReplanCount, merge)
				if itResult := mergegate.RunIntegrationTests(ctx, inv, mgTargets, log, &state, *merge, levelResult, opts.Config); itResult != nil {
					recordEvent(opts.EventLog, log, eventlog.KindIntegrationTest, state.CurrentLevel, "", state.ReplanCount, itResult)
				}
			}

			branchesToClean := make([]string, len(active))
			for i, issue := range active {
				branchesToClean[i] = branchName(issue)
			}
			mergegate.CleanupWorktrees(ctx, inv, mgTargets, log, state, branchesToClean, state.CurrentLevel)
		}

		unrecoverable := filterUnrecoverable(levelResult.Failed)

		if len(unrecoverable) > 0 {
			if opts.Config.EnableReplanning && state.ReplanCount < opts.Config.MaxReplans {
				decision, err := replanner.Invoke(ctx, inv, rpTargets, log, state, unrecoverable, opts.Config)
				if err != nil {
					log.Warnf("replanner call failed, skipping downstream of failures: %v", err)
					state = skipDownstream(state, unrecoverable)
				} else {
					recordEvent(opts.EventLog, log, eventlog.KindReplanDecision, state.CurrentLevel, "", state.ReplanCount, decision)
					switch decision.Action {
					case execmodel.ReplanAbort:
						state.ReplanCount++
						state.ReplanHistory = append(state.ReplanHistory, decision)
						log.Warnf("replanner decided to ABORT: %s", decision.Rationale)
						saveCheckpoint(store, log, state)
						return state, nil

					case execmodel.ReplanContinue:
						state = enrichDownstreamWithFailureNotes(state, unrecoverable)
						state.ReplanCount++
						state.ReplanHistory = append(state.ReplanHistory, decision)
						state = skipDownstream(state, unrecoverable)

					default: // modify_dag or reduce_scope
						next, err := dagplan.ApplyReplan(state, decision)
						if err != nil {
							log.Warnf("replan produced invalid DAG (cycle): %v", err)
							state = skipDownstream(state, unrecoverable)
						} else {
							state = next
							issueByName = state.IssueByName()
							if len(decision.NewIssues) > 0 || len(decision.UpdatedIssues) > 0 {
								replanner.WriteIssueFiles(ctx, inv, rpTargets, log, decision, state, opts.Config)
							}
							saveCheckpoint(store, log, state)
							continue // re-enter loop at new level 0
						}
					}
				}
			} else {
				state = skipDownstream(state, unrecoverable)
				log.Warnf("no replanning available — skipping downstream: %v", state.SkippedIssues)
			}
		}

		state.CurrentLevel++
	}

	if state.WorktreesDir != "" && state.GitIntegrationBranch != "" {
		var allBranches []string
		for _, issue := range state.AllIssues {
			allBranches = append(allBranches, branchName(issue))
		}
		if len(allBranches) > 0 {
			log.Infof("final cleanup sweep for any residual worktrees")
			mergegate.CleanupWorktrees(ctx, inv, mgTargets, log, state, allBranches, state.CurrentLevel)
		}
		mergegate.FallbackCleanup(opts.FallbackGit, state.RepoPath, log, state.AllIssues)
	}

	log.Infof("DAG execution complete: %d/%d completed, %d failed, %d skipped, %d replans",
		len(state.CompletedIssues), len(state.AllIssues), len(state.FailedIssues), len(state.SkippedIssues), state.ReplanCount)

	if opts.EnableGitHubPR && len(filterUnrecoverable(state.FailedIssues)) == 0 && state.GitIntegrationBranch != "" {
		checkpointPath := ""
		if store != nil {
			checkpointPath = store.Path()
		}
		title := fmt.Sprintf("Integrate %s", state.GitIntegrationBranch)
		body := fmt.Sprintf("%d issue(s) completed, %d replan(s). See checkpoint at %s for details.",
			len(state.CompletedIssues), state.ReplanCount, checkpointPath)
		mergegate.OpenIntegrationPR(opts.GitHub, state.RepoPath, state.GitIntegrationBranch, state.GitOriginalBranch, title, body, log)
	}

	saveCheckpoint(store, log, state)
	return state, nil
}

// recordEvent writes one eventlog row, logging (not failing the run) on
// error. A nil EventLog makes this a no-op — recording is optional.
func recordEvent(el *eventlog.DB, log logging.Logger, kind string, levelIndex int, issueName string, replanCount int, detail any) {
	if el == nil {
		return
	}
	if err := el.Record(kind, levelIndex, issueName, replanCount, detail); err != nil {
		log.Warnf("eventlog: record %s failed: %v", kind, err)
	}
}

func recordIssueOutcomes(el *eventlog.DB, log logging.Logger, levelIndex int, replanCount int, level execmodel.LevelResult) {
	if el == nil {
		return
	}
	for _, r := range level.Completed {
		recordEvent(el, log, eventlog.KindIssueOutcome, levelIndex, r.IssueName, replanCount, r)
	}
	for _, r := range level.Failed {
		recordEvent(el, log, eventlog.KindIssueOutcome, levelIndex, r.IssueName, replanCount, r)
	}
	for _, r := range level.Skipped {
		recordEvent(el, log, eventlog.KindIssueOutcome, levelIndex, r.IssueName, replanCount, r)
	}
}

func startWord(resume bool) string {
	if resume {
		return "resuming"
	}
	return "starting"
}

func saveCheckpoint(store *checkpoint.Store, log logging.Logger, state execmodel.DAGState) {
	if store == nil {
		return
	}
	if err := store.Save(state); err != nil {
		log.Errorf("checkpoint save failed: %v", err)
		return
	}
	log.Infof("checkpoint saved: level=%d", state.CurrentLevel)
}

func issueNames(issues []execmodel.Issue) []string {
	names := make([]string, len(issues))
	for i, issue := range issues {
		names[i] = issue.Name
	}
	return names
}

func resultNames(results []execmodel.IssueResult) []string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.IssueName
	}
	return names
}

func appendDistinctString(existing []string, name string) []string {
	for _, e := range existing {
		if e == name {
			return existing
		}
	}
	return append(existing, name)
}

func filterUnrecoverable(failed []execmodel.IssueResult) []execmodel.IssueResult {
	var out []execmodel.IssueResult
	for _, f := range failed {
		if f.Outcome == execmodel.OutcomeFailedUnrecoverable {
			out = append(out, f)
		}
	}
	return out
}

func skipDownstream(state execmodel.DAGState, failed []execmodel.IssueResult) execmodel.DAGState {
	for _, f := range failed {
		for _, name := range dagplan.FindDownstream(f.IssueName, state.AllIssues) {
			state.SkippedIssues = appendDistinctString(state.SkippedIssues, name)
		}
	}
	return state
}

// enrichDownstreamWithFailureNotes warns every issue downstream of a failure
// so its coder agent knows a dependency may be missing, when the replanner
// chose to continue past the failure rather than restructure around it.
func enrichDownstreamWithFailureNotes(state execmodel.DAGState, failed []execmodel.IssueResult) execmodel.DAGState {
	for _, f := range failed {
		downstream := make(map[string]bool)
		for _, name := range dagplan.FindDownstream(f.IssueName, state.AllIssues) {
			downstream[name] = true
		}
		for i, issue := range state.AllIssues {
			if !downstream[issue.Name] {
				continue
			}
			note := fmt.Sprintf(
				"WARNING: upstream issue '%s' failed. Error: %s. It was supposed to provide: %v. "+
					"You may need to implement workarounds or stubs for missing functionality.",
				f.IssueName, f.ErrorMessage, issue.DependsOn,
			)
			c := issue.Clone()
			c.FailureNotes = append(c.FailureNotes, note)
			state.AllIssues[i] = c
		}
	}
	return state
}

// executeLevel runs every active issue concurrently, isolating each
// goroutine's panic into a failed_unrecoverable result rather than letting
// one issue's crash take down the whole level — the same fan-out/recover
// shape the coding loop uses for its QA/reviewer pair, scaled to N issues.
func executeLevel(
	ctx context.Context,
	inv agentcall.Invoker,
	log logging.Logger,
	opts Options,
	state execmodel.DAGState,
	active []execmodel.Issue,
) execmodel.LevelResult {
	result := execmodel.LevelResult{LevelIndex: state.CurrentLevel}

	var sem *semaphore.Weighted
	if opts.Config.MaxConcurrentIssues > 0 {
		sem = semaphore.NewWeighted(int64(opts.Config.MaxConcurrentIssues))
	}

	results := make([]execmodel.IssueResult, len(active))
	var wg sync.WaitGroup
	wg.Add(len(active))

	for i, issue := range active {
		go func(i int, issue execmodel.Issue) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					results[i] = execmodel.IssueResult{
						IssueName:    issue.Name,
						Outcome:      execmodel.OutcomeFailedUnrecoverable,
						ErrorMessage: "cancelled waiting for a concurrency slot",
					}
					return
				}
				defer sem.Release(1)
			}
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("issue %s panicked: %v\n%s", issue.Name, r, debug.Stack())
					results[i] = execmodel.IssueResult{
						IssueName:    issue.Name,
						Outcome:      execmodel.OutcomeFailedUnrecoverable,
						ErrorMessage: "panic during execution",
					}
				}
			}()
			results[i] = executeSingleIssue(ctx, inv, log, opts, state, issue)
		}(i, issue)
	}
	wg.Wait()

	for _, r := range results {
		switch r.Outcome {
		case execmodel.OutcomeCompleted:
			result.Completed = append(result.Completed, r)
		case execmodel.OutcomeSkipped:
			result.Skipped = append(result.Skipped, r)
		default:
			result.Failed = append(result.Failed, r)
		}
	}

	return result
}

func executeSingleIssue(
	ctx context.Context,
	inv agentcall.Invoker,
	log logging.Logger,
	opts Options,
	state execmodel.DAGState,
	issue execmodel.Issue,
) execmodel.IssueResult {
	if opts.ExecuteFn != nil {
		return retryadvisor.Execute(ctx, inv, retryadvisor.Targets{NodeID: opts.NodeID}, log, issue, state, opts.Config, opts.ExecuteFn)
	}
	return codingloop.Run(ctx, inv, codingloop.Targets{NodeID: opts.NodeID}, log, issue, issue.WorktreePath, opts.Config.MaxCodingIterations, opts.ProjectContext)
}
