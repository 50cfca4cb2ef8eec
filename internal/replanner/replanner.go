// Package replanner invokes the replanner agent when a level produces
// unrecoverable issues, and writes issue files for whatever new or
// materially-updated issues the replanner's decision introduces. Grounded
// on the reference execution engine's _invoke_replanner_via_call and
// _write_issue_files_for_replan.
package replanner

import (
	"context"
	"sync"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/logging"
)

// Targets names the node whose replanner/issue-writer agents this package calls.
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
	fnReplanner   = "run_replanner"
	fnIssueWriter = "run_issue_writer"
)

type replanRequest struct {
	DAGState     execmodel.DAGState    `json:"dag_state"`
	FailedIssues []execmodel.IssueResult `json:"failed_issues"`
	ReplanModel  string                `json:"replan_model,omitempty"`
}

// Invoke calls the replanner agent with the current state and the
// unrecoverable results from the level that triggered replanning, and
// returns its structured decision.
func Invoke(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	state execmodel.DAGState,
	unrecoverable []execmodel.IssueResult,
	cfg execmodel.ExecutionConfig,
) (execmodel.ReplanDecision, error) {
	if log == nil {
		log = logging.Noop
	}

	failedNames := make([]string, len(unrecoverable))
	for i, f := range unrecoverable {
		failedNames[i] = f.IssueName
	}
	log.Infof("replanning triggered (attempt %d/%d): failed issues = %v", state.ReplanCount+1, cfg.MaxReplans, failedNames)

	req := replanRequest{DAGState: state, FailedIssues: unrecoverable, ReplanModel: cfg.ReplanModel}
	var decision execmodel.ReplanDecision
	if err := agentcall.CallInto(ctx, inv, targets.target(fnReplanner), req, &decision); err != nil {
		return execmodel.ReplanDecision{}, err
	}
	return decision, nil
}

type issueWriterRequest struct {
	Issue               execmodel.Issue `json:"issue"`
	PRDSummary          string          `json:"prd_summary"`
	ArchitectureSummary string          `json:"architecture_summary"`
	IssuesDir           string          `json:"issues_dir"`
	RepoPath            string          `json:"repo_path"`
	Model               string          `json:"model,omitempty"`
}

type issueWriterResult struct {
	Success bool `json:"success"`
}

// WriteIssueFiles runs one issue-writer agent call per new issue in decision,
// plus every updated issue that carries a non-empty description (a material
// change, not just a field tweak), all concurrently. New issues without an
// explicit sequence number are assigned the next-available one after the
// current maximum in state.AllIssues. A writer call failing for one issue
// never blocks the others; failures are only logged.
func WriteIssueFiles(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	decision execmodel.ReplanDecision,
	state execmodel.DAGState,
	cfg execmodel.ExecutionConfig,
) {
	if log == nil {
		log = logging.Noop
	}

	toWrite := append([]execmodel.Issue(nil), decision.NewIssues...)
	for _, updated := range decision.UpdatedIssues {
		if updated.Description != "" {
			toWrite = append(toWrite, updated)
		}
	}
	if len(toWrite) == 0 {
		return
	}

	maxSeq := 0
	for _, i := range state.AllIssues {
		if i.SequenceNumber > maxSeq {
			maxSeq = i.SequenceNumber
		}
	}
	for i := range toWrite {
		if toWrite[i].SequenceNumber == 0 {
			maxSeq++
			toWrite[i].SequenceNumber = maxSeq
		}
	}

	names := make([]string, len(toWrite))
	for i, iss := range toWrite {
		names[i] = iss.Name
	}
	log.Infof("writing issue files for %d issues: %v", len(toWrite), names)

	var wg sync.WaitGroup
	successes := make([]bool, len(toWrite))
	wg.Add(len(toWrite))
	for i, iss := range toWrite {
		go func(i int, iss execmodel.Issue) {
			defer wg.Done()
			req := issueWriterRequest{
				Issue:               iss,
				PRDSummary:          state.PRDSummary,
				ArchitectureSummary: state.ArchitectureSummary,
				IssuesDir:           state.IssuesDir,
				RepoPath:            state.RepoPath,
				Model:               cfg.IssueWriterModel,
			}
			var out issueWriterResult
			if err := agentcall.CallInto(ctx, inv, targets.target(fnIssueWriter), req, &out); err != nil {
				log.Warnf("issue writer failed for %s: %v", iss.Name, err)
				return
			}
			successes[i] = out.Success
		}(i, iss)
	}
	wg.Wait()

	ok := 0
	for _, s := range successes {
		if s {
			ok++
		}
	}
	log.Infof("issue writer complete: %d/%d succeeded", ok, len(toWrite))
}
