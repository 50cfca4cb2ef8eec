package codingloop

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/logging"
)

// Run drives the coder → parallel(QA, reviewer) → synthesizer loop for one
// issue, for up to maxIterations iterations, and returns the terminal
// IssueResult. It never returns an error: every agent-call failure along
// the way is absorbed into the documented conservative fallback for that
// call site, because this loop's contract is to always produce a terminal
// outcome for its issue.
func Run(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	issue execmodel.Issue,
	worktreePath string,
	maxIterations int,
	projectContext any,
) execmodel.IssueResult {
	if log == nil {
		log = logging.Noop
	}
	log = log.WithFields(map[string]any{"issue": issue.Name})

	var filesChanged []string
	seenFile := make(map[string]bool)
	var history []execmodel.IterationRecord
	feedback := ""

	for iteration := 1; iteration <= maxIterations; iteration++ {
		iterationID := fmt.Sprintf("%s-iter-%d", issue.Name, iteration)
		log.Infof("iteration %d starting", iteration)

		coder := runCoder(ctx, inv, targets, log, issue, worktreePath, feedback, iteration, iterationID, projectContext)
		for _, f := range coder.FilesChanged {
			if !seenFile[f] {
				seenFile[f] = true
				filesChanged = append(filesChanged, f)
			}
		}

		qa, review := runQAAndReviewer(ctx, inv, targets, log, issue, worktreePath, coder, iterationID)
		synth := runSynthesizer(ctx, inv, targets, log, qa, review, history, issue)

		history = append(history, execmodel.IterationRecord{
			Iteration:      iteration,
			Action:         string(synth.Action),
			Summary:        synth.Summary,
			QAPassed:       qa.Passed,
			ReviewApproved: review.Approved,
			ReviewBlocking: review.Blocking,
		})

		switch {
		case synth.Action == execmodel.SynthesisApprove:
			log.Infof("approved at iteration %d", iteration)
			return execmodel.IssueResult{
				IssueName:        issue.Name,
				Outcome:          execmodel.OutcomeCompleted,
				ResultSummary:    synth.Summary,
				Attempts:         iteration,
				FilesChanged:     filesChanged,
				IterationHistory: history,
			}
		case synth.Action == execmodel.SynthesisBlock:
			log.Warnf("blocked at iteration %d: %s", iteration, synth.Summary)
			return execmodel.IssueResult{
				IssueName:        issue.Name,
				Outcome:          execmodel.OutcomeFailedUnrecoverable,
				ErrorMessage:     synth.Summary,
				Attempts:         iteration,
				FilesChanged:     filesChanged,
				IterationHistory: history,
			}
		case synth.Stuck:
			log.Warnf("stuck loop detected at iteration %d: %s", iteration, synth.Summary)
			return execmodel.IssueResult{
				IssueName:        issue.Name,
				Outcome:          execmodel.OutcomeFailedUnrecoverable,
				ErrorMessage:     "Stuck loop detected: " + synth.Summary,
				Attempts:         iteration,
				FilesChanged:     filesChanged,
				IterationHistory: history,
			}
		default: // fix
			feedback = synth.Summary
		}
	}

	log.Warnf("coding loop exhausted after %d iterations", maxIterations)
	return execmodel.IssueResult{
		IssueName:        issue.Name,
		Outcome:          execmodel.OutcomeFailedUnrecoverable,
		ErrorMessage:     "coding loop exhausted",
		Attempts:         maxIterations,
		FilesChanged:     filesChanged,
		IterationHistory: history,
	}
}

func runCoder(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	issue execmodel.Issue,
	worktreePath, feedback string,
	iteration int,
	iterationID string,
	projectContext any,
) coderResult {
	var out coderResult
	req := coderRequest{
		Issue:          issue,
		WorktreePath:   worktreePath,
		Feedback:       feedback,
		Iteration:      iteration,
		IterationID:    iterationID,
		ProjectContext: projectContext,
	}
	if err := agentcall.CallInto(ctx, inv, targets.target(fnCoder), req, &out); err != nil {
		log.Warnf("coder call failed, falling back to empty change set: %v", err)
		return coderResult{FilesChanged: nil, Complete: false}
	}
	return out
}

// runQAAndReviewer invokes QA and the reviewer concurrently, joined by a
// barrier. Each side recovers its own panics into the documented fallback
// value rather than letting one crash take down the other — the same
// per-goroutine isolation the level-wide fan-out uses.
func runQAAndReviewer(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	issue execmodel.Issue,
	worktreePath string,
	coder coderResult,
	iterationID string,
) (qaResult, reviewerResult) {
	var wg sync.WaitGroup
	var qa qaResult
	var review reviewerResult

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("qa goroutine panicked: %v\n%s", r, debug.Stack())
				qa = qaResult{Passed: false}
			}
		}()
		req := qaRequest{WorktreePath: worktreePath, CoderResult: coder, Issue: issue, IterationID: iterationID}
		var res qaResult
		if err := agentcall.CallInto(ctx, inv, targets.target(fnQA), req, &res); err != nil {
			log.Warnf("qa call failed, falling back to passed=false: %v", err)
			qa = qaResult{Passed: false}
			return
		}
		qa = res
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("reviewer goroutine panicked: %v\n%s", r, debug.Stack())
				review = reviewerResult{Approved: true, Blocking: false}
			}
		}()
		req := reviewerRequest{WorktreePath: worktreePath, CoderResult: coder, Issue: issue}
		var res reviewerResult
		if err := agentcall.CallInto(ctx, inv, targets.target(fnReviewer), req, &res); err != nil {
			log.Warnf("reviewer call failed, falling back to approved=true (do not block on infrastructure): %v", err)
			review = reviewerResult{Approved: true, Blocking: false}
			return
		}
		review = res
	}()
	wg.Wait()

	return qa, review
}

func runSynthesizer(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	qa qaResult,
	review reviewerResult,
	history []execmodel.IterationRecord,
	issue execmodel.Issue,
) synthesizerResult {
	var out synthesizerResult
	req := synthesizerRequest{
		QAResult:         qa,
		ReviewResult:     review,
		IterationHistory: history,
		IssueSummary:     issue.Title,
	}
	if err := agentcall.CallInto(ctx, inv, targets.target(fnSynthesizer), req, &out); err != nil {
		log.Warnf("synthesizer call failed, applying fallback decision: %v", err)
		switch {
		case qa.Passed && review.Approved && !review.Blocking:
			return synthesizerResult{Action: execmodel.SynthesisApprove, Summary: "fallback: qa passed and review approved"}
		case review.Blocking:
			return synthesizerResult{Action: execmodel.SynthesisBlock, Summary: "fallback: reviewer flagged blocking issues"}
		default:
			return synthesizerResult{Action: execmodel.SynthesisFix, Summary: "fallback: synthesizer unavailable, requesting another pass"}
		}
	}
	return out
}
