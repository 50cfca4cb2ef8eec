package codingloop

import (
	"context"
	"strings"
	"testing"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/execmodel"
)

func testIssue() execmodel.Issue {
	return execmodel.Issue{Name: "issue-a", Title: "Add feature A"}
}

func TestRunApprovesOnFirstIteration(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{FilesChanged: []string{"a.go"}, Summary: "wrote a.go", Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true, Summary: "all tests pass"})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true, Summary: "looks good"})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove, Summary: "ship it"})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed", result.Outcome)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if len(result.FilesChanged) != 1 || result.FilesChanged[0] != "a.go" {
		t.Errorf("FilesChanged = %v, want [a.go]", result.FilesChanged)
	}
	if len(result.IterationHistory) != 1 {
		t.Errorf("IterationHistory len = %d, want 1", len(result.IterationHistory))
	}
}

func TestRunFixesThenApproves(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{FilesChanged: []string{"a.go"}, Complete: false})
	inv.QueueResult(fnQA, qaResult{Passed: false, Summary: "one test fails"})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: false, Summary: "needs work"})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisFix, Summary: "fix the failing test"})

	inv.QueueResult(fnCoder, coderResult{FilesChanged: []string{"a.go", "b.go"}, Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove, Summary: "ship it"})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed", result.Outcome)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	want := []string{"a.go", "b.go"}
	if len(result.FilesChanged) != len(want) || result.FilesChanged[0] != want[0] || result.FilesChanged[1] != want[1] {
		t.Errorf("FilesChanged = %v, want union preserving first-seen order %v", result.FilesChanged, want)
	}
	if len(result.IterationHistory) != 2 {
		t.Errorf("IterationHistory len = %d, want 2", len(result.IterationHistory))
	}
}

func TestRunBlockReturnsFailedUnrecoverable(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: false})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: false, Blocking: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisBlock, Summary: "unsalvageable approach"})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeFailedUnrecoverable {
		t.Fatalf("Outcome = %q, want failed_unrecoverable", result.Outcome)
	}
	if result.ErrorMessage != "unsalvageable approach" {
		t.Errorf("ErrorMessage = %q, want synthesizer summary verbatim", result.ErrorMessage)
	}
}

func TestRunStuckReturnsFailedUnrecoverableWithPrefix(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: false})
	inv.QueueResult(fnQA, qaResult{Passed: false})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: false})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisFix, Summary: "same fix as before", Stuck: true})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeFailedUnrecoverable {
		t.Fatalf("Outcome = %q, want failed_unrecoverable", result.Outcome)
	}
	if !strings.HasPrefix(result.ErrorMessage, "Stuck loop detected: ") {
		t.Errorf("ErrorMessage = %q, want the stuck-loop prefix", result.ErrorMessage)
	}
}

func TestRunExhaustsIterationsWithoutApproval(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	for i := 0; i < 3; i++ {
		inv.QueueResult(fnCoder, coderResult{Complete: false})
		inv.QueueResult(fnQA, qaResult{Passed: false})
		inv.QueueResult(fnReviewer, reviewerResult{Approved: false})
		inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisFix, Summary: "keep trying"})
	}

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 3, nil)

	if result.Outcome != execmodel.OutcomeFailedUnrecoverable {
		t.Fatalf("Outcome = %q, want failed_unrecoverable", result.Outcome)
	}
	if result.ErrorMessage != "coding loop exhausted" {
		t.Errorf("ErrorMessage = %q, want exhaustion message", result.ErrorMessage)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want max_iterations (3)", result.Attempts)
	}
	if len(result.IterationHistory) != 3 {
		t.Errorf("IterationHistory len = %d, want 3", len(result.IterationHistory))
	}
}

func TestRunCoderFailureFallsBackToEmptyChangeSet(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueError(fnCoder, errBoom("coder crashed"))
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if len(result.FilesChanged) != 0 {
		t.Errorf("FilesChanged = %v, want empty after coder failure", result.FilesChanged)
	}
}

func TestRunQAFailureFallsBackToNotPassed(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueError(fnQA, errBoom("qa infra down"))
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisFix, Summary: "qa failed so keep going"})
	// Second iteration to observe the recorded qa_passed=false from iteration 1.
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.IterationHistory[0].QAPassed {
		t.Error("iteration 1 QAPassed should be false after a QA call failure")
	}
}

func TestRunReviewerFailureFallsBackToApprovedNotBlocking(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueError(fnReviewer, errBoom("reviewer infra down"))
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if !result.IterationHistory[0].ReviewApproved {
		t.Error("reviewer failure should fall back to approved=true (do not block on infrastructure)")
	}
	if result.IterationHistory[0].ReviewBlocking {
		t.Error("reviewer failure should fall back to blocking=false")
	}
}

func TestRunSynthesizerFailureFallsBackToApproveWhenCleanPass(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true, Blocking: false})
	inv.QueueError(fnSynthesizer, errBoom("synthesizer infra down"))

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeCompleted {
		t.Fatalf("Outcome = %q, want completed (qa passed, review approved, not blocking)", result.Outcome)
	}
}

func TestRunSynthesizerFailureFallsBackToBlockWhenReviewerBlocking(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: false})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: false, Blocking: true})
	inv.QueueError(fnSynthesizer, errBoom("synthesizer infra down"))

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Outcome != execmodel.OutcomeFailedUnrecoverable {
		t.Fatalf("Outcome = %q, want failed_unrecoverable (reviewer blocking)", result.Outcome)
	}
}

func TestRunSynthesizerFailureFallsBackToFixOtherwise(t *testing.T) {
	inv := agentcall.NewScriptedInvoker()
	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: false})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true, Blocking: false})
	inv.QueueError(fnSynthesizer, errBoom("synthesizer infra down"))

	inv.QueueResult(fnCoder, coderResult{Complete: true})
	inv.QueueResult(fnQA, qaResult{Passed: true})
	inv.QueueResult(fnReviewer, reviewerResult{Approved: true})
	inv.QueueResult(fnSynthesizer, synthesizerResult{Action: execmodel.SynthesisApprove})

	result := Run(context.Background(), inv, Targets{}, nil, testIssue(), "/work/a", 5, nil)

	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2 (synthesizer fallback should be fix, not a terminal outcome)", result.Attempts)
	}
}

func TestTargetsPrefixesNodeID(t *testing.T) {
	targets := Targets{NodeID: "swe-planner"}
	if got := targets.target(fnCoder); got != "swe-planner.run_coder" {
		t.Errorf("target(run_coder) = %q, want swe-planner.run_coder", got)
	}

	bare := Targets{}
	if got := bare.target(fnCoder); got != fnCoder {
		t.Errorf("target(run_coder) with empty NodeID = %q, want bare function name", got)
	}
}

type errBoom string

func (e errBoom) Error() string { return string(e) }
