// Package codingloop implements the inner per-issue loop: coder, then QA
// and the code reviewer in parallel, then a synthesizer that decides
// whether to fix, approve, or block — grounded on the reference execution
// engine's run_coding_loop and generalized onto the same goroutine/
// WaitGroup/panic-recovery fan-out pattern used for the level-wide
// executor.
package codingloop

import "github.com/lucasnoah/dagforge/internal/execmodel"

// Targets names the agent endpoints this loop invokes. NodeID, when set,
// is prefixed onto each function name as "<node_id>.<function>" per the
// agent endpoint addressing convention; left empty, the bare function name
// is used directly.
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
	fnCoder        = "run_coder"
	fnQA           = "run_qa"
	fnReviewer     = "run_code_reviewer"
	fnSynthesizer  = "run_qa_synthesizer"
)

type coderRequest struct {
	Issue          execmodel.Issue `json:"issue"`
	WorktreePath   string          `json:"worktree_path"`
	Feedback       string          `json:"feedback"`
	Iteration      int             `json:"iteration"`
	IterationID    string          `json:"iteration_id"`
	ProjectContext any             `json:"project_context,omitempty"`
}

type coderResult struct {
	FilesChanged []string `json:"files_changed"`
	Summary      string   `json:"summary"`
	Complete     bool     `json:"complete"`
	TestsPassed  *bool    `json:"tests_passed,omitempty"`
	TestSummary  string   `json:"test_summary,omitempty"`
}

type qaRequest struct {
	WorktreePath string          `json:"worktree_path"`
	CoderResult  coderResult     `json:"coder_result"`
	Issue        execmodel.Issue `json:"issue"`
	IterationID  string          `json:"iteration_id"`
}

type qaResult struct {
	Passed       bool     `json:"passed"`
	Summary      string   `json:"summary"`
	TestFailures []string `json:"test_failures,omitempty"`
	CoverageGaps []string `json:"coverage_gaps,omitempty"`
}

type reviewerRequest struct {
	WorktreePath string          `json:"worktree_path"`
	CoderResult  coderResult     `json:"coder_result"`
	Issue        execmodel.Issue `json:"issue"`
}

type reviewerResult struct {
	Approved  bool     `json:"approved"`
	Summary   string   `json:"summary"`
	Blocking  bool     `json:"blocking"`
	DebtItems []string `json:"debt_items,omitempty"`
}

type synthesizerRequest struct {
	QAResult        qaResult                   `json:"qa_result"`
	ReviewResult    reviewerResult             `json:"review_result"`
	IterationHistory []execmodel.IterationRecord `json:"iteration_history"`
	IssueSummary    string                     `json:"issue_summary"`
}

type synthesizerResult struct {
	Action  execmodel.SynthesisAction `json:"action"`
	Summary string                    `json:"summary"`
	Stuck   bool                      `json:"stuck"`
}
