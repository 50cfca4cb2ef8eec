// Package retryadvisor wraps execution of a single issue by an external
// execute function — anything other than the built-in coding loop in
// internal/codingloop — with AI-driven retry guidance on failure.
// Grounded on the reference execution engine's _execute_single_issue.
package retryadvisor

import (
	"context"
	"fmt"

	"github.com/lucasnoah/dagforge/internal/agentcall"
	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/logging"
)

// ExecuteFunc runs one attempt at an issue and either returns a terminal
// IssueResult or an error representing an exception that occurred during
// execution. Attempts is overwritten by Execute on a successful return; the
// caller's Attempts value, if any, is ignored.
type ExecuteFunc func(ctx context.Context, issue execmodel.Issue, state execmodel.DAGState) (execmodel.IssueResult, error)

// Targets names the retry-advisor agent endpoint.
type Targets struct {
	NodeID string
}

func (t Targets) target(fn string) string {
	if t.NodeID == "" {
		return fn
	}
	return t.NodeID + "." + fn
}

const fnRetryAdvisor = "run_retry_advisor"

type adviceRequest struct {
	Issue               execmodel.Issue `json:"issue"`
	ErrorMessage        string          `json:"error_message"`
	ErrorContext        string          `json:"error_context"`
	AttemptNumber       int             `json:"attempt_number"`
	RepoPath            string          `json:"repo_path"`
	PRDSummary          string          `json:"prd_summary"`
	ArchitectureSummary string          `json:"architecture_summary"`
	Model               string          `json:"model,omitempty"`
}

type advice struct {
	ShouldRetry     bool    `json:"should_retry"`
	Diagnosis       string  `json:"diagnosis"`
	Strategy        string  `json:"strategy"`
	ModifiedContext string  `json:"modified_context"`
	Confidence      float64 `json:"confidence"`
}

// Execute runs execFn for issue, retrying up to cfg.MaxRetriesPerIssue
// additional times (so MaxRetriesPerIssue+1 attempts total) on error,
// consulting the retry advisor agent between attempts to decide whether
// retrying is worthwhile and, if so, with what additional guidance. If the
// advisor itself fails, Execute falls back to one more blind retry with no
// injected guidance, exactly as it would without an advisor available.
func Execute(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	log logging.Logger,
	issue execmodel.Issue,
	state execmodel.DAGState,
	cfg execmodel.ExecutionConfig,
	execFn ExecuteFunc,
) execmodel.IssueResult {
	if log == nil {
		log = logging.Noop
	}
	log = log.WithFields(map[string]any{"issue": issue.Name})

	current := issue
	var lastErr, lastContext string
	maxAttempts := cfg.MaxRetriesPerIssue + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result, err := execFn(ctx, current, state)
		if err == nil {
			result.IssueName = issue.Name
			result.Attempts = attempt
			return result
		}

		lastErr = err.Error()
		lastContext = fmt.Sprintf("%+v", err)
		log.Warnf("attempt %d failed: %v", attempt, err)

		if attempt == maxAttempts {
			break
		}

		adv, advErr := invokeAdvisor(ctx, inv, targets, current, lastErr, lastContext, attempt, state, cfg)
		if advErr != nil {
			log.Warnf("retry advisor call failed, falling back to blind retry: %v", advErr)
			continue
		}
		if !adv.ShouldRetry {
			log.Infof("retry advisor recommends not retrying: %s", adv.Diagnosis)
			break
		}

		enriched := current.Clone()
		enriched.RetryContext = adv.ModifiedContext
		enriched.PreviousError = lastErr
		enriched.RetryDiagnosis = adv.Diagnosis
		current = enriched
	}

	return execmodel.IssueResult{
		IssueName:    issue.Name,
		Outcome:      execmodel.OutcomeFailedUnrecoverable,
		ErrorMessage: lastErr,
		ErrorContext: lastContext,
		Attempts:     maxAttempts,
	}
}

func invokeAdvisor(
	ctx context.Context,
	inv agentcall.Invoker,
	targets Targets,
	issue execmodel.Issue,
	errMsg, errCtx string,
	attempt int,
	state execmodel.DAGState,
	cfg execmodel.ExecutionConfig,
) (advice, error) {
	req := adviceRequest{
		Issue:               issue,
		ErrorMessage:        errMsg,
		ErrorContext:        errCtx,
		AttemptNumber:       attempt,
		RepoPath:            state.RepoPath,
		PRDSummary:          state.PRDSummary,
		ArchitectureSummary: state.ArchitectureSummary,
		Model:               cfg.RetryAdvisorModel,
	}
	var out advice
	if err := agentcall.CallInto(ctx, inv, targets.target(fnRetryAdvisor), req, &out); err != nil {
		return advice{}, err
	}
	return out, nil
}
