package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks an ExecutionFile for structural and semantic errors. It
// returns a slice of all validation errors found (empty if valid).
func Validate(cfg *ExecutionFile) []ValidationError {
	var errs []ValidationError
	e := cfg.Execution

	if e.RepoPath == "" {
		errs = append(errs, ValidationError{Field: "execution.repo_path", Message: "is required"})
	}
	if e.MaxRetriesPerIssue < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_retries_per_issue", Message: "must be >= 0"})
	}
	if e.MaxReplans < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_replans", Message: "must be >= 0"})
	}
	if e.MaxCodingIterations <= 0 {
		errs = append(errs, ValidationError{Field: "execution.max_coding_iterations", Message: "must be > 0"})
	}
	if e.MaxIntegrationTestRetries < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_integration_test_retries", Message: "must be >= 0"})
	}
	if e.MaxConcurrentIssues < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_concurrent_issues", Message: "must be >= 0 (0 means unbounded)"})
	}
	if e.AgentTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{Field: "execution.agent_timeout_seconds", Message: "must be > 0"})
	}
	if e.AgentMaxTurns <= 0 {
		errs = append(errs, ValidationError{Field: "execution.agent_max_turns", Message: "must be > 0"})
	}
	if e.MaxBudgetUSD != nil && *e.MaxBudgetUSD < 0 {
		errs = append(errs, ValidationError{Field: "execution.max_budget_usd", Message: "must be >= 0 when set"})
	}
	if e.Retry.BackoffFactor <= 1.0 {
		errs = append(errs, ValidationError{Field: "execution.retry_backoff.backoff_factor", Message: "must be > 1.0"})
	}
	if e.Retry.MaxAttempts <= 0 {
		errs = append(errs, ValidationError{Field: "execution.retry_backoff.max_attempts", Message: "must be > 0"})
	}
	if e.Retry.MaxDelayMS < e.Retry.InitialDelayMS {
		errs = append(errs, ValidationError{Field: "execution.retry_backoff.max_delay_ms", Message: "must be >= initial_delay_ms"})
	}

	return errs
}
