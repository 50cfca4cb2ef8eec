package config

// ExecutionFile is the top-level configuration structure parsed from the
// executor's YAML config file.
type ExecutionFile struct {
	Execution Execution `yaml:"execution"`
}

// Execution holds every tunable recognized by the DAG executor. Field names
// mirror the snake_case YAML keys from the configuration table; defaults are
// applied by applyDefaults after unmarshalling.
type Execution struct {
	RepoPath     string `yaml:"repo_path"`
	ArtifactsDir string `yaml:"artifacts_dir"`
	AgentCommand string `yaml:"agent_command"`

	MaxRetriesPerIssue        int  `yaml:"max_retries_per_issue"`
	MaxReplans                int  `yaml:"max_replans"`
	EnableReplanning          bool `yaml:"enable_replanning"`
	MaxCodingIterations       int  `yaml:"max_coding_iterations"`
	MaxIntegrationTestRetries int  `yaml:"max_integration_test_retries"`
	EnableIntegrationTesting  bool `yaml:"enable_integration_testing"`
	MaxConcurrentIssues       int  `yaml:"max_concurrent_issues"`
	EnableGitHubPR            bool `yaml:"enable_github_pr"`

	AgentTimeoutSeconds int `yaml:"agent_timeout_seconds"`
	AgentMaxTurns       int `yaml:"agent_max_turns"`

	MaxBudgetUSD *float64 `yaml:"max_budget_usd"`

	Models ModelConfig `yaml:"models"`

	Retry BackoffConfig `yaml:"retry_backoff"`
}

// ModelConfig names the model identifier passed through to each agent
// target. An empty field means "let the agent endpoint pick its default".
type ModelConfig struct {
	Coder              string `yaml:"coder_model"`
	QA                 string `yaml:"qa_model"`
	CodeReviewer       string `yaml:"code_reviewer_model"`
	QASynthesizer      string `yaml:"qa_synthesizer_model"`
	RetryAdvisor       string `yaml:"retry_advisor_model"`
	Replan             string `yaml:"replan_model"`
	IssueWriter        string `yaml:"issue_writer_model"`
	Merger             string `yaml:"merger_model"`
	IntegrationTester  string `yaml:"integration_tester_model"`
}

// BackoffConfig tunes the agent invoker's exponential-backoff retry policy
// for transient errors.
type BackoffConfig struct {
	InitialDelayMS int     `yaml:"initial_delay_ms"`
	MaxDelayMS     int     `yaml:"max_delay_ms"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
	MaxAttempts    int     `yaml:"max_attempts"`
}
