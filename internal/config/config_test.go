package config

import (
	"os"
	"path/filepath"
	"testing"
)

const validConfig = `
execution:
  repo_path: /repo
  artifacts_dir: .factory
  max_retries_per_issue: 2
  max_replans: 3
  enable_replanning: true
  max_coding_iterations: 4
  max_integration_test_retries: 2
  enable_integration_testing: true
  max_concurrent_issues: 4
  agent_timeout_seconds: 1200
  agent_max_turns: 80
  models:
    coder_model: opus
    qa_model: sonnet
`

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dagforge.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadOntoValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := LoadOnto(path)
	if err != nil {
		t.Fatalf("LoadOnto() error: %v", err)
	}

	if cfg.Execution.RepoPath != "/repo" {
		t.Errorf("RepoPath = %q, want %q", cfg.Execution.RepoPath, "/repo")
	}
	if cfg.Execution.MaxRetriesPerIssue != 2 {
		t.Errorf("MaxRetriesPerIssue = %d, want 2", cfg.Execution.MaxRetriesPerIssue)
	}
	if cfg.Execution.Models.Coder != "opus" {
		t.Errorf("Models.Coder = %q, want %q", cfg.Execution.Models.Coder, "opus")
	}
}

func TestLoadOntoKeepsBooleanDefaultsWhenOmitted(t *testing.T) {
	yaml := `
execution:
  repo_path: /repo
`
	path := writeTestConfig(t, yaml)
	cfg, err := LoadOnto(path)
	if err != nil {
		t.Fatalf("LoadOnto() error: %v", err)
	}
	if !cfg.Execution.EnableReplanning {
		t.Error("EnableReplanning should default to true when omitted")
	}
	if !cfg.Execution.EnableIntegrationTesting {
		t.Error("EnableIntegrationTesting should default to true when omitted")
	}
}

func TestLoadOntoAppliesNumericDefaults(t *testing.T) {
	yaml := `
execution:
  repo_path: /repo
`
	path := writeTestConfig(t, yaml)
	cfg, err := LoadOnto(path)
	if err != nil {
		t.Fatalf("LoadOnto() error: %v", err)
	}
	if cfg.Execution.MaxReplans != 2 {
		t.Errorf("MaxReplans = %d, want default 2", cfg.Execution.MaxReplans)
	}
	if cfg.Execution.MaxCodingIterations != 5 {
		t.Errorf("MaxCodingIterations = %d, want default 5", cfg.Execution.MaxCodingIterations)
	}
	if cfg.Execution.AgentTimeoutSeconds != 2700 {
		t.Errorf("AgentTimeoutSeconds = %d, want default 2700", cfg.Execution.AgentTimeoutSeconds)
	}
	if cfg.Execution.ArtifactsDir != ".factory" {
		t.Errorf("ArtifactsDir = %q, want default %q", cfg.Execution.ArtifactsDir, ".factory")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTestConfig(t, "not: [valid: yaml: !!!")
	_, err := LoadOnto(path)
	if err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	_, err := LoadOnto("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoadDefaultNotFound(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)

	_, err := LoadDefault()
	if err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestLoadDefaultFromCurrentDir(t *testing.T) {
	orig, _ := os.Getwd()
	dir := t.TempDir()
	os.Chdir(dir)
	defer os.Chdir(orig)

	content := `
execution:
  repo_path: /local
`
	os.WriteFile(filepath.Join(dir, "dagforge.yaml"), []byte(content), 0644)

	cfg, err := LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault() error: %v", err)
	}
	if cfg.Execution.RepoPath != "/local" {
		t.Errorf("RepoPath = %q, want %q", cfg.Execution.RepoPath, "/local")
	}
}

func TestValidateValidConfig(t *testing.T) {
	path := writeTestConfig(t, validConfig)
	cfg, err := LoadOnto(path)
	if err != nil {
		t.Fatalf("LoadOnto() error: %v", err)
	}

	errs := Validate(cfg)
	if len(errs) != 0 {
		t.Errorf("Validate() returned %d errors for valid config:", len(errs))
		for _, e := range errs {
			t.Errorf("  - %s", e)
		}
	}
}

func TestValidateMissingRepoPath(t *testing.T) {
	cfg := NewDefault()
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "execution.repo_path" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for missing execution.repo_path")
	}
}

func TestValidateZeroCodingIterations(t *testing.T) {
	cfg := NewDefault()
	cfg.Execution.RepoPath = "/repo"
	cfg.Execution.MaxCodingIterations = 0
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "execution.max_coding_iterations" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for zero max_coding_iterations")
	}
}

func TestValidateNegativeBudget(t *testing.T) {
	cfg := NewDefault()
	cfg.Execution.RepoPath = "/repo"
	bad := -5.0
	cfg.Execution.MaxBudgetUSD = &bad
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "execution.max_budget_usd" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for negative max_budget_usd")
	}
}

func TestValidateBackoffFactorTooLow(t *testing.T) {
	cfg := NewDefault()
	cfg.Execution.RepoPath = "/repo"
	cfg.Execution.Retry.BackoffFactor = 1.0
	errs := Validate(cfg)
	found := false
	for _, e := range errs {
		if e.Field == "execution.retry_backoff.backoff_factor" {
			found = true
		}
	}
	if !found {
		t.Error("expected validation error for backoff_factor <= 1.0")
	}
}
