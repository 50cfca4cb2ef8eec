package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads and parses an execution configuration from the given YAML file
// path onto NewDefault(), so omitted booleans keep their true defaults, then
// applies defaults to any numeric or string field the file left at its zero
// value.
func Load(path string) (*ExecutionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}

// LoadDefault searches for an execution config in standard locations and
// loads the first one found. Search order: ./dagforge.yaml, ~/.dagforge/config.yaml.
func LoadDefault() (*ExecutionFile, error) {
	candidates := []string{"dagforge.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".dagforge", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return nil, fmt.Errorf("no execution config found (searched: %v)", candidates)
}

// applyDefaults fills in the documented default for every field the YAML
// file left at its zero value. Booleans that default to true (EnableReplanning,
// EnableIntegrationTesting) are handled by the caller setting them explicitly
// in the file when the default true is not wanted — YAML has no "unset bool"
// so ExecutionFile readers should treat an absent execution block as "use
// NewDefault()" rather than relying on applyDefaults to flip false->true.
func applyDefaults(cfg *ExecutionFile) {
	e := &cfg.Execution

	if e.ArtifactsDir == "" {
		e.ArtifactsDir = ".factory"
	}
	if e.AgentCommand == "" {
		e.AgentCommand = "claude"
	}
	if e.MaxRetriesPerIssue == 0 {
		e.MaxRetriesPerIssue = 1
	}
	if e.MaxReplans == 0 {
		e.MaxReplans = 2
	}
	if e.MaxCodingIterations == 0 {
		e.MaxCodingIterations = 5
	}
	if e.MaxIntegrationTestRetries == 0 {
		e.MaxIntegrationTestRetries = 1
	}
	if e.AgentTimeoutSeconds == 0 {
		e.AgentTimeoutSeconds = 2700
	}
	if e.AgentMaxTurns == 0 {
		e.AgentMaxTurns = 150
	}
	if e.Retry.InitialDelayMS == 0 {
		e.Retry.InitialDelayMS = 500
	}
	if e.Retry.MaxDelayMS == 0 {
		e.Retry.MaxDelayMS = 30_000
	}
	if e.Retry.BackoffFactor == 0 {
		e.Retry.BackoffFactor = 2.0
	}
	if e.Retry.MaxAttempts == 0 {
		e.Retry.MaxAttempts = 5
	}
}

// NewDefault returns an ExecutionFile with every field at its documented
// default, including the booleans that default to true. Callers loading a
// user file should start from this and unmarshal over it so that omitted
// boolean fields keep their true default instead of collapsing to false.
func NewDefault() *ExecutionFile {
	cfg := &ExecutionFile{
		Execution: Execution{
			EnableReplanning:         true,
			EnableIntegrationTesting: true,
		},
	}
	applyDefaults(cfg)
	return cfg
}

// LoadOnto reads path and unmarshals it onto a copy of NewDefault(), so that
// booleans omitted from the file keep their true defaults rather than being
// reset to Go's zero value.
func LoadOnto(path string) (*ExecutionFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := NewDefault()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(cfg)
	return cfg, nil
}
