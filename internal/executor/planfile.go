package executor

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/lucasnoah/dagforge/internal/execmodel"
	"github.com/lucasnoah/dagforge/internal/mergegate"
)

// planFile is the on-disk shape of a PlanInput, handed to this repo by the
// (out-of-scope) planning pipeline as a single JSON document. Every field
// mirrors PlanInput directly; this is the only place that JSON-decodes a
// plan, keeping PlanInput itself free of encoding tags it doesn't otherwise
// need.
type planFile struct {
	ArtifactsDir          string                   `json:"artifacts_dir"`
	RationaleSummary      string                   `json:"original_plan_summary"`
	PRDDescription        string                   `json:"prd_description"`
	PRDAcceptanceCriteria []string                 `json:"prd_acceptance_criteria"`
	ArchitectureSummary   string                   `json:"architecture_summary"`
	Issues                []execmodel.Issue        `json:"issues"`
	Levels                [][]string               `json:"levels"`
	FileConflicts         []mergegate.FileConflict `json:"file_conflicts"`
	Git                   *GitConfig               `json:"git,omitempty"`
}

// LoadPlanFile reads a PlanInput from the JSON file the planning pipeline
// wrote at the end of the PRD/architecture/sprint-plan stage.
func LoadPlanFile(path string) (PlanInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PlanInput{}, fmt.Errorf("executor: read plan file %s: %w", path, err)
	}
	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return PlanInput{}, fmt.Errorf("executor: parse plan file %s: %w", path, err)
	}
	return PlanInput{
		ArtifactsDir:          pf.ArtifactsDir,
		RationaleSummary:      pf.RationaleSummary,
		PRDDescription:        pf.PRDDescription,
		PRDAcceptanceCriteria: pf.PRDAcceptanceCriteria,
		ArchitectureSummary:   pf.ArchitectureSummary,
		Issues:                pf.Issues,
		Levels:                pf.Levels,
		FileConflicts:         pf.FileConflicts,
		Git:                   pf.Git,
	}, nil
}
