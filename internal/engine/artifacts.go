package engine

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"lexmemo/backend/pkg/models"
)

// projectArtifacts folds the run's phase results, in append order, into the
// current artifact map. Later attempts of the same phase overwrite earlier
// ones; waiting results contribute nothing. Failed results still contribute
// their artifacts so that non-fatal degradation (for example an
// insufficient-grounding marker) flows downstream.
func projectArtifacts(run *models.WorkflowRun) map[string]interface{} {
	latest := make(map[int]*models.PhaseResult)
	order := make([]int, 0, len(run.Results))
	for i := range run.Results {
		res := &run.Results[i]
		if _, seen := latest[res.PhaseIndex]; !seen {
			order = append(order, res.PhaseIndex)
		}
		latest[res.PhaseIndex] = res
	}

	artifacts := make(map[string]interface{})
	for _, idx := range order {
		res := latest[idx]
		if res.Status == models.PhaseStatusWaiting {
			continue
		}
		for k, v := range res.Artifacts {
			artifacts[k] = v
		}
	}
	return artifacts
}

// filterArtifacts restricts the projection to the names a phase declares in
// Requires. Phases see only their declared inputs.
func filterArtifacts(all map[string]interface{}, names []string) map[string]interface{} {
	out := make(map[string]interface{}, len(names))
	for _, name := range names {
		if v, ok := all[name]; ok {
			out[name] = v
		}
	}
	return out
}

// missingArtifacts returns required artifact names absent from the projection.
func missingArtifacts(all map[string]interface{}, names []string) []string {
	var missing []string
	for _, name := range names {
		if _, ok := all[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// decodeArtifact decodes an artifact value into a typed destination. Values
// round-trip through JSON in the store, so decoding goes by json tag names.
func decodeArtifact(src, dst interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  dst,
	})
	if err != nil {
		return fmt.Errorf("failed to build artifact decoder: %w", err)
	}
	if err := dec.Decode(src); err != nil {
		return fmt.Errorf("failed to decode artifact: %w", err)
	}
	return nil
}

func authoritiesArtifact(artifacts map[string]interface{}, name string) ([]models.Authority, error) {
	raw, ok := artifacts[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var out []models.Authority
	if err := decodeArtifact(raw, &out); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", name, err)
	}
	return out, nil
}

func sourcesArtifact(artifacts map[string]interface{}, name string) ([]models.SourceChunk, error) {
	raw, ok := artifacts[name]
	if !ok || raw == nil {
		return nil, nil
	}
	var out []models.SourceChunk
	if err := decodeArtifact(raw, &out); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", name, err)
	}
	return out, nil
}

func issuesArtifact(artifacts map[string]interface{}) ([]models.Issue, error) {
	raw, ok := artifacts[ArtifactIssueTree]
	if !ok || raw == nil {
		return nil, nil
	}
	var out []models.Issue
	if err := decodeArtifact(raw, &out); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", ArtifactIssueTree, err)
	}
	return out, nil
}

func rulesArtifact(artifacts map[string]interface{}) ([]models.Rule, error) {
	raw, ok := artifacts[ArtifactRules]
	if !ok || raw == nil {
		return nil, nil
	}
	var out []models.Rule
	if err := decodeArtifact(raw, &out); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", ArtifactRules, err)
	}
	return out, nil
}

func applicationsArtifact(artifacts map[string]interface{}) ([]models.Application, error) {
	raw, ok := artifacts[ArtifactApplications]
	if !ok || raw == nil {
		return nil, nil
	}
	var out []models.Application
	if err := decodeArtifact(raw, &out); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", ArtifactApplications, err)
	}
	return out, nil
}

func memoArtifact(artifacts map[string]interface{}) (models.MemoDraft, error) {
	var out models.MemoDraft
	raw, ok := artifacts[ArtifactMemo]
	if !ok || raw == nil {
		return out, fmt.Errorf("artifact %s missing", ArtifactMemo)
	}
	if err := decodeArtifact(raw, &out); err != nil {
		return out, fmt.Errorf("artifact %s: %w", ArtifactMemo, err)
	}
	return out, nil
}

func intakeArtifact(artifacts map[string]interface{}) (map[string]interface{}, error) {
	raw, ok := artifacts[ArtifactIntake]
	if !ok || raw == nil {
		return nil, fmt.Errorf("artifact %s missing", ArtifactIntake)
	}
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("artifact %s has unexpected shape", ArtifactIntake)
	}
	return m, nil
}
