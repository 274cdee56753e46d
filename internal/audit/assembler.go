// Package audit assembles the exportable audit bundle of a run and renders
// it. Assembly reads only persisted run state, so assembling the same run
// twice yields identical bundles.
package audit

import (
	"errors"
	"fmt"
	"sort"

	"github.com/mitchellh/mapstructure"

	"lexmemo/backend/pkg/models"
)

// ErrGateNotPassed is returned when assembly is requested for a run whose
// verification phase has not passed. The bundle exists only past the gate.
var ErrGateNotPassed = errors.New("verification gate has not passed for this run")

// Input carries the decoded run state the assembler works from.
type Input struct {
	Run         *models.WorkflowRun
	Intake      map[string]interface{}
	Memo        models.MemoDraft
	Authorities []models.Authority
	IssueTree   []models.Issue
	Rules       []models.Rule
	Sources     []models.SourceChunk
	Checks      []models.VerificationTestResult
}

// Assemble builds the audit bundle. Citations are ordered by token and
// sources by chunk id so repeated assembly is deterministic.
func Assemble(in Input) (*models.AuditBundle, error) {
	if !gatePassed(in.Checks) {
		return nil, ErrGateNotPassed
	}

	citations := make([]models.Citation, len(in.Memo.Citations))
	copy(citations, in.Memo.Citations)
	sort.Slice(citations, func(i, j int) bool { return citations[i].Token < citations[j].Token })

	sources := make([]models.SourceChunk, len(in.Sources))
	copy(sources, in.Sources)
	sort.Slice(sources, func(i, j int) bool { return sources[i].ChunkID < sources[j].ChunkID })

	return &models.AuditBundle{
		RunID:             in.Run.ID,
		MatterID:          in.Run.MatterID,
		DefinitionID:      in.Run.DefinitionID,
		DefinitionVersion: in.Run.DefinitionVersion,
		Intake:            in.Intake,
		Memo:              in.Memo,
		Authorities:       in.Authorities,
		IssueTree:         in.IssueTree,
		Rules:             in.Rules,
		Sources:           sources,
		Citations:         citations,
		Checks:            in.Checks,
		PhaseHistory:      in.Run.Results,
		CreatedAt:         in.Run.CreatedAt,
		FinishedAt:        in.Run.FinishedAt,
	}, nil
}

// FromRun decodes a persisted run's artifacts and assembles the bundle. It is
// the path used by exports outside the engine (API, CLI, MCP), where only the
// stored run is at hand.
func FromRun(run *models.WorkflowRun, artifactNames ArtifactNames) (*models.AuditBundle, error) {
	artifacts := make(map[string]interface{})
	for i := range run.Results {
		res := run.Results[i]
		if res.Status == models.PhaseStatusWaiting {
			continue
		}
		for k, v := range res.Artifacts {
			artifacts[k] = v
		}
	}

	in := Input{Run: run}

	if raw, ok := artifacts[artifactNames.Intake]; ok {
		if m, ok := raw.(map[string]interface{}); ok {
			in.Intake = m
		}
	}
	if in.Intake == nil {
		in.Intake = run.Intake
	}

	if err := decode(artifacts[artifactNames.Memo], &in.Memo); err != nil {
		return nil, fmt.Errorf("failed to decode memo artifact: %w", err)
	}
	if err := decode(artifacts[artifactNames.Authorities], &in.Authorities); err != nil {
		return nil, fmt.Errorf("failed to decode authorities artifact: %w", err)
	}
	if err := decode(artifacts[artifactNames.IssueTree], &in.IssueTree); err != nil {
		return nil, fmt.Errorf("failed to decode issue tree artifact: %w", err)
	}
	if err := decode(artifacts[artifactNames.Rules], &in.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules artifact: %w", err)
	}
	if err := decode(artifacts[artifactNames.Checks], &in.Checks); err != nil {
		return nil, fmt.Errorf("failed to decode verification artifact: %w", err)
	}
	for _, name := range artifactNames.Sources {
		var chunks []models.SourceChunk
		if err := decode(artifacts[name], &chunks); err != nil {
			return nil, fmt.Errorf("failed to decode source artifact %s: %w", name, err)
		}
		in.Sources = append(in.Sources, chunks...)
	}

	return Assemble(in)
}

// ArtifactNames tells FromRun which artifact keys carry each bundle section.
type ArtifactNames struct {
	Intake      string
	Memo        string
	Authorities string
	IssueTree   string
	Rules       string
	Checks      string
	Sources     []string
}

func gatePassed(checks []models.VerificationTestResult) bool {
	if len(checks) == 0 {
		return false
	}
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func decode(src, dst interface{}) error {
	if src == nil {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  dst,
	})
	if err != nil {
		return err
	}
	return dec.Decode(src)
}
