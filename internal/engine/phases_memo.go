package engine

import (
	"context"
	"fmt"
	"strings"

	"lexmemo/backend/internal/audit"
	"lexmemo/backend/internal/verification"
	"lexmemo/backend/pkg/models"
)

// runDrafting asks the generator for the memo and builds the citation map.
// Token assignment happens here, before generation: each rule gets a bracket
// token, the prompt instructs the generator to cite with those tokens, and
// the map records token -> chunk. The adverse authority section is appended
// deterministically when any negative treatment exists, so disclosure never
// depends on the generator.
func (e *Engine) runDrafting(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	issues, err := issuesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	rules, err := rulesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	applications, err := applicationsArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactValidatedAuthorities)
	if err != nil {
		return nil, err
	}

	format := models.StringValue(intake["memo_format"])
	if format == "" {
		format = "IRAC"
	}

	citations := make([]models.Citation, 0, len(rules))
	var ruleList strings.Builder
	for i, r := range rules {
		token := i + 1
		citations = append(citations, models.Citation{Token: token, ChunkID: r.ChunkID, Quote: r.Quote})
		fmt.Fprintf(&ruleList, "[%d] %s (%s): %q\n", token, r.ID, r.AuthorityName, r.Quote)
	}

	var appList strings.Builder
	for _, a := range applications {
		fmt.Fprintf(&appList, "Issue %s (%s):\n", a.IssueID, a.Element)
		for _, m := range a.FactMapping {
			fmt.Fprintf(&appList, "  - %s\n", m)
		}
		for _, g := range a.Gaps {
			fmt.Fprintf(&appList, "  - gap: %s\n", g)
		}
	}

	var issueList strings.Builder
	for _, issue := range issues {
		fmt.Fprintf(&issueList, "- %s\n", issue.Element)
	}

	prompt := fmt.Sprintf(`Draft a %s-format legal research memo in markdown.

Question: %s
Jurisdictions: %s
Known facts: %s

Issues:
%s
Rules (cite each only by its bracket token, exactly as numbered):
%s
Conditional applications:
%s
Requirements:
- Support every legal proposition with a bracket-token citation from the list. Never invent a token.
- Use conditional framing (if, assuming, to the extent) throughout; never predict who will win or lose.
- State open factual gaps and uncertainties explicitly.`,
		format,
		models.StringValue(intake["research_question"]),
		strings.Join(models.StringSlice(intake["jurisdictions"]), ", "),
		models.StringValue(intake["known_facts"]),
		issueList.String(),
		ruleList.String(),
		appList.String())

	text, err := e.generator.Complete(ctx, prompt, nil)
	if err != nil {
		return nil, wrapPhaseErr(pc.spec.Name, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &PhaseError{Phase: pc.spec.Name, Err: fmt.Errorf("generator returned an empty memo")}
	}

	memo := models.MemoDraft{
		Text:      text,
		Format:    format,
		Citations: citations,
	}
	memo = ensureAdverseSection(memo, authorities, citations)

	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactMemo: memo},
		Logs:      []string{fmt.Sprintf("memo drafted (%s, %d citation tokens)", format, len(citations))},
	}, nil
}

// ensureAdverseSection appends the disclosure section when negative treatment
// exists and the draft lacks one.
func ensureAdverseSection(memo models.MemoDraft, authorities []models.Authority, citations []models.Citation) models.MemoDraft {
	var negative []models.Authority
	for _, a := range authorities {
		if a.Status == models.StatusNegative {
			negative = append(negative, a)
		}
	}
	if len(negative) == 0 {
		memo.HasAdverseSection = strings.Contains(strings.ToLower(memo.Text), "adverse authority")
		return memo
	}

	lower := strings.ToLower(memo.Text)
	if strings.Contains(lower, "adverse authority") || strings.Contains(lower, "negative treatment") {
		memo.HasAdverseSection = true
		return memo
	}

	tokenByChunk := make(map[string]int, len(citations))
	for _, c := range citations {
		tokenByChunk[c.ChunkID] = c.Token
	}

	var b strings.Builder
	b.WriteString(memo.Text)
	b.WriteString("\n\n## Adverse Authority\n\n")
	b.WriteString("The reviewed documents reflect negative treatment of the following authorities. They are disclosed here and not relied on as controlling support.\n\n")
	for _, a := range negative {
		fmt.Fprintf(&b, "- %s (%s): negative treatment found in the reviewed documents", a.Name, a.Jurisdiction)
		for _, ev := range a.EvidenceIDs {
			if tok, ok := tokenByChunk[ev]; ok {
				fmt.Fprintf(&b, " [%d]", tok)
			}
		}
		b.WriteString(".\n")
	}
	memo.Text = b.String()
	memo.HasAdverseSection = true
	return memo
}

// runVerification assembles the gate input from persisted phase artifacts and
// runs the gate. Failure is always fatal and carries the correction plan.
func (e *Engine) runVerification(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	memo, err := memoArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactValidatedAuthorities)
	if err != nil {
		return nil, err
	}
	rules, err := rulesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	sources, err := gatherSources(pc.artifacts)
	if err != nil {
		return nil, err
	}

	passed, results := e.gate.Verify(verification.Input{
		Memo:          memo,
		Authorities:   authorities,
		Rules:         rules,
		Sources:       sources,
		Jurisdictions: models.StringSlice(intake["jurisdictions"]),
		RetrievedIDs:  pc.run.SourceIDSet(pc.spec.Index),
	})

	out := &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactVerificationResults: results,
			ArtifactVerificationPassed:  passed,
		},
		Logs: []string{fmt.Sprintf("verification gate: %d checks run, passed=%t", len(results), passed)},
	}
	if !passed {
		return out, &VerificationFailure{Plan: verification.BuildCorrectionPlan(results)}
	}
	return out, nil
}

// runExport assembles the audit bundle from the run's persisted artifacts.
func (e *Engine) runExport(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	memo, err := memoArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactValidatedAuthorities)
	if err != nil {
		return nil, err
	}
	issues, err := issuesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	rules, err := rulesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	sources, err := gatherSources(pc.artifacts)
	if err != nil {
		return nil, err
	}

	var checks []models.VerificationTestResult
	if err := decodeArtifact(pc.artifacts[ArtifactVerificationResults], &checks); err != nil {
		return nil, fmt.Errorf("artifact %s: %w", ArtifactVerificationResults, err)
	}

	bundle, err := audit.Assemble(audit.Input{
		Run:         pc.run,
		Intake:      intake,
		Memo:        memo,
		Authorities: authorities,
		IssueTree:   issues,
		Rules:       rules,
		Sources:     sources,
		Checks:      checks,
	})
	if err != nil {
		return nil, &PhaseError{Phase: pc.spec.Name, Err: err}
	}

	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactAuditBundle: bundle},
		Logs:      []string{fmt.Sprintf("audit bundle assembled with %d phases of history", len(bundle.PhaseHistory))},
	}, nil
}

func gatherSources(artifacts map[string]interface{}) ([]models.SourceChunk, error) {
	var all []models.SourceChunk
	for _, name := range []string{ArtifactAuthoritySources, ArtifactCaseSources, ArtifactValidationSources} {
		chunks, err := sourcesArtifact(artifacts, name)
		if err != nil {
			return nil, err
		}
		all = append(all, chunks...)
	}
	return all, nil
}
