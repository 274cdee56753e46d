package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"lexmemo/backend/pkg/models"
)

// negativeTreatmentTerms are the signals the validation phase scans retrieved
// text for. A match near an authority name marks it negative treatment.
var negativeTreatmentTerms = []string{
	"overruled", "abrogated", "superseded", "reversed", "vacated",
	"disapproved", "called into doubt", "no longer good law",
}

// runIntake locks the research question, scope, and factual assumptions from
// the validated intake payload. No collaborator calls.
func (e *Engine) runIntake(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake := pc.run.Intake

	question := models.StringValue(intake["research_question"])
	jurisdictions := models.StringSlice(intake["jurisdictions"])
	facts := models.StringValue(intake["known_facts"])

	locked := map[string]interface{}{
		"research_question":       question,
		"jurisdictions":           jurisdictions,
		"court_level":             models.StringValue(intake["court_level"]),
		"matter_posture":          models.StringValue(intake["matter_posture"]),
		"known_facts":             facts,
		"adverse_party_arguments": models.StringValue(intake["adverse_party_arguments"]),
		"memo_format":             models.StringValue(intake["memo_format"]),
	}

	var questions []string
	if len(strings.Fields(facts)) < 30 {
		questions = append(questions, "The factual record is thin; identify the transactions, dates, and parties material to the question.")
	}
	if models.StringValue(intake["adverse_party_arguments"]) == "" {
		questions = append(questions, "No adverse party arguments were provided; confirm whether opposing positions are known.")
	}
	locked["clarifying_questions"] = questions
	locked["assumptions"] = []string{
		"Analysis is limited to the uploaded document corpus.",
		fmt.Sprintf("Controlling law is limited to: %s.", strings.Join(jurisdictions, ", ")),
	}

	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactIntake: locked},
		Logs:      []string{fmt.Sprintf("intake locked for %d jurisdictions", len(jurisdictions))},
	}, nil
}

// runGrounding retrieves statutes, rules, and doctrines and extracts
// authority candidates. Zero retrieval is not fatal: it produces an explicit
// insufficient-grounding marker and the run continues degraded.
func (e *Engine) runGrounding(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	question := models.StringValue(intake["research_question"])
	query := fmt.Sprintf("statutes rules doctrines governing: %s (%s)",
		question, strings.Join(models.StringSlice(intake["jurisdictions"]), ", "))

	degraded := &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactAuthorities:           []models.Authority{},
			ArtifactAuthoritySources:      []models.SourceChunk{},
			ArtifactInsufficientGrounding: true,
		},
	}

	chunks, err := e.retriever.Search(ctx, query, e.opts.GroundingTopK)
	if err != nil {
		if isTimeout(err) {
			return degraded, err
		}
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: err}
	}
	if len(chunks) == 0 {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: errors.New("no grounding sources retrieved")}
	}

	prompt := authorityExtractionPrompt(question, "statutes, procedural rules, regulations, and doctrines", chunks)
	raw, err := e.generator.Complete(ctx, prompt, chunks)
	if err != nil {
		if isTimeout(err) {
			return degraded, err
		}
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: err}
	}

	var candidates []models.Authority
	if err := parseJSONPayload(raw, &candidates); err != nil {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: fmt.Errorf("authority extraction unparseable: %w", err)}
	}

	authorities, dropped := groundCandidates(candidates, chunks, "auth")

	out := &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactAuthorities:      authorities,
			ArtifactAuthoritySources: chunks,
		},
		Logs:      []string{fmt.Sprintf("%d authorities grounded, %d candidates dropped without verbatim support", len(authorities), dropped)},
		SourceIDs: chunkIDs(chunks),
	}
	if len(authorities) == 0 {
		out.Artifacts[ArtifactInsufficientGrounding] = true
		return out, &PhaseError{Phase: pc.spec.Name, Err: errors.New("no authority candidate survived grounding")}
	}
	return out, nil
}

// runCaseLaw retrieves case law interpreting the grounded authorities.
func (e *Engine) runCaseLaw(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactAuthorities)
	if err != nil {
		return nil, err
	}

	question := models.StringValue(intake["research_question"])
	var names []string
	for _, a := range authorities {
		names = append(names, a.Name)
	}
	query := fmt.Sprintf("case law applying %s to: %s", strings.Join(names, "; "), question)

	degraded := &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactCaseAuthorities: []models.Authority{},
			ArtifactCaseSources:     []models.SourceChunk{},
		},
	}

	chunks, err := e.retriever.Search(ctx, query, e.opts.CaseLawTopK)
	if err != nil {
		if isTimeout(err) {
			return degraded, err
		}
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: err}
	}
	if len(chunks) == 0 {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: errors.New("no case law retrieved")}
	}

	prompt := authorityExtractionPrompt(question, "judicial decisions, with court and year where stated", chunks)
	raw, err := e.generator.Complete(ctx, prompt, chunks)
	if err != nil {
		if isTimeout(err) {
			return degraded, err
		}
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: err}
	}

	var candidates []models.Authority
	if err := parseJSONPayload(raw, &candidates); err != nil {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: fmt.Errorf("case extraction unparseable: %w", err)}
	}
	for i := range candidates {
		candidates[i].Kind = models.AuthorityKindCase
	}

	cases, dropped := groundCandidates(candidates, chunks, "case")
	return &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactCaseAuthorities: cases,
			ArtifactCaseSources:     chunks,
		},
		Logs:      []string{fmt.Sprintf("%d cases grounded, %d candidates dropped without verbatim support", len(cases), dropped)},
		SourceIDs: chunkIDs(chunks),
	}, nil
}

// runValidation scans retrieval for negative treatment of each collected
// authority. Per-authority retrieval errors degrade that authority to unknown
// status instead of failing the phase.
func (e *Engine) runValidation(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	grounded, err := authoritiesArtifact(pc.artifacts, ArtifactAuthorities)
	if err != nil {
		return nil, err
	}
	cases, err := authoritiesArtifact(pc.artifacts, ArtifactCaseAuthorities)
	if err != nil {
		return nil, err
	}
	authorities := append(append([]models.Authority{}, grounded...), cases...)

	var logs []string
	var allChunks []models.SourceChunk
	seen := make(map[string]bool)
	negatives := 0

	for i := range authorities {
		auth := &authorities[i]
		auth.Status = models.StatusUnknown

		query := fmt.Sprintf("%s overruled abrogated superseded reversed vacated", auth.Name)
		chunks, err := e.retriever.Search(ctx, query, e.opts.ValidationTopK)
		if err != nil {
			logs = append(logs, fmt.Sprintf("validation lookup failed for %s, status left unknown: %v", auth.Name, err))
			continue
		}
		for _, c := range chunks {
			if !seen[c.ChunkID] {
				seen[c.ChunkID] = true
				allChunks = append(allChunks, c)
			}
		}

		mentioned := false
		for _, c := range chunks {
			text := strings.ToLower(c.Text)
			if !strings.Contains(text, strings.ToLower(auth.Name)) {
				continue
			}
			mentioned = true
			for _, term := range negativeTreatmentTerms {
				if strings.Contains(text, term) {
					auth.Status = models.StatusNegative
					auth.EvidenceIDs = appendUnique(auth.EvidenceIDs, c.ChunkID)
				}
			}
		}
		if auth.Status == models.StatusNegative {
			negatives++
		} else if mentioned {
			auth.Status = models.StatusGoodLaw
		}
	}

	logs = append(logs, fmt.Sprintf("%d authorities validated, %d with negative treatment", len(authorities), negatives))
	return &phaseOutput{
		Artifacts: map[string]interface{}{
			ArtifactValidatedAuthorities: authorities,
			ArtifactValidationSources:    allChunks,
		},
		Logs:      logs,
		SourceIDs: chunkIDs(allChunks),
	}, nil
}

// runIssues decomposes the question into elements mapped to validated
// authorities. Issues with no surviving authority mapping are skipped.
func (e *Engine) runIssues(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	intake, err := intakeArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactValidatedAuthorities)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(authorities))
	var catalog strings.Builder
	for _, a := range authorities {
		known[a.ID] = true
		fmt.Fprintf(&catalog, "- %s: %s (%s, %s)\n", a.ID, a.Name, a.Kind, a.Jurisdiction)
	}

	prompt := fmt.Sprintf(`Decompose the following legal question into its governing elements.

Question: %s
Known facts: %s

Available authorities:
%s
Respond with a JSON array only. Each entry: {"element": string, "authority_ids": [string], "uncertain": bool, "notes": string}.
Map each element only to authority ids from the list above. Mark an element uncertain when the documents leave its standard unclear.`,
		models.StringValue(intake["research_question"]),
		models.StringValue(intake["known_facts"]),
		catalog.String())

	degraded := &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactIssueTree: []models.Issue{}},
	}

	raw, err := e.generator.Complete(ctx, prompt, nil)
	if err != nil {
		return degraded, wrapPhaseErr(pc.spec.Name, err)
	}

	var candidates []models.Issue
	if err := parseJSONPayload(raw, &candidates); err != nil {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: fmt.Errorf("issue decomposition unparseable: %w", err)}
	}

	var issues []models.Issue
	skipped := 0
	for i, issue := range candidates {
		var mapped []string
		for _, id := range issue.AuthorityIDs {
			if known[id] {
				mapped = append(mapped, id)
			}
		}
		if len(mapped) == 0 {
			skipped++
			continue
		}
		issue.ID = fmt.Sprintf("issue-%d", i+1)
		issue.AuthorityIDs = mapped
		issues = append(issues, issue)
	}

	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactIssueTree: issues},
		Logs:      []string{fmt.Sprintf("%d issues mapped, %d skipped without authority support", len(issues), skipped)},
	}, nil
}

// runRuleExtraction projects quoted rule statements from the validated
// authorities onto each issue. Pure; no collaborator calls.
func (e *Engine) runRuleExtraction(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
	issues, err := issuesArtifact(pc.artifacts)
	if err != nil {
		return nil, err
	}
	authorities, err := authoritiesArtifact(pc.artifacts, ArtifactValidatedAuthorities)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Authority, len(authorities))
	for _, a := range authorities {
		byID[a.ID] = a
	}

	var rules []models.Rule
	for _, issue := range issues {
		for _, authID := range issue.AuthorityIDs {
			auth, ok := byID[authID]
			if !ok {
				continue
			}
			for _, q := range auth.Quotes {
				rules = append(rules, models.Rule{
					ID:            fmt.Sprintf("rule-%d", len(rules)+1),
					IssueID:       issue.ID,
					Quote:         q.Quote,
					ChunkID:       q.ChunkID,
					AuthorityName: auth.Name,
					Court:         auth.Court,
					Status:        auth.Status,
				})
			}
		}
	}

	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactRules: rules},
		Logs:      []string{fmt.Sprintf("%d rules extracted across %d issues", len(rules), len(issues))},
	}, nil
}

// runRuleApplication maps known facts onto each rule conditionally.
func (e *Engine) runRuleApplication(ctx context.Context, pc *phaseContext) (*phaseOutput, error) {
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

	var sb strings.Builder
	for _, issue := range issues {
		fmt.Fprintf(&sb, "Issue %s: %s\n", issue.ID, issue.Element)
		for _, r := range rules {
			if r.IssueID == issue.ID {
				fmt.Fprintf(&sb, "  %s (%s): %q\n", r.ID, r.AuthorityName, r.Quote)
			}
		}
	}

	prompt := fmt.Sprintf(`Apply the known facts to each issue's rules. Use conditional framing only (if, assuming, to the extent); never predict an outcome.

Known facts: %s
Adverse party arguments: %s

%s
Respond with a JSON array only. Each entry: {"issue_id": string, "element": string, "fact_mapping": [string], "gaps": [string], "uncertainties": [string], "adverse_readings": [string]}.`,
		models.StringValue(intake["known_facts"]),
		models.StringValue(intake["adverse_party_arguments"]),
		sb.String())

	degraded := &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactApplications: []models.Application{}},
	}

	raw, err := e.generator.Complete(ctx, prompt, nil)
	if err != nil {
		return degraded, wrapPhaseErr(pc.spec.Name, err)
	}

	var applications []models.Application
	if err := parseJSONPayload(raw, &applications); err != nil {
		return degraded, &PhaseError{Phase: pc.spec.Name, Err: fmt.Errorf("rule application unparseable: %w", err)}
	}

	gaps := 0
	for _, a := range applications {
		gaps += len(a.Gaps)
	}
	return &phaseOutput{
		Artifacts: map[string]interface{}{ArtifactApplications: applications},
		Logs:      []string{fmt.Sprintf("%d applications produced, %d factual gaps recorded", len(applications), gaps)},
	}, nil
}

// groundCandidates keeps only candidates with at least one verbatim quote in
// the retrieved chunks, fixing up quote chunk ids and assigning stable ids.
func groundCandidates(candidates []models.Authority, chunks []models.SourceChunk, idPrefix string) ([]models.Authority, int) {
	normalized := make(map[string]string, len(chunks))
	for _, c := range chunks {
		normalized[c.ChunkID] = strings.Join(strings.Fields(c.Text), " ")
	}

	var kept []models.Authority
	dropped := 0
	for _, cand := range candidates {
		var quotes []models.SupportingQuote
		for _, q := range cand.Quotes {
			nq := strings.Join(strings.Fields(q.Quote), " ")
			if nq == "" {
				continue
			}
			if text, ok := normalized[q.ChunkID]; ok && strings.Contains(text, nq) {
				quotes = append(quotes, q)
				continue
			}
			// The extractor may misattribute the chunk; accept the quote if
			// any retrieved chunk contains it verbatim.
			for id, text := range normalized {
				if strings.Contains(text, nq) {
					quotes = append(quotes, models.SupportingQuote{Quote: q.Quote, ChunkID: id})
					break
				}
			}
		}
		if len(quotes) == 0 {
			dropped++
			continue
		}
		cand.Quotes = quotes
		cand.ID = fmt.Sprintf("%s-%d", idPrefix, len(kept)+1)
		if cand.Status == "" {
			cand.Status = models.StatusUnknown
		}
		kept = append(kept, cand)
	}
	return kept, dropped
}

// parseJSONPayload extracts the first JSON array or object from generator
// output, tolerating surrounding prose and code fences.
func parseJSONPayload(raw string, dst interface{}) error {
	trimmed := strings.TrimSpace(raw)
	if err := json.Unmarshal([]byte(trimmed), dst); err == nil {
		return nil
	}

	start := strings.IndexAny(trimmed, "[{")
	if start < 0 {
		return errors.New("no JSON payload in response")
	}
	var end int
	if trimmed[start] == '[' {
		end = strings.LastIndexByte(trimmed, ']')
	} else {
		end = strings.LastIndexByte(trimmed, '}')
	}
	if end <= start {
		return errors.New("unterminated JSON payload in response")
	}
	return json.Unmarshal([]byte(trimmed[start:end+1]), dst)
}

func authorityExtractionPrompt(question, kinds string, chunks []models.SourceChunk) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Extract the legal authorities relevant to: %s\n\n", question)
	fmt.Fprintf(&sb, "Look for %s in the excerpts below. Every authority must carry at least one verbatim supporting quote copied exactly from an excerpt, with that excerpt's chunk_id.\n\n", kinds)
	for _, c := range chunks {
		fmt.Fprintf(&sb, "[chunk %s]\n%s\n\n", c.ChunkID, c.Text)
	}
	sb.WriteString(`Respond with a JSON array only. Each entry: {"kind": "statute"|"rule"|"regulation"|"doctrine"|"case", "name": string, "jurisdiction": string, "court": string, "year": int, "quotes": [{"quote": string, "chunk_id": string}]}.`)
	return sb.String()
}

func chunkIDs(chunks []models.SourceChunk) []string {
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ChunkID)
	}
	return ids
}

func appendUnique(list []string, v string) []string {
	for _, item := range list {
		if item == v {
			return list
		}
	}
	return append(list, v)
}

// wrapPhaseErr keeps timeouts classifiable while tagging other collaborator
// errors with the phase.
func wrapPhaseErr(phase string, err error) error {
	if isTimeout(err) {
		return err
	}
	return &PhaseError{Phase: phase, Err: err}
}
