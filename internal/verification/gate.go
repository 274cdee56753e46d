// Package verification implements the hard quality gate run as a dedicated
// workflow phase. The gate is a fixed battery of independent checks over the
// drafted memo and its accumulated provenance; it passes only when every
// check passes, and no configuration can bypass it.
package verification

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"lexmemo/backend/pkg/models"
)

// Check identifiers. Stable; exports and correction plans reference them.
const (
	CheckCitationIntegrity   = "citation_integrity"
	CheckQuoteFidelity       = "quote_fidelity"
	CheckAuthorityStatus     = "authority_status"
	CheckScopeConsistency    = "scope_consistency"
	CheckMandatoryDisclosure = "mandatory_disclosure"
	CheckHedgingStructure    = "hedging_structure"
)

// bannedPhrases is the predictive-certainty language the memo must not use.
var bannedPhrases = []string{
	"will win", "will lose", "will succeed", "will prevail",
	"likely to win", "likely succeed", "likely prevail",
	"guaranteed", "slam dunk", "certain victory", "certain to",
	"should win", "definitely win", "definitely will",
}

// conditionalMarkers is qualifying language the memo must contain. The
// word-boundary patterns are compiled once here; the gate is shared across
// concurrent runs and holds no mutable state.
var conditionalMarkers = []string{
	"if", "assuming", "to the extent", "provided that", "subject to",
	"may", "could", "might",
}

var conditionalMarkerRes = compileMarkerPatterns(conditionalMarkers)

func compileMarkerPatterns(markers []string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(markers))
	for _, m := range markers {
		res = append(res, regexp.MustCompile(`\b`+regexp.QuoteMeta(m)+`\b`))
	}
	return res
}

var citationTokenRe = regexp.MustCompile(`\[(\d+)\]`)

// Input is the slice of run state the gate inspects. It is assembled from
// persisted phase results; the gate performs no collaborator calls.
type Input struct {
	Memo          models.MemoDraft
	Authorities   []models.Authority
	Rules         []models.Rule
	Sources       []models.SourceChunk
	Jurisdictions []string

	// RetrievedIDs is the set of chunk identifiers collected by phases that
	// ran before drafting. Citations must resolve into this set.
	RetrievedIDs map[string]bool
}

// Gate runs the verification battery.
type Gate struct{}

// NewGate creates a Gate.
func NewGate() *Gate {
	return &Gate{}
}

// Verify runs all checks independently and reports pass/fail plus the full
// per-check results. Check order is fixed but no check depends on another.
func (g *Gate) Verify(in Input) (bool, []models.VerificationTestResult) {
	results := []models.VerificationTestResult{
		g.checkCitationIntegrity(in),
		g.checkQuoteFidelity(in),
		g.checkAuthorityStatus(in),
		g.checkScopeConsistency(in),
		g.checkMandatoryDisclosure(in),
		g.checkHedgingStructure(in),
	}
	passed := true
	for _, r := range results {
		if !r.Passed {
			passed = false
		}
	}
	return passed, results
}

// BuildCorrectionPlan assembles a plan from the failed subset only. Duplicate
// remediation lines from overlapping checks are collapsed in the summary;
// the per-check results stay independent.
func BuildCorrectionPlan(results []models.VerificationTestResult) *models.CorrectionPlan {
	var failed []models.VerificationTestResult
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	if len(failed) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("Verification failed. The following checks must be corrected:\n")
	for _, f := range failed {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Details)
	}
	b.WriteString("Recommended corrections:\n")
	seen := make(map[string]bool)
	for _, f := range failed {
		if f.Remediation == "" || seen[f.Remediation] {
			continue
		}
		seen[f.Remediation] = true
		fmt.Fprintf(&b, "- %s\n", f.Remediation)
	}

	return &models.CorrectionPlan{Failed: failed, Summary: b.String()}
}

// checkCitationIntegrity: every bracket token in the memo resolves through the
// citation map to a chunk retrieved earlier in this run, and the token->chunk
// mapping is injective.
func (g *Gate) checkCitationIntegrity(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckCitationIntegrity,
		Name:        "Citation Integrity",
		Remediation: "Review all citations in the memo and ensure each bracket token maps to a retrieved source chunk",
	}

	byToken := make(map[int]models.Citation)
	for _, c := range in.Memo.Citations {
		if _, dup := byToken[c.Token]; dup {
			res.Details = fmt.Sprintf("citation token [%d] is mapped to more than one chunk", c.Token)
			return res
		}
		byToken[c.Token] = c
	}

	tokens := extractTokens(in.Memo.Text)
	var dangling []int
	for _, tok := range tokens {
		c, ok := byToken[tok]
		if !ok || !in.RetrievedIDs[c.ChunkID] {
			dangling = append(dangling, tok)
		}
	}

	if len(dangling) > 0 {
		res.Details = fmt.Sprintf("dangling citations: %v do not resolve to any chunk retrieved during this run", dangling)
		return res
	}

	res.Passed = true
	res.Details = fmt.Sprintf("all %d citation tokens resolve to retrieved chunks", len(tokens))
	return res
}

// checkQuoteFidelity: every quoted span attached to a citation appears
// verbatim (modulo whitespace normalization) in the referenced chunk text.
func (g *Gate) checkQuoteFidelity(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckQuoteFidelity,
		Name:        "Quote Fidelity",
		Remediation: "Verify all quoted text appears verbatim in the cited source chunks",
	}

	chunkText := make(map[string]string, len(in.Sources))
	for _, s := range in.Sources {
		chunkText[s.ChunkID] = normalizeWhitespace(s.Text)
	}

	var errs []string
	checked := 0
	verify := func(label, quote, chunkID string) {
		if quote == "" {
			return
		}
		checked++
		text, ok := chunkText[chunkID]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: chunk %s not found among retrieved sources", label, chunkID))
			return
		}
		if !strings.Contains(text, normalizeWhitespace(quote)) {
			errs = append(errs, fmt.Sprintf("%s: quote not found verbatim in chunk %s", label, chunkID))
		}
	}

	for _, r := range in.Rules {
		verify("rule "+r.ID, r.Quote, r.ChunkID)
	}
	for _, c := range in.Memo.Citations {
		verify(fmt.Sprintf("citation [%d]", c.Token), c.Quote, c.ChunkID)
	}

	if len(errs) > 0 {
		res.Details = strings.Join(errs, "; ")
		return res
	}
	res.Passed = true
	res.Details = fmt.Sprintf("all %d quoted spans verified against their source chunks", checked)
	return res
}

// checkAuthorityStatus: no negative-treatment authority is cited as
// controlling outside the adverse section.
func (g *Gate) checkAuthorityStatus(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckAuthorityStatus,
		Name:        "Authority Status",
		Remediation: "Move negative-treatment authorities into the Adverse Authority section",
	}

	negative := negativeAuthorities(in.Authorities)
	if len(negative) == 0 {
		res.Passed = true
		res.Details = "no authorities with negative treatment"
		return res
	}

	start, end, hasSection := adverseSectionSpan(in.Memo.Text)
	var violations []string
	for _, auth := range negative {
		for _, pos := range mentionPositions(in.Memo.Text, auth.Name) {
			if !hasSection || pos < start || pos >= end {
				violations = append(violations, auth.Name)
				break
			}
		}
	}

	if len(violations) > 0 {
		res.Details = fmt.Sprintf("negative-treatment authorities cited outside the adverse section: %s", strings.Join(violations, ", "))
		return res
	}
	res.Passed = true
	res.Details = fmt.Sprintf("all %d negative-treatment authorities confined to the adverse section", len(negative))
	return res
}

// checkScopeConsistency: out-of-jurisdiction authorities must be labeled
// persuasive near their mention.
func (g *Gate) checkScopeConsistency(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckScopeConsistency,
		Name:        "Scope Consistency",
		Remediation: "Label out-of-jurisdiction authorities as persuasive or remove them",
	}

	inScope := make(map[string]bool, len(in.Jurisdictions))
	for _, j := range in.Jurisdictions {
		inScope[strings.ToLower(j)] = true
	}

	var unlabeled []string
	outOfScope := 0
	for _, auth := range in.Authorities {
		if auth.Jurisdiction == "" || inScope[strings.ToLower(auth.Jurisdiction)] {
			continue
		}
		outOfScope++
		for _, pos := range mentionPositions(in.Memo.Text, auth.Name) {
			if !labeledPersuasiveAt(in.Memo.Text, pos) {
				unlabeled = append(unlabeled, fmt.Sprintf("%s (%s)", auth.Name, auth.Jurisdiction))
				break
			}
		}
	}

	if len(unlabeled) > 0 {
		res.Details = fmt.Sprintf("out-of-jurisdiction authorities cited without a persuasive label: %s", strings.Join(unlabeled, ", "))
		return res
	}
	res.Passed = true
	if outOfScope == 0 {
		res.Details = fmt.Sprintf("all authorities within declared scope: %s", strings.Join(in.Jurisdictions, ", "))
	} else {
		res.Details = fmt.Sprintf("%d out-of-jurisdiction authorities properly labeled persuasive", outOfScope)
	}
	return res
}

// checkMandatoryDisclosure: any negative treatment anywhere in the run
// requires a disclosure section, cited or not.
func (g *Gate) checkMandatoryDisclosure(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckMandatoryDisclosure,
		Name:        "Mandatory Disclosure",
		Remediation: "Add an Adverse Authority section disclosing every negative-treatment authority",
	}

	negative := negativeAuthorities(in.Authorities)
	if len(negative) == 0 {
		res.Passed = true
		res.Details = "no adverse authorities requiring disclosure"
		return res
	}

	if _, _, ok := adverseSectionSpan(in.Memo.Text); !ok {
		res.Details = fmt.Sprintf("%d authorities with negative treatment but no Adverse Authority section in the memo", len(negative))
		return res
	}
	res.Passed = true
	res.Details = fmt.Sprintf("disclosure section present for %d negative-treatment authorities", len(negative))
	return res
}

// checkHedgingStructure: conditional language present, predictive-certainty
// phrases absent.
func (g *Gate) checkHedgingStructure(in Input) models.VerificationTestResult {
	res := models.VerificationTestResult{
		TestID:      CheckHedgingStructure,
		Name:        "Hedging Structure",
		Remediation: "Replace outcome predictions with conditional language (if, assuming, to the extent)",
	}

	lower := strings.ToLower(in.Memo.Text)
	var found []string
	for _, phrase := range bannedPhrases {
		if strings.Contains(lower, phrase) {
			found = append(found, phrase)
		}
	}
	if len(found) > 0 {
		res.Details = "banned predictive language found: " + strings.Join(found, ", ")
		return res
	}

	markers := 0
	for _, re := range conditionalMarkerRes {
		if re.MatchString(lower) {
			markers++
		}
	}
	if markers < 3 {
		res.Details = fmt.Sprintf("insufficient conditional language (%d markers found, need 3)", markers)
		return res
	}

	res.Passed = true
	res.Details = fmt.Sprintf("conditional language present (%d markers), no predictive-certainty phrases", markers)
	return res
}

func extractTokens(text string) []int {
	matches := citationTokenRe.FindAllStringSubmatch(text, -1)
	seen := make(map[int]bool)
	var tokens []int
	for _, m := range matches {
		var tok int
		fmt.Sscanf(m[1], "%d", &tok)
		if !seen[tok] {
			seen[tok] = true
			tokens = append(tokens, tok)
		}
	}
	sort.Ints(tokens)
	return tokens
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func negativeAuthorities(authorities []models.Authority) []models.Authority {
	var out []models.Authority
	for _, a := range authorities {
		if a.Status == models.StatusNegative {
			out = append(out, a)
		}
	}
	return out
}

var adverseHeadings = []string{"adverse authority", "negative treatment"}

// adverseSectionSpan locates the disclosure section: from its heading line to
// the next heading or end of memo. Returns ok=false when absent.
func adverseSectionSpan(memo string) (start, end int, ok bool) {
	lower := strings.ToLower(memo)
	start = -1
	for _, h := range adverseHeadings {
		if idx := strings.Index(lower, h); idx >= 0 && (start < 0 || idx < start) {
			start = idx
		}
	}
	if start < 0 {
		return 0, 0, false
	}

	// Section ends at the next heading-looking line after the title line.
	rest := memo[start:]
	lineEnd := strings.IndexByte(rest, '\n')
	if lineEnd < 0 {
		return start, len(memo), true
	}
	for _, line := range splitLinesWithOffset(rest[lineEnd+1:], start+lineEnd+1) {
		if isHeadingLine(line.text) {
			return start, line.offset, true
		}
	}
	return start, len(memo), true
}

type offsetLine struct {
	offset int
	text   string
}

func splitLinesWithOffset(s string, base int) []offsetLine {
	var lines []offsetLine
	pos := 0
	for pos <= len(s) {
		next := strings.IndexByte(s[pos:], '\n')
		if next < 0 {
			lines = append(lines, offsetLine{offset: base + pos, text: s[pos:]})
			break
		}
		lines = append(lines, offsetLine{offset: base + pos, text: s[pos : pos+next]})
		pos += next + 1
	}
	return lines
}

func isHeadingLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "#") {
		return true
	}
	// ALL-CAPS section titles ("ANALYSIS", "OPEN QUESTIONS").
	letters := 0
	for _, r := range trimmed {
		if r >= 'a' && r <= 'z' {
			return false
		}
		if r >= 'A' && r <= 'Z' {
			letters++
		}
	}
	return letters >= 3
}

func mentionPositions(memo, name string) []int {
	if name == "" {
		return nil
	}
	lowerMemo := strings.ToLower(memo)
	lowerName := strings.ToLower(name)
	var positions []int
	from := 0
	for {
		idx := strings.Index(lowerMemo[from:], lowerName)
		if idx < 0 {
			return positions
		}
		positions = append(positions, from+idx)
		from += idx + len(lowerName)
	}
}

// labeledPersuasiveAt reports whether "persuasive" appears in the paragraph
// surrounding the mention position.
func labeledPersuasiveAt(memo string, pos int) bool {
	start := strings.LastIndex(memo[:pos], "\n\n")
	if start < 0 {
		start = 0
	}
	end := strings.Index(memo[pos:], "\n\n")
	if end < 0 {
		end = len(memo)
	} else {
		end += pos
	}
	return strings.Contains(strings.ToLower(memo[start:end]), "persuasive")
}
