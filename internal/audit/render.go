package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"lexmemo/backend/pkg/models"
)

// RenderJSON renders the bundle as canonical indented JSON. Field order is
// fixed by the struct and slices are pre-sorted at assembly, so rendering the
// same bundle twice is byte-identical.
func RenderJSON(bundle *models.AuditBundle) ([]byte, error) {
	out, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to render audit bundle: %w", err)
	}
	return append(out, '\n'), nil
}

// RenderMarkdown renders the bundle as a reviewable markdown document: the
// memo itself followed by the authority table, rules, provenance map, and
// verification record.
func RenderMarkdown(bundle *models.AuditBundle) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Research Memo\n\n")
	fmt.Fprintf(&b, "- Run: `%s`\n", bundle.RunID)
	fmt.Fprintf(&b, "- Matter: `%s`\n", bundle.MatterID)
	fmt.Fprintf(&b, "- Workflow: `%s` v%d\n", bundle.DefinitionID, bundle.DefinitionVersion)
	fmt.Fprintf(&b, "- Created: %s\n", bundle.CreatedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	if bundle.FinishedAt != nil {
		fmt.Fprintf(&b, "- Finished: %s\n", bundle.FinishedAt.UTC().Format("2006-01-02 15:04:05 UTC"))
	}
	b.WriteString("\n---\n\n")
	b.WriteString(strings.TrimSpace(bundle.Memo.Text))
	b.WriteString("\n\n---\n\n")

	b.WriteString("## Authority Table\n\n")
	if len(bundle.Authorities) == 0 {
		b.WriteString("No authorities collected.\n\n")
	} else {
		b.WriteString("| Authority | Kind | Jurisdiction | Status |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, a := range bundle.Authorities {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", a.Name, a.Kind, a.Jurisdiction, statusLabel(a.Status))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Issue Tree\n\n")
	for _, issue := range bundle.IssueTree {
		marker := ""
		if issue.Uncertain {
			marker = " (uncertain)"
		}
		fmt.Fprintf(&b, "- **%s**%s (authorities: %s)\n", issue.Element, marker, strings.Join(issue.AuthorityIDs, ", "))
	}
	if len(bundle.IssueTree) == 0 {
		b.WriteString("No issues identified.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Extracted Rules\n\n")
	for _, r := range bundle.Rules {
		fmt.Fprintf(&b, "- %s: \"%s\" (%s, chunk `%s`)\n", r.ID, r.Quote, r.AuthorityName, r.ChunkID)
	}
	if len(bundle.Rules) == 0 {
		b.WriteString("No rules extracted.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Citation Map\n\n")
	for _, c := range bundle.Citations {
		fmt.Fprintf(&b, "- [%d] -> chunk `%s`\n", c.Token, c.ChunkID)
	}
	if len(bundle.Citations) == 0 {
		b.WriteString("No citations.\n")
	}
	b.WriteString("\n")

	b.WriteString("## Verification Record\n\n")
	for _, c := range bundle.Checks {
		mark := "PASS"
		if !c.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "- %s **%s**: %s\n", mark, c.Name, c.Details)
	}
	b.WriteString("\n")

	b.WriteString("## Phase History\n\n")
	for _, p := range bundle.PhaseHistory {
		fmt.Fprintf(&b, "- %d. %s: %s (%s)\n", p.PhaseIndex, p.PhaseName, p.Status,
			p.FinishedAt.Sub(p.StartedAt).Round(time.Millisecond).String())
	}

	return b.String()
}

func statusLabel(s models.PrecedentialStatus) string {
	switch s {
	case models.StatusGoodLaw:
		return "good law (per documents)"
	case models.StatusNegative:
		return "NEGATIVE TREATMENT"
	default:
		return "unknown"
	}
}
