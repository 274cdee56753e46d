package models

// AuthorityKind distinguishes the kinds of legal authority a run can collect.
type AuthorityKind string

const (
	AuthorityKindStatute    AuthorityKind = "statute"
	AuthorityKindRule       AuthorityKind = "rule"
	AuthorityKindRegulation AuthorityKind = "regulation"
	AuthorityKindDoctrine   AuthorityKind = "doctrine"
	AuthorityKindCase       AuthorityKind = "case"
)

// PrecedentialStatus is the treatment signal attached to an authority during
// validation.
type PrecedentialStatus string

const (
	StatusUnknown  PrecedentialStatus = "unknown"
	StatusGoodLaw  PrecedentialStatus = "treated_as_good_law_in_docs"
	StatusNegative PrecedentialStatus = "negative_treatment_found"
)

// SupportingQuote ties a verbatim quote to the chunk it was lifted from.
type SupportingQuote struct {
	Quote   string `json:"quote"`
	ChunkID string `json:"chunk_id"`
}

// Authority is one statute, rule, doctrine, or case collected during the
// grounding and retrieval phases. Every authority carries at least one
// supporting quote from a retrieved chunk; candidates without one are dropped
// at the phase boundary.
type Authority struct {
	ID           string             `json:"id"`
	Kind         AuthorityKind      `json:"kind"`
	Name         string             `json:"name"`
	Jurisdiction string             `json:"jurisdiction"`
	Court        string             `json:"court,omitempty"`
	Year         int                `json:"year,omitempty"`
	Quotes       []SupportingQuote  `json:"quotes,omitempty"`
	Status       PrecedentialStatus `json:"status,omitempty"`
	EvidenceIDs  []string           `json:"evidence_ids,omitempty"`
}

// Issue is one element of the issue tree built during decomposition.
type Issue struct {
	ID           string   `json:"id"`
	Element      string   `json:"element"`
	AuthorityIDs []string `json:"authority_ids"`
	Uncertain    bool     `json:"uncertain,omitempty"`
	Notes        string   `json:"notes,omitempty"`
}

// Rule is one quoted governing standard extracted for an issue.
type Rule struct {
	ID            string             `json:"id"`
	IssueID       string             `json:"issue_id"`
	Quote         string             `json:"quote"`
	ChunkID       string             `json:"chunk_id"`
	AuthorityName string             `json:"authority_name"`
	Court         string             `json:"court,omitempty"`
	Status        PrecedentialStatus `json:"status,omitempty"`
}

// Application is the conditional fact-mapping produced for one issue.
type Application struct {
	IssueID         string   `json:"issue_id"`
	Element         string   `json:"element"`
	FactMapping     []string `json:"fact_mapping,omitempty"`
	Gaps            []string `json:"gaps,omitempty"`
	Uncertainties   []string `json:"uncertainties,omitempty"`
	AdverseReadings []string `json:"adverse_readings,omitempty"`
}

// MemoDraft is the drafted memo plus its provenance map.
type MemoDraft struct {
	Text              string     `json:"text"`
	Format            string     `json:"format"`
	Citations         []Citation `json:"citations"`
	HasAdverseSection bool       `json:"has_adverse_section"`
}
