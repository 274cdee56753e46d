package engine

import (
	"lexmemo/backend/internal/audit"
	"lexmemo/backend/pkg/models"
)

// Artifact names shared between phases. Downstream phases declare these in
// Requires; the executor projects only declared artifacts into a phase.
const (
	ArtifactIntake                = "intake"
	ArtifactAuthorities           = "authorities"
	ArtifactAuthoritySources      = "authority_sources"
	ArtifactInsufficientGrounding = "insufficient_grounding"
	ArtifactCaseAuthorities       = "case_authorities"
	ArtifactCaseSources           = "case_sources"
	ArtifactValidatedAuthorities  = "validated_authorities"
	ArtifactValidationSources     = "validation_sources"
	ArtifactIssueTree             = "issue_tree"
	ArtifactRules                 = "rules"
	ArtifactApplications          = "applications"
	ArtifactMemo                  = "memo"
	ArtifactVerificationResults   = "verification"
	ArtifactVerificationPassed    = "verification_passed"
	ArtifactReview                = "review"
	ArtifactAuditBundle           = "audit_bundle"
)

// Phase names of the built-in workflow.
const (
	PhaseIntake          = "intake"
	PhaseGrounding       = "authority_grounding"
	PhaseCaseLaw         = "case_law_retrieval"
	PhaseValidation      = "authority_validation"
	PhaseIssues          = "issue_decomposition"
	PhaseRuleExtraction  = "rule_extraction"
	PhaseRuleApplication = "rule_application"
	PhaseDrafting        = "memo_drafting"
	PhaseVerification    = "verification"
	PhaseHumanReview     = "human_review"
	PhaseExport          = "export"
)

// ResearchMemoWorkflowID identifies the built-in workflow definition.
const ResearchMemoWorkflowID = "litigation_research_memo"

// AuditArtifactNames maps the built-in workflow's artifact keys onto the
// audit assembler's sections, for exports that work from a stored run alone.
func AuditArtifactNames() audit.ArtifactNames {
	return audit.ArtifactNames{
		Intake:      ArtifactIntake,
		Memo:        ArtifactMemo,
		Authorities: ArtifactValidatedAuthorities,
		IssueTree:   ArtifactIssueTree,
		Rules:       ArtifactRules,
		Checks:      ArtifactVerificationResults,
		Sources:     []string{ArtifactAuthoritySources, ArtifactCaseSources, ArtifactValidationSources},
	}
}

// ResearchMemoWorkflow returns the built-in eleven-phase research memo
// workflow. The definition is a template; callers must treat it as immutable.
func ResearchMemoWorkflow() *models.WorkflowDefinition {
	return &models.WorkflowDefinition{
		ID:          ResearchMemoWorkflowID,
		Version:     1,
		Name:        "Litigation Research Memo",
		Description: "Document-grounded litigation research memo with verified citations, adverse authority disclosure, and a full audit trail.",
		InputSchema: models.InputSchema{
			Order: []string{
				"research_question", "jurisdictions", "court_level",
				"matter_posture", "known_facts", "adverse_party_arguments",
				"memo_format",
			},
			Fields: map[string]models.InputField{
				"research_question": {
					Type:     models.FieldTypeTextarea,
					Label:    "Research question",
					Required: true,
				},
				"jurisdictions": {
					Type:     models.FieldTypeMultiSelect,
					Label:    "Controlling jurisdictions",
					Required: true,
				},
				"court_level": {
					Type:     models.FieldTypeSelect,
					Label:    "Court level",
					Required: true,
					Options:  []string{"trial", "appellate", "supreme"},
				},
				"matter_posture": {
					Type:     models.FieldTypeSelect,
					Label:    "Matter posture",
					Required: true,
					Options: []string{
						"motion_to_dismiss", "summary_judgment", "appeal",
						"discovery_dispute", "trial", "other",
					},
				},
				"known_facts": {
					Type:     models.FieldTypeTextarea,
					Label:    "Known facts",
					Required: true,
				},
				"adverse_party_arguments": {
					Type:  models.FieldTypeTextarea,
					Label: "Known adverse party arguments",
				},
				"memo_format": {
					Type:    models.FieldTypeSelect,
					Label:   "Memo format",
					Options: []string{"IRAC", "CREAC", "narrative"},
					Default: "IRAC",
				},
			},
		},
		Phases: []models.PhaseSpec{
			{
				Index:       0,
				Name:        PhaseIntake,
				Description: "Lock the research question, jurisdictional scope, posture, and factual assumptions.",
				Produces:    []string{ArtifactIntake},
				Fatal:       true,
			},
			{
				Index:       1,
				Name:        PhaseGrounding,
				Description: "Retrieve statutes, rules, and doctrines; extract authority candidates with verbatim supporting quotes.",
				Requires:    []string{ArtifactIntake},
				Produces:    []string{ArtifactAuthorities, ArtifactAuthoritySources},
			},
			{
				Index:       2,
				Name:        PhaseCaseLaw,
				Description: "Retrieve case law interpreting the grounded authorities; extract cases with chunk citations.",
				Requires:    []string{ArtifactIntake, ArtifactAuthorities},
				Produces:    []string{ArtifactCaseAuthorities, ArtifactCaseSources},
			},
			{
				Index:       3,
				Name:        PhaseValidation,
				Description: "Scan retrieved material for negative treatment of each authority and tag precedential status.",
				Requires:    []string{ArtifactAuthorities, ArtifactCaseAuthorities},
				Produces:    []string{ArtifactValidatedAuthorities, ArtifactValidationSources},
			},
			{
				Index:       4,
				Name:        PhaseIssues,
				Description: "Decompose the question into an issue tree mapped to validated authorities.",
				Requires:    []string{ArtifactIntake, ArtifactValidatedAuthorities},
				Produces:    []string{ArtifactIssueTree},
			},
			{
				Index:       5,
				Name:        PhaseRuleExtraction,
				Description: "Project quoted rule statements from validated authorities onto each issue.",
				Requires:    []string{ArtifactIssueTree, ArtifactValidatedAuthorities},
				Produces:    []string{ArtifactRules},
			},
			{
				Index:       6,
				Name:        PhaseRuleApplication,
				Description: "Map known facts onto each rule conditionally, recording gaps and uncertainties.",
				Requires:    []string{ArtifactIntake, ArtifactIssueTree, ArtifactRules},
				Produces:    []string{ArtifactApplications},
			},
			{
				Index:          7,
				Name:           PhaseDrafting,
				Description:    "Draft the memo with bracket-token citations and a mandatory adverse authority section.",
				Requires:       []string{ArtifactIntake, ArtifactIssueTree, ArtifactRules, ArtifactApplications, ArtifactValidatedAuthorities},
				Produces:       []string{ArtifactMemo},
				Fatal:          true,
				FatalOnTimeout: true,
			},
			{
				Index:       8,
				Name:        PhaseVerification,
				Description: "Run the verification gate over the drafted memo and its provenance.",
				Requires: []string{
					ArtifactIntake, ArtifactMemo, ArtifactValidatedAuthorities, ArtifactRules,
					ArtifactAuthoritySources, ArtifactCaseSources, ArtifactValidationSources,
				},
				Produces:    []string{ArtifactVerificationResults, ArtifactVerificationPassed},
				Fatal:       true,
			},
			{
				Index:          9,
				Name:           PhaseHumanReview,
				Description:    "Park the run for attorney review of the verified memo.",
				Requires:       []string{ArtifactMemo, ArtifactVerificationResults},
				Produces:       []string{ArtifactReview},
				PausesForInput: true,
			},
			{
				Index:       10,
				Name:        PhaseExport,
				Description: "Assemble the audit bundle from persisted run state.",
				Requires: []string{
					ArtifactIntake, ArtifactMemo, ArtifactVerificationResults,
					ArtifactValidatedAuthorities, ArtifactIssueTree, ArtifactRules,
					ArtifactAuthoritySources, ArtifactCaseSources, ArtifactValidationSources,
				},
				Produces:    []string{ArtifactAuditBundle},
				Fatal:       true,
			},
		},
	}
}
