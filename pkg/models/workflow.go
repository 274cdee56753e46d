// Package models defines the domain models for the research memo service.
package models

// FieldType enumerates the intake field kinds a workflow can declare.
type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeTextarea    FieldType = "textarea"
	FieldTypeSelect      FieldType = "select"
	FieldTypeMultiSelect FieldType = "multi_select"
	FieldTypeBoolean     FieldType = "boolean"
)

// InputField describes one named intake field of a workflow definition.
type InputField struct {
	Type     FieldType   `json:"type"`
	Label    string      `json:"label"`
	Required bool        `json:"required"`
	Options  []string    `json:"options,omitempty"`
	Default  interface{} `json:"default,omitempty"`
}

// InputSchema declares the intake contract of a workflow definition.
// Order lists field names in presentation order; Fields holds the validators.
type InputSchema struct {
	Order  []string              `json:"order"`
	Fields map[string]InputField `json:"fields"`
}

// PhaseSpec is one ordered step of a workflow definition.
type PhaseSpec struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// Requires names the artifacts this phase consumes. The executor refuses
	// to start a phase whose upstream artifacts are missing.
	Requires []string `json:"requires,omitempty"`
	// Produces names the artifacts this phase is expected to emit.
	Produces []string `json:"produces,omitempty"`

	Optional       bool `json:"optional,omitempty"`
	Fatal          bool `json:"fatal,omitempty"`
	FatalOnTimeout bool `json:"fatal_on_timeout,omitempty"`
	PausesForInput bool `json:"pauses_for_input,omitempty"`
}

// WorkflowDefinition is an immutable workflow template. Definitions are
// registered once at process start and never mutated afterwards.
type WorkflowDefinition struct {
	ID          string      `json:"id"`
	Version     int         `json:"version"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
	Phases      []PhaseSpec `json:"phases"`
}

// Phase returns the PhaseSpec at index, or nil when out of range.
func (d *WorkflowDefinition) Phase(index int) *PhaseSpec {
	if index < 0 || index >= len(d.Phases) {
		return nil
	}
	return &d.Phases[index]
}
