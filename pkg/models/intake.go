package models

import (
	"fmt"
	"sort"
	"strings"
)

// InvalidIntakeError reports intake payload fields that are missing or fail
// their declared validators. It is surfaced at run creation and never reaches
// a phase.
type InvalidIntakeError struct {
	Missing []string `json:"missing_fields"`
	Invalid []string `json:"invalid_fields"`
}

func (e *InvalidIntakeError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing fields: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid fields: "+strings.Join(e.Invalid, ", "))
	}
	return "invalid intake: " + strings.Join(parts, "; ")
}

// ValidateIntake checks the payload against the schema and returns a
// normalized copy with defaults applied for absent optional fields. The
// returned error is always a *InvalidIntakeError when non-nil.
func (s InputSchema) ValidateIntake(in map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}

	verr := &InvalidIntakeError{}
	names := s.Order
	if len(names) == 0 {
		names = make([]string, 0, len(s.Fields))
		for name := range s.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	for _, name := range names {
		field := s.Fields[name]
		val, ok := in[name]
		if !ok || isEmptyValue(val) {
			if field.Required {
				verr.Missing = append(verr.Missing, name)
			} else if field.Default != nil {
				out[name] = field.Default
			}
			continue
		}
		if !fieldValueValid(field, val) {
			verr.Invalid = append(verr.Invalid, name)
		}
	}

	if len(verr.Missing) > 0 || len(verr.Invalid) > 0 {
		return nil, verr
	}
	return out, nil
}

func isEmptyValue(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []interface{}:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func fieldValueValid(field InputField, val interface{}) bool {
	switch field.Type {
	case FieldTypeText, FieldTypeTextarea:
		_, ok := val.(string)
		return ok
	case FieldTypeBoolean:
		_, ok := val.(bool)
		return ok
	case FieldTypeSelect:
		s, ok := val.(string)
		if !ok {
			return false
		}
		return optionAllowed(field.Options, s)
	case FieldTypeMultiSelect:
		for _, item := range StringSlice(val) {
			if !optionAllowed(field.Options, item) {
				return false
			}
		}
		return len(StringSlice(val)) > 0
	}
	return true
}

func optionAllowed(options []string, v string) bool {
	if len(options) == 0 {
		return true
	}
	for _, o := range options {
		if o == v {
			return true
		}
	}
	return false
}

// StringSlice coerces an intake value into a string slice. JSON decoding
// yields []interface{}; direct callers may pass []string or a single string.
func StringSlice(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case string:
		if strings.TrimSpace(t) == "" {
			return nil
		}
		return []string{t}
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, item := range t {
			out = append(out, fmt.Sprintf("%v", item))
		}
		return out
	}
	return nil
}

// StringValue coerces an intake value into a string.
func StringValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
