// Package schema is the single point enforcing the shape of extracted
// payloads. Payloads stay opaque maps past validation; only the contract
// below is checked, not the step's full semantics.
package schema

import (
	"fmt"
	"regexp"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// FieldError names the first offending field and why it failed.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
}

var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// numberRange bounds a numeric field, inclusive.
type numberRange struct {
	Min, Max float64
}

// itemRule constrains each element of an object array.
type itemRule struct {
	Required []string
	Slugs    []string
	Ranges   map[string]numberRange
}

// contract is one step kind's validation contract.
type contract struct {
	Required []string
	Slugs    []string
	Arrays   map[string]int // field -> minimum length
	Ranges   map[string]numberRange
	Items    map[string]itemRule // array field -> per-element rule
}

var contracts = map[step.Type]contract{
	step.Framing: {
		Required: []string{"problem_statement", "decision_maker"},
	},
	step.Objectives: {
		Required: []string{"objectives"},
		Arrays:   map[string]int{"objectives": 2},
		Items: map[string]itemRule{
			"objectives": {Required: []string{"id", "name", "direction"}, Slugs: []string{"id"}},
		},
	},
	step.Alternatives: {
		Required: []string{"alternatives"},
		Arrays:   map[string]int{"alternatives": 2},
		Items: map[string]itemRule{
			"alternatives": {Required: []string{"id", "name"}, Slugs: []string{"id"}},
		},
	},
	step.Consequences: {
		Required: []string{"ratings"},
		Arrays:   map[string]int{"ratings": 1},
		Items: map[string]itemRule{
			"ratings": {
				Required: []string{"alternative_id", "objective_id", "rating"},
				Slugs:    []string{"alternative_id", "objective_id"},
				Ranges:   map[string]numberRange{"rating": {Min: -2, Max: 2}},
			},
		},
	},
	step.Tradeoffs: {
		Required: []string{"tradeoffs"},
		Arrays:   map[string]int{"tradeoffs": 1},
		Items: map[string]itemRule{
			"tradeoffs": {Required: []string{"description"}},
			"dominated": {Required: []string{"alternative_id"}, Slugs: []string{"alternative_id"}},
		},
	},
	step.Uncertainty: {
		Required: []string{"uncertainties"},
		Arrays:   map[string]int{"uncertainties": 1},
		Items: map[string]itemRule{
			"uncertainties": {
				Required: []string{"description", "likelihood"},
				Ranges:   map[string]numberRange{"likelihood": {Min: 0, Max: 1}},
			},
		},
	},
	step.Recommendation: {
		Required: []string{"choice", "rationale"},
		Slugs:    []string{"choice"},
	},
	step.Quality: {
		Required: []string{"scores"},
		Arrays:   map[string]int{"scores": 1},
		Items: map[string]itemRule{
			"scores": {
				Required: []string{"dimension", "score"},
				Slugs:    []string{"dimension"},
				Ranges:   map[string]numberRange{"score": {Min: 0, Max: 100}},
			},
		},
	},
	step.Wrapup: {
		Required: []string{"summary"},
		Items: map[string]itemRule{
			"next_steps": {Required: []string{"description"}},
		},
	},
}

// Validate enforces the full contract for a step kind: required fields,
// array minimums, numeric ranges, identifier format. Fails fast on the
// first violation with a FieldError.
func Validate(stepType step.Type, payload map[string]any) error {
	return validate(stepType, payload, false)
}

// ValidatePartial is the mid-dialogue mode: missing or empty fields are
// accepted so incremental live-preview extractions survive, but type,
// range and format violations on present values still fail.
func ValidatePartial(stepType step.Type, payload map[string]any) error {
	return validate(stepType, payload, true)
}

func validate(stepType step.Type, payload map[string]any, partial bool) error {
	c, ok := contracts[stepType]
	if !ok {
		return fmt.Errorf("no contract for step type %q", stepType)
	}
	if payload == nil {
		if partial {
			return nil
		}
		return &FieldError{Field: "payload", Reason: "missing"}
	}

	if !partial {
		for _, field := range c.Required {
			v, present := payload[field]
			if !present || v == nil {
				return &FieldError{Field: field, Reason: "required field is missing"}
			}
			if s, isStr := v.(string); isStr && s == "" {
				return &FieldError{Field: field, Reason: "required field is empty"}
			}
		}
	}

	for _, field := range c.Slugs {
		if err := checkSlug(field, payload[field]); err != nil {
			return err
		}
	}
	for field, r := range c.Ranges {
		if err := checkRange(field, payload[field], r); err != nil {
			return err
		}
	}

	for field, min := range c.Arrays {
		v, present := payload[field]
		if !present || v == nil {
			continue // absence already handled by Required
		}
		arr, ok := v.([]any)
		if !ok {
			return &FieldError{Field: field, Reason: "expected an array"}
		}
		if !partial && len(arr) < min {
			return &FieldError{Field: field, Reason: fmt.Sprintf("needs at least %d entries, has %d", min, len(arr))}
		}
	}

	for field, rule := range c.Items {
		v, present := payload[field]
		if !present || v == nil {
			continue
		}
		arr, ok := v.([]any)
		if !ok {
			return &FieldError{Field: field, Reason: "expected an array"}
		}
		for i, item := range arr {
			obj, ok := item.(map[string]any)
			if !ok {
				return &FieldError{Field: fmt.Sprintf("%s[%d]", field, i), Reason: "expected an object"}
			}
			if err := checkItem(fmt.Sprintf("%s[%d]", field, i), obj, rule, partial); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkItem(path string, obj map[string]any, rule itemRule, partial bool) error {
	if !partial {
		for _, field := range rule.Required {
			v, present := obj[field]
			if !present || v == nil {
				return &FieldError{Field: path + "." + field, Reason: "required field is missing"}
			}
			if s, isStr := v.(string); isStr && s == "" {
				return &FieldError{Field: path + "." + field, Reason: "required field is empty"}
			}
		}
	}
	for _, field := range rule.Slugs {
		if err := checkSlug(path+"."+field, obj[field]); err != nil {
			return err
		}
	}
	for field, r := range rule.Ranges {
		if err := checkRange(path+"."+field, obj[field], r); err != nil {
			return err
		}
	}
	return nil
}

func checkSlug(path string, v any) error {
	if v == nil {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return &FieldError{Field: path, Reason: "expected a string identifier"}
	}
	if !slugPattern.MatchString(s) {
		return &FieldError{Field: path, Reason: fmt.Sprintf("identifier %q is not a lowercase slug", s)}
	}
	return nil
}

func checkRange(path string, v any, r numberRange) error {
	if v == nil {
		return nil
	}
	n, ok := v.(float64)
	if !ok {
		return &FieldError{Field: path, Reason: "expected a number"}
	}
	if n < r.Min || n > r.Max {
		return &FieldError{Field: path, Reason: fmt.Sprintf("value %g outside range %g..%g", n, r.Min, r.Max)}
	}
	return nil
}
