package extractor

import (
	"fmt"
	"time"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// Extraction is a structured payload pulled out of a dialogue, awaiting
// user confirmation. Payload shape depends on the step kind; the schema
// package is the single point enforcing it.
type Extraction struct {
	StepType    step.Type      `json:"step_type"`
	Payload     map[string]any `json:"payload"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// ParseError reports model output that was not valid JSON.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse extraction: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
