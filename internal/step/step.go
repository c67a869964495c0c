package step

import "fmt"

// Type identifies one of the nine fixed dialogue steps of a decision cycle.
type Type string

const (
	Framing        Type = "framing"
	Objectives     Type = "objectives"
	Alternatives   Type = "alternatives"
	Consequences   Type = "consequences"
	Tradeoffs      Type = "tradeoffs"
	Uncertainty    Type = "uncertainty"
	Recommendation Type = "recommendation"
	Quality        Type = "quality"
	Wrapup         Type = "wrapup"
)

// All lists every step kind in cycle order.
var All = []Type{
	Framing,
	Objectives,
	Alternatives,
	Consequences,
	Tradeoffs,
	Uncertainty,
	Recommendation,
	Quality,
	Wrapup,
}

// Parse converts a wire string into a Type, rejecting unknown kinds.
func Parse(s string) (Type, error) {
	for _, t := range All {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown step type %q", s)
}

// Config holds the per-step tuning the shared engine reads instead of
// per-step subclassing: readiness thresholds, context-window budgets and
// extraction limits.
type Config struct {
	Label            string
	MinUserTurns     int
	RequiredKeywords []string
	TokenBudget      int
	ReservedTokens   int
	MaxExtractTokens int
}

var configs = map[Type]Config{
	Framing: {
		Label:            "Problem Framing",
		MinUserTurns:     2,
		RequiredKeywords: []string{"decision maker", "decide", "choice"},
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Objectives: {
		Label:            "Objectives",
		MinUserTurns:     3,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Alternatives: {
		Label:            "Alternatives",
		MinUserTurns:     2,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Consequences: {
		Label:            "Consequence Rating",
		MinUserTurns:     5,
		TokenBudget:      32000,
		ReservedTokens:   4000,
		MaxExtractTokens: 4096,
	},
	Tradeoffs: {
		Label:            "Tradeoffs",
		MinUserTurns:     4,
		TokenBudget:      32000,
		ReservedTokens:   4000,
		MaxExtractTokens: 4096,
	},
	Uncertainty: {
		Label:            "Uncertainty",
		MinUserTurns:     3,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Recommendation: {
		Label:            "Recommendation",
		MinUserTurns:     3,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Quality: {
		Label:            "Decision Quality",
		MinUserTurns:     2,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 2048,
	},
	Wrapup: {
		Label:            "Wrap-up",
		MinUserTurns:     1,
		TokenBudget:      16000,
		ReservedTokens:   2000,
		MaxExtractTokens: 1024,
	},
}

// ConfigFor returns the tuning table entry for a step kind.
func ConfigFor(t Type) Config {
	return configs[t]
}
