package extractor

import (
	"fmt"
	"strings"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

const extractionPreamble = `You are the extraction pass of a decision-analysis assistant. You read a finished dialogue and produce ONLY a JSON object conforming to the target schema. No prose, no markdown, no commentary outside the JSON.

Rules:
- Use only facts the user stated. Never invent values.
- Identifiers are lowercase slugs: letters, digits, hyphens, underscores.
- Omit fields the dialogue does not support rather than guessing.
- Output must be a single valid JSON object.`

var stepSchemas = map[step.Type]string{
	step.Framing: `Target schema:
{
  "problem_statement": string,   // the decision in one sentence, user's words
  "decision_maker": string,      // who decides
  "scope": string,               // optional: what is in and out of bounds
  "trigger": string              // optional: why now
}`,

	step.Objectives: `Target schema:
{
  "objectives": [                // at least 2
    {
      "id": string,              // lowercase slug, e.g. "minimize-cost"
      "name": string,
      "direction": string        // "maximize" or "minimize"
    }
  ]
}`,

	step.Alternatives: `Target schema:
{
  "alternatives": [              // at least 2
    {
      "id": string,              // lowercase slug
      "name": string,
      "description": string      // optional
    }
  ]
}`,

	step.Consequences: `Target schema:
{
  "ratings": [                   // one entry per alternative x objective pair discussed
    {
      "alternative_id": string,  // lowercase slug matching the alternatives step
      "objective_id": string,    // lowercase slug matching the objectives step
      "rating": number,          // integer -2..+2 relative to status quo
      "note": string             // optional
    }
  ]
}`,

	step.Tradeoffs: `Target schema:
{
  "tradeoffs": [                 // at least 1
    {
      "description": string,     // which objectives trade against each other and how
      "objective_ids": [string]  // optional
    }
  ],
  "dominated": [                 // optional: alternatives worse on every objective
    {"alternative_id": string, "dominated_by": string}
  ]
}`,

	step.Uncertainty: `Target schema:
{
  "uncertainties": [             // at least 1
    {
      "description": string,
      "likelihood": number,      // 0..1
      "impact": string           // optional
    }
  ]
}`,

	step.Recommendation: `Target schema:
{
  "choice": string,              // lowercase slug of the recommended alternative
  "rationale": string            // why, referencing objectives and tradeoffs
}`,

	step.Quality: `Target schema:
{
  "scores": [                    // at least 1
    {
      "dimension": string,       // lowercase slug, e.g. "framing", "information"
      "score": number,           // 0..100
      "note": string             // optional
    }
  ]
}`,

	step.Wrapup: `Target schema:
{
  "summary": string,             // the decision and its outcome in a short paragraph
  "next_steps": [                // optional
    {"description": string, "owner": string}
  ]
}`,
}

func extractionSystemPrompt(stepType step.Type) string {
	return extractionPreamble + "\n\n" + stepSchemas[stepType]
}

// userPrompt formats the transcript for the extraction call.
func userPrompt(conv *conversation.Conversation) string {
	var b strings.Builder
	b.WriteString("Extract the structured data from this dialogue.\n\nTranscript:\n")
	for _, m := range conv.Messages {
		switch m.Role {
		case conversation.RoleUser:
			fmt.Fprintf(&b, "Human: %s\n", m.Content)
		case conversation.RoleAssistant:
			fmt.Fprintf(&b, "Assistant: %s\n", m.Content)
		}
	}
	return b.String()
}
