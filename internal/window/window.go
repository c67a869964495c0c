// Package window bounds the message set sent on each model call to the
// step's token budget.
package window

import (
	"fmt"
	"strings"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/conversation"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// digestReserve is carved out of the walk limit whenever history must be
// dropped, so the synthesized digest never pushes the total over budget.
const digestReserve = 80

// digestClipChars clips each quoted turn inside the digest.
const digestClipChars = 80

// Window is the bounded context for one model call.
type Window struct {
	System        string
	Messages      []conversation.Message
	TokenEstimate int
	Dropped       int
}

// Build selects the system prompt plus as many recent messages as fit under
// the step's budget minus its response reserve. The walk runs newest to
// oldest; estimates use the stored per-message count when present, falling
// back to the length/4 heuristic. When any history is dropped, exactly one
// system-role digest of the earliest dropped user turns is injected
// immediately after the system prompt.
func Build(conv *conversation.Conversation) Window {
	cfg := step.ConfigFor(conv.StepType)
	limit := cfg.TokenBudget - cfg.ReservedTokens

	kept, total := walk(conv.Messages, limit-estimate(systemMessage(conv)))
	if len(kept) == len(conv.Messages) {
		return Window{
			System:        conv.SystemPrompt,
			Messages:      kept,
			TokenEstimate: total + estimate(systemMessage(conv)),
		}
	}

	// Rerun with room reserved for the digest, then prepend it.
	kept, total = walk(conv.Messages, limit-estimate(systemMessage(conv))-digestReserve)
	dropped := conv.Messages[:len(conv.Messages)-len(kept)]
	digest := digestMessage(dropped)

	msgs := make([]conversation.Message, 0, len(kept)+1)
	msgs = append(msgs, digest)
	msgs = append(msgs, kept...)

	return Window{
		System:        conv.SystemPrompt,
		Messages:      msgs,
		TokenEstimate: total + estimate(systemMessage(conv)) + estimate(digest),
		Dropped:       len(dropped),
	}
}

// walk keeps the newest suffix of msgs whose estimates fit under limit,
// preserving original order.
func walk(msgs []conversation.Message, limit int) ([]conversation.Message, int) {
	total := 0
	start := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		cost := estimate(msgs[i])
		if total+cost > limit {
			break
		}
		total += cost
		start = i
	}
	return msgs[start:], total
}

func estimate(m conversation.Message) int {
	if m.TokenEstimate > 0 {
		return m.TokenEstimate
	}
	return conversation.EstimateTokens(m.Content)
}

func systemMessage(conv *conversation.Conversation) conversation.Message {
	return conversation.Message{Role: conversation.RoleSystem, Content: conv.SystemPrompt}
}

// digestMessage builds a deterministic one-message summary of dropped
// history: the drop count plus the first dropped user turns, clipped.
func digestMessage(dropped []conversation.Message) conversation.Message {
	var quotes []string
	for _, m := range dropped {
		if m.Role != conversation.RoleUser {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if len(content) > digestClipChars {
			content = content[:digestClipChars] + "..."
		}
		quotes = append(quotes, content)
		if len(quotes) == 2 {
			break
		}
	}
	text := fmt.Sprintf("[Earlier history truncated: %d messages omitted.", len(dropped))
	if len(quotes) > 0 {
		text += " The user's earliest points included: " + strings.Join(quotes, " | ")
	}
	text += "]"
	return conversation.Message{Role: conversation.RoleSystem, Content: text}
}
