package conversation

import (
	"strings"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

// Heuristic marker lists. The source behaviour is lexical: a marker anywhere
// in the latest user turn trips the signal. Matching is case-insensitive.
var (
	doneMarkers = []string{
		"i'm done",
		"im done",
		"that's everything",
		"thats everything",
		"that's all",
		"thats all",
		"nothing else",
		"nothing more to add",
		"ready to move on",
	}

	inconsistencyMarkers = []string{
		"actually,",
		"actually no",
		"scratch that",
		"i was wrong",
		"no wait",
		"wait, no",
		"changed my mind",
		"forget what i said",
		"that's not right",
		"thats not right",
		"correction:",
	}

	changeRequestMarkers = []string{
		"change",
		"not quite",
		"that's wrong",
		"thats wrong",
		"incorrect",
		"fix",
		"edit",
		"redo",
		"missing",
		"instead",
	}
)

// NextPhase computes the phase that follows the latest turn. Pure and
// deterministic: same (phase, conversation, latest) always yields the same
// answer, and nothing is mutated.
func NextPhase(phase Phase, conv *Conversation, latest *Message) Phase {
	switch phase {
	case PhaseIntro:
		if conv.UserTurns() > 0 {
			return PhaseGather
		}
		return PhaseIntro

	case PhaseGather:
		if latest != nil && latest.Role == RoleUser && containsAny(latest.Content, inconsistencyMarkers) {
			return PhaseClarify
		}
		if Ready(conv) {
			return PhaseExtract
		}
		return PhaseGather

	case PhaseClarify:
		if Ready(conv) {
			return PhaseExtract
		}
		return PhaseGather

	case PhaseExtract:
		// Extraction always yields a confirmation pass.
		return PhaseConfirm

	case PhaseConfirm:
		if latest != nil && latest.Role == RoleUser && containsAny(latest.Content, changeRequestMarkers) {
			return PhaseGather
		}
		return PhaseConfirm
	}
	return phase
}

// Ready reports whether enough dialogue exists to attempt extraction:
// the step's minimum user-turn count, or an explicit done signal from the
// user. Steps with RequiredKeywords additionally need at least one of those
// keywords somewhere in the user's turns before the turn count qualifies.
func Ready(conv *Conversation) bool {
	cfg := step.ConfigFor(conv.StepType)

	if last := lastUserMessage(conv); last != nil && containsAny(last.Content, doneMarkers) {
		return true
	}

	if conv.UserTurns() < cfg.MinUserTurns {
		return false
	}
	if len(cfg.RequiredKeywords) == 0 {
		return true
	}

	var all strings.Builder
	for _, m := range conv.Messages {
		if m.Role == RoleUser {
			all.WriteString(strings.ToLower(m.Content))
			all.WriteByte('\n')
		}
	}
	return containsAny(all.String(), cfg.RequiredKeywords)
}

func lastUserMessage(conv *Conversation) *Message {
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		if conv.Messages[i].Role == RoleUser {
			return &conv.Messages[i]
		}
	}
	return nil
}

func containsAny(content string, markers []string) bool {
	lower := strings.ToLower(content)
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
