package conversation

import (
	"testing"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/step"
)

func withUserTurns(t *testing.T, kind step.Type, turns ...string) *Conversation {
	t.Helper()
	conv := newActive(t, kind)
	for _, content := range turns {
		if _, err := conv.ReceiveUserMessage(content); err != nil {
			t.Fatalf("receive %q: %v", content, err)
		}
	}
	return conv
}

func TestNextPhase_IntroToGatherOnFirstUserMessage(t *testing.T) {
	conv := newActive(t, step.Objectives)
	if got := NextPhase(PhaseIntro, conv, conv.LastMessage()); got != PhaseIntro {
		t.Errorf("no user turns yet: expected intro, got %s", got)
	}

	conv = withUserTurns(t, step.Objectives, "I care about cost")
	if got := NextPhase(PhaseIntro, conv, conv.LastMessage()); got != PhaseGather {
		t.Errorf("expected gather, got %s", got)
	}
}

func TestNextPhase_GatherToExtractWhenReady(t *testing.T) {
	conv := withUserTurns(t, step.Alternatives,
		"Option one is to build in-house",
		"Option two is to buy a vendor product",
		"Option three is to do nothing for a year",
	)
	if got := NextPhase(PhaseGather, conv, conv.LastMessage()); got != PhaseExtract {
		t.Errorf("expected extract, got %s", got)
	}
}

func TestNextPhase_GatherStaysGatherWhenNotReady(t *testing.T) {
	conv := withUserTurns(t, step.Consequences, "the first rating is +1")
	if got := NextPhase(PhaseGather, conv, conv.LastMessage()); got != PhaseGather {
		t.Errorf("expected gather, got %s", got)
	}
}

func TestNextPhase_GatherToClarifyOnInconsistency(t *testing.T) {
	conv := withUserTurns(t, step.Objectives,
		"Cost matters most",
		"Actually, scratch that, speed matters most",
	)
	if got := NextPhase(PhaseGather, conv, conv.LastMessage()); got != PhaseClarify {
		t.Errorf("expected clarify, got %s", got)
	}
}

func TestNextPhase_ClarifyResolvesToExtractOrGather(t *testing.T) {
	conv := withUserTurns(t, step.Wrapup, "We chose the vendor, next step is contract review")
	if got := NextPhase(PhaseClarify, conv, conv.LastMessage()); got != PhaseExtract {
		t.Errorf("ready: expected extract, got %s", got)
	}

	conv = withUserTurns(t, step.Consequences, "only one rating so far")
	if got := NextPhase(PhaseClarify, conv, conv.LastMessage()); got != PhaseGather {
		t.Errorf("not ready: expected gather, got %s", got)
	}
}

func TestNextPhase_ExtractAlwaysYieldsConfirm(t *testing.T) {
	conv := withUserTurns(t, step.Framing, "We must decide which office to close")
	if got := NextPhase(PhaseExtract, conv, conv.LastMessage()); got != PhaseConfirm {
		t.Errorf("expected confirm, got %s", got)
	}
}

func TestNextPhase_ConfirmHonoursChangeRequests(t *testing.T) {
	conv := withUserTurns(t, step.Framing, "Please change the second objective")
	if got := NextPhase(PhaseConfirm, conv, conv.LastMessage()); got != PhaseGather {
		t.Errorf("expected gather on change request, got %s", got)
	}

	conv = withUserTurns(t, step.Framing, "Looks good to me")
	if got := NextPhase(PhaseConfirm, conv, conv.LastMessage()); got != PhaseConfirm {
		t.Errorf("expected confirm to hold, got %s", got)
	}
}

func TestNextPhase_Deterministic(t *testing.T) {
	conv := withUserTurns(t, step.Objectives, "cost", "speed", "quality of hires")
	latest := conv.LastMessage()
	first := NextPhase(PhaseGather, conv, latest)
	for i := 0; i < 10; i++ {
		if got := NextPhase(PhaseGather, conv, latest); got != first {
			t.Fatalf("run %d: got %s, first run gave %s", i, got, first)
		}
	}
}

func TestReady_DefaultTurnCount(t *testing.T) {
	conv := withUserTurns(t, step.Objectives, "cost", "speed")
	if Ready(conv) {
		t.Error("2 turns on objectives should not be ready")
	}
	if _, err := conv.ReceiveUserMessage("quality"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !Ready(conv) {
		t.Error("3 turns on objectives should be ready")
	}
}

func TestReady_ExplicitDoneSignal(t *testing.T) {
	conv := withUserTurns(t, step.Consequences, "only one thing to say, I'm done")
	if !Ready(conv) {
		t.Error("explicit done signal should short-circuit the turn count")
	}
}

func TestReady_FramingNeedsKeywordCoverage(t *testing.T) {
	conv := withUserTurns(t, step.Framing,
		"The situation is messy",
		"There is a lot of history here",
	)
	if Ready(conv) {
		t.Error("framing without decision vocabulary should not be ready")
	}

	conv = withUserTurns(t, step.Framing,
		"I have to decide whether to relocate",
		"I am the decision maker here",
	)
	if !Ready(conv) {
		t.Error("framing with keyword coverage and enough turns should be ready")
	}
}

func TestReady_ConsequencesNeedMoreTurns(t *testing.T) {
	conv := withUserTurns(t, step.Consequences,
		"alpha vs cost: +1", "alpha vs speed: -2", "beta vs cost: 0", "beta vs speed: +2",
	)
	if Ready(conv) {
		t.Error("4 turns on consequences should not be ready")
	}
	if _, err := conv.ReceiveUserMessage("gamma vs cost: -1"); err != nil {
		t.Fatalf("receive: %v", err)
	}
	if !Ready(conv) {
		t.Error("5 turns on consequences should be ready")
	}
}
