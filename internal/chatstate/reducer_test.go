package chatstate

import (
	"testing"

	"github.com/mickgian/pratiko-chat/internal/apitypes"
)

func userMsg(id, content string) apitypes.Message {
	return apitypes.Message{ID: id, Type: apitypes.MessageTypeUser, Content: content}
}

func TestReduce_NormalTurn(t *testing.T) {
	s := State{SessionID: "s1"}

	s = Reduce(s, AddUserMessage{Message: userMsg("u1", "ciao")})
	s = Reduce(s, StartAIStream{MessageID: "a1"})

	if !s.IsStreaming || s.ActiveMessageID != "a1" {
		t.Fatalf("expected streaming on a1, got streaming=%v active=%q", s.IsStreaming, s.ActiveMessageID)
	}
	if len(s.Messages) != 2 {
		t.Fatalf("expected user message + placeholder, got %d messages", len(s.Messages))
	}
	if s.Messages[1].Type != apitypes.MessageTypeAI || s.Messages[1].Content != "" {
		t.Fatalf("placeholder must be an empty ai message, got %+v", s.Messages[1])
	}

	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "Buon"})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "giorno"})
	s = Reduce(s, CompleteStream{MessageID: "a1"})

	if s.IsStreaming || s.ActiveMessageID != "" {
		t.Fatalf("stream should be terminal, got streaming=%v active=%q", s.IsStreaming, s.ActiveMessageID)
	}
	if got := s.Messages[1].Content; got != "Buongiorno" {
		t.Fatalf("unexpected assembled content: %q", got)
	}
}

func TestReduce_StaleTokensAreDropped(t *testing.T) {
	s := State{}
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "prima"})
	s = Reduce(s, CompleteStream{MessageID: "a1"})

	// New turn begins; a late batch for the old id must not apply.
	s = Reduce(s, StartAIStream{MessageID: "a2"})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: " tardiva"})
	s = Reduce(s, AppendToken{MessageID: "a2", Delta: "seconda"})

	if got := s.Messages[0].Content; got != "prima" {
		t.Fatalf("stale token applied to old message: %q", got)
	}
	if got := s.Messages[1].Content; got != "seconda" {
		t.Fatalf("unexpected content on active message: %q", got)
	}
}

func TestReduce_TokensAfterForceStopAreDropped(t *testing.T) {
	s := State{}
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "parz"})
	s = Reduce(s, ForceStopStreaming{})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "iale"})

	if s.IsStreaming {
		t.Fatalf("force stop must end streaming")
	}
	if got := s.Messages[0].Content; got != "parz" {
		t.Fatalf("token applied after force stop: %q", got)
	}
}

func TestReduce_ForceStopIsNoOpWhenIdle(t *testing.T) {
	s := State{Messages: []apitypes.Message{userMsg("u1", "ciao")}}
	got := Reduce(s, ForceStopStreaming{})
	if got.IsStreaming || len(got.Messages) != 1 {
		t.Fatalf("force stop on idle state must be a no-op, got %+v", got)
	}
}

func TestReduce_ForceStopDropsUntouchedPlaceholder(t *testing.T) {
	s := State{}
	s = Reduce(s, AddUserMessage{Message: userMsg("u1", "ciao")})
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, ForceStopStreaming{})

	if len(s.Messages) != 1 {
		t.Fatalf("empty placeholder should be removed, got %d messages", len(s.Messages))
	}
	if s.Messages[0].ID != "u1" {
		t.Fatalf("wrong message kept: %+v", s.Messages[0])
	}
}

func TestReduce_UsageLimitBannerIndependentOfStream(t *testing.T) {
	s := State{}
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, AppendToken{MessageID: "a1", Delta: "metà risp"})

	limit := apitypes.LimitInfo{CostConsumedEUR: 2.4, CostLimitEUR: 2.0}
	s = Reduce(s, SetUsageLimit{Info: limit})
	if s.UsageLimit == nil || s.UsageLimit.CostConsumedEUR != 2.4 {
		t.Fatalf("usage limit not recorded: %+v", s.UsageLimit)
	}
	if !s.IsStreaming {
		t.Fatalf("SET_USAGE_LIMIT alone must not stop the stream")
	}

	s = Reduce(s, ForceStopStreaming{})
	if s.IsStreaming {
		t.Fatalf("stream still active after force stop")
	}
	if got := s.Messages[0].Content; got != "metà risp" {
		t.Fatalf("partial content lost on force stop: %q", got)
	}

	s = Reduce(s, ClearUsageLimit{})
	if s.UsageLimit != nil {
		t.Fatalf("usage limit banner not cleared")
	}
}

func TestReduce_SetErrorRendersInline(t *testing.T) {
	s := State{}
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, SetError{MessageID: "a1", Err: &apitypes.StructuredError{
		Type:      apitypes.ErrTypeServer,
		MessageIT: "Si è verificato un errore. Riprova.",
	}})

	if s.IsStreaming {
		t.Fatalf("errored turn must be terminal")
	}
	if s.LastError == nil || s.LastError.Type != apitypes.ErrTypeServer {
		t.Fatalf("last error not recorded: %+v", s.LastError)
	}
	if got := s.Messages[0].Content; got != "Si è verificato un errore. Riprova." {
		t.Fatalf("error not rendered inline: %q", got)
	}
}

func TestReduce_StartWhileStreamingIsRejected(t *testing.T) {
	s := State{}
	s = Reduce(s, StartAIStream{MessageID: "a1"})
	s = Reduce(s, StartAIStream{MessageID: "a2"})

	if s.ActiveMessageID != "a1" {
		t.Fatalf("second stream start must be ignored, active=%q", s.ActiveMessageID)
	}
	if len(s.Messages) != 1 {
		t.Fatalf("expected a single placeholder, got %d messages", len(s.Messages))
	}
}

func TestReduce_LoadSessionReplacesTranscriptKeepsBanner(t *testing.T) {
	limit := apitypes.LimitInfo{CostConsumedEUR: 3, CostLimitEUR: 2}
	s := State{SessionID: "s1", UsageLimit: &limit}
	s = Reduce(s, AddUserMessage{Message: userMsg("u1", "vecchio")})

	s = Reduce(s, LoadSession{SessionID: "s2", Messages: []apitypes.Message{userMsg("u2", "nuovo")}})
	if s.SessionID != "s2" || len(s.Messages) != 1 || s.Messages[0].ID != "u2" {
		t.Fatalf("transcript not replaced: %+v", s)
	}
	if s.UsageLimit == nil {
		t.Fatalf("limit banner must survive a session switch")
	}
	if s.IsStreaming || s.ActiveMessageID != "" || s.LastError != nil {
		t.Fatalf("streaming state must reset on load")
	}
}

func TestReduce_AddCommandResponse(t *testing.T) {
	s := State{}
	s = Reduce(s, AddCommandResponse{Message: apitypes.Message{
		ID: "c1", Type: apitypes.MessageTypeCommand, Content: "esempio",
	}})
	if len(s.Messages) != 1 || s.Messages[0].Type != apitypes.MessageTypeCommand {
		t.Fatalf("command response not appended: %+v", s.Messages)
	}
}

func TestReduce_PurityOfInputState(t *testing.T) {
	orig := State{}
	orig = Reduce(orig, StartAIStream{MessageID: "a1"})
	snapshot := orig.Messages[0].Content

	_ = Reduce(orig, AppendToken{MessageID: "a1", Delta: "mutato?"})
	if orig.Messages[0].Content != snapshot {
		t.Fatalf("Reduce mutated its input state")
	}
}
