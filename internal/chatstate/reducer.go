package chatstate

import "github.com/mickgian/pratiko-chat/internal/apitypes"

// State is the single source of truth for the transcript and the
// streaming status of one session.
type State struct {
	SessionID       string
	Messages        []apitypes.Message
	ActiveMessageID string
	IsStreaming     bool
	LastError       *apitypes.StructuredError
	UsageLimit      *apitypes.LimitInfo
}

// Reduce applies one action and returns the next state. It is a pure
// function: the input state is never mutated, and token batches whose
// message id no longer matches ActiveMessageID are dropped silently.
func Reduce(s State, a Action) State {
	switch act := a.(type) {
	case AddUserMessage:
		s.Messages = appendMessage(s.Messages, act.Message)
		return s

	case StartAIStream:
		// One active stream per session.
		if s.IsStreaming {
			return s
		}
		s.Messages = appendMessage(s.Messages, apitypes.Message{
			ID:   act.MessageID,
			Type: apitypes.MessageTypeAI,
		})
		s.ActiveMessageID = act.MessageID
		s.IsStreaming = true
		s.LastError = nil
		return s

	case AppendToken:
		if !s.IsStreaming || act.MessageID != s.ActiveMessageID {
			return s
		}
		s.Messages = updateMessage(s.Messages, act.MessageID, func(m *apitypes.Message) {
			m.Content += act.Delta
		})
		return s

	case CompleteStream:
		if !s.IsStreaming || act.MessageID != s.ActiveMessageID {
			return s
		}
		s.ActiveMessageID = ""
		s.IsStreaming = false
		return s

	case SetError:
		if !s.IsStreaming || act.MessageID != s.ActiveMessageID {
			return s
		}
		s.Messages = updateMessage(s.Messages, act.MessageID, func(m *apitypes.Message) {
			if m.Content == "" {
				m.Content = act.Err.MessageIT
			} else {
				m.Content += "\n\n" + act.Err.MessageIT
			}
		})
		s.ActiveMessageID = ""
		s.IsStreaming = false
		s.LastError = act.Err
		return s

	case SetUsageLimit:
		info := act.Info
		s.UsageLimit = &info
		return s

	case ForceStopStreaming:
		// Callable at any time; a no-op when nothing is streaming.
		if !s.IsStreaming {
			return s
		}
		s.Messages = dropIfEmpty(s.Messages, s.ActiveMessageID)
		s.ActiveMessageID = ""
		s.IsStreaming = false
		return s

	case AddCommandResponse:
		s.Messages = appendMessage(s.Messages, act.Message)
		return s

	case LoadSession:
		return State{
			SessionID:  act.SessionID,
			Messages:   append([]apitypes.Message(nil), act.Messages...),
			UsageLimit: s.UsageLimit,
		}

	case ClearUsageLimit:
		s.UsageLimit = nil
		return s
	}

	return s
}

func appendMessage(msgs []apitypes.Message, m apitypes.Message) []apitypes.Message {
	out := make([]apitypes.Message, 0, len(msgs)+1)
	out = append(out, msgs...)
	return append(out, m)
}

func updateMessage(msgs []apitypes.Message, id string, fn func(*apitypes.Message)) []apitypes.Message {
	out := append([]apitypes.Message(nil), msgs...)
	for i := range out {
		if out[i].ID == id {
			fn(&out[i])
			break
		}
	}
	return out
}

// dropIfEmpty removes the message with the given id when its content is
// still empty. A force-stopped placeholder that never received a token
// would otherwise linger as an empty AI bubble.
func dropIfEmpty(msgs []apitypes.Message, id string) []apitypes.Message {
	for i := range msgs {
		if msgs[i].ID == id && msgs[i].Content == "" {
			out := append([]apitypes.Message(nil), msgs[:i]...)
			return append(out, msgs[i+1:]...)
		}
	}
	return msgs
}
