package chatstate

import "github.com/mickgian/pratiko-chat/internal/apitypes"

// Action is the tagged union the reducer consumes. Every mutation of the
// transcript or of the streaming status goes through exactly one of these.
type Action interface {
	Name() string
}

type AddUserMessage struct {
	Message apitypes.Message
}

type StartAIStream struct {
	MessageID string
}

type AppendToken struct {
	MessageID string
	Delta     string
}

type CompleteStream struct {
	MessageID string
}

type SetError struct {
	MessageID string
	Err       *apitypes.StructuredError
}

type SetUsageLimit struct {
	Info apitypes.LimitInfo
}

type ForceStopStreaming struct{}

// AddCommandResponse appends a command-type message to the transcript.
// Reserved for commands that render inline; /utilizzo opens a dialog and
// does not use it.
type AddCommandResponse struct {
	Message apitypes.Message
}

// LoadSession replaces the transcript wholesale: session switch, backend
// reload after migration, and the clear that follows deleting the active
// session all go through it.
type LoadSession struct {
	SessionID string
	Messages  []apitypes.Message
}

// ClearUsageLimit removes the limit banner, e.g. after a server-side
// usage reset.
type ClearUsageLimit struct{}

func (AddUserMessage) Name() string     { return "ADD_USER_MESSAGE" }
func (StartAIStream) Name() string      { return "START_AI_STREAM" }
func (AppendToken) Name() string        { return "APPEND_TOKEN" }
func (CompleteStream) Name() string     { return "COMPLETE_STREAM" }
func (SetError) Name() string           { return "SET_ERROR" }
func (SetUsageLimit) Name() string      { return "SET_USAGE_LIMIT" }
func (ForceStopStreaming) Name() string { return "FORCE_STOP_STREAMING" }
func (AddCommandResponse) Name() string { return "ADD_COMMAND_RESPONSE" }
func (LoadSession) Name() string        { return "LOAD_SESSION" }
func (ClearUsageLimit) Name() string    { return "CLEAR_USAGE_LIMIT" }
