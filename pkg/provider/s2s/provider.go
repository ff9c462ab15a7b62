// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time conversational voice service that accepts
// raw microphone audio and answers with synthesised speech in a single,
// stateful session. Examples are the Gemini Live API and the OpenAI Realtime
// API.
//
// The central abstraction is SessionHandle: a bidirectional channel whose
// inbound side multiplexes audio, transcript deltas, turn boundaries,
// interruptions and tool calls onto one ordered stream of [Event] values.
// Consumers switch on the concrete event type.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/types"
)

var (
	// ErrSessionClosed is returned by send methods after Close.
	ErrSessionClosed = errors.New("s2s: session closed")

	// ErrMalformedAudio marks an inbound audio payload that could not be
	// decoded from its wire encoding. It is delivered inside an [ErrorEvent].
	ErrMalformedAudio = errors.New("s2s: malformed inline audio")
)

// ToolDefinition declares a function the model may call during a session.
type ToolDefinition struct {
	// Name is the function name the model uses to invoke the tool.
	Name string

	// Description tells the model when to call the tool.
	Description string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters map[string]any
}

// SessionConfig is the initial configuration for a new S2S session.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name. Empty selects the
	// provider default.
	Voice string

	// Instructions is the system-level prompt that defines the model's role
	// for the whole session.
	Instructions string

	// Tools is the set of tools offered to the model.
	Tools []ToolDefinition
}

// Formats describes the PCM formats a session exchanges.
type Formats struct {
	// Input is the format SendAudio expects.
	Input audio.Format

	// Output is the format of AudioEvent payloads.
	Output audio.Format
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	Formats Formats

	// MaxSessionDuration is the hard upper bound on session lifetime imposed by
	// the provider. Zero means no documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the prebuilt voice names the provider offers.
	Voices []string
}

// ToolCall is one function invocation requested by the model.
type ToolCall struct {
	// ID correlates the call with its [ToolResponse]. Some providers omit it.
	ID   string
	Name string
	Args map[string]any
}

// ToolResponse is the reply to a [ToolCall].
type ToolResponse struct {
	ID     string
	Name   string
	Result map[string]any
}

// Event is an inbound message from the remote model. The concrete type is one
// of [AudioEvent], [TranscriptEvent], [TurnCompleteEvent], [InterruptedEvent],
// [ToolCallEvent] or [ErrorEvent].
type Event interface {
	isEvent()
}

// AudioEvent carries one chunk of synthesised speech as PCM16 in the
// session's output format.
type AudioEvent struct {
	Data []byte
}

// TranscriptEvent carries an incremental transcript delta. Deltas are
// fragments to be concatenated, not replacements.
type TranscriptEvent struct {
	Role types.Role
	Text string
}

// TurnCompleteEvent marks the end of the model's turn.
type TurnCompleteEvent struct{}

// InterruptedEvent reports that the caller spoke over the model and the model
// abandoned its current response.
type InterruptedEvent struct{}

// ToolCallEvent carries one or more function invocations.
type ToolCallEvent struct {
	Calls []ToolCall
}

// ErrorEvent reports a non-fatal problem with one inbound message. The session
// stays open.
type ErrorEvent struct {
	Err error
}

func (AudioEvent) isEvent()        {}
func (TranscriptEvent) isEvent()   {}
func (TurnCompleteEvent) isEvent() {}
func (InterruptedEvent) isEvent()  {}
func (ToolCallEvent) isEvent()     {}
func (ErrorEvent) isEvent()        {}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// All methods must be safe for concurrent use. Callers must call Close when the
// session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one PCM16 chunk in the session's input format.
	SendAudio(chunk []byte) error

	// SendToolResponse replies to a tool call.
	SendToolResponse(resp ToolResponse) error

	// Events returns the ordered stream of inbound events. The channel is
	// closed when the session ends; call Err afterwards to learn whether it
	// ended cleanly.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil if the remote side
	// closed it normally or Close was called.
	Err() error

	// Formats returns the PCM formats negotiated for this session.
	Formats() Formats

	// Close terminates the session and closes the Events channel. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session. It returns once the remote side has
	// acknowledged the session setup, so the handle is ready to accept audio.
	// The caller owns the handle and is responsible for calling Close.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about this provider.
	Capabilities() Capabilities
}
