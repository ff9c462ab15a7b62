package session

import (
	"errors"
	"fmt"
)

// ErrBusy is returned by [Controller.Connect] when a session is already
// connecting, live or shutting down. Connect never queues.
var ErrBusy = errors.New("session: a session is already active")

// ErrAborted is returned by [Controller.Connect] when [Controller.Disconnect]
// was called before the session went live.
var ErrAborted = errors.New("session: connect aborted by disconnect")

// Kind classifies session errors.
type Kind int

const (
	// KindPermission means the microphone could not be opened. No remote
	// resource is acquired when this happens.
	KindPermission Kind = iota + 1

	// KindChannel covers dialing, handshake, receive and send failures on the
	// remote channel.
	KindChannel

	// KindDecode marks an inbound audio payload that could not be decoded.
	// Non-fatal.
	KindDecode

	// KindValidation marks a malformed tool invocation. Non-fatal.
	KindValidation

	// KindDevice marks a speaker failure or microphone loss during a session.
	KindDevice
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindPermission:
		return "permission"
	case KindChannel:
		return "channel"
	case KindDecode:
		return "decode"
	case KindValidation:
		return "validation"
	case KindDevice:
		return "device"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is the error type reported through [Callbacks.OnError], the error
// observer and the return value of [Controller.Connect].
type Error struct {
	Kind Kind

	// Op names the step that failed, e.g. "open microphone" or "receive".
	Op string

	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is or wraps an [*Error] of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
