// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out controlled sessions.
// Use Session to script inbound events and inspect what the session
// controller sent.
//
// Example:
//
//	p := &mock.Provider{}
//	handle, _ := p.Connect(ctx, cfg)
//	sess := p.Last()
//	sess.Emit(s2s.TranscriptEvent{Role: types.RoleCaller, Text: "Hello"})
//	sess.End(nil)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
)

// DefaultFormats is used by sessions created without explicit formats.
var DefaultFormats = s2s.Formats{
	Input:  audio.Format{SampleRate: 16000, Channels: 1},
	Output: audio.Format{SampleRate: 24000, Channels: 1},
}

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, every Connect
	// returns a fresh *Session using ProviderCapabilities.Formats (or
	// DefaultFormats when zero).
	Session s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities s2s.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall

	// Sessions records every session created by Connect when Session is nil.
	Sessions []*Session
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	formats := p.ProviderCapabilities.Formats
	if formats.Input.SampleRate == 0 {
		formats = DefaultFormats
	}
	sess := NewSession(formats)
	p.Sessions = append(p.Sessions, sess)
	return sess, nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() s2s.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// ConnectCount returns the number of Connect calls so far.
func (p *Provider) ConnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Last returns the most recently created session, or nil.
func (p *Provider) Last() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Sessions) == 0 {
		return nil
	}
	return p.Sessions[len(p.Sessions)-1]
}

// Ensure Provider implements s2s.Provider at compile time.
var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle. Inbound events are
// scripted with Emit and the session is ended with End or Close.
type Session struct {
	mu sync.Mutex

	events  chan s2s.Event
	done    chan struct{}
	formats s2s.Formats
	errVal  error
	ended   bool

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// SendToolResponseErr, if non-nil, is returned by every SendToolResponse call.
	SendToolResponseErr error

	// SendAudioCalls holds a copy of every chunk passed to SendAudio.
	SendAudioCalls [][]byte

	// ToolResponses records every SendToolResponse call.
	ToolResponses []s2s.ToolResponse

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns an open session exchanging the given formats.
func NewSession(formats s2s.Formats) *Session {
	return &Session{
		events:  make(chan s2s.Event, 64),
		done:    make(chan struct{}),
		formats: formats,
	}
}

// Emit queues ev on the Events channel. It reports false if the session has
// already ended.
func (s *Session) Emit(ev s2s.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- ev
	return true
}

// End closes the Events channel as if the remote side ended the session.
// A nil err models a normal closure.
func (s *Session) End(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.errVal = err
	s.ended = true
	close(s.events)
	close(s.done)
}

// Ended is closed once the session was ended by End or Close.
func (s *Session) Ended() <-chan struct{} { return s.done }

// SendAudio records the chunk and returns SendAudioErr. After the session
// ended it returns s2s.ErrSessionClosed.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.SendAudioCalls = append(s.SendAudioCalls, append([]byte(nil), chunk...))
	return nil
}

// SendToolResponse records the response and returns SendToolResponseErr.
func (s *Session) SendToolResponse(resp s2s.ToolResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return s2s.ErrSessionClosed
	}
	if s.SendToolResponseErr != nil {
		return s.SendToolResponseErr
	}
	s.ToolResponses = append(s.ToolResponses, resp)
	return nil
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// Err returns the error passed to End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Formats returns the formats the session was created with.
func (s *Session) Formats() s2s.Formats { return s.formats }

// Close ends the session and counts the call. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// AudioChunks returns a snapshot of the chunks sent so far.
func (s *Session) AudioChunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.SendAudioCalls...)
}

// Responses returns a snapshot of the tool responses sent so far.
func (s *Session) Responses() []s2s.ToolResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]s2s.ToolResponse(nil), s.ToolResponses...)
}

// Closes returns how many times Close was called.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

// Ensure Session implements s2s.SessionHandle at compile time.
var _ s2s.SessionHandle = (*Session)(nil)
