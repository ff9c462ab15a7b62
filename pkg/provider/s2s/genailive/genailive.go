// Package genailive implements s2s.Provider on top of the official Google Gen AI
// SDK's Live client.
//
// It speaks the same BidiGenerateContent protocol as package gemini but lets the
// SDK own the transport, which also makes the Vertex AI backend reachable.
// Server messages are mapped onto s2s.Event values by [toEvents].
package genailive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/MrWong99/voxcoach/pkg/audio"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	"github.com/MrWong99/voxcoach/pkg/types"
)

var _ s2s.Provider = (*Provider)(nil)
var _ s2s.SessionHandle = (*session)(nil)

const (
	defaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"
	inputMIME    = "audio/pcm;rate=16000"
	eventBuffer  = 64
)

var formats = s2s.Formats{
	Input:  audio.Format{SampleRate: 16000, Channels: 1},
	Output: audio.Format{SampleRate: 24000, Channels: 1},
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Live model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithVertex routes sessions through Vertex AI in the given project and
// location instead of the Gemini API.
func WithVertex(project, location string) Option {
	return func(p *Provider) {
		p.cfg.Backend = genai.BackendVertexAI
		p.cfg.Project = project
		p.cfg.Location = location
	}
}

// Provider implements s2s.Provider using genai.Client.Live.
type Provider struct {
	cfg   genai.ClientConfig
	model string

	once   sync.Once
	client *genai.Client
	err    error
}

// New returns a Provider authenticating with apiKey. The SDK client is
// created lazily on the first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		cfg:   genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI},
		model: defaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Capabilities returns static metadata about the Live API.
func (p *Provider) Capabilities() s2s.Capabilities {
	return s2s.Capabilities{
		Formats:            formats,
		MaxSessionDuration: 15 * time.Minute,
		Voices:             []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"},
	}
}

func (p *Provider) getClient(ctx context.Context) (*genai.Client, error) {
	p.once.Do(func() {
		p.client, p.err = genai.NewClient(ctx, &p.cfg)
	})
	return p.client, p.err
}

// Connect opens a Live session and waits for the setupComplete message.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	client, err := p.getClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("genailive: client: %w", err)
	}

	live, err := client.Live.Connect(ctx, p.model, connectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	msg, err := live.Receive()
	if err != nil {
		live.Close()
		return nil, fmt.Errorf("genailive: await setupComplete: %w", err)
	}
	if msg.SetupComplete == nil {
		live.Close()
		return nil, errors.New("genailive: first server message was not setupComplete")
	}

	sess := &session{
		live:   live,
		events: make(chan s2s.Event, eventBuffer),
		done:   make(chan struct{}),
	}
	go sess.receiveLoop()
	return sess, nil
}

// connectConfig translates a session config into the SDK's setup options.
func connectConfig(cfg s2s.SessionConfig) *genai.LiveConnectConfig {
	cc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if cfg.Instructions != "" {
		cc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: cfg.Instructions}}}
	}
	if cfg.Voice != "" {
		cc.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if len(cfg.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, len(cfg.Tools))
		for i, t := range cfg.Tools {
			decls[i] = &genai.FunctionDeclaration{
				Name:                 t.Name,
				Description:          t.Description,
				ParametersJsonSchema: t.Parameters,
			}
		}
		cc.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	return cc
}

// toEvents maps one Live server message onto s2s events in delivery order:
// tool calls, audio parts, caller transcript, peer transcript, turn complete,
// interrupted.
func toEvents(msg *genai.LiveServerMessage) []s2s.Event {
	if msg == nil {
		return nil
	}
	var out []s2s.Event

	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		calls := make([]s2s.ToolCall, 0, len(msg.ToolCall.FunctionCalls))
		for _, fc := range msg.ToolCall.FunctionCalls {
			if fc == nil {
				continue
			}
			calls = append(calls, s2s.ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, s2s.ToolCallEvent{Calls: calls})
	}

	sc := msg.ServerContent
	if sc == nil {
		return out
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.Thought || p.InlineData == nil {
				continue
			}
			if len(p.InlineData.Data) == 0 {
				out = append(out, s2s.ErrorEvent{Err: fmt.Errorf("genailive: %w: empty inline data", s2s.ErrMalformedAudio)})
				continue
			}
			out = append(out, s2s.AudioEvent{Data: p.InlineData.Data})
		}
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		out = append(out, s2s.TranscriptEvent{Role: types.RoleCaller, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		out = append(out, s2s.TranscriptEvent{Role: types.RolePeer, Text: sc.OutputTranscription.Text})
	}
	if sc.TurnComplete {
		out = append(out, s2s.TurnCompleteEvent{})
	}
	if sc.Interrupted {
		out = append(out, s2s.InterruptedEvent{})
	}
	return out
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	live   *genai.Session
	events chan s2s.Event
	done   chan struct{}

	sendMu sync.Mutex

	mu     sync.Mutex
	errVal error
	closed bool
}

func (s *session) receiveLoop() {
	defer close(s.events)

	for {
		msg, err := s.live.Receive()
		if err != nil {
			var ce *websocket.CloseError
			if s.isClosed() || (errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure) {
				return
			}
			s.setErr(fmt.Errorf("genailive: receive: %w", err))
			return
		}
		for _, ev := range toEvents(msg) {
			select {
			case s.events <- ev:
			case <-s.done:
				return
			}
		}
	}
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// SendAudio streams one PCM16 chunk as realtime input.
func (s *session) SendAudio(chunk []byte) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk, MIMEType: inputMIME},
	})
	if err != nil {
		return fmt.Errorf("genailive: send audio: %w", err)
	}
	return nil
}

// SendToolResponse replies to a function call.
func (s *session) SendToolResponse(resp s2s.ToolResponse) error {
	if s.isClosed() {
		return s2s.ErrSessionClosed
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	err := s.live.SendToolResponse(genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: resp.Result,
		}},
	})
	if err != nil {
		return fmt.Errorf("genailive: send tool response: %w", err)
	}
	return nil
}

// Events returns the inbound event stream.
func (s *session) Events() <-chan s2s.Event { return s.events }

// Err returns the error that ended the session.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Formats returns the fixed Live API formats.
func (s *session) Formats() s2s.Formats { return formats }

// Close terminates the Live session. It is idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	_ = s.live.Close()
	return nil
}
