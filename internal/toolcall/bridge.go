// Package toolcall turns tool invocations requested by the remote model into
// host actions and acknowledges each one back over the session channel.
//
// The only tool is saveVocabularyWord: the model calls it whenever it explains
// a technical term, and the [Bridge] converts the call into a
// [types.VocabularyRecord] for the host. Acknowledgments are sent
// asynchronously so a slow channel never stalls the inbound event loop.
package toolcall

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcoach/internal/observe"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// VocabularyToolName is the function name the model uses to save a term.
const VocabularyToolName = "saveVocabularyWord"

// AckSaved is the result text returned to the model for a saved term.
const AckSaved = "Word successfully added to vocabulary list."

// vocabularyFields lists the required arguments in declaration order.
var vocabularyFields = []string{"word", "meaning", "arabicMeaning", "example", "originalSentence"}

// VocabularyTool returns the declaration of the saveVocabularyWord tool.
func VocabularyTool() s2s.ToolDefinition {
	return s2s.ToolDefinition{
		Name:        VocabularyToolName,
		Description: "Saves a new technical word or English term to the users personal industry glossary.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"word": map[string]any{
					"type":        "string",
					"description": "The English word or technical term being defined.",
				},
				"meaning": map[string]any{
					"type":        "string",
					"description": "A brief, clear English definition.",
				},
				"arabicMeaning": map[string]any{
					"type":        "string",
					"description": "The Arabic translation of the word.",
				},
				"example": map[string]any{
					"type":        "string",
					"description": "A simple example sentence using the word in an oil and gas context.",
				},
				"originalSentence": map[string]any{
					"type":        "string",
					"description": "The sentence from the conversation where the word was first mentioned or asked about.",
				},
			},
			"required": append([]string(nil), vocabularyFields...),
		},
	}
}

// ValidationError reports a tool call that could not be turned into a host
// action. It is delivered to the observer and never forwarded to the host.
type ValidationError struct {
	CallID string
	Tool   string

	// Missing lists required arguments that were absent, empty or not strings.
	Missing []string

	// Unknown is set when the tool name is not declared.
	Unknown bool
}

func (e *ValidationError) Error() string {
	if e.Unknown {
		return fmt.Sprintf("toolcall: unknown tool %q", e.Tool)
	}
	return fmt.Sprintf("toolcall: %s: missing or empty arguments: %s", e.Tool, strings.Join(e.Missing, ", "))
}

// AckError reports that an acknowledgment could not be delivered.
type AckError struct {
	CallID string
	Tool   string
	Err    error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("toolcall: acknowledge %s (%s): %v", e.Tool, e.CallID, e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// Responder sends acknowledgments. s2s.SessionHandle satisfies it.
type Responder interface {
	SendToolResponse(resp s2s.ToolResponse) error
}

// Option configures a [Bridge].
type Option func(*Bridge)

// WithObserver sets the function that receives validation and acknowledgment
// errors. It may be called from acknowledgment goroutines.
func WithObserver(fn func(error)) Option {
	return func(b *Bridge) { b.observe = fn }
}

// WithMetrics records tool calls and acknowledgment latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(b *Bridge) { b.metrics = m }
}

// WithClock overrides the clock used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// Bridge validates tool calls, forwards valid ones to the host and
// acknowledges every call exactly once.
//
// Handle must be called from a single goroutine; acknowledgments run
// concurrently and are tracked so [Bridge.Wait] can drain them.
type Bridge struct {
	responder Responder
	onVocab   func(types.VocabularyRecord)
	observe   func(error)
	metrics   *observe.Metrics
	now       func() time.Time

	wg sync.WaitGroup
}

// New returns a Bridge acknowledging through responder and delivering saved
// terms to onVocab.
func New(responder Responder, onVocab func(types.VocabularyRecord), opts ...Option) *Bridge {
	b := &Bridge{
		responder: responder,
		onVocab:   onVocab,
		observe:   func(error) {},
		now:       time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	if b.onVocab == nil {
		b.onVocab = func(types.VocabularyRecord) {}
	}
	return b
}

// Handle processes each call independently. Valid calls reach the host
// callback before their acknowledgment is queued; invalid calls are reported
// to the observer and acknowledged with an error result.
func (b *Bridge) Handle(calls []s2s.ToolCall) {
	for _, call := range calls {
		rec, err := b.validate(call)
		result := map[string]any{"result": AckSaved}
		status := "ok"
		if err != nil {
			slog.Warn("toolcall: rejected invocation", "tool", call.Name, "id", call.ID, "err", err)
			b.observe(err)
			result = map[string]any{"error": err.Error()}
			status = "invalid"
		} else {
			b.onVocab(rec)
		}
		if b.metrics != nil {
			b.metrics.RecordToolCall(context.Background(), call.Name, status)
		}
		b.ack(s2s.ToolResponse{ID: call.ID, Name: call.Name, Result: result})
	}
}

// Wait blocks until every queued acknowledgment has finished.
func (b *Bridge) Wait() {
	b.wg.Wait()
}

func (b *Bridge) ack(resp s2s.ToolResponse) {
	b.wg.Go(func() {
		start := time.Now()
		err := b.responder.SendToolResponse(resp)
		if b.metrics != nil {
			b.metrics.ToolAckDuration.Record(context.Background(), time.Since(start).Seconds())
		}
		if err != nil {
			ackErr := &AckError{CallID: resp.ID, Tool: resp.Name, Err: err}
			slog.Warn("toolcall: acknowledgment failed", "tool", resp.Name, "id", resp.ID, "err", err)
			b.observe(ackErr)
		}
	})
}

func (b *Bridge) validate(call s2s.ToolCall) (types.VocabularyRecord, error) {
	if call.Name != VocabularyToolName {
		return types.VocabularyRecord{}, &ValidationError{CallID: call.ID, Tool: call.Name, Unknown: true}
	}
	vals := make(map[string]string, len(vocabularyFields))
	var missing []string
	for _, f := range vocabularyFields {
		s, ok := call.Args[f].(string)
		s = strings.TrimSpace(s)
		if !ok || s == "" {
			missing = append(missing, f)
			continue
		}
		vals[f] = s
	}
	if len(missing) > 0 {
		return types.VocabularyRecord{}, &ValidationError{CallID: call.ID, Tool: call.Name, Missing: missing}
	}
	return types.VocabularyRecord{
		ID:             uuid.NewString(),
		Term:           vals["word"],
		Definition:     vals["meaning"],
		Translation:    vals["arabicMeaning"],
		Example:        vals["example"],
		SourceSentence: vals["originalSentence"],
		CreatedAt:      b.now(),
	}, nil
}
