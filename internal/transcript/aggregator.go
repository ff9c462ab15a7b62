// Package transcript accumulates the incremental transcript deltas of a live
// session into per-role utterances.
//
// Providers deliver transcription as fragments: "Hel", "lo wo", "rld". The
// [Aggregator] concatenates them per role and reports every change to a sink,
// first as non-final updates carrying the full text so far, then as one final
// update per role when the turn completes. Sub-package phonetic spots saved
// glossary terms in the finalized text.
package transcript

import (
	"strings"
	"time"

	"github.com/MrWong99/voxcoach/pkg/types"
)

// Sink receives utterance updates. It is invoked synchronously from the
// goroutine that drives the [Aggregator].
type Sink func(types.UtteranceUpdate)

// Aggregator holds one text buffer per role.
//
// It is not safe for concurrent use; a live session owns exactly one and
// drives it from its inbound event loop.
type Aggregator struct {
	sink  Sink
	now   func() time.Time
	bufs  [2]strings.Builder
	order [2]types.Role
}

// NewAggregator returns an Aggregator reporting to sink. A nil now defaults
// to time.Now.
func NewAggregator(sink Sink, now func() time.Time) *Aggregator {
	if now == nil {
		now = time.Now
	}
	if sink == nil {
		sink = func(types.UtteranceUpdate) {}
	}
	return &Aggregator{
		sink:  sink,
		now:   now,
		order: [2]types.Role{types.RoleCaller, types.RolePeer},
	}
}

func (a *Aggregator) buf(role types.Role) *strings.Builder {
	if role == types.RolePeer {
		return &a.bufs[1]
	}
	return &a.bufs[0]
}

// Append adds delta to role's buffer and emits a non-final update with the
// accumulated text. Empty deltas are ignored.
func (a *Aggregator) Append(role types.Role, delta string) {
	if delta == "" {
		return
	}
	b := a.buf(role)
	b.WriteString(delta)
	a.sink(types.UtteranceUpdate{Role: role, Text: b.String(), Timestamp: a.now()})
}

// Text returns the text currently accumulated for role.
func (a *Aggregator) Text(role types.Role) string {
	return a.buf(role).String()
}

// Complete finalizes the turn: one final update per role with non-empty text,
// caller first, then peer. Finalized buffers are cleared.
func (a *Aggregator) Complete() {
	for _, role := range a.order {
		b := a.buf(role)
		if b.Len() == 0 {
			continue
		}
		text := b.String()
		b.Reset()
		a.sink(types.UtteranceUpdate{Role: role, Text: text, Final: true, Timestamp: a.now()})
	}
}

// Interrupt discards the peer's partial text without emitting anything. The
// caller's buffer is kept.
func (a *Aggregator) Interrupt() {
	a.buf(types.RolePeer).Reset()
}

// Reset clears both buffers silently.
func (a *Aggregator) Reset() {
	for i := range a.bufs {
		a.bufs[i].Reset()
	}
}
