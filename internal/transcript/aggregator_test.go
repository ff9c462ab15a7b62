package transcript_test

import (
	"testing"
	"time"

	"github.com/MrWong99/voxcoach/internal/transcript"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// recorder collects every update emitted by an Aggregator.
type recorder struct {
	updates []types.UtteranceUpdate
}

func (r *recorder) sink(u types.UtteranceUpdate) { r.updates = append(r.updates, u) }

func (r *recorder) finals() []types.UtteranceUpdate {
	var out []types.UtteranceUpdate
	for _, u := range r.updates {
		if u.Final {
			out = append(out, u)
		}
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newAggregator() (*transcript.Aggregator, *recorder) {
	rec := &recorder{}
	return transcript.NewAggregator(rec.sink, func() time.Time { return fixedNow }), rec
}

func TestAggregator_ConcatenatesDeltas(t *testing.T) {
	t.Parallel()

	agg, rec := newAggregator()
	agg.Append(types.RolePeer, "Hel")
	agg.Append(types.RolePeer, "lo wo")
	agg.Append(types.RolePeer, "rld")

	wantPartials := []string{"Hel", "Hello wo", "Hello world"}
	if len(rec.updates) != len(wantPartials) {
		t.Fatalf("got %d updates; want %d", len(rec.updates), len(wantPartials))
	}
	for i, want := range wantPartials {
		u := rec.updates[i]
		if u.Text != want || u.Final || u.Role != types.RolePeer {
			t.Errorf("update %d = %+v; want non-final peer %q", i, u, want)
		}
		if !u.Timestamp.Equal(fixedNow) {
			t.Errorf("update %d timestamp = %v; want %v", i, u.Timestamp, fixedNow)
		}
	}

	agg.Complete()
	finals := rec.finals()
	if len(finals) != 1 || finals[0].Text != "Hello world" {
		t.Fatalf("finals = %+v; want one final %q", finals, "Hello world")
	}
	if agg.Text(types.RolePeer) != "" {
		t.Errorf("peer buffer after Complete = %q; want empty", agg.Text(types.RolePeer))
	}
}

func TestAggregator_CompleteOrdersCallerFirst(t *testing.T) {
	t.Parallel()

	agg, rec := newAggregator()
	agg.Append(types.RolePeer, "Good question.")
	agg.Append(types.RoleCaller, "The pump failed")
	agg.Complete()

	finals := rec.finals()
	if len(finals) != 2 {
		t.Fatalf("got %d finals; want 2", len(finals))
	}
	if finals[0].Role != types.RoleCaller || finals[0].Text != "The pump failed" {
		t.Errorf("first final = %+v; want caller", finals[0])
	}
	if finals[1].Role != types.RolePeer || finals[1].Text != "Good question." {
		t.Errorf("second final = %+v; want peer", finals[1])
	}
}

func TestAggregator_CompleteSkipsEmptyRoles(t *testing.T) {
	t.Parallel()

	agg, rec := newAggregator()
	agg.Complete()
	if len(rec.updates) != 0 {
		t.Fatalf("Complete on empty buffers emitted %+v", rec.updates)
	}

	agg.Append(types.RoleCaller, "")
	if len(rec.updates) != 0 {
		t.Errorf("empty delta emitted %+v", rec.updates)
	}
}

func TestAggregator_InterruptDiscardsPeerPartial(t *testing.T) {
	t.Parallel()

	agg, rec := newAggregator()
	agg.Append(types.RoleCaller, "Wait,")
	agg.Append(types.RolePeer, "As I was say")
	n := len(rec.updates)

	agg.Interrupt()
	if len(rec.updates) != n {
		t.Errorf("Interrupt emitted %d updates; want none", len(rec.updates)-n)
	}

	agg.Append(types.RolePeer, "Sure.")
	agg.Complete()

	finals := rec.finals()
	if len(finals) != 2 {
		t.Fatalf("got %d finals; want 2", len(finals))
	}
	if finals[0].Text != "Wait," {
		t.Errorf("caller final = %q; want caller buffer kept", finals[0].Text)
	}
	if finals[1].Text != "Sure." {
		t.Errorf("peer final = %q; want only post-interrupt text", finals[1].Text)
	}
}

func TestAggregator_ResetClearsBothSilently(t *testing.T) {
	t.Parallel()

	agg, rec := newAggregator()
	agg.Append(types.RoleCaller, "one")
	agg.Append(types.RolePeer, "two")
	n := len(rec.updates)

	agg.Reset()
	agg.Complete()
	if len(rec.updates) != n {
		t.Errorf("Reset then Complete emitted %+v", rec.updates[n:])
	}
}

func TestAggregator_NilSinkAndClock(t *testing.T) {
	t.Parallel()

	agg := transcript.NewAggregator(nil, nil)
	agg.Append(types.RoleCaller, "hi")
	agg.Complete()
	if agg.Text(types.RoleCaller) != "" {
		t.Error("buffer should be cleared after Complete")
	}
}
