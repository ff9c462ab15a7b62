package toolcall_test

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxcoach/internal/toolcall"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s"
	"github.com/MrWong99/voxcoach/pkg/provider/s2s/mock"
	"github.com/MrWong99/voxcoach/pkg/types"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

type errorLog struct {
	mu   sync.Mutex
	errs []error
}

func (l *errorLog) observe(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errs = append(l.errs, err)
}

func (l *errorLog) all() []error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]error(nil), l.errs...)
}

func validArgs() map[string]any {
	return map[string]any{
		"word":             "Choke",
		"meaning":          "A valve that controls flow rate.",
		"arabicMeaning":    "خانق",
		"example":          "Open the choke slowly.",
		"originalSentence": "What is a choke?",
	}
}

var created = time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

func newBridge(t *testing.T) (*toolcall.Bridge, *mock.Session, *[]types.VocabularyRecord, *errorLog) {
	t.Helper()
	sess := mock.NewSession(mock.DefaultFormats)
	var records []types.VocabularyRecord
	log := &errorLog{}
	b := toolcall.New(sess, func(r types.VocabularyRecord) { records = append(records, r) },
		toolcall.WithObserver(log.observe),
		toolcall.WithClock(func() time.Time { return created }),
	)
	return b, sess, &records, log
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestVocabularyTool_Declaration(t *testing.T) {
	t.Parallel()

	def := toolcall.VocabularyTool()
	if def.Name != "saveVocabularyWord" {
		t.Errorf("Name = %q", def.Name)
	}
	required, _ := def.Parameters["required"].([]string)
	want := []string{"word", "meaning", "arabicMeaning", "example", "originalSentence"}
	if !slices.Equal(required, want) {
		t.Errorf("required = %v; want %v", required, want)
	}
	props, _ := def.Parameters["properties"].(map[string]any)
	for _, f := range want {
		if _, ok := props[f]; !ok {
			t.Errorf("property %q not declared", f)
		}
	}
}

func TestHandle_ValidCall(t *testing.T) {
	t.Parallel()

	b, sess, records, log := newBridge(t)
	b.Handle([]s2s.ToolCall{{ID: "call-1", Name: "saveVocabularyWord", Args: validArgs()}})
	b.Wait()

	if len(*records) != 1 {
		t.Fatalf("host received %d records; want 1", len(*records))
	}
	r := (*records)[0]
	if r.Term != "Choke" || r.Definition != "A valve that controls flow rate." || r.Translation != "خانق" ||
		r.Example != "Open the choke slowly." || r.SourceSentence != "What is a choke?" {
		t.Errorf("record = %+v", r)
	}
	if r.ID == "" || !r.CreatedAt.Equal(created) {
		t.Errorf("record ID/CreatedAt = %q/%v", r.ID, r.CreatedAt)
	}

	resps := sess.Responses()
	if len(resps) != 1 {
		t.Fatalf("sent %d acknowledgments; want 1", len(resps))
	}
	if resps[0].ID != "call-1" || resps[0].Name != "saveVocabularyWord" ||
		resps[0].Result["result"] != "Word successfully added to vocabulary list." {
		t.Errorf("ack = %+v", resps[0])
	}
	if errs := log.all(); len(errs) != 0 {
		t.Errorf("observer got %v; want nothing", errs)
	}
}

func TestHandle_MissingFields(t *testing.T) {
	t.Parallel()

	b, sess, records, log := newBridge(t)
	args := validArgs()
	delete(args, "arabicMeaning")
	args["example"] = "   "
	args["meaning"] = 42

	b.Handle([]s2s.ToolCall{{ID: "call-2", Name: "saveVocabularyWord", Args: args}})
	b.Wait()

	if len(*records) != 0 {
		t.Errorf("invalid call reached the host: %+v", *records)
	}
	errs := log.all()
	if len(errs) != 1 {
		t.Fatalf("observer got %d errors; want 1", len(errs))
	}
	var verr *toolcall.ValidationError
	if !errors.As(errs[0], &verr) {
		t.Fatalf("observed %T; want *ValidationError", errs[0])
	}
	if want := []string{"meaning", "arabicMeaning", "example"}; !slices.Equal(verr.Missing, want) {
		t.Errorf("Missing = %v; want %v", verr.Missing, want)
	}

	resps := sess.Responses()
	if len(resps) != 1 || resps[0].Result["error"] == nil {
		t.Errorf("acks = %+v; want one error acknowledgment", resps)
	}
}

func TestHandle_UnknownTool(t *testing.T) {
	t.Parallel()

	b, sess, records, log := newBridge(t)
	b.Handle([]s2s.ToolCall{{ID: "x", Name: "deleteEverything"}})
	b.Wait()

	if len(*records) != 0 {
		t.Error("unknown tool reached the host")
	}
	var verr *toolcall.ValidationError
	if errs := log.all(); len(errs) != 1 || !errors.As(errs[0], &verr) || !verr.Unknown {
		t.Errorf("observer got %v; want unknown-tool ValidationError", errs)
	}
	if len(sess.Responses()) != 1 {
		t.Error("unknown tool should still be acknowledged")
	}
}

func TestHandle_CallsAreIndependent(t *testing.T) {
	t.Parallel()

	b, sess, records, log := newBridge(t)
	b.Handle([]s2s.ToolCall{
		{ID: "a", Name: "saveVocabularyWord", Args: map[string]any{}},
		{ID: "b", Name: "saveVocabularyWord", Args: validArgs()},
	})
	b.Wait()

	if len(*records) != 1 {
		t.Errorf("host received %d records; want 1", len(*records))
	}
	if len(log.all()) != 1 {
		t.Errorf("observer got %d errors; want 1", len(log.all()))
	}
	if len(sess.Responses()) != 2 {
		t.Errorf("sent %d acknowledgments; want 2", len(sess.Responses()))
	}
}

func TestHandle_AckFailureIsObserved(t *testing.T) {
	t.Parallel()

	b, sess, records, log := newBridge(t)
	sess.SendToolResponseErr = errors.New("socket gone")

	b.Handle([]s2s.ToolCall{{ID: "call-3", Name: "saveVocabularyWord", Args: validArgs()}})
	b.Wait()

	if len(*records) != 1 {
		t.Error("host callback should run before the acknowledgment")
	}
	errs := log.all()
	var ackErr *toolcall.AckError
	if len(errs) != 1 || !errors.As(errs[0], &ackErr) || ackErr.CallID != "call-3" {
		t.Fatalf("observer got %v; want AckError for call-3", errs)
	}
}
