// Package coach records live coaching sessions into a [store.Store].
//
// A [Recorder] is the host side of [session.Callbacks]: it shows streaming
// text per role, appends finalized utterances to the current session record,
// saves extracted vocabulary and marks caller utterances in which a saved
// term was practised.
package coach

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxcoach/internal/session"
	"github.com/MrWong99/voxcoach/internal/store"
	"github.com/MrWong99/voxcoach/internal/transcript/phonetic"
	"github.com/MrWong99/voxcoach/pkg/types"
)

const defaultSaveTimeout = 5 * time.Second

// Option is a functional option for [NewRecorder].
type Option func(*Recorder)

// WithSpotter replaces the default glossary spotter.
func WithSpotter(s *phonetic.Spotter) Option {
	return func(r *Recorder) { r.spotter = s }
}

// WithClock overrides the clock used for session start times.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.log = l }
}

// WithDisplay registers fn to receive every utterance update, after the
// recorder has processed it.
func WithDisplay(fn func(types.UtteranceUpdate)) Option {
	return func(r *Recorder) { r.display = fn }
}

// Recorder persists one session at a time. All methods are safe for
// concurrent use.
type Recorder struct {
	store       store.Store
	spotter     *phonetic.Spotter
	now         func() time.Time
	log         *slog.Logger
	display     func(types.UtteranceUpdate)
	saveTimeout time.Duration

	mu        sync.Mutex
	current   types.Session
	streaming map[types.Role]string
	terms     []string
	lastErr   error
}

// NewRecorder returns a Recorder writing to st.
func NewRecorder(st store.Store, opts ...Option) *Recorder {
	r := &Recorder{
		store:       st,
		now:         time.Now,
		log:         slog.Default(),
		display:     func(types.UtteranceUpdate) {},
		saveTimeout: defaultSaveTimeout,
		streaming:   make(map[types.Role]string),
	}
	for _, o := range opts {
		o(r)
	}
	if r.spotter == nil {
		r.spotter = phonetic.New()
	}
	return r
}

// Begin starts a new session record and returns the callbacks to pass to
// [session.Controller.Connect]. The returned channel is closed after
// OnClosed has run.
func (r *Recorder) Begin(ctx context.Context) (session.Callbacks, <-chan struct{}, error) {
	return r.record(ctx, types.Session{ID: uuid.NewString(), StartTime: r.now()})
}

// Resume continues the stored session id: new final utterances are appended
// to its transcript and it keeps its ID, title and start time. It returns
// [store.ErrNotFound] for an unknown id.
func (r *Recorder) Resume(ctx context.Context, id string) (session.Callbacks, <-chan struct{}, error) {
	sess, err := r.store.GetSession(ctx, id)
	if err != nil {
		return session.Callbacks{}, nil, fmt.Errorf("coach: resume %s: %w", id, err)
	}
	return r.record(ctx, sess)
}

func (r *Recorder) record(ctx context.Context, sess types.Session) (session.Callbacks, <-chan struct{}, error) {
	vocab, err := r.store.ListVocabulary(ctx)
	if err != nil {
		return session.Callbacks{}, nil, err
	}
	terms := make([]string, 0, len(vocab))
	for _, v := range vocab {
		terms = append(terms, v.Term)
	}

	r.mu.Lock()
	r.current = sess
	r.current.Utterances = slices.Clone(sess.Utterances)
	r.streaming = make(map[types.Role]string)
	r.terms = terms
	r.lastErr = nil
	id := r.current.ID
	r.mu.Unlock()

	log := r.log.With("session_id", id)
	if n := len(sess.Utterances); n > 0 {
		log.Info("coach: resuming session", "utterances", n)
	}
	closed := make(chan struct{})
	cb := session.Callbacks{
		OnUtteranceDelta:  r.onUpdate,
		OnVocabularyFound: r.onVocabulary,
		OnError: func(err error) {
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()
			log.Error("coach: session failed", "err", err)
		},
		OnClosed: func() {
			r.mu.Lock()
			for role := range r.streaming {
				delete(r.streaming, role)
			}
			n := len(r.current.Utterances)
			r.mu.Unlock()
			log.Info("coach: session ended", "utterances", n)
			close(closed)
		},
	}
	return cb, closed, nil
}

// Streaming returns the in-progress text of role, or "" when none.
func (r *Recorder) Streaming(role types.Role) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming[role]
}

// Current returns a copy of the session being recorded.
func (r *Recorder) Current() types.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.current
	s.Utterances = slices.Clone(s.Utterances)
	return s
}

// Err returns the error that ended the last session, if any.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Recorder) onUpdate(u types.UtteranceUpdate) {
	defer r.display(u)

	r.mu.Lock()
	if !u.Final {
		r.streaming[u.Role] = u.Text
		r.mu.Unlock()
		return
	}
	delete(r.streaming, u.Role)

	utt := types.Utterance{
		ID:        uuid.NewString(),
		Role:      u.Role,
		Text:      u.Text,
		Timestamp: u.Timestamp,
	}
	if u.Role == types.RoleCaller {
		utt.Terms = r.spotter.Spot(u.Text, r.terms)
	}
	if len(r.current.Utterances) == 0 {
		r.current.Title = types.TitleFor(u.Text)
		if !u.Timestamp.IsZero() {
			r.current.StartTime = u.Timestamp
		}
	}
	r.current.Utterances = append(r.current.Utterances, utt)
	snapshot := r.current
	snapshot.Utterances = slices.Clone(snapshot.Utterances)
	r.mu.Unlock()

	if len(utt.Terms) > 0 {
		r.log.Info("coach: glossary term practised", "session_id", snapshot.ID, "terms", utt.Terms)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()
	if err := r.store.SaveSession(ctx, snapshot); err != nil {
		r.log.Error("coach: save session", "session_id", snapshot.ID, "err", err)
	}
}

func (r *Recorder) onVocabulary(rec types.VocabularyRecord) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()
	added, err := r.store.SaveVocabulary(ctx, rec)
	if err != nil {
		r.log.Error("coach: save vocabulary", "term", rec.Term, "err", err)
		return
	}
	if !added {
		r.log.Debug("coach: vocabulary term already saved", "term", rec.Term)
		return
	}

	r.mu.Lock()
	r.terms = append(r.terms, rec.Term)
	r.mu.Unlock()
	r.log.Info("coach: vocabulary saved", "term", rec.Term)
}
