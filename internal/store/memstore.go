package store

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/voxcoach/pkg/types"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// The zero value is ready to use.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]types.Session
	vocab    []types.VocabularyRecord
	keys     map[string]struct{}
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]types.Session),
		keys:     make(map[string]struct{}),
	}
}

// SaveSession implements [Store.SaveSession].
func (s *MemStore) SaveSession(_ context.Context, sess types.Session) error {
	sess.Utterances = cloneUtterances(sess.Utterances)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]types.Session)
	}
	s.sessions[sess.ID] = sess
	return nil
}

// GetSession implements [Store.GetSession].
func (s *MemStore) GetSession(_ context.Context, id string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return types.Session{}, ErrNotFound
	}
	sess.Utterances = cloneUtterances(sess.Utterances)
	return sess, nil
}

// ListSessions implements [Store.ListSessions].
func (s *MemStore) ListSessions(_ context.Context) ([]types.Session, error) {
	s.mu.RLock()
	result := make([]types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sess.Utterances = cloneUtterances(sess.Utterances)
		result = append(result, sess)
	}
	s.mu.RUnlock()

	slices.SortStableFunc(result, func(a, b types.Session) int {
		return b.StartTime.Compare(a.StartTime)
	})
	return result, nil
}

// SaveVocabulary implements [Store.SaveVocabulary].
func (s *MemStore) SaveVocabulary(_ context.Context, r types.VocabularyRecord) (bool, error) {
	key := TermKey(r.Term)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = make(map[string]struct{})
	}
	if _, dup := s.keys[key]; dup {
		return false, nil
	}
	s.keys[key] = struct{}{}
	s.vocab = append(s.vocab, r)
	return true, nil
}

// ListVocabulary implements [Store.ListVocabulary].
func (s *MemStore) ListVocabulary(_ context.Context) ([]types.VocabularyRecord, error) {
	s.mu.RLock()
	result := slices.Clone(s.vocab)
	s.mu.RUnlock()

	slices.Reverse(result)
	slices.SortStableFunc(result, func(a, b types.VocabularyRecord) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return result, nil
}

// Clear implements [Store.Clear].
func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]types.Session)
	s.keys = make(map[string]struct{})
	s.vocab = nil
	return nil
}

// Ping implements [Store.Ping]. It always succeeds.
func (s *MemStore) Ping(context.Context) error { return nil }

// Close implements [Store.Close]. It is a no-op.
func (s *MemStore) Close() error { return nil }

func cloneUtterances(us []types.Utterance) []types.Utterance {
	out := slices.Clone(us)
	for i := range out {
		out[i].Terms = slices.Clone(out[i].Terms)
	}
	return out
}
