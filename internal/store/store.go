// Package store persists coaching history: finished sessions with their
// utterances, and the vocabulary the remote model extracted.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/MrWong99/voxcoach/pkg/types"
)

// ErrNotFound is returned by GetSession when no session has the requested ID.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence boundary of the host recorder.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// SaveSession inserts s or replaces the stored session with the same ID.
	SaveSession(ctx context.Context, s types.Session) error

	// GetSession returns the session with the given ID.
	// Returns [ErrNotFound] when it does not exist.
	GetSession(ctx context.Context, id string) (types.Session, error)

	// ListSessions returns every session, newest StartTime first.
	ListSessions(ctx context.Context) ([]types.Session, error)

	// SaveVocabulary stores r unless a record with the same term, compared
	// case-insensitively, already exists. It reports whether r was added.
	SaveVocabulary(ctx context.Context, r types.VocabularyRecord) (bool, error)

	// ListVocabulary returns every record, newest CreatedAt first.
	ListVocabulary(ctx context.Context) ([]types.VocabularyRecord, error)

	// Clear removes all sessions and vocabulary.
	Clear(ctx context.Context) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// TermKey is the dedupe key of a vocabulary term.
func TermKey(term string) string {
	return strings.ToLower(strings.TrimSpace(term))
}
