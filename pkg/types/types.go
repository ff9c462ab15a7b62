// Package types defines the shared types used across voxcoach packages.
//
// These types are the common language between the speech providers, the session
// controller, the host recorder and the storage layer. Each package keeps its own
// domain types; only cross-cutting data structures live here to avoid circular
// imports.
package types

import (
	"fmt"
	"strings"
	"time"
)

// Role identifies who produced a piece of speech in a live session.
type Role int

const (
	// RoleCaller is the local user speaking into the microphone.
	RoleCaller Role = iota

	// RolePeer is the remote conversational model.
	RolePeer
)

// String returns the lower-case name of the role.
func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RolePeer:
		return "peer"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ParseRole converts a stored role name back into a [Role].
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "caller", "user":
		return RoleCaller, nil
	case "peer", "model":
		return RolePeer, nil
	default:
		return 0, fmt.Errorf("types: unknown role %q", s)
	}
}

// UtteranceUpdate is delivered to the host while a speaker's text accumulates.
// Non-final updates carry the full text accumulated so far, not just the latest
// delta, so the host can replace its display line wholesale.
type UtteranceUpdate struct {
	Role      Role
	Text      string
	Final     bool
	Timestamp time.Time
}

// Utterance is one finalized, immutable piece of speech attributed to a role.
type Utterance struct {
	ID        string
	Role      Role
	Text      string
	Timestamp time.Time

	// Terms lists saved vocabulary terms the caller was detected practising in
	// this utterance. Always empty for peer utterances.
	Terms []string
}

// VocabularyRecord is a vocabulary term extracted by the remote model during a
// coaching conversation.
type VocabularyRecord struct {
	ID string

	// Term is the word or phrase. Records are unique by case-insensitive Term.
	Term string

	// Definition is a short English meaning.
	Definition string

	// Translation is the meaning in the learner's native language.
	Translation string

	// Example is a usage example written by the model.
	Example string

	// SourceSentence is the sentence the learner said that contained the term.
	SourceSentence string

	CreatedAt time.Time
}

// Session is the persisted history of one coaching conversation.
type Session struct {
	ID         string
	Title      string
	Utterances []Utterance
	StartTime  time.Time
}

// titleLen is the number of characters of the first utterance kept in a
// session title.
const titleLen = 40

// TitleFor derives a session title from its first utterance text.
func TitleFor(first string) string {
	r := []rune(strings.TrimSpace(first))
	if len(r) > titleLen {
		r = r[:titleLen]
	}
	return string(r) + "..."
}
