// Package phonetic spots glossary terms in transcribed speech using Double
// Metaphone phonetic encoding combined with Jaro-Winkler string similarity.
//
// Transcription of a language learner's speech is noisy: a saved term such as
// "choke" may come back as "chok" or "joke". The [Spotter] therefore compares
// every n-gram window of the utterance against each term in two stages:
//
//  1. Phonetic alignment: each window token must share a Double Metaphone
//     code with the term token at the same position. Aligned windows are
//     accepted when their Jaro-Winkler score reaches the phonetic threshold.
//
//  2. Fuzzy fallback: windows without phonetic alignment are accepted only
//     when their Jaro-Winkler score reaches the higher fuzzy threshold.
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// Option is a functional option for configuring a [Spotter].
type Option func(*Spotter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a phonetically
// aligned window. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(s *Spotter) {
		s.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window that is
// not phonetically aligned. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(s *Spotter) {
		s.fuzzyThreshold = threshold
	}
}

// Spotter finds glossary terms in utterances. It is read-only after
// construction and safe for concurrent use.
type Spotter struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Spotter] configured with the supplied options.
func New(opts ...Option) *Spotter {
	s := &Spotter{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Spot returns the terms that occur in text, in the order they appear in
// terms. Each term is reported at most once, with its original casing.
func (s *Spotter) Spot(text string, terms []string) []string {
	words := tokenize(text)
	if len(words) == 0 || len(terms) == 0 {
		return nil
	}
	wordCodes := make([]map[string]struct{}, len(words))
	for i, w := range words {
		wordCodes[i] = codesFor(w)
	}

	var found []string
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		key := strings.ToLower(strings.TrimSpace(term))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		if s.contains(words, wordCodes, tokenize(term)) {
			seen[key] = struct{}{}
			found = append(found, term)
		}
	}
	return found
}

// Score returns the best score of term against any window of text and
// whether that window was phonetically aligned.
func (s *Spotter) Score(text, term string) (score float64, phonetic bool) {
	words := tokenize(text)
	termTokens := tokenize(term)
	if len(words) < len(termTokens) || len(termTokens) == 0 {
		return 0, false
	}
	termCodes := make([]map[string]struct{}, len(termTokens))
	for i, t := range termTokens {
		termCodes[i] = codesFor(t)
	}
	joinedTerm := strings.Join(termTokens, " ")
	for start := 0; start+len(termTokens) <= len(words); start++ {
		window := words[start : start+len(termTokens)]
		aligned := true
		for i, w := range window {
			if !codesOverlap(codesFor(w), termCodes[i]) {
				aligned = false
				break
			}
		}
		sc := matchr.JaroWinkler(strings.Join(window, " "), joinedTerm, false)
		if sc > score || (sc == score && aligned && !phonetic) {
			score, phonetic = sc, aligned
		}
	}
	return score, phonetic
}

func (s *Spotter) contains(words []string, wordCodes []map[string]struct{}, termTokens []string) bool {
	n := len(termTokens)
	if n == 0 || n > len(words) {
		return false
	}
	termCodes := make([]map[string]struct{}, n)
	for i, t := range termTokens {
		termCodes[i] = codesFor(t)
	}
	joinedTerm := strings.Join(termTokens, " ")

	for start := 0; start+n <= len(words); start++ {
		window := words[start : start+n]
		joined := strings.Join(window, " ")
		if joined == joinedTerm {
			return true
		}
		aligned := true
		for i := range window {
			if !codesOverlap(wordCodes[start+i], termCodes[i]) {
				aligned = false
				break
			}
		}
		score := matchr.JaroWinkler(joined, joinedTerm, false)
		if aligned && score >= s.phoneticThreshold {
			return true
		}
		if score >= s.fuzzyThreshold {
			return true
		}
	}
	return false
}

// tokenize lower-cases text and splits it into words, dropping punctuation
// other than apostrophes and hyphens inside words.
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

// codesFor returns the non-empty Double Metaphone codes of a word.
func codesFor(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
