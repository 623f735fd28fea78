// Package phrase matches configured trigger phrases inside noisy ASR
// transcripts.
//
// The pipeline uses it for two things: detecting goodbye phrases ("that's
// all, thanks") in finalized transcripts, and confirming the wake phrase at
// the transcript level. ASR output rarely matches the configured text
// exactly, so matching is staged:
//
//  1. Normalized substring: punctuation-stripped, lowercased containment.
//  2. Fuzzy window scan: every token window of the transcript the same
//     length as the phrase is scored with Jaro-Winkler; windows that also
//     overlap phonetically (Double Metaphone) match at a lower threshold.
//
// A Matcher is read-only after construction and safe for concurrent use.
package phrase

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultFuzzyThreshold    = 0.85
	defaultPhoneticThreshold = 0.70
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window with
// no phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(t float64) Option {
	return func(m *Matcher) { m.fuzzyThreshold = t }
}

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a window
// that overlaps phonetically with the phrase. Default: 0.70.
func WithPhoneticThreshold(t float64) Option {
	return func(m *Matcher) { m.phoneticThreshold = t }
}

// entry is one configured phrase with its precomputed normalization.
type entry struct {
	raw    string
	norm   string
	tokens []string
	codes  map[string]struct{}
}

// Matcher scans transcripts for any of a fixed set of phrases.
type Matcher struct {
	entries           []entry
	fuzzyThreshold    float64
	phoneticThreshold float64
}

// New creates a [Matcher] for the given phrases. Empty phrases are skipped.
func New(phrases []string, opts ...Option) *Matcher {
	m := &Matcher{
		fuzzyThreshold:    defaultFuzzyThreshold,
		phoneticThreshold: defaultPhoneticThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, p := range phrases {
		tokens := tokenize(p)
		if len(tokens) == 0 {
			continue
		}
		m.entries = append(m.entries, entry{
			raw:    p,
			norm:   strings.Join(tokens, " "),
			tokens: tokens,
			codes:  metaphoneCodes(tokens),
		})
	}
	return m
}

// Empty reports whether the matcher has no phrases configured.
func (m *Matcher) Empty() bool {
	return len(m.entries) == 0
}

// Match reports the first configured phrase found in transcript, with the
// similarity score of the matching window. An exact normalized containment
// scores 1.0.
func (m *Matcher) Match(transcript string) (phrase string, score float64, ok bool) {
	tokens := tokenize(transcript)
	if len(tokens) == 0 {
		return "", 0, false
	}
	norm := strings.Join(tokens, " ")

	for _, e := range m.entries {
		if strings.Contains(norm, e.norm) {
			return e.raw, 1.0, true
		}
		if s, hit := m.scanWindows(tokens, e); hit {
			return e.raw, s, true
		}
	}
	return "", 0, false
}

// Contains reports whether any configured phrase appears in transcript.
func (m *Matcher) Contains(transcript string) bool {
	_, _, ok := m.Match(transcript)
	return ok
}

// scanWindows slides a window of the phrase's token length over the
// transcript tokens and returns the best qualifying score.
func (m *Matcher) scanWindows(tokens []string, e entry) (float64, bool) {
	n := len(e.tokens)
	if n > len(tokens) {
		return 0, false
	}

	var (
		best float64
		hit  bool
	)
	for i := 0; i+n <= len(tokens); i++ {
		window := tokens[i : i+n]
		joined := strings.Join(window, " ")
		s := matchr.JaroWinkler(joined, e.norm, false)

		threshold := m.fuzzyThreshold
		if codesOverlap(metaphoneCodes(window), e.codes) {
			threshold = m.phoneticThreshold
		}
		if s >= threshold && s > best {
			best = s
			hit = true
		}
	}
	return best, hit
}

// tokenize lowercases s, strips everything but letters, digits and spaces,
// and splits into fields.
func tokenize(s string) []string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '\'':
			// Drop apostrophes entirely so "that's" matches "thats".
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}

// metaphoneCodes returns the union of Double Metaphone codes for tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
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
