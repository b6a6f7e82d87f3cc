// Package shadow scores how closely a learner's utterance repeats the
// optimized sentence the tutor suggested on the previous turn ("shadowing").
//
// Both strings are normalised (lowercased, punctuation removed, whitespace
// collapsed) and compared with Jaro-Winkler similarity. For alphabetic
// scripts the words are additionally compared by their Double Metaphone
// codes, so a recognizer spelling a homophone differently does not sink the
// score. The score is reported only when it reaches the threshold.
package shadow

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultThreshold is the minimum score reported as a read-along.
const DefaultThreshold = 0.85

// Option is a functional option for configuring a [Scorer].
type Option func(*Scorer)

// WithThreshold sets the minimum score at which Score reports a match.
func WithThreshold(threshold float64) Option {
	return func(s *Scorer) {
		s.threshold = threshold
	}
}

// Scorer compares utterances against reference sentences. It is read-only
// after construction and safe for concurrent use.
type Scorer struct {
	threshold float64
}

// New returns a Scorer with [DefaultThreshold] unless overridden.
func New(opts ...Option) *Scorer {
	s := &Scorer{threshold: DefaultThreshold}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Threshold returns the configured threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score returns the similarity of spoken to target in [0, 1] and whether it
// reaches the threshold. Empty inputs score 0.
func (s *Scorer) Score(spoken, target string) (score float64, matched bool) {
	a, b := Normalize(spoken), Normalize(target)
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}

	score = matchr.JaroWinkler(a, b, false)
	if p := phoneticAgreement(a, b); p > score {
		score = p
	}
	return score, score >= s.threshold
}

// Normalize lowercases s, drops punctuation and symbols, and collapses runs
// of whitespace to single spaces.
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			continue
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// phoneticAgreement returns the fraction of position-aligned words whose
// Double Metaphone codes overlap. It is 0 unless both sentences have the
// same number of words and are written in a cased alphabet.
func phoneticAgreement(a, b string) float64 {
	wa, wb := strings.Fields(a), strings.Fields(b)
	if len(wa) != len(wb) || len(wa) == 0 || !alphabetic(a) || !alphabetic(b) {
		return 0
	}
	agree := 0
	for i := range wa {
		p1, s1 := matchr.DoubleMetaphone(wa[i])
		p2, s2 := matchr.DoubleMetaphone(wb[i])
		if codesOverlap(p1, s1, p2, s2) {
			agree++
		}
	}
	return float64(agree) / float64(len(wa))
}

func codesOverlap(p1, s1, p2, s2 string) bool {
	for _, x := range []string{p1, s1} {
		if x == "" {
			continue
		}
		if x == p2 || x == s2 {
			return true
		}
	}
	return false
}

// alphabetic reports whether every letter of s belongs to the Latin script.
func alphabetic(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return false
		}
	}
	return true
}
