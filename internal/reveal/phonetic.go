package reveal

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// PhoneticOption configures a [PhoneticCounter].
type PhoneticOption func(*PhoneticCounter)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a word whose
// Double Metaphone codes overlap the keyword's. Default: 0.70.
func WithPhoneticThreshold(threshold float64) PhoneticOption {
	return func(c *PhoneticCounter) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a word with no
// phonetic overlap. Default: 0.85.
func WithFuzzyThreshold(threshold float64) PhoneticOption {
	return func(c *PhoneticCounter) {
		c.fuzzyThreshold = threshold
	}
}

// PhoneticCounter counts words that sound like the keyword. ASR models tend
// to hear a spoken "quack" as "quak", "kwak" or "quake"; substring counting
// misses those.
//
// Each word containing the keyword contributes its substring count. Every
// other word contributes one occurrence when its Double Metaphone codes
// overlap the keyword's and its Jaro-Winkler similarity reaches the phonetic
// threshold, or, without overlap, when the similarity reaches the fuzzy
// threshold.
//
// A PhoneticCounter is read-only after construction and safe for concurrent
// use.
type PhoneticCounter struct {
	keyword string
	codes   map[string]struct{}

	phoneticThreshold float64
	fuzzyThreshold    float64
}

var _ Counter = (*PhoneticCounter)(nil)

// NewPhoneticCounter returns a counter for keyword.
func NewPhoneticCounter(keyword string, opts ...PhoneticOption) *PhoneticCounter {
	kw := strings.ToLower(strings.TrimSpace(keyword))
	c := &PhoneticCounter{
		keyword:           kw,
		codes:             metaphoneCodes(kw),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Count implements [Counter].
func (c *PhoneticCounter) Count(transcript string) int {
	if c.keyword == "" {
		return 0
	}
	words := strings.FieldsFunc(strings.ToLower(transcript), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	n := 0
	for _, w := range words {
		if k := strings.Count(w, c.keyword); k > 0 {
			n += k
			continue
		}
		if c.soundsLike(w) {
			n++
		}
	}
	return n
}

func (c *PhoneticCounter) soundsLike(word string) bool {
	score := matchr.JaroWinkler(word, c.keyword, false)
	if codesOverlap(metaphoneCodes(word), c.codes) {
		return score >= c.phoneticThreshold
	}
	return score >= c.fuzzyThreshold
}

// metaphoneCodes returns the non-empty Double Metaphone codes of word.
func metaphoneCodes(word string) map[string]struct{} {
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
