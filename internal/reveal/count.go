package reveal

import "strings"

const (
	// DefaultKeyword is the word whose occurrences gate the reveal.
	DefaultKeyword = "quack"

	// DefaultDeltaCap is the largest accepted increase per transcript update.
	DefaultDeltaCap = 3

	// DefaultMaxCount is the absolute keyword count ceiling. Reaching it
	// reveals the whole reference text.
	DefaultMaxCount = 10
)

// NextKeywordCount returns the keyword count to display after a transcript
// update that produced raw occurrences, given the previously accepted count.
//
// The raw value is first limited to prev+deltaCap, then to maxCount. The
// result is only accepted if it is strictly greater than prev; otherwise prev
// is returned unchanged, so the count never decreases.
func NextKeywordCount(prev, raw, deltaCap, maxCount int) int {
	next := raw
	if deltaCap >= 0 && next-prev > deltaCap {
		next = prev + deltaCap
	}
	if next > maxCount {
		next = maxCount
	}
	if next > prev {
		return next
	}
	return prev
}

// Counter counts keyword occurrences in a full transcript.
type Counter interface {
	Count(transcript string) int
}

// SubstringCounter counts case-insensitive, non-overlapping occurrences of
// Keyword anywhere in the transcript, including inside longer words.
type SubstringCounter struct {
	Keyword string
}

var _ Counter = SubstringCounter{}

// Count implements [Counter].
func (c SubstringCounter) Count(transcript string) int {
	kw := strings.ToLower(strings.TrimSpace(c.Keyword))
	if kw == "" {
		return 0
	}
	return strings.Count(strings.ToLower(transcript), kw)
}
