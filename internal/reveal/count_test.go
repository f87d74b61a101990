package reveal_test

import (
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/quacktosql/internal/reveal"
)

func TestNextKeywordCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		prev, raw int
		want      int
	}{
		{"first occurrences", 0, 3, 3},
		{"jump is capped at three", 2, 9, 5},
		{"exactly three more", 4, 7, 7},
		{"absolute cap", 9, 12, 10},
		{"cap applies after delta", 8, 11, 10},
		{"raw below current keeps current", 6, 2, 6},
		{"equal keeps current", 4, 4, 4},
		{"already at cap", 10, 14, 10},
		{"zero stays zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := reveal.NextKeywordCount(tt.prev, tt.raw, reveal.DefaultDeltaCap, reveal.DefaultMaxCount)
			if got != tt.want {
				t.Errorf("NextKeywordCount(%d, %d) = %d, want %d", tt.prev, tt.raw, got, tt.want)
			}
		})
	}
}

func TestNextKeywordCount_Properties(t *testing.T) {
	t.Parallel()
	rng := rand.New(rand.NewPCG(1, 2))

	for range 200 {
		prev := 0
		for range 50 {
			raw := rng.IntN(20)
			next := reveal.NextKeywordCount(prev, raw, reveal.DefaultDeltaCap, reveal.DefaultMaxCount)
			if next < prev {
				t.Fatalf("count decreased: %d -> %d (raw %d)", prev, next, raw)
			}
			if next-prev > reveal.DefaultDeltaCap {
				t.Fatalf("increase %d -> %d exceeds delta cap (raw %d)", prev, next, raw)
			}
			if next > reveal.DefaultMaxCount {
				t.Fatalf("count %d exceeds absolute cap", next)
			}
			prev = next
		}
	}
}

func TestSubstringCounter(t *testing.T) {
	t.Parallel()

	c := reveal.SubstringCounter{Keyword: "quack"}
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"quack quack quack", 3},
		{"QUACK, Quack! quAck?", 3},
		{"quacks quacking", 2},
		{"quackquack", 2},
		{"duck noises", 0},
	}
	for _, tt := range tests {
		if got := c.Count(tt.in); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if got := (reveal.SubstringCounter{}).Count("quack"); got != 0 {
		t.Errorf("empty keyword Count = %d, want 0", got)
	}
}

func TestPhoneticCounter(t *testing.T) {
	t.Parallel()

	c := reveal.NewPhoneticCounter("Quack")
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"quack quack quack", 3},
		{"Quak, quake. QUACK!", 3},
		{"quackquack", 2},
		{"duck back", 0},
		{"select star from table", 0},
	}
	for _, tt := range tests {
		if got := c.Count(tt.in); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
