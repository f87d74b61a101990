package inference

import "time"

// throughput estimates tokens per second for one generation. The clock starts
// at the first token, so no rate exists until the second one.
type throughput struct {
	now   func() time.Time
	start time.Time
	n     int
}

func newThroughput(now func() time.Time) *throughput {
	if now == nil {
		now = time.Now
	}
	return &throughput{now: now}
}

// token records one generated token and returns the current rate.
func (t *throughput) token() (tps float64, ok bool) {
	now := t.now()
	if t.n == 0 {
		t.start = now
	}
	t.n++
	return t.rate(now)
}

// current returns the rate without recording a token.
func (t *throughput) current() (float64, bool) {
	return t.rate(t.now())
}

func (t *throughput) rate(now time.Time) (float64, bool) {
	if t.n < 2 {
		return 0, false
	}
	elapsed := now.Sub(t.start)
	if elapsed <= 0 {
		return 0, false
	}
	ms := float64(elapsed) / float64(time.Millisecond)
	return float64(t.n) / ms * 1000, true
}

func (t *throughput) count() int { return t.n }
