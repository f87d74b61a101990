// Package reveal turns a live transcript into a keyword-gated disclosure of
// a reference text.
//
// On every transcript change the [Engine] re-counts keyword occurrences in
// the full transcript, passes the raw count through [NextKeywordCount] and,
// when the accepted count rises, animates the revealed prefix one character
// at a time toward a target proportional to the count. An empty transcript
// starts a new session and resets everything to zero.
package reveal

import (
	"sync"
	"time"
)

const (
	// DefaultBaseInterval is the animation step interval at count zero.
	DefaultBaseInterval = 30 * time.Millisecond

	// DefaultIntervalStep is subtracted from the interval per keyword.
	DefaultIntervalStep = 2 * time.Millisecond

	// DefaultMinInterval is the fastest animation step interval.
	DefaultMinInterval = 10 * time.Millisecond
)

// Config holds the engine tunables. Zero fields take their defaults.
type Config struct {
	// Reference is the text being revealed. Default: [DefaultReference].
	Reference string

	// Counter counts keyword occurrences. Default: a [SubstringCounter] for
	// [DefaultKeyword].
	Counter Counter

	DeltaCap int
	MaxCount int

	BaseInterval time.Duration
	IntervalStep time.Duration
	MinInterval  time.Duration
}

func (c *Config) applyDefaults() {
	if c.Reference == "" {
		c.Reference = DefaultReference
	}
	if c.Counter == nil {
		c.Counter = SubstringCounter{Keyword: DefaultKeyword}
	}
	if c.DeltaCap <= 0 {
		c.DeltaCap = DefaultDeltaCap
	}
	if c.MaxCount <= 0 {
		c.MaxCount = DefaultMaxCount
	}
	if c.BaseInterval <= 0 {
		c.BaseInterval = DefaultBaseInterval
	}
	if c.IntervalStep < 0 {
		c.IntervalStep = 0
	}
	if c.MinInterval <= 0 {
		c.MinInterval = DefaultMinInterval
	}
}

// Snapshot is the observable reveal state.
type Snapshot struct {
	// Count is the accepted keyword count, in [0, MaxCount].
	Count int `json:"level"`

	// Revealed is the number of reference runes currently visible.
	Revealed int `json:"revealed"`

	// Target is the number of runes the animation is moving toward.
	Target int `json:"target"`

	// Text is the visible prefix of the reference.
	Text string `json:"text"`

	// Mastered is true once Count reached MaxCount in this session.
	Mastered bool `json:"mastered"`
}

// Option configures an [Engine].
type Option func(*Engine)

// WithOnChange registers a callback invoked after every state change:
// accepted count changes, each animation step and session resets.
func WithOnChange(fn func(Snapshot)) Option {
	return func(e *Engine) {
		e.onChange = fn
	}
}

// WithOnMastery registers a callback invoked the first time the count
// reaches MaxCount in a session.
func WithOnMastery(fn func()) Option {
	return func(e *Engine) {
		e.onMastery = fn
	}
}

// Engine is the keyword reveal state machine. It is safe for concurrent use.
//
// Callbacks run with the engine's lock held, in state-change order, and must
// not call back into the Engine.
type Engine struct {
	cfg Config
	ref []rune

	onChange  func(Snapshot)
	onMastery func()

	mu       sync.Mutex
	count    int
	revealed int
	target   int
	mastered bool
	closed   bool

	// anim is closed to stop the running animation; nil when idle.
	anim chan struct{}
	wg   sync.WaitGroup
}

// NewEngine returns an idle Engine with all state at zero.
func NewEngine(cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{cfg: cfg, ref: []rune(cfg.Reference)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Update applies a new full transcript. The empty string resets the session.
func (e *Engine) Update(transcript string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}

	if transcript == "" {
		e.stopAnimationLocked()
		e.count, e.revealed, e.target, e.mastered = 0, 0, 0, false
		e.emitLocked()
		return
	}

	next := NextKeywordCount(e.count, e.cfg.Counter.Count(transcript), e.cfg.DeltaCap, e.cfg.MaxCount)
	if next == e.count {
		return
	}
	e.count = next
	e.target = TargetLength(len(e.ref), e.count, e.cfg.MaxCount)

	if e.count >= e.cfg.MaxCount && !e.mastered {
		e.mastered = true
		if e.onMastery != nil {
			e.onMastery()
		}
	}
	e.emitLocked()

	e.stopAnimationLocked()
	if e.revealed < e.target {
		stop := make(chan struct{})
		e.anim = stop
		e.wg.Add(1)
		go e.animate(stop, e.interval(e.count))
	}
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Close stops the animation. Later updates are ignored.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.stopAnimationLocked()
	e.mu.Unlock()
	e.wg.Wait()
}

func (e *Engine) animate(stop chan struct{}, every time.Duration) {
	defer e.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		// Superseded between the tick and acquiring the lock.
		if e.anim != stop {
			e.mu.Unlock()
			return
		}
		if e.revealed < e.target {
			e.revealed++
			e.emitLocked()
		}
		done := e.revealed >= e.target
		if done {
			e.anim = nil
		}
		e.mu.Unlock()
		if done {
			return
		}
	}
}

func (e *Engine) stopAnimationLocked() {
	if e.anim != nil {
		close(e.anim)
		e.anim = nil
	}
}

func (e *Engine) emitLocked() {
	if e.onChange != nil {
		e.onChange(e.snapshotLocked())
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Count:    e.count,
		Revealed: e.revealed,
		Target:   e.target,
		Text:     string(e.ref[:e.revealed]),
		Mastered: e.mastered,
	}
}

func (e *Engine) interval(count int) time.Duration {
	return StepInterval(count, e.cfg.BaseInterval, e.cfg.IntervalStep, e.cfg.MinInterval)
}

// TargetLength returns floor(refLen * min(count/maxCount, 1)).
func TargetLength(refLen, count, maxCount int) int {
	if count <= 0 || maxCount <= 0 {
		return 0
	}
	if count >= maxCount {
		return refLen
	}
	return refLen * count / maxCount
}

// StepInterval returns max(minimum, base - step*count).
func StepInterval(count int, base, step, minimum time.Duration) time.Duration {
	return max(minimum, base-step*time.Duration(count))
}
