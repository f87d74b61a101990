// Package capture drives a recording session: it pulls chunks from a
// microphone [audio.Recorder] on a fixed cadence, runs the session countdown
// and hands the accumulated chunk sequence to a [Processor] whenever the
// processor is idle.
//
// A session ends on [Controller.Stop] or automatically when the countdown
// reaches zero. Either way the recorder is stopped, its last chunk is
// collected, and pending chunks are processed once more if the processor is
// idle. The microphone stream itself stays open and is reused by the next
// session until [Controller.Close].
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

const (
	// DefaultChunkInterval is the chunk emission cadence.
	DefaultChunkInterval = 500 * time.Millisecond

	// DefaultMaxDuration is the hard session length ceiling.
	DefaultMaxDuration = 20 * time.Second

	// DefaultCountdownTick is the countdown resolution.
	DefaultCountdownTick = time.Second

	// DefaultLevelInterval is how often the input level is sampled.
	DefaultLevelInterval = 50 * time.Millisecond

	stopTimeout = 2 * time.Second
)

var (
	// ErrMicrophoneUnavailable is returned by Start when the microphone
	// cannot be acquired. No session exists afterwards.
	ErrMicrophoneUnavailable = errors.New("capture: microphone unavailable")

	// ErrRecording is returned by Start while a session is running.
	ErrRecording = errors.New("capture: already recording")

	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("capture: controller closed")
)

// Processor consumes accumulated chunks.
type Processor interface {
	// Busy reports whether a previous request is still being decoded or
	// transcribed. The controller never calls Process while Busy is true.
	Busy() bool

	// Process receives the full chunk sequence of the session so far. It
	// must not block; the slice is owned by the callee.
	Process(chunks []audio.Chunk)
}

// Option configures a [Controller].
type Option func(*Controller)

// WithChunkInterval sets the chunk cadence. Default: 500ms.
func WithChunkInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.chunkInterval = d
		}
	}
}

// WithMaxDuration sets the session length ceiling. Default: 20s.
func WithMaxDuration(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.maxDuration = d
		}
	}
}

// WithCountdownTick sets the countdown resolution. Default: 1s.
func WithCountdownTick(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.countdownTick = d
		}
	}
}

// WithLevelInterval sets the level sampling period. Default: 50ms.
func WithLevelInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.levelInterval = d
		}
	}
}

// WithConstraints overrides the constraints passed to [audio.Source.Open].
func WithConstraints(cons audio.Constraints) Option {
	return func(c *Controller) {
		c.constraints = cons
	}
}

// WithOnCountdown registers a callback receiving the remaining session time
// at start and on every countdown tick.
func WithOnCountdown(fn func(remaining time.Duration)) Option {
	return func(c *Controller) {
		c.onCountdown = fn
	}
}

// WithOnTimeout registers a callback fired when a session ends because the
// countdown reached zero.
func WithOnTimeout(fn func()) Option {
	return func(c *Controller) {
		c.onTimeout = fn
	}
}

// WithOnLevel registers a callback receiving the sampled input level.
func WithOnLevel(fn func(level float64)) Option {
	return func(c *Controller) {
		c.onLevel = fn
	}
}

// WithOnRecording registers a callback fired when a session starts (true)
// and ends (false).
func WithOnRecording(fn func(recording bool)) Option {
	return func(c *Controller) {
		c.onRecording = fn
	}
}

// WithOnError registers a callback for recorder failures during a session.
func WithOnError(fn func(error)) Option {
	return func(c *Controller) {
		c.onError = fn
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		c.log = l
	}
}

// Controller owns the microphone stream and the chunk buffer of the current
// session. All callbacks of a session run on the session goroutine, one at a
// time.
type Controller struct {
	src  audio.Source
	proc Processor

	chunkInterval time.Duration
	maxDuration   time.Duration
	countdownTick time.Duration
	levelInterval time.Duration
	constraints   audio.Constraints

	onCountdown func(time.Duration)
	onTimeout   func()
	onLevel     func(float64)
	onRecording func(bool)
	onError     func(error)
	log         *slog.Logger

	mu        sync.Mutex
	rec       audio.Recorder
	chunks    []audio.Chunk
	sent      int // chunks covered by the last Process call
	recording bool
	stopping  bool
	stop      chan struct{}
	done      chan struct{}
	closed    bool
}

// New returns a Controller reading from src and feeding proc.
func New(src audio.Source, proc Processor, opts ...Option) *Controller {
	c := &Controller{
		src:           src,
		proc:          proc,
		chunkInterval: DefaultChunkInterval,
		maxDuration:   DefaultMaxDuration,
		countdownTick: DefaultCountdownTick,
		levelInterval: DefaultLevelInterval,
		constraints:   audio.DefaultConstraints(),
		log:           slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start begins a new session, acquiring the microphone first if no stream is
// held. On failure no session is created and the error wraps
// [ErrMicrophoneUnavailable].
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.recording {
		return ErrRecording
	}

	if c.rec == nil {
		rec, err := c.src.Open(ctx, c.constraints)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMicrophoneUnavailable, err)
		}
		c.rec = rec
	}
	if err := c.rec.Start(); err != nil {
		return fmt.Errorf("%w: start: %w", ErrMicrophoneUnavailable, err)
	}

	c.chunks = nil
	c.sent = 0
	c.recording = true
	c.stopping = false
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.rec, c.stop, c.done, time.Now())
	return nil
}

// Stop ends the running session and waits until its final chunk has been
// handled or ctx expires. Stop without a session is a no-op.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.recording {
		c.mu.Unlock()
		return nil
	}
	if !c.stopping {
		c.stopping = true
		close(c.stop)
	}
	done := c.done
	c.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("capture: stop: %w", ctx.Err())
	}
}

// Recording reports whether a session is running.
func (c *Controller) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Chunks returns a copy of the chunks accumulated in the current or most
// recent session.
func (c *Controller) Chunks() []audio.Chunk {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audio.Chunk(nil), c.chunks...)
}

// DiscardChunks drops the accumulated chunks. Recording continues into an
// empty buffer.
func (c *Controller) DiscardChunks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chunks = nil
	c.sent = 0
}

// Close ends any session and releases the microphone stream.
func (c *Controller) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := c.Stop(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.rec == nil {
		return stopErr
	}
	err := c.rec.Close()
	c.rec = nil
	return errors.Join(stopErr, err)
}

func (c *Controller) run(rec audio.Recorder, stop <-chan struct{}, done chan<- struct{}, started time.Time) {
	defer close(done)

	if c.onRecording != nil {
		c.onRecording(true)
	}
	remaining := c.maxDuration
	if c.onCountdown != nil {
		c.onCountdown(remaining)
	}

	chunkTicker := time.NewTicker(c.chunkInterval)
	defer chunkTicker.Stop()
	countdown := time.NewTicker(c.countdownTick)
	defer countdown.Stop()
	level := time.NewTicker(c.levelInterval)
	defer level.Stop()

	for {
		select {
		case <-stop:
			c.finish(rec, started, false)
			return

		case <-chunkTicker.C:
			if c.collect(rec, started) {
				c.dispatch()
			}

		case <-countdown.C:
			remaining = max(remaining-c.countdownTick, 0)
			if c.onCountdown != nil {
				c.onCountdown(remaining)
			}
			if remaining == 0 {
				c.finish(rec, started, true)
				return
			}

		case <-level.C:
			if c.onLevel != nil {
				c.onLevel(rec.Level())
			}
		}
	}
}

// collect flushes the recorder and appends a non-empty chunk. It reports
// whether a chunk was added.
func (c *Controller) collect(rec audio.Recorder, started time.Time) bool {
	chunk, err := rec.Flush()
	if err != nil {
		c.fail(fmt.Errorf("capture: flush: %w", err))
		return false
	}
	if len(chunk.Data) == 0 {
		return false
	}
	chunk.Offset = time.Since(started)

	c.mu.Lock()
	c.chunks = append(c.chunks, chunk)
	n := len(c.chunks)
	c.mu.Unlock()
	c.log.Debug("capture: chunk", "bytes", len(chunk.Data), "chunks", n)
	return true
}

// dispatch hands pending chunks to the processor if it is idle.
func (c *Controller) dispatch() {
	if c.proc == nil || c.proc.Busy() {
		return
	}
	c.mu.Lock()
	if len(c.chunks) == c.sent {
		c.mu.Unlock()
		return
	}
	chunks := append([]audio.Chunk(nil), c.chunks...)
	c.sent = len(c.chunks)
	c.mu.Unlock()
	c.proc.Process(chunks)
}

func (c *Controller) finish(rec audio.Recorder, started time.Time, timedOut bool) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := rec.Stop(ctx); err != nil {
		c.fail(fmt.Errorf("capture: stop recorder: %w", err))
	}
	c.collect(rec, started)
	c.dispatch()

	c.mu.Lock()
	c.recording = false
	n := len(c.chunks)
	c.mu.Unlock()

	c.log.Debug("capture: session ended", "chunks", n, "timeout", timedOut)
	if c.onRecording != nil {
		c.onRecording(false)
	}
	if timedOut && c.onTimeout != nil {
		c.onTimeout()
	}
}

func (c *Controller) fail(err error) {
	c.log.Warn("capture: recorder error", "err", err)
	if c.onError != nil {
		c.onError(err)
	}
}
