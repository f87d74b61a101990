// Package mock provides in-memory implementations of [audio.Source] and
// [audio.Recorder] for use in unit tests.
//
// Both mocks are safe for concurrent use. They record method calls so tests
// can assert on call counts, and expose fields that control return values.
//
// Typical usage:
//
//	rec := &mock.Recorder{}
//	src := &mock.Source{Recorder: rec}
//	rec.Push([]byte{1, 2, 3})
//	chunk, _ := rec.Flush()
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// ─── Source ───────────────────────────────────────────────────────────────────

// Source is a mock implementation of [audio.Source].
type Source struct {
	mu sync.Mutex

	// Recorder is returned by Open. When nil a fresh Recorder is created.
	Recorder *Recorder

	// OpenErr, if non-nil, is returned by Open.
	OpenErr error

	// OpenCalls records the constraints of every Open call.
	OpenCalls []audio.Constraints
}

// Open implements [audio.Source].
func (s *Source) Open(_ context.Context, c audio.Constraints) (audio.Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OpenCalls = append(s.OpenCalls, c)
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	if s.Recorder == nil {
		s.Recorder = &Recorder{}
	}
	return s.Recorder, nil
}

// OpenCount returns the number of Open calls.
func (s *Source) OpenCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.OpenCalls)
}

// ─── Recorder ─────────────────────────────────────────────────────────────────

// Recorder is a mock implementation of [audio.Recorder]. Audio is fed with
// Push; while the recorder is not started pushed data is dropped, mirroring a
// real device.
type Recorder struct {
	mu sync.Mutex

	// MIMEType is attached to every flushed chunk. Defaults to audio.MIMEPCM.
	MIMEType string

	// LevelValue is returned by Level.
	LevelValue float64

	// StartErr, StopErr, FlushErr, CloseErr are returned by their methods.
	StartErr error
	StopErr  error
	FlushErr error
	CloseErr error

	// AutoData, if non-nil, is appended to the buffer on every Flush while
	// recording, simulating a live device.
	AutoData []byte

	// Call counters.
	StartCalls int
	StopCalls  int
	FlushCalls int
	CloseCalls int

	recording bool
	buf       []byte
}

// Push appends data to the buffer if the recorder is started.
func (r *Recorder) Push(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		r.buf = append(r.buf, data...)
	}
}

// Start implements [audio.Recorder].
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StartCalls++
	if r.StartErr != nil {
		return r.StartErr
	}
	r.recording = true
	r.buf = nil
	return nil
}

// Flush implements [audio.Recorder].
func (r *Recorder) Flush() (audio.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.FlushCalls++
	if r.FlushErr != nil {
		return audio.Chunk{}, r.FlushErr
	}
	if r.recording && r.AutoData != nil {
		r.buf = append(r.buf, r.AutoData...)
	}
	mime := r.MIMEType
	if mime == "" {
		mime = audio.MIMEPCM
	}
	c := audio.Chunk{Data: r.buf, MIMEType: mime}
	r.buf = nil
	return c, nil
}

// Stop implements [audio.Recorder].
func (r *Recorder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.StopCalls++
	r.recording = false
	return r.StopErr
}

// Level implements [audio.Recorder].
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.LevelValue
}

// Close implements [audio.Recorder].
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCalls++
	r.recording = false
	return r.CloseErr
}

// Recording reports whether Start was called without a matching Stop.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// Counts returns the Start, Stop, Flush and Close call counts.
func (r *Recorder) Counts() (start, stop, flush, closeCalls int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.StartCalls, r.StopCalls, r.FlushCalls, r.CloseCalls
}

var (
	_ audio.Source   = (*Source)(nil)
	_ audio.Recorder = (*Recorder)(nil)
)
