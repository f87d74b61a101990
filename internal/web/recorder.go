package web

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// ErrDisconnected is returned by Open and Start once the connection feeding
// the recorder has gone away.
var ErrDisconnected = errors.New("web: client disconnected")

// Recorder is the microphone of a remote browser. The browser records with
// MediaRecorder and sends each chunk as a binary websocket frame; Push
// buffers the frames until the capture controller flushes them.
//
// A Recorder is its own [audio.Source]: Open hands out the same stream every
// time until Close.
type Recorder struct {
	mu        sync.Mutex
	mimeType  string
	buf       []byte
	level     float64
	recording bool
	closed    bool
}

var (
	_ audio.Source   = (*Recorder)(nil)
	_ audio.Recorder = (*Recorder)(nil)
)

// NewRecorder returns a Recorder declaring WebM until the client announces
// its container.
func NewRecorder() *Recorder {
	return &Recorder{mimeType: audio.MIMEWebM}
}

// Open returns r. The browser already asked the user for the microphone, so
// constraints are its business.
func (r *Recorder) Open(context.Context, audio.Constraints) (audio.Recorder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrDisconnected
	}
	return r, nil
}

// SetMIMEType records the container the browser's MediaRecorder produces.
// Empty values are ignored.
func (r *Recorder) SetMIMEType(mimeType string) {
	if mimeType == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mimeType = mimeType
}

// SetLevel stores the input level measured by the browser.
func (r *Recorder) SetLevel(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.level = min(max(level, 0), 100)
}

// Push appends one frame. Frames arriving while not recording are dropped.
func (r *Recorder) Push(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording || r.closed {
		return
	}
	r.buf = append(r.buf, data...)
}

// Start discards buffered data and accepts frames.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrDisconnected
	}
	r.buf = nil
	r.recording = true
	return nil
}

// Flush returns the frames received since the previous Flush.
func (r *Recorder) Flush() (audio.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := audio.Chunk{Data: r.buf, MIMEType: r.mimeType}
	r.buf = nil
	return c, nil
}

// Stop rejects further frames. The browser sends its final chunk before the
// stop message, so there is nothing to wait for.
func (r *Recorder) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	return nil
}

// Level returns the last level reported by the browser.
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Close marks the recorder disconnected.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.recording = false
	r.buf = nil
	return nil
}
