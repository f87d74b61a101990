// Package portaudio provides an [audio.Source] backed by the default input
// device via PortAudio. Chunks are raw 16-bit little-endian PCM tagged with
// an "audio/pcm" hint carrying the rate and channel count, so the decoder
// needs no container parsing.
//
// PortAudio has no input processing, so the echo cancellation, noise
// suppression, and gain flags of [audio.Constraints] are ignored.
package portaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// framesPerBuffer is the PortAudio read size (64 ms at 16 kHz).
const framesPerBuffer = 1024

// pollInterval is how long the read loop sleeps when no frames are available.
const pollInterval = 10 * time.Millisecond

// Source opens the system default input device.
type Source struct{}

var _ audio.Source = Source{}

// Open initialises PortAudio and opens the default input stream. The stream is
// not started until [Recorder.Start].
func (Source) Open(ctx context.Context, c audio.Constraints) (audio.Recorder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := c.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio: initialize: %w", err)
	}
	r := &Recorder{
		rate:     rate,
		channels: channels,
		frame:    make([]int16, framesPerBuffer*channels),
	}
	stream, err := portaudio.OpenDefaultStream(channels, 0, float64(rate), framesPerBuffer, r.frame)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio: open default input: %w", err)
	}
	r.stream = stream
	return r, nil
}

// Recorder is an open PortAudio input stream.
type Recorder struct {
	rate     int
	channels int
	stream   *portaudio.Stream
	frame    []int16

	mu        sync.Mutex
	running   bool
	closed    bool
	buf       []byte
	level     float64
	done      chan struct{}
	closeOnce sync.Once
}

var _ audio.Recorder = (*Recorder)(nil)

// Start implements [audio.Recorder].
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.New("portaudio: recorder is closed")
	}
	if r.running {
		return nil
	}
	if err := r.stream.Start(); err != nil {
		return fmt.Errorf("portaudio: start stream: %w", err)
	}
	r.buf = nil
	r.running = true
	r.done = make(chan struct{})
	go r.readLoop(r.done)
	return nil
}

func (r *Recorder) readLoop(done chan struct{}) {
	defer close(done)
	for {
		r.mu.Lock()
		running := r.running
		r.mu.Unlock()
		if !running {
			return
		}

		available, err := r.stream.AvailableToRead()
		if err != nil || available < framesPerBuffer {
			time.Sleep(pollInterval)
			continue
		}
		if err := r.stream.Read(); err != nil {
			time.Sleep(pollInterval)
			continue
		}

		samples := audio.Int16ToFloat32(r.frame)
		level := audio.Level(samples)
		pcm := audio.Float32ToPCM16(samples)

		r.mu.Lock()
		if r.running {
			r.buf = append(r.buf, pcm...)
			r.level = level
		}
		r.mu.Unlock()
	}
}

// Flush implements [audio.Recorder].
func (r *Recorder) Flush() (audio.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := audio.Chunk{
		Data:     r.buf,
		MIMEType: fmt.Sprintf("%s;rate=%d;channels=%d", audio.MIMEPCM, r.rate, r.channels),
	}
	r.buf = nil
	return c, nil
}

// Stop implements [audio.Recorder]. Frames already read stay buffered.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = false
	r.level = 0
	done := r.done
	r.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := r.stream.Stop(); err != nil {
		return fmt.Errorf("portaudio: stop stream: %w", err)
	}
	return nil
}

// Level implements [audio.Recorder].
func (r *Recorder) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// Close stops recording and releases the device and the PortAudio library.
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		stopErr := r.Stop(ctx)

		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		err = errors.Join(stopErr, r.stream.Close(), portaudio.Terminate())
	})
	return err
}
