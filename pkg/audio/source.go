package audio

import (
	"context"
)

// Constraints are the capture settings requested from a [Source]. Sources
// that cannot honour a processing flag ignore it.
type Constraints struct {
	// SampleRate is the preferred capture rate in Hz. Browser sources record
	// at the device rate and ignore it.
	SampleRate int

	// Channels is the preferred channel count.
	Channels int

	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints asks for 16 kHz mono with all input processing on.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Recorder is an open microphone stream.
//
// A Recorder is obtained from [Source.Open] and stays valid until
// [Recorder.Close]. It can be started and stopped any number of times, so one
// stream serves several recording sessions.
//
// Implementations must be safe for concurrent use.
type Recorder interface {
	// Start begins buffering audio. Data buffered before Start is discarded.
	Start() error

	// Flush returns everything recorded since the previous Flush as one
	// chunk. The chunk has empty Data when nothing new was recorded.
	Flush() (Chunk, error)

	// Stop halts recording. Audio recorded before Stop remains available to
	// the next Flush. ctx bounds how long Stop waits for the recorder to
	// finalise its last chunk.
	Stop(ctx context.Context) error

	// Level returns the current input level on a 0-100 scale.
	Level() float64

	// Close releases the stream. It is safe to call Close more than once.
	Close() error
}

// Source is the entry point for a microphone provider: a local audio device
// or a remote browser.
type Source interface {
	// Open acquires the microphone. It returns an error when access is denied
	// or no input device exists; no stream is held in that case.
	Open(ctx context.Context, c Constraints) (Recorder, error)
}

// SourceFunc adapts a function to the [Source] interface.
type SourceFunc func(ctx context.Context, c Constraints) (Recorder, error)

// Open calls f.
func (f SourceFunc) Open(ctx context.Context, c Constraints) (Recorder, error) {
	return f(ctx, c)
}
