// Package asr defines the Model interface for automatic speech recognition
// backends.
//
// A Model wraps a heavyweight recognizer (a local whisper.cpp model, a
// whisper-server instance, or a cloud API) behind a load/transcribe lifecycle.
// Load fetches and initialises whatever the backend needs, reporting progress
// as it goes; Transcribe turns a buffer of 16 kHz mono samples into text and
// streams intermediate output through a Streamer while it runs.
//
// Implementations must be safe for concurrent use, although callers in this
// module never run two transcriptions on the same Model at once.
package asr

import (
	"context"
	"errors"
	"time"
)

// DefaultMaxTokens bounds the number of tokens generated per transcription.
const DefaultMaxTokens = 64

// SampleRate is the input sample rate every Model expects.
const SampleRate = 16000

// ErrNotLoaded is returned by Transcribe when Load has not completed.
var ErrNotLoaded = errors.New("asr: model not loaded")

// Status is the lifecycle stage of a single asset fetched during Load.
type Status string

const (
	StatusInitiate Status = "initiate"
	StatusProgress Status = "progress"
	StatusDone     Status = "done"
)

// Progress reports the state of one model asset while loading.
type Progress struct {
	Status Status `json:"status"`
	File   string `json:"file"`

	// Loaded and Total are byte counts. Total is zero when the size is
	// unknown. Loaded never exceeds a non-zero Total.
	Loaded int64 `json:"loaded"`
	Total  int64 `json:"total"`
}

// ProgressFunc receives load progress. It may be nil.
type ProgressFunc func(Progress)

// Request is one transcription job.
type Request struct {
	// Samples is mono audio at [SampleRate].
	Samples []float32

	// Language is an ISO-639-1 code. Empty selects the model default.
	Language string

	// MaxTokens bounds generation. Zero means [DefaultMaxTokens].
	MaxTokens int
}

// Tokens returns MaxTokens or the default.
func (r Request) Tokens() int {
	if r.MaxTokens <= 0 {
		return DefaultMaxTokens
	}
	return r.MaxTokens
}

// Streamer receives incremental output during Transcribe. Both callbacks are
// optional and are invoked from the goroutine running Transcribe.
type Streamer struct {
	// OnToken is called once per generated token.
	OnToken func()

	// OnText is called with the cumulative decoded text so far.
	OnText func(text string)
}

// Token invokes OnToken if set.
func (s Streamer) Token() {
	if s.OnToken != nil {
		s.OnToken()
	}
}

// Text invokes OnText if set.
func (s Streamer) Text(text string) {
	if s.OnText != nil {
		s.OnText(text)
	}
}

// Result is the outcome of a transcription.
type Result struct {
	Text     string
	Tokens   int
	Duration time.Duration
}

// TokensPerSecond returns the generation throughput, or zero when it cannot
// be computed.
func (r Result) TokensPerSecond() float64 {
	if r.Tokens == 0 || r.Duration <= 0 {
		return 0
	}
	return float64(r.Tokens) / r.Duration.Seconds()
}

// Model is the abstraction over any ASR backend.
type Model interface {
	// Load prepares the model for inference. It is safe to call again after
	// a failure. progress may be nil.
	Load(ctx context.Context, progress ProgressFunc) error

	// Transcribe runs recognition on req.Samples. It returns [ErrNotLoaded]
	// (possibly wrapped) when called before a successful Load.
	Transcribe(ctx context.Context, req Request, s Streamer) (Result, error)

	// Close releases model resources. Calling Close more than once is safe.
	Close() error
}
