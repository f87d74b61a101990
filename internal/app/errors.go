package app

import (
	"context"
	"errors"

	"github.com/MrWong99/quacktosql/internal/capture"
	"github.com/MrWong99/quacktosql/internal/inference"
	"github.com/MrWong99/quacktosql/pkg/audio/decode"
)

// Failure sentinels, re-exported from the packages that produce them.
var (
	ErrMicrophoneUnavailable = capture.ErrMicrophoneUnavailable
	ErrDecodeFailure         = decode.ErrDecodeFailure
	ErrActorUnavailable      = inference.ErrActorUnavailable
	ErrModelLoad             = inference.ErrModelLoad
	ErrGeneration            = inference.ErrGeneration
)

// ErrRecording is returned by StartRecording while a recording is running.
var ErrRecording = capture.ErrRecording

// ErrSessionFailed is returned by StartRecording once a session has given up
// after too many failures.
var ErrSessionFailed = errors.New("app: session failed, reload required")

// Kind is the failure category of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindMicrophone
	KindDecode
	KindActor
	KindModelLoad
	KindGeneration
)

// String returns the metric label of the kind.
func (k Kind) String() string {
	switch k {
	case KindMicrophone:
		return "microphone"
	case KindDecode:
		return "decode"
	case KindActor:
		return "actor"
	case KindModelLoad:
		return "model_load"
	case KindGeneration:
		return "generation"
	default:
		return "unknown"
	}
}

// label names the kind in user-facing messages.
func (k Kind) label() string {
	switch k {
	case KindMicrophone:
		return "Microphone"
	case KindDecode:
		return "Decoding"
	case KindActor:
		return "Worker communication"
	case KindModelLoad:
		return "Model loading"
	case KindGeneration:
		return "Transcription"
	default:
		return "Unexpected"
	}
}

// Classify maps err to its failure kind and reports whether the session can
// retry after it. Decode, actor and generation failures are recoverable;
// microphone and model-load failures need user action. A nil error or a
// context cancellation is KindUnknown and not recoverable.
func Classify(err error) (Kind, bool) {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return KindUnknown, false
	case errors.Is(err, ErrMicrophoneUnavailable):
		return KindMicrophone, false
	case errors.Is(err, ErrModelLoad):
		return KindModelLoad, false
	case errors.Is(err, ErrDecodeFailure):
		return KindDecode, true
	case errors.Is(err, ErrActorUnavailable):
		return KindActor, true
	case errors.Is(err, ErrGeneration):
		return KindGeneration, true
	default:
		return KindUnknown, false
	}
}
