package app

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/MrWong99/quacktosql/internal/inference"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		err         error
		kind        Kind
		recoverable bool
	}{
		{"nil", nil, KindUnknown, false},
		{"cancelled", fmt.Errorf("decode: %w", context.Canceled), KindUnknown, false},
		{"microphone", fmt.Errorf("%w: permission denied", ErrMicrophoneUnavailable), KindMicrophone, false},
		{"model load", inference.Message{Status: inference.StatusError, Op: inference.RequestLoad, Error: "404"}.Err(), KindModelLoad, false},
		{"decode", fmt.Errorf("%w: no data", ErrDecodeFailure), KindDecode, true},
		{"actor", fmt.Errorf("%w: client closed", ErrActorUnavailable), KindActor, true},
		{"generation", inference.Message{Status: inference.StatusError, Op: inference.RequestGenerate, Error: "oom"}.Err(), KindGeneration, true},
		{"other", errors.New("boom"), KindUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			kind, recoverable := Classify(tt.err)
			if kind != tt.kind || recoverable != tt.recoverable {
				t.Errorf("Classify = (%v, %v), want (%v, %v)", kind, recoverable, tt.kind, tt.recoverable)
			}
		})
	}
}

func TestKind_Labels(t *testing.T) {
	t.Parallel()
	for _, k := range []Kind{KindUnknown, KindMicrophone, KindDecode, KindActor, KindModelLoad, KindGeneration} {
		if k.String() == "" || k.label() == "" {
			t.Errorf("kind %d has an empty name", int(k))
		}
	}
	if got := KindModelLoad.String(); got != "model_load" {
		t.Errorf("KindModelLoad.String() = %q", got)
	}
	if got := KindGeneration.label(); got != "Transcription" {
		t.Errorf("KindGeneration.label() = %q", got)
	}
}

func TestCauseOf(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: out of memory", ErrGeneration), "out of memory"},
		{fmt.Errorf("%w: permission denied", ErrMicrophoneUnavailable), "permission denied"},
		{fmt.Errorf("%w: no data", ErrDecodeFailure), "no data"},
		{errors.New("plain"), "plain"},
	}
	for _, tt := range tests {
		if got := causeOf(tt.err); got != tt.want {
			t.Errorf("causeOf(%q) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
