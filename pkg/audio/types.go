// Package audio holds the sample-level helpers shared by the capture,
// decode, and ASR layers: the captured [Chunk] type, PCM and float32
// conversions, resampling, channel selection, and level metering.
package audio

import "time"

// Well-known container hints. Browsers report MediaRecorder output with one of
// the first four; native capture produces raw 16-bit little-endian PCM ([MIMEPCM]).
const (
	MIMEWebM     = "audio/webm"
	MIMEWebMOpus = "audio/webm;codecs=opus"
	MIMEOggOpus  = "audio/ogg;codecs=opus"
	MIMEWAV      = "audio/wav"
	MIMEMPEG     = "audio/mpeg"
	MIMEPCM      = "audio/pcm"
)

// Chunk is one slice of captured, still-encoded audio. Chunks of a capture
// session are ordered and append-only; only the full sequence is guaranteed to
// be decodable because container headers live in the first chunk.
type Chunk struct {
	// Data is the raw container bytes.
	Data []byte

	// MIMEType is the container hint declared by the recorder, possibly with
	// parameters (e.g. "audio/pcm;rate=16000;channels=1").
	MIMEType string

	// Offset marks when this chunk was emitted, relative to capture start.
	Offset time.Duration
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// Concat joins the data of all chunks into one contiguous blob.
func Concat(chunks []Chunk) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c.Data)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out
}
