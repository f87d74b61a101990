package decode

import (
	"encoding/binary"
	"errors"
	"fmt"

	"layeh.com/gopus"
)

// Opus always decodes at 48 kHz regardless of the input rate recorded in the
// stream header.
const (
	opusSampleRate = 48000
	// opusMaxFrameSize is the number of samples per channel in the longest
	// legal Opus packet (120 ms at 48 kHz).
	opusMaxFrameSize = 5760
)

// opusHead is the subset of the OpusHead identification header the decoder
// needs. WebM stores it as CodecPrivate; Ogg carries it in the first page.
type opusHead struct {
	channels int
	preSkip  int
}

// parseOpusHead parses an OpusHead identification header.
func parseOpusHead(b []byte) (opusHead, error) {
	if len(b) < 19 || string(b[:8]) != "OpusHead" {
		return opusHead{}, errors.New("invalid OpusHead")
	}
	return opusHead{
		channels: int(b[9]),
		preSkip:  int(binary.LittleEndian.Uint16(b[10:12])),
	}, nil
}

// opusStream decodes consecutive Opus packets of one logical stream into
// interleaved float32 samples. Decoder state carries across packets, so one
// opusStream must be used per stream.
type opusStream struct {
	dec      *gopus.Decoder
	channels int
	skip     int
	samples  []float32
}

// newOpusStream creates a decoder for a stream with the given channel count.
// Streams with more than two channels are decoded as stereo.
func newOpusStream(channels, preSkip int) (*opusStream, error) {
	if channels <= 0 {
		channels = 1
	}
	if channels > 2 {
		channels = 2
	}
	dec, err := gopus.NewDecoder(opusSampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("create opus decoder: %w", err)
	}
	return &opusStream{dec: dec, channels: channels, skip: preSkip * channels}, nil
}

// decode appends the samples of one packet, dropping the encoder pre-skip.
func (s *opusStream) decode(packet []byte) error {
	if len(packet) == 0 {
		return nil
	}
	pcm, err := s.dec.Decode(packet, opusMaxFrameSize, false)
	if err != nil {
		return fmt.Errorf("opus decode: %w", err)
	}
	if s.skip > 0 {
		n := min(s.skip, len(pcm))
		pcm = pcm[n:]
		s.skip -= n
	}
	for _, v := range pcm {
		s.samples = append(s.samples, float32(v)/32768.0)
	}
	return nil
}

// pcm returns everything decoded so far.
func (s *opusStream) pcm() PCM {
	return PCM{Samples: s.samples, SampleRate: opusSampleRate, Channels: s.channels}
}
