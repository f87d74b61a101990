// Package decode turns the ordered chunks of a capture session into a
// fixed-rate mono float32 buffer.
//
// The whole accumulated chunk sequence is decoded on every call: recorder
// containers (WebM, Ogg) are only decodable from their first chunk, so the
// decoder never tries to decode a suffix. Each call walks a prioritized list of
// container hints; the first hint whose codec decodes the blob wins and later
// hints are skipped. When every hint fails, [Decoder.Decode] returns an error
// wrapping [ErrDecodeFailure] and the caller is expected to discard its chunk
// buffer.
//
// After decoding, only channel 0 is kept, the signal is resampled to the
// target rate, and the result is truncated to its trailing window.
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

const (
	// DefaultSampleRate is the rate expected by the ASR models.
	DefaultSampleRate = 16000

	// DefaultMaxSamples is the sliding window: 20 s at 16 kHz.
	DefaultMaxSamples = DefaultSampleRate * 20
)

// ErrDecodeFailure is returned when no candidate hint could decode the audio.
var ErrDecodeFailure = errors.New("decode: audio could not be decoded with any codec")

// errNoAudio is returned by codecs that parsed the container but found no
// samples in it.
var errNoAudio = errors.New("no audio samples")

// DefaultHints is the fallback order used after the hint the recorder
// declared. The empty hint sniffs the container from its magic bytes.
var DefaultHints = []string{
	audio.MIMEWebM,
	audio.MIMEWebMOpus,
	audio.MIMEOggOpus,
	audio.MIMEWAV,
	audio.MIMEMPEG,
	"",
}

// PCM is the raw output of a codec: interleaved samples at the source rate.
type PCM struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Codec decodes one container format. params holds the MIME parameters of the
// hint that selected the codec (e.g. "codecs", "rate").
type Codec interface {
	Name() string
	Decode(data []byte, params map[string]string) (PCM, error)
}

// Result is a successfully decoded buffer plus diagnostics about how it was
// obtained.
type Result struct {
	// Samples is mono audio at the decoder's sample rate, at most MaxSamples long.
	Samples []float32

	// Hint is the candidate hint that decoded successfully.
	Hint string

	// Codec names the codec behind Hint.
	Codec string

	// Source is the format reported by the container.
	Source audio.Format

	// Truncated is true when older samples were dropped to fit the window.
	Truncated bool

	// Failures holds one error per hint that was tried before Hint.
	Failures []error
}

// Option is a functional option for configuring a [Decoder].
type Option func(*Decoder)

// WithHints replaces the fallback hint order. Empty hints sniff the container.
func WithHints(hints ...string) Option {
	return func(d *Decoder) { d.hints = append([]string(nil), hints...) }
}

// WithSampleRate sets the output sample rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(d *Decoder) {
		if rate > 0 {
			d.sampleRate = rate
		}
	}
}

// WithMaxSamples sets the sliding window length in samples. Defaults to
// [DefaultMaxSamples].
func WithMaxSamples(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSamples = n
		}
	}
}

// WithCodec registers c for the base MIME type mimeType, replacing any
// built-in codec for that type.
func WithCodec(mimeType string, c Codec) Option {
	return func(d *Decoder) { d.codecs[strings.ToLower(mimeType)] = c }
}

// Decoder decodes chunk sequences. It holds no per-session state and is safe
// for concurrent use.
type Decoder struct {
	hints      []string
	codecs     map[string]Codec
	sampleRate int
	maxSamples int
}

// New returns a [Decoder] with the built-in codecs for WebM/Opus, Ogg/Opus,
// WAV, MP3, and raw PCM.
func New(opts ...Option) *Decoder {
	d := &Decoder{
		hints:      DefaultHints,
		sampleRate: DefaultSampleRate,
		maxSamples: DefaultMaxSamples,
		codecs: map[string]Codec{
			"audio/webm":  webmCodec{},
			"video/webm":  webmCodec{},
			"audio/ogg":   oggCodec{},
			"audio/opus":  oggCodec{},
			"audio/wav":   wavCodec{},
			"audio/wave":  wavCodec{},
			"audio/x-wav": wavCodec{},
			"audio/mpeg":  mp3Codec{},
			"audio/mp3":   mp3Codec{},
			"audio/pcm":   pcmCodec{},
		},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// SampleRate returns the output sample rate.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// MaxSamples returns the sliding window length.
func (d *Decoder) MaxSamples() int { return d.maxSamples }

// Candidates returns the hints Decode would try for chunks, in order: the hint
// declared on the first chunk followed by the configured fallbacks, without
// duplicates.
func (d *Decoder) Candidates(chunks []audio.Chunk) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(h string) {
		key := strings.ToLower(strings.TrimSpace(h))
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, h)
	}
	if len(chunks) > 0 && chunks[0].MIMEType != "" {
		add(chunks[0].MIMEType)
	}
	for _, h := range d.hints {
		add(h)
	}
	return out
}

// Decode concatenates chunks and decodes the blob with the first candidate
// hint that succeeds. ctx is checked between attempts.
func (d *Decoder) Decode(ctx context.Context, chunks []audio.Chunk) (*Result, error) {
	data := audio.Concat(chunks)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrDecodeFailure)
	}

	var (
		failures []error
		tried    = make(map[string]bool)
	)
	for _, hint := range d.Candidates(chunks) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}

		codec, params, err := d.resolve(hint, data)
		if err != nil {
			failures = append(failures, fmt.Errorf("decode: %q: %w", hint, err))
			continue
		}
		// Two hints may map to the same codec with the same parameters; the
		// second attempt would fail the same way.
		key := codec.Name() + "|" + params["codecs"] + "|" + params["rate"] + "|" + params["channels"]
		if tried[key] {
			continue
		}
		tried[key] = true

		pcm, err := safeDecode(codec, data, params)
		if err == nil && len(pcm.Samples) == 0 {
			err = errNoAudio
		}
		if err != nil {
			failures = append(failures, fmt.Errorf("decode: %q (%s): %w", hint, codec.Name(), err))
			continue
		}
		return d.finish(pcm, hint, codec.Name(), failures), nil
	}

	if len(failures) == 0 {
		return nil, fmt.Errorf("%w: no candidate hints", ErrDecodeFailure)
	}
	return nil, fmt.Errorf("%w: %w", ErrDecodeFailure, errors.Join(failures...))
}

// safeDecode runs codec and converts a parser panic on malformed input into an
// error so one corrupt upload cannot take the process down.
func safeDecode(codec Codec, data []byte, params map[string]string) (pcm PCM, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("codec panic: %v", r)
		}
	}()
	return codec.Decode(data, params)
}

// resolve maps a hint to its codec. The empty hint sniffs data.
func (d *Decoder) resolve(hint string, data []byte) (Codec, map[string]string, error) {
	if strings.TrimSpace(hint) == "" {
		hint = Sniff(data)
		if hint == "" {
			return nil, nil, errors.New("unrecognised container")
		}
	}
	mediaType, params, err := mime.ParseMediaType(hint)
	if err != nil {
		return nil, nil, fmt.Errorf("parse hint: %w", err)
	}
	codec, ok := d.codecs[mediaType]
	if !ok {
		return nil, nil, fmt.Errorf("unsupported container %q", mediaType)
	}
	return codec, params, nil
}

// finish applies channel-0 selection, resampling, and tail truncation.
func (d *Decoder) finish(pcm PCM, hint, codec string, failures []error) *Result {
	mono := audio.Channel(pcm.Samples, pcm.Channels, 0)
	mono = audio.Resample(mono, pcm.SampleRate, d.sampleRate)
	tail := audio.Tail(mono, d.maxSamples)
	return &Result{
		Samples:   tail,
		Hint:      hint,
		Codec:     codec,
		Source:    audio.Format{SampleRate: pcm.SampleRate, Channels: pcm.Channels},
		Truncated: len(tail) < len(mono),
		Failures:  failures,
	}
}

// Sniff guesses a container hint from magic bytes. It returns "" when the
// data matches no supported container.
func Sniff(data []byte) string {
	switch {
	case len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")):
		return audio.MIMEWAV
	case bytes.HasPrefix(data, []byte("OggS")):
		return audio.MIMEOggOpus
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return audio.MIMEWebM
	case bytes.HasPrefix(data, []byte("ID3")):
		return audio.MIMEMPEG
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return audio.MIMEMPEG
	}
	return ""
}
