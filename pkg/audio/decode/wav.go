package decode

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-audio/wav"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// wavCodec decodes RIFF/WAV PCM files.
type wavCodec struct{}

func (wavCodec) Name() string { return "wav" }

func (wavCodec) Decode(data []byte, _ map[string]string) (PCM, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return PCM{}, errors.New("not a valid wav file")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return PCM{}, fmt.Errorf("read wav pcm: %w", err)
	}
	if buf.Format == nil {
		return PCM{}, errors.New("wav file without format")
	}
	return PCM{
		Samples:    audio.IntToFloat32(buf.Data, buf.SourceBitDepth),
		SampleRate: buf.Format.SampleRate,
		Channels:   buf.Format.NumChannels,
	}, nil
}
