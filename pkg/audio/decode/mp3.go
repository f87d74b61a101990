package decode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// mp3Codec decodes MPEG-1/2 Layer III. go-mp3 always produces 16-bit stereo.
type mp3Codec struct{}

func (mp3Codec) Name() string { return "mp3" }

func (mp3Codec) Decode(data []byte, _ map[string]string) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("open mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil && len(pcm) == 0 {
		return PCM{}, fmt.Errorf("read mp3: %w", err)
	}
	return PCM{
		Samples:    audio.PCM16ToFloat32(pcm),
		SampleRate: dec.SampleRate(),
		Channels:   2,
	}, nil
}
