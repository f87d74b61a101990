package decode

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/MrWong99/quacktosql/pkg/audio"
)

// pcmCodec decodes headerless 16-bit little-endian PCM. The format comes from
// the hint parameters, e.g. "audio/pcm;rate=48000;channels=2", and defaults to
// 16 kHz mono.
type pcmCodec struct{}

func (pcmCodec) Name() string { return "pcm" }

func (pcmCodec) Decode(data []byte, params map[string]string) (PCM, error) {
	if len(data)%2 != 0 {
		return PCM{}, errors.New("odd byte count in 16-bit pcm")
	}
	rate, err := intParam(params, "rate", DefaultSampleRate)
	if err != nil {
		return PCM{}, err
	}
	channels, err := intParam(params, "channels", 1)
	if err != nil {
		return PCM{}, err
	}
	if (len(data)/2)%channels != 0 {
		return PCM{}, fmt.Errorf("sample count not divisible by %d channels", channels)
	}
	return PCM{
		Samples:    audio.PCM16ToFloat32(data),
		SampleRate: rate,
		Channels:   channels,
	}, nil
}

func intParam(params map[string]string, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s parameter %q", key, v)
	}
	return n, nil
}
