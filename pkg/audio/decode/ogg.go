package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// oggCodec decodes Ogg/Opus as produced by Firefox MediaRecorder. Each page
// payload is treated as a single Opus packet.
type oggCodec struct{}

func (oggCodec) Name() string { return "ogg/opus" }

func (oggCodec) Decode(data []byte, params map[string]string) (PCM, error) {
	if c := params["codecs"]; c != "" && c != "opus" {
		return PCM{}, fmt.Errorf("unsupported ogg codec %q", c)
	}
	r, header, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("read ogg header: %w", err)
	}

	stream, err := newOpusStream(int(header.Channels), int(header.PreSkip))
	if err != nil {
		return PCM{}, err
	}

	for {
		payload, _, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// The newest chunk may end mid-page; keep what decoded so far.
			if len(stream.samples) > 0 {
				break
			}
			return PCM{}, fmt.Errorf("read ogg page: %w", err)
		}
		if bytes.HasPrefix(payload, []byte("OpusTags")) {
			continue
		}
		if err := stream.decode(payload); err != nil {
			return PCM{}, err
		}
	}
	return stream.pcm(), nil
}
