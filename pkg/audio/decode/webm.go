package decode

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/at-wat/ebml-go"
)

// Matroska codec ID and track type for Opus audio.
const (
	webmCodecOpus  = "A_OPUS"
	webmTrackAudio = 2
)

// webmDocument is the subset of the Matroska element tree the decoder reads.
// Elements without a field are skipped.
type webmDocument struct {
	Segment webmSegment `ebml:"Segment"`
}

type webmSegment struct {
	Tracks  webmTracks    `ebml:"Tracks"`
	Cluster []webmCluster `ebml:"Cluster"`
}

type webmTracks struct {
	TrackEntry []webmTrackEntry `ebml:"TrackEntry"`
}

type webmTrackEntry struct {
	TrackNumber  uint64 `ebml:"TrackNumber"`
	TrackType    uint64 `ebml:"TrackType"`
	CodecID      string `ebml:"CodecID"`
	CodecPrivate []byte `ebml:"CodecPrivate"`
}

type webmCluster struct {
	SimpleBlock []ebml.Block `ebml:"SimpleBlock"`
}

// webmCodec decodes WebM/Opus, the default MediaRecorder output in Chromium
// browsers. Segment and cluster sizes are usually unknown because the recorder
// streams them.
type webmCodec struct{}

func (webmCodec) Name() string { return "webm/opus" }

func (webmCodec) Decode(data []byte, params map[string]string) (PCM, error) {
	if c := params["codecs"]; c != "" && c != "opus" {
		return PCM{}, fmt.Errorf("unsupported webm codec %q", c)
	}

	var doc webmDocument
	err := ebml.Unmarshal(bytes.NewReader(data), &doc, ebml.WithIgnoreUnknown(true))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return PCM{}, fmt.Errorf("parse webm: %w", err)
	}

	track, ok := opusTrack(doc.Segment.Tracks.TrackEntry)
	if !ok {
		if err != nil {
			return PCM{}, fmt.Errorf("parse webm: %w", err)
		}
		return PCM{}, errors.New("no opus audio track")
	}

	head := opusHead{channels: 1}
	if h, herr := parseOpusHead(track.CodecPrivate); herr == nil {
		head = h
	}
	stream, serr := newOpusStream(head.channels, head.preSkip)
	if serr != nil {
		return PCM{}, serr
	}

	for _, cluster := range doc.Segment.Cluster {
		for _, block := range cluster.SimpleBlock {
			if block.TrackNumber != track.TrackNumber {
				continue
			}
			for _, frame := range block.Data {
				if derr := stream.decode(frame); derr != nil {
					return PCM{}, derr
				}
			}
		}
	}
	return stream.pcm(), nil
}

// opusTrack finds the first Opus audio track.
func opusTrack(entries []webmTrackEntry) (webmTrackEntry, bool) {
	for _, e := range entries {
		if e.CodecID == webmCodecOpus && (e.TrackType == 0 || e.TrackType == webmTrackAudio) {
			return e, true
		}
	}
	return webmTrackEntry{}, false
}
