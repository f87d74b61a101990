package decode_test

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/at-wat/ebml-go"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"
)

// wavFixture encodes interleaved int16 samples as a WAV file. The encoder
// needs an io.WriteSeeker, so the file goes through a temp dir.
func wavFixture(t *testing.T, samples []int16, rate, channels int) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}
	enc := wav.NewEncoder(f, rate, 16, channels, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav encoder: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}

// sine returns n samples of a 440 Hz tone at rate.
func sine(n, rate int, amplitude float64, offset int) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amplitude * math.Sin(2*math.Pi*440*float64(offset+i)/float64(rate)))
	}
	return out
}

// rampPCM returns n 16-bit little-endian samples whose value is their index
// modulo 32768.
func rampPCM(n int) []byte {
	b := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(int16(i%32768)))
	}
	return b
}

// opusPackets encodes frames of 20 ms mono sine audio.
func opusPackets(t *testing.T, frames int) [][]byte {
	t.Helper()
	enc, err := gopus.NewEncoder(48000, 1, gopus.Voip)
	if err != nil {
		t.Fatalf("create opus encoder: %v", err)
	}
	var packets [][]byte
	for i := range frames {
		pcm := sine(960, 48000, 8000, i*960)
		pkt, err := enc.Encode(pcm, 960, 4000)
		if err != nil {
			t.Fatalf("opus encode frame %d: %v", i, err)
		}
		packets = append(packets, append([]byte(nil), pkt...))
	}
	return packets
}

// oggOpusFixture builds an Ogg/Opus stream with one packet per page.
func oggOpusFixture(t *testing.T, frames int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := oggwriter.NewWith(&buf, 48000, 1)
	if err != nil {
		t.Fatalf("create ogg writer: %v", err)
	}
	for i, pkt := range opusPackets(t, frames) {
		p := &rtp.Packet{
			Header:  rtp.Header{SequenceNumber: uint16(i), Timestamp: uint32(i * 960)},
			Payload: pkt,
		}
		if err := w.WriteRTP(p); err != nil {
			t.Fatalf("write ogg page %d: %v", i, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close ogg writer: %v", err)
	}
	return buf.Bytes()
}

type fixtureDoc struct {
	Header  fixtureHeader  `ebml:"EBML"`
	Segment fixtureSegment `ebml:"Segment"`
}

type fixtureHeader struct {
	DocType string `ebml:"EBMLDocType"`
}

type fixtureSegment struct {
	Tracks  fixtureTracks    `ebml:"Tracks"`
	Cluster []fixtureCluster `ebml:"Cluster"`
}

type fixtureTracks struct {
	TrackEntry []fixtureTrackEntry `ebml:"TrackEntry"`
}

type fixtureTrackEntry struct {
	TrackNumber  uint64 `ebml:"TrackNumber"`
	TrackType    uint64 `ebml:"TrackType"`
	CodecID      string `ebml:"CodecID"`
	CodecPrivate []byte `ebml:"CodecPrivate"`
}

type fixtureCluster struct {
	SimpleBlock []ebml.Block `ebml:"SimpleBlock"`
}

// webmOpusFixture builds a WebM document with a single mono Opus track, the
// shape MediaRecorder produces.
func webmOpusFixture(t *testing.T, frames int) []byte {
	t.Helper()
	head := make([]byte, 19)
	copy(head, "OpusHead")
	head[8] = 1
	head[9] = 1
	binary.LittleEndian.PutUint16(head[10:], 312)
	binary.LittleEndian.PutUint32(head[12:], 48000)

	var blocks []ebml.Block
	for i, pkt := range opusPackets(t, frames) {
		blocks = append(blocks, ebml.Block{
			TrackNumber: 1,
			Timecode:    int16(i * 20),
			Keyframe:    true,
			Data:        [][]byte{pkt},
		})
	}
	doc := fixtureDoc{
		Header: fixtureHeader{DocType: "webm"},
		Segment: fixtureSegment{
			Tracks: fixtureTracks{TrackEntry: []fixtureTrackEntry{{
				TrackNumber:  1,
				TrackType:    2,
				CodecID:      "A_OPUS",
				CodecPrivate: head,
			}}},
			Cluster: []fixtureCluster{{SimpleBlock: blocks}},
		},
	}
	var buf bytes.Buffer
	if err := ebml.Marshal(&doc, &buf); err != nil {
		t.Fatalf("marshal webm: %v", err)
	}
	return buf.Bytes()
}
