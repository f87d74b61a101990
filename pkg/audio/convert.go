package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PCM16ToFloat32 converts 16-bit signed little-endian PCM audio to float32
// samples normalised to the range [-1.0, 1.0]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	samples := make([]float32, n)
	for i := range n {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples
}

// Int16ToFloat32 converts decoded int16 samples to normalised float32.
func Int16ToFloat32(pcm []int16) []float32 {
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// IntToFloat32 converts integer samples of the given bit depth to normalised
// float32. It is used for go-audio buffers whose Data is []int.
func IntToFloat32(pcm []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = float32(s) / scale
	}
	return out
}

// Float32ToInt16 converts normalised float32 samples back to int16, clamping
// values outside [-1, 1].
func Float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
	return out
}

// Float32ToPCM16 converts float32 samples to 16-bit little-endian PCM bytes.
func Float32ToPCM16(samples []float32) []byte {
	pcm := Float32ToInt16(samples)
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(b[i*2:], uint16(s))
	}
	return b
}

// Channel extracts one channel from interleaved samples. Multi-channel input
// is reduced by selection, not by averaging. Out-of-range indices yield nil.
func Channel(interleaved []float32, channels, index int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	if index < 0 || index >= channels {
		return nil
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		out[i] = interleaved[i*channels+index]
	}
	return out
}

// Resample converts mono float32 samples from srcRate to dstRate using linear
// interpolation. If the rates match, the input is returned unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	last := len(samples) - 1
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))
		s0 := samples[idx]
		s1 := s0
		if idx < last {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// Tail returns the trailing max samples of s. When s fits, it is returned as
// is; the oldest samples are the ones dropped.
func Tail(s []float32, max int) []float32 {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// Level maps the mean absolute amplitude of samples to a 0-100 meter value.
// The 1.5 gain matches what a browser analyser-based meter shows for speech at
// normal distance.
func Level(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += math.Abs(float64(s))
	}
	avg := sum / float64(len(samples)) * 255
	return math.Min(100, math.Max(0, avg*1.5))
}

// FormatString returns a human-readable string for a sample rate and channel
// count, e.g. "48000Hz stereo".
func FormatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
