package audio

import (
	"math"
	"time"
)

// TargetSampleRate is the rate every model in the pipeline consumes
const TargetSampleRate uint32 = 16000

// Buffer is a block of mono float samples. Channels is kept as metadata only.
type Buffer struct {
	Samples    []float32
	SampleRate uint32
	Channels   uint16
}

// Duration returns the playback length of the buffer
func (b Buffer) Duration() time.Duration {
	return SamplesToDuration(len(b.Samples), b.SampleRate)
}

// Slice returns the sub-buffer covered by c. The samples are shared, not copied.
func (b Buffer) Slice(c ChunkBoundary) Buffer {
	return Buffer{
		Samples:    b.Samples[c.Start:c.End],
		SampleRate: b.SampleRate,
		Channels:   b.Channels,
	}
}

// SamplesToDuration converts a sample count at rate into a duration
func SamplesToDuration(n int, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(rate))
}

// DurationToSamples converts d into a sample count at rate
func DurationToSamples(d time.Duration, rate uint32) int {
	return int(d.Seconds() * float64(rate))
}

// Normalize peak-normalizes samples in place to [-1, 1].
// Silent input and input already at unit peak are left untouched.
func Normalize(samples []float32) {
	var maxVal float32
	for _, s := range samples {
		if s < 0 {
			s = -s
		}
		if s > maxVal {
			maxVal = s
		}
	}

	if maxVal == 0 || maxVal == 1 {
		return
	}

	for i := range samples {
		samples[i] /= maxVal
	}
}

// RMS calculates the root mean square of audio samples.
// Useful for detecting audio levels and silence
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	sum := 0.0
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}

	return float32(math.Sqrt(sum / float64(len(samples))))
}

// IsSilent reports whether the samples stay under an RMS energy threshold.
// A non-positive threshold disables the gate.
func IsSilent(samples []float32, threshold float32) bool {
	if threshold <= 0 {
		return false
	}
	return RMS(samples) < threshold
}

// DownmixFirstChannel keeps every channels-th sample of an interleaved block,
// appending the result to dst.
func DownmixFirstChannel(dst, interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return append(dst, interleaved...)
	}
	for i := 0; i < len(interleaved); i += channels {
		dst = append(dst, interleaved[i])
	}
	return dst
}

// IntToFloat converts signed integer PCM of the given bit depth to [-1, 1) floats
func IntToFloat(pcm []int, bitDepth int) []float32 {
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << uint(bitDepth-1))
	out := make([]float32, len(pcm))
	for i, v := range pcm {
		out[i] = float32(v) / scale
	}
	return out
}

// FloatToInt16 converts float samples to 16-bit PCM values, clipping out of range input
func FloatToInt16(samples []float32) []int {
	out := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		out[i] = int(s * 32767)
	}
	return out
}
