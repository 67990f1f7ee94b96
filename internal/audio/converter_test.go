package audio

import (
	"math"
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	samples := []float32{0.1, -0.25, 0.2}
	Normalize(samples)

	if samples[1] != -1 {
		t.Errorf("Expected peak sample to become -1, got %f", samples[1])
	}
	if math.Abs(float64(samples[0])-0.4) > 1e-6 {
		t.Errorf("Expected 0.4, got %f", samples[0])
	}
}

func TestNormalize_Silent(t *testing.T) {
	samples := []float32{0, 0, 0}
	Normalize(samples)
	for i, s := range samples {
		if s != 0 {
			t.Errorf("Expected silent sample at index %d to stay 0, got %f", i, s)
		}
	}
}

func TestNormalize_AlreadyUnitPeak(t *testing.T) {
	samples := []float32{1, -0.5, 0.25}
	Normalize(samples)

	expected := []float32{1, -0.5, 0.25}
	for i := range expected {
		if samples[i] != expected[i] {
			t.Errorf("Expected unchanged sample at index %d", i)
		}
	}
}

func TestRMS(t *testing.T) {
	samples := []float32{0.1, -0.1, 0.2, -0.2}
	rms := RMS(samples)

	expected := math.Sqrt((0.01 + 0.01 + 0.04 + 0.04) / 4.0)
	if math.Abs(float64(rms)-expected) > 1e-6 {
		t.Errorf("Expected RMS %.6f, got %.6f", expected, rms)
	}
}

func TestRMS_Empty(t *testing.T) {
	if rms := RMS(nil); rms != 0 {
		t.Errorf("Expected RMS 0 for empty slice, got %f", rms)
	}
}

func TestIsSilent(t *testing.T) {
	loud := []float32{0.5, -0.5, 0.5}
	if IsSilent(loud, 0.01) {
		t.Error("Expected loud samples to not be silence")
	}

	quiet := []float32{0.0001, -0.0001, 0.0001}
	if !IsSilent(quiet, 0.01) {
		t.Error("Expected quiet samples to be silence")
	}

	if IsSilent(quiet, 0) {
		t.Error("Expected a zero threshold to disable the gate")
	}
}

func TestDownmixFirstChannel(t *testing.T) {
	interleaved := []float32{1, 10, 2, 20, 3, 30}
	mono := DownmixFirstChannel(nil, interleaved, 2)

	expected := []float32{1, 2, 3}
	if len(mono) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(mono))
	}
	for i := range expected {
		if mono[i] != expected[i] {
			t.Errorf("Expected %v at index %d, got %v", expected[i], i, mono[i])
		}
	}
}

func TestIntFloatConversion(t *testing.T) {
	floats := IntToFloat([]int{0, 16384, -32768}, 16)
	expected := []float32{0, 0.5, -1}
	for i := range expected {
		if floats[i] != expected[i] {
			t.Errorf("Expected %v at index %d, got %v", expected[i], i, floats[i])
		}
	}

	ints := FloatToInt16([]float32{0, 1, -2})
	if ints[1] != 32767 || ints[2] != -32767 {
		t.Errorf("Expected clipped values 32767/-32767, got %v", ints)
	}
}

func TestBufferDuration(t *testing.T) {
	b := Buffer{Samples: make([]float32, 8000), SampleRate: 16000, Channels: 1}
	if b.Duration() != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", b.Duration())
	}
	if DurationToSamples(250*time.Millisecond, 16000) != 4000 {
		t.Errorf("Expected 4000 samples for 250ms at 16kHz")
	}
}
