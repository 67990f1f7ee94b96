package audio

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestWAV_WriteThenRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recording.wav")

	in := Buffer{Samples: sineWave(1600, 440, 16000, 0.5), SampleRate: 16000, Channels: 1}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := WriteWAV(f, in); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	f.Close()

	f, err = os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	out, err := ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}

	if out.SampleRate != 16000 {
		t.Errorf("Expected 16000 Hz, got %d", out.SampleRate)
	}
	if len(out.Samples) != len(in.Samples) {
		t.Fatalf("Expected %d samples, got %d", len(in.Samples), len(out.Samples))
	}
	for i := range in.Samples {
		if math.Abs(float64(in.Samples[i]-out.Samples[i])) > 1e-3 {
			t.Fatalf("Sample %d differs beyond 16-bit quantisation: %f vs %f", i, in.Samples[i], out.Samples[i])
		}
	}
}

func TestReadWAV_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.wav")
	if err := os.WriteFile(path, []byte("definitely not riff data"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	if _, err := ReadWAV(f); err == nil {
		t.Error("Expected error for invalid WAV data")
	}
}
