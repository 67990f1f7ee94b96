package audio

import (
	"math"
	"testing"
)

// contents returns the buffered samples, oldest first
func contents(r *SampleRing) []float32 {
	out := make([]float32, 0, r.filled)
	start := (r.write - r.filled + r.size) % r.size
	for i := 0; i < r.filled; i++ {
		out = append(out, r.buffer[(start+i)%r.size])
	}
	return out
}

func TestSampleRing_Write(t *testing.T) {
	r := NewSampleRing(10)

	written := r.Write([]float32{1, 2, 3, 4, 5})
	if written != 5 {
		t.Errorf("Expected to write 5 samples, got %d", written)
	}
	if r.filled != 5 {
		t.Errorf("Expected 5 samples held, got %d", r.filled)
	}

	written = r.Write([]float32{6, 7, 8})
	if written != 3 {
		t.Errorf("Expected to write 3 samples, got %d", written)
	}
	if r.filled != 8 {
		t.Errorf("Expected 8 samples held, got %d", r.filled)
	}
}

func TestSampleRing_Overwrite(t *testing.T) {
	r := NewSampleRing(4)

	r.Write([]float32{1, 2, 3, 4})
	r.Write([]float32{5, 6})
	if r.filled != 4 {
		t.Errorf("Expected 4 samples held after overwrite, got %d", r.filled)
	}

	got := contents(r)
	expected := []float32{3, 4, 5, 6}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected %v at position %d, got %v", expected[i], i, got[i])
		}
	}
}

func TestSampleRing_WriteLargerThanSize(t *testing.T) {
	r := NewSampleRing(3)

	written := r.Write([]float32{1, 2, 3, 4, 5, 6, 7})
	if written != 3 {
		t.Errorf("Expected only the last 3 samples to be kept, got %d", written)
	}

	got := contents(r)
	expected := []float32{5, 6, 7}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Expected %v at position %d, got %v", expected[i], i, got[i])
		}
	}
}

func TestSampleRing_Empty(t *testing.T) {
	r := NewSampleRing(10)

	if !r.IsEmpty() {
		t.Error("Expected ring to be empty initially")
	}
	if rms := r.RMS(); rms != 0 {
		t.Errorf("Expected RMS 0 for empty ring, got %f", rms)
	}
}

func TestSampleRing_RMS(t *testing.T) {
	r := NewSampleRing(4)
	r.Write([]float32{0.5, -0.5, 0.5, -0.5})

	if rms := r.RMS(); math.Abs(float64(rms)-0.5) > 1e-6 {
		t.Errorf("Expected RMS 0.5, got %f", rms)
	}

	// Newer loud samples displace the quiet ones
	r.Write([]float32{1, -1, 1, -1})
	if rms := r.RMS(); math.Abs(float64(rms)-1) > 1e-6 {
		t.Errorf("Expected RMS 1.0 after overwrite, got %f", rms)
	}
}

func TestSampleRing_Clear(t *testing.T) {
	r := NewSampleRing(10)
	r.Write([]float32{1, 2, 3})

	r.Clear()
	if !r.IsEmpty() {
		t.Error("Expected ring to be empty after clear")
	}
	if rms := r.RMS(); rms != 0 {
		t.Errorf("Expected RMS 0 after clear, got %f", rms)
	}
	if r.size != 10 {
		t.Errorf("Expected size 10 after clear, got %d", r.size)
	}

	r.Write([]float32{0.25})
	if got := contents(r); len(got) != 1 || got[0] != 0.25 {
		t.Errorf("Expected ring to be reusable after clear, got %v", got)
	}
}
