package audio

import (
	"math"
	"math/rand"
	"testing"
)

func TestMelConfig_Validate(t *testing.T) {
	if err := DefaultMelConfig().Validate(); err != nil {
		t.Fatalf("Expected default config to be valid, got %v", err)
	}

	cfg := DefaultMelConfig()
	cfg.NFFT = 400
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for non power of two n_fft")
	}

	cfg = DefaultMelConfig()
	cfg.WinLength = 1024
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for win_length > n_fft")
	}

	cfg = DefaultMelConfig()
	cfg.HopLength = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero hop")
	}
}

func TestMelNumFrames_MatchesSpectrogram(t *testing.T) {
	cfg := DefaultMelConfig()
	rng := rand.New(rand.NewSource(1))

	for _, n := range []int{0, 1, 100, 399, 400, 511, 512, 1600, 16000, 16001} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(rng.Float64()*2 - 1)
		}

		mel := MelSpectrogram(samples, cfg)
		if len(mel)%cfg.NMels != 0 {
			t.Fatalf("n=%d: output length %d is not a multiple of n_mels", n, len(mel))
		}

		got := len(mel) / cfg.NMels
		if want := MelNumFrames(n, cfg); got != want {
			t.Errorf("n=%d: MelNumFrames=%d but spectrogram has %d frames", n, want, got)
		}
	}
}

func TestMelNumFrames_EdgeCases(t *testing.T) {
	cfg := DefaultMelConfig()

	if f := MelNumFrames(0, cfg); f != 0 {
		t.Errorf("Expected 0 frames for empty input, got %d", f)
	}
	if f := MelNumFrames(100, cfg); f != 1 {
		t.Errorf("Expected 1 frame for input shorter than a window, got %d", f)
	}
	if f := MelNumFrames(16000, cfg); f != 101 {
		t.Errorf("Expected 101 frames for one second, got %d", f)
	}
}

func TestMelSpectrogram_PeakBand(t *testing.T) {
	cfg := DefaultMelConfig()
	cfg.NormalizePerFeature = false

	samples := sineWave(16000, 1000, 16000, 0.5)
	mel := MelSpectrogram(samples, cfg)
	nFrames := MelNumFrames(len(samples), cfg)
	frame := nFrames / 2

	best := 0
	for m := 1; m < cfg.NMels; m++ {
		if mel[m*nFrames+frame] > mel[best*nFrames+frame] {
			best = m
		}
	}

	// Band whose centre is closest to 1 kHz
	melMax := hzToMel(8000)
	expected := 0
	closest := math.MaxFloat64
	for m := 0; m < cfg.NMels; m++ {
		center := melToHz(melMax * float32(m+1) / float32(cfg.NMels+1))
		if d := math.Abs(float64(center) - 1000); d < closest {
			closest = d
			expected = m
		}
	}

	if best < expected-1 || best > expected+1 {
		t.Errorf("Expected peak band near %d for a 1kHz tone, got %d", expected, best)
	}
}

func TestMelSpectrogram_PerFeatureNormalization(t *testing.T) {
	cfg := DefaultMelConfig()
	rng := rand.New(rand.NewSource(3))

	samples := make([]float32, 8000)
	for i := range samples {
		samples[i] = float32(rng.Float64()*2-1) * 0.3
	}

	mel := MelSpectrogram(samples, cfg)
	nFrames := MelNumFrames(len(samples), cfg)

	for m := 0; m < cfg.NMels; m++ {
		var mean float64
		for f := 0; f < nFrames; f++ {
			mean += float64(mel[m*nFrames+f])
		}
		mean /= float64(nFrames)
		if math.Abs(mean) > 1e-3 {
			t.Fatalf("Expected zero mean for band %d, got %f", m, mean)
		}
	}
}

func TestMelSpectrogram_SilenceStaysFinite(t *testing.T) {
	cfg := DefaultMelConfig()
	mel := MelSpectrogram(make([]float32, 4000), cfg)

	for i, v := range mel {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Expected finite value at %d, got %f", i, v)
		}
	}
}

func TestReflectPad(t *testing.T) {
	padded := reflectPad([]float32{1, 2, 3, 4, 5}, 2)
	expected := []float32{3, 2, 1, 2, 3, 4, 5, 4, 3}

	if len(padded) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(padded))
	}
	for i := range expected {
		if padded[i] != expected[i] {
			t.Errorf("Expected %v at index %d, got %v", expected[i], i, padded[i])
		}
	}

	if p := reflectPad(nil, 3); len(p) != 6 {
		t.Errorf("Expected 6 zeros for empty input, got %d", len(p))
	}
}
