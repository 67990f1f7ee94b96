package audio

import (
	"fmt"
	"math"
)

// MelConfig parameterises the log-mel feature extractor
type MelConfig struct {
	SampleRate          uint32
	NFFT                int
	HopLength           int
	WinLength           int
	NMels               int
	FMin                float32
	FMax                float32 // <= 0 means sample_rate / 2
	LogScale            bool
	NormalizePerFeature bool
}

// DefaultMelConfig returns the 80-bin, 25ms window / 10ms hop configuration
// used by the NeMo family of models.
func DefaultMelConfig() MelConfig {
	return MelConfig{
		SampleRate:          16000,
		NFFT:                512,
		HopLength:           160,
		WinLength:           400,
		NMels:               80,
		FMin:                0,
		FMax:                0,
		LogScale:            true,
		NormalizePerFeature: true,
	}
}

// Validate checks the structural invariants of the configuration
func (c MelConfig) Validate() error {
	if c.SampleRate == 0 {
		return fmt.Errorf("mel: sample rate must be positive")
	}
	if !isPowerOfTwo(c.NFFT) {
		return fmt.Errorf("mel: n_fft must be a power of two, got %d", c.NFFT)
	}
	if c.WinLength <= 0 || c.WinLength > c.NFFT {
		return fmt.Errorf("mel: win_length must be in (0, n_fft], got %d", c.WinLength)
	}
	if c.HopLength <= 0 {
		return fmt.Errorf("mel: hop_length must be positive, got %d", c.HopLength)
	}
	if c.NMels <= 0 {
		return fmt.Errorf("mel: n_mels must be positive, got %d", c.NMels)
	}
	return nil
}

func (c MelConfig) maxFreq() float32 {
	if c.FMax <= 0 {
		return float32(c.SampleRate) / 2
	}
	return c.FMax
}

// MelNumFrames returns the number of frames MelSpectrogram produces for
// numSamples input samples, without computing them.
func MelNumFrames(numSamples int, cfg MelConfig) int {
	if numSamples == 0 {
		return 0
	}
	padded := numSamples + 2*(cfg.NFFT/2)
	if padded < cfg.NFFT {
		return 0
	}
	return (padded-cfg.NFFT)/cfg.HopLength + 1
}

// MelSpectrogram computes a [n_mels x n_frames] row-major log-mel spectrogram.
// The config must satisfy Validate.
func MelSpectrogram(samples []float32, cfg MelConfig) []float32 {
	nFrames := MelNumFrames(len(samples), cfg)
	if nFrames == 0 {
		return nil
	}

	nBins := cfg.NFFT/2 + 1
	bank := buildMelFilterbank(cfg.NMels, nBins, float32(cfg.SampleRate), cfg.FMin, cfg.maxFreq())
	window := hannWindow(cfg.WinLength)
	padded := reflectPad(samples, cfg.NFFT/2)

	mel := make([]float32, cfg.NMels*nFrames)
	fftBuf := make([]float32, cfg.NFFT*2)
	power := make([]float32, nBins)

	for frame := 0; frame < nFrames; frame++ {
		start := frame * cfg.HopLength

		for i := range fftBuf {
			fftBuf[i] = 0
		}
		for i := 0; i < cfg.WinLength; i++ {
			if start+i < len(padded) {
				fftBuf[2*i] = padded[start+i] * window[i]
			}
		}

		fftInPlace(fftBuf, cfg.NFFT)

		for k := 0; k < nBins; k++ {
			re, im := fftBuf[2*k], fftBuf[2*k+1]
			power[k] = re*re + im*im
		}

		for m := 0; m < cfg.NMels; m++ {
			row := bank[m*nBins : (m+1)*nBins]
			var energy float32
			for k, weight := range row {
				if weight > 0 {
					energy += weight * power[k]
				}
			}
			mel[m*nFrames+frame] = energy
		}
	}

	if cfg.LogScale {
		const floor = 1e-10
		for i, v := range mel {
			mel[i] = float32(math.Log(float64(v + floor)))
		}
	}

	if cfg.NormalizePerFeature && nFrames > 1 {
		normalizeRows(mel, cfg.NMels, nFrames)
	}

	return mel
}

// normalizeRows brings every mel band to zero mean and unit variance.
// The standard deviation is floored at 1e-5 so near-constant rows stay finite.
func normalizeRows(mel []float32, nMels, nFrames int) {
	for m := 0; m < nMels; m++ {
		row := mel[m*nFrames : (m+1)*nFrames]

		var mean float32
		for _, v := range row {
			mean += v
		}
		mean /= float32(nFrames)

		var variance float32
		for _, v := range row {
			d := v - mean
			variance += d * d
		}
		variance /= float32(nFrames)

		std := float32(math.Sqrt(float64(variance)))
		if std < 1e-5 {
			std = 1e-5
		}

		for i := range row {
			row[i] = (row[i] - mean) / std
		}
	}
}

func hzToMel(hz float32) float32 {
	return 2595 * float32(math.Log10(float64(1+hz/700)))
}

func melToHz(mel float32) float32 {
	return 700 * (float32(math.Pow(10, float64(mel/2595))) - 1)
}

// buildMelFilterbank returns [n_mels x n_bins] triangular HTK filters
func buildMelFilterbank(nMels, nBins int, sampleRate, fmin, fmax float32) []float32 {
	bank := make([]float32, nMels*nBins)

	melMin := hzToMel(fmin)
	melMax := hzToMel(fmax)

	binPoints := make([]float32, nMels+2)
	for i := range binPoints {
		mel := melMin + (melMax-melMin)*float32(i)/float32(nMels+1)
		binPoints[i] = melToHz(mel) * float32(nBins-1) * 2 / sampleRate
	}

	for m := 0; m < nMels; m++ {
		left, center, right := binPoints[m], binPoints[m+1], binPoints[m+2]

		for k := 0; k < nBins; k++ {
			kf := float32(k)
			var weight float32
			switch {
			case kf >= left && kf <= center:
				if center-left > 1e-6 {
					weight = (kf - left) / (center - left)
				}
			case kf > center && kf <= right:
				if right-center > 1e-6 {
					weight = (right - kf) / (right - center)
				}
			}
			bank[m*nBins+k] = weight
		}
	}

	return bank
}

// reflectPad mirrors padLen samples onto each side of the signal, excluding
// the edge sample itself. Signals shorter than padLen clamp to their ends.
func reflectPad(samples []float32, padLen int) []float32 {
	n := len(samples)
	if n == 0 {
		return make([]float32, 2*padLen)
	}

	padded := make([]float32, 0, n+2*padLen)

	for i := padLen; i >= 1; i-- {
		idx := i
		if idx >= n {
			idx = n - 1
		}
		padded = append(padded, samples[idx])
	}

	padded = append(padded, samples...)

	for i := 1; i <= padLen; i++ {
		idx := 0
		if n > i+1 {
			idx = n - 1 - i
		}
		padded = append(padded, samples[idx])
	}

	return padded
}
