package engine

import (
	"github.com/lexiqai/dictation/internal/audio"
)

// FeaturesFor returns the log-mel configuration a model family was trained
// with. CTC models use 80 mel bands, transducer models 128. Whisper computes
// its own features and gets the CTC defaults.
func FeaturesFor(kind Kind) audio.MelConfig {
	cfg := audio.DefaultMelConfig()
	cfg.SampleRate = audio.TargetSampleRate
	cfg.NFFT = 512
	cfg.HopLength = 160
	cfg.WinLength = 400
	cfg.FMin = 0
	cfg.FMax = 0
	cfg.LogScale = true
	cfg.NormalizePerFeature = true

	switch kind {
	case KindTransducer:
		cfg.NMels = 128
	default:
		cfg.NMels = 80
	}
	return cfg
}

// melInputs computes the [1, n_mels, frames] feature tensor and its [1]
// length companion for samples at 16 kHz.
func melInputs(samples []float32, cfg audio.MelConfig) (*Tensor, *Tensor, int) {
	frames := audio.MelNumFrames(len(samples), cfg)
	mel := audio.MelSpectrogram(samples, cfg)

	features := NewFloatTensor(mel, 1, int64(cfg.NMels), int64(frames))
	length := NewInt64Tensor([]int64{int64(frames)}, 1)
	return features, length, frames
}

// bindFeatures maps the feature and length tensors onto a session's inputs.
// The length input is only passed when the model declares one.
func bindFeatures(s Session, features, length *Tensor) map[string]*Tensor {
	names := s.InputNames()
	inputs := make(map[string]*Tensor, 2)
	if len(names) > 0 {
		inputs[names[0]] = features
	}
	if len(names) > 1 {
		inputs[names[1]] = length
	}
	return inputs
}
