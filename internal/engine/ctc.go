package engine

import (
	"context"
	"fmt"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/decode"
)

// ctcModel is a single-file CTC acoustic model (model.onnx)
type ctcModel struct {
	session Session
	vocab   *decode.Vocabulary
	mel     audio.MelConfig
}

func loadCTC(dir string, opts Options) (*ctcModel, error) {
	path, err := requireFile(dir, "model.onnx")
	if err != nil {
		return nil, err
	}

	vocab, err := loadVocabulary(dir)
	if err != nil {
		return nil, err
	}

	session, err := openSession(opts.Runtime, path)
	if err != nil {
		return nil, err
	}
	if len(session.InputNames()) == 0 || len(session.OutputNames()) == 0 {
		session.Close()
		return nil, fmt.Errorf("%w: model.onnx declares no inputs or outputs", ErrModelLoad)
	}

	return &ctcModel{session: session, vocab: vocab, mel: FeaturesFor(KindCTC)}, nil
}

func (m *ctcModel) transcribe(ctx context.Context, samples []float32) (string, error) {
	features, length, frames := melInputs(samples, m.mel)
	if frames == 0 {
		return "", nil
	}

	outputs, err := m.session.Run(ctx, bindFeatures(m.session, features, length))
	if err != nil {
		return "", fmt.Errorf("%w: ctc run: %w", ErrInference, err)
	}

	logits, err := floatOutput(outputs, m.session.OutputNames()[0])
	if err != nil {
		return "", err
	}

	var steps, vocabSize int
	switch len(logits.Shape) {
	case 3:
		steps, vocabSize = int(logits.Shape[1]), int(logits.Shape[2])
	case 2:
		steps, vocabSize = int(logits.Shape[0]), int(logits.Shape[1])
	default:
		return "", fmt.Errorf("%w: unexpected ctc output shape %v", ErrInference, logits.Shape)
	}

	return decode.CTCGreedy(logits.Floats[:steps*vocabSize], steps, vocabSize, m.vocab)
}
