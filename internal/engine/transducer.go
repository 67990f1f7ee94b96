package engine

import (
	"context"
	"fmt"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/decode"
)

// Tensor names of the exported TDT encoder and decoder_joint graphs
const (
	encoderOutputs        = "outputs"
	encoderEncodedLengths = "encoded_lengths"

	jointEncoderOutputs = "encoder_outputs"
	jointTargets        = "targets"
	jointTargetLength   = "target_length"
	jointInputStates1   = "input_states_1"
	jointInputStates2   = "input_states_2"
	jointOutputs        = "outputs"
	jointOutputStates1  = "output_states_1"
	jointOutputStates2  = "output_states_2"
)

// transducerModel is a TDT model split into encoder-model.onnx and
// decoder_joint-model.onnx
type transducerModel struct {
	encoder    Session
	decoder    Session
	vocab      *decode.Vocabulary
	mel        audio.MelConfig
	decoderCfg *decode.Transducer

	// scratch holds the transposed encoder output between calls
	scratch []float32
}

func loadTransducer(dir string, opts Options) (*transducerModel, error) {
	encoderPath, err := requireFile(dir, "encoder-model.onnx")
	if err != nil {
		return nil, err
	}
	decoderPath, err := requireFile(dir, "decoder_joint-model.onnx")
	if err != nil {
		return nil, err
	}

	vocab, err := loadVocabulary(dir)
	if err != nil {
		return nil, err
	}

	encoder, err := openSession(opts.Runtime, encoderPath)
	if err != nil {
		return nil, err
	}
	decoder, err := openSession(opts.Runtime, decoderPath)
	if err != nil {
		encoder.Close()
		return nil, err
	}

	cfg := decode.NewTransducer(vocab)
	if opts.MaxSymbolsPerStep != 0 {
		cfg.MaxSymbolsPerStep = opts.MaxSymbolsPerStep
	}
	if len(opts.Durations) > 0 {
		cfg.Durations = opts.Durations
	}

	return &transducerModel{
		encoder:    encoder,
		decoder:    decoder,
		vocab:      vocab,
		mel:        FeaturesFor(KindTransducer),
		decoderCfg: cfg,
	}, nil
}

func (m *transducerModel) transcribe(ctx context.Context, samples []float32) (string, error) {
	features, length, frames := melInputs(samples, m.mel)
	if frames == 0 {
		return "", nil
	}

	outputs, err := m.encoder.Run(ctx, bindFeatures(m.encoder, features, length))
	if err != nil {
		return "", fmt.Errorf("%w: encoder run: %w", ErrInference, err)
	}

	enc, err := floatOutput(outputs, encoderOutputs)
	if err != nil {
		return "", err
	}
	if len(enc.Shape) != 3 {
		return "", fmt.Errorf("%w: unexpected encoder output shape %v", ErrInference, enc.Shape)
	}
	dim, steps := int(enc.Shape[1]), int(enc.Shape[2])

	encodedLength := steps
	if lengths, ok := outputs[encoderEncodedLengths]; ok && lengths.Type == Int64 && len(lengths.Int64s) > 0 {
		encodedLength = int(lengths.Int64s[0])
	}
	if encodedLength > steps {
		encodedLength = steps
	}

	// [1, D, T'] -> [T', D]
	if cap(m.scratch) < steps*dim {
		m.scratch = make([]float32, steps*dim)
	}
	transposed := m.scratch[:steps*dim]
	for d := 0; d < dim; d++ {
		for t := 0; t < steps; t++ {
			transposed[t*dim+d] = enc.Floats[d*steps+t]
		}
	}

	stepper := &jointStepper{session: m.decoder}
	return m.decoderCfg.Decode(ctx, stepper, transposed, encodedLength, dim)
}

// jointStepper adapts a decoder_joint session to decode.Stepper
type jointStepper struct {
	session Session
}

func (j *jointStepper) Step(ctx context.Context, in decode.StepInput) (decode.StepOutput, error) {
	dim := int64(len(in.EncoderFrame))
	inputs := map[string]*Tensor{
		jointEncoderOutputs: NewFloatTensor(in.EncoderFrame, 1, dim, 1),
		jointTargets:        NewInt32Tensor([]int32{in.Target}, 1, 1),
		jointTargetLength:   NewInt32Tensor([]int32{1}, 1),
		jointInputStates1:   NewFloatTensor(in.State1, in.StateShape1...),
		jointInputStates2:   NewFloatTensor(in.State2, in.StateShape2...),
	}

	outputs, err := j.session.Run(ctx, inputs)
	if err != nil {
		return decode.StepOutput{}, fmt.Errorf("%w: decoder_joint run: %w", ErrInference, err)
	}

	logits, err := floatOutput(outputs, jointOutputs)
	if err != nil {
		return decode.StepOutput{}, err
	}
	s1, err := floatOutput(outputs, jointOutputStates1)
	if err != nil {
		return decode.StepOutput{}, err
	}
	s2, err := floatOutput(outputs, jointOutputStates2)
	if err != nil {
		return decode.StepOutput{}, err
	}

	return decode.StepOutput{
		Logits:      logits.Floats,
		StateShape1: s1.Shape,
		State1:      s1.Floats,
		StateShape2: s2.Shape,
		State2:      s2.Floats,
	}, nil
}

// StateShapes reports the declared input state shapes when the session
// exposes them
func (j *jointStepper) StateShapes() (state1, state2 []int64) {
	inspector, ok := j.session.(ShapeInspector)
	if !ok {
		return nil, nil
	}
	state1, _ = inspector.InputShape(jointInputStates1)
	state2, _ = inspector.InputShape(jointInputStates2)
	return state1, state2
}
