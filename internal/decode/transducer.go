package decode

import (
	"context"
	"fmt"
)

const (
	// DefaultMaxSymbolsPerStep caps emissions on a single encoder frame
	DefaultMaxSymbolsPerStep = 10
)

// DefaultDurations are the TDT skip distances predicted by the duration head
var DefaultDurations = []int{0, 1, 2, 3, 4}

// DefaultStateShape is used for a recurrent state until the model reports
// its own shape. It matches Parakeet TDT 0.6B: [layers, batch, hidden].
var DefaultStateShape = []int64{2, 1, 640}

// StepInput is one decoder_joint invocation
type StepInput struct {
	EncoderFrame []float32 // [D]
	Target       int32
	StateShape1  []int64
	State1       []float32
	StateShape2  []int64
	State2       []float32
}

// StepOutput carries the joint logits, [vocab + durations], and the candidate
// recurrent states. StateShape1 and StateShape2 are the shapes the model
// reported for the output states, or nil when unknown.
type StepOutput struct {
	Logits      []float32
	StateShape1 []int64
	State1      []float32
	StateShape2 []int64
	State2      []float32
}

// Stepper runs a single autoregressive decoder step
type Stepper interface {
	Step(ctx context.Context, in StepInput) (StepOutput, error)
}

// StateShaper is implemented by steppers that know their state shapes from
// model metadata before the first step. A nil shape is unknown.
type StateShaper interface {
	StateShapes() (state1, state2 []int64)
}

// recurrentState is one decoder state tensor and the shape it is sent with
type recurrentState struct {
	shape  []int64
	values []float32
}

func newRecurrentState(shape []int64) recurrentState {
	return recurrentState{shape: cloneShape(shape), values: make([]float32, shapeSize(shape))}
}

// adoptShape resets the state to a fully static reported shape that differs
// from the current one.
func (r *recurrentState) adoptShape(reported []int64) {
	if staticShape(reported) && !equalShape(reported, r.shape) {
		*r = newRecurrentState(reported)
	}
}

// Transducer is a greedy token-and-duration (TDT) decoder
type Transducer struct {
	Vocab             *Vocabulary
	MaxSymbolsPerStep int
	Durations         []int
	DefaultStateShape []int64
}

// NewTransducer returns a decoder with the default cap, durations and state shape
func NewTransducer(v *Vocabulary) *Transducer {
	return &Transducer{
		Vocab:             v,
		MaxSymbolsPerStep: DefaultMaxSymbolsPerStep,
		Durations:         DefaultDurations,
		DefaultStateShape: DefaultStateShape,
	}
}

func (t *Transducer) maxSymbols() int {
	if t.MaxSymbolsPerStep < 1 {
		return 1
	}
	return t.MaxSymbolsPerStep
}

func (t *Transducer) defaultShape() []int64 {
	if len(t.DefaultStateShape) == 0 {
		return DefaultStateShape
	}
	return t.DefaultStateShape
}

// initialStates picks the starting shape of each state: metadata from the
// stepper when it is fully static, otherwise the configured default.
func (t *Transducer) initialStates(s Stepper) (recurrentState, recurrentState) {
	shape1, shape2 := t.defaultShape(), t.defaultShape()
	if shaper, ok := s.(StateShaper); ok {
		declared1, declared2 := shaper.StateShapes()
		if staticShape(declared1) {
			shape1 = declared1
		}
		if staticShape(declared2) {
			shape2 = declared2
		}
	}
	return newRecurrentState(shape1), newRecurrentState(shape2)
}

// Decode walks encoded frames of a row-major [encodedLength x encoderDim]
// encoder output. Each step predicts a token and a duration. Non-blank tokens
// are emitted and their state adopted; the cursor advances by the duration,
// or by one frame on blank or once MaxSymbolsPerStep emissions have happened
// on the current frame.
//
// Each state takes the shape the model reports after the first step. A state
// whose length still differs from what the model returns is an
// ErrDecodeShapeMismatch.
func (t *Transducer) Decode(ctx context.Context, s Stepper, encoderOut []float32, encodedLength, encoderDim int) (string, error) {
	vocabSize := t.Vocab.Size()
	blank := t.Vocab.BlankID()
	maxSymbols := t.maxSymbols()
	numDurations := len(t.Durations)

	if encoderDim <= 0 {
		return "", fmt.Errorf("%w: encoder dim %d", ErrDecodeShapeMismatch, encoderDim)
	}
	if len(encoderOut) < encodedLength*encoderDim {
		encodedLength = len(encoderOut) / encoderDim
	}

	state1, state2 := t.initialStates(s)
	negotiated := false

	var ids []int
	target := int32(blank)
	emitted := 0

	for frame := 0; frame < encodedLength; {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		out, err := s.Step(ctx, StepInput{
			EncoderFrame: encoderOut[frame*encoderDim : (frame+1)*encoderDim],
			Target:       target,
			StateShape1:  state1.shape,
			State1:       state1.values,
			StateShape2:  state2.shape,
			State2:       state2.values,
		})
		if err != nil {
			return "", fmt.Errorf("decoder step at frame %d: %w", frame, err)
		}

		if !negotiated {
			negotiated = true
			state1.adoptShape(out.StateShape1)
			state2.adoptShape(out.StateShape2)
		}
		if len(out.Logits) < vocabSize {
			return "", fmt.Errorf("%w: %d joint logits for %d tokens", ErrDecodeShapeMismatch, len(out.Logits), vocabSize)
		}
		if len(out.State1) != len(state1.values) || len(out.State2) != len(state2.values) {
			return "", fmt.Errorf("%w: decoder states of %d and %d values, expected %v and %v",
				ErrDecodeShapeMismatch, len(out.State1), len(out.State2), state1.shape, state2.shape)
		}

		token := argmax(out.Logits[:vocabSize])

		step := 0
		if numDurations > 0 && len(out.Logits) >= vocabSize+numDurations {
			step = t.Durations[argmax(out.Logits[vocabSize:vocabSize+numDurations])]
		}

		if token != blank {
			copy(state1.values, out.State1)
			copy(state2.values, out.State2)
			target = int32(token)
			ids = append(ids, token)
			emitted++
		}

		switch {
		case step > 0:
			frame += step
			emitted = 0
		case token == blank || emitted >= maxSymbols:
			frame++
			emitted = 0
		}
	}

	return t.Vocab.Detokenize(ids), nil
}

func shapeSize(shape []int64) int {
	n := 1
	for _, d := range shape {
		n *= int(d)
	}
	return n
}

func staticShape(shape []int64) bool {
	if len(shape) == 0 {
		return false
	}
	for _, d := range shape {
		if d <= 0 {
			return false
		}
	}
	return true
}

func equalShape(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func cloneShape(shape []int64) []int64 {
	out := make([]int64, len(shape))
	copy(out, shape)
	return out
}
