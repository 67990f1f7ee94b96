package engine

import (
	"context"
	"fmt"
)

// DataType is the element type held by a Tensor
type DataType int

const (
	Float32 DataType = iota
	Int64
	Int32
)

// Tensor is a dense row-major tensor exchanged with a Session. Exactly one of
// the data slices is populated, matching Type.
type Tensor struct {
	Type   DataType
	Shape  []int64
	Floats []float32
	Int64s []int64
	Int32s []int32
}

// NewFloatTensor wraps float32 data
func NewFloatTensor(data []float32, shape ...int64) *Tensor {
	return &Tensor{Type: Float32, Shape: shape, Floats: data}
}

// NewInt64Tensor wraps int64 data
func NewInt64Tensor(data []int64, shape ...int64) *Tensor {
	return &Tensor{Type: Int64, Shape: shape, Int64s: data}
}

// NewInt32Tensor wraps int32 data
func NewInt32Tensor(data []int32, shape ...int64) *Tensor {
	return &Tensor{Type: Int32, Shape: shape, Int32s: data}
}

// Len returns the number of elements implied by Shape
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= int(d)
	}
	return n
}

// Session runs one loaded model. Implementations need not be safe for
// concurrent use; Engine serialises calls.
type Session interface {
	InputNames() []string
	OutputNames() []string
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close() error
}

// ShapeInspector is implemented by sessions that expose declared input
// shapes. Dynamic dimensions are reported as -1.
type ShapeInspector interface {
	InputShape(name string) ([]int64, bool)
}

// Runtime opens model files into sessions
type Runtime interface {
	Open(path string) (Session, error)
	Close() error
}

// floatOutput fetches a float32 output by name
func floatOutput(outputs map[string]*Tensor, name string) (*Tensor, error) {
	t, ok := outputs[name]
	if !ok || t == nil {
		return nil, fmt.Errorf("%w: no %q output", ErrInference, name)
	}
	if t.Type != Float32 {
		return nil, fmt.Errorf("%w: output %q is not float32", ErrInference, name)
	}
	if len(t.Floats) < t.Len() {
		return nil, fmt.Errorf("%w: output %q has %d values for shape %v", ErrInference, name, len(t.Floats), t.Shape)
	}
	return t, nil
}
