//go:build onnxruntime

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var ortInitMu sync.Mutex

// ORTRuntime opens sessions through the onnxruntime shared library
type ORTRuntime struct {
	threads int
}

// NewORTRuntime initialises the onnxruntime environment. libPath may be empty
// to use the platform default library name.
func NewORTRuntime(libPath string, threads int) (Runtime, error) {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()

	if !ort.IsInitialized() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("%w: initialize onnxruntime: %w", ErrRuntimeUnavailable, err)
		}
	}
	return &ORTRuntime{threads: threads}, nil
}

// Open loads a model file and records its declared inputs and outputs
func (r *ORTRuntime) Open(path string) (Session, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("read model info: %w", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("session options: %w", err)
	}
	defer options.Destroy()

	if r.threads > 0 {
		if err := options.SetIntraOpNumThreads(r.threads); err != nil {
			return nil, fmt.Errorf("set threads: %w", err)
		}
	}

	s := &ortSession{inputShapes: make(map[string][]int64, len(inputs))}
	for _, info := range inputs {
		s.inputNames = append(s.inputNames, info.Name)
		s.inputShapes[info.Name] = []int64(info.Dimensions)
	}
	for _, info := range outputs {
		s.outputNames = append(s.outputNames, info.Name)
	}

	session, err := ort.NewDynamicAdvancedSession(path, s.inputNames, s.outputNames, options)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.session = session
	return s, nil
}

// Close tears down the onnxruntime environment
func (r *ORTRuntime) Close() error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()

	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

type ortSession struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	inputShapes map[string][]int64
}

func (s *ortSession) InputNames() []string  { return s.inputNames }
func (s *ortSession) OutputNames() []string { return s.outputNames }

func (s *ortSession) InputShape(name string) ([]int64, bool) {
	shape, ok := s.inputShapes[name]
	return shape, ok
}

func (s *ortSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	values := make([]ort.Value, len(s.inputNames))
	defer func() {
		for _, v := range values {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	for i, name := range s.inputNames {
		t, ok := inputs[name]
		if !ok {
			return nil, fmt.Errorf("missing input %q", name)
		}
		v, err := toValue(t)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		values[i] = v
	}

	// nil outputs are allocated by onnxruntime
	outputs := make([]ort.Value, len(s.outputNames))
	defer func() {
		for _, v := range outputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	if err := s.session.Run(values, outputs); err != nil {
		return nil, err
	}

	result := make(map[string]*Tensor, len(outputs))
	for i, v := range outputs {
		t, err := fromValue(v)
		if err != nil {
			return nil, fmt.Errorf("output %q: %w", s.outputNames[i], err)
		}
		result[s.outputNames[i]] = t
	}
	return result, nil
}

func (s *ortSession) Close() error {
	return s.session.Destroy()
}

func toValue(t *Tensor) (ort.Value, error) {
	shape := ort.NewShape(t.Shape...)
	switch t.Type {
	case Float32:
		return ort.NewTensor(shape, t.Floats)
	case Int64:
		return ort.NewTensor(shape, t.Int64s)
	case Int32:
		return ort.NewTensor(shape, t.Int32s)
	default:
		return nil, fmt.Errorf("unsupported tensor type %d", t.Type)
	}
}

// fromValue copies output data out of onnxruntime-owned memory
func fromValue(v ort.Value) (*Tensor, error) {
	if v == nil {
		return nil, errors.New("output was not produced")
	}
	shape := []int64(v.GetShape())

	switch tv := v.(type) {
	case *ort.Tensor[float32]:
		return NewFloatTensor(append([]float32(nil), tv.GetData()...), shape...), nil
	case *ort.Tensor[int64]:
		return NewInt64Tensor(append([]int64(nil), tv.GetData()...), shape...), nil
	case *ort.Tensor[int32]:
		return NewInt32Tensor(append([]int32(nil), tv.GetData()...), shape...), nil
	default:
		return nil, fmt.Errorf("unsupported output value %T", v)
	}
}
