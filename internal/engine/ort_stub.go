//go:build !onnxruntime

package engine

import "fmt"

// NewORTRuntime reports that onnxruntime support was not compiled in
func NewORTRuntime(libPath string, threads int) (Runtime, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags onnxruntime", ErrRuntimeUnavailable)
}
