//go:build !whispercpp

package engine

import "fmt"

func openWhisperCpp(path string, threads int) (WhisperModel, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags whispercpp to load %s", ErrRuntimeUnavailable, path)
}
