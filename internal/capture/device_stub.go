//go:build !portaudio

package capture

import "fmt"

type unavailableDevice struct{}

// NewDefaultDevice returns a device that always fails to open. Rebuild with
// -tags portaudio for microphone input.
func NewDefaultDevice() Device {
	return unavailableDevice{}
}

func (unavailableDevice) Open(func([]float32)) (Stream, Format, error) {
	return nil, Format{}, fmt.Errorf("%w: built without portaudio", ErrDeviceUnavailable)
}
