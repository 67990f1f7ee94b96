package capture

import "errors"

var (
	// ErrDeviceUnavailable is returned when no input device can be opened
	ErrDeviceUnavailable = errors.New("capture: input device unavailable")
	// ErrNotRecording is returned by Stop when no stream is running
	ErrNotRecording = errors.New("capture: not recording")
	// ErrAlreadyRecording is returned by Start while a stream is running
	ErrAlreadyRecording = errors.New("capture: already recording")
)

// Format is the native format of an opened input stream
type Format struct {
	SampleRate uint32
	Channels   uint16
}

// Stream is an opened input stream. Close stops delivery; no callback runs
// after Close returns.
type Stream interface {
	Start() error
	Close() error
}

// Device opens the default input. onBlock receives interleaved float32 frames
// on the device's real-time thread and must not block.
type Device interface {
	Open(onBlock func(interleaved []float32)) (Stream, Format, error)
}
