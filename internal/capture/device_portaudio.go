//go:build portaudio

package capture

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
)

type portAudioDevice struct{}

// NewDefaultDevice returns the system default input through PortAudio
func NewDefaultDevice() Device {
	return portAudioDevice{}
}

func (portAudioDevice) Open(onBlock func(interleaved []float32)) (Stream, Format, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, Format{}, fmt.Errorf("%w: portaudio init: %w", ErrDeviceUnavailable, err)
	}

	info, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, Format{}, fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if info.MaxInputChannels < 1 {
		portaudio.Terminate()
		return nil, Format{}, fmt.Errorf("%w: %s has no input channels", ErrDeviceUnavailable, info.Name)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	if params.Input.Channels > 2 {
		params.Input.Channels = 2
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		onBlock(in)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, Format{}, fmt.Errorf("%w: open stream: %w", ErrDeviceUnavailable, err)
	}

	format := Format{
		SampleRate: uint32(params.SampleRate),
		Channels:   uint16(params.Input.Channels),
	}
	return &portAudioStream{stream: stream}, format, nil
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

func (s *portAudioStream) Close() error {
	stopErr := s.stream.Stop()
	closeErr := s.stream.Close()
	return errors.Join(stopErr, closeErr, portaudio.Terminate())
}
