package audio

import (
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a PCM WAV stream into a mono Buffer at the file's native
// rate. Multi-channel files keep their first channel.
func ReadWAV(r io.ReadSeeker) (Buffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return Buffer{}, fmt.Errorf("read wav: not a valid WAV file")
	}

	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return Buffer{}, fmt.Errorf("read wav: %w", err)
	}
	if pcm.Format == nil || pcm.Format.SampleRate <= 0 {
		return Buffer{}, fmt.Errorf("read wav: missing format chunk")
	}

	channels := pcm.Format.NumChannels
	if channels < 1 {
		channels = 1
	}

	floats := IntToFloat(pcm.Data, int(dec.BitDepth))
	mono := DownmixFirstChannel(make([]float32, 0, len(floats)/channels), floats, channels)

	return Buffer{
		Samples:    mono,
		SampleRate: uint32(pcm.Format.SampleRate),
		Channels:   uint16(channels),
	}, nil
}

// WriteWAV encodes a Buffer as 16-bit mono PCM
func WriteWAV(w io.WriteSeeker, b Buffer) error {
	rate := int(b.SampleRate)
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: rate},
		Data:           FloatToInt16(b.Samples),
		SourceBitDepth: 16,
	}

	enc := wav.NewEncoder(w, rate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
