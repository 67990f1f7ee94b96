package dictation

import (
	"context"
	"fmt"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/engine"
)

// splitChunks resamples buf to 16 kHz and cuts it at silence near
// opts.ChunkTarget
func splitChunks(buf audio.Buffer, opts Options) ([]audio.Buffer, error) {
	if len(buf.Samples) == 0 {
		return nil, nil
	}

	samples := buf.Samples
	if buf.SampleRate != audio.TargetSampleRate {
		resampled, err := audio.Resample(buf.Samples, buf.SampleRate, audio.TargetSampleRate)
		if err != nil {
			return nil, err
		}
		samples = resampled
	}

	full := audio.Buffer{Samples: samples, SampleRate: audio.TargetSampleRate, Channels: 1}
	bounds := audio.SplitAtSilence(samples, audio.TargetSampleRate, opts.ChunkTarget, opts.ChunkSearch, opts.RMSWindow)

	chunks := make([]audio.Buffer, 0, len(bounds))
	for _, b := range bounds {
		chunks = append(chunks, full.Slice(b))
	}
	return chunks, nil
}

// TranscribeBuffer transcribes a finished recording the way a streaming
// session would: chunked at silence, stitched, with the first detected
// language reused as the hint for later chunks. Unlike a live session it
// stops at the first failing chunk.
func TranscribeBuffer(ctx context.Context, t Transcriber, buf audio.Buffer, opts Options) (engine.Result, error) {
	opts.withDefaults()

	chunks, err := splitChunks(buf, opts)
	if err != nil {
		return engine.Result{}, fmt.Errorf("split audio: %w", err)
	}

	var state State
	var timeline int
	for i, chunk := range chunks {
		offsetMS := uint64(audio.SamplesToDuration(timeline, audio.TargetSampleRate).Milliseconds())
		timeline += len(chunk.Samples)
		state.TotalDurationMS = uint64(audio.SamplesToDuration(timeline, audio.TargetSampleRate).Milliseconds())

		if audio.IsSilent(chunk.Samples, opts.SilenceGate) {
			continue
		}

		language := opts.Language
		if language == "" || language == "auto" {
			language = state.LockedLanguage
		}

		res, err := t.Transcribe(ctx, chunk, language)
		if err != nil {
			return state.Result(), fmt.Errorf("chunk %d at %d ms: %w", i, offsetMS, err)
		}
		state.Add(res, offsetMS)
	}
	return state.Result(), nil
}
