//go:build whispercpp

package engine

import (
	"context"
	"fmt"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// cppWhisper runs models through the whisper.cpp Go bindings. A fresh
// context is created per call so no decoder state leaks between chunks.
type cppWhisper struct {
	model   whisper.Model
	threads int
}

func openWhisperCpp(path string, threads int) (WhisperModel, error) {
	model, err := whisper.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load Whisper model: %w", err)
	}
	return &cppWhisper{model: model, threads: threads}, nil
}

func (w *cppWhisper) Transcribe(ctx context.Context, samples []float32, language string) (WhisperOutput, error) {
	if err := ctx.Err(); err != nil {
		return WhisperOutput{}, err
	}

	wctx, err := w.model.NewContext()
	if err != nil {
		return WhisperOutput{}, fmt.Errorf("failed to create Whisper context: %w", err)
	}

	if wctx.IsMultilingual() {
		if err := wctx.SetLanguage(language); err != nil {
			return WhisperOutput{}, fmt.Errorf("set language %q: %w", language, err)
		}
	}
	if w.threads > 0 {
		wctx.SetThreads(uint(w.threads))
	}
	wctx.SetTranslate(false)

	var out WhisperOutput
	err = wctx.Process(samples, nil, func(segment whisper.Segment) {
		out.Segments = append(out.Segments, Segment{
			StartMS: uint64(segment.Start.Milliseconds()),
			EndMS:   uint64(segment.End.Milliseconds()),
			Text:    segment.Text,
		})
	}, nil)
	if err != nil {
		return WhisperOutput{}, fmt.Errorf("failed to process audio: %w", err)
	}

	if wctx.IsMultilingual() {
		out.Language = wctx.DetectedLanguage()
	} else {
		out.Language = "en"
	}
	return out, nil
}

func (w *cppWhisper) Close() error {
	return w.model.Close()
}
