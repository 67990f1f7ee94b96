package engine

import (
	"context"
	"fmt"
	"strings"
)

// WhisperOutput is what a whisper backend returns for one buffer
type WhisperOutput struct {
	Language string
	Segments []Segment
}

// WhisperModel runs a whisper-family model over 16 kHz mono samples
type WhisperModel interface {
	Transcribe(ctx context.Context, samples []float32, language string) (WhisperOutput, error)
	Close() error
}

// WhisperOpener loads a whisper model file
type WhisperOpener func(path string, threads int) (WhisperModel, error)

type whisperModel struct {
	model WhisperModel
}

func loadWhisper(path string, opts Options) (*whisperModel, error) {
	file, err := findWhisperFile(path)
	if err != nil {
		return nil, err
	}

	open := opts.OpenWhisper
	if open == nil {
		open = openWhisperCpp
	}

	model, err := open(file, opts.Threads)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return &whisperModel{model: model}, nil
}

func (w *whisperModel) transcribe(ctx context.Context, samples []float32, language string) (Result, error) {
	if language == "" {
		language = "auto"
	}

	out, err := w.model.Transcribe(ctx, samples, language)
	if err != nil {
		return Result{}, fmt.Errorf("%w: whisper: %w", ErrInference, err)
	}

	var sb strings.Builder
	segments := make([]Segment, 0, len(out.Segments))
	for _, seg := range out.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
		seg.Text = text
		segments = append(segments, seg)
	}

	return Result{
		Text:     sb.String(),
		Language: out.Language,
		Segments: segments,
	}, nil
}

func (w *whisperModel) close() error {
	return w.model.Close()
}
