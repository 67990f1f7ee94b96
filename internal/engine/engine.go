package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/decode"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

var (
	// ErrModelLoad covers missing files, bad vocabularies and runtime init failures
	ErrModelLoad = errors.New("engine: model load failed")
	// ErrInference covers runtime execution errors and unexpected tensor shapes
	ErrInference = errors.New("engine: inference failed")
	// ErrRuntimeUnavailable is returned when the binary was built without a backend
	ErrRuntimeUnavailable = errors.New("engine: runtime not available in this build")
)

// Kind identifies the model family an Engine runs
type Kind int

const (
	KindWhisper Kind = iota
	KindCTC
	KindTransducer
)

func (k Kind) String() string {
	switch k {
	case KindWhisper:
		return "whisper"
	case KindCTC:
		return "ctc"
	case KindTransducer:
		return "transducer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DetectKind infers the architecture from a model identifier
func DetectKind(modelID string) Kind {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "whisper"):
		return KindWhisper
	case strings.Contains(id, "tdt"):
		return KindTransducer
	default:
		return KindCTC
	}
}

// Segment is a timed span of transcript text
type Segment struct {
	StartMS uint64 `json:"start_ms"`
	EndMS   uint64 `json:"end_ms"`
	Text    string `json:"text"`
}

// Result is the output of one transcription. An empty Language means unknown
// and nil Segments means the engine does not report timing.
type Result struct {
	Text       string    `json:"text"`
	Language   string    `json:"language,omitempty"`
	DurationMS uint64    `json:"duration_ms"`
	Segments   []Segment `json:"segments,omitempty"`
}

// Options configure how Load builds an Engine
type Options struct {
	// Runtime opens ONNX sessions for CTC and transducer models
	Runtime Runtime
	// OpenWhisper overrides the whisper.cpp backend
	OpenWhisper WhisperOpener
	// Threads is passed to backends that accept a thread count
	Threads int
	// MaxSymbolsPerStep caps transducer emissions per encoder frame
	MaxSymbolsPerStep int
	// Durations are the transducer skip distances
	Durations []int
}

// Engine is a loaded transcription model. It is a closed set of variants
// selected by Kind; exactly one of the variant fields is set. Inference calls
// are serialised.
type Engine struct {
	kind    Kind
	modelID string

	mu      sync.Mutex
	closed  bool
	whisper *whisperModel
	ctc     *ctcModel
	tdt     *transducerModel

	logger zerolog.Logger
}

// Load locates the model files for modelID under path and opens them.
// path may be the model directory or a file inside it.
func Load(modelID, path string, opts Options) (*Engine, error) {
	kind := DetectKind(modelID)
	logger := observability.Component("engine").With().
		Str("model_id", modelID).
		Str("kind", kind.String()).
		Logger()

	e := &Engine{kind: kind, modelID: modelID, logger: logger}

	var err error
	switch kind {
	case KindWhisper:
		e.whisper, err = loadWhisper(path, opts)
	case KindCTC:
		e.ctc, err = loadCTC(modelDir(path), opts)
	case KindTransducer:
		e.tdt, err = loadTransducer(modelDir(path), opts)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().Str("path", path).Msg("Model loaded")
	return e, nil
}

func modelDir(path string) string {
	info, err := os.Stat(path)
	if err == nil && !info.IsDir() {
		return filepath.Dir(path)
	}
	return path
}

func requireFile(dir, name string) (string, error) {
	p := filepath.Join(dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s not found in %s", ErrModelLoad, name, dir)
	}
	return p, nil
}

// findWhisperFile returns path itself when it is a file, else the first
// *.bin file in the directory.
func findWhisperFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelLoad, err)
	}
	if !info.IsDir() {
		return path, nil
	}

	matches, err := filepath.Glob(filepath.Join(path, "*.bin"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("%w: no .bin model file in %s", ErrModelLoad, path)
	}
	sort.Strings(matches)
	return matches[0], nil
}

func openSession(rt Runtime, path string) (Session, error) {
	if rt == nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, ErrRuntimeUnavailable)
	}
	s, err := rt.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrModelLoad, filepath.Base(path), err)
	}
	return s, nil
}

func loadVocabulary(dir string) (*decode.Vocabulary, error) {
	v, err := decode.LoadVocabulary(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return v, nil
}

// Kind returns the model family
func (e *Engine) Kind() Kind {
	return e.kind
}

// ModelID returns the identifier the engine was loaded with
func (e *Engine) ModelID() string {
	return e.modelID
}

// Transcribe converts one buffer to text. Audio at another rate is resampled
// to 16 kHz first. language is a hint for engines that accept one; "" or
// "auto" asks for detection.
func (e *Engine) Transcribe(ctx context.Context, buf audio.Buffer, language string) (Result, error) {
	samples := buf.Samples
	if buf.SampleRate != audio.TargetSampleRate {
		resampled, err := audio.Resample(buf.Samples, buf.SampleRate, audio.TargetSampleRate)
		if err != nil {
			return Result{}, fmt.Errorf("prepare audio: %w", err)
		}
		samples = resampled
	}

	durationMS := uint64(audio.SamplesToDuration(len(samples), audio.TargetSampleRate).Milliseconds())
	if len(samples) == 0 {
		return Result{DurationMS: durationMS}, nil
	}

	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return Result{}, fmt.Errorf("%w: engine %s closed", ErrInference, e.modelID)
	}

	start := time.Now()
	var (
		res Result
		err error
	)
	switch e.kind {
	case KindWhisper:
		res, err = e.whisper.transcribe(ctx, samples, language)
	case KindCTC:
		res.Text, err = e.ctc.transcribe(ctx, samples)
		res.Language = explicitLanguage(language)
	case KindTransducer:
		res.Text, err = e.tdt.transcribe(ctx, samples)
		res.Language = explicitLanguage(language)
	default:
		err = fmt.Errorf("%w: unknown engine kind %v", ErrInference, e.kind)
	}
	elapsed := time.Since(start)
	observability.ObserveInference(e.kind.String(), elapsed)

	if err != nil {
		return Result{}, err
	}

	res.DurationMS = durationMS
	e.logger.Debug().
		Dur("elapsed", elapsed).
		Uint64("audio_ms", durationMS).
		Int("chars", len(res.Text)).
		Msg("Transcription complete")
	return res, nil
}

func explicitLanguage(language string) string {
	if language == "auto" {
		return ""
	}
	return language
}

// WarmUp runs one inference over a second of silence so the first real chunk
// does not pay for lazy allocations inside the runtime.
func (e *Engine) WarmUp(ctx context.Context) error {
	silence := audio.Buffer{
		Samples:    make([]float32, audio.TargetSampleRate),
		SampleRate: audio.TargetSampleRate,
		Channels:   1,
	}
	if _, err := e.Transcribe(ctx, silence, ""); err != nil {
		return fmt.Errorf("warm up: %w", err)
	}
	return nil
}

// CoolDown releases scratch buffers kept between inferences
func (e *Engine) CoolDown() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.tdt != nil {
		e.tdt.scratch = nil
	}
	return nil
}

// Close releases the underlying sessions. Later Transcribe calls fail with
// ErrInference.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	switch e.kind {
	case KindWhisper:
		if e.whisper != nil {
			errs = append(errs, e.whisper.close())
		}
	case KindCTC:
		if e.ctc != nil {
			errs = append(errs, e.ctc.session.Close())
		}
	case KindTransducer:
		if e.tdt != nil {
			errs = append(errs, e.tdt.encoder.Close(), e.tdt.decoder.Close())
		}
	}
	return errors.Join(errs...)
}
