package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexiqai/dictation/internal/audio"
)

type fakeSession struct {
	inputs  []string
	outputs []string
	run     func(inputs map[string]*Tensor) (map[string]*Tensor, error)
	calls   int
	closed  bool
}

func (s *fakeSession) InputNames() []string  { return s.inputs }
func (s *fakeSession) OutputNames() []string { return s.outputs }
func (s *fakeSession) Close() error          { s.closed = true; return nil }

func (s *fakeSession) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	s.calls++
	return s.run(inputs)
}

type fakeRuntime struct {
	sessions map[string]*fakeSession
}

func (r *fakeRuntime) Open(path string) (Session, error) {
	s, ok := r.sessions[filepath.Base(path)]
	if !ok {
		return nil, errors.New("unknown model file")
	}
	return s, nil
}

func (r *fakeRuntime) Close() error { return nil }

func writeModelDir(t *testing.T, files ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f), []byte("stub"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte("▁hel 0\nlo 1\n▁world 2\n<blk> 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func oneSecond(rate uint32) audio.Buffer {
	return audio.Buffer{Samples: make([]float32, rate), SampleRate: rate, Channels: 1}
}

func TestDetectKind(t *testing.T) {
	cases := map[string]Kind{
		"whisper-base.en":          KindWhisper,
		"parakeet-tdt-0.6b-v3":     KindTransducer,
		"nvidia/Parakeet-TDT-1.1B": KindTransducer,
		"parakeet-ctc-0.6b":        KindCTC,
		"something-else":           KindCTC,
	}
	for id, want := range cases {
		if got := DetectKind(id); got != want {
			t.Errorf("DetectKind(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestFeaturesFor(t *testing.T) {
	ctc := FeaturesFor(KindCTC)
	if ctc.NMels != 80 || ctc.NFFT != 512 || ctc.HopLength != 160 || ctc.WinLength != 400 {
		t.Errorf("Unexpected CTC features %+v", ctc)
	}
	if tdt := FeaturesFor(KindTransducer); tdt.NMels != 128 {
		t.Errorf("Expected 128 mels for transducer, got %d", tdt.NMels)
	}
	if err := ctc.Validate(); err != nil {
		t.Errorf("Expected valid features, got %v", err)
	}
}

func ctcSession(t *testing.T) *fakeSession {
	return &fakeSession{
		inputs:  []string{"audio_signal", "length"},
		outputs: []string{"logprobs"},
		run: func(inputs map[string]*Tensor) (map[string]*Tensor, error) {
			features := inputs["audio_signal"]
			length := inputs["length"]
			if features == nil || length == nil {
				t.Fatalf("Expected both inputs, got %v", inputs)
			}
			if len(features.Shape) != 3 || features.Shape[1] != 80 {
				t.Errorf("Expected [1, 80, frames] features, got %v", features.Shape)
			}
			if length.Type != Int64 || length.Int64s[0] != features.Shape[2] {
				t.Errorf("Expected int64 frame count %d, got %v", features.Shape[2], length.Int64s)
			}

			logits := []float32{
				9, 0, 0, 0,
				9, 0, 0, 0,
				0, 0, 0, 9,
				0, 9, 0, 0,
				0, 0, 9, 0,
			}
			return map[string]*Tensor{"logprobs": NewFloatTensor(logits, 1, 5, 4)}, nil
		},
	}
}

func TestEngine_CTC(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": ctcSession(t)}}

	e, err := Load("parakeet-ctc-0.6b", dir, Options{Runtime: rt})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	res, err := e.Transcribe(context.Background(), oneSecond(16000), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("Expected 'hello world', got %q", res.Text)
	}
	if res.DurationMS != 1000 {
		t.Errorf("Expected 1000ms, got %d", res.DurationMS)
	}
	if res.Language != "" {
		t.Errorf("Expected unknown language, got %q", res.Language)
	}
}

func TestEngine_TranscribeAfterClose(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	session := ctcSession(t)
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": session}}

	e, err := Load("parakeet-ctc-0.6b", dir, Options{Runtime: rt})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Expected a second Close to be a no-op, got %v", err)
	}

	if _, err := e.Transcribe(context.Background(), oneSecond(16000), ""); !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference after Close, got %v", err)
	}
	if err := e.WarmUp(context.Background()); !errors.Is(err, ErrInference) {
		t.Errorf("Expected WarmUp to fail after Close, got %v", err)
	}
	if session.calls != 0 {
		t.Errorf("Expected no inference on a closed engine, got %d runs", session.calls)
	}
}

func TestEngine_CTCSingleInput(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	s := &fakeSession{
		inputs:  []string{"features"},
		outputs: []string{"logits"},
		run: func(inputs map[string]*Tensor) (map[string]*Tensor, error) {
			if len(inputs) != 1 {
				t.Errorf("Expected only the feature input, got %d inputs", len(inputs))
			}
			return map[string]*Tensor{"logits": NewFloatTensor([]float32{0, 9, 0, 0}, 1, 4)}, nil
		},
	}
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": s}}

	e, err := Load("ctc", dir, Options{Runtime: rt})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	res, err := e.Transcribe(context.Background(), oneSecond(16000), "de")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "lo" || res.Language != "de" {
		t.Errorf("Unexpected result %+v", res)
	}
}

func TestEngine_CTCUnexpectedShape(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	s := &fakeSession{
		inputs:  []string{"features"},
		outputs: []string{"logits"},
		run: func(map[string]*Tensor) (map[string]*Tensor, error) {
			return map[string]*Tensor{"logits": NewFloatTensor(make([]float32, 8), 2, 2, 2, 1)}, nil
		},
	}
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": s}}

	e, _ := Load("ctc", dir, Options{Runtime: rt})
	if _, err := e.Transcribe(context.Background(), oneSecond(16000), ""); !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference, got %v", err)
	}
}

func TestEngine_ResamplesInput(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	s := ctcSession(t)
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": s}}

	e, _ := Load("ctc", dir, Options{Runtime: rt})
	res, err := e.Transcribe(context.Background(), oneSecond(48000), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.DurationMS != 1000 {
		t.Errorf("Expected 1000ms after resampling, got %d", res.DurationMS)
	}
}

func TestEngine_EmptyBufferSkipsModel(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	s := ctcSession(t)
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": s}}

	e, _ := Load("ctc", dir, Options{Runtime: rt})
	res, err := e.Transcribe(context.Background(), audio.Buffer{SampleRate: 16000}, "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "" || s.calls != 0 {
		t.Errorf("Expected empty result without inference, got %+v after %d calls", res, s.calls)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	rt := &fakeRuntime{sessions: map[string]*fakeSession{}}

	if _, err := Load("ctc", writeModelDir(t), Options{Runtime: rt}); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing model.onnx, got %v", err)
	}
	if _, err := Load("parakeet-tdt", writeModelDir(t, "encoder-model.onnx"), Options{Runtime: rt}); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing decoder, got %v", err)
	}
	if _, err := Load("whisper-tiny", t.TempDir(), Options{}); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing .bin, got %v", err)
	}
}

func TestLoad_BadVocabulary(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "model.onnx"), []byte("stub"), 0o644)

	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": ctcSession(t)}}
	if _, err := Load("ctc", dir, Options{Runtime: rt}); !errors.Is(err, ErrModelLoad) {
		t.Errorf("Expected ErrModelLoad for missing vocabulary, got %v", err)
	}
}

func TestLoad_NoRuntime(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	_, err := Load("ctc", dir, Options{})
	if !errors.Is(err, ErrModelLoad) || !errors.Is(err, ErrRuntimeUnavailable) {
		t.Errorf("Expected ErrModelLoad wrapping ErrRuntimeUnavailable, got %v", err)
	}
}

func TestEngine_Transducer(t *testing.T) {
	dir := writeModelDir(t, "encoder-model.onnx", "decoder_joint-model.onnx")

	const dim, steps = 2, 3
	encoder := &fakeSession{
		inputs:  []string{"audio_signal", "length"},
		outputs: []string{"outputs", "encoded_lengths"},
		run: func(inputs map[string]*Tensor) (map[string]*Tensor, error) {
			if inputs["audio_signal"].Shape[1] != 128 {
				t.Errorf("Expected 128 mel bands, got %v", inputs["audio_signal"].Shape)
			}
			// [1, D, T] with the frame index in channel 0
			out := make([]float32, dim*steps)
			for tt := 0; tt < steps; tt++ {
				out[tt] = float32(tt)
				out[steps+tt] = -1
			}
			return map[string]*Tensor{
				"outputs":         NewFloatTensor(out, 1, dim, steps),
				"encoded_lengths": NewInt64Tensor([]int64{steps}, 1),
			}, nil
		},
	}

	// frame 0 -> "▁hel", frame 1 -> "lo", frame 2 -> blank; every step advances one frame
	script := []int{0, 1, 3}
	decoder := &fakeSession{
		inputs:  []string{jointEncoderOutputs, jointTargets, jointTargetLength, jointInputStates1, jointInputStates2},
		outputs: []string{jointOutputs, jointOutputStates1, jointOutputStates2},
		run: func(inputs map[string]*Tensor) (map[string]*Tensor, error) {
			frame := inputs[jointEncoderOutputs]
			if len(frame.Shape) != 3 || frame.Shape[1] != dim || frame.Floats[1] != -1 {
				t.Errorf("Expected transposed [1, D, 1] frame, got %v %v", frame.Shape, frame.Floats)
			}
			if inputs[jointTargets].Type != Int32 || inputs[jointTargetLength].Type != Int32 {
				t.Error("Expected int32 targets and target_length")
			}

			logits := make([]float32, 4+5)
			logits[script[int(frame.Floats[0])]] = 5
			logits[4+1] = 5

			// The two states have different shapes; both must round-trip
			s1, s2 := inputs[jointInputStates1], inputs[jointInputStates2]
			if frame.Floats[0] > 0 && (len(s1.Floats) != 8 || len(s2.Floats) != 3) {
				t.Errorf("Expected negotiated states of 8 and 3 values, got %v and %v", s1.Shape, s2.Shape)
			}
			if frame.Floats[0] == 2 && s2.Floats[0] != 7 {
				t.Errorf("Expected state 2 to be adopted, got %v", s2.Floats)
			}
			state2 := []float32{7, 7, 7}
			return map[string]*Tensor{
				jointOutputs:       NewFloatTensor(logits, 1, 1, 1, 9),
				jointOutputStates1: NewFloatTensor(make([]float32, 8), 2, 1, 4),
				jointOutputStates2: NewFloatTensor(state2, 1, 1, 3),
			}, nil
		},
	}

	rt := &fakeRuntime{sessions: map[string]*fakeSession{
		"encoder-model.onnx":       encoder,
		"decoder_joint-model.onnx": decoder,
	}}

	e, err := Load("parakeet-tdt-0.6b-v3", dir, Options{Runtime: rt})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	res, err := e.Transcribe(context.Background(), oneSecond(16000), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "hello" {
		t.Errorf("Expected 'hello', got %q", res.Text)
	}
	if decoder.calls != steps {
		t.Errorf("Expected %d decoder steps, got %d", steps, decoder.calls)
	}

	if err := e.CoolDown(); err != nil {
		t.Errorf("CoolDown failed: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !encoder.closed || !decoder.closed {
		t.Error("Expected both sessions to be closed")
	}
}

type fakeWhisper struct {
	language string
	segments []Segment
	lastLang string
}

func (w *fakeWhisper) Transcribe(ctx context.Context, samples []float32, language string) (WhisperOutput, error) {
	w.lastLang = language
	return WhisperOutput{Language: w.language, Segments: w.segments}, nil
}

func (w *fakeWhisper) Close() error { return nil }

func TestEngine_Whisper(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "b-model.bin"), []byte("stub"), 0o644)
	os.WriteFile(filepath.Join(dir, "a-model.bin"), []byte("stub"), 0o644)

	fw := &fakeWhisper{
		language: "en",
		segments: []Segment{
			{StartMS: 0, EndMS: 1000, Text: " Hello there."},
			{StartMS: 1000, EndMS: 1200, Text: "   "},
			{StartMS: 1200, EndMS: 2000, Text: " General Kenobi"},
		},
	}

	var openedPath string
	opener := func(path string, threads int) (WhisperModel, error) {
		openedPath = path
		return fw, nil
	}

	e, err := Load("whisper-base", dir, Options{OpenWhisper: opener})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if filepath.Base(openedPath) != "a-model.bin" {
		t.Errorf("Expected first .bin file, got %s", openedPath)
	}

	res, err := e.Transcribe(context.Background(), oneSecond(16000), "")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if res.Text != "Hello there. General Kenobi" {
		t.Errorf("Unexpected text %q", res.Text)
	}
	if res.Language != "en" {
		t.Errorf("Expected detected language en, got %q", res.Language)
	}
	if len(res.Segments) != 2 || res.Segments[1].StartMS != 1200 {
		t.Errorf("Expected 2 non-empty segments, got %+v", res.Segments)
	}
	if fw.lastLang != "auto" {
		t.Errorf("Expected empty language to become auto, got %q", fw.lastLang)
	}
}

func TestEngine_WarmUp(t *testing.T) {
	dir := writeModelDir(t, "model.onnx")
	s := ctcSession(t)
	rt := &fakeRuntime{sessions: map[string]*fakeSession{"model.onnx": s}}

	e, _ := Load("ctc", dir, Options{Runtime: rt})
	if err := e.WarmUp(context.Background()); err != nil {
		t.Fatalf("WarmUp failed: %v", err)
	}
	if s.calls != 1 {
		t.Errorf("Expected one warm-up inference, got %d", s.calls)
	}
}
