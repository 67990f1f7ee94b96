package dictation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/capture"
	"github.com/lexiqai/dictation/internal/engine"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

// session is one recording from Start to Stop or Cancel
type session struct {
	id       string
	opts     Options
	engine   Transcriber
	release  func()
	capture  *capture.Capture
	listener Listener
	logger   zerolog.Logger
	metrics  *observability.Metrics

	// inference context, cancelled by Cancel
	ctx       context.Context
	cancelCtx context.CancelFunc

	alive     atomic.Bool
	cancelled atomic.Bool
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	// finishMu is held while Stop transcribes the tail
	finishMu     sync.Mutex
	teardownOnce sync.Once

	mu       sync.Mutex
	state    State
	backlog  []audio.Buffer
	timeline int
	recorded []float32
}

func newSession(id string, opts Options, eng Transcriber, release func(), c *capture.Capture, l Listener) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		opts:      opts,
		engine:    eng,
		release:   release,
		capture:   c,
		listener:  l,
		logger:    observability.WithSessionID(id).With().Str("component", "dictation").Logger(),
		metrics:   observability.NewSessionMetrics(id),
		ctx:       ctx,
		cancelCtx: cancel,
		stop:      make(chan struct{}),
	}
	s.alive.Store(true)
	return s
}

func (s *session) run() {
	s.metrics.RecordSessionStart()
	s.wg.Add(2)
	go s.chunkLoop()
	go s.levelLoop()
}

// signal stops both loops. Chunks already drained but not started are kept in
// the backlog for Stop.
func (s *session) signal() {
	s.stopOnce.Do(func() {
		s.alive.Store(false)
		close(s.stop)
	})
}

func (s *session) levelLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.opts.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.listener.OnLevel(s.id, s.capture.Level())
		}
	}
}

func (s *session) chunkLoop() {
	defer s.wg.Done()

	if err := s.engine.WarmUp(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Engine warm-up failed")
	}
	if !s.opts.Streaming {
		return
	}

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		if s.capture.Buffered() < s.opts.ChunkTarget {
			continue
		}

		chunks, err := s.split(s.capture.Drain())
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to prepare streamed audio")
			s.metrics.RecordError("resample", "dictation")
			continue
		}

		for i, chunk := range chunks {
			if !s.alive.Load() {
				s.handOff(chunks[i:])
				return
			}
			s.transcribeChunk(chunk)
			if !s.alive.Load() {
				s.handOff(chunks[i+1:])
				return
			}
		}
	}
}

func (s *session) handOff(chunks []audio.Buffer) {
	if len(chunks) == 0 {
		return
	}
	s.mu.Lock()
	s.backlog = append(s.backlog, chunks...)
	s.mu.Unlock()
	s.logger.Debug().Int("chunks", len(chunks)).Msg("Handing unstarted chunks to the tail")
}

// split cuts drained audio into engine-sized chunks
func (s *session) split(buf audio.Buffer) ([]audio.Buffer, error) {
	return splitChunks(buf, s.opts)
}

// transcribeChunk runs one 16 kHz chunk through the engine and merges the
// result. Failures are logged and skipped.
func (s *session) transcribeChunk(chunk audio.Buffer) {
	offsetMS, language := s.advance(chunk)

	if audio.IsSilent(chunk.Samples, s.opts.SilenceGate) {
		s.logger.Debug().Uint64("offset_ms", offsetMS).Msg("Skipping silent chunk")
		s.metrics.RecordChunkEnd("silent")
		return
	}

	s.metrics.RecordChunkStart()
	res, err := s.engine.Transcribe(s.ctx, chunk, language)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.metrics.RecordChunkEnd("cancelled")
			return
		}
		s.logger.Error().Err(err).Uint64("offset_ms", offsetMS).Msg("Chunk transcription failed")
		s.metrics.RecordChunkEnd("error")
		s.metrics.RecordError("inference", "dictation")
		return
	}
	s.metrics.RecordChunkEnd("success")
	s.metrics.RecordAudio(chunk.Duration())

	s.mu.Lock()
	s.state.Add(res, offsetMS)
	text := s.state.CompletedText
	s.mu.Unlock()

	s.logger.Debug().
		Uint64("offset_ms", offsetMS).
		Str("language", res.Language).
		Int("chars", len(res.Text)).
		Msg("Chunk transcribed")
	s.listener.OnPartial(s.id, text)
}

// advance places chunk on the session timeline and returns its offset and
// the language hint for it
func (s *session) advance(chunk audio.Buffer) (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.timeline
	s.timeline += len(chunk.Samples)
	s.state.TotalDurationMS = uint64(audio.SamplesToDuration(s.timeline, audio.TargetSampleRate).Milliseconds())
	if s.opts.DumpDir != "" {
		s.recorded = append(s.recorded, chunk.Samples...)
	}

	language := s.opts.Language
	if language == "" || language == "auto" {
		language = s.state.LockedLanguage
	}
	return uint64(audio.SamplesToDuration(offset, audio.TargetSampleRate).Milliseconds()), language
}

// finish joins the loops, transcribes the tail and returns the full result
func (s *session) finish() (engine.Result, error) {
	s.finishMu.Lock()
	defer s.finishMu.Unlock()

	s.signal()
	s.wg.Wait()

	tail, err := s.capture.Stop()
	if err != nil && !errors.Is(err, capture.ErrNotRecording) {
		s.logger.Error().Err(err).Msg("Failed to finalise captured audio")
	}
	if s.cancelled.Load() {
		return engine.Result{}, ErrCancelled
	}

	chunks, err := s.split(tail)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to split tail audio")
	}

	s.mu.Lock()
	pending := append(s.backlog, chunks...)
	s.backlog = nil
	s.mu.Unlock()

	for _, chunk := range pending {
		if s.cancelled.Load() {
			return engine.Result{}, ErrCancelled
		}
		s.transcribeChunk(chunk)
	}
	if s.cancelled.Load() {
		return engine.Result{}, ErrCancelled
	}

	s.mu.Lock()
	result := s.state.Result()
	recorded := s.recorded
	s.mu.Unlock()

	if s.opts.DumpDir != "" {
		s.dump(recorded)
	}
	return result, nil
}

// abort marks the session cancelled and waits for an in-flight Stop to
// notice at its next chunk boundary
func (s *session) abort() {
	s.cancelled.Store(true)
	s.cancelCtx()
	s.signal()

	s.finishMu.Lock()
	defer s.finishMu.Unlock()
	s.wg.Wait()
	if _, err := s.capture.Stop(); err != nil && !errors.Is(err, capture.ErrNotRecording) {
		s.logger.Warn().Err(err).Msg("Failed to stop capture")
	}
}

// teardown releases the engine lease. Safe to call from both Stop and Cancel.
func (s *session) teardown(outcome string) {
	s.teardownOnce.Do(func() {
		s.cancelCtx()
		if err := s.engine.CoolDown(); err != nil {
			s.logger.Warn().Err(err).Msg("Engine cool-down failed")
		}
		if s.release != nil {
			s.release()
		}
		s.metrics.RecordSessionEnd(outcome)
		s.logger.Info().Str("outcome", outcome).Msg("Session ended")
	})
}

func (s *session) dump(samples []float32) {
	if err := os.MkdirAll(s.opts.DumpDir, 0o755); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to create recording dump directory")
		return
	}

	path := filepath.Join(s.opts.DumpDir, fmt.Sprintf("%s.wav", s.id))
	f, err := os.Create(path)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to create recording dump")
		return
	}
	defer f.Close()

	buf := audio.Buffer{Samples: samples, SampleRate: audio.TargetSampleRate, Channels: 1}
	if err := audio.WriteWAV(f, buf); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Failed to write recording dump")
		return
	}
	s.logger.Info().Str("path", path).Dur("duration", buf.Duration()).Msg("Recording dumped")
}

func (s *session) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
