package dictation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/capture"
	"github.com/lexiqai/dictation/internal/engine"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionActive is returned by Start while a session is running
	ErrSessionActive = errors.New("dictation: a session is already active")
	// ErrNoActiveSession is returned by Stop and Cancel when nothing is recording
	ErrNoActiveSession = errors.New("dictation: no active session")
	// ErrEngineNotLoaded is returned by Start when no model is active
	ErrEngineNotLoaded = errors.New("dictation: no engine loaded")
	// ErrCancelled is returned by a Stop that was overtaken by Cancel
	ErrCancelled = errors.New("dictation: session cancelled")
)

// Transcriber is the part of an engine a session drives
type Transcriber interface {
	Transcribe(ctx context.Context, buf audio.Buffer, language string) (engine.Result, error)
	WarmUp(ctx context.Context) error
	CoolDown() error
}

// EngineSource leases the active engine for the length of a session
type EngineSource interface {
	Acquire() (Transcriber, func(), error)
}

type holderSource struct {
	holder *engine.Holder
}

// FromHolder adapts an engine.Holder to an EngineSource
func FromHolder(h *engine.Holder) EngineSource {
	return holderSource{holder: h}
}

func (s holderSource) Acquire() (Transcriber, func(), error) {
	e, release, err := s.holder.Acquire()
	if err != nil {
		return nil, nil, err
	}
	return e, release, nil
}

// Options configure recording sessions
type Options struct {
	// Streaming transcribes while recording; otherwise Stop processes the
	// whole recording at once
	Streaming bool
	// Language is passed to engines that accept a hint; "" or "auto" detects
	Language string

	ChunkTarget   time.Duration
	ChunkSearch   time.Duration
	RMSWindow     time.Duration
	PollInterval  time.Duration
	LevelInterval time.Duration

	// SilenceGate skips chunks whose RMS is below it; 0 disables the gate
	SilenceGate float32
	// QueueSize bounds the capture block queue
	QueueSize int
	// DumpDir receives a WAV file of each finished recording when set
	DumpDir string
}

// DefaultOptions returns streaming options with 20 s chunks
func DefaultOptions() Options {
	return Options{
		Streaming:     true,
		ChunkTarget:   20 * time.Second,
		ChunkSearch:   2 * time.Second,
		RMSWindow:     100 * time.Millisecond,
		PollInterval:  500 * time.Millisecond,
		LevelInterval: 50 * time.Millisecond,
		QueueSize:     capture.DefaultQueueSize,
	}
}

func (o *Options) withDefaults() {
	d := DefaultOptions()
	if o.ChunkTarget <= 0 {
		o.ChunkTarget = d.ChunkTarget
	}
	if o.ChunkSearch < 0 {
		o.ChunkSearch = 0
	}
	if o.RMSWindow <= 0 {
		o.RMSWindow = d.RMSWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.LevelInterval <= 0 {
		o.LevelInterval = d.LevelInterval
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
}

// Snapshot describes the orchestrator at one point in time
type Snapshot struct {
	Status    Status  `json:"status"`
	SessionID string  `json:"session_id,omitempty"`
	Level     float32 `json:"level"`
	State     State   `json:"state"`
}

// Orchestrator runs at most one recording session at a time
type Orchestrator struct {
	device   capture.Device
	engines  EngineSource
	listener Listener
	opts     Options
	logger   zerolog.Logger

	mu      sync.Mutex
	status  Status
	session *session
}

// New creates an idle orchestrator. listener may be nil.
func New(device capture.Device, engines EngineSource, listener Listener, opts Options) *Orchestrator {
	opts.withDefaults()
	if listener == nil {
		listener = Listeners(nil)
	}
	return &Orchestrator{
		device:   device,
		engines:  engines,
		listener: listener,
		opts:     opts,
		logger:   observability.Component("orchestrator"),
		status:   StatusIdle,
	}
}

// Start opens the microphone and begins a session. It fails with
// ErrSessionActive unless idle and with ErrEngineNotLoaded when no model is
// active.
func (o *Orchestrator) Start(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session != nil {
		return "", ErrSessionActive
	}

	eng, release, err := o.engines.Acquire()
	if err != nil {
		observability.RecordError("engine_not_loaded", "orchestrator")
		return "", fmt.Errorf("%w: %w", ErrEngineNotLoaded, err)
	}

	c := capture.New(o.device, capture.Options{QueueSize: o.opts.QueueSize})
	if err := c.Start(); err != nil {
		release()
		observability.RecordError("device_unavailable", "orchestrator")
		return "", fmt.Errorf("start capture: %w", err)
	}

	id := observability.NewSessionID()
	s := newSession(id, o.opts, eng, release, c, o.listener)
	o.session = s
	o.status = StatusRecording
	s.run()

	s.logger.Info().
		Bool("streaming", o.opts.Streaming).
		Str("language", o.opts.Language).
		Msg("Recording started")
	o.listener.OnStatus(id, StatusRecording)
	return id, nil
}

// Stop ends recording, transcribes what remains and returns the full
// transcript. The orchestrator is idle again when Stop returns.
func (o *Orchestrator) Stop(ctx context.Context) (engine.Result, error) {
	o.mu.Lock()
	s := o.session
	if s == nil || o.status != StatusRecording {
		o.mu.Unlock()
		return engine.Result{}, ErrNoActiveSession
	}
	o.status = StatusTranscribing
	o.mu.Unlock()
	o.listener.OnStatus(s.id, StatusTranscribing)

	// A caller that gives up abandons the session as a cancel would
	stopWatch := context.AfterFunc(ctx, func() { s.cancelled.Store(true); s.cancelCtx() })
	defer stopWatch()

	result, err := s.finish()
	if err != nil {
		s.teardown("cancelled")
		o.finishSession(s)
		return engine.Result{}, err
	}

	s.teardown("completed")
	o.finishSession(s)

	s.logger.Info().
		Int("chunks", s.snapshot().ChunksCompleted).
		Uint64("duration_ms", result.DurationMS).
		Str("language", result.Language).
		Msg("Recording transcribed")
	o.listener.OnComplete(s.id, result)
	return result, nil
}

// Cancel abandons the active session from Recording or Transcribing. A Stop
// in progress returns ErrCancelled.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	s := o.session
	o.mu.Unlock()
	if s == nil {
		return ErrNoActiveSession
	}

	s.abort()
	s.teardown("cancelled")
	o.finishSession(s)
	s.logger.Info().Msg("Recording cancelled")
	return nil
}

func (o *Orchestrator) finishSession(s *session) {
	o.mu.Lock()
	cleared := o.session == s
	if cleared {
		o.session = nil
		o.status = StatusIdle
	}
	o.mu.Unlock()

	if cleared {
		o.listener.OnStatus(s.id, StatusIdle)
	}
}

// Status reports the lifecycle state and the running transcript
func (o *Orchestrator) Status() Snapshot {
	o.mu.Lock()
	s := o.session
	snap := Snapshot{Status: o.status}
	o.mu.Unlock()

	if s != nil {
		snap.SessionID = s.id
		snap.Level = s.capture.Level()
		snap.State = s.snapshot()
	}
	return snap
}
