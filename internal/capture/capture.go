package capture

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultQueueSize is the number of device blocks buffered between the
// real-time callback and the collector
const DefaultQueueSize = 64

// Options configure a Capture
type Options struct {
	QueueSize int
}

// pipe carries blocks from one stream's callback to its collector. blocks is
// never closed, so a callback that outlives its stream cannot panic.
type pipe struct {
	blocks chan *[]float32
	quit   chan struct{}
	done   chan struct{}
	closed atomic.Bool
}

func newPipe(size int) *pipe {
	return &pipe{
		blocks: make(chan *[]float32, size),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// shutdown stops accepting blocks and waits for the collector to drain
func (p *pipe) shutdown() {
	p.closed.Store(true)
	close(p.quit)
	<-p.done
}

// Capture records mono audio from a Device. The device callback only copies
// into a pooled block and performs a non-blocking send; a collector goroutine
// owns appending to the shared buffer.
type Capture struct {
	device    Device
	queueSize int
	logger    zerolog.Logger

	// mu serialises Start and Stop
	mu        sync.Mutex
	recording bool
	stream    Stream
	format    Format
	pipe      *pipe

	// bufMu guards pending and level
	bufMu   sync.Mutex
	pending []float32
	level   *audio.SampleRing

	pool    sync.Pool
	dropped atomic.Uint64
}

// New creates a Capture over device
func New(device Device, opts Options) *Capture {
	if opts.QueueSize < 1 {
		opts.QueueSize = DefaultQueueSize
	}
	return &Capture{
		device:    device,
		queueSize: opts.QueueSize,
		logger:    observability.Component("capture"),
	}
}

// Start opens the device and begins collecting audio at its native format
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recording {
		return ErrAlreadyRecording
	}

	c.dropped.Store(0)
	p := newPipe(c.queueSize)
	var channels atomic.Int32
	channels.Store(1)

	stream, format, err := c.device.Open(func(in []float32) {
		c.push(p, int(channels.Load()), in)
	})
	if err != nil {
		observability.IncrementDeviceErrors()
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
	}
	if format.SampleRate == 0 {
		stream.Close()
		return fmt.Errorf("%w: device reported a zero sample rate", ErrDeviceUnavailable)
	}
	if format.Channels > 0 {
		channels.Store(int32(format.Channels))
	}

	c.bufMu.Lock()
	c.pending = c.pending[:0]
	c.level = audio.NewSampleRing(int(format.SampleRate / 10))
	c.bufMu.Unlock()

	go c.collect(p)

	if err := stream.Start(); err != nil {
		stream.Close()
		p.shutdown()
		observability.IncrementDeviceErrors()
		return fmt.Errorf("%w: start stream: %w", ErrDeviceUnavailable, err)
	}

	c.stream = stream
	c.format = format
	c.pipe = p
	c.recording = true

	c.logger.Info().
		Uint32("sample_rate", format.SampleRate).
		Uint16("channels", format.Channels).
		Msg("Capture started")
	return nil
}

// push runs on the device thread. It never blocks and never takes bufMu.
// Callbacks arriving after Stop are ignored.
func (c *Capture) push(p *pipe, channels int, in []float32) {
	if p.closed.Load() {
		return
	}
	block := c.getBlock()
	*block = audio.DownmixFirstChannel((*block)[:0], in, channels)

	select {
	case p.blocks <- block:
	default:
		c.dropped.Add(1)
		observability.IncrementDroppedBlocks()
		c.pool.Put(block)
	}
}

func (c *Capture) getBlock() *[]float32 {
	if b, ok := c.pool.Get().(*[]float32); ok {
		return b
	}
	b := make([]float32, 0, 4096)
	return &b
}

func (c *Capture) collect(p *pipe) {
	defer close(p.done)
	for {
		select {
		case block := <-p.blocks:
			c.store(block)
		case <-p.quit:
			// Keep what was queued before shutdown
			for {
				select {
				case block := <-p.blocks:
					c.store(block)
				default:
					return
				}
			}
		}
	}
}

func (c *Capture) store(block *[]float32) {
	c.bufMu.Lock()
	c.pending = append(c.pending, *block...)
	c.level.Write(*block)
	c.bufMu.Unlock()
	c.pool.Put(block)
}

// Recording reports whether a stream is running
func (c *Capture) Recording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recording
}

// Format returns the native format of the current or last stream
func (c *Capture) Format() Format {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.format
}

// Level returns the RMS of roughly the last 100 ms, clamped to [0, 1]. It
// reads 0 when not recording.
func (c *Capture) Level() float32 {
	c.bufMu.Lock()
	ring := c.level
	c.bufMu.Unlock()

	if ring == nil || ring.IsEmpty() {
		return 0
	}
	level := ring.RMS()
	if level > 1 {
		level = 1
	}
	return level
}

// Buffered returns the length of audio collected but not yet drained
func (c *Capture) Buffered() time.Duration {
	c.bufMu.Lock()
	n := len(c.pending)
	c.bufMu.Unlock()
	return audio.SamplesToDuration(n, c.Format().SampleRate)
}

// Drain takes everything collected so far at the native sample rate
func (c *Capture) Drain() audio.Buffer {
	rate := c.Format().SampleRate
	return audio.Buffer{Samples: c.take(), SampleRate: rate, Channels: 1}
}

func (c *Capture) take() []float32 {
	c.bufMu.Lock()
	defer c.bufMu.Unlock()

	out := make([]float32, len(c.pending))
	copy(out, c.pending)
	c.pending = c.pending[:0]
	return out
}

// Dropped returns the number of device blocks discarded because the collector
// fell behind
func (c *Capture) Dropped() uint64 {
	return c.dropped.Load()
}

// Stop closes the stream, waits for the collector and returns the undrained
// remainder resampled to 16 kHz
func (c *Capture) Stop() (audio.Buffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.recording {
		return audio.Buffer{}, ErrNotRecording
	}
	c.recording = false

	if err := c.stream.Close(); err != nil {
		c.ReportError(fmt.Errorf("close stream: %w", err))
	}
	c.pipe.shutdown()
	c.stream = nil
	c.pipe = nil
	c.level.Clear()

	rest := c.take()
	samples, err := audio.Resample(rest, c.format.SampleRate, audio.TargetSampleRate)
	if err != nil {
		return audio.Buffer{}, fmt.Errorf("resample capture: %w", err)
	}

	if dropped := c.dropped.Load(); dropped > 0 {
		c.logger.Warn().Uint64("dropped_blocks", dropped).Msg("Capture dropped audio blocks")
	}
	c.logger.Info().Int("tail_samples", len(samples)).Msg("Capture stopped")

	return audio.Buffer{Samples: samples, SampleRate: audio.TargetSampleRate, Channels: 1}, nil
}

// ReportError records a stream failure. Recording continues; the error is
// advisory.
func (c *Capture) ReportError(err error) {
	observability.IncrementDeviceErrors()
	c.logger.Error().Err(err).Msg("Audio stream error")
}
