package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

// ErrNoModel is returned by Acquire before any model has been activated
var ErrNoModel = errors.New("engine: no model activated")

// Loader builds an Engine for a model identifier and path
type Loader func(modelID, path string) (*Engine, error)

// Holder owns the active engine. It unloads the engine after idleTimeout
// without leases and reloads it lazily on the next Acquire. An engine that is
// replaced or unloaded while leased is closed when its last lease is released.
type Holder struct {
	mu          sync.Mutex
	load        Loader
	engine      *Engine
	modelID     string
	path        string
	leases      map[*Engine]int
	idleTimeout time.Duration
	idleTimer   *time.Timer
	idleGen     uint64
	logger      zerolog.Logger
}

// NewHolder creates a holder. A zero idleTimeout keeps the engine resident.
func NewHolder(load Loader, idleTimeout time.Duration) *Holder {
	return &Holder{
		load:        load,
		leases:      make(map[*Engine]int),
		idleTimeout: idleTimeout,
		logger:      observability.Component("engine_holder"),
	}
}

// Activate loads modelID and makes it the active engine. On failure the
// previously active engine stays in place.
func (h *Holder) Activate(modelID, path string) error {
	next, err := h.load(modelID, path)
	observability.RecordEngineActivation(err == nil)
	if err != nil {
		h.logger.Error().Err(err).Str("model_id", modelID).Msg("Engine activation failed")
		return fmt.Errorf("activate %s: %w", modelID, err)
	}

	h.mu.Lock()
	prev := h.engine
	h.engine = next
	h.modelID = modelID
	h.path = path
	h.armIdleTimerLocked()
	closeNow := prev != nil && h.leases[prev] == 0
	h.mu.Unlock()

	observability.SetEngineLoaded(true)
	if closeNow {
		h.closeEngine(prev)
	} else if prev != nil {
		h.logger.Info().Str("model_id", prev.ModelID()).Msg("Previous engine leased, closing on release")
	}

	h.logger.Info().Str("model_id", modelID).Str("kind", next.Kind().String()).Msg("Engine activated")
	return nil
}

// Acquire returns the active engine and a release func, reloading the model if
// it was unloaded for idleness. The idle timer is paused until every lease is
// released.
func (h *Holder) Acquire() (*Engine, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.modelID == "" {
		return nil, nil, ErrNoModel
	}

	if h.engine == nil {
		h.logger.Info().Str("model_id", h.modelID).Msg("Reloading idle-unloaded engine")
		e, err := h.load(h.modelID, h.path)
		observability.RecordEngineActivation(err == nil)
		if err != nil {
			return nil, nil, fmt.Errorf("reload %s: %w", h.modelID, err)
		}
		h.engine = e
		observability.SetEngineLoaded(true)
	}

	h.stopIdleTimerLocked()
	e := h.engine
	h.leases[e]++

	var once sync.Once
	release := func() {
		once.Do(func() { h.release(e) })
	}
	return e, release, nil
}

func (h *Holder) release(e *Engine) {
	h.mu.Lock()
	h.leases[e]--
	if h.leases[e] > 0 {
		h.mu.Unlock()
		return
	}
	delete(h.leases, e)
	retired := e != h.engine
	if !retired {
		h.armIdleTimerLocked()
	}
	h.mu.Unlock()

	if retired {
		h.closeEngine(e)
	}
}

func (h *Holder) closeEngine(e *Engine) {
	if err := e.Close(); err != nil {
		h.logger.Warn().Err(err).Str("model_id", e.ModelID()).Msg("Failed to close engine")
	}
}

// Loaded reports whether an engine is resident
func (h *Holder) Loaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine != nil
}

// ModelID returns the activated model, resident or not
func (h *Holder) ModelID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.modelID
}

// Unload drops the resident engine but remembers the model for lazy reload
func (h *Holder) Unload() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unloadLocked()
}

// Close unloads the engine and forgets the active model
func (h *Holder) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopIdleTimerLocked()
	h.unloadLocked()
	h.modelID = ""
	h.path = ""
}

func (h *Holder) unloadLocked() {
	if h.engine == nil {
		return
	}
	// A leased engine is closed by its last release
	if h.leases[h.engine] == 0 {
		h.closeEngine(h.engine)
	}
	h.engine = nil
	observability.SetEngineLoaded(false)
	h.logger.Info().Str("model_id", h.modelID).Msg("Engine unloaded")
}

func (h *Holder) armIdleTimerLocked() {
	h.stopIdleTimerLocked()
	if h.idleTimeout <= 0 || h.leases[h.engine] > 0 {
		return
	}
	h.idleGen++
	gen := h.idleGen
	h.idleTimer = time.AfterFunc(h.idleTimeout, func() { h.onIdle(gen) })
}

func (h *Holder) stopIdleTimerLocked() {
	if h.idleTimer != nil {
		h.idleTimer.Stop()
		h.idleTimer = nil
	}
}

func (h *Holder) onIdle(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// A lease or re-arm after the timer fired wins
	if h.leases[h.engine] > 0 || gen != h.idleGen || h.idleTimer == nil {
		return
	}
	h.idleTimer = nil
	h.logger.Info().Dur("idle_timeout", h.idleTimeout).Msg("Engine idle, unloading")
	h.unloadLocked()
}
