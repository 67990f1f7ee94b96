package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/lexiqai/dictation/internal/capture"
	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/engine"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/rs/zerolog"
)

// Controller drives recording sessions. *dictation.Orchestrator implements it.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Stop(ctx context.Context) (engine.Result, error)
	Cancel() error
	Status() dictation.Snapshot
}

// ModelActivator switches the active model
type ModelActivator interface {
	Activate(modelID, path string) error
	ModelID() string
	Loaded() bool
}

// toggle starts a session when idle and stops the running one otherwise. It
// backs both toggle and push-to-talk front ends.
func toggle(ctx context.Context, ctrl Controller) (string, error) {
	snap := ctrl.Status()
	if snap.Status == dictation.StatusIdle {
		return ctrl.Start(ctx)
	}
	_, err := ctrl.Stop(ctx)
	return snap.SessionID, err
}

type controlHandler struct {
	ctrl   Controller
	models ModelActivator
	logger zerolog.Logger
}

// RegisterRoutes mounts the control API and the websocket stream on mux.
// models may be nil to disable model activation.
func RegisterRoutes(mux *http.ServeMux, ctrl Controller, models ModelActivator, hub *Hub) {
	h := &controlHandler{
		ctrl:   ctrl,
		models: models,
		logger: observability.Component("control"),
	}

	mux.HandleFunc("POST /v1/dictation/start", h.start)
	mux.HandleFunc("POST /v1/dictation/stop", h.stop)
	mux.HandleFunc("POST /v1/dictation/cancel", h.cancel)
	mux.HandleFunc("POST /v1/dictation/toggle", h.toggle)
	mux.HandleFunc("GET /v1/dictation/status", h.status)
	if models != nil {
		mux.HandleFunc("POST /v1/models/activate", h.activate)
		mux.HandleFunc("GET /v1/models/active", h.activeModel)
	}
	if hub != nil {
		mux.Handle("GET /v1/dictation/stream", hub)
	}
}

func (h *controlHandler) start(w http.ResponseWriter, r *http.Request) {
	id, err := h.ctrl.Start(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": id})
}

func (h *controlHandler) stop(w http.ResponseWriter, r *http.Request) {
	res, err := h.ctrl.Stop(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *controlHandler) cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Cancel(); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *controlHandler) toggle(w http.ResponseWriter, r *http.Request) {
	if _, err := toggle(r.Context(), h.ctrl); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *controlHandler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

type activateRequest struct {
	ModelID string `json:"model_id"`
	Path    string `json:"path"`
}

func (h *controlHandler) activate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ModelID == "" || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "model_id and path are required"})
		return
	}

	if err := h.models.Activate(req.ModelID, req.Path); err != nil {
		h.writeError(w, err)
		return
	}
	h.activeModel(w, r)
}

func (h *controlHandler) activeModel(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"model_id": h.models.ModelID(),
		"loaded":   h.models.Loaded(),
	})
}

// statusFor maps session and engine errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, dictation.ErrSessionActive),
		errors.Is(err, dictation.ErrNoActiveSession),
		errors.Is(err, dictation.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, dictation.ErrEngineNotLoaded),
		errors.Is(err, capture.ErrDeviceUnavailable),
		errors.Is(err, engine.ErrRuntimeUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, engine.ErrModelLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *controlHandler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Int("status", code).Msg("Control request failed")
	} else {
		h.logger.Debug().Err(err).Int("status", code).Msg("Control request rejected")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
