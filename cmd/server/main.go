package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/dictation/internal/capture"
	"github.com/lexiqai/dictation/internal/config"
	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/engine"
	"github.com/lexiqai/dictation/internal/observability"
	"github.com/lexiqai/dictation/internal/publish"
	"github.com/lexiqai/dictation/internal/resilience"
	"github.com/lexiqai/dictation/internal/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("addr", cfg.Addr()).
		Str("model_id", cfg.ModelID).
		Str("recording_mode", cfg.RecordingMode).
		Bool("streaming", cfg.Streaming).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Dictation service starting")

	// ONNX runtime backs the CTC and transducer engines. Whisper models work
	// without it.
	runtime, err := engine.NewORTRuntime(cfg.ORTLibPath, cfg.Threads)
	if err != nil {
		logger.Warn().Err(err).Msg("ONNX runtime unavailable, only Whisper models can be loaded")
	}

	engineOpts := cfg.EngineOptions(runtime)
	holder := engine.NewHolder(func(modelID, path string) (*engine.Engine, error) {
		return engine.Load(modelID, path, engineOpts)
	}, cfg.ModelIdleTimeout)

	if cfg.ModelID != "" {
		if err := holder.Activate(cfg.ModelID, cfg.ModelPath); err != nil {
			// The service still starts so a model can be activated over HTTP
			logger.Error().Err(err).Msg("Failed to activate configured model")
		}
	}

	// Event sinks
	hub := transport.NewHub(nil)
	listeners := dictation.Listeners{hub.Listener()}

	var pub *publish.Publisher
	if cfg.NATSURL != "" {
		retryCfg := resilience.DefaultRetryConfig()
		retryCfg.MaxAttempts = cfg.NATSConnectAttempts
		err = resilience.Retry(context.Background(), "nats_connect", retryCfg, func() error {
			var connErr error
			pub, connErr = publish.Connect(cfg.NATSURL, cfg.NATSSubject)
			return connErr
		})
		if err != nil {
			logger.Error().Err(err).Msg("Failed to connect to NATS, events stay local")
		} else {
			listeners = append(listeners, pub.Listener())
		}
	}

	orch := dictation.New(capture.NewDefaultDevice(), dictation.FromHolder(holder), listeners, cfg.SessionOptions())
	hub.SetController(orch)

	// Create HTTP server
	mux := http.NewServeMux()
	transport.RegisterRoutes(mux, orch, holder, hub)

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness endpoint
	checks := map[string]observability.HealthCheckFunc{
		"engine": func(ctx context.Context) (bool, error) {
			if holder.ModelID() == "" {
				return false, engine.ErrNoModel
			}
			return true, nil
		},
	}
	if pub != nil {
		checks["nats"] = pub.Healthy
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	// Metrics endpoint (Prometheus)
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// Create HTTP server with timeouts. Stop answers once the tail of the
	// recording is transcribed, so writes get a generous deadline.
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().
			Str("addr", cfg.Addr()).
			Str("stream", fmt.Sprintf("ws://%s/v1/dictation/stream", cfg.Addr())).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// A recording in progress is discarded
	if err := orch.Cancel(); err == nil {
		logger.Info().Msg("Cancelled active session")
	}

	hub.Close()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	if pub != nil {
		pub.Close()
	}
	holder.Close()
	if runtime != nil {
		if err := runtime.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to release ONNX runtime")
		}
	}

	logger.Info().Msg("Server exited gracefully")
}
