// Command transcribe runs a WAV file through a local model and prints the
// stitched transcript as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lexiqai/dictation/internal/audio"
	"github.com/lexiqai/dictation/internal/config"
	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/engine"
	"github.com/lexiqai/dictation/internal/observability"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens
func run() int {
	// Flags default to the service configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	var (
		modelID   string
		modelPath string
		language  string
		textOnly  bool
		normalize bool
	)
	flag.StringVar(&modelID, "model", cfg.ModelID, "Model identifier; selects the engine kind")
	flag.StringVar(&modelPath, "model-path", cfg.ModelPath, "Model file or directory")
	flag.StringVar(&language, "language", cfg.Language, "Language hint, or auto")
	flag.BoolVar(&textOnly, "text", false, "Print only the transcript text")
	flag.BoolVar(&normalize, "normalize", false, "Peak-normalize the recording before transcribing")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] recording.wav\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 || modelID == "" || modelPath == "" {
		flag.Usage()
		return 2
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.Component("transcribe")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	buf, err := readWAV(flag.Arg(0))
	if err != nil {
		logger.Error().Err(err).Str("file", flag.Arg(0)).Msg("Failed to read recording")
		return 1
	}
	if normalize {
		audio.Normalize(buf.Samples)
	}

	var rt engine.Runtime
	if engine.DetectKind(modelID) != engine.KindWhisper {
		rt, err = engine.NewORTRuntime(cfg.ORTLibPath, cfg.Threads)
		if err != nil {
			logger.Error().Err(err).Msg("ONNX runtime unavailable")
			return 1
		}
		defer rt.Close()
	}

	eng, err := engine.Load(modelID, modelPath, cfg.EngineOptions(rt))
	if err != nil {
		logger.Error().Err(err).Str("model_id", modelID).Msg("Failed to load model")
		return 1
	}
	defer eng.Close()

	opts := cfg.SessionOptions()
	opts.Language = language

	logger.Info().
		Str("model_id", modelID).
		Str("kind", eng.Kind().String()).
		Dur("audio", buf.Duration()).
		Bool("normalized", normalize).
		Msg("Transcribing")

	res, err := dictation.TranscribeBuffer(ctx, eng, buf, opts)
	if err != nil {
		logger.Error().Err(err).Msg("Transcription failed")
		return 1
	}

	if textOnly {
		fmt.Println(res.Text)
		return 0
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		logger.Error().Err(err).Msg("Failed to write result")
		return 1
	}
	return 0
}

func readWAV(path string) (audio.Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Buffer{}, err
	}
	defer f.Close()
	return audio.ReadWAV(f)
}
