package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lexiqai/dictation/internal/dictation"
	"github.com/lexiqai/dictation/internal/engine"
	"gopkg.in/yaml.v3"
)

// Recording modes. Both map onto the same Start/Stop calls; the mode only
// tells front ends how to drive them.
const (
	ModeToggle     = "toggle"
	ModePushToTalk = "push_to_talk"
)

// Config holds all configuration for the dictation service
type Config struct {
	// Server configuration
	Host string `envconfig:"HOST" default:"127.0.0.1"`
	Port string `envconfig:"PORT" default:"8080"`

	// Model selection. The model kind is derived from the id.
	ModelID          string        `envconfig:"MODEL_ID" default:""`
	ModelPath        string        `envconfig:"MODEL_PATH" default:""`
	ModelIdleTimeout time.Duration `envconfig:"MODEL_IDLE_TIMEOUT" default:"300s"` // 0 keeps the model loaded

	// Inference configuration
	Language          string `envconfig:"LANGUAGE" default:"auto"`
	Threads           int    `envconfig:"INFERENCE_THREADS" default:"4"`
	ORTLibPath        string `envconfig:"ONNXRUNTIME_LIB" default:""` // shared library path; empty uses the platform default
	MaxSymbolsPerStep int    `envconfig:"TDT_MAX_SYMBOLS_PER_STEP" default:"10"`
	TDTDurations      []int  `envconfig:"TDT_DURATIONS" default:"0,1,2,3,4"`
	TargetSampleRate  uint32 `envconfig:"TARGET_SAMPLE_RATE" default:"16000"`

	// Session configuration
	RecordingMode    string        `envconfig:"RECORDING_MODE" default:"toggle"` // toggle, push_to_talk
	Streaming        bool          `envconfig:"STREAMING" default:"true"`
	ChunkTarget      time.Duration `envconfig:"CHUNK_TARGET" default:"20s"`
	ChunkSearch      time.Duration `envconfig:"CHUNK_SEARCH" default:"2s"`
	RMSWindow        time.Duration `envconfig:"RMS_WINDOW" default:"100ms"`
	PollInterval     time.Duration `envconfig:"POLL_INTERVAL" default:"500ms"`
	LevelInterval    time.Duration `envconfig:"LEVEL_INTERVAL" default:"50ms"`
	SilenceGate      float32       `envconfig:"SILENCE_GATE" default:"0"` // chunk RMS below this is skipped; 0 disables
	CaptureQueueSize int           `envconfig:"CAPTURE_QUEUE_SIZE" default:"64"`
	RecordingDumpDir string        `envconfig:"RECORDING_DUMP_DIR" default:""`

	// Event bus; publishing is disabled when NATS_URL is empty
	NATSURL             string `envconfig:"NATS_URL" default:""`
	NATSSubject         string `envconfig:"NATS_SUBJECT" default:"dictation"`
	NATSConnectAttempts int    `envconfig:"NATS_CONNECT_ATTEMPTS" default:"5"` // attempts at startup before events stay local

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then the YAML file
// named by CONFIG_FILE, then the environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	if path := GetEnv("CONFIG_FILE", ""); path != "" {
		if err := applyFile(path); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyFile exports the keys of a flat YAML file as environment variables.
// Keys are upper-cased (model_id becomes MODEL_ID) and lists are joined with
// commas. Variables already set in the environment win, as with .env files.
func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	for key, value := range values {
		name := strings.ToUpper(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if err := os.Setenv(name, yamlValue(value)); err != nil {
			return fmt.Errorf("config file key %s: %w", key, err)
		}
	}
	return nil
}

func yamlValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = fmt.Sprint(item)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}

// Validate checks value ranges and combinations
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.RecordingMode == ModeToggle || c.RecordingMode == ModePushToTalk,
		"RECORDING_MODE must be %s or %s, got %q", ModeToggle, ModePushToTalk, c.RecordingMode)
	check(c.ModelID == "" || c.ModelPath != "", "MODEL_PATH is required when MODEL_ID is set")
	check(c.ModelIdleTimeout >= 0, "MODEL_IDLE_TIMEOUT must not be negative")
	check(c.TargetSampleRate == 16000, "TARGET_SAMPLE_RATE must be 16000, got %d", c.TargetSampleRate)
	check(c.Threads >= 1, "INFERENCE_THREADS must be at least 1")
	check(c.MaxSymbolsPerStep >= 1, "TDT_MAX_SYMBOLS_PER_STEP must be at least 1")
	check(len(c.TDTDurations) > 0, "TDT_DURATIONS must not be empty")
	for _, d := range c.TDTDurations {
		check(d >= 0, "TDT_DURATIONS must not contain negative values, got %d", d)
	}
	check(c.ChunkTarget > 0, "CHUNK_TARGET must be positive")
	check(c.ChunkSearch >= 0 && c.ChunkSearch < c.ChunkTarget, "CHUNK_SEARCH must be in [0, CHUNK_TARGET)")
	check(c.RMSWindow > 0, "RMS_WINDOW must be positive")
	check(c.PollInterval > 0, "POLL_INTERVAL must be positive")
	check(c.LevelInterval > 0, "LEVEL_INTERVAL must be positive")
	check(c.SilenceGate >= 0 && c.SilenceGate < 1, "SILENCE_GATE must be in [0, 1)")
	check(c.CaptureQueueSize >= 1, "CAPTURE_QUEUE_SIZE must be at least 1")
	check(c.NATSConnectAttempts >= 1, "NATS_CONNECT_ATTEMPTS must be at least 1")

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// SessionOptions maps the session settings onto dictation.Options
func (c *Config) SessionOptions() dictation.Options {
	return dictation.Options{
		Streaming:     c.Streaming,
		Language:      c.Language,
		ChunkTarget:   c.ChunkTarget,
		ChunkSearch:   c.ChunkSearch,
		RMSWindow:     c.RMSWindow,
		PollInterval:  c.PollInterval,
		LevelInterval: c.LevelInterval,
		SilenceGate:   c.SilenceGate,
		QueueSize:     c.CaptureQueueSize,
		DumpDir:       c.RecordingDumpDir,
	}
}

// EngineOptions maps the inference settings onto engine.Options
func (c *Config) EngineOptions(rt engine.Runtime) engine.Options {
	return engine.Options{
		Runtime:           rt,
		Threads:           c.Threads,
		MaxSymbolsPerStep: c.MaxSymbolsPerStep,
		Durations:         c.TDTDurations,
	}
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
