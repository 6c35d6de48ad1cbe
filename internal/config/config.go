// Package config loads mudra's configuration from an optional YAML file,
// MUDRA_* environment variables and defaults, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ayusman/mudra/internal/bus"
	"github.com/ayusman/mudra/internal/stream"
)

// EnvPrefix is the prefix of every environment override, e.g.
// MUDRA_STREAM_WINDOW_SIZE.
const EnvPrefix = "MUDRA"

// Config is the full application configuration.
type Config struct {
	Log        LogConfig        `mapstructure:"log"`
	Server     ServerConfig     `mapstructure:"server"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Extractor  ExtractorConfig  `mapstructure:"extractor"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Store      StoreConfig      `mapstructure:"store"`
	Plugins    PluginsConfig    `mapstructure:"plugins"`
	Bus        BusConfig        `mapstructure:"bus"`
	Camera     CameraConfig     `mapstructure:"camera"`
}

// LogConfig configures the logrus logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string        `mapstructure:"addr"`
	CORSOrigins   []string      `mapstructure:"cors_origins"`
	MaxSessions   int           `mapstructure:"max_sessions"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	MaxFrameBytes int64         `mapstructure:"max_frame_bytes"`
}

// StreamConfig holds the recognition constants. They are fixed for the
// lifetime of the process.
type StreamConfig struct {
	WindowSize    int     `mapstructure:"window_size"`
	HistorySize   int     `mapstructure:"history_size"`
	MinVotes      int     `mapstructure:"min_votes"`
	Threshold     float64 `mapstructure:"threshold"`
	TranscriptCap int     `mapstructure:"transcript_cap"`
	Vocabulary    string  `mapstructure:"vocabulary"`
}

// Engine returns the constants in the form the stream package uses.
func (s StreamConfig) Engine() stream.Config {
	return stream.Config{
		WindowSize:    s.WindowSize,
		HistorySize:   s.HistorySize,
		MinVotes:      s.MinVotes,
		Threshold:     s.Threshold,
		TranscriptCap: s.TranscriptCap,
	}
}

// ExtractorConfig configures the MediaPipe Holistic subprocess.
type ExtractorConfig struct {
	Script                 string  `mapstructure:"script"`
	Python                 string  `mapstructure:"python"`
	MinDetectionConfidence float64 `mapstructure:"min_detection_confidence"`
	MinTrackingConfidence  float64 `mapstructure:"min_tracking_confidence"`
}

// ClassifierConfig configures the sequence model.
type ClassifierConfig struct {
	Model   string `mapstructure:"model"`
	Config  string `mapstructure:"config"`
	Backend string `mapstructure:"backend"`
	Target  string `mapstructure:"target"`
}

// StoreConfig configures the SQLite database.
type StoreConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// PluginsConfig configures plugin discovery and execution.
type PluginsConfig struct {
	Dir      string        `mapstructure:"dir"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Parallel int           `mapstructure:"parallel"`
}

// BusConfig configures NATS publishing. Publishing is off when no servers
// are configured and Embedded is false.
type BusConfig struct {
	Servers       []string `mapstructure:"servers"`
	SubjectPrefix string   `mapstructure:"subject_prefix"`
	Token         string   `mapstructure:"token"`
	Embedded      bool     `mapstructure:"embedded"`
	EmbeddedHost  string   `mapstructure:"embedded_host"`
	EmbeddedPort  int      `mapstructure:"embedded_port"`
}

// Enabled reports whether gesture events should be published.
func (b BusConfig) Enabled() bool {
	return b.Embedded || len(b.Servers) > 0
}

// CameraConfig configures the local camera pipeline.
type CameraConfig struct {
	Device  int `mapstructure:"device"`
	Width   int `mapstructure:"width"`
	Height  int `mapstructure:"height"`
	FPS     int `mapstructure:"fps"`
	IdleFPS int `mapstructure:"idle_fps"`
}

// Dir returns the mudra data directory, ~/.mudra.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mudra"
	}
	return filepath.Join(home, ".mudra")
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	def := stream.DefaultConfig()
	dir := Dir()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://127.0.0.1:5173"})
	v.SetDefault("server.max_sessions", 64)
	v.SetDefault("server.session_ttl", 10*time.Minute)
	v.SetDefault("server.max_frame_bytes", int64(8<<20))

	v.SetDefault("stream.window_size", def.WindowSize)
	v.SetDefault("stream.history_size", def.HistorySize)
	v.SetDefault("stream.min_votes", def.MinVotes)
	v.SetDefault("stream.threshold", def.Threshold)
	v.SetDefault("stream.transcript_cap", def.TranscriptCap)
	v.SetDefault("stream.vocabulary", "")

	v.SetDefault("extractor.script", "")
	v.SetDefault("extractor.python", "")
	v.SetDefault("extractor.min_detection_confidence", 0.5)
	v.SetDefault("extractor.min_tracking_confidence", 0.5)

	v.SetDefault("classifier.model", filepath.Join(dir, "models", "action.onnx"))
	v.SetDefault("classifier.config", "")
	v.SetDefault("classifier.backend", "default")
	v.SetDefault("classifier.target", "cpu")

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.path", filepath.Join(dir, "mudra.db"))

	v.SetDefault("plugins.dir", filepath.Join(dir, "plugins"))
	v.SetDefault("plugins.timeout", 5*time.Second)
	v.SetDefault("plugins.parallel", 2)

	v.SetDefault("bus.servers", []string{})
	v.SetDefault("bus.subject_prefix", bus.DefaultSubjectPrefix)
	v.SetDefault("bus.token", "")
	v.SetDefault("bus.embedded", false)
	v.SetDefault("bus.embedded_host", "127.0.0.1")
	v.SetDefault("bus.embedded_port", 4222)

	v.SetDefault("camera.device", 0)
	v.SetDefault("camera.width", 640)
	v.SetDefault("camera.height", 480)
	v.SetDefault("camera.fps", 15)
	v.SetDefault("camera.idle_fps", 5)
}

// New returns a viper instance with defaults and environment overrides
// registered. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and returns the validated
// result. With an empty path, mudra.yaml is looked up in the working
// directory and ~/.mudra; a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("mudra")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (cfg *Config) Validate() error {
	var errs []error

	switch strings.ToLower(cfg.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}

	if err := cfg.Stream.Engine().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("stream: %w", err))
	}

	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Server.MaxSessions < 0 {
		errs = append(errs, fmt.Errorf("server.max_sessions must not be negative, got %d", cfg.Server.MaxSessions))
	}
	if cfg.Server.SessionTTL < 0 {
		errs = append(errs, fmt.Errorf("server.session_ttl must not be negative, got %s", cfg.Server.SessionTTL))
	}
	if cfg.Server.MaxFrameBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_frame_bytes must be positive, got %d", cfg.Server.MaxFrameBytes))
	}

	for name, c := range map[string]float64{
		"extractor.min_detection_confidence": cfg.Extractor.MinDetectionConfidence,
		"extractor.min_tracking_confidence":  cfg.Extractor.MinTrackingConfidence,
	} {
		if c < 0 || c > 1 {
			errs = append(errs, fmt.Errorf("%s must be in [0, 1], got %v", name, c))
		}
	}

	if cfg.Store.Enabled && cfg.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required when the store is enabled"))
	}

	if cfg.Plugins.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("plugins.timeout must be positive, got %s", cfg.Plugins.Timeout))
	}
	if cfg.Plugins.Parallel < 1 {
		errs = append(errs, fmt.Errorf("plugins.parallel must be at least 1, got %d", cfg.Plugins.Parallel))
	}

	if cfg.Bus.Enabled() && cfg.Bus.SubjectPrefix == "" {
		errs = append(errs, errors.New("bus.subject_prefix is required when publishing"))
	}

	if cfg.Camera.FPS < 1 || cfg.Camera.IdleFPS < 1 || cfg.Camera.IdleFPS > cfg.Camera.FPS {
		errs = append(errs, fmt.Errorf("camera fps must satisfy 1 <= idle_fps <= fps, got idle_fps=%d fps=%d",
			cfg.Camera.IdleFPS, cfg.Camera.FPS))
	}

	return errors.Join(errs...)
}
