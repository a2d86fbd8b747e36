// Package config loads runtime configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmenter     SegmenterConfig     `yaml:"segmenter"`
	Dispatch      DispatchConfig      `yaml:"dispatch"`
	STT           STTConfig           `yaml:"stt"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	History       HistoryConfig       `yaml:"history"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServiceConfig struct {
	Name        string `yaml:"name"`
	HTTPAddr    string `yaml:"http_addr"`
	GRPCPort    string `yaml:"grpc_port"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// AudioConfig selects and tunes the microphone backend.
type AudioConfig struct {
	Backend       string `yaml:"backend"` // ffmpeg, wav, portaudio
	InputFormat   string `yaml:"input_format"`
	InputDevice   string `yaml:"input_device"`
	SampleRateHz  int    `yaml:"sample_rate_hz"`
	FFmpegCommand string `yaml:"ffmpeg_command"`
	WAVPath       string `yaml:"wav_path"`
	FrameSize     int    `yaml:"frame_size"`
}

// SegmenterConfig holds the voice-activity thresholds.
type SegmenterConfig struct {
	SilenceThreshold float64       `yaml:"silence_threshold"`
	SilenceDuration  time.Duration `yaml:"silence_duration"`
	MinChunk         time.Duration `yaml:"min_chunk"`
	MaxChunk         time.Duration `yaml:"max_chunk"`
	TickInterval     time.Duration `yaml:"tick_interval"`
}

// DispatchConfig controls uploads. MaxDuration caps the audio sent in one
// request; the oldest audio goes first.
type DispatchConfig struct {
	Interval         time.Duration `yaml:"interval"`
	MinBytes         int           `yaml:"min_bytes"`
	MaxDuration      time.Duration `yaml:"max_duration"`
	StopFlushTimeout time.Duration `yaml:"stop_flush_timeout"`
}

// STTConfig configures the remote transcription service.
type STTConfig struct {
	Provider        string        `yaml:"provider"` // http, google, mock
	Endpoint        string        `yaml:"endpoint"`
	APIKey          string        `yaml:"api_key"`
	LanguageCode    string        `yaml:"language_code"`
	Timeout         time.Duration `yaml:"timeout"`
	CredentialsFile string        `yaml:"credentials_file"`
}

type KafkaConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Brokers        []string `yaml:"brokers"`
	TopicUpdates   string   `yaml:"topic_updates"`
	TopicCommitted string   `yaml:"topic_committed"`
	Principal      string   `yaml:"principal"`
}

type HistoryConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "classroom-voice-capture",
			HTTPAddr:    ":8080",
			GRPCPort:    "50051",
			MetricsAddr: ":9090",
		},
		Audio: AudioConfig{
			Backend:       "ffmpeg",
			InputFormat:   "pulse",
			InputDevice:   "default",
			SampleRateHz:  16000,
			FFmpegCommand: "ffmpeg",
			FrameSize:     2048,
		},
		Segmenter: SegmenterConfig{
			SilenceThreshold: 0.015,
			SilenceDuration:  1200 * time.Millisecond,
			MinChunk:         800 * time.Millisecond,
			MaxChunk:         4 * time.Second,
			TickInterval:     100 * time.Millisecond,
		},
		Dispatch: DispatchConfig{
			Interval:         4 * time.Second,
			MinBytes:         1000,
			MaxDuration:      30 * time.Second,
			StopFlushTimeout: 5 * time.Second,
		},
		STT: STTConfig{
			Provider:     "mock",
			LanguageCode: "en",
			Timeout:      30 * time.Second,
		},
		Kafka: KafkaConfig{
			TopicUpdates:   "classroom.transcript.update",
			TopicCommitted: "classroom.transcript.committed",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
		},
	}
}

// Load resolves configuration from environment variables and defaults.
func Load() *Config {
	cfg := Default()
	applyEnv(cfg)
	return cfg
}

// LoadFile decodes the YAML file at path over the defaults, applies
// environment overrides and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Service.Name = envOrDefault("SERVICE_NAME", cfg.Service.Name)
	cfg.Service.HTTPAddr = envOrDefault("HTTP_ADDR", cfg.Service.HTTPAddr)
	cfg.Service.GRPCPort = envOrDefault("GRPC_PORT", cfg.Service.GRPCPort)
	cfg.Service.MetricsAddr = envOrDefault("METRICS_ADDR", cfg.Service.MetricsAddr)

	cfg.Audio.Backend = envOrDefault("AUDIO_BACKEND", cfg.Audio.Backend)
	cfg.Audio.InputFormat = envOrDefault("AUDIO_INPUT_FORMAT", cfg.Audio.InputFormat)
	cfg.Audio.InputDevice = envOrDefault("AUDIO_INPUT_DEVICE", cfg.Audio.InputDevice)
	cfg.Audio.SampleRateHz = envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", cfg.Audio.SampleRateHz)
	cfg.Audio.FFmpegCommand = envOrDefault("AUDIO_FFMPEG_COMMAND", cfg.Audio.FFmpegCommand)
	cfg.Audio.WAVPath = envOrDefault("AUDIO_WAV_PATH", cfg.Audio.WAVPath)
	cfg.Audio.FrameSize = envOrDefaultInt("AUDIO_FRAME_SIZE", cfg.Audio.FrameSize)

	cfg.Segmenter.SilenceThreshold = envOrDefaultFloat("SEGMENT_SILENCE_THRESHOLD", cfg.Segmenter.SilenceThreshold)
	cfg.Segmenter.SilenceDuration = envOrDefaultDuration("SEGMENT_SILENCE_DURATION", cfg.Segmenter.SilenceDuration)
	cfg.Segmenter.MinChunk = envOrDefaultDuration("SEGMENT_MIN_CHUNK", cfg.Segmenter.MinChunk)
	cfg.Segmenter.MaxChunk = envOrDefaultDuration("SEGMENT_MAX_CHUNK", cfg.Segmenter.MaxChunk)
	cfg.Segmenter.TickInterval = envOrDefaultDuration("SEGMENT_TICK_INTERVAL", cfg.Segmenter.TickInterval)

	cfg.Dispatch.Interval = envOrDefaultDuration("DISPATCH_INTERVAL", cfg.Dispatch.Interval)
	cfg.Dispatch.MinBytes = envOrDefaultInt("DISPATCH_MIN_BYTES", cfg.Dispatch.MinBytes)
	cfg.Dispatch.MaxDuration = envOrDefaultDuration("DISPATCH_MAX_DURATION", cfg.Dispatch.MaxDuration)
	cfg.Dispatch.StopFlushTimeout = envOrDefaultDuration("DISPATCH_STOP_FLUSH_TIMEOUT", cfg.Dispatch.StopFlushTimeout)

	cfg.STT.Provider = envOrDefault("STT_PROVIDER", cfg.STT.Provider)
	cfg.STT.Endpoint = envOrDefault("STT_ENDPOINT", cfg.STT.Endpoint)
	cfg.STT.APIKey = envOrDefault("STT_API_KEY", cfg.STT.APIKey)
	cfg.STT.LanguageCode = envOrDefault("STT_LANGUAGE_CODE", cfg.STT.LanguageCode)
	cfg.STT.Timeout = envOrDefaultDuration("STT_TIMEOUT", cfg.STT.Timeout)
	cfg.STT.CredentialsFile = envOrDefault("STT_GOOGLE_CREDENTIALS_FILE", cfg.STT.CredentialsFile)

	cfg.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", cfg.Kafka.Enabled)
	cfg.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", cfg.Kafka.Brokers)
	cfg.Kafka.TopicUpdates = envOrDefault("KAFKA_TOPIC_UPDATES", cfg.Kafka.TopicUpdates)
	cfg.Kafka.TopicCommitted = envOrDefault("KAFKA_TOPIC_COMMITTED", cfg.Kafka.TopicCommitted)
	cfg.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", cfg.Kafka.Principal)
	if cfg.Kafka.Principal == "" {
		cfg.Kafka.Principal = cfg.Service.Name
	}

	cfg.History.MaxEntries = envOrDefaultInt("HISTORY_MAX_ENTRIES", cfg.History.MaxEntries)

	cfg.Observability.LogLevel = envOrDefault("LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.LogFormat = envOrDefault("LOG_FORMAT", cfg.Observability.LogFormat)
}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}
	if err := c.Segmenter.Validate(); err != nil {
		return fmt.Errorf("segmenter config: %w", err)
	}
	if err := c.Dispatch.Validate(); err != nil {
		return fmt.Errorf("dispatch config: %w", err)
	}
	if err := c.STT.Validate(); err != nil {
		return fmt.Errorf("stt config: %w", err)
	}
	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history config: max_entries cannot be negative, got %d", c.History.MaxEntries)
	}
	return nil
}

func (a *AudioConfig) Validate() error {
	switch a.Backend {
	case "ffmpeg", "portaudio":
	case "wav":
		if a.WAVPath == "" {
			return errors.New("wav_path is required for the wav backend")
		}
	default:
		return fmt.Errorf("backend must be one of [ffmpeg, wav, portaudio], got '%s'", a.Backend)
	}
	if a.SampleRateHz < 8000 {
		return fmt.Errorf("sample_rate_hz must be at least 8000, got %d", a.SampleRateHz)
	}
	if a.FrameSize < 256 || a.FrameSize&(a.FrameSize-1) != 0 {
		return fmt.Errorf("frame_size must be a power of two >= 256, got %d", a.FrameSize)
	}
	return nil
}

func (s *SegmenterConfig) Validate() error {
	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", s.SilenceThreshold)
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("tick_interval must be positive, got %v", s.TickInterval)
	}
	if s.SilenceDuration <= 0 {
		return fmt.Errorf("silence_duration must be positive, got %v", s.SilenceDuration)
	}
	if s.MinChunk <= 0 {
		return fmt.Errorf("min_chunk must be positive, got %v", s.MinChunk)
	}
	if s.MaxChunk <= s.MinChunk {
		return fmt.Errorf("max_chunk (%v) must be greater than min_chunk (%v)", s.MaxChunk, s.MinChunk)
	}
	return nil
}

func (d *DispatchConfig) Validate() error {
	if d.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %v", d.Interval)
	}
	if d.MinBytes < 0 {
		return fmt.Errorf("min_bytes cannot be negative, got %d", d.MinBytes)
	}
	if d.MaxDuration <= 0 {
		return fmt.Errorf("max_duration must be positive, got %v", d.MaxDuration)
	}
	return nil
}

func (s *STTConfig) Validate() error {
	switch s.Provider {
	case "http":
		if s.Endpoint == "" {
			return errors.New("endpoint is required for the http provider")
		}
	case "google", "mock":
	default:
		return fmt.Errorf("provider must be one of [http, google, mock], got '%s'", s.Provider)
	}
	if s.LanguageCode == "" {
		return errors.New("language_code cannot be empty")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return parsed
}

func envOrDefaultList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
