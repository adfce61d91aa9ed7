// Package config loads the insight-tts configuration from the config file,
// environment and flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dgnsrekt/insight-tts/internal/audio"
	"github.com/dgnsrekt/insight-tts/internal/session"
	"github.com/dgnsrekt/insight-tts/internal/spectrum"
	"github.com/dgnsrekt/insight-tts/internal/tts"
	"github.com/dgnsrekt/insight-tts/internal/tts/engines"
)

// AppName names the config file, env prefix and app directories.
const AppName = "insight-tts"

// Config is the effective configuration.
type Config struct {
	Provider   string     `mapstructure:"provider" yaml:"provider"`
	LogLevel   string     `mapstructure:"log_level" yaml:"log_level"`
	Playback   Playback   `mapstructure:"playback" yaml:"playback"`
	Piper      Piper      `mapstructure:"piper" yaml:"piper"`
	Polly      Polly      `mapstructure:"polly" yaml:"polly"`
	ElevenLabs ElevenLabs `mapstructure:"elevenlabs" yaml:"elevenlabs"`
	Cache      Cache      `mapstructure:"cache" yaml:"cache"`
	Metrics    Metrics    `mapstructure:"metrics" yaml:"metrics"`
	Events     Events     `mapstructure:"events" yaml:"events"`

	Secrets Secrets `mapstructure:"-" yaml:"-"`
}

// Playback controls the engine, the output device and the spectrum.
type Playback struct {
	Output           string        `mapstructure:"output" yaml:"output"`
	SampleRate       int           `mapstructure:"sample_rate" yaml:"sample_rate"`
	Channels         int           `mapstructure:"channels" yaml:"channels"`
	SkipSeconds      float64       `mapstructure:"skip_seconds" yaml:"skip_seconds"`
	SkipWaitTimeout  time.Duration `mapstructure:"skip_wait_timeout" yaml:"skip_wait_timeout"`
	UnderrunLimit    time.Duration `mapstructure:"underrun_limit" yaml:"underrun_limit"`
	Bands            int           `mapstructure:"bands" yaml:"bands"`
	AnalysisInterval time.Duration `mapstructure:"analysis_interval" yaml:"analysis_interval"`
}

// Piper configures the local engine.
type Piper struct {
	Command    string `mapstructure:"command" yaml:"command"`
	Model      string `mapstructure:"model" yaml:"model"`
	VoicesDir  string `mapstructure:"voices_dir" yaml:"voices_dir"`
	SampleRate int    `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Polly configures Amazon Polly.
type Polly struct {
	Voice             string `mapstructure:"voice" yaml:"voice"`
	Region            string `mapstructure:"region" yaml:"region"`
	SampleRate        int    `mapstructure:"sample_rate" yaml:"sample_rate"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// ElevenLabs configures the ElevenLabs API.
type ElevenLabs struct {
	Voice             string `mapstructure:"voice" yaml:"voice"`
	Model             string `mapstructure:"model" yaml:"model"`
	OutputFormat      string `mapstructure:"output_format" yaml:"output_format"`
	Endpoint          string `mapstructure:"endpoint" yaml:"endpoint"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Cache configures the replay cache.
type Cache struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	MaxMB   int  `mapstructure:"max_mb" yaml:"max_mb"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Events configures the NATS event bridge. An empty URL disables it.
type Events struct {
	NATSURL string `mapstructure:"nats_url" yaml:"nats_url"`
	Subject string `mapstructure:"subject" yaml:"subject"`
}

// Secrets are read from the environment only.
type Secrets struct {
	ElevenLabsAPIKey string `env:"ELEVENLABS_API_KEY"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider: string(tts.ProviderPiper),
		LogLevel: "info",
		Playback: Playback{
			Output:           string(audio.SinkAuto),
			SampleRate:       engines.DefaultPiperSampleRate,
			Channels:         1,
			SkipSeconds:      5,
			SkipWaitTimeout:  audio.DefaultConfig().SkipWait,
			UnderrunLimit:    audio.DefaultConfig().UnderrunLimit,
			Bands:            spectrum.DefaultBands,
			AnalysisInterval: spectrum.DefaultInterval,
		},
		Piper: Piper{
			Model: engines.DefaultPiperVoice,
		},
		Polly: Polly{
			Voice:      engines.DefaultPollyVoice,
			SampleRate: engines.DefaultPollySampleRate,
		},
		ElevenLabs: ElevenLabs{
			Voice:    engines.DefaultElevenLabsVoice,
			Model:    engines.DefaultElevenLabsModel,
			Endpoint: engines.DefaultElevenLabsEndpoint,
		},
		Cache: Cache{
			Enabled: true,
			MaxMB:   64,
		},
		Metrics: Metrics{
			Addr: "127.0.0.1:9464",
		},
		Events: Events{
			Subject: "insight-tts.events",
		},
	}
}

// SetDefaults registers every default key with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("provider", d.Provider)
	v.SetDefault("log_level", d.LogLevel)

	v.SetDefault("playback.output", d.Playback.Output)
	v.SetDefault("playback.sample_rate", d.Playback.SampleRate)
	v.SetDefault("playback.channels", d.Playback.Channels)
	v.SetDefault("playback.skip_seconds", d.Playback.SkipSeconds)
	v.SetDefault("playback.skip_wait_timeout", d.Playback.SkipWaitTimeout)
	v.SetDefault("playback.underrun_limit", d.Playback.UnderrunLimit)
	v.SetDefault("playback.bands", d.Playback.Bands)
	v.SetDefault("playback.analysis_interval", d.Playback.AnalysisInterval)

	v.SetDefault("piper.command", d.Piper.Command)
	v.SetDefault("piper.model", d.Piper.Model)
	v.SetDefault("piper.voices_dir", d.Piper.VoicesDir)
	v.SetDefault("piper.sample_rate", d.Piper.SampleRate)

	v.SetDefault("polly.voice", d.Polly.Voice)
	v.SetDefault("polly.region", d.Polly.Region)
	v.SetDefault("polly.sample_rate", d.Polly.SampleRate)
	v.SetDefault("polly.requests_per_minute", d.Polly.RequestsPerMinute)

	v.SetDefault("elevenlabs.voice", d.ElevenLabs.Voice)
	v.SetDefault("elevenlabs.model", d.ElevenLabs.Model)
	v.SetDefault("elevenlabs.output_format", d.ElevenLabs.OutputFormat)
	v.SetDefault("elevenlabs.endpoint", d.ElevenLabs.Endpoint)
	v.SetDefault("elevenlabs.requests_per_minute", d.ElevenLabs.RequestsPerMinute)

	v.SetDefault("cache.enabled", d.Cache.Enabled)
	v.SetDefault("cache.max_mb", d.Cache.MaxMB)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject", d.Events.Subject)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	Configure(v)
	return v
}

// Configure applies defaults, the env prefix and the file type to v.
func Configure(v *viper.Viper) {
	SetDefaults(v)
	v.SetConfigName(AppName)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("insight_tts")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// SearchDirs returns the directories searched for the config file, most
// specific first.
func SearchDirs() ([]string, error) {
	dirs, err := gap.NewScope(gap.User, AppName).ConfigDirs()
	if err != nil {
		return nil, fmt.Errorf("unable to find configuration directory: %w", err)
	}
	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, AppName)}, dirs...)
	}
	if c := os.Getenv("INSIGHT_TTS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}
	return dirs, nil
}

// ReadInConfig reads file, or the first config found in dirs when file is
// empty. A missing config is not an error; the returned path is empty.
func ReadInConfig(v *viper.Viper, file string, dirs []string) (string, error) {
	if file != "" {
		v.SetConfigFile(homedirExpand(file))
	} else {
		for _, d := range dirs {
			v.AddConfigPath(d)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("could not parse configuration file: %w", err)
	}
	log.Debug("Using configuration file", "path", v.ConfigFileUsed())
	return v.ConfigFileUsed(), nil
}

// Load decodes v, reads secrets from the environment and validates the
// result.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode configuration: %w", err)
	}
	if err := env.Parse(&cfg.Secrets); err != nil {
		return Config{}, fmt.Errorf("unable to read environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	var errs []error
	if _, err := tts.ParseProvider(c.Provider); err != nil {
		errs = append(errs, err)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch audio.SinkType(c.Playback.Output) {
	case audio.SinkAuto, audio.SinkDevice, audio.SinkMock:
	default:
		errs = append(errs, fmt.Errorf("playback.output must be auto, device or mock, got %q", c.Playback.Output))
	}
	if c.Playback.SampleRate < 8000 || c.Playback.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("playback.sample_rate must be between 8000 and 192000, got %d", c.Playback.SampleRate))
	}
	if c.Playback.Channels != 1 && c.Playback.Channels != 2 {
		errs = append(errs, fmt.Errorf("playback.channels must be 1 or 2, got %d", c.Playback.Channels))
	}
	if c.Playback.SkipSeconds <= 0 {
		errs = append(errs, fmt.Errorf("playback.skip_seconds must be positive, got %g", c.Playback.SkipSeconds))
	}
	if c.Playback.Bands < 1 || c.Playback.Bands > 64 {
		errs = append(errs, fmt.Errorf("playback.bands must be between 1 and 64, got %d", c.Playback.Bands))
	}
	if c.Playback.AnalysisInterval < 10*time.Millisecond {
		errs = append(errs, fmt.Errorf("playback.analysis_interval must be at least 10ms, got %s", c.Playback.AnalysisInterval))
	}
	if c.Playback.SkipWaitTimeout < 0 || c.Playback.UnderrunLimit < 0 {
		errs = append(errs, errors.New("playback timeouts must not be negative"))
	}
	if c.Cache.MaxMB < 0 {
		errs = append(errs, fmt.Errorf("cache.max_mb must not be negative, got %d", c.Cache.MaxMB))
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, errors.New("metrics.addr is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// ProviderKind returns the configured provider.
func (c Config) ProviderKind() tts.ProviderKind {
	p, err := tts.ParseProvider(c.Provider)
	if err != nil {
		return tts.ProviderPiper
	}
	return p
}

// Format returns the output device format.
func (c Config) Format() tts.Format {
	return tts.Format{SampleRate: c.Playback.SampleRate, Channels: c.Playback.Channels}
}

// SkipStep returns the transport skip step.
func (c Config) SkipStep() time.Duration {
	return time.Duration(c.Playback.SkipSeconds * float64(time.Second))
}

// Engines returns the adapter configuration.
func (c Config) Engines() engines.Config {
	var voicesDirs []string
	if c.Piper.VoicesDir != "" {
		voicesDirs = append(voicesDirs, homedirExpand(c.Piper.VoicesDir))
	}
	return engines.Config{
		Piper: engines.PiperConfig{
			Command:    c.Piper.Command,
			Model:      homedirExpand(c.Piper.Model),
			VoicesDirs: voicesDirs,
			SampleRate: c.Piper.SampleRate,
		},
		Polly: engines.PollyConfig{
			Voice:             c.Polly.Voice,
			Region:            c.Polly.Region,
			SampleRate:        c.Polly.SampleRate,
			RequestsPerMinute: c.Polly.RequestsPerMinute,
		},
		ElevenLabs: engines.ElevenLabsConfig{
			APIKey:            c.Secrets.ElevenLabsAPIKey,
			Voice:             c.ElevenLabs.Voice,
			Model:             c.ElevenLabs.Model,
			OutputFormat:      c.ElevenLabs.OutputFormat,
			Endpoint:          c.ElevenLabs.Endpoint,
			RequestsPerMinute: c.ElevenLabs.RequestsPerMinute,
		},
		Mock: engines.MockConfig{
			SampleRate: c.Playback.SampleRate,
		},
	}
}

// Session returns the orchestrator configuration.
func (c Config) Session() session.Config {
	return session.Config{
		Provider: c.ProviderKind(),
		Engines:  c.Engines(),
		Playback: audio.Config{
			SkipWait:      c.Playback.SkipWaitTimeout,
			UnderrunLimit: c.Playback.UnderrunLimit,
			PollInterval:  audio.DefaultConfig().PollInterval,
		},
		Bands:            c.Playback.Bands,
		AnalysisInterval: c.Playback.AnalysisInterval,
	}
}

// YAML renders the configuration without secrets.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func homedirExpand(path string) string {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return path
	}
	return expanded
}
