// Package config provides the configuration schema and loader for the
// harmonizer.
package config

import (
	"log/slog"
	"time"

	"github.com/cwbudde/algo-harmony/dsp/buffer"
	"github.com/cwbudde/algo-harmony/dsp/pitch"
	"github.com/cwbudde/algo-harmony/engine/transport"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog returns the matching slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
type Config struct {
	Audio    AudioConfig   `yaml:"audio"`
	Harmony  HarmonyConfig `yaml:"harmony"`
	Capture  CaptureConfig `yaml:"capture"`
	Control  ControlConfig `yaml:"control"`
	Engine   EngineConfig  `yaml:"engine"`
	LogLevel LogLevel      `yaml:"log_level"`
}

// AudioConfig describes the canonical format shared by every voice and the
// output.
type AudioConfig struct {
	SampleRate  float64 `yaml:"sample_rate"`
	Channels    int     `yaml:"channels"`
	BlockFrames int     `yaml:"block_frames"`
}

// HarmonyConfig configures the voice graph.
type HarmonyConfig struct {
	MaxVoices     int          `yaml:"max_voices"`
	PitchEngine   pitch.Engine `yaml:"pitch_engine"`
	RootVolume    float64      `yaml:"root_volume"`
	HarmonyVolume float64      `yaml:"harmony_volume"`
}

// CaptureConfig configures the recording file.
type CaptureConfig struct {
	// Path is overwritten by every new recording.
	Path string `yaml:"path"`
}

// ControlConfig configures the gesture poller.
type ControlConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// EngineConfig configures device recovery.
type EngineConfig struct {
	// MaxStartFailures is the number of consecutive failed starts after which
	// audio is reported unavailable.
	MaxStartFailures int `yaml:"max_start_failures"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:  buffer.Canonical.SampleRate,
			Channels:    buffer.Canonical.Channels,
			BlockFrames: 1024,
		},
		Harmony: HarmonyConfig{
			MaxVoices:     8,
			PitchEngine:   pitch.EngineWSOLA,
			RootVolume:    1.0,
			HarmonyVolume: 0.8,
		},
		Capture:  CaptureConfig{Path: transport.DefaultCapturePath()},
		Control:  ControlConfig{PollInterval: 10 * time.Millisecond},
		Engine:   EngineConfig{MaxStartFailures: 3},
		LogLevel: LogInfo,
	}
}

// Format returns the canonical audio format described by the config.
func (c *Config) Format() buffer.Format {
	return buffer.Format{
		SampleRate:   c.Audio.SampleRate,
		Channels:     c.Audio.Channels,
		SampleFormat: buffer.Float32,
		Interleaved:  true,
	}
}
