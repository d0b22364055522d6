package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cwbudde/algo-harmony/dsp/pitch"
	"gopkg.in/yaml.v3"
)

// EnvCapturePath overrides capture.path when set.
const EnvCapturePath = "HARMONIZER_CAPTURE_PATH"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Fields missing from the file keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of the defaults,
// applies environment overrides and validates the result. An empty document
// yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg with values from the environment.
func ApplyEnv(cfg *Config) {
	cfg.Capture.Path = envStr(EnvCapturePath, cfg.Capture.Path)
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Audio
	if cfg.Audio.SampleRate < 8000 || cfg.Audio.SampleRate > 192000 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %v is out of range [8000, 192000]", cfg.Audio.SampleRate))
	}
	if cfg.Audio.Channels < 1 || cfg.Audio.Channels > 2 {
		errs = append(errs, fmt.Errorf("audio.channels %d is invalid; valid values: 1, 2", cfg.Audio.Channels))
	}
	if cfg.Audio.BlockFrames < 16 || cfg.Audio.BlockFrames > 16384 {
		errs = append(errs, fmt.Errorf("audio.block_frames %d is out of range [16, 16384]", cfg.Audio.BlockFrames))
	}

	// Harmony
	if cfg.Harmony.MaxVoices < 1 || cfg.Harmony.MaxVoices > 32 {
		errs = append(errs, fmt.Errorf("harmony.max_voices %d is out of range [1, 32]", cfg.Harmony.MaxVoices))
	}
	switch cfg.Harmony.PitchEngine {
	case pitch.EngineWSOLA, pitch.EngineSpectral:
	default:
		errs = append(errs, fmt.Errorf("harmony.pitch_engine %q is invalid; valid values: wsola, spectral", cfg.Harmony.PitchEngine))
	}
	if cfg.Harmony.RootVolume < 0 || cfg.Harmony.RootVolume > 1 {
		errs = append(errs, fmt.Errorf("harmony.root_volume %.2f is out of range [0, 1]", cfg.Harmony.RootVolume))
	}
	if cfg.Harmony.HarmonyVolume < 0 || cfg.Harmony.HarmonyVolume > 1 {
		errs = append(errs, fmt.Errorf("harmony.harmony_volume %.2f is out of range [0, 1]", cfg.Harmony.HarmonyVolume))
	}

	if cfg.Capture.Path == "" {
		errs = append(errs, errors.New("capture.path is required"))
	}
	if cfg.Control.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("control.poll_interval %v must be positive", cfg.Control.PollInterval))
	}
	if cfg.Engine.MaxStartFailures < 1 {
		errs = append(errs, fmt.Errorf("engine.max_start_failures %d must be at least 1", cfg.Engine.MaxStartFailures))
	}
	if !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	return errors.Join(errs...)
}
