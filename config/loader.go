package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/njyeung/asciiplay/player"
)

// Load reads the YAML configuration file at path over [Default] and
// validates the result.
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

// LoadFromReader decodes a YAML config from r over [Default] and validates
// the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}

	// Playback
	p := cfg.Playback
	if p.SpeedMin <= 0 {
		errs = append(errs, fmt.Errorf("playback.speed_min %.2f must be positive", p.SpeedMin))
	}
	if p.SpeedMin > p.SpeedMax {
		errs = append(errs, fmt.Errorf("playback.speed_min %.2f is greater than playback.speed_max %.2f", p.SpeedMin, p.SpeedMax))
	}
	if p.SpeedStep <= 1 {
		errs = append(errs, fmt.Errorf("playback.speed_step %.2f must be greater than 1", p.SpeedStep))
	}
	if p.SkipFrames <= 0 {
		errs = append(errs, fmt.Errorf("playback.skip_frames %d must be positive", p.SkipFrames))
	}
	if p.PauseInterval <= 0 {
		errs = append(errs, fmt.Errorf("playback.pause_interval %s must be positive", p.PauseInterval))
	}
	if p.FrameWait <= 0 {
		errs = append(errs, fmt.Errorf("playback.frame_wait %s must be positive", p.FrameWait))
	}
	if p.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("playback.cache_size %d must be positive", p.CacheSize))
	}
	if p.Prefetch < 0 {
		errs = append(errs, fmt.Errorf("playback.prefetch %d must not be negative", p.Prefetch))
	}
	if p.Workers < 0 {
		errs = append(errs, fmt.Errorf("playback.workers %d must not be negative", p.Workers))
	}

	// Render
	if !slices.Contains(player.RampNames(), strings.ToLower(cfg.Render.Charset)) {
		errs = append(errs, fmt.Errorf("render.charset %q is invalid; valid values: %s", cfg.Render.Charset, strings.Join(player.RampNames(), ", ")))
	}
	if cfg.Render.SampleScale <= 0 {
		errs = append(errs, fmt.Errorf("render.sample_scale %d must be positive", cfg.Render.SampleScale))
	}
	if cfg.Render.Contrast < 0 || cfg.Render.Contrast > 2 {
		errs = append(errs, fmt.Errorf("render.contrast %.2f is out of range [0, 2]", cfg.Render.Contrast))
	}
	if cfg.Render.Brightness < -1 || cfg.Render.Brightness > 1 {
		errs = append(errs, fmt.Errorf("render.brightness %.2f is out of range [-1, 1]", cfg.Render.Brightness))
	}

	// Audio
	a := cfg.Audio
	if a.Volume < 0 || a.Volume > 1 {
		errs = append(errs, fmt.Errorf("audio.volume %.2f is out of range [0, 1]", a.Volume))
	}
	if a.VolumeStep <= 0 || a.VolumeStep > 1 {
		errs = append(errs, fmt.Errorf("audio.volume_step %.2f is out of range (0, 1]", a.VolumeStep))
	}
	if a.DriftThreshold < 0 {
		errs = append(errs, fmt.Errorf("audio.drift_threshold %s must not be negative", a.DriftThreshold))
	}
	if a.ResyncAfterPause < 0 {
		errs = append(errs, fmt.Errorf("audio.resync_after_pause %s must not be negative", a.ResyncAfterPause))
	}
	if a.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer %s must be positive", a.Buffer))
	}

	return errors.Join(errs...)
}
