// Package config defines the asciiplay configuration file.
package config

import (
	"log/slog"
	"time"
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

// SlogLevel maps l onto a [slog.Level]. Unknown levels map to info.
func (l LogLevel) SlogLevel() slog.Level {
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

// Config is the root configuration.
type Config struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFile receives the logs while the terminal shows the video. Empty
	// logs to stderr.
	LogFile string `yaml:"log_file"`

	Playback PlaybackConfig `yaml:"playback"`
	Render   RenderConfig   `yaml:"render"`
	Audio    AudioConfig    `yaml:"audio"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PlaybackConfig tunes the scheduler.
type PlaybackConfig struct {
	// SpeedMin and SpeedMax bound the speed multiplier.
	SpeedMin float64 `yaml:"speed_min"`
	SpeedMax float64 `yaml:"speed_max"`

	// SpeedStep multiplies or divides the speed per key press. Must be > 1.
	SpeedStep float64 `yaml:"speed_step"`

	// SkipFrames is the distance of the skip keys.
	SkipFrames int `yaml:"skip_frames"`

	StartPaused bool `yaml:"start_paused"`

	// PauseInterval is the input polling period while paused.
	PauseInterval time.Duration `yaml:"pause_interval"`

	// FrameWait bounds how long a frame still being decoded is waited for.
	FrameWait time.Duration `yaml:"frame_wait"`

	// CacheSize is the number of converted frames kept behind the current one.
	CacheSize int `yaml:"cache_size"`

	// Prefetch is the number of frames converted ahead. It is also the
	// preroll: playback starts once this many frames are decoded.
	Prefetch int `yaml:"prefetch"`

	// Workers sizes the conversion pool. Zero selects GOMAXPROCS.
	Workers int `yaml:"workers"`
}

// RenderConfig controls glyph conversion and drawing.
type RenderConfig struct {
	// Charset names the glyph ramp: classic, simple, standard or extended.
	Charset string `yaml:"charset"`

	// Color draws each glyph in the average colour of its block.
	Color bool `yaml:"color"`

	// StatusLine draws the playback status under the picture.
	StatusLine bool `yaml:"status_line"`

	// SampleScale is the number of decoded pixels per cell side.
	SampleScale int `yaml:"sample_scale"`

	// Contrast scales brightness around mid-grey, 0.0 - 2.0. 1.0 leaves it
	// unchanged.
	Contrast float64 `yaml:"contrast"`

	// Brightness is added after contrast, -1.0 - 1.0.
	Brightness float64 `yaml:"brightness"`

	// ReverseVideo draws every cell in reverse video.
	ReverseVideo bool `yaml:"reverse_video"`
}

// AudioConfig controls the audio channel.
type AudioConfig struct {
	// Volume is the initial level, 0.0 - 1.0.
	Volume float64 `yaml:"volume"`

	// VolumeStep is the change per volume key press.
	VolumeStep float64 `yaml:"volume_step"`

	// DriftThreshold re-seeks audio that has drifted further than this from
	// the video. Zero disables drift correction.
	DriftThreshold time.Duration `yaml:"drift_threshold"`

	// ResyncAfterPause re-seeks audio on resume after a pause this long.
	ResyncAfterPause time.Duration `yaml:"resync_after_pause"`

	// Buffer is the output device buffer.
	Buffer time.Duration `yaml:"buffer"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. "127.0.0.1:9464".
	ListenAddr string `yaml:"listen_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Playback: PlaybackConfig{
			SpeedMin:      0.25,
			SpeedMax:      4.0,
			SpeedStep:     1.25,
			SkipFrames:    10,
			PauseInterval: 50 * time.Millisecond,
			FrameWait:     500 * time.Millisecond,
			CacheSize:     64,
			Prefetch:      8,
		},
		Render: RenderConfig{
			Charset:     "classic",
			StatusLine:  true,
			SampleScale: 2,
			Contrast:    1.0,
		},
		Audio: AudioConfig{
			Volume:           1.0,
			VolumeStep:       0.1,
			DriftThreshold:   250 * time.Millisecond,
			ResyncAfterPause: time.Second,
			Buffer:           50 * time.Millisecond,
		},
	}
}
