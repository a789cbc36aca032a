package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"go.opentelemetry.io/otel"

	"github.com/njyeung/asciiplay/config"
	"github.com/njyeung/asciiplay/media"
	"github.com/njyeung/asciiplay/observe"
	"github.com/njyeung/asciiplay/player"
	"github.com/njyeung/asciiplay/tui"
)

var version = "dev"

const usage = `usage: asciiplay [flags] <video>

Plays a video as ASCII art in the terminal.

Keys: q/Esc quit, p/space pause, left/right speed, up/down skip,
m mute, +/- volume.

Flags:
`

func main() {
	os.Exit(run())
}

func run() int {
	var (
		input      = flag.String("input", "", "video file to play (or the first argument)")
		audio      = flag.Bool("audio", false, "play the audio track")
		configPath = flag.String("config", "", "YAML configuration file")
		width      = flag.Int("width", 0, "ASCII width in columns (prompted if unset)")
		height     = flag.Int("height", 0, "ASCII height in rows (prompted if unset)")
		delay      = flag.Int("delay", 0, "frame delay in milliseconds (prompted if unset)")
		invert     = flag.Bool("invert", false, "invert brightness")
		noInvert   = flag.Bool("no-invert", false, "do not invert brightness")
		charset    = flag.String("charset", "", "glyph set: "+fmt.Sprint(player.RampNames()))
		color      = flag.Bool("color", false, "draw glyphs in colour")
		contrast   = flag.Float64("contrast", 1, "contrast multiplier around mid-grey, 0 to 2")
		brightness = flag.Float64("brightness", 0, "brightness offset, -1 to 1")
		reverse    = flag.Bool("reverse", false, "draw in reverse video")
	)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	path := *input
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		flag.Usage()
		return 2
	}
	if *invert && *noInvert {
		fmt.Fprintln(os.Stderr, "Error: --invert and --no-invert are mutually exclusive")
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	}
	if *charset != "" {
		cfg.Render.Charset = *charset
	}
	if *color {
		cfg.Render.Color = true
	}
	if *reverse {
		cfg.Render.ReverseVideo = true
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "contrast":
			cfg.Render.Contrast = *contrast
		case "brightness":
			cfg.Render.Brightness = *brightness
		}
	})
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.ListenAddr != "" {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics: %v\n", err)
			return 1
		}
		defer shutdown(context.Background())

		stopServer, err := observe.Serve(ctx, cfg.Metrics.ListenAddr, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: metrics: %v\n", err)
			return 1
		}
		defer stopServer()
	}
	metrics, err := player.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: metrics: %v\n", err)
		return 1
	}

	preset := tui.Preset{Width: *width, Height: *height, DelayMS: *delay}
	switch {
	case *invert:
		preset.Invert = invert
	case *noInvert:
		no := false
		preset.Invert = &no
	}
	if !preset.Complete() && !isatty.IsTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(os.Stderr, "Error: stdin is not a terminal; pass --width, --height, --delay and --invert or --no-invert")
		return 2
	}

	settings, err := tui.RunSetup(ctx, preset)
	if errors.Is(err, tui.ErrAborted) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	src, err := media.Open(path, media.Options{
		Width:  settings.Width,
		Height: settings.Height,
		Scale:  cfg.Render.SampleScale,
		Delay:  settings.Delay,
		Audio:  *audio,
		Logger: logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, tui.FormatError(err))
		return 1
	}
	defer src.Close()

	info := src.Info()
	logger.Info("video opened", "path", path, "info", info)

	ramp, err := player.RampByName(cfg.Render.Charset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 2
	}
	conv := player.NewConverter(ramp,
		player.WithInvert(settings.Invert),
		player.WithColor(cfg.Render.Color),
		player.WithReverseVideo(cfg.Render.ReverseVideo),
		player.WithContrast(cfg.Render.Contrast),
		player.WithBrightness(cfg.Render.Brightness),
	)

	p := player.New(src, conv, player.Config{
		Scheduler: player.SchedulerConfig{
			Width:            settings.Width,
			Height:           settings.Height,
			Delay:            settings.Delay,
			SpeedMin:         cfg.Playback.SpeedMin,
			SpeedMax:         cfg.Playback.SpeedMax,
			SpeedStep:        cfg.Playback.SpeedStep,
			VolumeStep:       cfg.Audio.VolumeStep,
			InitialVolume:    cfg.Audio.Volume,
			StartPaused:      cfg.Playback.StartPaused,
			PauseInterval:    cfg.Playback.PauseInterval,
			CacheSize:        cfg.Playback.CacheSize,
			Prefetch:         cfg.Playback.Prefetch,
			DriftThreshold:   cfg.Audio.DriftThreshold,
			ResyncAfterPause: cfg.Audio.ResyncAfterPause,
		},
		SkipFrames:  cfg.Playback.SkipFrames,
		FrameWait:   cfg.Playback.FrameWait,
		Workers:     cfg.Playback.Workers,
		StatusLine:  cfg.Render.StatusLine,
		Audio:       *audio,
		AudioBuffer: cfg.Audio.Buffer,
		Preroll:     tui.Preroll("decoding "+filepath.Base(path), info.Summary()),
		Metrics:     metrics,
		Logger:      logger,
	})

	start := time.Now()
	err = p.Play(ctx)
	switch {
	case err == nil, errors.Is(err, tui.ErrAborted):
		logger.Info("exiting", "elapsed", time.Since(start))
		return 0
	default:
		fmt.Fprintln(os.Stderr, tui.FormatError(err))
		return 1
	}
}

// newLogger logs to cfg.LogFile, or to stderr when none is set. The screen
// belongs to the video during playback, so stderr only receives warnings
// and errors.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := cfg.LogLevel.SlogLevel()

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	} else if level < slog.LevelWarn {
		level = slog.LevelWarn
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	return logger, closeFn, nil
}
