// Command snapshot prints one frame of a video as ASCII art.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/njyeung/asciiplay/media"
	"github.com/njyeung/asciiplay/player"
)

// sampling step for locating the requested time
const step = 40 * time.Millisecond

func main() {
	var (
		input      = flag.String("input", "", "video file (or the first argument)")
		at         = flag.Duration("at", 0, "time of the frame, e.g. 12.5s")
		width      = flag.Int("width", 80, "ASCII width in columns")
		height     = flag.Int("height", 40, "ASCII height in rows")
		charset    = flag.String("charset", "classic", "glyph set: "+fmt.Sprint(player.RampNames()))
		invert     = flag.Bool("invert", false, "invert brightness")
		color      = flag.Bool("color", false, "draw glyphs in colour")
		reverse    = flag.Bool("reverse", false, "draw in reverse video")
		contrast   = flag.Float64("contrast", 1, "contrast multiplier around mid-grey, 0 to 2")
		brightness = flag.Float64("brightness", 0, "brightness offset, -1 to 1")
		scale      = flag.Int("scale", media.DefaultScale, "sampled pixels per cell side")
		wait       = flag.Duration("timeout", 30*time.Second, "how long to decode before giving up")
	)
	flag.Parse()

	path := *input
	if path == "" && flag.NArg() > 0 {
		path = flag.Arg(0)
	}
	if path == "" {
		fmt.Fprintln(os.Stderr, "usage: snapshot [flags] <video>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	ramp, err := player.RampByName(*charset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	conv := player.NewConverter(ramp,
		player.WithInvert(*invert),
		player.WithColor(*color),
		player.WithReverseVideo(*reverse),
		player.WithContrast(*contrast),
		player.WithBrightness(*brightness),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	frame, err := snapshot(ctx, path, *at, *width, *height, *scale, *wait, conv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
	if err := player.WriteFrame(os.Stdout, frame); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func snapshot(ctx context.Context, path string, at time.Duration, w, h, scale int, wait time.Duration, conv *player.Converter) (*player.AsciiFrame, error) {
	src, err := media.Open(path, media.Options{
		Width:  w,
		Height: h,
		Scale:  scale,
		Delay:  step,
		Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	ctx, cancel := context.WithCancel(ctx)
	store := player.NewFrameStore(wait)
	decoded := make(chan error, 1)
	go func() {
		decoded <- src.Run(ctx, store, nil)
	}()
	defer func() {
		cancel()
		<-decoded
	}()

	index := player.Timeline{Step: step}.IndexAt(at)
	raw, err := store.Get(ctx, index)
	if errors.Is(err, player.ErrFrameOutOfRange) && store.Len() > 0 {
		// past the end: show the last frame
		raw, err = store.Get(ctx, store.Len()-1)
	}
	if err != nil {
		if derr := store.Err(); derr != nil {
			return nil, derr
		}
		return nil, fmt.Errorf("frame at %s: %w", at, err)
	}

	return conv.Convert(raw, w, h)
}
