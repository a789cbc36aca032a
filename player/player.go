package player

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
)

// Decoder fills a FrameStore and optionally a PCMBuffer from a media file.
// Run must finish both before returning.
type Decoder interface {
	Run(ctx context.Context, store *FrameStore, pcm *PCMBuffer) error
	HasAudio() bool
}

// PrerollFunc waits for ready to return before playback starts. It lets the
// caller show a loading screen meanwhile.
type PrerollFunc func(ctx context.Context, ready func(context.Context) error) error

// Config configures a Player
type Config struct {
	Scheduler SchedulerConfig

	SkipFrames int
	FrameWait  time.Duration
	Workers    int // prefetch workers, zero selects GOMAXPROCS
	StatusLine bool

	Audio       bool
	AudioBuffer time.Duration
	AudioDevice Device // nil selects the system speaker

	In  *os.File  // raw-mode input, default os.Stdin
	Out io.Writer // frame output, default os.Stdout

	Preroll PrerollFunc
	Metrics *Metrics
	Logger  *slog.Logger
}

// Player runs one playback from decoder start to terminal restore
type Player struct {
	dec  Decoder
	conv *Converter
	cfg  Config
	log  *slog.Logger
}

// New creates a Player for dec converting frames with conv
func New(dec Decoder, conv *Converter, cfg Config) *Player {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Metrics == nil {
		cfg.Metrics = DefaultMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if conv == nil {
		conv = NewConverter(nil)
	}
	return &Player{
		dec:  dec,
		conv: conv,
		cfg:  cfg,
		log:  cfg.Logger,
	}
}

// Play decodes, waits for the preroll, takes over the terminal and runs the
// scheduler until Quit or the end of the video. Every resource acquired is
// released on return, whichever way playback ends. Cancelling ctx stops
// playback without an error.
func (p *Player) Play(ctx context.Context) (err error) {
	log := p.log.With("session", uuid.NewString())
	sc := p.cfg.Scheduler

	if sc.Width <= 0 || sc.Height <= 0 {
		return fmt.Errorf("%w: grid %dx%d", ErrInvalidDimensions, sc.Width, sc.Height)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	store := NewFrameStore(p.cfg.FrameWait)
	var pcm *PCMBuffer
	if p.cfg.Audio && p.dec.HasAudio() {
		pcm = NewPCMBuffer()
	}

	decoded := make(chan error, 1)
	go func() {
		decoded <- p.dec.Run(ctx, store, pcm)
	}()
	defer func() {
		cancel()
		if derr := <-decoded; derr != nil && !errors.Is(derr, context.Canceled) {
			log.Warn("decoding stopped early", "err", derr)
		}
	}()

	preroll := max(sc.Prefetch, 1)
	ready := func(ctx context.Context) error {
		return store.WaitFor(ctx, preroll)
	}
	if p.cfg.Preroll != nil {
		err = p.cfg.Preroll(ctx, ready)
	} else {
		err = ready(ctx)
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return err
	}
	if store.Len() == 0 {
		if derr := store.Err(); derr != nil {
			return derr
		}
		return errors.New("no video frames decoded")
	}
	log.Info("preroll finished", "frames", store.Len(), "complete", store.Complete())

	var audio AudioChannel
	switch {
	case pcm != nil:
		ch, aerr := OpenSpeakerChannel(pcm, AudioConfig{
			Device: p.cfg.AudioDevice,
			Buffer: p.cfg.AudioBuffer,
			Volume: sc.InitialVolume,
			Muted:  sc.Muted,
			Logger: log,
		})
		if aerr != nil {
			log.Warn("audio unavailable, playing video only", "err", aerr)
			break
		}
		audio = ch
		defer ch.Close()
	case p.cfg.Audio:
		log.Warn("input has no audio, playing video only")
	}

	term, err := OpenTerminal(p.cfg.In, p.cfg.Out)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := term.Restore(); rerr != nil {
			err = errors.Join(err, rerr)
		}
	}()

	cache := NewFrameCache()
	if err := p.warm(ctx, store, cache); err != nil {
		return err
	}
	prefetch := NewPrefetcher(ctx, store, p.conv, cache, PrefetchConfig{
		Width:   sc.Width,
		Height:  sc.Height,
		Workers: p.cfg.Workers,
		Queue:   sc.Prefetch * 2,
		Metrics: p.cfg.Metrics,
		Logger:  log,
	})
	defer prefetch.Close()

	renderer := NewTextRenderer(p.cfg.Out,
		WithTerminalSize(TerminalSizeFunc(int(p.cfg.In.Fd()))),
		WithStatusLine(p.cfg.StatusLine),
	)

	sched, err := NewScheduler(sc, SchedulerDeps{
		Source:     store,
		Converter:  p.conv,
		Cache:      cache,
		Prefetcher: prefetch,
		Renderer:   renderer,
		Input:      NewKeyPoller(p.cfg.In, p.cfg.SkipFrames),
		Audio:      audio,
		Metrics:    p.cfg.Metrics,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// warm converts the preroll batch in parallel so the first frames drawn
// never convert inline
func (p *Player) warm(ctx context.Context, store *FrameStore, cache *FrameCache) error {
	sc := p.cfg.Scheduler
	n := min(store.Len(), sc.Prefetch)
	if n <= 0 {
		return nil
	}
	frames := make([]*RawFrame, n)
	for i := range frames {
		f, err := store.Get(ctx, i)
		if err != nil {
			return err
		}
		frames[i] = f
	}

	start := time.Now()
	converted, err := p.conv.ConvertAll(ctx, frames, sc.Width, sc.Height, p.cfg.Workers)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to convert preroll frames: %w", err)
	}
	p.cfg.Metrics.recordConvert(ctx, "preroll", time.Since(start))
	for i, af := range converted {
		cache.Put(i, af)
	}
	return nil
}
