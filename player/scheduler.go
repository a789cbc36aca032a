package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"
)

// SchedulerConfig configures the playback loop
type SchedulerConfig struct {
	Width  int           // character grid width
	Height int           // character grid height
	Delay  time.Duration // base frame delay at speed 1.0

	SpeedMin  float64 // default 0.25
	SpeedMax  float64 // default 4.0
	SpeedStep float64 // multiplier per SpeedUp, default 1.25

	VolumeStep    float64 // default 0.1
	InitialVolume float64
	Muted         bool

	StartPaused   bool
	PauseInterval time.Duration // sleep per cycle while paused, default 50ms

	CacheSize int // converted frames kept behind the current one, default 64
	Prefetch  int // frames converted ahead, zero disables

	DriftThreshold   time.Duration // audio re-seek threshold, zero disables
	ResyncAfterPause time.Duration // re-seek audio after pauses at least this long

	MaxRenderFailures int // consecutive failed renders tolerated, default 3
}

func (c *SchedulerConfig) withDefaults() {
	if c.SpeedMin <= 0 {
		c.SpeedMin = 0.25
	}
	if c.SpeedMax < c.SpeedMin {
		c.SpeedMax = math.Max(4.0, c.SpeedMin)
	}
	if c.SpeedStep <= 1 {
		c.SpeedStep = 1.25
	}
	if c.VolumeStep <= 0 {
		c.VolumeStep = 0.1
	}
	if c.PauseInterval <= 0 {
		c.PauseInterval = 50 * time.Millisecond
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 64
	}
	if c.Prefetch < 0 {
		c.Prefetch = 0
	}
	if c.MaxRenderFailures <= 0 {
		c.MaxRenderFailures = 3
	}
	c.InitialVolume = clampUnit(c.InitialVolume)
}

// SchedulerDeps are the components the scheduler drives
type SchedulerDeps struct {
	Source     FrameSource
	Converter  *Converter
	Cache      *FrameCache  // nil creates a private cache
	Prefetcher *Prefetcher  // nil disables prefetch
	Renderer   FrameRenderer
	Input      Poller       // nil means no interactive control
	Audio      AudioChannel // nil plays video only
	Clock      Clock        // nil uses the wall clock
	Metrics    *Metrics
	Logger     *slog.Logger
}

// Scheduler is the playback loop. It owns the PlaybackState and is the only
// writer to the renderer and the only caller of the audio channel.
type Scheduler struct {
	cfg      SchedulerConfig
	timeline Timeline

	src      FrameSource
	conv     *Converter
	cache    *FrameCache
	prefetch *Prefetcher
	renderer FrameRenderer
	input    Poller
	audio    AudioChannel
	clock    Clock
	metrics  *Metrics
	log      *slog.Logger

	// guards state and ps for Snapshot/State callers on other goroutines
	mu    sync.Mutex
	state State
	ps    PlaybackState

	pausedAt       time.Time
	renderFailures int
}

// NewScheduler validates cfg and wires the components
func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) (*Scheduler, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	if cfg.Delay <= 0 {
		return nil, fmt.Errorf("frame delay must be positive, got %s", cfg.Delay)
	}
	if deps.Source == nil || deps.Renderer == nil {
		return nil, errors.New("scheduler needs a frame source and a renderer")
	}
	cfg.withDefaults()

	if deps.Converter == nil {
		deps.Converter = NewConverter(nil)
	}
	if deps.Cache == nil {
		deps.Cache = NewFrameCache()
	}
	if deps.Clock == nil {
		deps.Clock = wallClock{}
	}
	if deps.Metrics == nil {
		deps.Metrics = DefaultMetrics()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &Scheduler{
		cfg:      cfg,
		timeline: Timeline{Step: cfg.Delay},
		src:      deps.Source,
		conv:     deps.Converter,
		cache:    deps.Cache,
		prefetch: deps.Prefetcher,
		renderer: deps.Renderer,
		input:    deps.Input,
		audio:    deps.Audio,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		log:      deps.Logger,
		state:    StatePlaying,
		ps: PlaybackState{
			Speed:  1.0,
			Volume: cfg.InitialVolume,
			Muted:  cfg.Muted,
		},
	}
	s.ps.Speed = s.clampSpeed(1.0)
	if cfg.StartPaused {
		s.state = StatePaused
		s.ps.Paused = true
		s.pausedAt = s.clock.Now()
	}
	return s, nil
}

// State returns the state machine position
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a copy of the playback state
func (s *Scheduler) Snapshot() PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ps
}

// Run plays until Quit, the end of the frames, ctx cancellation or a fatal
// error. Audio is paused before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startAudio()
	defer s.terminate()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		// 1. input, applied between renders only
		if s.applyInput(ctx) {
			s.log.Info("playback stopped by user", "index", s.Snapshot().Index)
			return nil
		}

		// 2. paused: keep polling, don't advance
		if s.State() == StatePaused {
			if err := s.clock.Sleep(ctx, s.cfg.PauseInterval); err != nil {
				return err
			}
			continue
		}

		// 3. fetch, convert, render
		start := s.clock.Now()
		if err := s.show(ctx); err != nil {
			switch {
			case errors.Is(err, ErrFrameNotReady):
				s.log.Debug("waiting for decoder", "index", s.Snapshot().Index)
				continue
			case errors.Is(err, ErrFrameOutOfRange) && s.src.Complete() && s.Snapshot().Index >= s.src.Len():
				s.log.Info("playback finished", "frames", s.src.Len())
				return nil
			case errors.Is(err, ErrFrameOutOfRange):
				return fmt.Errorf("internal: frame index escaped clamping: %w", err)
			default:
				return err
			}
		}
		s.checkDrift(ctx)
		s.prefetchAhead()

		// 4. cadence
		deadline := start.Add(s.cadence())
		if wait := deadline.Sub(s.clock.Now()); wait > 0 {
			if err := s.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		} else {
			s.metrics.CadenceOverruns.Add(ctx, 1)
		}

		// 5. advance
		if s.advance() {
			s.log.Info("playback finished", "frames", s.src.Len())
			return nil
		}
	}
}

func (s *Scheduler) cadence() time.Duration {
	s.mu.Lock()
	speed := s.ps.Speed
	s.mu.Unlock()
	return time.Duration(float64(s.cfg.Delay) / speed)
}

func (s *Scheduler) startAudio() {
	if s.audio == nil {
		return
	}
	ps := s.Snapshot()
	s.audio.SetVolume(ps.Volume)
	s.audio.SetMuted(ps.Muted)
	s.audio.SetSpeed(ps.Speed)
	s.audio.SeekTo(s.timeline.Timestamp(ps.Index))
	if !ps.Paused {
		s.audio.Play()
	}
}

func (s *Scheduler) terminate() {
	s.mu.Lock()
	s.state = StateTerminated
	s.mu.Unlock()

	if s.audio != nil {
		s.audio.Pause()
	}
}

// maxCommandsPerCycle bounds the commands drained in one cycle so a flood of
// input cannot starve rendering.
const maxCommandsPerCycle = 64

// applyInput drains pending commands and reports whether Quit was seen
func (s *Scheduler) applyInput(ctx context.Context) bool {
	if s.input == nil {
		return false
	}
	for range maxCommandsPerCycle {
		cmd, ok := s.input.Poll()
		if !ok {
			return false
		}
		s.metrics.recordCommand(ctx, cmd)
		if s.apply(ctx, cmd) {
			return true
		}
	}
	return false
}

// apply updates the playback state for cmd and forwards audio-side effects.
// It returns true for Quit.
func (s *Scheduler) apply(ctx context.Context, cmd Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case CmdQuit:
		s.state = StateTerminated
		return true

	case CmdTogglePause:
		now := s.clock.Now()
		if s.state == StatePlaying {
			s.state = StatePaused
			s.ps.Paused = true
			s.pausedAt = now
			if s.audio != nil {
				s.audio.Pause()
			}
		} else {
			s.state = StatePlaying
			s.ps.Paused = false
			if s.audio != nil {
				if now.Sub(s.pausedAt) >= s.cfg.ResyncAfterPause && s.cfg.ResyncAfterPause > 0 {
					s.audio.SeekTo(s.timeline.Timestamp(s.ps.Index))
					s.metrics.recordResync(ctx, "resume")
				}
				s.audio.Play()
			}
		}

	case CmdSpeedUp, CmdSpeedDown:
		speed := s.ps.Speed * s.cfg.SpeedStep
		if cmd.Kind == CmdSpeedDown {
			speed = s.ps.Speed / s.cfg.SpeedStep
		}
		s.ps.Speed = s.clampSpeed(speed)
		if s.audio != nil {
			s.audio.SetSpeed(s.ps.Speed)
		}

	case CmdSkipForward, CmdSkipBackward:
		n := cmd.N
		if cmd.Kind == CmdSkipBackward {
			n = -n
		}
		target := s.clampIndex(s.ps.Index + n)
		if target != s.ps.Index {
			s.ps.Index = target
			if s.audio != nil {
				s.audio.SeekTo(s.timeline.Timestamp(target))
				s.metrics.recordResync(ctx, "skip")
			}
		}

	case CmdToggleMute:
		s.ps.Muted = !s.ps.Muted
		if s.audio != nil {
			s.audio.SetMuted(s.ps.Muted)
		}

	case CmdVolumeUp, CmdVolumeDown:
		step := s.cfg.VolumeStep
		if cmd.Kind == CmdVolumeDown {
			step = -step
		}
		// round away float drift from repeated steps
		s.ps.Volume = clampUnit(math.Round((s.ps.Volume+step)*1000) / 1000)
		if s.audio != nil {
			s.audio.SetVolume(s.ps.Volume)
		}
	}
	return false
}

func (s *Scheduler) clampSpeed(v float64) float64 {
	return math.Max(s.cfg.SpeedMin, math.Min(s.cfg.SpeedMax, v))
}

// clampIndex limits i to the frames decoded so far
func (s *Scheduler) clampIndex(i int) int {
	last := s.src.Len() - 1
	if i > last {
		i = last
	}
	if i < 0 {
		i = 0
	}
	return i
}

// show draws the current frame, converting it inline on a cache miss
func (s *Scheduler) show(ctx context.Context) error {
	ps := s.Snapshot()
	idx := ps.Index

	af, hit := s.cache.Get(idx)
	s.metrics.recordCacheLookup(ctx, hit)
	if !hit {
		f, err := s.src.Get(ctx, idx)
		if err != nil {
			return err
		}
		start := time.Now()
		af, err = s.conv.Convert(f, s.cfg.Width, s.cfg.Height)
		if err != nil {
			return fmt.Errorf("failed to convert frame %d: %w", idx, err)
		}
		s.metrics.recordConvert(ctx, "inline", time.Since(start))
		af = s.cache.Put(idx, af)
	}

	status := Status{
		PlaybackState: ps,
		Total:         s.src.Len(),
		Complete:      s.src.Complete(),
		Silent:        s.audio == nil,
	}

	start := time.Now()
	if err := s.renderer.Render(af, status); err != nil {
		s.renderFailures++
		if s.renderFailures >= s.cfg.MaxRenderFailures {
			return fmt.Errorf("giving up after %d failed renders: %w", s.renderFailures, err)
		}
		s.log.Warn("render failed, skipping frame", "index", idx, "err", err)
		return nil
	}
	s.renderFailures = 0
	s.metrics.RenderDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.FramesRendered.Add(ctx, 1)

	s.cache.Trim(idx-s.cfg.CacheSize, idx+s.cfg.Prefetch)
	return nil
}

func (s *Scheduler) prefetchAhead() {
	if s.prefetch == nil || s.cfg.Prefetch == 0 {
		return
	}
	idx := s.Snapshot().Index
	n := s.src.Len()
	for i := idx + 1; i <= idx+s.cfg.Prefetch && i < n; i++ {
		if !s.prefetch.Request(i) {
			break
		}
	}
}

// checkDrift re-seeks audio when it has wandered too far from the video
func (s *Scheduler) checkDrift(ctx context.Context) {
	if s.audio == nil || s.cfg.DriftThreshold <= 0 {
		return
	}
	want := s.timeline.Timestamp(s.Snapshot().Index)
	drift := s.audio.Position() - want
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.DriftThreshold {
		s.log.Debug("audio drift, re-seeking", "drift", drift, "want", want)
		s.audio.SeekTo(want)
		s.metrics.recordResync(ctx, "drift")
	}
}

// advance moves to the next frame and reports whether the video is over
func (s *Scheduler) advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.ps.Index + 1
	if s.src.Complete() && next > s.src.Len()-1 {
		s.state = StateTerminated
		return true
	}
	s.ps.Index = next
	return false
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

func (wallClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
