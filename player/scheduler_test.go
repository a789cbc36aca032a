package player

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type schedFixture struct {
	clock    *fakeClock
	renderer *fakeRenderer
	reader   *sdkmetric.ManualReader
	sched    *Scheduler
	start    time.Time
}

// newSchedFixture builds a scheduler over n decoded frames with a fake clock.
// Grid and delay default to 4x2 and 100ms.
func newSchedFixture(t *testing.T, n int, cfg SchedulerConfig, input Poller, audio AudioChannel) *schedFixture {
	t.Helper()

	if cfg.Width == 0 {
		cfg.Width, cfg.Height = 4, 2
	}
	if cfg.Delay == 0 {
		cfg.Delay = 100 * time.Millisecond
	}

	clock := newFakeClock()
	renderer := &fakeRenderer{clock: clock}
	metrics, reader := testMetrics(t)

	sched, err := NewScheduler(cfg, SchedulerDeps{
		Source:   NewFrameStoreFrom(grayFrames(n, 8, 4)),
		Renderer: renderer,
		Input:    input,
		Audio:    audio,
		Clock:    clock,
		Metrics:  metrics,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return &schedFixture{
		clock:    clock,
		renderer: renderer,
		reader:   reader,
		sched:    sched,
		start:    clock.Now(),
	}
}

func (f *schedFixture) run(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return f.sched.Run(ctx)
}

func batches(b ...[]Command) *scriptPoller {
	return &scriptPoller{batches: b}
}

func cmds(kinds ...CommandKind) []Command {
	out := make([]Command, len(kinds))
	for i, k := range kinds {
		out[i] = Command{Kind: k}
	}
	return out
}

func TestSchedulerPlaysToEnd(t *testing.T) {
	t.Parallel()

	f := newSchedFixture(t, 3, SchedulerConfig{}, nil, nil)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := f.renderer.indices(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Fatalf("rendered %v", got)
	}
	for i, c := range f.renderer.calls {
		if want := f.start.Add(time.Duration(i) * 100 * time.Millisecond); !c.at.Equal(want) {
			t.Errorf("frame %d at %v, want %v", i, c.at.Sub(f.start), want.Sub(f.start))
		}
		if !c.status.Silent || c.status.Total != 3 || !c.status.Complete {
			t.Errorf("frame %d status: %+v", i, c.status)
		}
	}
	if f.sched.State() != StateTerminated {
		t.Errorf("state: %v", f.sched.State())
	}
	if got := counterValue(t, f.reader, "asciiplay.frames.rendered"); got != 3 {
		t.Errorf("frames rendered metric: %d", got)
	}
}

func TestSchedulerSkip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cmd  Command
		want []int
	}{
		{"forward clamps to last", Command{Kind: CmdSkipForward, N: 10}, []int{0, 1, 4}},
		{"forward", Command{Kind: CmdSkipForward, N: 1}, []int{0, 1, 3, 4}},
		{"backward clamps to first", Command{Kind: CmdSkipBackward, N: 10}, []int{0, 1, 0, 1, 2, 3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			audio := &fakeAudio{}
			input := batches(nil, nil, []Command{tt.cmd})
			f := newSchedFixture(t, 5, SchedulerConfig{}, input, audio)
			if err := f.run(t); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := f.renderer.indices(); !slices.Equal(got, tt.want) {
				t.Errorf("rendered %v, want %v", got, tt.want)
			}

			// start position, then the skip target
			seeks := audio.seekLog()
			target := time.Duration(tt.want[2]) * 100 * time.Millisecond
			if len(seeks) != 2 || seeks[0] != 0 || seeks[1] != target {
				t.Errorf("audio seeks %v, want [0 %v]", seeks, target)
			}
		})
	}
}

func TestSchedulerSpeedSaturates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kind  CommandKind
		speed float64
		wait  time.Duration
	}{
		{"up", CmdSpeedUp, 4, 25 * time.Millisecond},
		{"down", CmdSpeedDown, 0.25, 400 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			presses := make([]Command, 20)
			for i := range presses {
				presses[i] = Command{Kind: tt.kind}
			}
			audio := &fakeAudio{}
			f := newSchedFixture(t, 100, SchedulerConfig{}, batches(presses, cmds(CmdQuit)), audio)
			if err := f.run(t); err != nil {
				t.Fatalf("Run: %v", err)
			}

			if got := f.sched.Snapshot().Speed; got != tt.speed {
				t.Errorf("speed: got %v, want %v", got, tt.speed)
			}
			if audio.speed != tt.speed {
				t.Errorf("audio speed: got %v", audio.speed)
			}
			if got := f.clock.Now().Sub(f.start); got != tt.wait {
				t.Errorf("cadence: got %v, want %v", got, tt.wait)
			}
		})
	}
}

func TestSchedulerPauseResume(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{}
	input := batches(
		nil,
		cmds(CmdTogglePause),
		nil,
		nil,
		cmds(CmdTogglePause),
		cmds(CmdQuit),
	)
	f := newSchedFixture(t, 10, SchedulerConfig{
		PauseInterval:    50 * time.Millisecond,
		ResyncAfterPause: 100 * time.Millisecond,
	}, input, audio)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// nothing drawn or advanced while paused
	if got := f.renderer.indices(); !slices.Equal(got, []int{0, 1}) {
		t.Errorf("rendered %v", got)
	}
	// paused at 100ms, resumed at 250ms
	if got := f.renderer.calls[1].at.Sub(f.start); got != 250*time.Millisecond {
		t.Errorf("resumed frame drawn at %v", got)
	}
	if seeks := audio.seekLog(); !slices.Equal(seeks, []time.Duration{0, 100 * time.Millisecond}) {
		t.Errorf("audio seeks %v", seeks)
	}
	if audio.playing {
		t.Error("audio still playing after Run")
	}
	if got := counterValue(t, f.reader, "asciiplay.audio.resyncs", attribute.String("reason", "resume")); got != 1 {
		t.Errorf("resume resyncs: %d", got)
	}
}

func TestSchedulerDoubleToggleInOneCycle(t *testing.T) {
	t.Parallel()

	input := batches(cmds(CmdTogglePause, CmdTogglePause), cmds(CmdQuit))
	f := newSchedFixture(t, 10, SchedulerConfig{}, input, nil)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.renderer.indices(); !slices.Equal(got, []int{0}) {
		t.Errorf("rendered %v", got)
	}
	if got := f.clock.Now().Sub(f.start); got != 100*time.Millisecond {
		t.Errorf("elapsed %v, want one frame delay", got)
	}
	if f.sched.Snapshot().Paused {
		t.Error("still paused")
	}
}

func TestSchedulerStartPaused(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{}
	input := batches(nil, cmds(CmdTogglePause), cmds(CmdQuit))
	f := newSchedFixture(t, 10, SchedulerConfig{StartPaused: true}, input, audio)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.renderer.indices(); !slices.Equal(got, []int{0}) {
		t.Errorf("rendered %v", got)
	}
}

func TestSchedulerQuit(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{}
	f := newSchedFixture(t, 10, SchedulerConfig{}, batches(cmds(CmdQuit, CmdTogglePause)), audio)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(f.renderer.calls) != 0 {
		t.Errorf("rendered %v after Quit", f.renderer.indices())
	}
	if f.sched.State() != StateTerminated {
		t.Errorf("state: %v", f.sched.State())
	}
	// commands after Quit in the same batch are not applied
	if f.sched.Snapshot().Paused {
		t.Error("command after Quit was applied")
	}
	if audio.playing {
		t.Error("audio still playing")
	}
}

func TestSchedulerVolumeAndMute(t *testing.T) {
	t.Parallel()

	audio := &fakeAudio{}
	up := cmds(CmdVolumeUp, CmdVolumeUp, CmdVolumeUp, CmdVolumeUp, CmdVolumeUp, CmdVolumeUp, CmdToggleMute)
	f := newSchedFixture(t, 10, SchedulerConfig{InitialVolume: 0.5}, batches(up, cmds(CmdQuit)), audio)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	ps := f.sched.Snapshot()
	if ps.Volume != 1 || !ps.Muted {
		t.Errorf("state: volume=%v muted=%v", ps.Volume, ps.Muted)
	}
	if audio.volume != 1 || !audio.muted {
		t.Errorf("audio: volume=%v muted=%v", audio.volume, audio.muted)
	}
	st := f.renderer.calls[0].status
	if st.Silent || !st.Muted || st.Volume != 1 {
		t.Errorf("status: %+v", st)
	}

	down := make([]Command, 13)
	for i := range down {
		down[i] = Command{Kind: CmdVolumeDown}
	}
	f = newSchedFixture(t, 10, SchedulerConfig{InitialVolume: 0.3}, batches(down, cmds(CmdQuit)), nil)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := f.sched.Snapshot().Volume; got != 0 {
		t.Errorf("volume: got %v, want 0", got)
	}
}

func TestSchedulerAudioDrift(t *testing.T) {
	t.Parallel()

	// the fake audio position only moves on seeks, so it falls behind by
	// one frame every cycle
	audio := &fakeAudio{}
	f := newSchedFixture(t, 5, SchedulerConfig{DriftThreshold: 50 * time.Millisecond}, nil, audio)
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 400 * time.Millisecond}
	if seeks := audio.seekLog(); !slices.Equal(seeks, want) {
		t.Errorf("audio seeks %v, want %v", seeks, want)
	}
	if got := counterValue(t, f.reader, "asciiplay.audio.resyncs", attribute.String("reason", "drift")); got != 4 {
		t.Errorf("drift resyncs: %d", got)
	}
}

func TestSchedulerRenderFailures(t *testing.T) {
	t.Parallel()

	t.Run("transient", func(t *testing.T) {
		t.Parallel()
		f := newSchedFixture(t, 3, SchedulerConfig{}, nil, nil)
		f.renderer.fail = func(n int) error {
			if n == 1 {
				return errors.New("resize in progress")
			}
			return nil
		}
		if err := f.run(t); err != nil {
			t.Fatalf("Run: %v", err)
		}
		if got := f.renderer.indices(); !slices.Equal(got, []int{0, -1, 2}) {
			t.Errorf("render calls %v", got)
		}
	})

	t.Run("persistent", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("terminal gone")
		f := newSchedFixture(t, 10, SchedulerConfig{MaxRenderFailures: 2}, nil, nil)
		f.renderer.fail = func(int) error { return boom }

		err := f.run(t)
		if !errors.Is(err, boom) || !strings.Contains(err.Error(), "giving up after 2") {
			t.Fatalf("got %v", err)
		}
		if f.sched.State() != StateTerminated {
			t.Errorf("state: %v", f.sched.State())
		}
	})
}

func TestSchedulerCadenceOverrun(t *testing.T) {
	t.Parallel()

	f := newSchedFixture(t, 3, SchedulerConfig{}, nil, nil)
	f.renderer.cost = 150 * time.Millisecond
	if err := f.run(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// late frames are shown back to back, none are dropped
	if got := f.renderer.indices(); !slices.Equal(got, []int{0, 1, 2}) {
		t.Errorf("rendered %v", got)
	}
	if got := counterValue(t, f.reader, "asciiplay.cadence.overruns"); got != 3 {
		t.Errorf("overruns: got %d, want 3", got)
	}
}

func TestSchedulerContextCancel(t *testing.T) {
	t.Parallel()

	f := newSchedFixture(t, 10, SchedulerConfig{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := f.sched.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestNewSchedulerValidation(t *testing.T) {
	t.Parallel()

	store := NewFrameStoreFrom(grayFrames(1, 1, 1))
	renderer := &fakeRenderer{clock: newFakeClock()}

	tests := []struct {
		name    string
		cfg     SchedulerConfig
		deps    SchedulerDeps
		wantDim bool
	}{
		{"zero width", SchedulerConfig{Width: 0, Height: 2, Delay: time.Millisecond}, SchedulerDeps{Source: store, Renderer: renderer}, true},
		{"negative height", SchedulerConfig{Width: 2, Height: -1, Delay: time.Millisecond}, SchedulerDeps{Source: store, Renderer: renderer}, true},
		{"zero delay", SchedulerConfig{Width: 2, Height: 2}, SchedulerDeps{Source: store, Renderer: renderer}, false},
		{"no renderer", SchedulerConfig{Width: 2, Height: 2, Delay: time.Millisecond}, SchedulerDeps{Source: store}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewScheduler(tt.cfg, tt.deps)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalidDimensions); got != tt.wantDim {
				t.Errorf("ErrInvalidDimensions=%v for %v", got, err)
			}
		})
	}
}
