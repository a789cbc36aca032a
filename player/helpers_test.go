package player

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// solidFrame returns a w x h frame filled with one colour
func solidFrame(w, h int, r, g, b uint8) *RawFrame {
	rgb := make([]byte, w*h*3)
	for i := 0; i < len(rgb); i += 3 {
		rgb[i], rgb[i+1], rgb[i+2] = r, g, b
	}
	return &RawFrame{RGB: rgb, Width: w, Height: h}
}

// grayFrames returns n solid frames of increasing brightness
func grayFrames(n, w, h int) []*RawFrame {
	frames := make([]*RawFrame, n)
	for i := range frames {
		v := uint8(i * 255 / max(n-1, 1))
		frames[i] = solidFrame(w, h, v, v, v)
	}
	return frames
}

// testMetrics returns instruments recording into a manual reader
func testMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// fakeClock advances only when slept on
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// renderCall is one recorded Render
type renderCall struct {
	index  int
	at     time.Time
	status Status
}

// fakeRenderer records every frame it is asked to draw. cost advances the
// clock per render to simulate slow terminals.
type fakeRenderer struct {
	mu    sync.Mutex
	clock *fakeClock
	cost  time.Duration
	fail  func(n int) error
	calls []renderCall
}

func (r *fakeRenderer) Render(f *AsciiFrame, st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fail != nil {
		if err := r.fail(len(r.calls)); err != nil {
			r.calls = append(r.calls, renderCall{index: -1})
			return err
		}
	}
	r.calls = append(r.calls, renderCall{index: f.Index, at: r.clock.Now(), status: st})
	if r.cost > 0 {
		r.clock.Advance(r.cost)
	}
	return nil
}

func (r *fakeRenderer) indices() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, 0, len(r.calls))
	for _, c := range r.calls {
		out = append(out, c.index)
	}
	return out
}

// scriptPoller returns one batch of commands per scheduler cycle. A cycle
// ends when Poll reports no command.
type scriptPoller struct {
	mu      sync.Mutex
	batches [][]Command
	pos     int
}

func (p *scriptPoller) Poll() (Command, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.batches) == 0 {
		return Command{}, false
	}
	if p.pos < len(p.batches[0]) {
		cmd := p.batches[0][p.pos]
		p.pos++
		return cmd, true
	}
	p.batches = p.batches[1:]
	p.pos = 0
	return Command{}, false
}

// fakeAudio records the calls made on the audio channel
type fakeAudio struct {
	mu       sync.Mutex
	playing  bool
	volume   float64
	muted    bool
	speed    float64
	position time.Duration
	seeks    []time.Duration
	closed   bool
}

func (a *fakeAudio) Play()               { a.mu.Lock(); a.playing = true; a.mu.Unlock() }
func (a *fakeAudio) Pause()              { a.mu.Lock(); a.playing = false; a.mu.Unlock() }
func (a *fakeAudio) SetVolume(v float64) { a.mu.Lock(); a.volume = v; a.mu.Unlock() }
func (a *fakeAudio) SetMuted(m bool)     { a.mu.Lock(); a.muted = m; a.mu.Unlock() }
func (a *fakeAudio) SetSpeed(r float64)  { a.mu.Lock(); a.speed = r; a.mu.Unlock() }

func (a *fakeAudio) SeekTo(ts time.Duration) {
	a.mu.Lock()
	a.seeks = append(a.seeks, ts)
	a.position = ts
	a.mu.Unlock()
}

func (a *fakeAudio) Position() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.position
}

func (a *fakeAudio) Close() { a.mu.Lock(); a.closed = true; a.mu.Unlock() }

func (a *fakeAudio) seekLog() []time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Duration(nil), a.seeks...)
}
