package player

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/speaker"
)

// PCMBuffer accumulates decoded audio as s16le stereo at AudioSampleRate.
// The decoder appends while the device reads through a PCMStreamer.
type PCMBuffer struct {
	mu   sync.Mutex
	data []byte
	done bool
}

// NewPCMBuffer creates an empty buffer
func NewPCMBuffer() *PCMBuffer {
	return &PCMBuffer{
		data: make([]byte, 0, 192000), // ~1 second
	}
}

// Append adds whole sample frames from p
func (b *PCMBuffer) Append(p []byte) {
	n := len(p) / pcmFrameBytes * pcmFrameBytes
	if n == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p[:n]...)
}

// Finish marks the end of the audio track
func (b *PCMBuffer) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done = true
}

// Len returns the number of sample frames buffered
func (b *PCMBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data) / pcmFrameBytes
}

// Streamer returns a new reader positioned at the start of the buffer
func (b *PCMBuffer) Streamer() *PCMStreamer {
	return &PCMStreamer{buf: b}
}

// PCMStreamer implements beep.StreamSeeker over a PCMBuffer. Reading past
// the buffered data yields silence without advancing, so playback resumes
// once the decoder catches up.
type PCMStreamer struct {
	buf *PCMBuffer
	pos int
}

var _ beep.StreamSeeker = (*PCMStreamer)(nil)

func (s *PCMStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()

	// buf.data (raw bytes from FFmpeg):
	// ┌────┬────┬────┬────┬─...
	// │ L0 │ L0 │ R0 │ R0 │
	// │ lo │ hi │ lo │ hi │
	// └────┴────┴────┴────┴─...
	// (4 bytes = 1 stereo sample)
	const maxInt16 = float64(math.MaxInt16)
	data := s.buf.data

	for i := range samples {
		off := s.pos * pcmFrameBytes
		if off+pcmFrameBytes > len(data) {
			// underrun or end of track: silence, keep streaming
			for j := i; j < len(samples); j++ {
				samples[j] = [2]float64{}
			}
			break
		}
		left := int16(data[off]) | int16(data[off+1])<<8
		right := int16(data[off+2]) | int16(data[off+3])<<8
		samples[i][0] = float64(left) / maxInt16
		samples[i][1] = float64(right) / maxInt16
		s.pos++
	}
	return len(samples), true
}

func (s *PCMStreamer) Err() error {
	return nil
}

// Len returns the number of samples buffered so far
func (s *PCMStreamer) Len() int {
	return s.buf.Len()
}

// Position returns the current sample position
func (s *PCMStreamer) Position() int {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()
	return s.pos
}

// Seek moves to sample p. Positions past the buffered data are allowed while
// the decoder is still filling the buffer.
func (s *PCMStreamer) Seek(p int) error {
	s.buf.mu.Lock()
	defer s.buf.mu.Unlock()

	if p < 0 {
		return fmt.Errorf("seek position %d out of range", p)
	}
	if n := len(s.buf.data) / pcmFrameBytes; s.buf.done && p > n {
		p = n
	}
	s.pos = p
	return nil
}

// Device is the audio output. The default implementation is the beep speaker.
type Device interface {
	Init(sampleRate beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
	Close()
}

type speakerDevice struct{}

func (speakerDevice) Init(sr beep.SampleRate, bufferSize int) error { return speaker.Init(sr, bufferSize) }
func (speakerDevice) Play(s beep.Streamer)                          { speaker.Play(s) }
func (speakerDevice) Lock()                                         { speaker.Lock() }
func (speakerDevice) Unlock()                                       { speaker.Unlock() }
func (speakerDevice) Clear()                                        { speaker.Clear() }
func (speakerDevice) Close()                                        { speaker.Close() }

// AudioConfig configures a SpeakerChannel
type AudioConfig struct {
	Device Device        // nil selects the system speaker
	Buffer time.Duration // device buffer, default 50ms
	Volume float64       // initial volume 0.0 - 1.0
	Muted  bool
	Logger *slog.Logger
}

// SpeakerChannel plays a PCMBuffer on its own device clock. The graph is
// stream -> pause control -> speed resampler -> volume -> device.
type SpeakerChannel struct {
	dev    Device
	sr     beep.SampleRate
	stream *PCMStreamer

	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	volume    *effects.Volume

	mu     sync.Mutex
	level  float64
	muted  bool
	closed bool

	log *slog.Logger
}

var _ AudioChannel = (*SpeakerChannel)(nil)

// OpenSpeakerChannel opens the device and starts streaming buf, paused.
// Device failures are reported as ErrDeviceUnavailable.
func OpenSpeakerChannel(buf *PCMBuffer, cfg AudioConfig) (*SpeakerChannel, error) {
	if cfg.Device == nil {
		cfg.Device = speakerDevice{}
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 50 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	sr := beep.SampleRate(AudioSampleRate)
	if err := cfg.Device.Init(sr, sr.N(cfg.Buffer)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	a := &SpeakerChannel{
		dev:    cfg.Device,
		sr:     sr,
		stream: buf.Streamer(),
		level:  clampUnit(cfg.Volume),
		muted:  cfg.Muted,
		log:    cfg.Logger,
	}
	a.ctrl = &beep.Ctrl{Streamer: a.stream, Paused: true}
	a.resampler = beep.ResampleRatio(4, 1, a.ctrl)
	a.volume = &effects.Volume{Streamer: a.resampler, Base: 2}
	a.applyVolume()

	a.dev.Play(a.volume)
	return a, nil
}

// applyVolume maps the linear level onto the exponential volume effect.
// Callers hold the device lock or own the graph exclusively.
func (a *SpeakerChannel) applyVolume() {
	a.volume.Silent = a.muted || a.level <= 0
	if a.level > 0 {
		a.volume.Volume = math.Log2(a.level)
	}
}

func (a *SpeakerChannel) withGraph(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}

	a.dev.Lock()
	defer a.dev.Unlock()
	fn()
}

// Play resumes the stream
func (a *SpeakerChannel) Play() {
	a.withGraph(func() { a.ctrl.Paused = false })
}

// Pause halts the stream; its position stays put
func (a *SpeakerChannel) Pause() {
	a.withGraph(func() { a.ctrl.Paused = true })
}

// SetVolume sets the linear output level, clamped to [0, 1]
func (a *SpeakerChannel) SetVolume(v float64) {
	a.withGraph(func() {
		a.level = clampUnit(v)
		a.applyVolume()
	})
}

// SetMuted silences output without touching the level
func (a *SpeakerChannel) SetMuted(muted bool) {
	a.withGraph(func() {
		a.muted = muted
		a.applyVolume()
	})
}

// SeekTo moves the stream to ts on the audio timeline
func (a *SpeakerChannel) SeekTo(ts time.Duration) {
	if ts < 0 {
		ts = 0
	}
	a.withGraph(func() {
		if err := a.stream.Seek(a.sr.N(ts)); err != nil {
			a.log.Debug("audio seek failed", "ts", ts, "err", err)
		}
	})
}

// SetSpeed plays the stream ratio times faster than real time
func (a *SpeakerChannel) SetSpeed(ratio float64) {
	if ratio <= 0 {
		return
	}
	a.withGraph(func() { a.resampler.SetRatio(ratio) })
}

// Position returns the stream position
func (a *SpeakerChannel) Position() time.Duration {
	var pos int
	a.withGraph(func() { pos = a.stream.Position() })
	return a.sr.D(pos)
}

// Close stops playback and releases the device
func (a *SpeakerChannel) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.closed = true

	a.dev.Lock()
	a.ctrl.Paused = true
	a.dev.Unlock()

	a.dev.Clear()
	a.dev.Close()
}

func clampUnit(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
