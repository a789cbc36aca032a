package player

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep/v2"
)

// fakeDevice stands in for the speaker. Stream pulls samples through the
// graph handed to Play.
type fakeDevice struct {
	mu       sync.Mutex
	initErr  error
	streamer beep.Streamer
	locks    int
	cleared  bool
	closed   int
}

func (d *fakeDevice) Init(beep.SampleRate, int) error { return d.initErr }
func (d *fakeDevice) Play(s beep.Streamer)            { d.streamer = s }
func (d *fakeDevice) Lock()                           { d.mu.Lock(); d.locks++ }
func (d *fakeDevice) Unlock()                         { d.mu.Unlock() }
func (d *fakeDevice) Clear()                          { d.cleared = true }
func (d *fakeDevice) Close()                          { d.closed++ }

func (d *fakeDevice) pull(n int) [][2]float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	samples := make([][2]float64, n)
	d.streamer.Stream(samples)
	return samples
}

// pcm returns n stereo sample frames with the given left and right values
func pcm(n int, left, right int16) []byte {
	b := make([]byte, n*pcmFrameBytes)
	for i := range n {
		binary.LittleEndian.PutUint16(b[i*4:], uint16(left))
		binary.LittleEndian.PutUint16(b[i*4+2:], uint16(right))
	}
	return b
}

func TestPCMBufferAppendWholeFrames(t *testing.T) {
	t.Parallel()

	b := NewPCMBuffer()
	b.Append(pcm(3, 1, 1))
	b.Append([]byte{1, 2, 3}) // partial frame dropped
	if b.Len() != 3 {
		t.Errorf("Len: got %d, want 3", b.Len())
	}
}

func TestPCMStreamerUnderrun(t *testing.T) {
	t.Parallel()

	b := NewPCMBuffer()
	b.Append(pcm(2, math.MaxInt16, -math.MaxInt16))
	s := b.Streamer()

	samples := make([][2]float64, 4)
	n, ok := s.Stream(samples)
	if n != 4 || !ok {
		t.Fatalf("Stream: n=%d ok=%v", n, ok)
	}
	if samples[0] != [2]float64{1, -1} || samples[1] != [2]float64{1, -1} {
		t.Errorf("decoded samples: %v", samples[:2])
	}
	if samples[2] != [2]float64{} || samples[3] != [2]float64{} {
		t.Errorf("underrun should be silent: %v", samples[2:])
	}
	if s.Position() != 2 {
		t.Errorf("underrun advanced the position to %d", s.Position())
	}

	// the decoder catches up and playback continues from where it stalled
	b.Append(pcm(1, 0, math.MaxInt16))
	s.Stream(samples[:1])
	if samples[0] != [2]float64{0, 1} {
		t.Errorf("after refill: %v", samples[0])
	}
}

func TestPCMStreamerSeek(t *testing.T) {
	t.Parallel()

	b := NewPCMBuffer()
	b.Append(pcm(10, 0, 0))
	s := b.Streamer()

	if err := s.Seek(-1); err == nil {
		t.Error("negative seek accepted")
	}
	// still filling: seeking ahead is allowed
	if err := s.Seek(50); err != nil || s.Position() != 50 {
		t.Errorf("Seek(50): pos=%d err=%v", s.Position(), err)
	}

	b.Finish()
	if err := s.Seek(50); err != nil || s.Position() != 10 {
		t.Errorf("Seek past a finished track: pos=%d err=%v", s.Position(), err)
	}
}

func TestOpenSpeakerChannelDeviceError(t *testing.T) {
	t.Parallel()

	dev := &fakeDevice{initErr: errors.New("no sound card")}
	_, err := OpenSpeakerChannel(NewPCMBuffer(), AudioConfig{Device: dev})
	if !errors.Is(err, ErrDeviceUnavailable) {
		t.Errorf("got %v, want ErrDeviceUnavailable", err)
	}
}

func TestSpeakerChannel(t *testing.T) {
	t.Parallel()

	buf := NewPCMBuffer()
	buf.Append(pcm(AudioSampleRate, math.MaxInt16, math.MaxInt16))
	buf.Finish()

	dev := &fakeDevice{}
	ch, err := OpenSpeakerChannel(buf, AudioConfig{Device: dev, Volume: 1})
	if err != nil {
		t.Fatalf("OpenSpeakerChannel: %v", err)
	}
	if dev.streamer == nil {
		t.Fatal("nothing playing on the device")
	}

	// opens paused
	if s := dev.pull(8); s[0] != [2]float64{} || ch.Position() != 0 {
		t.Errorf("paused channel produced %v at %v", s[0], ch.Position())
	}

	ch.Play()
	dev.pull(441)
	if pos := ch.Position(); pos <= 0 {
		t.Errorf("position did not advance: %v", pos)
	}

	ch.SeekTo(500 * time.Millisecond)
	if pos := ch.Position(); pos != 500*time.Millisecond {
		t.Errorf("Position after SeekTo: %v", pos)
	}
	ch.SeekTo(-time.Second)
	if pos := ch.Position(); pos != 0 {
		t.Errorf("negative SeekTo: %v", pos)
	}

	ch.SetMuted(true)
	if !ch.volume.Silent {
		t.Error("mute did not silence output")
	}
	ch.SetMuted(false)
	ch.SetVolume(0.5)
	if ch.volume.Silent || ch.volume.Volume != -1 {
		t.Errorf("volume 0.5: silent=%v volume=%v", ch.volume.Silent, ch.volume.Volume)
	}
	ch.SetVolume(0)
	if !ch.volume.Silent {
		t.Error("zero volume should be silent")
	}
	ch.SetVolume(7)
	if ch.level != 1 {
		t.Errorf("volume not clamped: %v", ch.level)
	}

	ch.SetSpeed(2)
	ch.SetSpeed(0) // ignored
	if got := ch.resampler.Ratio(); got != 2 {
		t.Errorf("speed ratio: got %v", got)
	}

	ch.Pause()
	before := ch.Position()
	dev.pull(441)
	if ch.Position() != before {
		t.Error("paused channel advanced")
	}

	ch.Close()
	ch.Close()
	if dev.closed != 1 || !dev.cleared {
		t.Errorf("Close: closed=%d cleared=%v", dev.closed, dev.cleared)
	}
	// calls after Close are ignored
	ch.Play()
	ch.SeekTo(time.Second)
}
