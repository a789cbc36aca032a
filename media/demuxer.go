package media

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
)

// Demuxer opens a container and reads its packets
type Demuxer struct {
	formatCtx   *astiav.FormatContext
	videoStream *astiav.Stream
	audioStream *astiav.Stream
	videoIdx    int
	audioIdx    int

	mu     sync.Mutex
	closed bool
}

// NewDemuxer opens path and selects the first video stream and the first
// audio stream, if any.
func NewDemuxer(path string) (*Demuxer, error) {
	d := &Demuxer{
		videoIdx: -1,
		audioIdx: -1,
	}

	// Allocate format context
	d.formatCtx = astiav.AllocFormatContext()
	if d.formatCtx == nil {
		return nil, errors.New("failed to allocate format context")
	}

	// Open input (path is a local file)
	if err := d.formatCtx.OpenInput(path, nil, nil); err != nil {
		d.formatCtx.Free()
		d.formatCtx = nil
		return nil, fmt.Errorf("failed to open input: %w", err)
	}

	// Find stream info
	if err := d.formatCtx.FindStreamInfo(nil); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to find stream info: %w", err)
	}

	// Find video and audio streams
	for _, stream := range d.formatCtx.Streams() {
		switch stream.CodecParameters().MediaType() {
		case astiav.MediaTypeVideo:
			if d.videoIdx == -1 {
				d.videoIdx = stream.Index()
				d.videoStream = stream
			}
		case astiav.MediaTypeAudio:
			if d.audioIdx == -1 {
				d.audioIdx = stream.Index()
				d.audioStream = stream
			}
		}
	}

	if d.videoIdx == -1 {
		d.Close()
		return nil, errors.New("no video stream found")
	}

	return d, nil
}

// VideoStream returns the selected video stream
func (d *Demuxer) VideoStream() *astiav.Stream {
	return d.videoStream
}

// AudioStream returns the selected audio stream, or nil
func (d *Demuxer) AudioStream() *astiav.Stream {
	return d.audioStream
}

// HasAudio returns true if there's an audio stream
func (d *Demuxer) HasAudio() bool {
	return d.audioIdx != -1
}

// IsAudio reports whether pkt belongs to the selected audio stream
func (d *Demuxer) IsAudio(pkt *astiav.Packet) bool {
	return d.audioIdx != -1 && pkt.StreamIndex() == d.audioIdx
}

// ReadPacket reads the next packet and reports whether it is a video
// packet. At the end of the input it returns astiav.ErrEof.
func (d *Demuxer) ReadPacket() (*astiav.Packet, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false, errors.New("demuxer closed")
	}

	pkt := astiav.AllocPacket()
	if pkt == nil {
		return nil, false, errors.New("failed to allocate packet")
	}

	if err := d.formatCtx.ReadFrame(pkt); err != nil {
		pkt.Free()
		return nil, false, err
	}

	return pkt, pkt.StreamIndex() == d.videoIdx, nil
}

// Duration returns the container duration, or zero when unknown
func (d *Demuxer) Duration() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.formatCtx == nil || d.formatCtx.Duration() <= 0 {
		return 0
	}
	// AV_TIME_BASE is microseconds
	return time.Duration(d.formatCtx.Duration()) * time.Microsecond
}

// FrameRate returns the native frame rate of the video stream, or zero when
// the container does not declare one
func (d *Demuxer) FrameRate() float64 {
	r := d.videoStream.AvgFrameRate()
	if r.Num() <= 0 || r.Den() <= 0 {
		r = d.videoStream.RFrameRate()
	}
	if r.Num() <= 0 || r.Den() <= 0 {
		return 0
	}
	return float64(r.Num()) / float64(r.Den())
}

// Close releases all resources
func (d *Demuxer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true

	if d.formatCtx != nil {
		d.formatCtx.CloseInput()
		d.formatCtx.Free()
		d.formatCtx = nil
	}
}

// toDuration converts ts in units of tb to a duration
func toDuration(ts int64, tb astiav.Rational) time.Duration {
	if tb.Den() == 0 {
		return 0
	}
	return time.Duration(float64(ts) * float64(tb.Num()) / float64(tb.Den()) * float64(time.Second))
}
