package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/njyeung/asciiplay/player"
)

// VideoDecoder decodes video packets and scales every picture to the
// sampling resolution as packed RGB24.
type VideoDecoder struct {
	codecCtx *astiav.CodecContext
	swsCtx   *astiav.SoftwareScaleContext
	frame    *astiav.Frame
	rgbFrame *astiav.Frame

	srcWidth  int
	srcHeight int
	dstWidth  int
	dstHeight int

	timeBase astiav.Rational

	mu     sync.Mutex
	closed bool
}

// NewVideoDecoder opens a decoder for stream producing width x height
// pictures
func NewVideoDecoder(stream *astiav.Stream, width, height int) (*VideoDecoder, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: sampling size %dx%d", player.ErrInvalidDimensions, width, height)
	}

	params := stream.CodecParameters()
	v := &VideoDecoder{
		timeBase:  stream.TimeBase(),
		srcWidth:  params.Width(),
		srcHeight: params.Height(),
		dstWidth:  width,
		dstHeight: height,
	}

	// Find decoder
	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("video codec not found: %s", params.CodecID())
	}

	// Allocate codec context
	v.codecCtx = astiav.AllocCodecContext(codec)
	if v.codecCtx == nil {
		return nil, errors.New("failed to allocate video codec context")
	}

	// Copy parameters
	if err := params.ToCodecContext(v.codecCtx); err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to copy video codec params: %w", err)
	}

	// Open codec
	if err := v.codecCtx.Open(codec, nil); err != nil {
		v.Close()
		return nil, fmt.Errorf("failed to open video codec: %w", err)
	}

	// Allocate frames
	v.frame = astiav.AllocFrame()
	v.rgbFrame = astiav.AllocFrame()

	return v, nil
}

func (v *VideoDecoder) initSwsContext() error {
	// the real picture size is only known once a frame is decoded
	v.srcWidth, v.srcHeight = v.frame.Width(), v.frame.Height()

	// Create scaling context: source format -> RGB24 at sampling size
	var err error
	v.swsCtx, err = astiav.CreateSoftwareScaleContext(
		v.srcWidth, v.srcHeight, v.frame.PixelFormat(),
		v.dstWidth, v.dstHeight, astiav.PixelFormatRgb24,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return fmt.Errorf("failed to create sws context: %w", err)
	}

	// Setup RGB frame
	v.rgbFrame.SetWidth(v.dstWidth)
	v.rgbFrame.SetHeight(v.dstHeight)
	v.rgbFrame.SetPixelFormat(astiav.PixelFormatRgb24)

	if err := v.rgbFrame.AllocBuffer(1); err != nil {
		return fmt.Errorf("failed to allocate RGB frame buffer: %w", err)
	}

	return nil
}

// Decode sends pkt to the decoder and returns every picture it releases.
// A nil pkt drains the decoder at the end of the stream.
func (v *VideoDecoder) Decode(pkt *astiav.Packet) ([]*player.RawFrame, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return nil, errors.New("video decoder closed")
	}

	// Send packet to decoder
	if err := v.codecCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEof) {
		return nil, fmt.Errorf("failed to send video packet: %w", err)
	}

	var frames []*player.RawFrame
	for {
		// Receive decoded frames until the decoder wants more input
		if err := v.codecCtx.ReceiveFrame(v.frame); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return frames, nil
			}
			return frames, fmt.Errorf("failed to receive video frame: %w", err)
		}

		f, err := v.convert()
		v.frame.Unref()
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
	}
}

func (v *VideoDecoder) convert() (*player.RawFrame, error) {
	// Initialize sws context if needed
	if v.swsCtx == nil {
		if err := v.initSwsContext(); err != nil {
			return nil, err
		}
	}

	if err := v.swsCtx.ScaleFrame(v.frame, v.rgbFrame); err != nil {
		return nil, fmt.Errorf("failed to scale frame: %w", err)
	}

	rgbBytes, err := v.rgbFrame.Data().Bytes(1)
	if err != nil {
		return nil, fmt.Errorf("failed to get RGB bytes: %w", err)
	}

	// the frame buffer is reused by the next picture
	rgb := make([]byte, len(rgbBytes))
	copy(rgb, rgbBytes)

	// AV_NOPTS_VALUE is the minimum int64
	pts := v.frame.Pts()
	if pts < 0 {
		pts = 0
	}

	return &player.RawFrame{
		RGB:    rgb,
		Width:  v.dstWidth,
		Height: v.dstHeight,
		PTS:    toDuration(pts, v.timeBase),
	}, nil
}

// SourceSize returns the original video dimensions
func (v *VideoDecoder) SourceSize() (int, int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.srcWidth, v.srcHeight
}

// Close releases all resources
func (v *VideoDecoder) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return
	}
	v.closed = true

	if v.frame != nil {
		v.frame.Free()
		v.frame = nil
	}
	if v.rgbFrame != nil {
		v.rgbFrame.Free()
		v.rgbFrame = nil
	}
	if v.swsCtx != nil {
		v.swsCtx.Free()
		v.swsCtx = nil
	}
	if v.codecCtx != nil {
		v.codecCtx.Free()
		v.codecCtx = nil
	}
}
