package media

import (
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/njyeung/asciiplay/player"
)

// AudioDecoder decodes audio packets and resamples them to s16le stereo at
// player.AudioSampleRate, the layout player.PCMBuffer stores.
type AudioDecoder struct {
	codecCtx *astiav.CodecContext
	swrCtx   *astiav.SoftwareResampleContext
	frame    *astiav.Frame

	mu     sync.Mutex
	closed bool
}

// NewAudioDecoder opens a decoder for stream
func NewAudioDecoder(stream *astiav.Stream) (*AudioDecoder, error) {
	params := stream.CodecParameters()
	a := &AudioDecoder{}

	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return nil, fmt.Errorf("audio codec not found: %s", params.CodecID())
	}

	a.codecCtx = astiav.AllocCodecContext(codec)
	if a.codecCtx == nil {
		return nil, errors.New("failed to allocate audio codec context")
	}

	if err := params.ToCodecContext(a.codecCtx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to copy audio codec params: %w", err)
	}

	if err := a.codecCtx.Open(codec, nil); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open audio codec: %w", err)
	}

	a.frame = astiav.AllocFrame()

	// configured from the first frame
	a.swrCtx = astiav.AllocSoftwareResampleContext()
	if a.swrCtx == nil {
		a.Close()
		return nil, errors.New("failed to allocate swr context")
	}

	return a, nil
}

// Decode sends pkt to the decoder and appends the resampled samples to out.
// A nil pkt drains the decoder. Frames that fail to resample are skipped.
func (a *AudioDecoder) Decode(pkt *astiav.Packet, out *player.PCMBuffer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("audio decoder closed")
	}

	if err := a.codecCtx.SendPacket(pkt); err != nil && !errors.Is(err, astiav.ErrEof) {
		return fmt.Errorf("failed to send audio packet: %w", err)
	}

	for {
		if err := a.codecCtx.ReceiveFrame(a.frame); err != nil {
			if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
				return nil
			}
			return fmt.Errorf("failed to receive audio frame: %w", err)
		}

		if pcm := a.resample(); pcm != nil {
			out.Append(pcm)
		}
		a.frame.Unref()
	}
}

func (a *AudioDecoder) resample() []byte {
	outFrame := astiav.AllocFrame()
	defer outFrame.Free()

	outFrame.SetSampleFormat(astiav.SampleFormatS16)
	outFrame.SetSampleRate(player.AudioSampleRate)
	outFrame.SetChannelLayout(astiav.ChannelLayoutStereo)

	// room for upsampling plus what swr buffered from earlier frames
	capacity := a.frame.NbSamples()
	if in := a.frame.SampleRate(); in > 0 && in < player.AudioSampleRate {
		capacity = capacity*player.AudioSampleRate/in + 1
	}
	outFrame.SetNbSamples(capacity + 256)

	if err := outFrame.AllocBuffer(0); err != nil {
		return nil
	}

	if err := a.swrCtx.ConvertFrame(a.frame, outFrame); err != nil {
		return nil
	}

	// interleaved S16: samples * 2 channels * 2 bytes
	byteSize := outFrame.NbSamples() * 2 * 2
	plane, err := outFrame.Data().Bytes(0)
	if err != nil || len(plane) < byteSize {
		return nil
	}

	// the plane is freed with outFrame
	pcm := make([]byte, byteSize)
	copy(pcm, plane[:byteSize])
	return pcm
}

// Close releases all resources
func (a *AudioDecoder) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}
	a.closed = true

	if a.frame != nil {
		a.frame.Free()
		a.frame = nil
	}
	if a.swrCtx != nil {
		a.swrCtx.Free()
		a.swrCtx = nil
	}
	if a.codecCtx != nil {
		a.codecCtx.Free()
		a.codecCtx = nil
	}
}
