package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/asticode/go-astiav"

	"github.com/njyeung/asciiplay/player"
)

func init() {
	// FFmpeg logs to stderr, which is the playback terminal
	astiav.SetLogLevel(astiav.LogLevelQuiet)
}

// DefaultScale is the number of sampled pixels per character cell side
const DefaultScale = 2

// Options configures a Source
type Options struct {
	Width  int           // character grid width
	Height int           // character grid height
	Scale  int           // sampled pixels per cell side
	Delay  time.Duration // frame delay; frames are sampled at 1/Delay
	Audio  bool          // decode the audio track
	Logger *slog.Logger
}

// Source decodes a media file into a player.FrameStore and, if requested, a
// player.PCMBuffer.
type Source struct {
	path string
	opts Options
	log  *slog.Logger

	demuxer *Demuxer
	video   *VideoDecoder
	audio   *AudioDecoder

	closeOnce sync.Once
}

// Open opens path and prepares the decoders. Failures are DecodeErrors.
func Open(path string, opts Options) (*Source, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("%w: grid %dx%d", player.ErrInvalidDimensions, opts.Width, opts.Height)
	}
	if opts.Delay <= 0 {
		return nil, fmt.Errorf("frame delay must be positive, got %s", opts.Delay)
	}
	if opts.Scale <= 0 {
		opts.Scale = DefaultScale
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	if fi.IsDir() {
		return nil, &DecodeError{Path: path, Err: errors.New("is a directory")}
	}

	demuxer, err := NewDemuxer(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}

	video, err := NewVideoDecoder(demuxer.VideoStream(), opts.Width*opts.Scale, opts.Height*opts.Scale)
	if err != nil {
		demuxer.Close()
		return nil, &DecodeError{Path: path, Err: fmt.Errorf("failed to create video decoder: %w", err)}
	}

	s := &Source{
		path:    path,
		opts:    opts,
		log:     opts.Logger.With("input", path),
		demuxer: demuxer,
		video:   video,
	}

	if opts.Audio {
		if !demuxer.HasAudio() {
			s.log.Warn("no audio stream, playing video only")
		} else if s.audio, err = NewAudioDecoder(demuxer.AudioStream()); err != nil {
			s.log.Warn("audio decoder unavailable, playing video only", "err", err)
			s.audio = nil
		}
	}

	return s, nil
}

// HasAudio reports whether Run will fill the PCM buffer
func (s *Source) HasAudio() bool {
	return s.audio != nil
}

// Duration returns the container duration, or zero when unknown
func (s *Source) Duration() time.Duration {
	return s.demuxer.Duration()
}

// Info describes the input and the grid it is converted to
type Info struct {
	Path      string
	Duration  time.Duration // zero when unknown
	FrameRate float64       // native fps, zero when unknown
	Width     int           // source picture size
	Height    int
	Columns   int // ASCII grid size
	Rows      int
	Audio     bool
}

// Info returns what is known about the input before decoding starts
func (s *Source) Info() Info {
	w, h := s.video.SourceSize()
	return Info{
		Path:      s.path,
		Duration:  s.demuxer.Duration(),
		FrameRate: s.demuxer.FrameRate(),
		Width:     w,
		Height:    h,
		Columns:   s.opts.Width,
		Rows:      s.opts.Height,
		Audio:     s.audio != nil,
	}
}

// Summary returns the info as display lines
func (i Info) Summary() []string {
	duration, rate := "unknown", "unknown"
	if i.Duration > 0 {
		duration = fmt.Sprintf("%.2f seconds", i.Duration.Seconds())
	}
	if i.FrameRate > 0 {
		rate = fmt.Sprintf("%.2f fps", i.FrameRate)
	}
	audio := "none"
	if i.Audio {
		audio = "on"
	}
	return []string{
		"Duration: " + duration,
		"Frame rate: " + rate,
		fmt.Sprintf("Resolution: %dx%d", i.Width, i.Height),
		fmt.Sprintf("ASCII output: %dx%d", i.Columns, i.Rows),
		"Audio: " + audio,
	}
}

// LogValue reports the info as a log group
func (i Info) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Duration("duration", i.Duration),
		slog.Float64("fps", i.FrameRate),
		slog.String("resolution", fmt.Sprintf("%dx%d", i.Width, i.Height)),
		slog.String("grid", fmt.Sprintf("%dx%d", i.Columns, i.Rows)),
		slog.Bool("audio", i.Audio),
	)
}

// Run decodes the whole input. Pictures are resampled onto the frame
// timeline and appended to store; audio goes to pcm when it is non-nil.
// store and pcm are finished when Run returns, whatever the outcome.
func (s *Source) Run(ctx context.Context, store *player.FrameStore, pcm *player.PCMBuffer) (err error) {
	defer func() {
		if errors.Is(err, context.Canceled) {
			store.Finish(nil)
		} else {
			store.Finish(err)
		}
		if pcm != nil {
			pcm.Finish()
		}
	}()

	timeline := player.Timeline{Step: s.opts.Delay}
	sampler := player.NewCadenceSampler[*player.RawFrame](s.opts.Delay)
	emit := func(f *player.RawFrame) {
		// a picture repeated across slots is shared, so copy the header
		fr := *f
		fr.PTS = timeline.Timestamp(store.Len())
		store.Append(&fr)
	}

	var (
		origin  time.Duration
		started bool
		last    time.Duration
	)
	push := func(frames []*player.RawFrame) {
		for _, f := range frames {
			if !started {
				origin, started = f.PTS, true
			}
			rel := f.PTS - origin
			if rel < last {
				rel = last
			}
			last = rel
			sampler.Push(rel, f, emit)
		}
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		pkt, isVideo, err := s.demuxer.ReadPacket()
		if errors.Is(err, astiav.ErrEof) {
			break
		}
		if err != nil {
			return &DecodeError{Path: s.path, Err: fmt.Errorf("failed to read packet: %w", err)}
		}

		switch {
		case isVideo:
			frames, err := s.video.Decode(pkt)
			pkt.Free()
			push(frames)
			if err != nil {
				return &DecodeError{Path: s.path, Err: err}
			}
		case s.audio != nil && pcm != nil && s.demuxer.IsAudio(pkt):
			err := s.audio.Decode(pkt, pcm)
			pkt.Free()
			if err != nil {
				// a bad audio packet only costs a gap
				s.log.Debug("audio decode failed", "err", err)
			}
		default:
			pkt.Free()
		}
	}

	frames, err := s.video.Decode(nil)
	push(frames)
	if err != nil {
		return &DecodeError{Path: s.path, Err: err}
	}
	if s.audio != nil && pcm != nil {
		if err := s.audio.Decode(nil, pcm); err != nil {
			s.log.Debug("audio drain failed", "err", err)
		}
	}

	sampler.Flush(last+s.opts.Delay, emit)
	if store.Len() == 0 {
		return &DecodeError{Path: s.path, Err: errors.New("no video frames decoded")}
	}

	s.log.Debug("decoding finished", "frames", store.Len(), "elapsed", time.Since(start))
	return nil
}

// Close releases the decoders. Run must have returned.
func (s *Source) Close() {
	s.closeOnce.Do(func() {
		if s.audio != nil {
			s.audio.Close()
		}
		s.video.Close()
		s.demuxer.Close()
	})
}
