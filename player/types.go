package player

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// FrameSource provides random access to decoded frames
type FrameSource interface {
	// Get returns frame i, waiting a bounded time if it is still being decoded
	Get(ctx context.Context, i int) (*RawFrame, error)

	// Len returns the number of frames available so far
	Len() int

	// Complete reports whether the decoder has finished filling the source
	Complete() bool
}

// FrameRenderer draws converted frames to the terminal
type FrameRenderer interface {
	// Render draws a whole frame plus the status line as one terminal update
	Render(frame *AsciiFrame, status Status) error
}

// Poller delivers control commands without blocking
type Poller interface {
	// Poll returns the next pending command, or false if there is none
	Poll() (Command, bool)
}

// AudioChannel is the playback side of the audio device. Calls never block on
// the device clock.
type AudioChannel interface {
	Play()
	Pause()
	SetVolume(v float64)
	SetMuted(muted bool)
	SeekTo(ts time.Duration)
	SetSpeed(ratio float64)

	// Position returns the current playback position on the audio timeline
	Position() time.Duration

	// Close stops playback and releases the device
	Close()
}

// Clock is the scheduler's time source
type Clock interface {
	Now() time.Time

	// Sleep waits for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error
}

// RawFrame represents a decoded video frame
type RawFrame struct {
	Index  int           // Position in the frame store
	RGB    []byte        // RGB24 pixel data
	Width  int           // Frame width in pixels
	Height int           // Frame height in pixels
	PTS    time.Duration // Presentation time on the playback timeline
}

// Attr is a bit set of display attributes for a cell
type Attr uint8

const (
	// AttrInverted draws the cell in reverse video
	AttrInverted Attr = 1 << iota
	// AttrColor draws the glyph with the cell's RGB foreground
	AttrColor
)

// Cell is one character position of an AsciiFrame
type Cell struct {
	Glyph   rune
	Attr    Attr
	R, G, B uint8
}

// AsciiFrame is a character grid produced from a RawFrame. It is never
// modified after the converter returns it.
type AsciiFrame struct {
	Index  int
	Width  int
	Height int
	Cells  []Cell // row-major, Width*Height
}

// At returns the cell at column x, row y
func (f *AsciiFrame) At(x, y int) Cell {
	return f.Cells[y*f.Width+x]
}

// Row returns the cells of row y
func (f *AsciiFrame) Row(y int) []Cell {
	return f.Cells[y*f.Width : (y+1)*f.Width]
}

// String returns the glyphs only, one line per row
func (f *AsciiFrame) String() string {
	var b strings.Builder
	b.Grow((f.Width + 1) * f.Height)
	for y := 0; y < f.Height; y++ {
		for _, c := range f.Row(y) {
			b.WriteRune(c.Glyph)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CommandKind identifies a control command
type CommandKind int

const (
	CmdQuit CommandKind = iota
	CmdTogglePause
	CmdSpeedUp
	CmdSpeedDown
	CmdSkipForward
	CmdSkipBackward
	CmdToggleMute
	CmdVolumeUp
	CmdVolumeDown
)

var commandNames = map[CommandKind]string{
	CmdQuit:         "quit",
	CmdTogglePause:  "toggle_pause",
	CmdSpeedUp:      "speed_up",
	CmdSpeedDown:    "speed_down",
	CmdSkipForward:  "skip_forward",
	CmdSkipBackward: "skip_backward",
	CmdToggleMute:   "toggle_mute",
	CmdVolumeUp:     "volume_up",
	CmdVolumeDown:   "volume_down",
}

// Command is a control command emitted by the input poller. N is the frame
// count for skips.
type Command struct {
	Kind CommandKind
	N    int
}

func (c Command) String() string {
	name, ok := commandNames[c.Kind]
	if !ok {
		name = fmt.Sprintf("command(%d)", int(c.Kind))
	}
	if c.Kind == CmdSkipForward || c.Kind == CmdSkipBackward {
		return fmt.Sprintf("%s(%d)", name, c.N)
	}
	return name
}

// State is the scheduler's state machine position
type State int

const (
	StatePlaying State = iota
	StatePaused
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// PlaybackState is owned by the scheduler. Other components only ever see
// copies of it.
type PlaybackState struct {
	Index  int     // current frame index
	Speed  float64 // speed multiplier, > 0
	Paused bool
	Volume float64 // 0.0 - 1.0
	Muted  bool
}

// Status is the read-only view handed to the renderer with every frame
type Status struct {
	PlaybackState
	Total    int  // frames available so far
	Complete bool // whether Total is final
	Silent   bool // audio unavailable or not requested
}

const (
	// AudioSampleRate for resampling and the output device
	AudioSampleRate = 44100

	// bytes per s16le stereo sample frame
	pcmFrameBytes = 4
)
