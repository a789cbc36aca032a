package player

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

var statusStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("245"))

// TextRenderer draws AsciiFrames with plain terminal escapes. It keeps the
// rows it drew last (the front buffer), builds the next frame in a back
// buffer, and sends only the rows that changed. Every frame goes out in a
// single write wrapped in synchronized-update markers so no partial frame is
// ever visible.
type TextRenderer struct {
	mu sync.Mutex

	out        io.Writer
	size       func() (cols, rows int, err error)
	statusLine bool

	front    []string
	lastCols int
	lastRows int

	buf bytes.Buffer
}

// RendererOption configures a TextRenderer
type RendererOption func(*TextRenderer)

// WithTerminalSize sets the query for the live terminal size. Frames are
// clipped to it. Without one the frame's own size is used.
func WithTerminalSize(size func() (cols, rows int, err error)) RendererOption {
	return func(r *TextRenderer) { r.size = size }
}

// WithStatusLine draws the playback status under the picture
func WithStatusLine(on bool) RendererOption {
	return func(r *TextRenderer) { r.statusLine = on }
}

// NewTextRenderer creates a renderer writing to out
func NewTextRenderer(out io.Writer, opts ...RendererOption) *TextRenderer {
	r := &TextRenderer{out: out}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Render draws frame and st as one terminal update
func (r *TextRenderer) Render(frame *AsciiFrame, st Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cols, rows := frame.Width, frame.Height
	if r.statusLine {
		rows++
	}
	if r.size != nil {
		// a failed size query (e.g. mid-resize) falls back to the frame size
		if c, rr, err := r.size(); err == nil && c > 0 && rr > 0 {
			cols, rows = c, rr
		}
	}

	fullRedraw := r.front == nil || cols != r.lastCols || rows != r.lastRows

	back := make([]string, 0, rows)
	for y := 0; y < frame.Height && y < rows; y++ {
		back = append(back, encodeRow(frame.Row(y), cols))
	}
	if r.statusLine && len(back) < rows {
		back = append(back, encodeStatus(st, cols))
	}

	r.buf.Reset()
	r.buf.WriteString("\x1b[?2026h")
	if fullRedraw {
		r.buf.WriteString("\x1b[0m\x1b[2J")
	}
	for y, line := range back {
		if !fullRedraw && y < len(r.front) && r.front[y] == line {
			continue
		}
		fmt.Fprintf(&r.buf, "\x1b[%d;1H", y+1)
		r.buf.WriteString(line)
		r.buf.WriteString("\x1b[0m\x1b[K")
	}
	if !fullRedraw {
		// rows drawn last time but not this time
		for y := len(back); y < len(r.front); y++ {
			fmt.Fprintf(&r.buf, "\x1b[%d;1H\x1b[2K", y+1)
		}
	}
	r.buf.WriteString("\x1b[H")
	r.buf.WriteString("\x1b[?2026l")

	if _, err := r.out.Write(r.buf.Bytes()); err != nil {
		// screen contents unknown now
		r.front = nil
		return fmt.Errorf("render error: %w", err)
	}

	r.front = back
	r.lastCols, r.lastRows = cols, rows
	return nil
}

// encodeRow writes the glyphs of cells that fit in cols display columns,
// with SGR changes only where attributes change.
func encodeRow(cells []Cell, cols int) string {
	var b strings.Builder
	b.Grow(len(cells))

	width := 0
	var cur Cell
	styled := false
	for _, c := range cells {
		w := runewidth.RuneWidth(c.Glyph)
		if w == 0 {
			w = 1
		}
		if width+w > cols {
			break
		}
		width += w

		if c.Attr != 0 {
			if !styled || c.Attr != cur.Attr || (c.Attr&AttrColor != 0 && (c.R != cur.R || c.G != cur.G || c.B != cur.B)) {
				b.WriteString("\x1b[0m")
				if c.Attr&AttrInverted != 0 {
					b.WriteString("\x1b[7m")
				}
				if c.Attr&AttrColor != 0 {
					fmt.Fprintf(&b, "\x1b[38;2;%d;%d;%dm", c.R, c.G, c.B)
				}
				cur, styled = c, true
			}
		} else if styled {
			b.WriteString("\x1b[0m")
			styled = false
		}
		b.WriteRune(c.Glyph)
	}
	return b.String()
}

// FormatStatus returns the plain status text for st
func FormatStatus(st Status) string {
	state := "▶"
	if st.Paused {
		state = "❚❚"
	}

	total := fmt.Sprintf("%d", st.Total)
	if !st.Complete {
		total += "+"
	}

	audio := fmt.Sprintf("vol %3.0f%%", st.Volume*100)
	switch {
	case st.Silent:
		audio = "no audio"
	case st.Muted:
		audio = "muted"
	}

	return fmt.Sprintf("%s %d/%s  %.2fx  %s", state, st.Index+1, total, st.Speed, audio)
}

func encodeStatus(st Status, cols int) string {
	text := runewidth.Truncate(FormatStatus(st), cols, "")
	return statusStyle.Render(text)
}

// WriteFrame writes frame as plain lines, keeping colour and reverse video
// but without cursor movement, for output that is not a live screen.
func WriteFrame(w io.Writer, frame *AsciiFrame) error {
	var b strings.Builder
	for y := 0; y < frame.Height; y++ {
		row := frame.Row(y)
		// room for double-width glyphs
		b.WriteString(encodeRow(row, frame.Width*2))
		if hasAttr(row) {
			b.WriteString("\x1b[0m")
		}
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func hasAttr(cells []Cell) bool {
	for _, c := range cells {
		if c.Attr != 0 {
			return true
		}
	}
	return false
}
