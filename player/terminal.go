package player

import (
	"fmt"
	"io"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// GetTerminalSize returns terminal dimensions (cols, rows, widthPx, heightPx)
func GetTerminalSize(fd int) (cols, rows, widthPx, heightPx int, err error) {
	ws, err := unix.IoctlGetWinsize(fd, unix.TIOCGWINSZ)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return int(ws.Col), int(ws.Row), int(ws.Xpixel), int(ws.Ypixel), nil
}

// TerminalSizeFunc returns a size query for the renderer reading the
// terminal behind fd.
func TerminalSizeFunc(fd int) func() (cols, rows int, err error) {
	return func() (int, int, error) {
		cols, rows, _, _, err := GetTerminalSize(fd)
		return cols, rows, err
	}
}

// MakeRaw puts the terminal behind fd into raw mode and returns a function
// restoring the previous settings.
func MakeRaw(fd int) (restore func() error, err error) {
	old, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		return nil, fmt.Errorf("%w: read terminal settings: %v", ErrTerminal, err)
	}

	raw := *old
	raw.Iflag &^= unix.IXON | unix.ICRNL | unix.BRKINT | unix.INPCK | unix.ISTRIP
	raw.Lflag &^= unix.ECHO | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0
	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, &raw); err != nil {
		return nil, fmt.Errorf("%w: enter raw mode: %v", ErrTerminal, err)
	}

	return func() error {
		if err := unix.IoctlSetTermios(fd, ioctlSetTermios, old); err != nil {
			return fmt.Errorf("%w: restore terminal settings: %v", ErrTerminal, err)
		}
		return nil
	}, nil
}

const (
	enterScreen = "\x1b[?1049h\x1b[?25l\x1b[2J\x1b[H"
	leaveScreen = "\x1b[0m\x1b[?25h\x1b[?1049l"
)

// TerminalSession owns the terminal for the length of playback: raw input,
// alternate screen and hidden cursor. Restore undoes all of it and is safe
// to call more than once.
type TerminalSession struct {
	out     io.Writer
	restore func() error

	once sync.Once
	err  error
}

// OpenTerminal switches in to raw mode and the alternate screen. out is where
// frames are drawn.
func OpenTerminal(in *os.File, out io.Writer) (*TerminalSession, error) {
	restore, err := MakeRaw(int(in.Fd()))
	if err != nil {
		return nil, err
	}

	if _, err := io.WriteString(out, enterScreen); err != nil {
		restore()
		return nil, fmt.Errorf("%w: enter alternate screen: %v", ErrTerminal, err)
	}

	return &TerminalSession{
		out:     out,
		restore: restore,
	}, nil
}

// Restore leaves the alternate screen and restores the input mode. Both steps
// are attempted even if the first fails.
func (t *TerminalSession) Restore() error {
	t.once.Do(func() {
		_, werr := io.WriteString(t.out, leaveScreen)
		rerr := t.restore()
		if rerr != nil {
			t.err = rerr
		} else if werr != nil {
			t.err = fmt.Errorf("%w: leave alternate screen: %v", ErrTerminal, werr)
		}
	})
	return t.err
}
