package player

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// DefaultSkipFrames is the skip distance of the Up and Down keys
const DefaultSkipFrames = 10

// EscapeWait is how long an unfinished escape sequence may wait for the rest
// of its bytes. A lone Esc still unfinished after that is the Esc key.
const EscapeWait = 25 * time.Millisecond

// longest partial sequence kept between reads
const maxTail = 32

// KeyPoller reads key presses from a raw-mode terminal without blocking.
// Each Poll checks the descriptor with a zero timeout; the scheduler's own
// sleeps pace the checks.
type KeyPoller struct {
	fd      int
	skip    int
	buf     [64]byte
	pending []Command

	// unparsed bytes of a sequence split across reads
	tail    []byte
	tailAt  time.Time
	escWait time.Duration
}

var _ Poller = (*KeyPoller)(nil)

// NewKeyPoller reads from in, which should already be in raw mode. skip is
// the frame count for the skip keys.
func NewKeyPoller(in *os.File, skip int) *KeyPoller {
	if skip <= 0 {
		skip = DefaultSkipFrames
	}
	return &KeyPoller{
		fd:      int(in.Fd()),
		skip:    skip,
		escWait: EscapeWait,
	}
}

// Poll returns the next command if a key is pending
func (p *KeyPoller) Poll() (Command, bool) {
	if len(p.pending) == 0 {
		p.fill()
	}
	if len(p.pending) == 0 {
		return Command{}, false
	}
	cmd := p.pending[0]
	p.pending = p.pending[1:]
	return cmd, true
}

func (p *KeyPoller) fill() {
	fds := []unix.PollFd{{Fd: int32(p.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, 0)
	if err != nil || n == 0 || fds[0].Revents&unix.POLLIN == 0 {
		p.expireTail()
		return
	}

	n, err = unix.Read(p.fd, p.buf[:])
	if err != nil || n <= 0 {
		return
	}

	data := append(p.tail, p.buf[:n]...)
	cmds, rest := parseKeys(data, p.skip)
	p.pending = append(p.pending, cmds...)

	p.tail = append(p.tail[:0], data[rest:]...)
	if len(p.tail) > maxTail {
		p.tail = p.tail[:0]
	}
	if len(p.tail) > 0 {
		p.tailAt = time.Now()
	}
}

// expireTail resolves a partial sequence once no more input followed it
func (p *KeyPoller) expireTail() {
	if len(p.tail) == 0 || time.Since(p.tailAt) < p.escWait {
		return
	}
	if len(p.tail) == 1 && p.tail[0] == 0x1b {
		p.pending = append(p.pending, Command{Kind: CmdQuit})
	}
	p.tail = p.tail[:0]
	p.tailAt = time.Time{}
}

// ParseKeys translates raw terminal input into commands. Unbound keys are
// dropped.
//
//	q, Esc, Ctrl+C  quit
//	p, space        toggle pause
//	Left / Right    speed down / up
//	Up / Down       skip backward / forward by skip frames
//	m               toggle mute
//	+ / -           volume up / down
func ParseKeys(b []byte, skip int) []Command {
	cmds, rest := parseKeys(b, skip)
	if rest == len(b)-1 && b[rest] == 0x1b {
		// lone Esc
		cmds = append(cmds, Command{Kind: CmdQuit})
	}
	return cmds
}

// parseKeys is ParseKeys for streamed input. It stops at an escape sequence
// that b ends in the middle of and returns its offset, or len(b) when every
// byte was consumed.
func parseKeys(b []byte, skip int) (cmds []Command, rest int) {
	for i := 0; i < len(b); i++ {
		switch c := b[i]; c {
		case 'q', 'Q', 0x03:
			cmds = append(cmds, Command{Kind: CmdQuit})
		case 'p', 'P', ' ':
			cmds = append(cmds, Command{Kind: CmdTogglePause})
		case 'm', 'M':
			cmds = append(cmds, Command{Kind: CmdToggleMute})
		case '+', '=':
			cmds = append(cmds, Command{Kind: CmdVolumeUp})
		case '-', '_':
			cmds = append(cmds, Command{Kind: CmdVolumeDown})
		case 0x1b:
			if i+1 >= len(b) {
				return cmds, i
			}
			if b[i+1] != '[' && b[i+1] != 'O' {
				// Alt+key
				i++
				continue
			}
			// CSI or SS3: parameters then a final byte in 0x40-0x7e
			j := i + 2
			for j < len(b) && (b[j] < 0x40 || b[j] > 0x7e) {
				j++
			}
			if j >= len(b) {
				return cmds, i
			}
			switch b[j] {
			case 'A':
				cmds = append(cmds, Command{Kind: CmdSkipBackward, N: skip})
			case 'B':
				cmds = append(cmds, Command{Kind: CmdSkipForward, N: skip})
			case 'C':
				cmds = append(cmds, Command{Kind: CmdSpeedUp})
			case 'D':
				cmds = append(cmds, Command{Kind: CmdSpeedDown})
			}
			i = j
		}
	}
	return cmds, len(b)
}
