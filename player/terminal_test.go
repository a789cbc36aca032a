package player

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/creack/pty"
)

func TestOpenTerminalRestore(t *testing.T) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		t.Skipf("pty unavailable: %v", err)
	}
	defer ptmx.Close()
	defer tty.Close()

	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: 24, Cols: 80}); err != nil {
		t.Fatalf("Setsize: %v", err)
	}

	var out bytes.Buffer
	term, err := OpenTerminal(tty, &out)
	if err != nil {
		t.Fatalf("OpenTerminal: %v", err)
	}
	if !strings.HasPrefix(out.String(), enterScreen) {
		t.Errorf("alternate screen not entered: %q", out.String())
	}

	cols, rows, err := TerminalSizeFunc(int(tty.Fd()))()
	if err != nil || cols != 80 || rows != 24 {
		t.Errorf("size: got %dx%d, %v", cols, rows, err)
	}

	if err := term.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if err := term.Restore(); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if got := strings.Count(out.String(), leaveScreen); got != 1 {
		t.Errorf("leave sequence written %d times", got)
	}
}

func TestMakeRawNotATerminal(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "notatty")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := MakeRaw(int(f.Fd())); !errors.Is(err, ErrTerminal) {
		t.Errorf("got %v, want ErrTerminal", err)
	}
	if _, err := OpenTerminal(f, &bytes.Buffer{}); !errors.Is(err, ErrTerminal) {
		t.Errorf("OpenTerminal: got %v, want ErrTerminal", err)
	}
}
