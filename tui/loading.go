package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/njyeung/asciiplay/player"
)

type readyMsg struct{ err error }

// LoadingModel shows a spinner until the preroll wait finishes
type LoadingModel struct {
	ready  func() error
	cancel context.CancelFunc

	width   int
	height  int
	spinner spinner.Model
	status  string
	details []string

	err      error
	finished bool
}

// NewLoadingModel creates a loading screen that runs ready in the
// background. cancel is called when the user quits.
func NewLoadingModel(status string, ready func() error, cancel context.CancelFunc) LoadingModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = titleStyle

	return LoadingModel{
		ready:   ready,
		cancel:  cancel,
		spinner: s,
		status:  status,
	}
}

// WithDetails adds information lines shown above the status
func (m LoadingModel) WithDetails(lines ...string) LoadingModel {
	m.details = lines
	return m
}

// Err returns the preroll result, or ErrAborted if the user quit
func (m LoadingModel) Err() error {
	if !m.finished {
		return ErrAborted
	}
	return m.err
}

// Init initializes the model
func (m LoadingModel) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return readyMsg{m.ready()} },
	)
}

// Update handles messages
func (m LoadingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case readyMsg:
		m.err = msg.err
		m.finished = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the loading screen
func (m LoadingModel) View() string {
	if m.finished {
		return ""
	}
	line := fmt.Sprintf("%s %s", m.spinner.View(), m.status)
	if m.width == 0 || m.height == 0 {
		var b strings.Builder
		b.WriteString("\n")
		for _, d := range m.details {
			b.WriteString("   " + answerStyle.Render(d) + "\n")
		}
		fmt.Fprintf(&b, "\n   %s\n\n", line)
		return b.String()
	}
	return renderLoadingScreen(m.width, m.height, line, m.details)
}

var logo = []string{
	"  __   ____   ___  __  __  ____  __     __   _  _ ",
	" / _\\ / ___) / __)(  )(  )(  _ \\(  )   / _\\ ( \\/ )",
	"/    \\\\___ \\( (__  )(  )(  ) __// (_/\\/    \\ )  / ",
	"\\_/\\_/(____/ \\___)(__)(__)(__)  \\____/\\_/\\_/(__/  ",
}

func renderLoadingScreen(width, height int, status string, details []string) string {
	block := append(append([]string{}, logo...), "")
	if len(details) > 0 {
		block = append(append(block, details...), "")
	}
	block = append(block, status)
	startRow := (height - len(block)) / 2

	var b strings.Builder
	for y := range height {
		var line string
		switch {
		case y >= startRow && y < startRow+len(block):
			text := block[y-startRow]
			styled := len(text) > 0 && y-startRow < len(logo)
			line = center(text, width)
			if styled {
				line = titleStyle.Render(line)
			}
		default:
			line = strings.Repeat(" ", width)
		}
		b.WriteString(line)
		if y < height-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func center(text string, width int) string {
	runes := []rune(text)
	if len(runes) > width {
		return string(runes[:width])
	}
	pad := width - len(runes)
	left := pad / 2
	return strings.Repeat(" ", left) + text + strings.Repeat(" ", pad-left)
}

// Preroll returns a player.PrerollFunc that shows the loading screen with
// status and the details lines while the player waits for its first frames.
func Preroll(status string, details []string, opts ...tea.ProgramOption) player.PrerollFunc {
	return func(ctx context.Context, ready func(context.Context) error) error {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		model := NewLoadingModel(status, func() error { return ready(ctx) }, cancel).WithDetails(details...)
		popts := append([]tea.ProgramOption{tea.WithContext(ctx), tea.WithAltScreen()}, opts...)
		final, err := tea.NewProgram(model, popts...).Run()
		if err != nil {
			if errors.Is(err, tea.ErrProgramKilled) {
				return ErrAborted
			}
			return fmt.Errorf("loading screen: %w", err)
		}
		return final.(LoadingModel).Err()
	}
}

// FormatError renders err for the terminal after the screens are gone
func FormatError(err error) string {
	return errorStyle.Render(err.Error())
}
