// Package tui holds the interactive screens shown around playback: the
// setup prompts and the preroll loading screen.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// ErrAborted is returned when the user leaves a screen with Ctrl+C or Esc
var ErrAborted = errors.New("aborted")

// Settings are the playback parameters the setup prompts collect
type Settings struct {
	Width  int
	Height int
	Delay  time.Duration
	Invert bool
}

// Preset holds values already supplied on the command line. Zero values and
// a nil Invert are asked for.
type Preset struct {
	Width   int
	Height  int
	DelayMS int
	Invert  *bool
}

// Complete reports whether every value is supplied
func (p Preset) Complete() bool {
	return p.Width > 0 && p.Height > 0 && p.DelayMS > 0 && p.Invert != nil
}

// Settings converts a complete preset
func (p Preset) Settings() Settings {
	s := Settings{
		Width:  p.Width,
		Height: p.Height,
		Delay:  time.Duration(p.DelayMS) * time.Millisecond,
	}
	if p.Invert != nil {
		s.Invert = *p.Invert
	}
	return s
}

type question struct {
	label string
	hint  string
	parse func(string, *Settings) error
}

var questions = map[string]question{
	"width": {
		label: "ASCII width",
		hint:  "columns, e.g. 120",
		parse: func(v string, s *Settings) (err error) {
			s.Width, err = parsePositive(v)
			return err
		},
	},
	"height": {
		label: "ASCII height",
		hint:  "rows, e.g. 40",
		parse: func(v string, s *Settings) (err error) {
			s.Height, err = parsePositive(v)
			return err
		},
	},
	"delay": {
		label: "Frame delay",
		hint:  "milliseconds, e.g. 33",
		parse: func(v string, s *Settings) error {
			ms, err := parsePositive(v)
			s.Delay = time.Duration(ms) * time.Millisecond
			return err
		},
	},
	"invert": {
		label: "Invert brightness",
		hint:  "y/n",
		parse: func(v string, s *Settings) (err error) {
			s.Invert, err = parseYesNo(v)
			return err
		},
	},
}

var questionOrder = []string{"width", "height", "delay", "invert"}

// SetupModel asks for each setting the preset leaves open, one at a time.
// Invalid answers are rejected and the same question is asked again.
type SetupModel struct {
	pending  []string
	answered []string
	settings Settings

	input   textinput.Model
	err     error
	done    bool
	aborted bool
}

// NewSetupModel creates the prompts for the values missing from preset
func NewSetupModel(preset Preset) SetupModel {
	m := SetupModel{settings: preset.Settings()}
	if preset.Width <= 0 {
		m.pending = append(m.pending, "width")
	}
	if preset.Height <= 0 {
		m.pending = append(m.pending, "height")
	}
	if preset.DelayMS <= 0 {
		m.pending = append(m.pending, "delay")
	}
	if preset.Invert == nil {
		m.pending = append(m.pending, "invert")
	}

	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 8
	ti.Width = 16
	ti.Focus()
	m.input = ti
	m.setPlaceholder()
	return m
}

func (m *SetupModel) setPlaceholder() {
	if len(m.pending) > 0 {
		m.input.Placeholder = questions[m.pending[0]].hint
	}
}

// Settings returns the collected values
func (m SetupModel) Settings() Settings {
	return m.settings
}

// Done reports whether every question has a valid answer
func (m SetupModel) Done() bool {
	return m.done
}

// Init initializes the model
func (m SetupModel) Init() tea.Cmd {
	if len(m.pending) == 0 {
		return tea.Quit
	}
	return textinput.Blink
}

// Update handles messages
func (m SetupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if len(m.pending) == 0 {
		m.done = true
		return m, tea.Quit
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit

		case tea.KeyEnter:
			key := m.pending[0]
			value := strings.TrimSpace(m.input.Value())
			if err := questions[key].parse(value, &m.settings); err != nil {
				m.err = fmt.Errorf("%s: %w", questions[key].label, err)
				m.input.SetValue("")
				return m, nil
			}

			m.err = nil
			m.answered = append(m.answered, fmt.Sprintf("%s: %s", questions[key].label, value))
			m.pending = m.pending[1:]
			m.input.SetValue("")
			if len(m.pending) == 0 {
				m.done = true
				return m, tea.Quit
			}
			m.setPlaceholder()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View renders the prompts
func (m SetupModel) View() string {
	var b strings.Builder
	b.WriteString("\n  " + titleStyle.Render("asciiplay") + "\n\n")
	for _, a := range m.answered {
		b.WriteString("  " + answerStyle.Render(a) + "\n")
	}
	if m.done || m.aborted || len(m.pending) == 0 {
		return b.String()
	}

	b.WriteString("  " + promptStyle.Render(questions[m.pending[0]].label) + " " + m.input.View() + "\n")
	if m.err != nil {
		b.WriteString("  " + errorStyle.Render(m.err.Error()) + "\n")
	}
	b.WriteString("\n  " + navStyle.Render("enter: confirm  esc: quit") + "\n")
	return b.String()
}

// RunSetup shows the prompts for whatever preset leaves open and returns the
// complete settings. A complete preset returns immediately.
func RunSetup(ctx context.Context, preset Preset, opts ...tea.ProgramOption) (Settings, error) {
	if preset.Complete() {
		return preset.Settings(), nil
	}

	opts = append(opts, tea.WithContext(ctx))
	final, err := tea.NewProgram(NewSetupModel(preset), opts...).Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return Settings{}, ErrAborted
		}
		return Settings{}, fmt.Errorf("setup prompts: %w", err)
	}

	m := final.(SetupModel)
	if !m.done {
		return Settings{}, ErrAborted
	}
	return m.settings, nil
}

func parsePositive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a whole number", s)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%d must be positive", n)
	}
	return n, nil
}

func parseYesNo(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("%q is not yes or no", s)
}
