// Package landing holds the screens shown before the board: code entry
// and the instructions page.
package landing

import (
	"errors"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/ui/components"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

// AdmitFunc starts admission for code. The returned command reports
// failure with a screen.ErrMsg; success is handled by the caller.
type AdmitFunc func(code string) tea.Cmd

// EntryScreen asks for the participant code.
type EntryScreen struct {
	input    components.TextInput
	admit    AdmitFunc
	checking bool
	err      string
}

var _ screen.Screen = (*EntryScreen)(nil)
var _ screen.KeyHintProvider = (*EntryScreen)(nil)

// NewEntry returns the code entry screen.
func NewEntry(admit AdmitFunc) *EntryScreen {
	return &EntryScreen{
		input: components.NewTextInput("Participant code", "e.g. P-104", 32, 32),
		admit: admit,
	}
}

func (s *EntryScreen) Init() tea.Cmd {
	return s.input.Init()
}

func (s *EntryScreen) Title() string {
	return "Sign in"
}

func (s *EntryScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "Enter", Description: "Continue"},
		{Key: "Ctrl+C", Description: "Quit"},
	}
}

func (s *EntryScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case screen.ErrMsg:
		s.checking = false
		s.err = admitError(msg.Err)
		return s, nil

	case tea.KeyPressMsg:
		if s.checking {
			return s, nil
		}
		if msg.String() == "enter" {
			code := strings.TrimSpace(s.input.Value())
			if code == "" {
				s.err = "Enter your participant code to continue."
				return s, nil
			}
			s.err = ""
			s.checking = true
			return s, s.admit(code)
		}
	}

	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)
	return s, cmd
}

func admitError(err error) string {
	if errors.Is(err, game.ErrAccessDenied) {
		return "That code is not on the participant list."
	}
	return "Could not check the code: " + err.Error()
}

func (s *EntryScreen) View(width, height int) string {
	var b strings.Builder
	b.WriteString(theme.Title.Width(width).Render("Welcome"))
	b.WriteString("\n\n")
	b.WriteString(theme.Subtitle.Width(width).Render("Enter the code you were given to start."))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, s.input.View()))
	b.WriteString("\n\n")

	switch {
	case s.checking:
		b.WriteString(theme.Subtitle.Width(width).Render("Checking…"))
	case s.err != "":
		b.WriteString(lipgloss.NewStyle().
			Width(width).
			Align(lipgloss.Center).
			Foreground(theme.Error).
			Render(s.err))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, b.String())
}
