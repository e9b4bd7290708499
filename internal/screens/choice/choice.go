// Package choice is the menu between the instructions and the board.
package choice

import (
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/ui/components"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

// ChoiceScreen offers a practice round or the recorded game.
type ChoiceScreen struct {
	sess *sessions.Session
	menu components.Menu
	err  string
}

var _ screen.Screen = (*ChoiceScreen)(nil)
var _ screen.KeyHintProvider = (*ChoiceScreen)(nil)

// New returns the menu for sess.
func New(sess *sessions.Session) *ChoiceScreen {
	s := &ChoiceScreen{sess: sess}
	s.menu = components.NewMenu([]components.MenuItem{
		{Label: "Practice round", Hint: "nothing is recorded", Action: s.apply(sessions.ActionPractice)},
		{Label: "Start the experiment", Hint: "the clock starts", Action: s.apply(sessions.ActionMain)},
		{Label: "Quit", Action: func() tea.Cmd { return tea.Quit }},
	})
	return s
}

func (s *ChoiceScreen) apply(typ string) func() tea.Cmd {
	return func() tea.Cmd {
		if err := s.sess.Apply(sessions.Action{Type: typ}); err != nil {
			return func() tea.Msg { return screen.ErrMsg{Err: err} }
		}
		return nil
	}
}

func (s *ChoiceScreen) Init() tea.Cmd { return nil }

func (s *ChoiceScreen) Title() string { return "Ready?" }

func (s *ChoiceScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "↑↓", Description: "Navigate"},
		{Key: "Enter", Description: "Select"},
	}
}

func (s *ChoiceScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case screen.ErrMsg:
		s.err = msg.Err.Error()
		return s, nil
	case tea.KeyPressMsg:
		var cmd tea.Cmd
		s.menu, cmd = s.menu.Update(msg)
		return s, cmd
	}
	return s, nil
}

func (s *ChoiceScreen) View(width, height int) string {
	var b strings.Builder
	b.WriteString(theme.Title.Width(width).Render("How would you like to begin?"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, s.menu.View()))
	if s.err != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Foreground(theme.Error).Render(s.err))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, b.String())
}
