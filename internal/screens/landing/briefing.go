package landing

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

// BriefingScreen explains the experiment before the participant
// proceeds.
type BriefingScreen struct {
	sess *sessions.Session
	view game.View
	err  string
}

var _ screen.Screen = (*BriefingScreen)(nil)
var _ screen.KeyHintProvider = (*BriefingScreen)(nil)

// NewBriefing returns the instructions screen for sess.
func NewBriefing(sess *sessions.Session) *BriefingScreen {
	return &BriefingScreen{sess: sess, view: sess.Machine.View()}
}

func (s *BriefingScreen) Init() tea.Cmd { return nil }

func (s *BriefingScreen) Title() string { return "Instructions" }

func (s *BriefingScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "Enter", Description: "Continue"},
		{Key: "Ctrl+C", Description: "Quit"},
	}
}

func (s *BriefingScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case screen.ViewMsg:
		s.view = msg.View
	case tea.KeyPressMsg:
		if msg.String() == "enter" {
			if err := s.sess.Apply(sessions.Action{Type: sessions.ActionProceed}); err != nil {
				s.err = err.Error()
			}
		}
	}
	return s, nil
}

func (s *BriefingScreen) View(width, height int) string {
	w := min(width-8, 72)
	lines := []string{
		"There are nine tasks in three families: counting symbols, matching a",
		"bar to a target and typing a pattern. Each family has three levels and",
		"a level unlocks once the one before it is done.",
		"",
		"You may switch between unlocked tasks at any time. After each task a",
		"short break runs. During it you can pick the next task with the arrow",
		"keys, otherwise one is chosen for you.",
		"",
		fmt.Sprintf("An assistant can answer questions. You start with %d prompts and", s.view.Chat.Allowance),
		"earn another with every completed task.",
		"",
		"Keep this window focused and keep working. Leaving the window or going",
		"idle for too long ends the session.",
	}

	var b strings.Builder
	b.WriteString(theme.Title.Width(w).Render("Before you start"))
	b.WriteString("\n\n")
	b.WriteString(theme.Card.Width(w).Render(theme.Body.Render(strings.Join(lines, "\n"))))
	b.WriteString("\n\n")
	if s.view.Participant != "" {
		b.WriteString(theme.Subtitle.Width(w).Render("Signed in as " + s.view.Participant))
		b.WriteString("\n")
	}
	if s.err != "" {
		b.WriteString(lipgloss.NewStyle().Width(w).Align(lipgloss.Center).Foreground(theme.Error).Render(s.err))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, b.String())
}
