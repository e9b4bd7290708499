// Package blocked is shown when a watchdog ends the session.
package blocked

import (
	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

// BlockedScreen explains why the session ended.
type BlockedScreen struct {
	reason engage.Reason
}

var _ screen.Screen = (*BlockedScreen)(nil)
var _ screen.KeyHintProvider = (*BlockedScreen)(nil)

// New returns the screen for the blocked view v.
func New(v game.View) *BlockedScreen {
	return &BlockedScreen{reason: v.BlockReason}
}

func (s *BlockedScreen) Init() tea.Cmd { return nil }

func (s *BlockedScreen) Title() string { return "Session ended" }

func (s *BlockedScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{{Key: "q", Description: "Quit"}}
}

func (s *BlockedScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	if kmsg, ok := msg.(tea.KeyPressMsg); ok {
		switch kmsg.String() {
		case "q", "enter", "esc":
			return s, tea.Quit
		}
	}
	return s, nil
}

// Message returns the explanation for reason.
func Message(reason engage.Reason) string {
	switch reason {
	case engage.ReasonFocusLost:
		return "The window lost focus for too long."
	case engage.ReasonIdle:
		return "There was no activity for too long."
	default:
		return "The session can no longer continue."
	}
}

func (s *BlockedScreen) View(width, height int) string {
	body := lipgloss.JoinVertical(lipgloss.Center,
		lipgloss.NewStyle().Foreground(theme.Error).Bold(true).Render("This session has ended"),
		"",
		theme.Body.Render(Message(s.reason)),
		"",
		theme.Hint.Render("Please contact the experimenter."),
	)
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center, body)
}
