// Package summary shows the results of a finished round.
package summary

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/ui/components"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

// SummaryScreen displays the outcome of a completed round.
type SummaryScreen struct {
	sess *sessions.Session
	view game.View
	err  string
}

var _ screen.Screen = (*SummaryScreen)(nil)
var _ screen.KeyHintProvider = (*SummaryScreen)(nil)

// New creates a summary of sess as it is now.
func New(sess *sessions.Session) *SummaryScreen {
	return &SummaryScreen{sess: sess, view: sess.Machine.View()}
}

func (s *SummaryScreen) Init() tea.Cmd {
	return nil
}

func (s *SummaryScreen) Title() string {
	if s.practice() {
		return "Practice complete"
	}
	return "All tasks complete"
}

func (s *SummaryScreen) practice() bool {
	return s.view.Mode == game.ModePractice
}

func (s *SummaryScreen) KeyHints() []layout.KeyHint {
	if s.practice() {
		return []layout.KeyHint{{Key: "Enter", Description: "Back to menu"}}
	}
	return []layout.KeyHint{{Key: "Enter", Description: "Exit"}}
}

func (s *SummaryScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case screen.ViewMsg:
		s.view = msg.View
	case tea.KeyPressMsg:
		switch msg.String() {
		case "enter", "esc", "q":
			if !s.practice() {
				return s, tea.Quit
			}
			if err := s.sess.Apply(sessions.Action{Type: sessions.ActionLeavePractice}); err != nil {
				s.err = err.Error()
			}
		}
	}
	return s, nil
}

func (s *SummaryScreen) View(width, height int) string {
	v := s.view
	var b strings.Builder

	heading := "Thank you! Your session is recorded."
	if s.practice() {
		heading = "Practice finished. Nothing was recorded."
	}
	b.WriteString(theme.Title.Width(width).Render(heading))
	b.WriteString("\n\n")

	stats := fmt.Sprintf("Time: %s        Paused: %s        Switches: %d",
		layout.FormatClock(v.Elapsed), layout.FormatClock(v.PausedTotal), v.SwitchCount)
	b.WriteString(theme.Subtitle.Width(width).Render(stats))
	b.WriteString("\n\n")

	bar := components.NewProgressBar("Progress", v.Progress, true, min(width-8, 60))
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, bar.View()))
	b.WriteString("\n\n")

	divider := lipgloss.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", min(width-8, 60)))
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, divider))
	b.WriteString("\n")

	for i, id := range v.CompletionOrder {
		out := v.Outcomes[id]
		mark := theme.Correct.Render("✓")
		if !out.Correct {
			mark = theme.Incorrect.Render("✗")
		}
		line := fmt.Sprintf("%d. %s  %-9s %s  %5.1f%%  %s",
			i+1, id, id.Family.DisplayName(), mark, out.Accuracy, layout.FormatClock(v.TaskElapsed[id]))
		b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, theme.Body.Render(line)))
		b.WriteString("\n")
	}

	if s.err != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Foreground(theme.Error).Render(s.err))
	}
	return b.String()
}
