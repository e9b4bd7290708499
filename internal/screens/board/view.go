package board

import (
	"fmt"
	"strings"
	"time"

	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/task"
	"github.com/abhisek/crosstask/internal/ui/layout"
	"github.com/abhisek/crosstask/internal/ui/theme"
)

const chatPanelWidth = 40

func (s *BoardScreen) View(width, height int) string {
	var b strings.Builder
	b.WriteString(s.renderTabs(width))
	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Border).Render(strings.Repeat("─", max(width-4, 0))))
	b.WriteString("\n")
	if banner := s.renderBanner(width); banner != "" {
		b.WriteString(banner)
		b.WriteString("\n")
	}

	mainWidth := max(width-chatPanelWidth-6, 30)
	var main string
	if s.view.Phase == game.PhaseBreak && s.view.Break != nil {
		main = s.renderBreak(mainWidth)
	} else {
		main = s.renderPuzzle(mainWidth)
	}
	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		lipgloss.NewStyle().Width(mainWidth).Render(main),
		"  ",
		s.renderChat(chatPanelWidth),
	))
	return b.String()
}

func (s *BoardScreen) renderTabs(width int) string {
	var groups []string
	for _, f := range task.Families() {
		var tabs []string
		for _, id := range f.Tasks() {
			st := s.view.Status(id)
			label := st.Icon() + " " + id.String()
			switch {
			case id == s.view.CurrentTask:
				tabs = append(tabs, theme.TabActive.Render(label))
			case st == task.StatusCompleted:
				tabs = append(tabs, theme.TabDone.Render(label))
			case st == task.StatusLocked:
				tabs = append(tabs, theme.TabIdle.Foreground(theme.Border).Render(label))
			default:
				tabs = append(tabs, theme.TabIdle.Render(label))
			}
		}
		groups = append(groups, strings.Join(tabs, ""))
	}
	sep := lipgloss.NewStyle().Foreground(theme.Border).Render(" │ ")
	row := strings.Join(groups, sep)

	clock := lipgloss.NewStyle().Foreground(theme.Accent).Render(layout.FormatClock(s.view.Elapsed))
	pad := max(width-lipgloss.Width(row)-lipgloss.Width(clock)-4, 1)
	return "  " + row + strings.Repeat(" ", pad) + clock
}

// renderBanner shows a running watchdog countdown.
func (s *BoardScreen) renderBanner(width int) string {
	e := s.view.Engagement
	var text string
	switch {
	case e.FocusLost:
		text = fmt.Sprintf("Window focus lost. Come back within %s or the session ends.", seconds(e.FocusRemaining))
	case e.IdleWarning:
		text = fmt.Sprintf("Still there? Press any key within %s.", seconds(e.IdleRemaining))
	default:
		return ""
	}
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, theme.Banner.Render(text))
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%ds", int((d+time.Second-1)/time.Second))
}

func (s *BoardScreen) renderPuzzle(width int) string {
	id := s.view.CurrentTask
	p, ok := s.sess.Puzzles[id]
	if !ok {
		return theme.Hint.Render("No task selected.")
	}

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Secondary).Bold(true).
		Render(fmt.Sprintf("%s · level %d (%s)", id.Family.DisplayName(), id.Level, id.Difficulty())))
	b.WriteString("\n")
	b.WriteString(theme.Body.Render(p.Instructions()))
	b.WriteString("\n\n")

	effect, _ := s.view.Enhancement(id)
	b.WriteString(p.Render(effect, s.answer.Value(), mark))
	b.WriteString("\n\n")

	if out, done := s.view.Outcomes[id]; done {
		b.WriteString(outcomeLine(out))
		b.WriteString("\n")
	} else {
		b.WriteString(s.answer.View())
		b.WriteString("\n")
	}
	if s.notice != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Error).Width(width).Render(s.notice))
		b.WriteString("\n")
	}
	return b.String()
}

func mark(s string) string { return theme.Mark.Render(s) }

func outcomeLine(out game.Outcome) string {
	if out.Correct {
		return theme.Correct.Render(fmt.Sprintf("Done: correct (%.0f%%)", out.Accuracy))
	}
	return theme.Incorrect.Render(fmt.Sprintf("Done: %.0f%% accurate", out.Accuracy))
}

func (s *BoardScreen) renderBreak(width int) string {
	br := s.view.Break
	var b strings.Builder
	b.WriteString(theme.Title.Width(width).Render("Short break"))
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Width(width).Align(lipgloss.Center).Foreground(theme.Accent).Bold(true).
		Render(seconds(br.Remaining)))
	b.WriteString("\n\n")

	var opts []string
	for _, id := range task.All() {
		if s.view.Status(id) != task.StatusAvailable {
			continue
		}
		label := id.String()
		if id == br.Default {
			label += "*"
		}
		if id == br.Destination {
			opts = append(opts, theme.TabActive.Render(label))
		} else {
			opts = append(opts, theme.TabIdle.Render(label))
		}
	}
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, "← "+strings.Join(opts, " ")+" →"))
	b.WriteString("\n\n")
	next := "Next: " + br.Destination.String()
	if !br.Manual {
		next += " (suggested)"
	}
	b.WriteString(theme.Subtitle.Width(width).Render(next))
	return b.String()
}

func (s *BoardScreen) renderChat(width int) string {
	c := s.view.Chat
	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Foreground(theme.Primary).Bold(true).Render("Assistant"))
	b.WriteString(theme.Hint.Render(fmt.Sprintf("  %d/%d prompts left", c.Remaining, c.Allowance)))
	b.WriteString("\n\n")

	history := c.History
	if len(history) > 6 {
		history = history[len(history)-6:]
	}
	for _, turn := range history {
		if turn.Role == budget.RoleUser {
			b.WriteString(lipgloss.NewStyle().Foreground(theme.TextDim).Width(width).Render("you: " + turn.Content))
		} else {
			b.WriteString(lipgloss.NewStyle().Foreground(theme.Text).Width(width).Render(turn.Content))
		}
		b.WriteString("\n")
	}
	if len(s.lastTags) > 0 {
		b.WriteString(theme.Hint.Render("[" + strings.Join(s.lastTags, " · ") + "]"))
		b.WriteString("\n")
	}
	if s.waiting {
		b.WriteString(theme.Hint.Render("thinking…"))
		b.WriteString("\n")
	}
	if s.chatErr != "" {
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Error).Width(width).Render(s.chatErr))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	if c.Disabled {
		b.WriteString(theme.Hint.Render("Complete a task to ask again."))
	} else {
		b.WriteString(s.prompt.View())
	}

	return lipgloss.NewStyle().
		Width(width).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(theme.Border).
		Padding(0, 1).
		Render(b.String())
}
