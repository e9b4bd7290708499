// Package board is the game screen: the task tabs, the puzzle, the
// break overlay and the assistant panel.
package board

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/task"
	"github.com/abhisek/crosstask/internal/ui/components"
	"github.com/abhisek/crosstask/internal/ui/layout"
)

const refreshInterval = 250 * time.Millisecond

type field int

const (
	fieldAnswer field = iota
	fieldChat
)

var errReplyLost = errors.New("reply channel closed")

// BoardScreen plays the nine tasks of one round.
type BoardScreen struct {
	ctx  context.Context
	sess *sessions.Session
	view game.View

	answer     components.TextInput
	answerTask task.ID
	prompt     components.TextInput
	focus      field

	notice   string
	chatErr  string
	lastTags []string
	waiting  bool
}

var _ screen.Screen = (*BoardScreen)(nil)
var _ screen.KeyHintProvider = (*BoardScreen)(nil)

// New returns the board for sess. ctx bounds assistant calls.
func New(ctx context.Context, sess *sessions.Session) *BoardScreen {
	s := &BoardScreen{
		ctx:    ctx,
		sess:   sess,
		prompt: components.NewTextInput("Ask the assistant", "type a question", 280, 36),
	}
	s.prompt.Blur()
	s.view = sess.Machine.View()
	s.resetAnswer(s.view.CurrentTask)
	return s
}

func (s *BoardScreen) Init() tea.Cmd {
	return tea.Batch(s.answer.Init(), s.refreshCmd())
}

func (s *BoardScreen) refreshCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{owner: s}
	})
}

func (s *BoardScreen) Title() string {
	if s.view.Mode == game.ModePractice {
		return "Practice round"
	}
	if s.view.CurrentTask.Valid() {
		return "Task " + s.view.CurrentTask.String()
	}
	return "Tasks"
}

func (s *BoardScreen) KeyHints() []layout.KeyHint {
	if s.view.Phase == game.PhaseBreak {
		return []layout.KeyHint{
			{Key: "←→", Description: "Choose next task"},
			{Key: "Tab", Description: "Assistant"},
		}
	}
	hints := []layout.KeyHint{
		{Key: "Enter", Description: "Submit"},
		{Key: "Ctrl+N/P", Description: "Next/prev task"},
		{Key: "Tab", Description: "Assistant"},
	}
	if s.view.Mode == game.ModePractice {
		hints = append(hints, layout.KeyHint{Key: "Esc", Description: "End practice"})
	}
	return hints
}

// setView adopts v and resets the answer field when the task changes.
func (s *BoardScreen) setView(v game.View) {
	s.view = v
	if v.CurrentTask != s.answerTask {
		s.resetAnswer(v.CurrentTask)
	}
}

func (s *BoardScreen) resetAnswer(id task.ID) {
	s.answerTask = id
	s.notice = ""
	s.answer = components.NewTextInput("Your answer", "", 64, 40)
	s.answer.Allowed = allowedInput(id.Family)
	if s.focus != fieldAnswer {
		s.answer.Blur()
	}
}

func allowedInput(f task.Family) string {
	switch f {
	case task.FamilyCount:
		return "0123456789"
	case task.FamilyMatch:
		return "0123456789.%"
	default:
		return ""
	}
}

func (s *BoardScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case screen.ViewMsg:
		s.setView(msg.View)
		return s, nil

	case refreshTickMsg:
		if msg.owner != s {
			return s, nil
		}
		if s.view.Phase.Playing() {
			s.setView(s.sess.Machine.View())
		}
		return s, s.refreshCmd()

	case chatReplyMsg:
		s.waiting = false
		if msg.Result.Err != nil {
			s.chatErr = "The assistant is unavailable right now."
			return s, nil
		}
		s.chatErr = ""
		s.lastTags = msg.Result.Reply.Tags
		s.setView(s.sess.Machine.View())
		return s, nil

	case tea.KeyPressMsg:
		return s.handleKey(msg)
	}

	return s.forward(msg)
}

func (s *BoardScreen) handleKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	key := msg.String()

	if s.view.Phase == game.PhaseBreak {
		switch key {
		case "left":
			s.cycleDestination(-1)
			return s, nil
		case "right":
			s.cycleDestination(1)
			return s, nil
		}
	}

	switch key {
	case "tab":
		return s, s.toggleFocus()
	case "ctrl+n":
		s.cycleTask(1)
		return s, nil
	case "ctrl+p":
		s.cycleTask(-1)
		return s, nil
	case "esc":
		if s.view.Mode == game.ModePractice {
			s.apply(sessions.Action{Type: sessions.ActionLeavePractice})
		}
		return s, nil
	case "enter":
		if s.focus == fieldChat {
			return s, s.sendChat()
		}
		s.submit()
		return s, nil
	}
	return s.forward(msg)
}

func (s *BoardScreen) forward(msg tea.Msg) (screen.Screen, tea.Cmd) {
	var cmd tea.Cmd
	if s.focus == fieldChat {
		s.prompt, cmd = s.prompt.Update(msg)
	} else {
		s.answer, cmd = s.answer.Update(msg)
	}
	return s, cmd
}

func (s *BoardScreen) toggleFocus() tea.Cmd {
	if s.focus == fieldAnswer {
		s.focus = fieldChat
		s.answer.Blur()
		return s.prompt.Focus()
	}
	s.focus = fieldAnswer
	s.prompt.Blur()
	return s.answer.Focus()
}

func (s *BoardScreen) apply(a sessions.Action) bool {
	if err := s.sess.Apply(a); err != nil {
		s.notice = rejection(err)
		return false
	}
	s.notice = ""
	s.setView(s.sess.Machine.View())
	return true
}

func rejection(err error) string {
	var te *game.InvalidTransitionError
	if errors.As(err, &te) {
		return "Not now: " + te.Reason
	}
	return err.Error()
}

func (s *BoardScreen) submit() {
	if s.view.Phase != game.PhaseTaskActive {
		return
	}
	answer := strings.TrimSpace(s.answer.Value())
	if answer == "" {
		s.notice = "Type an answer first."
		return
	}
	s.apply(sessions.Action{
		Type:   sessions.ActionComplete,
		Task:   s.view.CurrentTask.String(),
		Answer: answer,
	})
}

// cycleTask switches to the next task in All() order that is not
// locked.
func (s *BoardScreen) cycleTask(dir int) {
	if s.view.Phase != game.PhaseTaskActive {
		return
	}
	next, ok := step(task.All(), s.view.CurrentTask, dir, func(id task.ID) bool {
		return s.view.Status(id) != task.StatusLocked
	})
	if !ok {
		return
	}
	s.apply(sessions.Action{Type: sessions.ActionSwitch, Task: next.String()})
}

// cycleDestination moves the break destination among the open tasks.
func (s *BoardScreen) cycleDestination(dir int) {
	if s.view.Break == nil {
		return
	}
	next, ok := step(task.All(), s.view.Break.Destination, dir, func(id task.ID) bool {
		return s.view.Status(id) == task.StatusAvailable
	})
	if !ok {
		return
	}
	s.apply(sessions.Action{Type: sessions.ActionDestination, Task: next.String()})
}

// step returns the next id after from in ids, wrapping, that satisfies
// ok and is not from itself.
func step(ids []task.ID, from task.ID, dir int, ok func(task.ID) bool) (task.ID, bool) {
	start := 0
	for i, id := range ids {
		if id == from {
			start = i
			break
		}
	}
	n := len(ids)
	for i := 1; i < n; i++ {
		id := ids[((start+dir*i)%n+n)%n]
		if id != from && ok(id) {
			return id, true
		}
	}
	return task.ID{}, false
}

func (s *BoardScreen) sendChat() tea.Cmd {
	if s.waiting {
		return nil
	}
	msg := strings.TrimSpace(s.prompt.Value())
	if msg == "" {
		return nil
	}
	ch, err := s.sess.Chat(s.ctx, msg)
	if err != nil {
		s.chatErr = chatRejection(err)
		return nil
	}
	s.chatErr = ""
	s.waiting = true
	s.prompt.Reset()
	s.setView(s.sess.Machine.View())
	return waitReply(ch)
}

func waitReply(ch <-chan chat.Result) tea.Cmd {
	return func() tea.Msg {
		res, ok := <-ch
		if !ok {
			return chatReplyMsg{Result: chat.Result{Err: errReplyLost}}
		}
		return chatReplyMsg{Result: res}
	}
}

func chatRejection(err error) string {
	var ex *budget.ExceededError
	if errors.As(err, &ex) {
		if ex.Kind == budget.KindPrompts {
			return "No prompts left. Complete a task to earn another."
		}
		return "That question is too long for the remaining budget."
	}
	return rejection(err)
}
