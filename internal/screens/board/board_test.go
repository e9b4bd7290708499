package board

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/puzzle"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/task"
)

func newTestBoard(t *testing.T, mode string, mutate func(*game.Config)) (*BoardScreen, *sessions.Session, *clock.FakeClock) {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := game.DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	mgr := sessions.NewManager(sessions.Config{Game: cfg}, nil,
		sessions.WithClock(fc),
		sessions.WithLogger(slog.New(slog.DiscardHandler)),
	)
	t.Cleanup(mgr.Close)

	sess, err := mgr.Create(context.Background(), access.Request{Code: "P01"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, typ := range []string{sessions.ActionProceed, mode} {
		if err := sess.Apply(sessions.Action{Type: typ}); err != nil {
			t.Fatalf("Apply(%s): %v", typ, err)
		}
	}
	return New(context.Background(), sess), sess, fc
}

func press(s screen.Screen, keys ...tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	var cmd tea.Cmd
	for _, k := range keys {
		s, cmd = s.Update(k)
	}
	return s, cmd
}

func typed(text string) []tea.KeyPressMsg {
	var out []tea.KeyPressMsg
	for _, r := range text {
		out = append(out, tea.KeyPressMsg{Code: r, Text: string(r)})
	}
	return out
}

var (
	enter = tea.KeyPressMsg{Code: tea.KeyEnter}
	tab   = tea.KeyPressMsg{Code: tea.KeyTab}
	right = tea.KeyPressMsg{Code: tea.KeyRight}
	esc   = tea.KeyPressMsg{Code: tea.KeyEscape}
	ctrlN = tea.KeyPressMsg{Code: 'n', Mod: tea.ModCtrl}
)

func answerFor(p puzzle.Puzzle) string {
	switch p := p.(type) {
	case *puzzle.Count:
		return strconv.Itoa(p.Want)
	case *puzzle.Match:
		return strconv.Itoa(p.Want)
	case *puzzle.Type:
		return p.Pattern
	}
	return ""
}

func TestBoard_SubmitStartsBreak(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionMain, nil)
	first := task.New(task.FamilyCount, 1)

	press(b, typed(answerFor(sess.Puzzles[first]))...)
	press(b, enter)

	v := sess.Machine.View()
	if v.Phase != game.PhaseBreak {
		t.Fatalf("phase = %v, want break", v.Phase)
	}
	if out := v.Outcomes[first]; !out.Correct || out.Accuracy != 100 {
		t.Errorf("outcome = %+v, want correct at 100", out)
	}
	if b.notice != "" {
		t.Errorf("notice = %q, want empty", b.notice)
	}
}

func TestBoard_CountInputRejectsLetters(t *testing.T) {
	b, _, _ := newTestBoard(t, sessions.ActionMain, nil)
	press(b, typed("a1b2")...)
	if got := b.answer.Value(); got != "12" {
		t.Errorf("answer = %q, want %q", got, "12")
	}
}

func TestBoard_EmptySubmitShowsNotice(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionMain, nil)
	press(b, enter)
	if b.notice == "" {
		t.Error("expected a notice for an empty answer")
	}
	if got := sess.Machine.View().Phase; got != game.PhaseTaskActive {
		t.Errorf("phase = %v, want task-active", got)
	}
}

func TestBoard_NextTaskSkipsLocked(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionMain, nil)
	press(b, ctrlN)

	v := sess.Machine.View()
	if want := task.New(task.FamilyMatch, 1); v.CurrentTask != want {
		t.Errorf("current = %v, want %v", v.CurrentTask, want)
	}
	if v.SwitchCount != 1 {
		t.Errorf("SwitchCount = %d, want 1", v.SwitchCount)
	}
	if b.Title() != "Task g2t1" {
		t.Errorf("Title = %q, want %q", b.Title(), "Task g2t1")
	}
}

func TestBoard_BreakArrowPicksDestination(t *testing.T) {
	b, sess, fc := newTestBoard(t, sessions.ActionMain, nil)
	first := task.New(task.FamilyCount, 1)
	press(b, typed(answerFor(sess.Puzzles[first]))...)
	press(b, enter)

	br := sess.Machine.View().Break
	if br == nil || br.Default != task.New(task.FamilyCount, 2) {
		t.Fatalf("break = %+v, want default g1t2", br)
	}

	press(b, right)
	br = sess.Machine.View().Break
	if br.Destination != task.New(task.FamilyMatch, 1) || !br.Manual {
		t.Errorf("destination = %v manual=%v, want g2t1 manual", br.Destination, br.Manual)
	}

	fc.Advance(game.DefaultConfig().BreakDuration)
	if got := sess.Machine.View().CurrentTask; got != task.New(task.FamilyMatch, 1) {
		t.Errorf("after break current = %v, want g2t1", got)
	}
}

func TestBoard_ChatRoundTrip(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionMain, nil)
	press(b, tab)
	press(b, typed("how do I count?")...)
	_, cmd := press(b, enter)
	if cmd == nil {
		t.Fatal("expected a command waiting for the reply")
	}
	if !b.waiting {
		t.Error("expected waiting after send")
	}

	b.Update(cmd())
	if b.waiting {
		t.Error("expected waiting cleared after the reply")
	}
	if len(b.lastTags) != 2 {
		t.Errorf("tags = %v, want two tags", b.lastTags)
	}
	if got := len(sess.Machine.View().Chat.History); got != 2 {
		t.Errorf("history = %d turns, want 2", got)
	}
	if b.prompt.Value() != "" {
		t.Errorf("prompt = %q, want cleared", b.prompt.Value())
	}
}

func TestBoard_ChatOutOfPrompts(t *testing.T) {
	b, _, _ := newTestBoard(t, sessions.ActionMain, func(c *game.Config) {
		c.Limits = budget.Limits{BasePrompts: 1, MaxTokens: 4000}
	})
	press(b, tab)
	press(b, typed("one")...)
	_, cmd := press(b, enter)
	b.Update(cmd())

	press(b, typed("two")...)
	_, cmd = press(b, enter)
	if cmd != nil {
		t.Error("expected no command for a rejected prompt")
	}
	if !strings.Contains(b.chatErr, "No prompts left") {
		t.Errorf("chatErr = %q, want out-of-prompts message", b.chatErr)
	}
}

func TestBoard_EscLeavesPractice(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionPractice, nil)
	if b.Title() != "Practice round" {
		t.Errorf("Title = %q, want %q", b.Title(), "Practice round")
	}
	press(b, esc)
	if got := sess.Machine.View().Phase; got != game.PhasePracticeChoice {
		t.Errorf("phase = %v, want practice-choice", got)
	}
}

func TestBoard_StaleTickIgnored(t *testing.T) {
	b, _, _ := newTestBoard(t, sessions.ActionMain, nil)
	_, cmd := b.Update(refreshTickMsg{owner: &BoardScreen{}})
	if cmd != nil {
		t.Error("expected no follow-up tick for another board's message")
	}
	_, cmd = b.Update(refreshTickMsg{owner: b})
	if cmd == nil {
		t.Error("expected the next tick to be scheduled")
	}
}

func TestBoard_ViewShowsWatchdogBanner(t *testing.T) {
	b, sess, _ := newTestBoard(t, sessions.ActionMain, nil)
	if err := sess.Apply(sessions.Action{Type: sessions.ActionBlur}); err != nil {
		t.Fatal(err)
	}
	b.Update(screen.ViewMsg{View: sess.Machine.View()})
	if out := b.View(120, 40); !strings.Contains(out, "Window focus lost") {
		t.Error("expected the focus banner in the view")
	}
}

func TestStep(t *testing.T) {
	all := task.All()
	open := func(id task.ID) bool { return id.Level == 1 }
	tests := []struct {
		from task.ID
		dir  int
		want task.ID
	}{
		{task.New(task.FamilyCount, 1), 1, task.New(task.FamilyMatch, 1)},
		{task.New(task.FamilyCount, 1), -1, task.New(task.FamilyType, 1)},
		{task.New(task.FamilyType, 1), 1, task.New(task.FamilyCount, 1)},
	}
	for _, tt := range tests {
		got, ok := step(all, tt.from, tt.dir, open)
		if !ok || got != tt.want {
			t.Errorf("step(%v, %d) = %v, %v; want %v", tt.from, tt.dir, got, ok, tt.want)
		}
	}
}
