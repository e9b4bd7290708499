package summary

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"testing"
	"time"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/task"
)

// finishedSession plays every task with an explicit outcome.
func finishedSession(t *testing.T, mode string) *sessions.Session {
	t.Helper()
	fc := clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	mgr := sessions.NewManager(sessions.Config{Game: game.DefaultConfig()}, nil,
		sessions.WithClock(fc),
		sessions.WithLogger(slog.New(slog.DiscardHandler)),
	)
	t.Cleanup(mgr.Close)
	sess, err := mgr.Create(context.Background(), access.Request{Code: "P01"})
	if err != nil {
		t.Fatal(err)
	}
	for _, typ := range []string{sessions.ActionProceed, mode} {
		if err := sess.Apply(sessions.Action{Type: typ}); err != nil {
			t.Fatal(err)
		}
	}
	yes := true
	for _, f := range task.Families() {
		for _, id := range f.Tasks() {
			if err := sess.Apply(sessions.Action{Type: sessions.ActionSwitch, Task: id.String()}); err != nil {
				// Breaks refuse switches; wait them out.
				fc.Advance(game.DefaultConfig().BreakDuration)
				if err := sess.Apply(sessions.Action{Type: sessions.ActionSwitch, Task: id.String()}); err != nil {
					t.Fatalf("switch %v: %v", id, err)
				}
			}
			fc.Advance(10 * time.Second)
			if err := sess.Apply(sessions.Action{Type: sessions.ActionActivity}); err != nil {
				t.Fatal(err)
			}
			if err := sess.Apply(sessions.Action{Type: sessions.ActionComplete, Task: id.String(), Correct: &yes}); err != nil {
				t.Fatalf("complete %v: %v", id, err)
			}
		}
	}
	if got := sess.Machine.View().Phase; got != game.PhaseComplete {
		t.Fatalf("phase = %v, want complete", got)
	}
	return sess
}

func TestSummaryScreen_Title(t *testing.T) {
	s := New(finishedSession(t, sessions.ActionMain))
	if s.Title() != "All tasks complete" {
		t.Errorf("Title = %q, want %q", s.Title(), "All tasks complete")
	}
}

func TestSummaryScreen_ListsCompletionOrder(t *testing.T) {
	s := New(finishedSession(t, sessions.ActionMain))
	view := s.View(100, 30)
	for i, id := range s.view.CompletionOrder {
		if want := strconv.Itoa(i+1) + ". " + id.String(); !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestSummaryScreen_MainEnterQuits(t *testing.T) {
	s := New(finishedSession(t, sessions.ActionMain))
	_, cmd := s.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestSummaryScreen_PracticeEnterReturnsToMenu(t *testing.T) {
	sess := finishedSession(t, sessions.ActionPractice)
	s := New(sess)
	if s.Title() != "Practice complete" {
		t.Errorf("Title = %q, want %q", s.Title(), "Practice complete")
	}
	_, cmd := s.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	if cmd != nil {
		t.Error("expected no command in practice")
	}
	if got := sess.Machine.View().Phase; got != game.PhasePracticeChoice {
		t.Errorf("phase = %v, want practice-choice", got)
	}
}
