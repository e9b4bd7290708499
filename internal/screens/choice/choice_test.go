package choice

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/sessions"
)

func newChoice(t *testing.T) (*ChoiceScreen, *sessions.Session) {
	t.Helper()
	mgr := sessions.NewManager(sessions.Config{Game: game.DefaultConfig()}, nil,
		sessions.WithLogger(slog.New(slog.DiscardHandler)),
	)
	t.Cleanup(mgr.Close)
	sess, err := mgr.Create(context.Background(), access.Request{Code: "P07"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := sess.Apply(sessions.Action{Type: sessions.ActionProceed}); err != nil {
		t.Fatalf("Apply(proceed): %v", err)
	}
	return New(sess), sess
}

var (
	enter = tea.KeyPressMsg{Code: tea.KeyEnter}
	down  = tea.KeyPressMsg{Code: tea.KeyDown}
)

func TestChoice_PracticeIsFirst(t *testing.T) {
	s, sess := newChoice(t)
	s.Update(enter)

	v := sess.Machine.View()
	if v.Mode != game.ModePractice || v.Phase != game.PhaseTaskActive {
		t.Errorf("mode/phase = %v/%v, want practice/task-active", v.Mode, v.Phase)
	}
}

func TestChoice_StartMain(t *testing.T) {
	s, sess := newChoice(t)
	s.Update(down)
	s.Update(enter)

	if got := sess.Machine.View().Mode; got != game.ModeMain {
		t.Errorf("Mode = %v, want %v", got, game.ModeMain)
	}
}

func TestChoice_Quit(t *testing.T) {
	s, _ := newChoice(t)
	s.Update(down)
	s.Update(down)
	_, cmd := s.Update(enter)
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("cmd() = %T, want tea.QuitMsg", cmd())
	}
}

func TestChoice_ShowsError(t *testing.T) {
	s, _ := newChoice(t)
	s.Update(screen.ErrMsg{Err: errors.New("not now")})
	if out := s.View(80, 24); !strings.Contains(out, "not now") {
		t.Errorf("View() missing error:\n%s", out)
	}
}
