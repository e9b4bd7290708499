package landing

import (
	"errors"
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/screen"
)

func typeCode(s *EntryScreen, code string) {
	for _, r := range code {
		s.Update(tea.KeyPressMsg{Code: r, Text: string(r)})
	}
}

func TestEntry_SubmitCallsAdmit(t *testing.T) {
	var got string
	s := NewEntry(func(code string) tea.Cmd {
		got = code
		return func() tea.Msg { return nil }
	})
	typeCode(s, "P-104")
	_, cmd := s.Update(tea.KeyPressMsg{Code: tea.KeyEnter})

	if cmd == nil {
		t.Fatal("expected the admit command")
	}
	if got != "P-104" {
		t.Errorf("admit code = %q, want %q", got, "P-104")
	}
	if !s.checking {
		t.Error("expected checking state")
	}
}

func TestEntry_EmptyCode(t *testing.T) {
	called := false
	s := NewEntry(func(string) tea.Cmd { called = true; return nil })
	s.Update(tea.KeyPressMsg{Code: tea.KeyEnter})
	if called {
		t.Error("admit should not run for an empty code")
	}
	if s.err == "" {
		t.Error("expected a prompt to enter the code")
	}
}

func TestEntry_ErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{game.ErrAccessDenied, "not on the participant list"},
		{errors.New("db down"), "db down"},
	}
	for _, tt := range tests {
		s := NewEntry(func(string) tea.Cmd { return nil })
		s.checking = true
		s.Update(screen.ErrMsg{Err: tt.err})
		if s.checking {
			t.Error("checking should end on error")
		}
		if !strings.Contains(s.View(100, 30), tt.want) {
			t.Errorf("view for %v missing %q", tt.err, tt.want)
		}
	}
}
