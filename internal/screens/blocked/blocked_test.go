package blocked

import (
	"strings"
	"testing"

	tea "charm.land/bubbletea/v2"

	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/game"
)

func TestMessage(t *testing.T) {
	tests := []struct {
		reason engage.Reason
		want   string
	}{
		{engage.ReasonFocusLost, "focus"},
		{engage.ReasonIdle, "no activity"},
		{"", "can no longer continue"},
	}
	for _, tt := range tests {
		if got := Message(tt.reason); !strings.Contains(got, tt.want) {
			t.Errorf("Message(%q) = %q, want it to mention %q", tt.reason, got, tt.want)
		}
	}
}

func TestBlocked_ViewAndQuit(t *testing.T) {
	s := New(game.View{Phase: game.PhaseBlocked, BlockReason: engage.ReasonIdle})
	if out := s.View(80, 24); !strings.Contains(out, Message(engage.ReasonIdle)) {
		t.Errorf("View() missing reason:\n%s", out)
	}

	_, cmd := s.Update(tea.KeyPressMsg{Code: 'x', Text: "x"})
	if cmd != nil {
		t.Error("unrelated key should not quit")
	}
	_, cmd = s.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	if cmd == nil {
		t.Fatal("q should quit")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Errorf("cmd() = %T, want tea.QuitMsg", cmd())
	}
}
