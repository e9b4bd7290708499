package game

import (
	"fmt"
	"time"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/task"
)

// Phase is where the session is in its lifecycle.
type Phase int

const (
	PhaseClosed         Phase = iota // waiting for the access gate
	PhaseLanding                     // instructions
	PhasePracticeChoice              // practice, start or quit
	PhaseTaskActive                  // a task is on screen
	PhaseBreak                       // forced pause between tasks
	PhaseComplete                    // all nine tasks done
	PhaseBlocked                     // ended by a watchdog
)

func (p Phase) String() string {
	switch p {
	case PhaseClosed:
		return "closed"
	case PhaseLanding:
		return "landing"
	case PhasePracticeChoice:
		return "practice-choice"
	case PhaseTaskActive:
		return "task-active"
	case PhaseBreak:
		return "break"
	case PhaseComplete:
		return "complete"
	case PhaseBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for candidate := PhaseClosed; candidate <= PhaseBlocked; candidate++ {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

// Terminal reports whether no further task interaction is possible.
func (p Phase) Terminal() bool { return p == PhaseComplete || p == PhaseBlocked }

// Playing reports whether the board is live.
func (p Phase) Playing() bool { return p == PhaseTaskActive || p == PhaseBreak }

// Mode distinguishes the rehearsal round from the recorded game.
type Mode string

const (
	ModeNone     Mode = ""
	ModePractice Mode = "practice"
	ModeMain     Mode = "main"
)

// Outcome is the result a task renderer reports on submit.
type Outcome struct {
	Correct  bool    `json:"correct"`
	Accuracy float64 `json:"accuracy"` // percent, 0-100
	Answer   string  `json:"answer,omitempty"`
}

// GameState is the single owned state of one session. Only the Machine
// mutates it; everything else sees copies through View.
type GameState struct {
	SessionID   string
	Participant string
	Mode        Mode
	Phase       Phase

	// CurrentTask is the task on screen. During a break it is the task
	// just completed.
	CurrentTask task.ID

	// Completed never shrinks and holds at most task.Total entries.
	Completed       task.Set
	CompletionOrder []task.ID
	Outcomes        map[task.ID]Outcome

	// SwitchCount counts manual switches only.
	SwitchCount int

	// TaskElapsed accumulates time on each task. Values never decrease.
	TaskElapsed map[task.ID]time.Duration

	PausedAccumulator time.Duration
	IsPaused          bool
	IsInBreak         bool

	NumPromptsUsed int
	BonusPrompts   int
	ChatHistory    []budget.Turn
	ChatDisabled   bool

	BlockReason engage.Reason
	StartedAt   time.Time
	FinishedAt  time.Time
}

func newGameState(sessionID string) GameState {
	return GameState{
		SessionID:   sessionID,
		Phase:       PhaseClosed,
		Completed:   task.Set{},
		Outcomes:    make(map[task.ID]Outcome),
		TaskElapsed: make(map[task.ID]time.Duration),
	}
}

// resetBoard clears everything a new round starts without.
func (s *GameState) resetBoard() {
	s.CurrentTask = task.ID{}
	s.Completed = task.Set{}
	s.CompletionOrder = nil
	s.Outcomes = make(map[task.ID]Outcome)
	s.SwitchCount = 0
	s.TaskElapsed = make(map[task.ID]time.Duration)
	s.PausedAccumulator = 0
	s.IsPaused = false
	s.IsInBreak = false
	s.NumPromptsUsed = 0
	s.BonusPrompts = 0
	s.ChatHistory = nil
	s.ChatDisabled = false
	s.StartedAt = time.Time{}
	s.FinishedAt = time.Time{}
}

func (s GameState) account() budget.Account {
	return budget.Account{Used: s.NumPromptsUsed, Bonus: s.BonusPrompts}
}

// clone returns a deep copy.
func (s GameState) clone() GameState {
	out := s
	out.Completed = s.Completed.Clone()
	out.CompletionOrder = append([]task.ID(nil), s.CompletionOrder...)
	out.Outcomes = make(map[task.ID]Outcome, len(s.Outcomes))
	for k, v := range s.Outcomes {
		out.Outcomes[k] = v
	}
	out.TaskElapsed = make(map[task.ID]time.Duration, len(s.TaskElapsed))
	for k, v := range s.TaskElapsed {
		out.TaskElapsed[k] = v
	}
	out.ChatHistory = append([]budget.Turn(nil), s.ChatHistory...)
	return out
}
