package sessions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/puzzle"
	"github.com/abhisek/crosstask/internal/task"
)

// ErrInvalidAction is returned by Apply for a malformed action.
var ErrInvalidAction = errors.New("invalid action")

// Session is one live participant session.
type Session struct {
	ID          string
	Participant string
	Machine     *game.Machine
	Puzzles     puzzle.Set
	Created     time.Time
	Resumed     bool

	assistant *chat.Assistant
	clock     clock.Clock

	mu         sync.Mutex
	lastActive time.Time
}

// LastActive returns when the session last received a command.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.clock.Now()
	s.mu.Unlock()
}

// Action is a front-end command. Task defaults to the current task.
// When Correct is nil a complete action is graded against the
// session's puzzle.
type Action struct {
	Type     string   `json:"type"`
	Task     string   `json:"task,omitempty"`
	Answer   string   `json:"answer,omitempty"`
	Correct  *bool    `json:"correct,omitempty"`
	Accuracy *float64 `json:"accuracy,omitempty"`
	Message  string   `json:"message,omitempty"`
}

// Action types.
const (
	ActionProceed       = "proceed"
	ActionPractice      = "practice"
	ActionMain          = "main"
	ActionLeavePractice = "leave-practice"
	ActionSwitch        = "switch"
	ActionComplete      = "complete"
	ActionDestination   = "destination"
	ActionFocus         = "focus"
	ActionBlur          = "blur"
	ActionActivity      = "activity"
	ActionAck           = "ack"
	ActionChat          = "chat"
)

// Apply runs a on the machine. Chat is not an Apply action; use Chat.
func (s *Session) Apply(a Action) error {
	s.touch()
	m := s.Machine
	switch strings.ToLower(strings.TrimSpace(a.Type)) {
	case ActionProceed:
		return m.Proceed()
	case ActionPractice:
		return m.StartPractice()
	case ActionMain:
		return m.StartMain()
	case ActionLeavePractice:
		return m.LeavePractice()
	case ActionSwitch:
		id, err := s.taskOf(a)
		if err != nil {
			return err
		}
		return m.SwitchTo(id)
	case ActionComplete:
		id, err := s.taskOf(a)
		if err != nil {
			return err
		}
		out, err := s.outcome(id, a)
		if err != nil {
			return err
		}
		return m.CompleteTask(id, out)
	case ActionDestination:
		id, err := s.taskOf(a)
		if err != nil {
			return err
		}
		return m.SetBreakDestination(id)
	case ActionFocus:
		m.Focus()
	case ActionBlur:
		m.Blur()
	case ActionActivity:
		m.Activity()
	case ActionAck:
		m.Acknowledge()
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAction, a.Type)
	}
	return nil
}

func (s *Session) taskOf(a Action) (task.ID, error) {
	if strings.TrimSpace(a.Task) == "" {
		return s.Machine.View().CurrentTask, nil
	}
	id, err := task.Parse(strings.TrimSpace(a.Task))
	if err != nil {
		return task.ID{}, fmt.Errorf("%w: %w", ErrInvalidAction, err)
	}
	return id, nil
}

func (s *Session) outcome(id task.ID, a Action) (game.Outcome, error) {
	if a.Correct == nil {
		if !id.Valid() {
			// The machine rejects the completion.
			return game.Outcome{Answer: a.Answer}, nil
		}
		return s.Puzzles.Grade(id, a.Answer)
	}
	out := game.Outcome{Correct: *a.Correct, Answer: a.Answer}
	switch {
	case a.Accuracy != nil:
		out.Accuracy = min(max(*a.Accuracy, 0), 100)
	case out.Correct:
		out.Accuracy = 100
	}
	return out, nil
}

// Chat charges message against the budget and starts the reply. The
// returned channel yields the reply once it has been recorded on the
// machine. The call outlives ctx's cancellation so a dropped client
// does not lose a charged reply; the assistant's timeout still
// applies.
func (s *Session) Chat(ctx context.Context, message string) (<-chan chat.Result, error) {
	s.touch()
	ticket, err := s.Machine.RequestChat(message)
	if err != nil {
		return nil, err
	}
	return s.assistant.AskAndDeliver(context.WithoutCancel(ctx), s.Machine, s.ID, ticket), nil
}
