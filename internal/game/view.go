package game

import (
	"time"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/task"
)

// View is a read-only copy of the session for rendering.
type View struct {
	SessionID   string `json:"session_id"`
	Participant string `json:"participant,omitempty"`
	Mode        Mode   `json:"mode,omitempty"`
	Phase       Phase  `json:"phase"`

	CurrentTask     task.ID                    `json:"current_task,omitzero"`
	Statuses        map[task.ID]task.Status    `json:"statuses"`
	Completed       []task.ID                  `json:"completed"`
	CompletionOrder []task.ID                  `json:"completion_order"`
	Outcomes        map[task.ID]Outcome        `json:"outcomes,omitempty"`
	Enhancements    map[task.ID]enhance.Effect `json:"enhancements,omitempty"`
	Progress        float64                    `json:"progress"`
	SwitchCount     int                        `json:"switch_count"`

	Elapsed     time.Duration             `json:"elapsed_ns"`
	TaskElapsed map[task.ID]time.Duration `json:"task_elapsed_ns,omitempty"`
	PausedTotal time.Duration             `json:"paused_ns"`
	IsPaused    bool                      `json:"is_paused"`
	IsInBreak   bool                      `json:"is_in_break"`

	Break      *BreakView    `json:"break,omitempty"`
	Engagement engage.Status `json:"engagement"`
	Chat       ChatView      `json:"chat"`

	BlockReason engage.Reason `json:"block_reason,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	FinishedAt  time.Time     `json:"finished_at,omitzero"`
}

// BreakView describes a running break.
type BreakView struct {
	Anchor      task.ID       `json:"anchor"`
	Default     task.ID       `json:"default"`
	Destination task.ID       `json:"destination"`
	Manual      bool          `json:"manual"`
	Remaining   time.Duration `json:"remaining_ns"`
	Duration    time.Duration `json:"duration_ns"`
}

// ChatView is the assistant panel state.
type ChatView struct {
	Used      int           `json:"used"`
	Bonus     int           `json:"bonus"`
	Allowance int           `json:"allowance"`
	Remaining int           `json:"remaining"`
	MaxTokens int           `json:"max_tokens"`
	Disabled  bool          `json:"disabled"`
	Pending   int           `json:"pending"`
	History   []budget.Turn `json:"history"`
}

// Enhancement returns the effect applied to id, if any.
func (v View) Enhancement(id task.ID) (enhance.Effect, bool) {
	e, ok := v.Enhancements[id]
	return e, ok
}

// Status returns the lock status of id.
func (v View) Status(id task.ID) task.Status {
	return v.Statuses[id]
}

// View returns the current state.
func (m *Machine) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view()
}

func (m *Machine) view() View {
	s := m.state.clone()
	limits := m.enforcer.Limits()
	acct := s.account()

	if m.taskWatch != nil && s.CurrentTask.Valid() {
		s.TaskElapsed[s.CurrentTask] += m.taskWatch.Elapsed()
	}
	paused := s.PausedAccumulator
	if m.breaks.Active() {
		paused += m.breaks.Elapsed()
	}

	v := View{
		SessionID:       s.SessionID,
		Participant:     s.Participant,
		Mode:            s.Mode,
		Phase:           s.Phase,
		CurrentTask:     s.CurrentTask,
		Statuses:        task.Statuses(s.Completed, s.CurrentTask),
		Completed:       s.Completed.Sorted(),
		CompletionOrder: s.CompletionOrder,
		Outcomes:        s.Outcomes,
		Enhancements:    m.engine.Table(),
		Progress:        task.Progress(s.Completed),
		SwitchCount:     s.SwitchCount,
		Elapsed:         m.global.Elapsed(),
		TaskElapsed:     s.TaskElapsed,
		PausedTotal:     paused,
		IsPaused:        s.IsPaused,
		IsInBreak:       s.IsInBreak,
		Engagement:      m.monitor.Status(),
		Chat: ChatView{
			Used:      acct.Used,
			Bonus:     acct.Bonus,
			Allowance: acct.Allowance(limits),
			Remaining: acct.Remaining(limits),
			MaxTokens: limits.MaxTokens,
			Disabled:  s.ChatDisabled,
			Pending:   m.pending,
			History:   s.ChatHistory,
		},
		BlockReason: s.BlockReason,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	}
	if m.breaks.Active() {
		dest, manual := m.breaks.Destination()
		v.Break = &BreakView{
			Anchor:      s.CurrentTask,
			Default:     m.breaks.Default(),
			Destination: dest,
			Manual:      manual,
			Remaining:   m.breaks.Remaining(),
			Duration:    m.breaks.Duration(),
		}
	}
	return v
}

// Subscribe returns a channel that receives the latest View after every
// state change. Slow readers only see the newest View. The channel is
// closed by cancel or by Close.
func (m *Machine) Subscribe() (<-chan View, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan View, 1)
	if m.closed {
		close(ch)
		return ch, func() {}
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.view()

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if c, ok := m.subs[id]; ok {
			close(c)
			delete(m.subs, id)
		}
	}
}

// notify pushes the current View to subscribers, replacing any unread
// one. Callers hold m.mu.
func (m *Machine) notify() {
	if len(m.subs) == 0 {
		return
	}
	v := m.view()
	for _, ch := range m.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}
