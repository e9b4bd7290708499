package game

import (
	"errors"
	"time"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/task"
)

// ChatTicket is a prompt the budget accepted. History holds the turns
// before this prompt, ready to send to the assistant.
type ChatTicket struct {
	Prompt    string
	Task      task.ID
	History   []budget.Turn
	Estimated int
	Remaining int
}

// ChatReply is a parsed assistant response.
type ChatReply struct {
	Tags    []string
	Answer  string
	Latency time.Duration
}

// RequestChat charges one prompt against the budget and appends the user
// turn. A rejected prompt leaves the history untouched. Running out of
// prompts disables chat input until the next bonus.
func (m *Machine) RequestChat(prompt string) (ChatTicket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ChatTicket{}, ErrClosed
	}
	if !m.state.Phase.Playing() {
		return ChatTicket{}, m.reject("chat", task.ID{}, "no game in progress")
	}

	grant, err := m.enforcer.TryConsume(m.state.account(), prompt, m.state.ChatHistory)
	if err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			if exceeded.Terminal() {
				m.state.ChatDisabled = true
			}
			m.emit(EventChatRejected, m.state.CurrentTask, map[string]any{
				"kind":      string(exceeded.Kind),
				"estimated": exceeded.Estimated,
				"limit":     exceeded.Limit,
			})
			m.metrics.ChatPrompt(string(exceeded.Kind))
		}
		m.notify()
		return ChatTicket{}, err
	}

	prior := append([]budget.Turn(nil), m.state.ChatHistory...)
	m.state.NumPromptsUsed++
	m.state.ChatHistory = append(m.state.ChatHistory, grant.Turn)
	m.state.ChatDisabled = m.enforcer.Exhausted(m.state.account())
	m.pending++

	m.emit(EventChatRequested, m.state.CurrentTask, map[string]any{
		"prompt":    prompt,
		"estimated": grant.Estimated,
		"remaining": grant.Remaining,
	})
	m.metrics.ChatPrompt("granted")
	m.notify()

	return ChatTicket{
		Prompt:    prompt,
		Task:      m.state.CurrentTask,
		History:   prior,
		Estimated: grant.Estimated,
		Remaining: grant.Remaining,
	}, nil
}

// RecordReply appends the assistant's answer to the history.
func (m *Machine) RecordReply(r ChatReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = max(m.pending-1, 0)
	m.state.ChatHistory = append(m.state.ChatHistory, budget.Turn{Role: budget.RoleAssistant, Content: r.Answer})
	m.emit(EventChatReplied, m.state.CurrentTask, map[string]any{
		"tags":       r.Tags,
		"answer":     r.Answer,
		"latency_ms": r.Latency.Milliseconds(),
	})
	m.metrics.ObserveChatLatency(r.Latency)
	m.notify()
}

// RecordReplyFailure logs a failed assistant call. The prompt stays
// charged.
func (m *Machine) RecordReplyFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.pending = max(m.pending-1, 0)
	m.emit(EventChatFailed, m.state.CurrentTask, map[string]any{"error": err.Error()})
	m.metrics.ChatFailed()
	m.log.Warn("chat reply failed", "error", err)
	m.notify()
}
