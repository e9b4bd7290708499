package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/llm"
)

// Result is the outcome of one Ask.
type Result struct {
	Reply game.ChatReply
	Err   error
}

// Replier receives finished replies. *game.Machine implements it.
type Replier interface {
	RecordReply(game.ChatReply)
	RecordReplyFailure(error)
}

// Assistant runs reply-service calls off the machine's lock.
type Assistant struct {
	svc     Service
	timeout time.Duration
	log     *slog.Logger
}

// NewAssistant returns an Assistant that gives each call timeout.
// A zero timeout means no limit beyond the caller's context.
func NewAssistant(svc Service, timeout time.Duration, logger *slog.Logger) *Assistant {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assistant{svc: svc, timeout: timeout, log: logger}
}

// Ask sends the ticket's prompt and history to the service in a new
// goroutine. The returned channel yields exactly one Result and is then
// closed.
func (a *Assistant) Ask(ctx context.Context, sessionID string, t game.ChatTicket) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		out <- a.call(ctx, sessionID, t)
	}()
	return out
}

func (a *Assistant) call(ctx context.Context, sessionID string, t game.ChatTicket) Result {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}
	ctx = llm.WithSession(ctx, sessionID)

	start := time.Now()
	raw, err := a.svc.Reply(ctx, Request{Message: t.Prompt, History: t.History})
	latency := time.Since(start)
	if err != nil {
		var se *ServiceError
		if !errors.As(err, &se) {
			err = &ServiceError{Backend: "unknown", Err: err}
		}
		a.log.Warn("chat reply failed", "session", sessionID, "task", t.Task, "latency", latency, "err", err)
		return Result{Err: err}
	}

	r := ParseReply(raw)
	a.log.Debug("chat reply", "session", sessionID, "task", t.Task, "tags", r.Tags, "latency", latency)
	return Result{Reply: game.ChatReply{Tags: r.Tags, Answer: r.Answer, Latency: latency}}
}

// Deliver applies res to the machine.
func Deliver(m Replier, res Result) {
	if res.Err != nil {
		m.RecordReplyFailure(res.Err)
		return
	}
	m.RecordReply(res.Reply)
}

// AskAndDeliver runs Ask and applies the result when it arrives. It
// returns the result too, for callers that wait on it.
func (a *Assistant) AskAndDeliver(ctx context.Context, m Replier, sessionID string, t game.ChatTicket) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		res := <-a.Ask(ctx, sessionID, t)
		Deliver(m, res)
		out <- res
	}()
	return out
}
