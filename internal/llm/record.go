package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/abhisek/crosstask/internal/store"
)

// RequestSink persists one record per provider call. store.EventRepo
// satisfies it.
type RequestSink interface {
	AppendLLMRequest(ctx context.Context, data store.LLMRequestEventData) error
}

// recording stores every provider call, successful or not, with the
// session and purpose found on the context.
type recording struct {
	inner Provider
	name  string
	sink  RequestSink
	log   *slog.Logger
}

// WithRecording wraps p so each call is written to sink and logged.
// A nil sink only logs.
func WithRecording(p Provider, name string, sink RequestSink, logger *slog.Logger) Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &recording{inner: p, name: name, sink: sink, log: logger}
}

func (l *recording) Generate(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := l.inner.Generate(ctx, req)

	data := store.LLMRequestEventData{
		SessionID:   SessionFrom(ctx),
		Provider:    l.name,
		Model:       l.inner.ModelID(),
		Purpose:     PurposeFrom(ctx),
		LatencyMs:   time.Since(start).Milliseconds(),
		Success:     err == nil,
		RequestBody: transcript(req),
	}
	switch {
	case resp != nil:
		data.Model = resp.Model
		data.InputTokens = resp.Usage.InputTokens
		data.OutputTokens = resp.Usage.OutputTokens
		data.ResponseBody = string(resp.Content)
	case err != nil:
		data.ErrorMessage = err.Error()
		var e *Error
		if errors.As(err, &e) {
			data.ResponseBody = string(e.Content)
		}
	}

	attrs := []any{"provider", l.name, "model", data.Model, "purpose", data.Purpose,
		"session", data.SessionID, "latency_ms", data.LatencyMs}
	if err != nil {
		l.log.Warn("llm request failed", append(attrs, "err", err)...)
	} else {
		l.log.Debug("llm request", append(attrs, "in", data.InputTokens, "out", data.OutputTokens)...)
	}

	if l.sink != nil {
		if serr := l.sink.AppendLLMRequest(context.WithoutCancel(ctx), data); serr != nil {
			l.log.Warn("failed to record llm request", "session", data.SessionID, "err", serr)
		}
	}
	return resp, err
}

func (l *recording) ModelID() string { return l.inner.ModelID() }

// transcript renders a request the way `crosstask llm view` shows it.
func transcript(req Request) string {
	var b strings.Builder
	if req.System != "" {
		fmt.Fprintf(&b, "[system]\n%s\n\n", req.System)
	}
	for _, m := range req.Messages {
		fmt.Fprintf(&b, "[%s]\n%s\n\n", m.Role, m.Content)
	}
	if req.Schema != nil {
		fmt.Fprintf(&b, "[schema: %s]\n", req.Schema.Name)
	}
	return b.String()
}
