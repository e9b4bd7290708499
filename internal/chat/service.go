package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abhisek/crosstask/internal/budget"
)

// Request is the reply service's input. History holds the turns before
// Message.
type Request struct {
	Message string        `json:"message"`
	History []budget.Turn `json:"history"`
}

// Service returns the raw, still tagged, reply text for a request.
type Service interface {
	Reply(ctx context.Context, req Request) (string, error)
}

// HTTPService calls a hosted endpoint that accepts {message, history}
// and answers {reply}.
type HTTPService struct {
	URL    string
	Client *http.Client
}

// NewHTTPService returns an HTTPService with a bounded client timeout.
func NewHTTPService(url string, timeout time.Duration) *HTTPService {
	return &HTTPService{URL: url, Client: &http.Client{Timeout: timeout}}
}

type httpReply struct {
	Reply *string `json:"reply"`
}

func (s *HTTPService) Reply(ctx context.Context, req Request) (string, error) {
	if req.History == nil {
		req.History = []budget.Turn{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", &ServiceError{Backend: "http", Err: err}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return "", &ServiceError{Backend: "http", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", &ServiceError{Backend: "http", Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &ServiceError{Backend: "http", Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode/100 != 2 {
		msg := strings.TrimSpace(string(data))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return "", &ServiceError{Backend: "http", Status: resp.StatusCode, Err: errors.New(msg)}
	}

	var out httpReply
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &ServiceError{Backend: "http", Status: resp.StatusCode, Err: fmt.Errorf("decode reply: %w", err)}
	}
	if out.Reply == nil {
		return "", &ServiceError{Backend: "http", Status: resp.StatusCode, Err: errors.New(`response has no "reply" field`)}
	}
	return *out.Reply, nil
}

// StaticService answers every request with the same text. It backs the
// "none" chat backend so the panel still works offline.
type StaticService struct {
	Text string
}

func (s StaticService) Reply(context.Context, Request) (string, error) {
	return s.Text, nil
}

// OfflineReply is the StaticService text used when no backend is set.
const OfflineReply = "unavailable\nnone\nThe help assistant is offline for this session."
