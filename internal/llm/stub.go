package llm

import (
	"context"
	"sync"
)

// OfflineText fills the string fields of placeholder replies.
const OfflineText = "The help assistant is running without a model. Ask the experimenter if you are stuck."

// StubReply is one queued answer.
type StubReply struct {
	Content string
	Usage   Usage
	Err     error
}

// StubProvider answers from a queue. Once the queue is empty it answers
// with the request schema's placeholder, so the "mock" provider keeps the
// chat panel working without an API key.
type StubProvider struct {
	mu       sync.Mutex
	queue    []StubReply
	requests []Request
}

func NewStub(replies ...StubReply) *StubProvider {
	return &StubProvider{queue: replies}
}

func (s *StubProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var next StubReply
	if len(s.queue) > 0 {
		next = s.queue[0]
		s.queue = s.queue[1:]
	} else if req.Schema != nil {
		next.Content = string(req.Schema.Placeholder(OfflineText))
	} else {
		next.Content = OfflineText
	}
	s.mu.Unlock()

	if next.Err != nil {
		return nil, next.Err
	}
	return finish("mock", req, next.Content, &Response{Usage: next.Usage, Model: "mock", Stop: StopEnd})
}

func (s *StubProvider) ModelID() string { return "mock" }

// Push queues more replies.
func (s *StubProvider) Push(replies ...StubReply) {
	s.mu.Lock()
	s.queue = append(s.queue, replies...)
	s.mu.Unlock()
}

// Requests returns every request seen so far.
func (s *StubProvider) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}
