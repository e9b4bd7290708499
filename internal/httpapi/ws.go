package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/sessions"
)

// Outbound websocket frame types.
const (
	frameView         = "view"
	frameChat         = "chat"
	frameChatRejected = "chat_rejected"
	frameError        = "error"
)

type wsFrame struct {
	Type   string      `json:"type"`
	View   *game.View  `json:"view,omitempty"`
	Tags   []string    `json:"tags,omitempty"`
	Answer string      `json:"answer,omitempty"`
	Kind   budget.Kind `json:"kind,omitempty"`
	Code   string      `json:"code,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func errorFrame(code string, err error) wsFrame {
	return wsFrame{Type: frameError, Code: code, Error: err.Error()}
}

// handleSessionWS pushes every view of the session and accepts action
// frames. {"type":"chat","message":...} asks the assistant; its reply
// arrives as a chat frame.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, unsubscribe := sess.Machine.Subscribe()
	defer unsubscribe()
	outbound := make(chan wsFrame, 64)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		// Closing the connection unblocks the read loop.
		defer conn.Close()
		for {
			var f wsFrame
			select {
			case <-ctx.Done():
				return
			case v, ok := <-views:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
						time.Now().Add(time.Second))
					return
				}
				f = wsFrame{Type: frameView, View: &v}
			case f = <-outbound:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(f); err != nil {
				s.log.Debug("websocket write failed", "session", sess.ID, "error", err)
				return
			}
			s.metrics.WSMessage("outbound", f.Type)
		}
	}()

	conn.SetReadLimit(64 << 10)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		var a sessions.Action
		if err := json.Unmarshal(data, &a); err != nil {
			s.send(ctx, outbound, errorFrame("invalid_message", err))
			continue
		}
		s.metrics.WSMessage("inbound", a.Type)

		if a.Type == sessions.ActionChat {
			go s.wsChat(ctx, sess, a.Message, outbound)
			continue
		}
		if err := sess.Apply(a); err != nil {
			code := "action_failed"
			switch {
			case game.IsInvalidTransition(err):
				code = "invalid_transition"
			case errors.Is(err, sessions.ErrInvalidAction):
				code = "invalid_action"
			}
			s.send(ctx, outbound, errorFrame(code, err))
		}
	}

	cancel()
	<-writerDone
}

func (s *Server) wsChat(ctx context.Context, sess *sessions.Session, message string, out chan<- wsFrame) {
	pending, err := sess.Chat(ctx, message)
	if err != nil {
		var exceeded *budget.ExceededError
		if errors.As(err, &exceeded) {
			s.send(ctx, out, wsFrame{Type: frameChatRejected, Kind: exceeded.Kind, Error: err.Error()})
			return
		}
		s.send(ctx, out, errorFrame("chat_failed", err))
		return
	}
	select {
	case res := <-pending:
		if res.Err != nil {
			s.send(ctx, out, errorFrame("reply_service_failed", res.Err))
			return
		}
		s.send(ctx, out, wsFrame{Type: frameChat, Tags: res.Reply.Tags, Answer: res.Reply.Answer})
	case <-ctx.Done():
	}
}

func (s *Server) send(ctx context.Context, out chan<- wsFrame, f wsFrame) {
	select {
	case out <- f:
	case <-ctx.Done():
	}
}
