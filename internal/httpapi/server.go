// Package httpapi serves sessions over HTTP and websockets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/sessions"
)

// Options tunes a Server.
type Options struct {
	// Ready, when set, backs /readyz. Typically the store's Ping.
	Ready func(context.Context) error
	// AllowAnyOrigin disables the same-origin websocket check.
	AllowAnyOrigin bool
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

// Server routes API calls to the session manager.
type Server struct {
	sessions *sessions.Manager
	ready    func(context.Context) error
	log      *slog.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader
}

// New returns a Server over mgr.
func New(mgr *sessions.Manager, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		sessions: mgr,
		ready:    opts.Ready,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if opts.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.countRequests)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Route("/v1/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Get("/{id}", s.handleGetSession)
		r.Delete("/{id}", s.handleDeleteSession)
		r.Post("/{id}/actions", s.handleAction)
		r.Post("/{id}/chat", s.handleChat)
		r.Get("/{id}/ws", s.handleSessionWS)
	})
	return r
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.HTTPRequest(route, status)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": len(s.sessions.List()),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

type createResponse struct {
	SessionID string    `json:"sessionId"`
	Resumed   bool      `json:"resumed"`
	View      game.View `json:"view"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req access.Request
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	sess, err := s.sessions.Create(r.Context(), req)
	if err != nil {
		if errors.Is(err, game.ErrAccessDenied) {
			respondError(w, http.StatusForbidden, "access_denied", err.Error())
			return
		}
		s.log.Error("create session", "error", err)
		respondError(w, http.StatusInternalServerError, "create_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, createResponse{
		SessionID: sess.ID,
		Resumed:   sess.Resumed,
		View:      sess.Machine.View(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Machine.View())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(id); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type actionResponse struct {
	View  game.View `json:"view"`
	Error string    `json:"error,omitempty"`
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var a sessions.Action
	if err := decodeJSON(r, &a); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	err := sess.Apply(a)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, actionResponse{View: sess.Machine.View()})
	case game.IsInvalidTransition(err):
		respondJSON(w, http.StatusConflict, actionResponse{View: sess.Machine.View(), Error: err.Error()})
	case errors.Is(err, sessions.ErrInvalidAction):
		respondError(w, http.StatusBadRequest, "invalid_action", err.Error())
	case errors.Is(err, game.ErrClosed):
		respondError(w, http.StatusGone, "session_closed", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "action_failed", err.Error())
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Tags   []string `json:"tags"`
	Answer string   `json:"answer"`
}

type budgetResponse struct {
	Kind  budget.Kind `json:"kind"`
	Error string      `json:"error"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	pending, err := sess.Chat(r.Context(), req.Message)
	if err != nil {
		var exceeded *budget.ExceededError
		switch {
		case errors.As(err, &exceeded):
			respondJSON(w, http.StatusTooManyRequests, budgetResponse{Kind: exceeded.Kind, Error: err.Error()})
		case game.IsInvalidTransition(err):
			respondError(w, http.StatusConflict, "invalid_transition", err.Error())
		case errors.Is(err, game.ErrClosed):
			respondError(w, http.StatusGone, "session_closed", err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "chat_failed", err.Error())
		}
		return
	}

	select {
	case res := <-pending:
		if res.Err != nil {
			respondError(w, http.StatusBadGateway, "reply_service_failed", res.Err.Error())
			return
		}
		respondJSON(w, http.StatusOK, chatResponse{Tags: res.Reply.Tags, Answer: res.Reply.Answer})
	case <-r.Context().Done():
		// The reply is still recorded on the machine when it arrives.
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*sessions.Session, bool) {
	sess, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return sess, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
