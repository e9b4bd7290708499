package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/store"
)

type serviceFunc func(context.Context, chat.Request) (string, error)

func (f serviceFunc) Reply(ctx context.Context, req chat.Request) (string, error) { return f(ctx, req) }

type fixture struct {
	ts  *httptest.Server
	mgr *sessions.Manager
}

func newFixture(t *testing.T, gate access.Gate, svc chat.Service, opts Options) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	cfg := game.DefaultConfig()
	cfg.Limits = budget.Limits{BasePrompts: 1, MaxTokens: 500}

	if svc == nil {
		svc = chat.StaticService{Text: "task-help\ncount\nCount one row at a time."}
	}
	mgr := sessions.NewManager(sessions.Config{Game: cfg, TTL: time.Hour}, gate,
		sessions.WithClock(clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))),
		sessions.WithLogger(logger),
		sessions.WithAssistant(chat.NewAssistant(svc, time.Second, logger)),
	)
	opts.Logger = logger
	ts := httptest.NewServer(New(mgr, opts).Router())
	t.Cleanup(func() {
		ts.Close()
		mgr.Close()
	})
	return &fixture{ts: ts, mgr: mgr}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, f.ts.URL+path, rd)
	require.NoError(t, err)
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	out := map[string]any{}
	data, _ := io.ReadAll(res.Body)
	if len(bytes.TrimSpace(data)) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), "body %s", data)
	}
	return res.StatusCode, out
}

func (f *fixture) create(t *testing.T) string {
	t.Helper()
	code, body := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"code": "p01"})
	require.Equal(t, http.StatusCreated, code, body)
	id, _ := body["sessionId"].(string)
	require.NotEmpty(t, id)
	return id
}

func (f *fixture) act(t *testing.T, id string, a sessions.Action) (int, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodPost, "/v1/sessions/"+id+"/actions", a)
}

func phaseOf(body map[string]any) any {
	if v, ok := body["view"].(map[string]any); ok {
		return v["phase"]
	}
	return body["phase"]
}

func TestHealthReadyMetrics(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, nil, nil, Options{Metrics: m})

	code, body := f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])

	code, _ = f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, code)

	res, err := http.Get(f.ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), `crosstask_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestReadyReportsStoreFailure(t *testing.T) {
	f := newFixture(t, nil, nil, Options{Ready: func(context.Context) error { return errors.New("db down") }})
	code, body := f.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "not_ready", body["code"])
}

func TestCreateSession_Denied(t *testing.T) {
	f := newFixture(t, access.NewCodeGate([]string{"alpha"}, nil, nil), nil, Options{})
	code, body := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"code": "beta"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "access_denied", body["code"])

	code, _ = f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"code": "Alpha"})
	assert.Equal(t, http.StatusCreated, code)
}

// foreignSnaps reports every session as owned by participant beta.
type foreignSnaps struct{ store.SnapshotRepo }

func (foreignSnaps) Latest(_ context.Context, id string) (*store.SnapshotRecord, error) {
	return &store.SnapshotRecord{SessionID: id, Participant: "beta", Phase: game.PhaseBreak.String()}, nil
}

func TestCreateSession_ResumeOtherParticipantForbidden(t *testing.T) {
	gate := access.NewCodeGate([]string{"alpha"}, foreignSnaps{}, slog.New(slog.DiscardHandler))
	f := newFixture(t, gate, nil, Options{})

	code, body := f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"code": "alpha", "resumeId": "s-beta"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "access_denied", body["code"])
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	id := f.create(t)

	code, body := f.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "landing", body["phase"])

	// Switching before the game starts is refused but still returns the view.
	code, body = f.act(t, id, sessions.Action{Type: "switch", Task: "g1t1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "landing", phaseOf(body))
	assert.NotEmpty(t, body["error"])

	code, body = f.act(t, id, sessions.Action{Type: "dance"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "invalid_action", body["code"])

	for _, typ := range []string{"proceed", "practice"} {
		code, body = f.act(t, id, sessions.Action{Type: typ})
		require.Equal(t, http.StatusOK, code, body)
	}
	assert.Equal(t, "task-active", phaseOf(body))

	yes := true
	code, body = f.act(t, id, sessions.Action{Type: "complete", Task: "g1t1", Correct: &yes})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "break", phaseOf(body))

	code, _ = f.act(t, id, sessions.Action{Type: "switch", Task: "g2t1"})
	assert.Equal(t, http.StatusConflict, code, "switch during a break")

	code, _ = f.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = f.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = f.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestChat_ReplyAndBudget(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	id := f.create(t)

	code, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "hi"})
	assert.Equal(t, http.StatusConflict, code, "chat before the game starts: %v", body)

	f.act(t, id, sessions.Action{Type: "proceed"})
	f.act(t, id, sessions.Action{Type: "main"})

	code, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "how do I count?"})
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "Count one row at a time.", body["answer"])
	assert.Equal(t, []any{"task-help", "count"}, body["tags"])

	code, body = f.do(t, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "again"})
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "prompts", body["kind"])
}

func TestChat_ServiceFailureKeepsPromptCharged(t *testing.T) {
	svc := serviceFunc(func(context.Context, chat.Request) (string, error) {
		return "", &chat.ServiceError{Backend: "http", Status: 500, Err: errors.New("upstream")}
	})
	f := newFixture(t, nil, svc, Options{})
	id := f.create(t)
	f.act(t, id, sessions.Action{Type: "proceed"})
	f.act(t, id, sessions.Action{Type: "main"})

	code, body := f.do(t, http.MethodPost, "/v1/sessions/"+id+"/chat", map[string]string{"message": "help"})
	assert.Equal(t, http.StatusBadGateway, code)
	assert.Equal(t, "reply_service_failed", body["code"])

	_, view := f.do(t, http.MethodGet, "/v1/sessions/"+id, nil)
	chatView, _ := view["chat"].(map[string]any)
	assert.EqualValues(t, 1, chatView["used"])
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	for _, path := range []string{"/v1/sessions/nope", "/v1/sessions/nope/ws"} {
		code, body := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, code, path)
		assert.Equal(t, "session_not_found", body["code"], path)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) wsFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var f wsFrame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsFrame) bool) wsFrame {
	t.Helper()
	for range 20 {
		if f := readFrame(t, conn); match(f) {
			return f
		}
	}
	t.Fatal("no matching frame")
	return wsFrame{}
}

func phaseIs(p game.Phase) func(wsFrame) bool {
	return func(f wsFrame) bool { return f.Type == frameView && f.View != nil && f.View.Phase == p }
}

func TestWebSocket_RoundTrip(t *testing.T) {
	f := newFixture(t, nil, nil, Options{})
	id := f.create(t)

	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/v1/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readFrame(t, conn)
	require.Equal(t, frameView, first.Type)
	assert.Equal(t, game.PhaseLanding, first.View.Phase)

	require.NoError(t, conn.WriteJSON(sessions.Action{Type: "proceed"}))
	readUntil(t, conn, phaseIs(game.PhasePracticeChoice))

	require.NoError(t, conn.WriteJSON(sessions.Action{Type: "switch", Task: "g3t3"}))
	bad := readUntil(t, conn, func(f wsFrame) bool { return f.Type == frameError })
	assert.Equal(t, "invalid_transition", bad.Code)

	require.NoError(t, conn.WriteJSON(sessions.Action{Type: "main"}))
	readUntil(t, conn, phaseIs(game.PhaseTaskActive))

	require.NoError(t, conn.WriteJSON(sessions.Action{Type: "chat", Message: "tips?"}))
	reply := readUntil(t, conn, func(f wsFrame) bool { return f.Type == frameChat })
	assert.Equal(t, "Count one row at a time.", reply.Answer)

	require.NoError(t, conn.WriteJSON(sessions.Action{Type: "chat", Message: "more?"}))
	rejected := readUntil(t, conn, func(f wsFrame) bool { return f.Type == frameChatRejected })
	assert.Equal(t, budget.KindPrompts, rejected.Kind)

	// Deleting the session closes the socket.
	code, _ := f.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
	require.Equal(t, http.StatusNoContent, code)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
