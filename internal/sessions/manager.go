// Package sessions is the registry of live game machines behind the
// network front-end.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/puzzle"
)

var ErrNotFound = errors.New("session not found")

// Config parameterizes a Manager.
type Config struct {
	Game game.Config
	// TTL is how long a session may go without a command before the
	// janitor tears it down.
	TTL time.Duration
	// JanitorInterval is how often Run sweeps.
	JanitorInterval time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }
func WithRecorder(r game.Recorder) Option { return func(m *Manager) { m.rec = r } }
func WithAssistant(a *chat.Assistant) Option { return func(m *Manager) { m.assistant = a } }
func WithIDGenerator(f func() string) Option { return func(m *Manager) { m.newID = f } }
func WithSampler(s enhance.Sampler) Option { return func(m *Manager) { m.sampler = s } }

// Manager owns every live Machine.
type Manager struct {
	cfg       Config
	gate      access.Gate
	clock     clock.Clock
	log       *slog.Logger
	metrics   *metrics.Metrics
	rec       game.Recorder
	assistant *chat.Assistant
	newID     func() string
	sampler   enhance.Sampler

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns a Manager that admits participants through gate.
func NewManager(cfg Config, gate access.Gate, opts ...Option) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	if cfg.JanitorInterval <= 0 {
		cfg.JanitorInterval = time.Minute
	}
	if gate == nil {
		gate = access.AllowAll{}
	}
	m := &Manager{
		cfg:      cfg,
		gate:     gate,
		clock:    clock.Real(),
		newID:    uuid.NewString,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	if m.assistant == nil {
		m.assistant = chat.NewAssistant(chat.StaticService{Text: chat.OfflineReply}, 0, m.log)
	}
	return m
}

// Create admits req and opens a new machine. A resumed session keeps
// its original id and replaces any live machine with that id.
func (m *Manager) Create(ctx context.Context, req access.Request) (*Session, error) {
	d, err := m.gate.Admit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("admit: %w", err)
	}
	if !d.Allowed {
		return nil, game.ErrAccessDenied
	}

	opts := []game.Option{
		game.WithClock(m.clock),
		game.WithLogger(m.log),
		game.WithMetrics(m.metrics),
	}
	if m.rec != nil {
		opts = append(opts, game.WithRecorder(m.rec))
	}
	if m.sampler != nil {
		opts = append(opts, game.WithSampler(m.sampler))
	}
	mach := game.New(m.newID(), m.cfg.Game, opts...)
	if err := mach.Open(d); err != nil {
		mach.Close()
		return nil, err
	}

	now := m.clock.Now()
	id := mach.SessionID()
	s := &Session{
		ID:          id,
		Participant: d.Participant,
		Machine:     mach,
		Puzzles:     puzzle.NewSet(seedFor(id)),
		Created:     now,
		Resumed:     d.Resume != nil,
		assistant:   m.assistant,
		clock:       m.clock,
		lastActive:  now,
	}

	m.mu.Lock()
	old := m.sessions[id]
	m.sessions[id] = s
	m.mu.Unlock()

	if old != nil {
		old.Machine.Close()
		m.metrics.SessionClosed()
	}
	m.metrics.SessionOpened()
	m.log.Info("session created", "session", id, "participant", d.Participant, "resumed", s.Resumed)
	return s, nil
}

// Get returns the live session id and marks it active.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	s.touch()
	return s, nil
}

// Delete tears down session id. Unfinished main games are snapshotted
// by the machine so they can be resumed.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Machine.Close()
	m.metrics.SessionClosed()
	m.log.Info("session deleted", "session", id)
	return nil
}

// List returns the live sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b *Session) int { return a.Created.Compare(b.Created) })
	return out
}

// ActiveCount returns how many sessions have not reached a terminal
// phase.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if !s.Machine.View().Phase.Terminal() {
			n++
		}
	}
	return n
}

// Run sweeps expired sessions every JanitorInterval until ctx is done,
// then closes every remaining session.
func (m *Manager) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.cfg.JanitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Close()
			return nil
		case <-ticker.C:
			m.sweep()
		}
	}
}

// Close tears down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Machine.Close()
		m.metrics.SessionClosed()
	}
}

// sweep removes sessions idle for longer than TTL and machines closed
// behind the manager's back.
func (m *Manager) sweep() int {
	now := m.clock.Now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if !s.Machine.Closed() && now.Sub(s.LastActive()) < m.cfg.TTL {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, s)
	}
	m.mu.Unlock()

	for _, s := range expired {
		phase := s.Machine.View().Phase
		s.Machine.Close()
		m.metrics.SessionClosed()
		m.log.Info("session expired", "session", s.ID, "phase", phase, "idle", now.Sub(s.LastActive()))
	}
	return len(expired)
}

// seedFor derives the puzzle seed from the session id, so a resumed
// session gets the board it started with.
func seedFor(id string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64()
}
