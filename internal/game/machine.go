// Package game is the task progression state machine. A Machine owns one
// GameState and drives the dependency engine, the break controller, the
// engagement monitor and the chat budget. Every mutation happens under
// the machine's mutex; timer callbacks re-enter through dispatchers that
// take the same mutex and discard stale generations.
package game

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/abhisek/crosstask/internal/breaks"
	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/task"
)

// ErrAccessDenied is returned by Open when the gate refuses the
// participant.
var ErrAccessDenied = errors.New("game: access denied")

// Config parameterizes a Machine.
type Config struct {
	BreakDuration time.Duration
	Engage        engage.Config
	Limits        budget.Limits
	Rules         []enhance.Rule
}

// DefaultConfig returns the standard experiment parameters.
func DefaultConfig() Config {
	return Config{
		BreakDuration: breaks.DefaultDuration,
		Engage:        engage.DefaultConfig(),
		Limits:        budget.DefaultLimits(),
		Rules:         enhance.DefaultRules(),
	}
}

// Decision is the access gate's verdict for a session.
type Decision struct {
	Allowed     bool
	Participant string
	// Resume, when set, is the snapshot of an unfinished session to
	// continue instead of starting over.
	Resume *Snapshot
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock sets the time source. Defaults to clock.Real().
func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

// WithRecorder sets the event sink.
func WithRecorder(r Recorder) Option { return func(m *Machine) { m.rec = r } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Machine) { m.log = l } }

// WithMetrics sets the Prometheus instruments.
func WithMetrics(mt *metrics.Metrics) Option { return func(m *Machine) { m.metrics = mt } }

// WithSampler sets the random source for dependency rules.
func WithSampler(s enhance.Sampler) Option { return func(m *Machine) { m.sampler = s } }

// Machine sequences one participant's session.
type Machine struct {
	mu sync.Mutex

	cfg     Config
	clock   clock.Clock
	log     *slog.Logger
	rec     Recorder
	metrics *metrics.Metrics
	sampler enhance.Sampler

	state    GameState
	engine   *enhance.Engine
	breaks   *breaks.Controller
	monitor  *engage.Monitor
	enforcer budget.Enforcer

	global    *clock.Stopwatch // displayed session clock, frozen in breaks
	taskWatch *clock.Stopwatch // time on the current task
	pending   int              // chat replies outstanding

	subs    map[int]chan View
	nextSub int
	closed  bool
}

// New returns a Machine in PhaseClosed.
func New(sessionID string, cfg Config, opts ...Option) *Machine {
	def := DefaultConfig()
	if cfg.Limits.BasePrompts <= 0 {
		cfg.Limits.BasePrompts = def.Limits.BasePrompts
	}
	if cfg.Limits.MaxTokens <= 0 {
		cfg.Limits.MaxTokens = def.Limits.MaxTokens
	}
	if cfg.Rules == nil {
		cfg.Rules = def.Rules
	}

	m := &Machine{
		cfg:      cfg,
		clock:    clock.Real(),
		rec:      nopRecorder{},
		state:    newGameState(sessionID),
		enforcer: budget.NewEnforcer(cfg.Limits),
		subs:     make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = slog.Default()
	}
	m.log = m.log.With("session", sessionID)

	m.engine = m.newEngine(ModeMain)
	m.breaks = breaks.New(m.clock, cfg.BreakDuration, m.dispatchBreak)
	m.monitor = engage.New(m.clock, cfg.Engage, m.dispatchEngage)
	m.global = clock.NewStopwatch(m.clock)
	return m
}

func (m *Machine) newEngine(mode Mode) *enhance.Engine {
	opts := []enhance.Option{}
	if m.sampler != nil {
		opts = append(opts, enhance.WithSampler(m.sampler))
	}
	if mode == ModePractice {
		opts = append(opts, enhance.Deterministic())
	}
	return enhance.New(m.cfg.Rules, opts...)
}

// SessionID returns the session identifier. It changes only when Open
// resumes a saved session.
func (m *Machine) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.SessionID
}

// Open applies the access gate decision and enters Landing. A decision
// carrying an unfinished snapshot resumes it directly into TaskActive.
func (m *Machine) Open(d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Phase != PhaseClosed {
		return m.reject("open", task.ID{}, "session already open")
	}
	if !d.Allowed {
		m.log.Info("access denied", "participant", d.Participant)
		return ErrAccessDenied
	}

	m.state.Participant = d.Participant
	if err := m.transition("open", PhaseLanding); err != nil {
		return err
	}
	m.emit(EventSessionOpened, task.ID{}, nil)

	if d.Resume != nil && !d.Resume.Finished() {
		if err := m.resume(d.Resume); err != nil {
			return err
		}
	}
	m.notify()
	return nil
}

// Proceed moves from the landing page to the practice choice.
func (m *Machine) Proceed() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Phase != PhaseLanding {
		return m.reject("proceed", task.ID{}, "not on the landing page")
	}
	if err := m.transition("proceed", PhasePracticeChoice); err != nil {
		return err
	}
	m.notify()
	return nil
}

// StartPractice begins a practice round: every dependency rule fires and
// the watchdogs stay off.
func (m *Machine) StartPractice() error {
	return m.startRound("start-practice", ModePractice)
}

// StartMain begins the recorded game.
func (m *Machine) StartMain() error {
	return m.startRound("start-main", ModeMain)
}

func (m *Machine) startRound(op string, mode Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Phase != PhasePracticeChoice {
		return m.reject(op, task.ID{}, "not at the practice choice")
	}
	if err := m.transition(op, PhaseTaskActive); err != nil {
		return err
	}

	now := m.clock.Now()
	m.state.resetBoard()
	m.state.Mode = mode
	m.state.StartedAt = now
	m.engine = m.newEngine(mode)
	m.breaks.Cancel()

	m.global = clock.NewStopwatch(m.clock)
	m.global.Start()
	m.state.CurrentTask = task.New(task.FamilyCount, 1)
	m.startTaskWatch()

	if mode == ModeMain {
		m.monitor.Arm()
		m.emit(EventMainStarted, m.state.CurrentTask, nil)
	} else {
		m.emit(EventPracticeStarted, m.state.CurrentTask, nil)
	}
	m.metrics.SessionStarted(string(mode))
	m.log.Info("round started", "mode", mode)
	m.notify()
	return nil
}

// LeavePractice abandons the practice round and returns to the choice.
func (m *Machine) LeavePractice() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Mode != ModePractice {
		return m.reject("leave-practice", task.ID{}, "not in practice")
	}
	if err := m.transition("leave-practice", PhasePracticeChoice); err != nil {
		return err
	}
	m.breaks.Cancel()
	m.flushTaskTime()
	m.global.Stop()
	m.emit(EventPracticeLeft, task.ID{}, map[string]any{"completed": len(m.state.Completed)})

	m.state.resetBoard()
	m.state.Mode = ModeNone
	m.engine.Reset()
	m.notify()
	return nil
}

// SwitchTo makes id the current task. It is refused during a break, for
// locked tasks and outside TaskActive. Switching to the current task is
// a no-op.
func (m *Machine) SwitchTo(id task.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if err := m.switchTo(id, false); err != nil {
		return err
	}
	m.notify()
	return nil
}

// switchTo is shared by manual switches and break auto-advance.
func (m *Machine) switchTo(id task.ID, auto bool) error {
	if m.state.IsInBreak && !auto {
		return m.reject("switch", id, "break in progress")
	}
	if m.state.Phase != PhaseTaskActive {
		return m.reject("switch", id, "no active task")
	}
	if !id.Valid() {
		return m.reject("switch", id, "unknown task")
	}
	if !task.Unlocked(id, m.state.Completed) {
		return m.reject("switch", id, "task is locked")
	}
	from := m.state.CurrentTask
	if id == from && m.taskWatch != nil {
		return nil
	}

	m.flushTaskTime()
	m.state.CurrentTask = id
	m.startTaskWatch()

	payload := map[string]any{"from": from.String()}
	if auto {
		m.emit(EventTaskAutoAdvanced, id, payload)
		return nil
	}
	m.state.SwitchCount++
	payload["switch_count"] = m.state.SwitchCount
	m.emit(EventTaskSwitched, id, payload)
	return nil
}

// CompleteTask records a submitted answer for id. Completing a task twice
// is a no-op. The ninth completion finishes the game; any other starts a
// break, superseding one already running.
func (m *Machine) CompleteTask(id task.ID, outcome Outcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.state.Phase.Playing() {
		return m.reject("complete", id, "no game in progress")
	}
	if !id.Valid() {
		return m.reject("complete", id, "unknown task")
	}
	if m.state.Completed.Has(id) {
		m.log.Debug("duplicate completion ignored", "task", id)
		return nil
	}
	if !task.Unlocked(id, m.state.Completed) {
		return m.reject("complete", id, "task is locked")
	}

	m.flushTaskTime()
	m.state.CurrentTask = id
	m.state.Completed.Add(id)
	m.state.CompletionOrder = append(m.state.CompletionOrder, id)
	m.state.Outcomes[id] = outcome
	m.state.BonusPrompts++
	if m.state.ChatDisabled && !m.enforcer.Exhausted(m.state.account()) {
		m.state.ChatDisabled = false
	}

	spent := m.state.TaskElapsed[id]
	m.emit(EventTaskCompleted, id, map[string]any{
		"correct":    outcome.Correct,
		"accuracy":   outcome.Accuracy,
		"elapsed_ms": spent.Milliseconds(),
		"progress":   task.Progress(m.state.Completed),
	})
	m.metrics.TaskCompleted(id.String(), id.Family.String(), outcome.Correct, spent)

	for _, a := range m.engine.Activate(id) {
		m.emit(EventEnhancement, id, map[string]any{
			"target":      a.Rule.Target.String(),
			"effect":      string(a.Rule.Effect),
			"probability": a.Rule.Probability,
			"sample":      a.Sample,
		})
		m.metrics.EnhancementActivated(string(a.Rule.Effect))
	}

	if len(m.state.Completed) >= task.Total {
		m.finish()
	} else {
		m.startBreak(id)
	}
	m.notify()
	return nil
}

func (m *Machine) startBreak(anchor task.ID) {
	plan := m.breaks.Start(anchor, m.state.Completed)
	if plan.Superseded {
		m.state.PausedAccumulator += plan.CarriedOver
		m.emit(EventBreakSuperseded, anchor, map[string]any{"carried_ms": plan.CarriedOver.Milliseconds()})
		m.metrics.Break("superseded")
		m.log.Debug("break superseded", "task", anchor, "gen", plan.Generation)
	}
	if err := m.transition("break", PhaseBreak); err != nil {
		m.log.Error("break transition", "error", err)
		return
	}
	m.state.IsInBreak = true
	m.state.IsPaused = true
	m.global.Pause()

	m.emit(EventBreakStarted, anchor, map[string]any{
		"default":  plan.Default.String(),
		"deadline": plan.Deadline,
	})
	m.metrics.Break("started")
	m.saveSnapshot()
}

// dispatchBreak runs on the clock when a break deadline passes.
func (m *Machine) dispatchBreak(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	res, ok := m.breaks.Expire(gen)
	if !ok {
		m.log.Debug("stale break timer", "gen", gen)
		return
	}

	m.state.PausedAccumulator += res.Paused
	m.state.IsInBreak = false
	m.state.IsPaused = false
	if err := m.transition("break-end", PhaseTaskActive); err != nil {
		m.log.Error("break end transition", "error", err)
		return
	}
	m.global.Resume()

	m.emit(EventBreakEnded, res.Destination, map[string]any{
		"anchor":    res.Anchor.String(),
		"default":   res.Default.String(),
		"manual":    res.Manual,
		"paused_ms": res.Paused.Milliseconds(),
	})
	m.metrics.Break("finished")
	if err := m.switchTo(res.Destination, true); err != nil {
		m.log.Error("auto-advance failed", "task", res.Destination, "error", err)
	}
	m.saveSnapshot()
	m.notify()
}

// SetBreakDestination overrides where the current break lands.
func (m *Machine) SetBreakDestination(id task.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.state.Phase != PhaseBreak {
		return m.reject("destination", id, "no break in progress")
	}
	if err := m.breaks.SetDestination(id, m.state.Completed); err != nil {
		return m.reject("destination", id, err.Error())
	}
	m.emit(EventBreakDestination, id, nil)
	m.notify()
	return nil
}

// finish ends the game after the ninth completion.
func (m *Machine) finish() {
	if err := m.transition("finish", PhaseComplete); err != nil {
		m.log.Error("finish transition", "error", err)
		return
	}
	m.suspend()
	m.emit(EventSessionCompleted, task.ID{}, map[string]any{
		"elapsed_ms":   m.global.Elapsed().Milliseconds(),
		"switch_count": m.state.SwitchCount,
	})
	m.log.Info("game complete", "mode", m.state.Mode, "elapsed", m.global.Elapsed())
	m.saveSnapshot()
}

// block ends the session on a watchdog expiry.
func (m *Machine) block(reason engage.Reason) {
	if err := m.transition("block", PhaseBlocked); err != nil {
		m.log.Error("block transition", "error", err)
		return
	}
	m.suspend()
	m.state.BlockReason = reason
	m.emit(EventSessionBlocked, m.state.CurrentTask, map[string]any{"reason": string(reason)})
	m.metrics.SessionBlocked(string(reason))
	m.log.Warn("session blocked", "reason", reason)
	m.saveSnapshot()
}

// suspend stops every timer for a terminal phase.
func (m *Machine) suspend() {
	if m.breaks.Active() {
		m.state.PausedAccumulator += m.breaks.Cancel()
	}
	m.breaks.Cancel()
	m.monitor.Disarm()
	m.flushTaskTime()
	m.global.Stop()
	m.state.IsInBreak = false
	m.state.IsPaused = true
	m.state.FinishedAt = m.clock.Now()
}

// Focus reports that the participant's window regained focus.
func (m *Machine) Focus() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.watching() {
		return
	}
	if m.monitor.Focus() {
		m.emit(EventFocusRegained, m.state.CurrentTask, nil)
		m.notify()
	}
}

// Blur reports that the participant's window lost focus.
func (m *Machine) Blur() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.watching() {
		return
	}
	if m.monitor.Blur() {
		m.emit(EventFocusLost, m.state.CurrentTask, map[string]any{
			"timeout_ms": m.monitor.Config().FocusTimeout.Milliseconds(),
		})
		m.notify()
	}
}

// Activity records pointer, key, scroll or touch input.
func (m *Machine) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.watching() {
		return
	}
	if m.monitor.Activity() {
		m.emit(EventIdleAcknowledged, m.state.CurrentTask, map[string]any{"explicit": false})
		m.notify()
	}
}

// Acknowledge is the participant's "still here" answer to an idle
// warning.
func (m *Machine) Acknowledge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.watching() {
		return
	}
	if m.monitor.Acknowledge() {
		m.emit(EventIdleAcknowledged, m.state.CurrentTask, map[string]any{"explicit": true})
		m.notify()
	}
}

func (m *Machine) watching() bool {
	return m.state.Mode == ModeMain && m.state.Phase.Playing()
}

// dispatchEngage runs on the clock when a watchdog timer fires.
func (m *Machine) dispatchEngage(sig engage.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	out := m.monitor.Handle(sig)
	switch out.Kind {
	case engage.OutcomeIdleWarning:
		m.emit(EventIdleWarning, m.state.CurrentTask, map[string]any{
			"countdown_ms": m.monitor.Config().IdleCountdown.Milliseconds(),
		})
		m.notify()
	case engage.OutcomeBlocked:
		m.block(out.Reason)
		m.notify()
	}
}

// Close tears down every timer and subscription. Unfinished main games
// are snapshotted so they can be resumed.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.state.Mode == ModeMain && m.state.Phase.Playing() {
		m.saveSnapshot()
	}
	m.breaks.Cancel()
	m.monitor.Disarm()
	m.closed = true
	for id, ch := range m.subs {
		close(ch)
		delete(m.subs, id)
	}
	m.log.Debug("machine closed", "phase", m.state.Phase)
}

// Closed reports whether Close has been called.
func (m *Machine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Machine) transition(op string, to Phase) error {
	from := m.state.Phase
	if !CanTransition(from, to) {
		return m.reject(op, task.ID{}, "no transition to "+to.String())
	}
	m.state.Phase = to
	if from != to {
		m.log.Debug("phase", "from", from, "to", to)
	}
	return nil
}

func (m *Machine) reject(op string, id task.ID, reason string) error {
	err := &InvalidTransitionError{Op: op, Phase: m.state.Phase, Task: id, Reason: reason}
	m.log.Debug("rejected", "op", op, "task", id, "phase", m.state.Phase, "reason", reason)
	return err
}

func (m *Machine) startTaskWatch() {
	m.taskWatch = clock.NewStopwatch(m.clock)
	m.taskWatch.Start()
}

// flushTaskTime moves the running task time into TaskElapsed.
func (m *Machine) flushTaskTime() {
	if m.taskWatch == nil {
		return
	}
	if id := m.state.CurrentTask; id.Valid() {
		m.state.TaskElapsed[id] += m.taskWatch.Elapsed()
	}
	m.taskWatch.Stop()
	m.taskWatch = nil
}

func (m *Machine) emit(typ EventType, id task.ID, payload map[string]any) {
	m.rec.LogEvent(Event{
		SessionID:   m.state.SessionID,
		Participant: m.state.Participant,
		Mode:        m.state.Mode,
		Type:        typ,
		Task:        id,
		At:          m.clock.Now(),
		Payload:     payload,
	})
}
