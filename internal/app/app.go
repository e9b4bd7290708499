// Package app is the root Bubble Tea model of the terminal front-end.
// It owns the screen router and follows the session's phase.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/router"
	"github.com/abhisek/crosstask/internal/screen"
	"github.com/abhisek/crosstask/internal/screens/blocked"
	"github.com/abhisek/crosstask/internal/screens/board"
	"github.com/abhisek/crosstask/internal/screens/choice"
	"github.com/abhisek/crosstask/internal/screens/landing"
	"github.com/abhisek/crosstask/internal/screens/summary"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/task"
	"github.com/abhisek/crosstask/internal/ui/layout"
)

// Options configures the terminal front-end.
type Options struct {
	Sessions *sessions.Manager
	Logger   *slog.Logger
	// ResumeID asks the gate for a specific earlier session.
	ResumeID string
}

// admittedMsg is sent once the gate let the participant in.
type admittedMsg struct {
	sess *sessions.Session
}

// viewsClosedMsg is sent when the machine stops publishing.
type viewsClosedMsg struct{}

// AppModel is the root Bubble Tea model.
type AppModel struct {
	ctx    context.Context
	opts   Options
	log    *slog.Logger
	router *router.Router

	sess   *sessions.Session
	views  <-chan game.View
	unsub  func()
	last   game.View
	routed string

	width  int
	height int
}

// newAppModel creates an AppModel showing the code entry screen.
func newAppModel(ctx context.Context, opts Options) AppModel {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := AppModel{ctx: ctx, opts: opts, log: log}
	m.router = router.New(landing.NewEntry(m.admit))
	return m
}

func (m AppModel) admit(code string) tea.Cmd {
	ctx, mgr, resume := m.ctx, m.opts.Sessions, m.opts.ResumeID
	return func() tea.Msg {
		sess, err := mgr.Create(ctx, access.Request{Code: code, ResumeID: resume})
		if err != nil {
			return screen.ErrMsg{Err: err}
		}
		return admittedMsg{sess: sess}
	}
}

// waitView blocks on the subscription and delivers the next view.
func waitView(ch <-chan game.View) tea.Cmd {
	return func() tea.Msg {
		v, ok := <-ch
		if !ok {
			return viewsClosedMsg{}
		}
		return screen.ViewMsg{View: v}
	}
}

func (m AppModel) Init() tea.Cmd {
	return m.router.Active().Init()
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case admittedMsg:
		m.sess = msg.sess
		m.views, m.unsub = m.sess.Machine.Subscribe()
		m.log.Info("session opened", "session", m.sess.ID, "participant", m.sess.Participant, "resumed", m.sess.Resumed)
		return m, waitView(m.views)

	case screen.ViewMsg:
		m.last = msg.View
		routeCmd := m.route(msg.View)
		cmd := m.router.Update(msg)
		return m, tea.Batch(routeCmd, cmd, waitView(m.views))

	case viewsClosedMsg:
		m.log.Debug("view subscription closed")
		return m, nil

	case tea.FocusMsg:
		m.signal(sessions.ActionFocus)
		return m, nil

	case tea.BlurMsg:
		m.signal(sessions.ActionBlur)
		return m, nil

	case tea.KeyPressMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		m.touch()

	case tea.MouseMsg, tea.PasteMsg:
		m.touch()
	}

	cmd := m.router.Update(msg)
	return m, cmd
}

// signal forwards a watchdog input once a session exists.
func (m AppModel) signal(typ string) {
	if m.sess == nil {
		return
	}
	if err := m.sess.Apply(sessions.Action{Type: typ}); err != nil {
		m.log.Debug("signal failed", "type", typ, "err", err)
	}
}

// touch records participant activity. A visible idle warning is
// acknowledged instead.
func (m AppModel) touch() {
	if m.sess == nil {
		return
	}
	if m.sess.Machine.View().Engagement.IdleWarning {
		m.signal(sessions.ActionAck)
		return
	}
	m.signal(sessions.ActionActivity)
}

// route swaps the active screen when the phase calls for another one.
func (m *AppModel) route(v game.View) tea.Cmd {
	key := v.Phase.String()
	if v.Phase.Playing() {
		key = "board:" + string(v.Mode)
	}
	if key == m.routed {
		return nil
	}

	var next screen.Screen
	switch v.Phase {
	case game.PhaseLanding:
		next = landing.NewBriefing(m.sess)
	case game.PhasePracticeChoice:
		next = choice.New(m.sess)
	case game.PhaseTaskActive, game.PhaseBreak:
		next = board.New(m.ctx, m.sess)
	case game.PhaseComplete:
		next = summary.New(m.sess)
	case game.PhaseBlocked:
		next = blocked.New(v)
	default:
		return nil
	}
	m.routed = key
	m.log.Debug("screen", "phase", v.Phase, "mode", v.Mode)
	return m.router.Replace(next)
}

func (m AppModel) status() string {
	if m.sess == nil {
		return ""
	}
	s := fmt.Sprintf("%d/%d done", len(m.last.Completed), task.Total)
	if m.last.Participant != "" {
		s = m.last.Participant + "   " + s
	}
	return s
}

func (m AppModel) View() tea.View {
	v := tea.NewView("")
	v.AltScreen = true
	v.ReportFocus = true
	v.MouseMode = tea.MouseModeCellMotion

	if m.width == 0 || m.height == 0 {
		return v
	}

	if layout.IsTooSmall(m.width, m.height) {
		v.SetContent(layout.RenderMinSizeMessage(m.width, m.height))
		return v
	}

	active := m.router.Active()
	title := ""
	hints := []layout.KeyHint{{Key: "Ctrl+C", Description: "Quit"}}
	if active != nil {
		title = active.Title()
		if hp, ok := active.(screen.KeyHintProvider); ok {
			hints = hp.KeyHints()
		}
	}

	header := layout.RenderHeader(title, m.status(), m.width)
	footer := layout.RenderFooter(hints, m.width)

	contentHeight := max(m.height-lipgloss.Height(header)-lipgloss.Height(footer), 0)
	content := m.router.View(m.width, contentHeight)
	v.SetContent(layout.RenderFrame(header, content, footer, m.width, m.height))
	return v
}

// Run starts the Bubble Tea program and blocks until it exits. The
// caller closes opts.Sessions afterwards, which snapshots the session.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(newAppModel(ctx, opts), tea.WithContext(ctx))
	final, err := p.Run()
	if am, ok := final.(AppModel); ok && am.unsub != nil {
		am.unsub()
	}
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) && !errors.Is(err, tea.ErrInterrupted) {
		return fmt.Errorf("run terminal ui: %w", err)
	}
	return nil
}
