package game

import (
	"time"

	"github.com/abhisek/crosstask/internal/breaks"
	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/engage"
	"github.com/abhisek/crosstask/internal/task"
)

// Snapshot returns the resumable state of the session.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Machine) snapshot() Snapshot {
	s := m.state
	elapsed := make(map[task.ID]int64, len(s.TaskElapsed))
	for id, d := range s.TaskElapsed {
		elapsed[id] = d.Milliseconds()
	}
	if m.taskWatch != nil && s.CurrentTask.Valid() {
		elapsed[s.CurrentTask] += m.taskWatch.Elapsed().Milliseconds()
	}
	outcomes := make(map[task.ID]Outcome, len(s.Outcomes))
	for id, o := range s.Outcomes {
		outcomes[id] = o
	}

	snap := Snapshot{
		Version:        SnapshotVersion,
		SessionID:      s.SessionID,
		Participant:    s.Participant,
		Phase:          s.Phase,
		CurrentTask:    s.CurrentTask,
		Completed:      s.Completed.Sorted(),
		Outcomes:       outcomes,
		SwitchCount:    s.SwitchCount,
		TaskElapsedMS:  elapsed,
		PausedMS:       s.PausedAccumulator.Milliseconds(),
		ElapsedMS:      m.global.Elapsed().Milliseconds(),
		NumPromptsUsed: s.NumPromptsUsed,
		BonusPrompts:   s.BonusPrompts,
		ChatHistory:    append([]budget.Turn(nil), s.ChatHistory...),
		Enhancements:   m.engine.Table(),
		BlockReason:    string(s.BlockReason),
		StartedAt:      s.StartedAt,
		FinishedAt:     s.FinishedAt,
		SavedAt:        m.clock.Now(),
	}
	if m.breaks.Active() {
		snap.BreakDefault = m.breaks.Default()
	}
	return snap
}

// saveSnapshot hands the current snapshot to the recorder. Practice
// rounds are not persisted.
func (m *Machine) saveSnapshot() {
	if m.state.Mode != ModeMain {
		return
	}
	m.rec.SaveSnapshot(m.snapshot())
}

// resume rebuilds a main game from snap and re-enters TaskActive. A
// snapshot taken mid-break lands on that break's default destination.
func (m *Machine) resume(snap *Snapshot) error {
	if err := m.transition("resume", PhaseTaskActive); err != nil {
		return err
	}

	s := &m.state
	s.resetBoard()
	if snap.SessionID != "" {
		s.SessionID = snap.SessionID
		m.log = m.log.With("resumed", snap.SessionID)
	}
	if s.Participant == "" {
		s.Participant = snap.Participant
	}
	s.Mode = ModeMain
	for _, id := range snap.Completed {
		if id.Valid() && s.Completed.Add(id) {
			s.CompletionOrder = append(s.CompletionOrder, id)
		}
	}
	for id, o := range snap.Outcomes {
		s.Outcomes[id] = o
	}
	for id, ms := range snap.TaskElapsedMS {
		s.TaskElapsed[id] = time.Duration(ms) * time.Millisecond
	}
	s.SwitchCount = snap.SwitchCount
	s.PausedAccumulator = time.Duration(snap.PausedMS) * time.Millisecond
	s.NumPromptsUsed = snap.NumPromptsUsed
	s.BonusPrompts = snap.BonusPrompts
	s.ChatHistory = append([]budget.Turn(nil), snap.ChatHistory...)
	s.ChatDisabled = m.enforcer.Exhausted(s.account())
	s.BlockReason = engage.Reason(snap.BlockReason)
	s.StartedAt = snap.StartedAt
	if s.StartedAt.IsZero() {
		s.StartedAt = m.clock.Now()
	}

	m.engine = m.newEngine(ModeMain)
	m.engine.Restore(snap.Enhancements)

	s.CurrentTask = resumeTask(snap, s.Completed)
	m.global = clock.NewStopwatch(m.clock)
	m.global.Restore(time.Duration(snap.ElapsedMS) * time.Millisecond)
	m.global.Resume()
	m.startTaskWatch()
	m.monitor.Arm()

	m.emit(EventSessionResumed, s.CurrentTask, map[string]any{
		"completed":  len(s.Completed),
		"saved_at":   snap.SavedAt,
		"elapsed_ms": snap.ElapsedMS,
	})
	m.metrics.SessionStarted("resume")
	m.log.Info("session resumed", "task", s.CurrentTask, "completed", len(s.Completed))
	return nil
}

func resumeTask(snap *Snapshot, completed task.Set) task.ID {
	candidates := []task.ID{snap.CurrentTask}
	if snap.Phase == PhaseBreak {
		candidates = []task.ID{snap.BreakDefault}
		if def, ok := breaks.DefaultDestination(snap.CurrentTask, completed); ok {
			candidates = append(candidates, def)
		}
	}
	for _, id := range candidates {
		if id.Valid() && !completed.Has(id) && task.Unlocked(id, completed) {
			return id
		}
	}
	if snap.Phase != PhaseBreak && snap.CurrentTask.Valid() && task.Unlocked(snap.CurrentTask, completed) {
		return snap.CurrentTask
	}
	if id, ok := task.FirstOpen(task.Families(), completed); ok {
		return id
	}
	return task.New(task.FamilyCount, 1)
}
