package game

import (
	"time"

	"github.com/abhisek/crosstask/internal/budget"
	"github.com/abhisek/crosstask/internal/enhance"
	"github.com/abhisek/crosstask/internal/task"
)

// EventType names a recorded event.
type EventType string

const (
	EventSessionOpened    EventType = "session.opened"
	EventSessionResumed   EventType = "session.resumed"
	EventPracticeStarted  EventType = "practice.started"
	EventPracticeLeft     EventType = "practice.left"
	EventMainStarted      EventType = "main.started"
	EventTaskSwitched     EventType = "task.switched"
	EventTaskAutoAdvanced EventType = "task.auto_advanced"
	EventTaskCompleted    EventType = "task.completed"
	EventEnhancement      EventType = "enhancement.activated"
	EventBreakStarted     EventType = "break.started"
	EventBreakSuperseded  EventType = "break.superseded"
	EventBreakDestination EventType = "break.destination"
	EventBreakEnded       EventType = "break.ended"
	EventFocusLost        EventType = "focus.lost"
	EventFocusRegained    EventType = "focus.regained"
	EventIdleWarning      EventType = "idle.warning"
	EventIdleAcknowledged EventType = "idle.acknowledged"
	EventSessionBlocked   EventType = "session.blocked"
	EventSessionCompleted EventType = "session.completed"
	EventChatRequested    EventType = "chat.requested"
	EventChatRejected     EventType = "chat.rejected"
	EventChatReplied      EventType = "chat.replied"
	EventChatFailed       EventType = "chat.failed"
)

// Event is one entry of the session log. Payload is JSON-encoded by the
// recorder.
type Event struct {
	SessionID   string         `json:"session_id"`
	Participant string         `json:"participant,omitempty"`
	Mode        Mode           `json:"mode,omitempty"`
	Type        EventType      `json:"type"`
	Task        task.ID        `json:"task,omitzero"`
	At          time.Time      `json:"at"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// Snapshot is the resumable state of a main-mode session.
type Snapshot struct {
	Version        int                        `json:"version"`
	SessionID      string                     `json:"session_id"`
	Participant    string                     `json:"participant"`
	Phase          Phase                      `json:"phase"`
	CurrentTask    task.ID                    `json:"current_task,omitzero"`
	Completed      []task.ID                  `json:"completed"`
	Outcomes       map[task.ID]Outcome        `json:"outcomes,omitempty"`
	SwitchCount    int                        `json:"switch_count"`
	TaskElapsedMS  map[task.ID]int64          `json:"task_elapsed_ms,omitempty"`
	PausedMS       int64                      `json:"paused_ms"`
	ElapsedMS      int64                      `json:"elapsed_ms"`
	NumPromptsUsed int                        `json:"num_prompts_used"`
	BonusPrompts   int                        `json:"bonus_prompts"`
	ChatHistory    []budget.Turn              `json:"chat_history,omitempty"`
	Enhancements   map[task.ID]enhance.Effect `json:"enhancements,omitempty"`
	BreakDefault   task.ID                    `json:"break_default,omitzero"`
	BlockReason    string                     `json:"block_reason,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	FinishedAt     time.Time                  `json:"finished_at,omitzero"`
	SavedAt        time.Time                  `json:"saved_at"`
}

// SnapshotVersion is the current Snapshot layout.
const SnapshotVersion = 1

// Finished reports whether the snapshot is of a session that can no
// longer be resumed.
func (s *Snapshot) Finished() bool {
	return s.Phase.Terminal()
}

// Recorder receives the session log. Both methods must return without
// blocking on I/O.
type Recorder interface {
	LogEvent(Event)
	SaveSnapshot(Snapshot)
}

type nopRecorder struct{}

func (nopRecorder) LogEvent(Event)        {}
func (nopRecorder) SaveSnapshot(Snapshot) {}
