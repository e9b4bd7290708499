package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("store: not found")

// ErrInvalidSnapshot marks a snapshot document rejected by the schema.
// Retrying the save cannot succeed.
var ErrInvalidSnapshot = errors.New("store: invalid snapshot")

// QueryOpts configures event queries with filtering and pagination.
type QueryOpts struct {
	SessionID string
	Type      string    // exact event type
	Limit     int       // max results (0 = unlimited)
	After     int64     // id > After
	From      time.Time // timestamp >= From
	To        time.Time // timestamp <= To
}

// EventRecord is one persisted session event.
type EventRecord struct {
	ID          int64
	Key         string // unique per event; redelivery with the same key is dropped
	SessionID   string
	Participant string
	Mode        string
	Type        string
	Task        string
	At          time.Time
	Payload     json.RawMessage
}

// TypeCount is an event type with its number of occurrences.
type TypeCount struct {
	Type  string
	Count int64
}

// LLMRequestEventData captures the data for a single LLM request event.
type LLMRequestEventData struct {
	SessionID    string
	Provider     string
	Model        string
	Purpose      string
	InputTokens  int
	OutputTokens int
	LatencyMs    int64
	Success      bool
	ErrorMessage string
	RequestBody  string
	ResponseBody string
}

// LLMRequestRecord is a persisted LLM request.
type LLMRequestRecord struct {
	ID        int64
	Timestamp time.Time
	LLMRequestEventData
}

// LLMModelStats aggregates LLM requests per model.
type LLMModelStats struct {
	Model        string
	Requests     int64
	Failures     int64
	InputTokens  int64
	OutputTokens int64
	AvgLatencyMs float64
}

// SnapshotRecord is a stored session snapshot. Data holds the session's
// JSON document and is validated against the snapshot schema on save.
type SnapshotRecord struct {
	ID          int64
	SessionID   string
	Participant string
	Phase       string
	Finished    bool
	SavedAt     time.Time
	Data        json.RawMessage
}

// SessionSummary describes a session by its newest snapshot.
type SessionSummary struct {
	SessionID   string
	Participant string
	Phase       string
	Finished    bool
	LastSaved   time.Time
	Snapshots   int
}

// EventRepo provides append and query access to session events.
type EventRepo interface {
	// AppendEvents stores events in one statement. Events whose Key is
	// already stored are skipped.
	AppendEvents(ctx context.Context, events []EventRecord) error

	// QueryEvents returns events in insertion order.
	QueryEvents(ctx context.Context, opts QueryOpts) ([]EventRecord, error)

	// CountByType returns per-type event counts, most frequent first.
	CountByType(ctx context.Context, opts QueryOpts) ([]TypeCount, error)

	// AppendLLMRequest records an LLM API call event.
	AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error

	// QueryLLMRequests returns LLM request events, newest first.
	QueryLLMRequests(ctx context.Context, opts QueryOpts) ([]LLMRequestRecord, error)

	// GetLLMRequest returns one LLM request by id.
	GetLLMRequest(ctx context.Context, id int64) (*LLMRequestRecord, error)

	// LLMStats aggregates LLM requests by model.
	LLMStats(ctx context.Context) ([]LLMModelStats, error)
}

// SnapshotRepo manages session snapshots.
type SnapshotRepo interface {
	// Save stores a new snapshot.
	Save(ctx context.Context, snap *SnapshotRecord) error

	// Latest returns the most recent snapshot of a session, or
	// ErrNotFound.
	Latest(ctx context.Context, sessionID string) (*SnapshotRecord, error)

	// LatestUnfinished returns the newest snapshot of the participant's
	// most recent session if that session can still be resumed, or
	// ErrNotFound.
	LatestUnfinished(ctx context.Context, participant string) (*SnapshotRecord, error)

	// Sessions summarizes sessions, most recently saved first.
	Sessions(ctx context.Context, limit int) ([]SessionSummary, error)

	// Prune deletes all but the keep most recent snapshots of a session.
	Prune(ctx context.Context, sessionID string, keep int) error
}
