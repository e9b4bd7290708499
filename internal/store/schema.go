package store

import (
	"strings"

	"entgo.io/ent/dialect"
)

const (
	tableEvents      = "events"
	tableSnapshots   = "snapshots"
	tableLLMRequests = "llm_requests"
)

// ddl is written once with a {{pk}} placeholder for the auto-increment
// key, which is the only column type the two backends spell differently.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id {{pk}},
		event_key TEXT NOT NULL UNIQUE,
		session_id TEXT NOT NULL,
		participant TEXT NOT NULL DEFAULT '',
		mode TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		task TEXT NOT NULL DEFAULT '',
		at_ms BIGINT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_events_session ON events (session_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_events_type ON events (type)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id {{pk}},
		session_id TEXT NOT NULL,
		participant TEXT NOT NULL DEFAULT '',
		phase TEXT NOT NULL,
		finished BOOLEAN NOT NULL DEFAULT FALSE,
		saved_at_ms BIGINT NOT NULL,
		data TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_session ON snapshots (session_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_participant ON snapshots (participant, id)`,
	`CREATE TABLE IF NOT EXISTS llm_requests (
		id {{pk}},
		at_ms BIGINT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		purpose TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_message TEXT NOT NULL DEFAULT '',
		request_body TEXT NOT NULL DEFAULT '',
		response_body TEXT NOT NULL DEFAULT ''
	)`,
}

func schemaFor(d string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d == dialect.Postgres {
		pk = "BIGSERIAL PRIMARY KEY"
	}
	out := make([]string, len(ddl))
	for i, stmt := range ddl {
		out[i] = strings.ReplaceAll(stmt, "{{pk}}", pk)
	}
	return out
}
