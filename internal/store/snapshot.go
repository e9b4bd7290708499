package store

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed snapshot.schema.json
var snapshotSchemaJSON []byte

const snapshotSchemaURL = "schema://crosstask/snapshot.json"

var (
	snapshotSchemaOnce sync.Once
	snapshotSchema     *jsonschema.Schema
	snapshotSchemaErr  error
)

// compiledSnapshotSchema compiles the embedded schema on first use.
func compiledSnapshotSchema() (*jsonschema.Schema, error) {
	snapshotSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(snapshotSchemaJSON))
		if err != nil {
			snapshotSchemaErr = fmt.Errorf("parse snapshot schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource(snapshotSchemaURL, doc); err != nil {
			snapshotSchemaErr = fmt.Errorf("add snapshot schema: %w", err)
			return
		}
		snapshotSchema, snapshotSchemaErr = c.Compile(snapshotSchemaURL)
	})
	return snapshotSchema, snapshotSchemaErr
}

// ValidateSnapshot checks a snapshot document against the schema.
func ValidateSnapshot(data []byte) error {
	sch, err := compiledSnapshotSchema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	if err := sch.Validate(inst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}
	return nil
}

// snapshotRepo implements SnapshotRepo with ent's SQL builder.
type snapshotRepo struct {
	s *Store
}

var snapshotColumns = []string{"id", "session_id", "participant", "phase", "finished", "saved_at_ms", "data"}

func (r *snapshotRepo) Save(ctx context.Context, snap *SnapshotRecord) error {
	if err := ValidateSnapshot(snap.Data); err != nil {
		return err
	}
	saved := snap.SavedAt
	if saved.IsZero() {
		saved = time.Now()
	}
	q, args := entsql.Dialect(r.s.dialect).Insert(tableSnapshots).
		Columns(snapshotColumns[1:]...).
		Values(snap.SessionID, snap.Participant, snap.Phase, snap.Finished, saved.UnixMilli(), string(snap.Data)).
		Query()
	if err := r.s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepo) Latest(ctx context.Context, sessionID string) (*SnapshotRecord, error) {
	q, args := entsql.Dialect(r.s.dialect).Select(snapshotColumns...).
		From(entsql.Table(tableSnapshots)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("id")).
		Limit(1).
		Query()
	snaps, err := r.scan(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("query latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot for session %s: %w", sessionID, ErrNotFound)
	}
	return &snaps[0], nil
}

func (r *snapshotRepo) LatestUnfinished(ctx context.Context, participant string) (*SnapshotRecord, error) {
	q, args := entsql.Dialect(r.s.dialect).Select(snapshotColumns...).
		From(entsql.Table(tableSnapshots)).
		Where(entsql.EQ("participant", participant)).
		OrderBy(entsql.Desc("id")).
		Limit(1).
		Query()
	snaps, err := r.scan(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("query participant snapshot: %w", err)
	}
	if len(snaps) == 0 || snaps[0].Finished {
		return nil, fmt.Errorf("unfinished session for %q: %w", participant, ErrNotFound)
	}
	return &snaps[0], nil
}

func (r *snapshotRepo) Sessions(ctx context.Context, limit int) ([]SessionSummary, error) {
	q, args := entsql.Dialect(r.s.dialect).Select(snapshotColumns...).
		From(entsql.Table(tableSnapshots)).
		OrderBy(entsql.Desc("id")).
		Query()
	snaps, err := r.scan(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}

	var out []SessionSummary
	index := make(map[string]int)
	for _, s := range snaps {
		if i, ok := index[s.SessionID]; ok {
			out[i].Snapshots++
			continue
		}
		if limit > 0 && len(out) == limit {
			continue
		}
		index[s.SessionID] = len(out)
		out = append(out, SessionSummary{
			SessionID:   s.SessionID,
			Participant: s.Participant,
			Phase:       s.Phase,
			Finished:    s.Finished,
			LastSaved:   s.SavedAt,
			Snapshots:   1,
		})
	}
	return out, nil
}

func (r *snapshotRepo) Prune(ctx context.Context, sessionID string, keep int) error {
	// The keep-th newest id is the oldest survivor.
	q, args := entsql.Dialect(r.s.dialect).Select("id").
		From(entsql.Table(tableSnapshots)).
		Where(entsql.EQ("session_id", sessionID)).
		OrderBy(entsql.Desc("id")).
		Offset(max(keep-1, 0)).
		Limit(1).
		Query()
	var threshold int64
	found := false
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		found = true
		return rows.Scan(&threshold)
	})
	if err != nil {
		return fmt.Errorf("query snapshots for prune: %w", err)
	}
	if !found {
		return nil
	}

	pred := entsql.And(entsql.EQ("session_id", sessionID), entsql.LT("id", threshold))
	if keep <= 0 {
		pred = entsql.And(entsql.EQ("session_id", sessionID), entsql.LTE("id", threshold))
	}
	dq, dargs := entsql.Dialect(r.s.dialect).Delete(tableSnapshots).Where(pred).Query()
	if err := r.s.drv.Exec(ctx, dq, dargs, nil); err != nil {
		return fmt.Errorf("prune snapshots: %w", err)
	}
	return nil
}

func (r *snapshotRepo) scan(ctx context.Context, q string, args []any) ([]SnapshotRecord, error) {
	var out []SnapshotRecord
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		var (
			rec     SnapshotRecord
			savedMs int64
			data    string
		)
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Participant, &rec.Phase, &rec.Finished, &savedMs, &data); err != nil {
			return fmt.Errorf("scan snapshot: %w", err)
		}
		rec.SavedAt = time.UnixMilli(savedMs).UTC()
		rec.Data = []byte(data)
		out = append(out, rec)
		return nil
	})
	return out, err
}
