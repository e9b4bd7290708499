package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

// eventRepo implements EventRepo with ent's SQL builder.
type eventRepo struct {
	s *Store
}

var eventColumns = []string{"id", "event_key", "session_id", "participant", "mode", "type", "task", "at_ms", "payload"}

func (r *eventRepo) AppendEvents(ctx context.Context, events []EventRecord) error {
	if len(events) == 0 {
		return nil
	}
	ins := entsql.Dialect(r.s.dialect).Insert(tableEvents).
		Columns(eventColumns[1:]...)
	for _, e := range events {
		payload := string(e.Payload)
		if payload == "" {
			payload = "{}"
		}
		ins.Values(e.Key, e.SessionID, e.Participant, e.Mode, e.Type, e.Task, e.At.UnixMilli(), payload)
	}
	ins.OnConflict(entsql.ConflictColumns("event_key"), entsql.DoNothing())

	q, args := ins.Query()
	if err := r.s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("append %d events: %w", len(events), err)
	}
	return nil
}

func (r *eventRepo) QueryEvents(ctx context.Context, opts QueryOpts) ([]EventRecord, error) {
	sel := entsql.Dialect(r.s.dialect).Select(eventColumns...).
		From(entsql.Table(tableEvents)).
		OrderBy(entsql.Asc("id"))
	if p := eventFilter(opts); p != nil {
		sel.Where(p)
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}

	q, args := sel.Query()
	var out []EventRecord
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		var (
			e       EventRecord
			atMs    int64
			payload string
		)
		if err := rows.Scan(&e.ID, &e.Key, &e.SessionID, &e.Participant, &e.Mode, &e.Type, &e.Task, &atMs, &payload); err != nil {
			return fmt.Errorf("scan event: %w", err)
		}
		e.At = time.UnixMilli(atMs).UTC()
		e.Payload = []byte(payload)
		out = append(out, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return out, nil
}

func (r *eventRepo) CountByType(ctx context.Context, opts QueryOpts) ([]TypeCount, error) {
	sel := entsql.Dialect(r.s.dialect).Select("type", entsql.As(entsql.Count("*"), "n")).
		From(entsql.Table(tableEvents)).
		GroupBy("type").
		OrderBy(entsql.Desc("n"), entsql.Asc("type"))
	if p := eventFilter(opts); p != nil {
		sel.Where(p)
	}

	q, args := sel.Query()
	var out []TypeCount
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		var tc TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			return fmt.Errorf("scan count: %w", err)
		}
		out = append(out, tc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	return out, nil
}

// eventFilter turns opts into a WHERE predicate, or nil for no filter.
func eventFilter(opts QueryOpts) *entsql.Predicate {
	var preds []*entsql.Predicate
	if opts.SessionID != "" {
		preds = append(preds, entsql.EQ("session_id", opts.SessionID))
	}
	if opts.Type != "" {
		preds = append(preds, entsql.EQ("type", opts.Type))
	}
	if opts.After > 0 {
		preds = append(preds, entsql.GT("id", opts.After))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("at_ms", opts.From.UnixMilli()))
	}
	if !opts.To.IsZero() {
		preds = append(preds, entsql.LTE("at_ms", opts.To.UnixMilli()))
	}
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	default:
		return entsql.And(preds...)
	}
}
