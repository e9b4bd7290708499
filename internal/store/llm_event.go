package store

import (
	"context"
	"fmt"
	"time"

	entsql "entgo.io/ent/dialect/sql"
)

var llmColumns = []string{
	"id", "at_ms", "session_id", "provider", "model", "purpose",
	"input_tokens", "output_tokens", "latency_ms", "success",
	"error_message", "request_body", "response_body",
}

func (r *eventRepo) AppendLLMRequest(ctx context.Context, data LLMRequestEventData) error {
	q, args := entsql.Dialect(r.s.dialect).Insert(tableLLMRequests).
		Columns(llmColumns[1:]...).
		Values(
			time.Now().UnixMilli(), data.SessionID, data.Provider, data.Model, data.Purpose,
			data.InputTokens, data.OutputTokens, data.LatencyMs, data.Success,
			data.ErrorMessage, data.RequestBody, data.ResponseBody,
		).
		Query()
	if err := r.s.drv.Exec(ctx, q, args, nil); err != nil {
		return fmt.Errorf("save LLM request event: %w", err)
	}
	return nil
}

func (r *eventRepo) QueryLLMRequests(ctx context.Context, opts QueryOpts) ([]LLMRequestRecord, error) {
	sel := entsql.Dialect(r.s.dialect).Select(llmColumns...).
		From(entsql.Table(tableLLMRequests)).
		OrderBy(entsql.Desc("id"))
	var preds []*entsql.Predicate
	if opts.SessionID != "" {
		preds = append(preds, entsql.EQ("session_id", opts.SessionID))
	}
	if !opts.From.IsZero() {
		preds = append(preds, entsql.GTE("at_ms", opts.From.UnixMilli()))
	}
	if len(preds) > 0 {
		sel.Where(entsql.And(preds...))
	}
	if opts.Limit > 0 {
		sel.Limit(opts.Limit)
	}

	q, args := sel.Query()
	out, err := r.scanLLM(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("query LLM requests: %w", err)
	}
	return out, nil
}

func (r *eventRepo) GetLLMRequest(ctx context.Context, id int64) (*LLMRequestRecord, error) {
	q, args := entsql.Dialect(r.s.dialect).Select(llmColumns...).
		From(entsql.Table(tableLLMRequests)).
		Where(entsql.EQ("id", id)).
		Query()
	out, err := r.scanLLM(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("get LLM request %d: %w", id, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("LLM request %d: %w", id, ErrNotFound)
	}
	return &out[0], nil
}

func (r *eventRepo) LLMStats(ctx context.Context) ([]LLMModelStats, error) {
	q, args := entsql.Dialect(r.s.dialect).Select(
		"model",
		entsql.As(entsql.Count("*"), "requests"),
		entsql.As("SUM(CASE WHEN success THEN 0 ELSE 1 END)", "failures"),
		entsql.As(entsql.Sum("input_tokens"), "input_tokens"),
		entsql.As(entsql.Sum("output_tokens"), "output_tokens"),
		entsql.As("AVG(latency_ms)", "avg_latency"),
	).
		From(entsql.Table(tableLLMRequests)).
		GroupBy("model").
		OrderBy(entsql.Desc("requests")).
		Query()

	var out []LLMModelStats
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		var st LLMModelStats
		if err := rows.Scan(&st.Model, &st.Requests, &st.Failures, &st.InputTokens, &st.OutputTokens, &st.AvgLatencyMs); err != nil {
			return fmt.Errorf("scan stats: %w", err)
		}
		out = append(out, st)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("LLM stats: %w", err)
	}
	return out, nil
}

func (r *eventRepo) scanLLM(ctx context.Context, q string, args []any) ([]LLMRequestRecord, error) {
	var out []LLMRequestRecord
	err := r.s.query(ctx, q, args, func(rows *entsql.Rows) error {
		var (
			rec  LLMRequestRecord
			atMs int64
		)
		d := &rec.LLMRequestEventData
		err := rows.Scan(&rec.ID, &atMs, &d.SessionID, &d.Provider, &d.Model, &d.Purpose,
			&d.InputTokens, &d.OutputTokens, &d.LatencyMs, &d.Success,
			&d.ErrorMessage, &d.RequestBody, &d.ResponseBody)
		if err != nil {
			return fmt.Errorf("scan LLM request: %w", err)
		}
		rec.Timestamp = time.UnixMilli(atMs).UTC()
		out = append(out, rec)
		return nil
	})
	return out, err
}
