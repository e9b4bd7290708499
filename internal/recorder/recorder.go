// Package recorder persists the session log. Game code hands it events
// and snapshots without blocking; a worker goroutine writes them to the
// store, retrying with backoff while the store is unreachable. Whatever
// is still queued at shutdown is spooled to a JSON-lines file and
// replayed on the next run, so delivery is at-least-once.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhisek/crosstask/internal/clock"
	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/store"
)

// Config tunes the queue and retry loop.
type Config struct {
	Capacity      int           // queued entries before the oldest event is dropped
	BatchSize     int           // events per insert
	InitialWait   time.Duration // first retry delay
	MaxWait       time.Duration // retry delay cap
	SpoolPath     string        // "" disables the spool
	KeepSnapshots int           // per session; 0 keeps all
	DrainTimeout  time.Duration // final drain at shutdown
}

// DefaultConfig returns the standard recorder settings.
func DefaultConfig() Config {
	return Config{
		Capacity:      10_000,
		BatchSize:     100,
		InitialWait:   500 * time.Millisecond,
		MaxWait:       30 * time.Second,
		KeepSnapshots: 5,
		DrainTimeout:  5 * time.Second,
	}
}

type entryKind string

const (
	kindEvent    entryKind = "event"
	kindSnapshot entryKind = "snapshot"
)

// entry is one queued write. It is also the spool line format.
type entry struct {
	Kind     entryKind             `json:"kind"`
	Event    *store.EventRecord    `json:"event,omitempty"`
	Snapshot *store.SnapshotRecord `json:"snapshot,omitempty"`
}

// Option configures a Recorder.
type Option func(*Recorder)

func WithClock(c clock.Clock) Option { return func(r *Recorder) { r.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(r *Recorder) { r.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(r *Recorder) { r.metrics = m } }

// Recorder implements game.Recorder over a store.
type Recorder struct {
	events  store.EventRepo
	snaps   store.SnapshotRepo
	cfg     Config
	clock   clock.Clock
	log     *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	queue    []entry
	inflight int
	idle     []chan struct{}
	dropped  int
	notify   chan struct{}
}

var _ game.Recorder = (*Recorder)(nil)

// New returns a Recorder. Call Run to start delivering.
func New(events store.EventRepo, snaps store.SnapshotRepo, cfg Config, opts ...Option) *Recorder {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = def.InitialWait
	}
	if cfg.MaxWait < cfg.InitialWait {
		cfg.MaxWait = max(def.MaxWait, cfg.InitialWait)
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = def.DrainTimeout
	}
	r := &Recorder{
		events: events,
		snaps:  snaps,
		cfg:    cfg,
		clock:  clock.Real(),
		log:    slog.Default(),
		notify: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// LogEvent queues ev. It never blocks on I/O.
func (r *Recorder) LogEvent(ev game.Event) {
	payload := []byte("{}")
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			r.log.Error("drop unencodable event payload", "session", ev.SessionID, "type", ev.Type, "err", err)
		} else {
			payload = b
		}
	}
	r.enqueue(entry{Kind: kindEvent, Event: &store.EventRecord{
		Key:         uuid.NewString(),
		SessionID:   ev.SessionID,
		Participant: ev.Participant,
		Mode:        string(ev.Mode),
		Type:        string(ev.Type),
		Task:        ev.Task.String(),
		At:          ev.At,
		Payload:     payload,
	}})
}

// SaveSnapshot queues snap. Snapshots that fail schema validation are
// logged and dropped.
func (r *Recorder) SaveSnapshot(snap game.Snapshot) {
	data, err := json.Marshal(snap)
	if err == nil {
		err = store.ValidateSnapshot(data)
	}
	if err != nil {
		r.log.Error("drop invalid snapshot", "session", snap.SessionID, "phase", snap.Phase, "err", err)
		r.metrics.RecorderFailed("invalid")
		return
	}
	r.enqueue(entry{Kind: kindSnapshot, Snapshot: &store.SnapshotRecord{
		SessionID:   snap.SessionID,
		Participant: snap.Participant,
		Phase:       snap.Phase.String(),
		Finished:    snap.Finished(),
		SavedAt:     snap.SavedAt,
		Data:        data,
	}})
}

// Pending returns the number of entries not yet written.
func (r *Recorder) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue) + r.inflight
}

// Dropped returns how many events were discarded because the queue was
// full.
func (r *Recorder) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Flush blocks until every entry queued so far has been written, or ctx
// ends.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.queue) == 0 && r.inflight == 0 {
		r.mu.Unlock()
		return nil
	}
	done := make(chan struct{})
	r.idle = append(r.idle, done)
	r.mu.Unlock()
	r.wake()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run replays the spool, then delivers entries until ctx is cancelled.
// On shutdown it makes one bounded drain attempt and spools the rest.
func (r *Recorder) Run(ctx context.Context) error {
	if err := r.replaySpool(); err != nil {
		r.log.Warn("spool replay failed", "path", r.cfg.SpoolPath, "err", err)
	}

	backoff := r.cfg.InitialWait
	attempt := 0
	for {
		select {
		case <-r.notify:
		case <-ctx.Done():
			return r.shutdown()
		}

		for {
			batch := r.take()
			if len(batch) == 0 {
				break
			}
			attempt++
			err := r.deliver(ctx, batch)
			if err == nil {
				r.done(len(batch))
				backoff = r.cfg.InitialWait
				attempt = 0
				continue
			}
			r.requeue(batch)
			if ctx.Err() != nil {
				return r.shutdown()
			}

			perr := &PersistenceError{Op: string(batch[0].Kind), Entries: len(batch), Attempt: attempt, Err: err}
			r.metrics.RecorderFailed(perr.Op)
			wait := jitter(backoff)
			r.log.Warn("persist failed, will retry", "err", perr, "backoff", wait, "queued", r.Pending())
			select {
			case <-r.clock.After(wait):
			case <-ctx.Done():
				return r.shutdown()
			}
			backoff = min(backoff*2, r.cfg.MaxWait)
		}
	}
}

func (r *Recorder) enqueue(e entry) {
	r.mu.Lock()
	if len(r.queue) >= r.cfg.Capacity {
		r.dropOldestLocked()
	}
	r.queue = append(r.queue, e)
	depth := len(r.queue) + r.inflight
	r.mu.Unlock()

	r.metrics.SetQueueDepth(depth)
	r.wake()
}

// dropOldestLocked discards the oldest event. Snapshots are kept: the
// newest one supersedes the rest on resume anyway.
func (r *Recorder) dropOldestLocked() {
	for i, e := range r.queue {
		if e.Kind == kindEvent {
			r.queue = append(r.queue[:i], r.queue[i+1:]...)
			r.dropped++
			r.metrics.RecorderFailed("overflow")
			return
		}
	}
	r.queue = r.queue[1:]
	r.dropped++
	r.metrics.RecorderFailed("overflow")
}

func (r *Recorder) wake() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

// take removes the next batch from the queue: either a run of events up
// to BatchSize or a single snapshot.
func (r *Recorder) take() []entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return nil
	}
	n := 1
	if r.queue[0].Kind == kindEvent {
		for n < len(r.queue) && n < r.cfg.BatchSize && r.queue[n].Kind == kindEvent {
			n++
		}
	}
	batch := append([]entry(nil), r.queue[:n]...)
	r.queue = r.queue[n:]
	r.inflight += n
	return batch
}

func (r *Recorder) requeue(batch []entry) {
	r.mu.Lock()
	r.inflight -= len(batch)
	r.queue = append(batch, r.queue...)
	r.mu.Unlock()
}

func (r *Recorder) done(n int) {
	r.mu.Lock()
	r.inflight -= n
	depth := len(r.queue) + r.inflight
	var waiters []chan struct{}
	if depth == 0 {
		waiters, r.idle = r.idle, nil
	}
	r.mu.Unlock()

	r.metrics.SetQueueDepth(depth)
	for _, w := range waiters {
		close(w)
	}
}

func (r *Recorder) deliver(ctx context.Context, batch []entry) error {
	if batch[0].Kind == kindSnapshot {
		snap := batch[0].Snapshot
		err := r.snaps.Save(ctx, snap)
		if errors.Is(err, store.ErrInvalidSnapshot) {
			r.log.Error("store rejected snapshot", "session", snap.SessionID, "err", err)
			return nil
		}
		if err != nil {
			return err
		}
		if r.cfg.KeepSnapshots > 0 {
			if err := r.snaps.Prune(ctx, snap.SessionID, r.cfg.KeepSnapshots); err != nil {
				r.log.Warn("prune snapshots failed", "session", snap.SessionID, "err", err)
			}
		}
		return nil
	}

	recs := make([]store.EventRecord, len(batch))
	for i, e := range batch {
		recs[i] = *e.Event
	}
	return r.events.AppendEvents(ctx, recs)
}

// shutdown drains what it can within DrainTimeout and spools the rest.
func (r *Recorder) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainTimeout)
	defer cancel()

	for {
		batch := r.take()
		if len(batch) == 0 {
			break
		}
		if err := r.deliver(ctx, batch); err != nil {
			r.requeue(batch)
			r.log.Warn("drain failed, spooling remaining", "err", err, "remaining", r.Pending())
			break
		}
		r.done(len(batch))
	}

	r.mu.Lock()
	rest := r.queue
	r.queue = nil
	r.mu.Unlock()
	if len(rest) == 0 {
		return nil
	}
	if r.cfg.SpoolPath == "" {
		r.log.Error("recorder stopped with undelivered entries", "lost", len(rest))
		return nil
	}
	if err := writeSpool(r.cfg.SpoolPath, rest); err != nil {
		r.log.Error("spool write failed", "path", r.cfg.SpoolPath, "lost", len(rest), "err", err)
		return err
	}
	r.log.Info("spooled undelivered entries", "path", r.cfg.SpoolPath, "entries", len(rest))
	return nil
}

func (r *Recorder) replaySpool() error {
	if r.cfg.SpoolPath == "" {
		return nil
	}
	entries, err := readSpool(r.cfg.SpoolPath)
	if err != nil || len(entries) == 0 {
		return err
	}
	r.mu.Lock()
	r.queue = append(entries, r.queue...)
	r.mu.Unlock()
	r.log.Info("replaying spool", "path", r.cfg.SpoolPath, "entries", len(entries))
	r.wake()
	return nil
}

// jitter spreads d by ±20%.
func jitter(d time.Duration) time.Duration {
	f := float64(d) * (1 + 0.4*(rand.Float64()-0.5))
	return time.Duration(f)
}
