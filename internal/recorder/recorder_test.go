package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/store"
	"github.com/abhisek/crosstask/internal/task"
)

var errDown = errors.New("store unreachable")

// fakeEvents fails the first failFirst appends, or all of them when
// failAll is set.
type fakeEvents struct {
	store.EventRepo

	mu        sync.Mutex
	failFirst int
	failAll   bool
	calls     int
	got       []store.EventRecord
}

func (f *fakeEvents) AppendEvents(_ context.Context, evs []store.EventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAll || f.calls <= f.failFirst {
		return errDown
	}
	f.got = append(f.got, evs...)
	return nil
}

func (f *fakeEvents) records() []store.EventRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]store.EventRecord(nil), f.got...)
}

type fakeSnapshots struct {
	store.SnapshotRepo

	mu     sync.Mutex
	saved  []store.SnapshotRecord
	pruned []string
}

func (f *fakeSnapshots) Save(_ context.Context, s *store.SnapshotRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *s)
	return nil
}

func (f *fakeSnapshots) Prune(_ context.Context, sessionID string, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, fmt.Sprintf("%s:%d", sessionID, keep))
	return nil
}

func testConfig() Config {
	return Config{
		Capacity:      100,
		BatchSize:     10,
		InitialWait:   time.Millisecond,
		MaxWait:       5 * time.Millisecond,
		KeepSnapshots: 3,
		DrainTimeout:  100 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func event(i int) game.Event {
	return game.Event{
		SessionID: "s1",
		Mode:      game.ModeMain,
		Type:      game.EventTaskCompleted,
		Task:      task.New(task.FamilyCount, 1),
		At:        time.Date(2025, 3, 1, 9, 0, i, 0, time.UTC),
		Payload:   map[string]any{"n": i},
	}
}

func snapshot(phase game.Phase) game.Snapshot {
	return game.Snapshot{
		Version:   game.SnapshotVersion,
		SessionID: "s1",
		Phase:     phase,
		Completed: []task.ID{task.New(task.FamilyCount, 1)},
		StartedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
		SavedAt:   time.Date(2025, 3, 1, 9, 1, 0, 0, time.UTC),
	}
}

// start runs r until the test ends and returns a stop func that waits
// for Run to return.
func start(t *testing.T, r *Recorder) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	var once sync.Once
	stop = func() {
		once.Do(func() {
			cancel()
			require.NoError(t, <-done)
		})
	}
	t.Cleanup(stop)
	return stop
}

func flush(t *testing.T, r *Recorder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Flush(ctx))
}

func TestRecorder_DeliversInOrder(t *testing.T) {
	evs := &fakeEvents{}
	snaps := &fakeSnapshots{}
	r := New(evs, snaps, testConfig(), WithLogger(quietLogger()))
	start(t, r)

	for i := range 3 {
		r.LogEvent(event(i))
	}
	r.SaveSnapshot(snapshot(game.PhaseBreak))
	flush(t, r)

	got := evs.records()
	require.Len(t, got, 3)
	for i, rec := range got {
		assert.Equal(t, fmt.Sprintf(`{"n":%d}`, i), string(rec.Payload))
		assert.Equal(t, "g1t1", rec.Task)
		assert.Equal(t, "main", rec.Mode)
		assert.NotEmpty(t, rec.Key)
	}
	assert.NotEqual(t, got[0].Key, got[1].Key)

	require.Len(t, snaps.saved, 1)
	assert.Equal(t, "break", snaps.saved[0].Phase)
	assert.False(t, snaps.saved[0].Finished)
	assert.Equal(t, []string{"s1:3"}, snaps.pruned)
	assert.Zero(t, r.Pending())
}

func TestRecorder_RetriesUntilStoreRecovers(t *testing.T) {
	evs := &fakeEvents{failFirst: 3}
	r := New(evs, &fakeSnapshots{}, testConfig(), WithLogger(quietLogger()))
	start(t, r)

	r.LogEvent(event(1))
	r.LogEvent(event(2))
	flush(t, r)

	assert.Len(t, evs.records(), 2)
	assert.GreaterOrEqual(t, evs.calls, 4)
}

func TestRecorder_SpoolsOnShutdownAndReplays(t *testing.T) {
	spool := filepath.Join(t.TempDir(), "spool", "recorder.jsonl")
	cfg := testConfig()
	cfg.SpoolPath = spool

	down := &fakeEvents{failAll: true}
	r := New(down, &fakeSnapshots{}, cfg, WithLogger(quietLogger()))
	stop := start(t, r)
	for i := range 4 {
		r.LogEvent(event(i))
	}
	stop()

	require.Equal(t, 4, countLines(t, spool))

	up := &fakeEvents{}
	r2 := New(up, &fakeSnapshots{}, cfg, WithLogger(quietLogger()))
	start(t, r2)
	r2.LogEvent(event(9))
	flush(t, r2)

	got := up.records()
	require.Len(t, got, 5)
	assert.Equal(t, `{"n":0}`, string(got[0].Payload), "spooled entries go first")
	assert.Equal(t, `{"n":9}`, string(got[4].Payload))
	_, err := os.Stat(spool)
	assert.True(t, errors.Is(err, os.ErrNotExist), "spool removed after replay")
}

func TestRecorder_OverflowDropsOldestEvent(t *testing.T) {
	cfg := testConfig()
	cfg.Capacity = 2
	r := New(&fakeEvents{}, &fakeSnapshots{}, cfg, WithLogger(quietLogger()))

	r.SaveSnapshot(snapshot(game.PhaseTaskActive))
	r.LogEvent(event(1))
	r.LogEvent(event(2))

	assert.Equal(t, 2, r.Pending())
	assert.Equal(t, 1, r.Dropped())
	batch := r.take()
	require.Len(t, batch, 1)
	assert.Equal(t, kindSnapshot, batch[0].Kind, "snapshot survives overflow")
}

func TestRecorder_InvalidSnapshotDropped(t *testing.T) {
	snaps := &fakeSnapshots{}
	r := New(&fakeEvents{}, snaps, testConfig(), WithLogger(quietLogger()))

	bad := snapshot(game.PhaseBreak)
	bad.SessionID = ""
	r.SaveSnapshot(bad)

	assert.Zero(t, r.Pending())
}

func TestRecorder_FlushHonoursContext(t *testing.T) {
	r := New(&fakeEvents{failAll: true}, &fakeSnapshots{}, testConfig(), WithLogger(quietLogger()))
	start(t, r)
	r.LogEvent(event(1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Flush(ctx), context.DeadlineExceeded)
}

// ackLost stores events and then reports failure, as when the insert
// commits but the connection drops before the reply.
type ackLost struct {
	store.EventRepo
	once sync.Once
}

func (a *ackLost) AppendEvents(ctx context.Context, evs []store.EventRecord) error {
	if err := a.EventRepo.AppendEvents(ctx, evs); err != nil {
		return err
	}
	var lost bool
	a.once.Do(func() { lost = true })
	if lost {
		return errDown
	}
	return nil
}

func TestRecorder_RedeliveryIsDeduplicated(t *testing.T) {
	s, err := store.OpenSQLite(context.Background(), "file:recorder_dedupe?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	r := New(&ackLost{EventRepo: s.EventRepo()}, s.SnapshotRepo(), testConfig(), WithLogger(quietLogger()))
	start(t, r)
	r.LogEvent(event(1))
	r.LogEvent(event(2))
	r.SaveSnapshot(snapshot(game.PhaseComplete))
	flush(t, r)

	got, err := s.EventRepo().QueryEvents(context.Background(), store.QueryOpts{SessionID: "s1"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	latest, err := s.SnapshotRepo().Latest(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, latest.Finished)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}
