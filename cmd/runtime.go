package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abhisek/crosstask/internal/access"
	"github.com/abhisek/crosstask/internal/chat"
	"github.com/abhisek/crosstask/internal/config"
	"github.com/abhisek/crosstask/internal/llm"
	"github.com/abhisek/crosstask/internal/logging"
	"github.com/abhisek/crosstask/internal/metrics"
	"github.com/abhisek/crosstask/internal/recorder"
	"github.com/abhisek/crosstask/internal/sessions"
	"github.com/abhisek/crosstask/internal/store"
)

// runtime is everything a session-hosting command needs. Background
// workers run in group until stop is called.
type runtime struct {
	cfg      *config.Config
	log      *logging.Logger
	store    *store.Store
	metrics  *metrics.Metrics
	recorder *recorder.Recorder
	sessions *sessions.Manager

	group  *errgroup.Group
	cancel context.CancelFunc
}

// startRuntime wires the store, recorder, assistant, gate and session
// manager. logFile is used when the config names no log file; "" logs
// to stderr.
func startRuntime(cmd *cobra.Command, logFile string) (*runtime, error) {
	st, cfg, err := openStore(cmd)
	if err != nil {
		return nil, err
	}

	logOpts := logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}
	if logOpts.File == "" {
		logOpts.File = logFile
	}
	lg, err := logging.New(logOpts)
	if err != nil {
		st.Close()
		return nil, err
	}
	log := lg.Logger

	mt := metrics.New()
	rec := recorder.New(st.EventRepo(), st.SnapshotRepo(), cfg.RecorderConfig(),
		recorder.WithLogger(log.With("component", "recorder")),
		recorder.WithMetrics(mt),
	)

	svc, err := newChatService(cmd.Context(), cfg, st, log)
	if err != nil {
		lg.Close()
		st.Close()
		return nil, err
	}
	assistant := chat.NewAssistant(svc, cfg.Chat.Timeout, log.With("component", "chat"))
	gate := access.NewCodeGate(cfg.Access.Codes, st.SnapshotRepo(), log.With("component", "access"))

	mgr := sessions.NewManager(sessions.Config{
		Game:            cfg.Game(),
		TTL:             cfg.Server.SessionTTL,
		JanitorInterval: cfg.Server.JanitorInterval,
	}, gate,
		sessions.WithLogger(log),
		sessions.WithMetrics(mt),
		sessions.WithRecorder(rec),
		sessions.WithAssistant(assistant),
	)

	// Workers outlive the command context so stop can close sessions
	// before the recorder drains.
	ctx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rec.Run(gctx) })
	g.Go(func() error { return mgr.Run(gctx) })

	log.Info("runtime started", "store", st.Dialect(), "chat", cfg.Chat.Backend, "codes", len(cfg.Access.Codes))
	return &runtime{
		cfg:      cfg,
		log:      lg,
		store:    st,
		metrics:  mt,
		recorder: rec,
		sessions: mgr,
		group:    g,
		cancel:   cancel,
	}, nil
}

// stop closes every session, which hands final snapshots to the
// recorder, then drains the recorder and releases the store.
func (rt *runtime) stop() error {
	rt.sessions.Close()
	rt.cancel()
	err := rt.group.Wait()
	if cerr := rt.store.Close(); err == nil {
		err = cerr
	}
	rt.log.Info("runtime stopped", "dropped_events", rt.recorder.Dropped())
	rt.log.Close()
	return err
}

// newChatService picks the reply backend named in the config.
func newChatService(ctx context.Context, cfg *config.Config, st *store.Store, log *slog.Logger) (chat.Service, error) {
	switch strings.ToLower(cfg.Chat.Backend) {
	case "llm":
		provider, err := llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), log.With("component", "llm"))
		if err != nil {
			return nil, fmt.Errorf("chat backend: %w", err)
		}
		return &chat.LLMService{Provider: provider}, nil
	case "http":
		if cfg.Chat.Endpoint == "" {
			return nil, fmt.Errorf("chat backend http: no endpoint configured")
		}
		return chat.NewHTTPService(cfg.Chat.Endpoint, cfg.Chat.Timeout), nil
	case "", "none":
		return chat.StaticService{Text: chat.OfflineReply}, nil
	default:
		return nil, fmt.Errorf("unknown chat backend %q", cfg.Chat.Backend)
	}
}
