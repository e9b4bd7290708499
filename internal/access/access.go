// Package access decides whether a participant may start a session and
// whether an earlier session should be resumed.
package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/abhisek/crosstask/internal/game"
	"github.com/abhisek/crosstask/internal/store"
)

// Request is what a front-end collects before the landing page.
type Request struct {
	Code     string `json:"code"`
	ResumeID string `json:"resumeId,omitempty"`
}

// Gate admits or refuses a participant.
type Gate interface {
	Admit(ctx context.Context, req Request) (game.Decision, error)
}

// AllowAll admits everyone and never resumes.
type AllowAll struct{}

func (AllowAll) Admit(_ context.Context, req Request) (game.Decision, error) {
	return game.Decision{Allowed: true, Participant: normalize(req.Code)}, nil
}

// CodeGate admits holders of a configured participant code. An admitted
// participant with an unfinished session gets it back.
type CodeGate struct {
	codes map[string]bool
	snaps store.SnapshotRepo
	log   *slog.Logger
}

// NewCodeGate returns a gate for codes. Codes are matched case-insensitively.
// An empty list admits any non-empty code. snaps may be nil, which
// disables resume.
func NewCodeGate(codes []string, snaps store.SnapshotRepo, logger *slog.Logger) *CodeGate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &CodeGate{codes: make(map[string]bool, len(codes)), snaps: snaps, log: logger}
	for _, c := range codes {
		if c = normalize(c); c != "" {
			g.codes[c] = true
		}
	}
	return g
}

func (g *CodeGate) Admit(ctx context.Context, req Request) (game.Decision, error) {
	code := normalize(req.Code)
	if code == "" || (len(g.codes) > 0 && !g.codes[code]) {
		g.log.Info("unknown participant code")
		return game.Decision{Allowed: false, Participant: code}, nil
	}
	d := game.Decision{Allowed: true, Participant: code}
	if g.snaps == nil {
		return d, nil
	}

	var rec *store.SnapshotRecord
	var err error
	if req.ResumeID != "" {
		rec, err = g.snaps.Latest(ctx, req.ResumeID)
		if err == nil && rec.Participant != code {
			return game.Decision{}, fmt.Errorf("session %s belongs to another participant: %w", req.ResumeID, game.ErrAccessDenied)
		}
	} else {
		rec, err = g.snaps.LatestUnfinished(ctx, code)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return d, nil
	case err != nil:
		// The participant can still play; only resume is lost.
		g.log.Warn("resume lookup failed", "participant", code, "err", err)
		return d, nil
	case rec.Finished:
		return d, nil
	}

	var snap game.Snapshot
	if err := json.Unmarshal(rec.Data, &snap); err != nil {
		g.log.Warn("stored snapshot unreadable", "session", rec.SessionID, "err", err)
		return d, nil
	}
	d.Resume = &snap
	return d, nil
}

func normalize(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
