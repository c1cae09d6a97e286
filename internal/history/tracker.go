package history

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/domain"
	"github.com/park285/Cheese-ARBoard/internal/rules"
	"go.uber.org/zap"
)

type TrackerOption func(*Tracker)

func WithLogger(l *zap.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker follows one board session and persists the match once it ends.
// Moves made on this board arrive through Record; moves seen only as a new
// remote position are reconstructed by Observe.
type Tracker struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	rec   *domain.MatchRecord
	last  *rules.Snapshot
	saved bool
}

func NewTracker(repo Repository, gameID int, mode string, start *rules.Snapshot, opts ...TrackerOption) *Tracker {
	t := &Tracker{repo: repo, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	if start == nil {
		start = rules.Start()
	}
	t.rec = &domain.MatchRecord{
		SessionUUID: uuid.NewString(),
		GameID:      gameID,
		Mode:        mode,
		InitialFEN:  start.FEN(),
		StartedAt:   t.now(),
	}
	t.last = start
	return t
}

// SessionUUID identifies the tracked match.
func (t *Tracker) SessionUUID() string { return t.rec.SessionUUID }

// Record appends a move made on this board and persists the match if it ended.
// The move is replayed on the tracked position; after is what the backend
// reported once the move was accepted. A stale after (the position before m)
// is ignored and a later one is reconciled like an observed change.
func (t *Tracker) Record(ctx context.Context, m board.Move, after *rules.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.saved {
		return
	}
	prev := t.last
	played, err := prev.Apply(m)
	if err != nil {
		t.logger.Warn("history_record_unreplayable", zap.String("move", m.UCI()), zap.Error(err))
		if after != nil {
			t.observeLocked(ctx, after)
		}
		return
	}
	t.appendLocked(prev.UCI(m), prev.SAN(m))
	t.last = played
	t.finishLocked(ctx, played)
	if after == nil || samePosition(prev, after) {
		return
	}
	t.observeLocked(ctx, after)
}

// Observe accepts a snapshot from elsewhere. A single intervening move is
// reconstructed from the previous position; larger jumps restart the move list
// at the new position.
func (t *Tracker) Observe(ctx context.Context, s *rules.Snapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observeLocked(ctx, s)
}

func (t *Tracker) observeLocked(ctx context.Context, s *rules.Snapshot) {
	if t.saved || s == nil || samePosition(t.last, s) {
		return
	}
	if m, ok := InferMove(t.last, s); ok {
		t.appendLocked(t.last.UCI(m), t.last.SAN(m))
	} else {
		t.logger.Debug("history_position_jump", zap.String("fen", s.FEN()))
		t.rec.InitialFEN = s.FEN()
		t.rec.MovesUCI = nil
		t.rec.MovesSAN = nil
	}
	t.last = s
	t.finishLocked(ctx, s)
}

func (t *Tracker) appendLocked(uci, san string) {
	t.rec.MovesUCI = append(t.rec.MovesUCI, uci)
	t.rec.MovesSAN = append(t.rec.MovesSAN, san)
}

func (t *Tracker) finishLocked(ctx context.Context, s *rules.Snapshot) {
	if !s.Terminal() {
		return
	}
	if w, ok := s.Winner(); ok {
		t.rec.Result = string(w)
		t.rec.ResultMethod = string(rules.StatusCheckmate)
	} else {
		t.rec.Result = "draw"
		t.rec.ResultMethod = string(rules.StatusStalemate)
	}
	t.rec.FinalFEN = s.FEN()
	t.rec.EndedAt = t.now()
	t.rec.Duration = t.rec.EndedAt.Sub(t.rec.StartedAt)
	if t.rec.Duration < 0 {
		t.rec.Duration = 0
	}
	if t.rec.InitialFEN == rules.StartFEN {
		t.rec.ECO, t.rec.Opening = rules.Opening(t.rec.MovesUCI)
	}
	t.rec.PGN = BuildPGN(t.rec)

	if err := t.repo.SaveMatch(ctx, t.rec); err != nil {
		t.logger.Error("history_save_error", zap.String("session", t.rec.SessionUUID), zap.Error(err))
		return
	}
	t.saved = true
	t.logger.Info("history_match_saved",
		zap.String("session", t.rec.SessionUUID),
		zap.String("result", t.rec.Result),
		zap.String("method", t.rec.ResultMethod),
		zap.Int("plies", len(t.rec.MovesUCI)))
}

// Saved reports whether the match has been persisted.
func (t *Tracker) Saved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saved
}

// InferMove finds the single legal move of prev that produces next.
func InferMove(prev, next *rules.Snapshot) (board.Move, bool) {
	if prev == nil || next == nil {
		return board.Move{}, false
	}
	want := placement(next.FEN())
	var found board.Move
	n := 0
	for _, m := range prev.LegalMoves() {
		after, err := prev.Apply(m)
		if err != nil {
			continue
		}
		if placement(after.FEN()) == want {
			found = m
			n++
		}
	}
	return found, n == 1
}

func samePosition(a, b *rules.Snapshot) bool {
	return a != nil && b != nil && placement(a.FEN()) == placement(b.FEN())
}

// placement keeps the piece placement and side to move of a FEN.
func placement(fen string) string {
	f := strings.Fields(fen)
	if len(f) < 2 {
		return fen
	}
	return f[0] + " " + f[1]
}
