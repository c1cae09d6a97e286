package session

import (
	"context"
	"errors"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/coordinator"
	"github.com/park285/Cheese-ARBoard/internal/history"
	"github.com/park285/Cheese-ARBoard/internal/registry"
	"github.com/park285/Cheese-ARBoard/internal/remote"
	"github.com/park285/Cheese-ARBoard/internal/rules"
	"github.com/park285/Cheese-ARBoard/internal/viewer"
	"go.uber.org/zap"
)

const (
	ModeLocal  = "local"
	ModeRemote = "remote"
)

// Config wires a session. Source nil selects local play.
type Config struct {
	Source       remote.PositionSource
	GameID       int
	Store        remote.SnapshotStore
	PollInterval time.Duration

	Loader   registry.AssetLoader
	Scale    float64
	Hub      *viewer.Hub
	Messages coordinator.Messages
	Repo     history.Repository
	Logger   *zap.Logger
}

// Session is one board: its coordinator, backend, viewers and match tracker.
// Run is the only goroutine that touches the coordinator.
type Session struct {
	mode    string
	coord   *coordinator.Coordinator
	reg     *registry.Registry
	hub     *viewer.Hub
	poller  *remote.Poller
	tracker *history.Tracker
	msgs    coordinator.Messages
	logger  *zap.Logger

	changed chan struct{}
}

func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = viewer.NewHub(viewer.WithLogger(logger.Named("viewer")))
	}
	loader := cfg.Loader
	if loader == nil {
		loader = registry.NewModelCatalog("", false)
	}
	repo := cfg.Repo
	if repo == nil {
		repo = history.NewMemoryRepository()
	}
	s := &Session{
		mode:    ModeLocal,
		hub:     hub,
		msgs:    cfg.Messages,
		logger:  logger,
		changed: make(chan struct{}, 1),
	}

	var backend coordinator.Backend
	if cfg.Source != nil {
		s.mode = ModeRemote
		s.poller = remote.NewPoller(cfg.Source, cfg.GameID, s.signalChange,
			remote.WithInterval(cfg.PollInterval),
			remote.WithStore(cfg.Store),
			remote.WithLogger(logger.Named("remote")))
		backend = s.poller
	} else {
		backend = coordinator.NewLocalBackend(nil)
	}

	s.tracker = history.NewTracker(repo, cfg.GameID, s.mode, backend.Snapshot(), history.WithLogger(logger.Named("history")))
	s.reg = registry.New(loader, hub, registry.WithScale(cfg.Scale), registry.WithLogger(logger.Named("registry")))
	s.coord = coordinator.New(backend, s.reg,
		coordinator.WithLogger(logger.Named("coordinator")),
		coordinator.WithMessages(cfg.Messages),
		coordinator.WithMoveObserver(s.recordMove))
	return s
}

// signalChange runs inside the poller; it must never block.
func (s *Session) signalChange(*rules.Snapshot) {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func (s *Session) recordMove(ev coordinator.MoveEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.tracker.Record(ctx, ev.Move, ev.After)
}

func (s *Session) Mode() string { return s.mode }

func (s *Session) Hub() *viewer.Hub { return s.hub }

func (s *Session) Tracker() *history.Tracker { return s.tracker }

func (s *Session) Registry() *registry.Registry { return s.reg }

// Snapshot is safe to call from any goroutine.
func (s *Session) Snapshot() *rules.Snapshot { return s.coord.Snapshot() }

// Run serializes viewer picks and remote changes until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.poller != nil {
		if err := s.poller.Start(ctx); err != nil {
			return err
		}
		defer s.poller.Stop()
	}
	s.coord.Refresh()
	s.publish(s.coord.TerminalMessage(s.coord.Snapshot()))
	s.logger.Info("session_started", zap.String("mode", s.mode), zap.String("match", s.tracker.SessionUUID()))

	inputs := s.hub.Inputs()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session_stopped", zap.String("mode", s.mode))
			return nil
		case <-s.changed:
			s.handleRemoteChange(ctx)
		case in := <-inputs:
			s.HandlePick(ctx, in)
		}
	}
}

func (s *Session) handleRemoteChange(ctx context.Context) {
	dropped := s.coord.Sync()
	snap := s.coord.Snapshot()
	s.tracker.Observe(ctx, snap)
	if dropped {
		s.logger.Debug("session_selection_dropped")
	}
	s.publish(s.coord.TerminalMessage(snap))
}

// HandlePick applies one viewer pick to the coordinator and publishes the outcome.
func (s *Session) HandlePick(ctx context.Context, in viewer.Input) {
	var (
		msg string
		err error
	)
	switch in.Target {
	case viewer.TargetPiece:
		msg, err = s.pickPiece(ctx, in.Handle)
	case viewer.TargetField:
		msg, err = s.pickField(ctx, in.X, in.Z)
	case viewer.TargetNone:
		s.coord.Unselect()
	default:
		s.logger.Debug("session_unknown_target", zap.String("target", in.Target))
		return
	}

	if err != nil {
		var reqErr *remote.RequestError
		if errors.As(err, &reqErr) {
			s.logger.Warn("session_remote_rejected", zap.Int("status", reqErr.Status), zap.Error(err))
			msg = s.render("viewer.remote_error", "Move was not accepted by the game server.")
		} else {
			s.logger.Warn("session_pick_error", zap.String("target", in.Target), zap.Error(err))
		}
	}
	s.publish(msg)
}

func (s *Session) pickPiece(ctx context.Context, h registry.Handle) (string, error) {
	e, ok := s.reg.Lookup(h)
	if !ok || !e.Visible {
		return "", coordinator.ErrUnknownHandle
	}
	sq := board.ToSquare(e.Pos)
	from, selected := s.coord.Selected()
	if !selected {
		return s.coord.SelectHandle(h)
	}
	if from == sq {
		s.coord.Unselect()
		return "", nil
	}
	snap := s.coord.Snapshot()
	if p, ok := snap.OccupantAt(sq); ok && p.Color == snap.Turn() {
		s.coord.Unselect()
		return s.coord.Select(sq)
	}
	// an opponent piece: capture on its square
	return s.coord.MoveTo(ctx, e.Pos)
}

func (s *Session) pickField(ctx context.Context, x, z float64) (string, error) {
	pos, err := board.PositionFromTransform(x, z)
	if err != nil {
		return "", err
	}
	if _, selected := s.coord.Selected(); !selected {
		return "", nil
	}
	return s.coord.MoveTo(ctx, pos)
}

func (s *Session) publish(msg string) {
	snap := s.coord.Snapshot()
	s.hub.Board(snap.FEN(), snap.Turn(), string(snap.Status()))
	from, selected := s.coord.Selected()
	s.hub.Selection(from, selected, s.coord.Destinations())
	s.hub.Notice(msg)
}

func (s *Session) render(key, fallback string) string {
	if s.msgs == nil {
		return fallback
	}
	out, err := s.msgs.Render(key, nil)
	if err != nil {
		return fallback
	}
	return out
}

// Close releases the registry's pending loads.
func (s *Session) Close() {
	s.reg.Close()
}
