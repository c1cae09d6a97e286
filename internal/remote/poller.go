package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/rules"
	"go.uber.org/zap"
)

// DefaultInterval is the delay between the end of one fetch and the start of the next.
const DefaultInterval = 1500 * time.Millisecond

var ErrAlreadyStarted = errors.New("poller already started")

// PositionSource is the game server seen by the poller.
type PositionSource interface {
	FetchPosition(ctx context.Context, gameID int) (string, error)
	SubmitMove(ctx context.Context, gameID int, m board.Move) error
}

type PollerOption func(*Poller)

func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

func WithStore(s SnapshotStore) PollerOption {
	return func(p *Poller) { p.store = s }
}

func WithLogger(l *zap.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// Poller mirrors one remote game. The held snapshot is replaced atomically and
// onChange runs before FetchAndDiff returns.
type Poller struct {
	src      PositionSource
	gameID   int
	onChange func(*rules.Snapshot)
	interval time.Duration
	store    SnapshotStore
	logger   *zap.Logger

	mu   sync.Mutex // serializes fetch-and-diff
	last string
	snap atomic.Pointer[rules.Snapshot]

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(src PositionSource, gameID int, onChange func(*rules.Snapshot), opts ...PollerOption) *Poller {
	p := &Poller{
		src:      src,
		gameID:   gameID,
		onChange: onChange,
		interval: DefaultInterval,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.snap.Store(rules.Start())
	return p
}

func (p *Poller) GameID() int { return p.gameID }

// Snapshot returns the current immutable snapshot.
func (p *Poller) Snapshot() *rules.Snapshot { return p.snap.Load() }

// FetchAndDiff fetches the remote position and reports whether it changed.
// A body that does not parse leaves the state untouched.
func (p *Poller) FetchAndDiff(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	body, err := p.src.FetchPosition(ctx, p.gameID)
	if err != nil {
		return false, err
	}
	if body == p.last {
		return false, nil
	}
	snap, err := rules.ParseFEN(body)
	if err != nil {
		return false, fmt.Errorf("parse remote position: %w", err)
	}
	p.adoptLocked(body, snap)

	if p.store != nil {
		if err := p.store.Save(ctx, p.gameID, body); err != nil {
			p.logger.Warn("remote_store_save_error", zap.Int("game_id", p.gameID), zap.Error(err))
		}
	}
	return true, nil
}

func (p *Poller) adoptLocked(body string, snap *rules.Snapshot) {
	p.snap.Store(snap)
	p.last = body
	p.logger.Debug("remote_position_changed", zap.Int("game_id", p.gameID), zap.String("fen", body))
	if p.onChange != nil {
		p.onChange(snap)
	}
}

// SubmitMove posts m and then performs one extra fetch-and-diff. On a failed
// post the held snapshot is left as it was.
func (p *Poller) SubmitMove(ctx context.Context, m board.Move) error {
	if err := p.src.SubmitMove(ctx, p.gameID, m); err != nil {
		p.logger.Warn("remote_submit_error", zap.Int("game_id", p.gameID), zap.String("move", m.UCI()), zap.Error(err))
		return err
	}
	if _, err := p.FetchAndDiff(ctx); err != nil {
		// the move was accepted; the poll loop catches up
		p.logger.Warn("remote_fetch_after_submit_error", zap.Int("game_id", p.gameID), zap.Error(err))
	}
	return nil
}

// Start primes the poller from the store and runs the poll loop until Stop
// or until ctx is done.
func (p *Poller) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.cancel != nil {
		return ErrAlreadyStarted
	}
	p.prime(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(loopCtx, p.done)
	return nil
}

func (p *Poller) prime(ctx context.Context) {
	if p.store == nil {
		return
	}
	fen, err := p.store.Load(ctx, p.gameID)
	if err != nil {
		p.logger.Warn("remote_store_load_error", zap.Int("game_id", p.gameID), zap.Error(err))
		return
	}
	if fen == "" {
		return
	}
	snap, err := rules.ParseFEN(fen)
	if err != nil {
		p.logger.Warn("remote_store_bad_position", zap.Int("game_id", p.gameID), zap.Error(err))
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == "" {
		p.adoptLocked(fen, snap)
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := p.FetchAndDiff(ctx); err != nil && ctx.Err() == nil {
			p.logger.Warn("remote_fetch_error", zap.Int("game_id", p.gameID), zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}
		timer.Reset(p.interval)
	}
}

// Stop cancels the poll loop and waits for it to exit. Safe to call more than once.
func (p *Poller) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}
