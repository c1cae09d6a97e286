package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/park285/Cheese-ARBoard/internal/board"
	"github.com/park285/Cheese-ARBoard/internal/registry"
	"github.com/park285/Cheese-ARBoard/internal/rules"
	"go.uber.org/zap"
)

var (
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrNoPieceOnSquare        = errors.New("no piece on square")
	ErrUnknownHandle          = errors.New("unknown piece handle")
)

// State is the selection state of the coordinator.
type State int

const (
	Idle State = iota
	PieceSelected
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case PieceSelected:
		return "piece_selected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Messages renders user-facing notifications. *msgcat.Catalog satisfies it.
type Messages interface {
	Render(key string, data any) (string, error)
}

// MoveEvent describes an accepted move.
type MoveEvent struct {
	Move   board.Move
	SAN    string
	Before *rules.Snapshot
	After  *rules.Snapshot
}

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMessages(m Messages) Option {
	return func(c *Coordinator) { c.msgs = m }
}

// WithMoveObserver registers fn to run after every accepted move.
func WithMoveObserver(fn func(MoveEvent)) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.observers = append(c.observers, fn)
		}
	}
}

// Coordinator drives selection and moves on top of a backend and keeps the
// piece registry in sync with it. Not safe for concurrent use.
type Coordinator struct {
	backend   Backend
	reg       *registry.Registry
	msgs      Messages
	logger    *zap.Logger
	observers []func(MoveEvent)

	state    State
	from     board.Square
	selected *registry.Entity
	dests    []board.Square
	placed   map[board.Square]*registry.Entity
}

func New(backend Backend, reg *registry.Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		backend: backend,
		reg:     reg,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) State() State { return c.state }

// Snapshot returns the backend's current snapshot.
func (c *Coordinator) Snapshot() *rules.Snapshot { return c.backend.Snapshot() }

// Selected returns the selected square while a piece is selected.
func (c *Coordinator) Selected() (board.Square, bool) {
	return c.from, c.state == PieceSelected
}

// SelectedEntity returns the entity of the selected piece, if any.
func (c *Coordinator) SelectedEntity() *registry.Entity { return c.selected }

// Destinations returns the highlighted legal destinations.
func (c *Coordinator) Destinations() []board.Square {
	return append([]board.Square(nil), c.dests...)
}

// EntityAt returns the entity placed on sq by the last refresh.
func (c *Coordinator) EntityAt(sq board.Square) (*registry.Entity, bool) {
	e, ok := c.placed[sq]
	return e, ok
}

// Select picks up the piece on sq. Selecting a piece of the side not to move
// returns a turn message and leaves the state Idle.
func (c *Coordinator) Select(sq board.Square) (string, error) {
	if c.state != Idle {
		return "", fmt.Errorf("%w: select while %s", ErrInvalidStateTransition, c.state)
	}
	snap := c.backend.Snapshot()
	p, ok := snap.OccupantAt(sq)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPieceOnSquare, sq)
	}
	if p.Color != snap.Turn() {
		return c.turnMessage(snap.Turn()), nil
	}
	if c.placed == nil {
		c.Refresh()
	}

	c.state = PieceSelected
	c.from = sq
	c.selected = c.placed[sq]
	c.dests = snap.LegalDestinations(sq)
	c.logger.Debug("coordinator_select",
		zap.String("square", sq.String()),
		zap.String("piece", p.String()),
		zap.Int("destinations", len(c.dests)))
	return "", nil
}

// SelectHandle selects the piece behind a visual handle.
func (c *Coordinator) SelectHandle(h registry.Handle) (string, error) {
	e, ok := c.reg.Lookup(h)
	if !ok || !e.Visible {
		return "", fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	return c.Select(board.ToSquare(e.Pos))
}

// Unselect drops the selection. Always succeeds.
func (c *Coordinator) Unselect() {
	c.state = Idle
	c.from = 0
	c.selected = nil
	c.dests = nil
}

// MoveTo moves the selected piece to pos. An illegal target yields a message
// and keeps the selection. A backend failure returns the error and keeps both
// the selection and the snapshot.
func (c *Coordinator) MoveTo(ctx context.Context, pos board.Position) (string, error) {
	if c.state != PieceSelected {
		return "", fmt.Errorf("%w: move while %s", ErrInvalidStateTransition, c.state)
	}
	before := c.backend.Snapshot()
	if !pos.Valid() {
		return c.render("coordinator.illegal", nil, "Illegal move."), nil
	}
	m := board.Move{From: c.from, To: board.ToSquare(pos)}
	if !before.IsLegal(m) {
		return c.render("coordinator.illegal", nil, "Illegal move."), nil
	}

	san := before.SAN(m)
	if err := c.backend.SubmitMove(ctx, m); err != nil {
		return "", fmt.Errorf("submit move %s: %w", m, err)
	}
	after := c.backend.Snapshot()

	c.reg.Move(c.selected, pos)
	c.Unselect()
	c.Refresh()

	c.logger.Info("coordinator_move",
		zap.String("move", m.UCI()),
		zap.String("san", san),
		zap.String("status", string(after.Status())))
	ev := MoveEvent{Move: m, SAN: san, Before: before, After: after}
	for _, fn := range c.observers {
		fn(ev)
	}
	return c.TerminalMessage(after), nil
}

// Refresh re-syncs the registry with the backend snapshot.
func (c *Coordinator) Refresh() {
	snap := c.backend.Snapshot()
	c.reg.Reset()
	placed := make(map[board.Square]*registry.Entity, 32)
	for _, occ := range snap.Occupants() {
		placed[occ.Square] = c.reg.GetOrCreate(occ.Piece.Role, occ.Piece.Color, board.ToPosition(occ.Square))
	}
	c.reg.SweepHidden()
	c.placed = placed
}

// Sync refreshes after a backend change made elsewhere and revalidates a live
// selection. It reports whether the selection was dropped.
func (c *Coordinator) Sync() bool {
	c.Refresh()
	if c.state != PieceSelected {
		return false
	}
	snap := c.backend.Snapshot()
	p, ok := snap.OccupantAt(c.from)
	if !ok || c.selected == nil || p != c.selected.Piece() || p.Color != snap.Turn() {
		c.logger.Debug("coordinator_selection_dropped", zap.String("square", c.from.String()))
		c.Unselect()
		return true
	}
	c.selected = c.placed[c.from]
	c.dests = snap.LegalDestinations(c.from)
	return false
}

// TerminalMessage evaluates checkmate > stalemate > check > none.
func (c *Coordinator) TerminalMessage(s *rules.Snapshot) string {
	if w, ok := s.Winner(); ok {
		return c.render("coordinator.winner", map[string]any{"Winner": w}, fmt.Sprintf("%s WON this match!", w))
	}
	if s.IsStalemate() {
		return c.render("coordinator.stalemate", nil, "STALEMATE!")
	}
	if s.IsCheck() {
		return c.render("coordinator.check", nil, "CHECK!")
	}
	return ""
}

func (c *Coordinator) turnMessage(turn board.Color) string {
	return c.render("coordinator.turn", map[string]any{"Color": turn}, fmt.Sprintf("It's %s's turn.", turn))
}

func (c *Coordinator) render(key string, data any, fallback string) string {
	if c.msgs == nil {
		return fallback
	}
	s, err := c.msgs.Render(key, data)
	if err != nil {
		c.logger.Debug("coordinator_message_fallback", zap.String("key", key), zap.Error(err))
		return fallback
	}
	return s
}
