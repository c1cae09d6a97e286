package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-ARBoard/internal/board"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrInvalidFEN  = errors.New("invalid fen")
)

// StartFEN is the standard starting position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Status is the terminal/check state of a position.
type Status string

const (
	StatusNone      Status = "none"
	StatusCheck     Status = "check"
	StatusStalemate Status = "stalemate"
	StatusCheckmate Status = "checkmate"
)

// Snapshot is an immutable chess position. It is replaced wholesale on every
// change and never mutated after construction.
type Snapshot struct {
	game    *nchess.Game
	fen     string
	cells   [board.NumSquares]board.Piece
	filled  [board.NumSquares]bool
	turn    board.Color
	legal   []board.Move
	inCheck bool
	method  nchess.Method
}

// Start returns the standard starting position.
func Start() *Snapshot {
	return newSnapshot(nchess.NewGame())
}

// ParseFEN builds a snapshot from a FEN string. Trailing move counters may be omitted.
func ParseFEN(fen string) (*Snapshot, error) {
	normalized, err := normalizeFEN(fen)
	if err != nil {
		return nil, err
	}
	opt, err := nchess.FEN(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFEN, err)
	}
	return newSnapshot(nchess.NewGame(opt)), nil
}

func normalizeFEN(fen string) (string, error) {
	fields := strings.Fields(fen)
	switch len(fields) {
	case 6:
	case 4:
		fields = append(fields, "0", "1")
	case 5:
		fields = append(fields, "1")
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidFEN, strings.TrimSpace(fen))
	}
	if strings.Count(fields[0], "/") != 7 {
		return "", fmt.Errorf("%w: %q", ErrInvalidFEN, strings.TrimSpace(fen))
	}
	return strings.Join(fields, " "), nil
}

func newSnapshot(game *nchess.Game) *Snapshot {
	s := &Snapshot{game: game, fen: game.FEN()}
	pos := game.Position()
	b := pos.Board()
	for i := 0; i < board.NumSquares; i++ {
		p := b.Piece(nchess.Square(i))
		if p == nchess.NoPiece {
			continue
		}
		s.cells[i] = board.Piece{Role: roleFrom(p.Type()), Color: colorFrom(p.Color())}
		s.filled[i] = true
	}
	s.turn = colorFrom(pos.Turn())

	seen := make(map[board.Move]struct{})
	for _, mv := range game.ValidMoves() {
		m := board.Move{From: board.Square(mv.S1()), To: board.Square(mv.S2())}
		if _, dup := seen[m]; dup {
			continue // promotions share from/to
		}
		seen[m] = struct{}{}
		s.legal = append(s.legal, m)
	}
	sort.Slice(s.legal, func(i, j int) bool {
		if s.legal[i].From != s.legal[j].From {
			return s.legal[i].From < s.legal[j].From
		}
		return s.legal[i].To < s.legal[j].To
	})
	s.inCheck = s.kingAttacked(s.turn)
	s.method = pos.Status()
	return s
}

// FEN returns the serialized position.
func (s *Snapshot) FEN() string { return s.fen }

// Turn returns the side to move.
func (s *Snapshot) Turn() board.Color { return s.turn }

// OccupantAt returns the piece on sq, if any.
func (s *Snapshot) OccupantAt(sq board.Square) (board.Piece, bool) {
	if !sq.Valid() || !s.filled[sq] {
		return board.Piece{}, false
	}
	return s.cells[sq], true
}

// Occupant pairs a square with its piece.
type Occupant struct {
	Square board.Square
	Piece  board.Piece
}

// Occupants lists every occupied square in ascending order.
func (s *Snapshot) Occupants() []Occupant {
	out := make([]Occupant, 0, 32)
	for i := 0; i < board.NumSquares; i++ {
		if s.filled[i] {
			out = append(out, Occupant{Square: board.Square(i), Piece: s.cells[i]})
		}
	}
	return out
}

// LegalDestinations returns the squares the piece on sq may move to, ascending.
func (s *Snapshot) LegalDestinations(sq board.Square) []board.Square {
	var out []board.Square
	for _, m := range s.legal {
		if m.From == sq {
			out = append(out, m.To)
		}
	}
	return out
}

// LegalMoves returns every legal move for the side to move.
func (s *Snapshot) LegalMoves() []board.Move {
	return append([]board.Move(nil), s.legal...)
}

// IsLegal reports whether m is legal in this position.
func (s *Snapshot) IsLegal(m board.Move) bool {
	for _, lm := range s.legal {
		if lm == m {
			return true
		}
	}
	return false
}

// Apply returns the position after m. m must be legal.
func (s *Snapshot) Apply(m board.Move) (*Snapshot, error) {
	if !s.IsLegal(m) {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, m.UCI())
	}
	next := s.game.Clone()
	if err := next.PushNotationMove(s.UCI(m), nchess.UCINotation{}, nil); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, m.UCI(), err)
	}
	return newSnapshot(next), nil
}

// SAN renders m in standard algebraic notation. Returns "" for illegal moves.
func (s *Snapshot) SAN(m board.Move) string {
	if !s.IsLegal(m) {
		return ""
	}
	pos := s.game.Position()
	mv, err := nchess.UCINotation{}.Decode(pos, s.UCI(m))
	if err != nil {
		return ""
	}
	return nchess.AlgebraicNotation{}.Encode(pos, mv)
}

// UCI renders m as it is applied here: a pawn reaching the last rank carries
// the engine default promotion (queen).
func (s *Snapshot) UCI(m board.Move) string {
	text := m.UCI()
	if p, ok := s.OccupantAt(m.From); ok && p.Role == board.Pawn {
		if r := board.ToPosition(m.To).Rank; r == 0 || r == 7 {
			text += "q"
		}
	}
	return text
}

// IsCheck reports whether the side to move is in check.
func (s *Snapshot) IsCheck() bool { return s.inCheck }

// IsCheckmate reports whether the side to move is mated.
func (s *Snapshot) IsCheckmate() bool { return s.method == nchess.Checkmate }

// IsStalemate reports whether the side to move has no legal move and is not in check.
func (s *Snapshot) IsStalemate() bool { return s.method == nchess.Stalemate }

// Winner returns the winning side once the game ended by checkmate.
func (s *Snapshot) Winner() (board.Color, bool) {
	if s.IsCheckmate() {
		return s.turn.Opponent(), true
	}
	return "", false
}

// Status evaluates checkmate > stalemate > check > none.
func (s *Snapshot) Status() Status {
	switch {
	case s.IsCheckmate():
		return StatusCheckmate
	case s.IsStalemate():
		return StatusStalemate
	case s.IsCheck():
		return StatusCheck
	default:
		return StatusNone
	}
}

// Terminal reports whether no further moves can be played.
func (s *Snapshot) Terminal() bool { return s.IsCheckmate() || s.IsStalemate() }

func roleFrom(t nchess.PieceType) board.Role {
	switch t {
	case nchess.King:
		return board.King
	case nchess.Queen:
		return board.Queen
	case nchess.Rook:
		return board.Rook
	case nchess.Bishop:
		return board.Bishop
	case nchess.Knight:
		return board.Knight
	default:
		return board.Pawn
	}
}

func colorFrom(c nchess.Color) board.Color {
	if c == nchess.White {
		return board.White
	}
	return board.Black
}
