package board

import (
	"fmt"
	"math"
	"strings"
)

// Color identifies a chess side.
type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// Opponent returns the other side.
func (c Color) Opponent() Color {
	if c == White {
		return Black
	}
	return White
}

// Role is the kind of a chess piece.
type Role string

const (
	Pawn   Role = "pawn"
	Knight Role = "knight"
	Bishop Role = "bishop"
	Rook   Role = "rook"
	Queen  Role = "queen"
	King   Role = "king"
)

// Roles lists every role in a stable order.
var Roles = []Role{Pawn, Knight, Bishop, Rook, Queen, King}

// Piece is a board occupant.
type Piece struct {
	Role  Role  `json:"role"`
	Color Color `json:"color"`
}

func (p Piece) String() string { return string(p.Color) + " " + string(p.Role) }

// Square is a linear board index, rank*8 + file (a1 = 0, h8 = 63).
type Square int

// NumSquares is the number of squares on a board.
const NumSquares = 64

// Position is a file/rank board address. File 0 is the a-file, rank 0 is the first rank.
type Position struct {
	File int `json:"file"`
	Rank int `json:"rank"`
}

// ToSquare converts a position into its linear square index.
func ToSquare(p Position) Square { return Square(p.Rank*8 + p.File) }

// ToPosition converts a square into its file/rank pair.
func ToPosition(sq Square) Position { return Position{File: int(sq) & 7, Rank: int(sq) >> 3} }

// Valid reports whether the position lies on the board.
func (p Position) Valid() bool {
	return p.File >= 0 && p.File <= 7 && p.Rank >= 0 && p.Rank <= 7
}

func (p Position) String() string { return ToSquare(p).String() }

// Valid reports whether the square lies on the board.
func (sq Square) Valid() bool { return sq >= 0 && sq < NumSquares }

// String renders the square in algebraic form, e.g. "e2".
func (sq Square) String() string {
	if !sq.Valid() {
		return fmt.Sprintf("square(%d)", int(sq))
	}
	p := ToPosition(sq)
	return string(rune('a'+p.File)) + string(rune('1'+p.Rank))
}

// ParseSquare parses an algebraic square name such as "e2".
func ParseSquare(s string) (Square, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 {
		return 0, fmt.Errorf("invalid square %q", s)
	}
	p := Position{File: int(s[0] - 'a'), Rank: int(s[1] - '1')}
	if !p.Valid() {
		return 0, fmt.Errorf("invalid square %q", s)
	}
	return ToSquare(p), nil
}

// Move is a from/to square pair. Promotion choice is left to the rules engine.
type Move struct {
	From Square `json:"from"`
	To   Square `json:"to"`
}

// UCI renders the move in long algebraic form without a promotion suffix.
func (m Move) UCI() string { return m.From.String() + m.To.String() }

func (m Move) String() string { return m.UCI() }

// PositionFromTransform maps the transform of a picked 3-D object to a board
// address: the field grid is laid out with file along X and rank along -Z.
func PositionFromTransform(x, z float64) (Position, error) {
	if math.IsNaN(x) || math.IsNaN(z) {
		return Position{}, fmt.Errorf("transform (%v, %v) is not a board field", x, z)
	}
	p := Position{File: int(math.Round(x)), Rank: int(math.Round(math.Abs(z)))}
	if !p.Valid() {
		return Position{}, fmt.Errorf("transform (%v, %v) is off the board", x, z)
	}
	return p, nil
}
