package rules

import "github.com/park285/Cheese-ARBoard/internal/board"

var (
	knightSteps  = [][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
	kingSteps    = [][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
	straightRays = [][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}
	diagonalRays = [][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
)

// kingAttacked reports whether the king of color c stands on a square attacked
// by the other side.
func (s *Snapshot) kingAttacked(c board.Color) bool {
	for i := 0; i < board.NumSquares; i++ {
		if s.filled[i] && s.cells[i].Role == board.King && s.cells[i].Color == c {
			return s.attacked(board.Square(i), c.Opponent())
		}
	}
	return false
}

func (s *Snapshot) attacked(sq board.Square, by board.Color) bool {
	p := board.ToPosition(sq)
	at := func(file, rank int) (board.Piece, bool) {
		q := board.Position{File: file, Rank: rank}
		if !q.Valid() {
			return board.Piece{}, false
		}
		return s.OccupantAt(board.ToSquare(q))
	}

	// a pawn of color `by` attacks diagonally forward
	pawnRank := p.Rank - 1
	if by == board.Black {
		pawnRank = p.Rank + 1
	}
	for _, df := range []int{-1, 1} {
		if pc, ok := at(p.File+df, pawnRank); ok && pc.Color == by && pc.Role == board.Pawn {
			return true
		}
	}
	for _, st := range knightSteps {
		if pc, ok := at(p.File+st[0], p.Rank+st[1]); ok && pc.Color == by && pc.Role == board.Knight {
			return true
		}
	}
	for _, st := range kingSteps {
		if pc, ok := at(p.File+st[0], p.Rank+st[1]); ok && pc.Color == by && pc.Role == board.King {
			return true
		}
	}
	if s.rayHits(p, straightRays, by, board.Rook) || s.rayHits(p, diagonalRays, by, board.Bishop) {
		return true
	}
	return false
}

// rayHits walks each ray until the first occupant and reports a slider of
// the given role (or a queen) owned by `by`.
func (s *Snapshot) rayHits(from board.Position, rays [][2]int, by board.Color, slider board.Role) bool {
	for _, r := range rays {
		q := board.Position{File: from.File + r[0], Rank: from.Rank + r[1]}
		for q.Valid() {
			if pc, ok := s.OccupantAt(board.ToSquare(q)); ok {
				if pc.Color == by && (pc.Role == slider || pc.Role == board.Queen) {
					return true
				}
				break
			}
			q = board.Position{File: q.File + r[0], Rank: q.Rank + r[1]}
		}
	}
	return false
}
