package rules

import (
	"sync"

	nchess "github.com/corentings/chess/v2"
	"github.com/corentings/chess/v2/opening"
)

var ecoBook = sync.OnceValue(opening.NewBookECO)

// Opening labels a line played from the standard start with its ECO code and
// title. Both are empty when the line is unknown or does not replay.
func Opening(movesUCI []string) (code, title string) {
	if len(movesUCI) == 0 {
		return "", ""
	}
	game := nchess.NewGame()
	for _, mv := range movesUCI {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			return "", ""
		}
	}
	book := ecoBook()
	if book == nil {
		return "", ""
	}
	if o := book.Find(game.Moves()); o != nil {
		return o.Code(), o.Title()
	}
	return "", ""
}
