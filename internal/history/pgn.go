package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/Cheese-ARBoard/internal/domain"
	"github.com/park285/Cheese-ARBoard/internal/rules"
)

func resultToPGN(result string) string {
	switch strings.ToLower(strings.TrimSpace(result)) {
	case "white":
		return "1-0"
	case "black":
		return "0-1"
	case "draw":
		return "1/2-1/2"
	default:
		return "*"
	}
}

// BuildPGN renders m as PGN. A non-standard initial position is carried in
// SetUp/FEN tags.
func BuildPGN(m *domain.MatchRecord) string {
	if m == nil {
		return ""
	}
	date := m.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	res := resultToPGN(m.Result)

	var b strings.Builder
	b.WriteString("[Event \"AR Board\"]\n")
	fmt.Fprintf(&b, "[Site \"%s\"]\n", sanitizePGN(siteFor(m)))
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	b.WriteString("[White \"white\"]\n[Black \"black\"]\n")
	if m.InitialFEN != "" && m.InitialFEN != rules.StartFEN {
		b.WriteString("[SetUp \"1\"]\n")
		fmt.Fprintf(&b, "[FEN \"%s\"]\n", sanitizePGN(m.InitialFEN))
	}
	if m.ECO != "" {
		fmt.Fprintf(&b, "[ECO \"%s\"]\n", sanitizePGN(m.ECO))
		fmt.Fprintf(&b, "[Opening \"%s\"]\n", sanitizePGN(m.Opening))
	}
	if m.ResultMethod != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(m.ResultMethod))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", res)

	for i := 0; i < len(m.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(m.MovesSAN[i]))
		if i+1 < len(m.MovesSAN) {
			b.WriteString(strings.TrimSpace(m.MovesSAN[i+1]))
			b.WriteString(" ")
		}
	}
	b.WriteString(res)
	return b.String()
}

func siteFor(m *domain.MatchRecord) string {
	if m.GameID > 0 {
		return fmt.Sprintf("game %d", m.GameID)
	}
	return m.Mode
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", "")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
