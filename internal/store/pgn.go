package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/park285/chess-arena/internal/arena"
)

func mapResultToPGN(result string) string {
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

func buildPGN(out *arena.Outcome, pgnResult string) string {
	if out == nil {
		return ""
	}
	var b strings.Builder
	date := out.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	// headers
	b.WriteString("[Event \"Chess Arena\"]\n")
	b.WriteString("[Site \"chess-arena\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(out.White.Username)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(out.Black.Username)))
	if strings.TrimSpace(out.Control.Class) != "" {
		b.WriteString(fmt.Sprintf("[TimeControl \"%s\"]\n", sanitizePGN(out.Control.Class)))
	}
	if strings.TrimSpace(string(out.Reason)) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(string(out.Reason))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	// moves from SAN with numbering
	for i := 0; i < len(out.MovesSAN); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(out.MovesSAN[i])))
		if i+1 < len(out.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(out.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	if pgnResult != "" {
		b.WriteString(pgnResult)
	}
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
