// Package rules wraps the external chess rules engine behind the narrow
// interface the session coordinator needs. Move legality and terminal
// detection are never re-implemented here; the library is authoritative.
package rules

import (
	"errors"
	"strings"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena/pkg/arenadto"
)

// ErrIllegalMove is returned for any move the engine rejects.
var ErrIllegalMove = errors.New("illegal move")

// Status reports the engine's terminal flags for the current position.
type Status struct {
	InCheck              bool
	Checkmate            bool
	Stalemate            bool
	Repetition           bool
	InsufficientMaterial bool
	Draw                 bool
	SideToMove           arenadto.Color
}

// Terminal reports whether any terminal flag is set.
func (s Status) Terminal() bool {
	return s.Checkmate || s.Stalemate || s.Repetition || s.InsufficientMaterial || s.Draw
}

// MoveResult describes a successfully applied move.
type MoveResult struct {
	UCI        string
	SAN        string
	FEN        string
	SideToMove arenadto.Color
}

// Adapter owns one engine game instance. Not safe for concurrent use; the
// owning session serializes access.
type Adapter struct {
	game     *nchess.Game
	movesUCI []string
	movesSAN []string
}

func New() *Adapter {
	return &Adapter{game: nchess.NewGame()}
}

// ApplyMove applies a from/to move with an optional promotion hint. When the
// bare move is rejected and no hint was given, a queen promotion is retried,
// matching the usual client default.
func (a *Adapter) ApplyMove(from, to, promotion string) (*MoveResult, error) {
	from = strings.ToLower(strings.TrimSpace(from))
	to = strings.ToLower(strings.TrimSpace(to))
	promotion = strings.ToLower(strings.TrimSpace(promotion))
	if from == "" || to == "" {
		return nil, ErrIllegalMove
	}

	pos := a.game.Position()
	uci := from + to + promotion
	mv, err := nchess.UCINotation{}.Decode(pos, uci)
	if err != nil && promotion == "" {
		uci = from + to + "q"
		mv, err = nchess.UCINotation{}.Decode(pos, uci)
	}
	if err != nil {
		return nil, ErrIllegalMove
	}
	if err := a.game.Move(mv, nil); err != nil {
		return nil, ErrIllegalMove
	}

	san := nchess.AlgebraicNotation{}.Encode(pos, mv)
	a.movesUCI = append(a.movesUCI, uci)
	a.movesSAN = append(a.movesSAN, san)

	// Claim threefold repetition automatically; the engine only marks it
	// eligible, while the original service treats it as an immediate draw.
	for _, m := range a.game.EligibleDraws() {
		if m == nchess.ThreefoldRepetition {
			_ = a.game.Draw(nchess.ThreefoldRepetition)
			break
		}
	}

	return &MoveResult{
		UCI:        uci,
		SAN:        san,
		FEN:        a.game.FEN(),
		SideToMove: colorFrom(a.game.Position().Turn()),
	}, nil
}

// Status returns the engine's current terminal flags verbatim.
func (a *Adapter) Status() Status {
	st := Status{SideToMove: colorFrom(a.game.Position().Turn())}
	switch a.game.Method() {
	case nchess.Checkmate:
		st.Checkmate = true
	case nchess.Stalemate:
		st.Stalemate = true
	case nchess.ThreefoldRepetition, nchess.FivefoldRepetition:
		st.Repetition = true
	case nchess.InsufficientMaterial:
		st.InsufficientMaterial = true
	}
	st.Draw = a.game.Outcome() == nchess.Draw
	if n := len(a.movesSAN); n > 0 {
		last := a.movesSAN[n-1]
		st.InCheck = strings.HasSuffix(last, "+") || strings.HasSuffix(last, "#")
	}
	return st
}

// FEN serializes the current position.
func (a *Adapter) FEN() string { return a.game.FEN() }

// MovesUCI returns the move log in UCI form.
func (a *Adapter) MovesUCI() []string {
	out := make([]string, len(a.movesUCI))
	copy(out, a.movesUCI)
	return out
}

// MovesSAN returns the move log in SAN form.
func (a *Adapter) MovesSAN() []string {
	out := make([]string, len(a.movesSAN))
	copy(out, a.movesSAN)
	return out
}

func colorFrom(c nchess.Color) arenadto.Color {
	if c == nchess.White {
		return arenadto.White
	}
	return arenadto.Black
}
