package rules

import (
	"testing"

	nchess "github.com/corentings/chess/v2"

	"github.com/park285/chess-arena/pkg/arenadto"
)

func TestApplyMoveBasic(t *testing.T) {
	a := New()
	res, err := a.ApplyMove("e2", "e4", "")
	if err != nil {
		t.Fatalf("ApplyMove: %v", err)
	}
	if res.UCI != "e2e4" || res.SAN != "e4" {
		t.Fatalf("unexpected move encoding: uci=%q san=%q", res.UCI, res.SAN)
	}
	if res.SideToMove != arenadto.Black {
		t.Fatalf("side to move after e4 = %s, want black", res.SideToMove)
	}
}

func TestApplyMoveIllegalRejected(t *testing.T) {
	a := New()
	if _, err := a.ApplyMove("e2", "e5", ""); err != ErrIllegalMove {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if len(a.MovesUCI()) != 0 {
		t.Fatalf("illegal move must not be recorded")
	}
	if a.FEN() != New().FEN() {
		t.Fatalf("illegal move must not change the position")
	}
}

func TestScholarsMateCheckmate(t *testing.T) {
	a := New()
	moves := [][2]string{
		{"e2", "e4"}, {"e7", "e5"},
		{"f1", "c4"}, {"b8", "c6"},
		{"d1", "h5"}, {"g8", "f6"},
		{"h5", "f7"},
	}
	for _, m := range moves {
		if _, err := a.ApplyMove(m[0], m[1], ""); err != nil {
			t.Fatalf("ApplyMove %s%s: %v", m[0], m[1], err)
		}
	}
	st := a.Status()
	if !st.Checkmate || !st.Terminal() {
		t.Fatalf("expected checkmate, got %+v", st)
	}
	if !st.InCheck {
		t.Fatalf("mated side should be in check")
	}
}

func TestRoundTripMatchesEngineDirectly(t *testing.T) {
	seq := []string{"e2e4", "c7c5", "g1f3", "d7d6", "d2d4", "c5d4", "f3d4", "g8f6"}

	a := New()
	for _, uci := range seq {
		if _, err := a.ApplyMove(uci[:2], uci[2:4], ""); err != nil {
			t.Fatalf("adapter ApplyMove %s: %v", uci, err)
		}
	}

	direct := nchess.NewGame()
	for _, uci := range seq {
		if err := direct.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
			t.Fatalf("direct move %s: %v", uci, err)
		}
	}

	if a.FEN() != direct.FEN() {
		t.Fatalf("position diverged:\nadapter: %s\ndirect:  %s", a.FEN(), direct.FEN())
	}
}

func TestThreefoldRepetitionClaimedAutomatically(t *testing.T) {
	a := New()
	shuffle := [][2]string{
		{"g1", "f3"}, {"g8", "f6"},
		{"f3", "g1"}, {"f6", "g8"},
		{"g1", "f3"}, {"g8", "f6"},
		{"f3", "g1"}, {"f6", "g8"},
	}
	for _, m := range shuffle {
		if _, err := a.ApplyMove(m[0], m[1], ""); err != nil {
			t.Fatalf("ApplyMove %s%s: %v", m[0], m[1], err)
		}
	}
	st := a.Status()
	if !st.Repetition || !st.Draw {
		t.Fatalf("expected repetition draw, got %+v", st)
	}
}

func TestPromotionDefaultsToQueen(t *testing.T) {
	a := New()
	// Fast path to a promotion: advance the a-pawn while black shuffles rooks
	// after opening the b-file capture.
	seq := [][2]string{
		{"a2", "a4"}, {"b7", "b5"},
		{"a4", "b5"}, {"b8", "c6"},
		{"b5", "b6"}, {"c6", "d4"},
		{"b6", "b7"}, {"d4", "e6"},
	}
	for _, m := range seq {
		if _, err := a.ApplyMove(m[0], m[1], ""); err != nil {
			t.Fatalf("ApplyMove %s%s: %v", m[0], m[1], err)
		}
	}
	res, err := a.ApplyMove("b7", "a8", "")
	if err != nil {
		t.Fatalf("promotion move: %v", err)
	}
	if res.UCI != "b7a8q" {
		t.Fatalf("expected queen promotion default, got %q", res.UCI)
	}
}
