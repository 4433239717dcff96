// Package rating implements standard Elo updates with a games-played and
// rating dependent K-factor.
package rating

import "math"

// Outcome is the result of a contest from white's perspective.
type Outcome int

const (
	WhiteWins Outcome = iota
	BlackWins
	Draw
)

// Seed is a participant's rating state going into a contest.
type Seed struct {
	Rating      int
	GamesPlayed int
}

// Change describes one participant's rating movement.
type Change struct {
	Old   int `json:"oldRating"`
	New   int `json:"newRating"`
	Delta int `json:"change"`
}

// Result holds both participants' rating changes.
type Result struct {
	White Change `json:"white"`
	Black Change `json:"black"`
}

// ExpectedScore returns the expected score of a against b.
func ExpectedScore(a, b int) float64 {
	return 1 / (1 + math.Pow(10, float64(b-a)/400))
}

// KFactor is higher for provisional players (<30 games) and tapers as
// rating climbs past 2100 and 2400.
func KFactor(rating, gamesPlayed int) int {
	switch {
	case gamesPlayed < 30:
		return 40
	case rating < 2100:
		return 32
	case rating < 2400:
		return 24
	default:
		return 16
	}
}

// Update computes both sides' new ratings for the given outcome.
func Update(white, black Seed, outcome Outcome) Result {
	var scoreW, scoreB float64
	switch outcome {
	case WhiteWins:
		scoreW, scoreB = 1, 0
	case BlackWins:
		scoreW, scoreB = 0, 1
	default:
		scoreW, scoreB = 0.5, 0.5
	}

	newW := apply(white, black.Rating, scoreW)
	newB := apply(black, white.Rating, scoreB)
	return Result{
		White: Change{Old: white.Rating, New: newW, Delta: newW - white.Rating},
		Black: Change{Old: black.Rating, New: newB, Delta: newB - black.Rating},
	}
}

func apply(s Seed, opponentRating int, score float64) int {
	k := float64(KFactor(s.Rating, s.GamesPlayed))
	expected := ExpectedScore(s.Rating, opponentRating)
	return s.Rating + int(math.Round(k*(score-expected)))
}
