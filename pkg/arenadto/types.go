// Package arenadto holds the wire types shared between the game server and
// its clients.
package arenadto

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

// Reason names the terminal trigger that ended a session.
type Reason string

const (
	ReasonCheckmate    Reason = "checkmate"
	ReasonStalemate    Reason = "stalemate"
	ReasonRepetition   Reason = "threefold"
	ReasonInsufficient Reason = "insufficient"
	ReasonDraw         Reason = "draw"
	ReasonTimeout      Reason = "timeout"
	ReasonResignation  Reason = "resignation"
	ReasonAgreement    Reason = "agreement"
	ReasonDisconnect   Reason = "disconnect"
)

// Profile describes a participant as shown to other clients.
type Profile struct {
	ID          string `json:"id,omitempty"`
	Username    string `json:"username"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins,omitempty"`
	Losses      int    `json:"losses,omitempty"`
	Draws       int    `json:"draws,omitempty"`
}

// Clocks is a snapshot of both countdowns in milliseconds.
type Clocks struct {
	White int64 `json:"white"`
	Black int64 `json:"black"`
}

// TimeControl echoes the clock settings of a session in milliseconds.
type TimeControl struct {
	Class     string `json:"class"`
	Initial   int64  `json:"initial"`
	Increment int64  `json:"increment"`
}
