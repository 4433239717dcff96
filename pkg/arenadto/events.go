package arenadto

// Outbound event names.
const (
	EvWaiting       = "waiting"
	EvGameStart     = "gameStart"
	EvMoveMade      = "moveMade"
	EvTimerUpdate   = "timerUpdate"
	EvGameOver      = "gameOver"
	EvRatingUpdate  = "ratingUpdate"
	EvChatMessage   = "chatMessage"
	EvDrawOffered   = "drawOffered"
	EvInvalidMove   = "invalidMove"
	EvAuthenticated = "authenticated"
	EvAuthError     = "authError"
	EvError         = "error"
)

// MoveInfo describes an applied move.
type MoveInfo struct {
	From string `json:"from"`
	To   string `json:"to"`
	UCI  string `json:"uci"`
	SAN  string `json:"san"`
}

// TerminalStatus mirrors the rules engine flags after a move.
type TerminalStatus struct {
	InCheck              bool  `json:"isCheck"`
	Checkmate            bool  `json:"isCheckmate"`
	Stalemate            bool  `json:"isStalemate"`
	Repetition           bool  `json:"isThreefoldRepetition"`
	InsufficientMaterial bool  `json:"isInsufficientMaterial"`
	Draw                 bool  `json:"isDraw"`
	Turn                 Color `json:"turn"`
}

type GameStart struct {
	SessionID   string      `json:"sessionId"`
	Color       Color       `json:"color"`
	Opponent    Profile     `json:"opponent"`
	TimeControl TimeControl `json:"timeControl"`
	FEN         string      `json:"fen"`
}

type MoveMade struct {
	Move   MoveInfo       `json:"move"`
	FEN    string         `json:"fen"`
	Status TerminalStatus `json:"status"`
	Clocks Clocks         `json:"timers"`
}

type TimerUpdate struct {
	Clocks Clocks `json:"timers"`
	Turn   Color  `json:"currentTurn"`
}

type GameOver struct {
	Reason Reason `json:"reason"`
	Winner Color  `json:"winner,omitempty"`
	Clocks Clocks `json:"timers"`
}

type ChatMessage struct {
	Sender    string `json:"sender"`
	Text      string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type InvalidMove struct {
	Reason string `json:"reason"`
}

type ErrorMessage struct {
	Message string `json:"message"`
}
