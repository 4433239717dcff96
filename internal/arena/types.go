// Package arena is the session-coordination core: matchmaking queue,
// session state machine, clocks and exactly-once game resolution.
package arena

import (
	"errors"
	"time"

	"github.com/park285/chess-arena/internal/rating"
	"github.com/park285/chess-arena/internal/timectrl"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// State is a session lifecycle phase.
type State int

const (
	// StateForming is a session with one side assigned. Matchmaking pairs
	// both sides atomically, so sessions normally start Active.
	StateForming State = iota
	StateActive
	StateResolving
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateForming:
		return "forming"
	case StateActive:
		return "active"
	case StateResolving:
		return "resolving"
	default:
		return "closed"
	}
}

// Recipient is an addressable event sink. Sessions hold recipients by
// reference only; delivery is best-effort and must never block.
type Recipient interface {
	Send(event string, payload any)
}

// Participant binds an identity to a session side.
type Participant struct {
	Profile arenadto.Profile
	Conn    Recipient
}

// Outcome is the final record of a resolved session handed to the
// persistence sink.
type Outcome struct {
	SessionID string
	Control   timectrl.Control
	White     arenadto.Profile
	Black     arenadto.Profile
	Reason    arenadto.Reason
	Winner    arenadto.Color // empty on draws
	MovesUCI  []string
	MovesSAN  []string
	FinalFEN  string
	Clocks    arenadto.Clocks
	Chat      []arenadto.ChatMessage
	Rating    rating.Result
	StartedAt time.Time
	EndedAt   time.Time
}

// ResolutionSink consumes resolved sessions, typically persisting them.
// Implementations must tolerate being called from arbitrary goroutines.
type ResolutionSink interface {
	HandleResolution(out *Outcome)
}

var (
	ErrNotParticipant   = errors.New("connection is not a participant of this session")
	ErrNotYourTurn      = errors.New("not your turn")
	ErrSessionNotActive = errors.New("session is no longer active")
	ErrNoDrawOffer      = errors.New("no draw offer outstanding")
	ErrOwnDrawOffer     = errors.New("cannot accept your own draw offer")
)
