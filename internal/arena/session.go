package arena

import (
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/clock"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rating"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/timectrl"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// tickInterval is the clock decrement granularity.
const tickInterval = 100 * time.Millisecond

// Session is one active contest. Every mutation — moves, chat, resign, draw
// handling, disconnects and the recurring clock tick — is serialized by mu,
// so a move and a timeout can never interleave on the same session.
type Session struct {
	ID      string
	Control timectrl.Control

	mu         sync.Mutex
	state      State
	players    map[arenadto.Color]*Participant
	adapter    *rules.Adapter
	clk        *clock.Clock
	turn       arenadto.Color
	lastTick   time.Time
	chat       []arenadto.ChatMessage
	chatMax    int
	spectators map[Recipient]struct{}
	drawOffer  arenadto.Color // side with an outstanding offer, "" when none
	startedAt  time.Time
	endedAt    time.Time

	stop     chan struct{}
	stopOnce sync.Once

	onResolved func(*Outcome)
}

// NewSession creates an Active session for a freshly matched pair and starts
// its clock loop. onResolved fires exactly once, off the session lock, after
// the terminal broadcasts have been emitted.
func NewSession(id string, white, black Participant, control timectrl.Control, chatMax int, onResolved func(*Outcome)) *Session {
	s := &Session{
		ID:      id,
		Control: control,
		state:   StateActive,
		players: map[arenadto.Color]*Participant{
			arenadto.White: &white,
			arenadto.Black: &black,
		},
		adapter:    rules.New(),
		clk:        clock.New(control.Initial, control.Increment),
		turn:       arenadto.White,
		lastTick:   time.Now(),
		chatMax:    chatMax,
		spectators: make(map[Recipient]struct{}),
		startedAt:  time.Now(),
		stop:       make(chan struct{}),
		onResolved: onResolved,
	}
	go s.runClock()
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FEN returns the current position.
func (s *Session) FEN() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.FEN()
}

// Side returns the color conn plays, or false for non-participants.
func (s *Session) Side(conn Recipient) (arenadto.Color, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideLocked(conn)
}

func (s *Session) sideLocked(conn Recipient) (arenadto.Color, bool) {
	for color, p := range s.players {
		if p.Conn == conn {
			return color, true
		}
	}
	return "", false
}

// Player returns the participant on the given side.
func (s *Session) Player(color arenadto.Color) Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.players[color]
}

// IsWatcher reports whether conn is a participant or spectator.
func (s *Session) IsWatcher(conn Recipient) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sideLocked(conn); ok {
		return true
	}
	_, ok := s.spectators[conn]
	return ok
}

// AddSpectator registers a read-only observer and sends it the current
// position snapshot. A session past Active takes no new spectators, so the
// caller can answer the request with not-found.
func (s *Session) AddSpectator(conn Recipient) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	s.spectators[conn] = struct{}{}
	fen := s.adapter.FEN()
	clocks := s.clk.Snapshot()
	turn := s.turn
	s.mu.Unlock()

	conn.Send(arenadto.EvTimerUpdate, arenadto.TimerUpdate{Clocks: clocks, Turn: turn})
	conn.Send(arenadto.EvMoveMade, arenadto.MoveMade{FEN: fen, Clocks: clocks})
	return nil
}

// Move applies a move for conn. Rejections carry no state change: wrong
// connection, wrong turn and illegal moves each return their sentinel.
func (s *Session) Move(conn Recipient, from, to, promotion string) error {
	now := time.Now()
	s.mu.Lock()

	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	color, ok := s.sideLocked(conn)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if color != s.turn {
		s.mu.Unlock()
		return ErrNotYourTurn
	}

	// Charge the mover's think time before applying; if the flag already
	// fell, the timeout wins over the incoming move.
	if done := s.chargeElapsedLocked(now); done != nil {
		s.mu.Unlock()
		s.finishResolve(done)
		return ErrSessionNotActive
	}

	res, err := s.adapter.ApplyMove(from, to, promotion)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	s.clk.ApplyIncrement(color)
	s.turn = res.SideToMove
	s.lastTick = now

	status := s.adapter.Status()
	s.broadcastLocked(arenadto.EvMoveMade, arenadto.MoveMade{
		Move: arenadto.MoveInfo{
			From: res.UCI[:2],
			To:   res.UCI[2:4],
			UCI:  res.UCI,
			SAN:  res.SAN,
		},
		FEN:    res.FEN,
		Status: statusDTO(status),
		Clocks: s.clk.Snapshot(),
	})

	var done *Outcome
	if status.Terminal() {
		reason, winner := terminalReason(status, color)
		done = s.resolveLocked(reason, winner)
	}
	s.mu.Unlock()

	if done != nil {
		s.finishResolve(done)
	}
	return nil
}

// Chat appends a length-bounded message and fans it out to everyone.
func (s *Session) Chat(conn Recipient, sender, text string) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	if _, ok := s.sideLocked(conn); !ok {
		if _, ok := s.spectators[conn]; !ok {
			s.mu.Unlock()
			return ErrNotParticipant
		}
	}
	msg := arenadto.ChatMessage{
		Sender:    sender,
		Text:      truncateRunes(text, s.chatMax),
		Timestamp: time.Now().UnixMilli(),
	}
	s.chat = append(s.chat, msg)
	s.broadcastLocked(arenadto.EvChatMessage, msg)
	s.mu.Unlock()
	return nil
}

// Resign resolves the session in favor of conn's opponent.
func (s *Session) Resign(conn Recipient) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	color, ok := s.sideLocked(conn)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	done := s.resolveLocked(arenadto.ReasonResignation, color.Opponent())
	s.mu.Unlock()
	s.finishResolve(done)
	return nil
}

// OfferDraw records an outstanding offer and notifies the opponent.
func (s *Session) OfferDraw(conn Recipient) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	color, ok := s.sideLocked(conn)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	s.drawOffer = color
	opponent := s.players[color.Opponent()].Conn
	s.mu.Unlock()

	opponent.Send(arenadto.EvDrawOffered, struct{}{})
	return nil
}

// AcceptDraw resolves by agreement; only the non-offering participant may
// accept an outstanding offer.
func (s *Session) AcceptDraw(conn Recipient) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrSessionNotActive
	}
	color, ok := s.sideLocked(conn)
	if !ok {
		s.mu.Unlock()
		return ErrNotParticipant
	}
	if s.drawOffer == "" {
		s.mu.Unlock()
		return ErrNoDrawOffer
	}
	if s.drawOffer == color {
		s.mu.Unlock()
		return ErrOwnDrawOffer
	}
	done := s.resolveLocked(arenadto.ReasonAgreement, "")
	s.mu.Unlock()
	s.finishResolve(done)
	return nil
}

// HandleDisconnect removes a dropped connection. A participant's disconnect
// forfeits the session; a spectator's only shrinks the spectator set.
func (s *Session) HandleDisconnect(conn Recipient) {
	s.mu.Lock()
	if _, ok := s.spectators[conn]; ok {
		delete(s.spectators, conn)
		s.mu.Unlock()
		return
	}
	color, ok := s.sideLocked(conn)
	if !ok || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	done := s.resolveLocked(arenadto.ReasonDisconnect, color.Opponent())
	s.mu.Unlock()
	s.finishResolve(done)
}

// runClock is the recurring tick. It competes for the same per-session lock
// as user events and stops on every terminal transition.
func (s *Session) runClock() {
	t := time.NewTicker(tickInterval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-t.C:
			s.tick(now)
		}
	}
}

func (s *Session) tick(now time.Time) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	done := s.chargeElapsedLocked(now)
	s.mu.Unlock()

	if done != nil {
		s.finishResolve(done)
	}
}

// chargeElapsedLocked burns wall time since the last tick off the side to
// move. Returns a non-nil outcome when the flag fell, with the session
// already transitioned; the caller must invoke finishResolve after
// unlocking.
func (s *Session) chargeElapsedLocked(now time.Time) *Outcome {
	elapsed := now.Sub(s.lastTick)
	s.lastTick = now
	tk := s.clk.Elapse(s.turn, elapsed)
	if tk.TimedOut {
		return s.resolveLocked(arenadto.ReasonTimeout, s.turn.Opponent())
	}
	if tk.ShouldBroadcast {
		s.broadcastLocked(arenadto.EvTimerUpdate, arenadto.TimerUpdate{
			Clocks: s.clk.Snapshot(),
			Turn:   s.turn,
		})
	}
	return nil
}

// resolveLocked performs the single Active→Resolving transition and emits
// the terminal broadcasts. The state flip happens before any side effect,
// so a second trigger observes Resolving and becomes a no-op.
func (s *Session) resolveLocked(reason arenadto.Reason, winner arenadto.Color) *Outcome {
	if s.state != StateActive {
		return nil
	}
	s.state = StateResolving
	s.stopOnce.Do(func() { close(s.stop) })
	s.endedAt = time.Now()

	white := s.players[arenadto.White].Profile
	black := s.players[arenadto.Black].Profile

	ratingOutcome := rating.Draw
	switch winner {
	case arenadto.White:
		ratingOutcome = rating.WhiteWins
	case arenadto.Black:
		ratingOutcome = rating.BlackWins
	}
	result := rating.Update(
		rating.Seed{Rating: white.Rating, GamesPlayed: white.GamesPlayed},
		rating.Seed{Rating: black.Rating, GamesPlayed: black.GamesPlayed},
		ratingOutcome,
	)

	clocks := s.clk.Snapshot()
	s.broadcastLocked(arenadto.EvGameOver, arenadto.GameOver{
		Reason: reason,
		Winner: winner,
		Clocks: clocks,
	})
	s.broadcastLocked(arenadto.EvRatingUpdate, result)

	obslog.L().Info("session_resolved",
		zap.String("session_id", s.ID),
		zap.String("reason", string(reason)),
		zap.String("winner", string(winner)),
	)

	chat := make([]arenadto.ChatMessage, len(s.chat))
	copy(chat, s.chat)

	out := &Outcome{
		SessionID: s.ID,
		Control:   s.Control,
		White:     white,
		Black:     black,
		Reason:    reason,
		Winner:    winner,
		MovesUCI:  s.adapter.MovesUCI(),
		MovesSAN:  s.adapter.MovesSAN(),
		FinalFEN:  s.adapter.FEN(),
		Clocks:    clocks,
		Chat:      chat,
		Rating:    result,
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	s.state = StateClosed
	return out
}

// finishResolve hands the outcome to the owner exactly once, outside the
// session lock so persistence can never block the core.
func (s *Session) finishResolve(out *Outcome) {
	if out == nil {
		return
	}
	if s.onResolved != nil {
		s.onResolved(out)
	}
}

// broadcastLocked fans an event out to both participants and all
// spectators. Recipient.Send is non-blocking, so holding mu here keeps
// per-session event ordering without risking delays.
func (s *Session) broadcastLocked(event string, payload any) {
	for _, p := range s.players {
		p.Conn.Send(event, payload)
	}
	for spec := range s.spectators {
		spec.Send(event, payload)
	}
}

func statusDTO(st rules.Status) arenadto.TerminalStatus {
	return arenadto.TerminalStatus{
		InCheck:              st.InCheck,
		Checkmate:            st.Checkmate,
		Stalemate:            st.Stalemate,
		Repetition:           st.Repetition,
		InsufficientMaterial: st.InsufficientMaterial,
		Draw:                 st.Draw,
		Turn:                 st.SideToMove,
	}
}

// terminalReason maps engine flags to the broadcast reason. The mover wins
// on checkmate; every other flag is a draw.
func terminalReason(st rules.Status, mover arenadto.Color) (arenadto.Reason, arenadto.Color) {
	switch {
	case st.Checkmate:
		return arenadto.ReasonCheckmate, mover
	case st.Stalemate:
		return arenadto.ReasonStalemate, ""
	case st.Repetition:
		return arenadto.ReasonRepetition, ""
	case st.InsufficientMaterial:
		return arenadto.ReasonInsufficient, ""
	default:
		return arenadto.ReasonDraw, ""
	}
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}
