package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/park285/chess-arena/internal/arena"
	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/timectrl"
	"github.com/park285/chess-arena/pkg/arenadto"
)

type recorded struct {
	event   string
	payload any
}

type fakeRecipient struct {
	mu     sync.Mutex
	events []recorded
}

func (f *fakeRecipient) Send(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recorded{event: event, payload: payload})
}

func (f *fakeRecipient) count(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.events {
		if r.event == event {
			n++
		}
	}
	return n
}

func (f *fakeRecipient) last(event string) (any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.events) - 1; i >= 0; i-- {
		if f.events[i].event == event {
			return f.events[i].payload, true
		}
	}
	return nil, false
}

type fakeUsers struct {
	users map[string]*store.User
}

func (f *fakeUsers) UserByID(_ context.Context, id string) (*store.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return u, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	tokens, err := auth.NewManager("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewManager: %v", err)
	}
	catalog, err := timectrl.New("", "blitz")
	if err != nil {
		t.Fatalf("timectrl.New: %v", err)
	}
	users := &fakeUsers{users: map[string]*store.User{
		"u-1": {ID: "u-1", Username: "alice", Rating: 1350, GamesPlayed: 12},
	}}
	queue := arena.NewQueue()
	registry := arena.NewRegistry(nil, 200)
	return NewServer(tokens, users, queue, registry, catalog, 1200, "blitz", 100)
}

func raw(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestAuthenticateAttachesProfile(t *testing.T) {
	s := newTestServer(t)
	conn := &fakeRecipient{}
	c := &client{conn: conn}

	token, err := s.tokens.Issue("u-1")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	s.dispatch(context.Background(), c, evAuthenticate, raw(t, map[string]string{"token": token}))

	if !c.authed || c.profile.Username != "alice" || c.profile.Rating != 1350 {
		t.Fatalf("profile not attached: %+v", c.profile)
	}
	p, ok := conn.last(arenadto.EvAuthenticated)
	if !ok {
		t.Fatalf("authenticated event not sent")
	}
	if p.(arenadto.Profile).ID != "u-1" {
		t.Fatalf("authenticated payload = %+v", p)
	}
}

func TestAuthenticateRejectsBadToken(t *testing.T) {
	s := newTestServer(t)
	conn := &fakeRecipient{}
	c := &client{conn: conn}

	s.dispatch(context.Background(), c, evAuthenticate, raw(t, map[string]string{"token": "junk"}))
	if c.authed {
		t.Fatalf("bad token authenticated")
	}
	if conn.count(arenadto.EvAuthError) != 1 {
		t.Fatalf("authError not sent")
	}
}

func TestFindGamePairsTwoClients(t *testing.T) {
	s := newTestServer(t)
	c1 := &client{conn: &fakeRecipient{}}
	c2 := &client{conn: &fakeRecipient{}}

	s.handleFindGame(c1, raw(t, map[string]string{"timeControl": "blitz"}))
	if c1.conn.(*fakeRecipient).count(arenadto.EvWaiting) != 1 {
		t.Fatalf("first seeker should wait")
	}

	s.handleFindGame(c2, raw(t, map[string]string{"timeControl": "blitz"}))

	p1, ok1 := c1.conn.(*fakeRecipient).last(arenadto.EvGameStart)
	p2, ok2 := c2.conn.(*fakeRecipient).last(arenadto.EvGameStart)
	if !ok1 || !ok2 {
		t.Fatalf("gameStart not delivered to both sides")
	}
	gs1, gs2 := p1.(arenadto.GameStart), p2.(arenadto.GameStart)
	if gs1.SessionID != gs2.SessionID {
		t.Fatalf("session ids differ: %s vs %s", gs1.SessionID, gs2.SessionID)
	}
	if gs1.Color != arenadto.White || gs2.Color != arenadto.Black {
		t.Fatalf("colors = %s/%s, want white for the earlier seeker", gs1.Color, gs2.Color)
	}
	if gs1.TimeControl.Initial != (5 * time.Minute).Milliseconds() {
		t.Fatalf("blitz initial = %d", gs1.TimeControl.Initial)
	}
	if s.registry.Count() != 1 {
		t.Fatalf("registry count = %d", s.registry.Count())
	}

	// Guests got distinct generated identities.
	if c1.profile.Username == "" || c1.profile.Username == c2.profile.Username {
		t.Fatalf("guest identities: %q vs %q", c1.profile.Username, c2.profile.Username)
	}
	if c1.profile.Rating != 1200 {
		t.Fatalf("guest rating = %d", c1.profile.Rating)
	}
}

func TestFindGameClassIsolation(t *testing.T) {
	s := newTestServer(t)
	c1 := &client{conn: &fakeRecipient{}}
	c2 := &client{conn: &fakeRecipient{}}

	s.handleFindGame(c1, raw(t, map[string]string{"timeControl": "bullet"}))
	s.handleFindGame(c2, raw(t, map[string]string{"timeControl": "rapid"}))

	if s.registry.Count() != 0 {
		t.Fatalf("different classes must not pair")
	}
	if s.queue.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", s.queue.Len())
	}
}

func TestFindGameRepeatIsIdempotent(t *testing.T) {
	s := newTestServer(t)
	c := &client{conn: &fakeRecipient{}}

	s.handleFindGame(c, raw(t, map[string]string{"timeControl": "blitz"}))
	s.handleFindGame(c, raw(t, map[string]string{"timeControl": "blitz"}))

	if s.queue.Len() != 1 {
		t.Fatalf("repeat findGame duplicated the entry: queue len %d", s.queue.Len())
	}
	if c.conn.(*fakeRecipient).count(arenadto.EvWaiting) != 2 {
		t.Fatalf("waiting should be re-acknowledged")
	}
}

func matchedPair(t *testing.T, s *Server) (white, black *client, sessionID string) {
	t.Helper()
	white = &client{conn: &fakeRecipient{}}
	black = &client{conn: &fakeRecipient{}}
	s.handleFindGame(white, raw(t, map[string]string{"timeControl": "blitz"}))
	s.handleFindGame(black, raw(t, map[string]string{"timeControl": "blitz"}))
	if s.registry.Count() != 1 {
		t.Fatalf("pairing failed")
	}
	p, ok := white.conn.(*fakeRecipient).last(arenadto.EvGameStart)
	if !ok {
		t.Fatalf("gameStart not delivered")
	}
	return white, black, p.(arenadto.GameStart).SessionID
}

func TestMoveFlowsThroughSession(t *testing.T) {
	s := newTestServer(t)
	white, black, id := matchedPair(t, s)

	s.handleMove(white, raw(t, map[string]string{"gameId": id, "from": "e2", "to": "e4"}))

	p, ok := black.conn.(*fakeRecipient).last(arenadto.EvMoveMade)
	if !ok {
		t.Fatalf("moveMade not relayed to opponent")
	}
	if p.(arenadto.MoveMade).Move.UCI != "e2e4" {
		t.Fatalf("payload = %+v", p)
	}
}

func TestMoveErrorsGoOnlyToOrigin(t *testing.T) {
	s := newTestServer(t)
	white, black, id := matchedPair(t, s)

	// Black tries to move out of turn.
	s.handleMove(black, raw(t, map[string]string{"gameId": id, "from": "e7", "to": "e5"}))
	if black.conn.(*fakeRecipient).count(arenadto.EvInvalidMove) != 1 {
		t.Fatalf("invalidMove not sent to offender")
	}
	if white.conn.(*fakeRecipient).count(arenadto.EvInvalidMove) != 0 {
		t.Fatalf("invalidMove leaked to opponent")
	}

	// White plays an illegal move.
	s.handleMove(white, raw(t, map[string]string{"gameId": id, "from": "e2", "to": "e5"}))
	if white.conn.(*fakeRecipient).count(arenadto.EvInvalidMove) != 1 {
		t.Fatalf("illegal move not rejected")
	}
}

func TestMoveAddressingUnknownOrMissingID(t *testing.T) {
	s := newTestServer(t)
	c := &client{conn: &fakeRecipient{}}

	s.handleMove(c, raw(t, map[string]string{"gameId": "no-such-game", "from": "e2", "to": "e4"}))
	if c.conn.(*fakeRecipient).count(arenadto.EvError) != 1 {
		t.Fatalf("unknown game id not reported as not-found")
	}

	s.handleMove(c, raw(t, map[string]string{"from": "e2", "to": "e4"}))
	if c.conn.(*fakeRecipient).count(arenadto.EvError) != 2 {
		t.Fatalf("missing game id not rejected")
	}
}

func TestStaleSessionIDIsNotFound(t *testing.T) {
	s := newTestServer(t)
	white, black, oldID := matchedPair(t, s)

	s.handleResign(white, raw(t, map[string]string{"gameId": oldID}))
	if s.registry.Count() != 0 {
		t.Fatalf("resolved session still registered")
	}

	// The same two connections pair again into a fresh session.
	s.handleFindGame(white, raw(t, map[string]string{"timeControl": "blitz"}))
	s.handleFindGame(black, raw(t, map[string]string{"timeControl": "blitz"}))
	if s.registry.Count() != 1 {
		t.Fatalf("re-pairing failed")
	}
	p, _ := white.conn.(*fakeRecipient).last(arenadto.EvGameStart)
	newID := p.(arenadto.GameStart).SessionID
	if newID == oldID {
		t.Fatalf("new session reused the old id")
	}

	// A frame addressed to the resolved session must not touch the new one.
	s.handleMove(white, raw(t, map[string]string{"gameId": oldID, "from": "e2", "to": "e4"}))
	ep, ok := white.conn.(*fakeRecipient).last(arenadto.EvError)
	if !ok || ep.(arenadto.ErrorMessage).Message != "game not found" {
		t.Fatalf("stale id not answered with not-found: %v", ep)
	}
	for name, r := range map[string]*fakeRecipient{
		"white": white.conn.(*fakeRecipient),
		"black": black.conn.(*fakeRecipient),
	} {
		if r.count(arenadto.EvMoveMade) != 0 {
			t.Fatalf("stale frame was applied to the new session (%s saw moveMade)", name)
		}
	}

	// The new id still works.
	s.handleMove(white, raw(t, map[string]string{"gameId": newID, "from": "e2", "to": "e4"}))
	if black.conn.(*fakeRecipient).count(arenadto.EvMoveMade) != 1 {
		t.Fatalf("move addressed to the live session not applied")
	}
}

func TestResignEndsSessionAndFreesRegistry(t *testing.T) {
	s := newTestServer(t)
	white, black, id := matchedPair(t, s)

	s.handleResign(white, raw(t, map[string]string{"gameId": id}))

	p, ok := black.conn.(*fakeRecipient).last(arenadto.EvGameOver)
	if !ok {
		t.Fatalf("gameOver not delivered")
	}
	out := p.(arenadto.GameOver)
	if out.Reason != arenadto.ReasonResignation || out.Winner != arenadto.Black {
		t.Fatalf("gameOver = %+v", out)
	}

	deadline := time.Now().Add(time.Second)
	for s.registry.Count() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.registry.Count() != 0 {
		t.Fatalf("resolved session still registered")
	}
}

func TestDisconnectCleansQueueAndSessions(t *testing.T) {
	s := newTestServer(t)

	// Waiting client disconnects: queue entry removed.
	waiting := &client{conn: &fakeRecipient{}}
	s.handleFindGame(waiting, raw(t, map[string]string{"timeControl": "rapid"}))
	s.handleDisconnect(waiting)
	if s.queue.Len() != 0 {
		t.Fatalf("queue not cleaned on disconnect")
	}

	// Playing client disconnects: opponent wins by forfeit.
	white, black, _ := matchedPair(t, s)
	s.handleDisconnect(white)
	p, ok := black.conn.(*fakeRecipient).last(arenadto.EvGameOver)
	if !ok {
		t.Fatalf("forfeit gameOver not delivered")
	}
	if out := p.(arenadto.GameOver); out.Reason != arenadto.ReasonDisconnect || out.Winner != arenadto.Black {
		t.Fatalf("gameOver = %+v", out)
	}
}

func TestSpectateAndChatFanOut(t *testing.T) {
	s := newTestServer(t)
	white, black, sessionID := matchedPair(t, s)

	spec := &client{conn: &fakeRecipient{}}
	s.handleSpectate(spec, raw(t, map[string]string{"gameId": sessionID}))
	if spec.conn.(*fakeRecipient).count(arenadto.EvMoveMade) != 1 {
		t.Fatalf("spectator did not receive the position snapshot")
	}

	s.handleChat(white, raw(t, map[string]string{"gameId": sessionID, "message": "good luck"}))
	for name, r := range map[string]*fakeRecipient{
		"white":     white.conn.(*fakeRecipient),
		"black":     black.conn.(*fakeRecipient),
		"spectator": spec.conn.(*fakeRecipient),
	} {
		p, ok := r.last(arenadto.EvChatMessage)
		if !ok {
			t.Fatalf("%s missed the chat message", name)
		}
		if p.(arenadto.ChatMessage).Text != "good luck" {
			t.Fatalf("%s got %+v", name, p)
		}
	}

	s.handleSpectate(spec, raw(t, map[string]string{"gameId": "no-such-game"}))
	if spec.conn.(*fakeRecipient).count(arenadto.EvError) != 1 {
		t.Fatalf("unknown game id not rejected")
	}
}

func TestDrawOfferRoundTrip(t *testing.T) {
	s := newTestServer(t)
	white, black, id := matchedPair(t, s)

	s.handleAcceptDraw(black, raw(t, map[string]string{"gameId": id}))
	if black.conn.(*fakeRecipient).count(arenadto.EvError) != 1 {
		t.Fatalf("accept without offer should error")
	}

	s.handleOfferDraw(white, raw(t, map[string]string{"gameId": id}))
	if black.conn.(*fakeRecipient).count(arenadto.EvDrawOffered) != 1 {
		t.Fatalf("drawOffered not relayed")
	}

	s.handleAcceptDraw(black, raw(t, map[string]string{"gameId": id}))
	p, ok := white.conn.(*fakeRecipient).last(arenadto.EvGameOver)
	if !ok {
		t.Fatalf("agreement gameOver not delivered")
	}
	if out := p.(arenadto.GameOver); out.Reason != arenadto.ReasonAgreement || out.Winner != "" {
		t.Fatalf("gameOver = %+v", out)
	}
}

func TestUnknownEventRejected(t *testing.T) {
	s := newTestServer(t)
	c := &client{conn: &fakeRecipient{}}
	s.dispatch(context.Background(), c, "teleport", nil)
	if c.conn.(*fakeRecipient).count(arenadto.EvError) != 1 {
		t.Fatalf("unknown event not rejected")
	}
}

func TestUnknownTimeControlFallsBack(t *testing.T) {
	s := newTestServer(t)
	c1 := &client{conn: &fakeRecipient{}}
	c2 := &client{conn: &fakeRecipient{}}

	s.handleFindGame(c1, raw(t, map[string]string{"timeControl": "hyperbullet"}))
	s.handleFindGame(c2, raw(t, map[string]string{"timeControl": "blitz"}))

	if s.registry.Count() != 1 {
		t.Fatalf("fallback class did not pair with blitz")
	}
}
