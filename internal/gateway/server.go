// Package gateway is the websocket front door: it upgrades connections,
// authenticates them, routes inbound events to the arena and fans session
// broadcasts back out.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/chess-arena/internal/arena"
	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/rules"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/timectrl"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Inbound event names.
const (
	evAuthenticate = "authenticate"
	evFindGame     = "findGame"
	evMove         = "move"
	evChatMessage  = "chatMessage"
	evResign       = "resign"
	evOfferDraw    = "offerDraw"
	evAcceptDraw   = "acceptDraw"
	evSpectate     = "spectate"
)

// UserSource resolves an authenticated user id to its account.
type UserSource interface {
	UserByID(ctx context.Context, id string) (*store.User, error)
}

// Server owns the websocket surface. One Server serves every connection;
// per-connection state lives in client.
type Server struct {
	tokens   *auth.Manager
	users    UserSource
	queue    *arena.Queue
	registry *arena.Registry
	catalog  *timectrl.Catalog

	guestRating  int
	defaultClass string
	maxGames     int

	connCount atomic.Int64
	guestSeq  atomic.Int64
}

func NewServer(tokens *auth.Manager, users UserSource, queue *arena.Queue, registry *arena.Registry, catalog *timectrl.Catalog, guestRating int, defaultClass string, maxGames int) *Server {
	return &Server{
		tokens:       tokens,
		users:        users,
		queue:        queue,
		registry:     registry,
		catalog:      catalog,
		guestRating:  guestRating,
		defaultClass: defaultClass,
		maxGames:     maxGames,
	}
}

// ActiveConnections returns the number of open websockets.
func (s *Server) ActiveConnections() int64 { return s.connCount.Load() }

// client is the per-connection state. It is only touched by the connection's
// read loop, so it needs no locking.
type client struct {
	conn    arena.Recipient
	profile arenadto.Profile
	authed  bool
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sock, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // origin policy is the proxy's job
	})
	if err != nil {
		obslog.L().Debug("ws_accept_failed", zap.Error(err))
		return
	}

	wc := newWSConn(uuid.NewString(), sock)
	c := &client{conn: wc}
	s.connCount.Add(1)
	obslog.L().Info("ws_connect", zap.String("conn", wc.id))

	defer func() {
		s.connCount.Add(-1)
		s.handleDisconnect(c)
		wc.close(websocket.StatusNormalClosure, "")
		obslog.L().Info("ws_disconnect", zap.String("conn", wc.id))
	}()

	ctx := r.Context()
	for {
		var env struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := wsjson.Read(ctx, sock, &env); err != nil {
			return
		}
		s.dispatch(ctx, c, env.Event, env.Data)
	}
}

func (s *Server) dispatch(ctx context.Context, c *client, event string, data json.RawMessage) {
	switch event {
	case evAuthenticate:
		s.handleAuthenticate(ctx, c, data)
	case evFindGame:
		s.handleFindGame(c, data)
	case evMove:
		s.handleMove(c, data)
	case evChatMessage:
		s.handleChat(c, data)
	case evResign:
		s.handleResign(c, data)
	case evOfferDraw:
		s.handleOfferDraw(c, data)
	case evAcceptDraw:
		s.handleAcceptDraw(c, data)
	case evSpectate:
		s.handleSpectate(c, data)
	default:
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "unknown event: " + event})
	}
}

func (s *Server) handleAuthenticate(ctx context.Context, c *client, data json.RawMessage) {
	var req struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Token == "" {
		c.conn.Send(arenadto.EvAuthError, arenadto.ErrorMessage{Message: "token required"})
		return
	}
	userID, err := s.tokens.Verify(req.Token)
	if err != nil {
		c.conn.Send(arenadto.EvAuthError, arenadto.ErrorMessage{Message: "invalid token"})
		return
	}
	if s.users == nil {
		c.conn.Send(arenadto.EvAuthError, arenadto.ErrorMessage{Message: "account lookup unavailable"})
		return
	}
	lctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	u, err := s.users.UserByID(lctx, userID)
	if err != nil {
		c.conn.Send(arenadto.EvAuthError, arenadto.ErrorMessage{Message: "account not found"})
		return
	}
	c.profile = arenadto.Profile{
		ID:          u.ID,
		Username:    u.Username,
		Rating:      u.Rating,
		GamesPlayed: u.GamesPlayed,
		Wins:        u.Wins,
		Losses:      u.Losses,
		Draws:       u.Draws,
	}
	c.authed = true
	c.conn.Send(arenadto.EvAuthenticated, c.profile)
	obslog.L().Info("ws_authenticated", zap.String("user", u.Username))
}

func (s *Server) handleFindGame(c *client, data json.RawMessage) {
	var req struct {
		TimeControl string `json:"timeControl"`
	}
	_ = json.Unmarshal(data, &req)
	if req.TimeControl == "" {
		req.TimeControl = s.defaultClass
	}
	control := s.catalog.Get(req.TimeControl)

	if !c.authed && c.profile.Username == "" {
		c.profile = s.guestProfile()
	}
	if s.queue.Waiting(c.conn) {
		c.conn.Send(arenadto.EvWaiting, struct{}{})
		return
	}
	if s.maxGames > 0 && s.registry.Count() >= s.maxGames {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "server is at capacity, try again shortly"})
		return
	}
	for _, sess := range s.registry.ForConnection(c.conn) {
		if _, ok := sess.Side(c.conn); ok {
			c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "already in a game"})
			return
		}
	}

	entry := &arena.Entry{Conn: c.conn, Profile: c.profile, Class: control.Class}
	other, matched := s.queue.Match(entry)
	if !matched {
		c.conn.Send(arenadto.EvWaiting, struct{}{})
		return
	}

	// The side that waited longer takes white.
	white := arena.Participant{Profile: other.Profile, Conn: other.Conn}
	black := arena.Participant{Profile: c.profile, Conn: c.conn}
	sess := s.registry.Create(white, black, control)

	tc := arenadto.TimeControl{
		Class:     control.Class,
		Initial:   control.Initial.Milliseconds(),
		Increment: control.Increment.Milliseconds(),
	}
	fen := sess.FEN()
	white.Conn.Send(arenadto.EvGameStart, arenadto.GameStart{
		SessionID:   sess.ID,
		Color:       arenadto.White,
		Opponent:    black.Profile,
		TimeControl: tc,
		FEN:         fen,
	})
	black.Conn.Send(arenadto.EvGameStart, arenadto.GameStart{
		SessionID:   sess.ID,
		Color:       arenadto.Black,
		Opponent:    white.Profile,
		TimeControl: tc,
		FEN:         fen,
	})
}

func (s *Server) handleMove(c *client, data json.RawMessage) {
	var req struct {
		GameID    string `json:"gameId"`
		From      string `json:"from"`
		To        string `json:"to"`
		Promotion string `json:"promotion"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.From == "" || req.To == "" {
		c.conn.Send(arenadto.EvInvalidMove, arenadto.InvalidMove{Reason: "malformed move"})
		return
	}
	sess := s.sessionFor(c, req.GameID)
	if sess == nil {
		return
	}
	err := sess.Move(c.conn, req.From, req.To, req.Promotion)
	switch {
	case err == nil:
	case errors.Is(err, rules.ErrIllegalMove):
		c.conn.Send(arenadto.EvInvalidMove, arenadto.InvalidMove{Reason: "illegal move"})
	case errors.Is(err, arena.ErrNotYourTurn):
		c.conn.Send(arenadto.EvInvalidMove, arenadto.InvalidMove{Reason: "not your turn"})
	case errors.Is(err, arena.ErrSessionNotActive):
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "game is over"})
	default:
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	}
}

func (s *Server) handleChat(c *client, data json.RawMessage) {
	var req struct {
		GameID  string `json:"gameId"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
		return
	}
	sess := s.sessionFor(c, req.GameID)
	if sess == nil {
		return
	}
	sender := c.profile.Username
	if sender == "" {
		sender = "anonymous"
	}
	if err := sess.Chat(c.conn, sender, req.Message); err != nil {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	}
}

func (s *Server) handleResign(c *client, data json.RawMessage) {
	sess := s.sessionFor(c, gameID(data))
	if sess == nil {
		return
	}
	if err := sess.Resign(c.conn); err != nil && !errors.Is(err, arena.ErrSessionNotActive) {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	}
}

func (s *Server) handleOfferDraw(c *client, data json.RawMessage) {
	sess := s.sessionFor(c, gameID(data))
	if sess == nil {
		return
	}
	if err := sess.OfferDraw(c.conn); err != nil && !errors.Is(err, arena.ErrSessionNotActive) {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	}
}

func (s *Server) handleAcceptDraw(c *client, data json.RawMessage) {
	sess := s.sessionFor(c, gameID(data))
	if sess == nil {
		return
	}
	err := sess.AcceptDraw(c.conn)
	switch {
	case err == nil:
	case errors.Is(err, arena.ErrNoDrawOffer), errors.Is(err, arena.ErrOwnDrawOffer):
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	case errors.Is(err, arena.ErrSessionNotActive):
	default:
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: err.Error()})
	}
}

func (s *Server) handleSpectate(c *client, data json.RawMessage) {
	var req struct {
		GameID string `json:"gameId"`
	}
	if err := json.Unmarshal(data, &req); err != nil || req.GameID == "" {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "gameId required"})
		return
	}
	sess := s.registry.Get(req.GameID)
	if sess == nil {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "game not found"})
		return
	}
	// A session already resolving is as good as gone for a new spectator.
	if err := sess.AddSpectator(c.conn); err != nil {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "game not found"})
	}
}

// handleDisconnect always runs both cleanups: the connection may be waiting
// in the queue and referenced by sessions at the same time.
func (s *Server) handleDisconnect(c *client) {
	s.queue.RemoveIfWaiting(c.conn)
	for _, sess := range s.registry.ForConnection(c.conn) {
		sess.HandleDisconnect(c.conn)
	}
}

// sessionFor resolves the session an event addresses by its id. A missing,
// stale or unknown id is a no-op reported to the origin connection only;
// whether conn may act on the session is the session's own check.
func (s *Server) sessionFor(c *client, id string) *arena.Session {
	if strings.TrimSpace(id) == "" {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "gameId required"})
		return nil
	}
	sess := s.registry.Get(id)
	if sess == nil {
		c.conn.Send(arenadto.EvError, arenadto.ErrorMessage{Message: "game not found"})
		return nil
	}
	return sess
}

// gameID extracts the addressed session id from events whose payload carries
// nothing else.
func gameID(data json.RawMessage) string {
	var req struct {
		GameID string `json:"gameId"`
	}
	_ = json.Unmarshal(data, &req)
	return req.GameID
}

func (s *Server) guestProfile() arenadto.Profile {
	n := s.guestSeq.Add(1)
	return arenadto.Profile{
		Username: fmt.Sprintf("Guest%d", 1000+n),
		Rating:   s.guestRating,
	}
}
