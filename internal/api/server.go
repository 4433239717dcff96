// Package api is the REST surface: health, account registration and login,
// the leaderboard and recent-game lookups. Live play never touches it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/auth"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/store"
)

const requestTimeout = 10 * time.Second

// Stats exposes live gateway counters to the health endpoint.
type Stats struct {
	ActiveGames       func() int
	WaitingPlayers    func() int
	ActiveConnections func() int64
}

type Server struct {
	repo       *store.Repository
	cache      *store.RecentCache
	tokens     *auth.Manager
	stats      Stats
	startScore int
}

func NewServer(repo *store.Repository, cache *store.RecentCache, tokens *auth.Manager, stats Stats, startScore int) *Server {
	return &Server{
		repo:       repo,
		cache:      cache,
		tokens:     tokens,
		stats:      stats,
		startScore: startScore,
	}
}

// Handler is the fasthttp entry point.
func (s *Server) Handler(ctx *fasthttp.RequestCtx) {
	path := string(ctx.Path())
	method := string(ctx.Method())

	switch {
	case path == "/health" && method == fasthttp.MethodGet:
		s.handleHealth(ctx)
	case path == "/api/auth/register" && method == fasthttp.MethodPost:
		s.handleRegister(ctx)
	case path == "/api/auth/login" && method == fasthttp.MethodPost:
		s.handleLogin(ctx)
	case path == "/api/leaderboard" && method == fasthttp.MethodGet:
		s.handleLeaderboard(ctx)
	case path == "/api/games/recent" && method == fasthttp.MethodGet:
		s.handleRecentGames(ctx)
	default:
		writeError(ctx, fasthttp.StatusNotFound, "not found")
	}
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx) {
	resp := map[string]any{"status": "ok"}
	if s.stats.ActiveGames != nil {
		resp["activeGames"] = s.stats.ActiveGames()
	}
	if s.stats.WaitingPlayers != nil {
		resp["waitingPlayers"] = s.stats.WaitingPlayers()
	}
	if s.stats.ActiveConnections != nil {
		resp["activeConnections"] = s.stats.ActiveConnections()
	}
	writeJSON(ctx, fasthttp.StatusOK, resp)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Email       string `json:"email,omitempty"`
	Rating      int    `json:"rating"`
	GamesPlayed int    `json:"gamesPlayed"`
	Wins        int    `json:"wins"`
	Losses      int    `json:"losses"`
	Draws       int    `json:"draws"`
}

type authResponse struct {
	Token string       `json:"token"`
	User  userResponse `json:"user"`
}

func (s *Server) handleRegister(ctx *fasthttp.RequestCtx) {
	var req credentialsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	switch {
	case req.Username == "" || req.Email == "" || req.Password == "":
		writeError(ctx, fasthttp.StatusBadRequest, "username, email and password are required")
		return
	case len(req.Username) < 3 || len(req.Username) > 20:
		writeError(ctx, fasthttp.StatusBadRequest, "username must be 3-20 characters")
		return
	case len(req.Password) < 6:
		writeError(ctx, fasthttp.StatusBadRequest, "password must be at least 6 characters")
		return
	case !strings.Contains(req.Email, "@"):
		writeError(ctx, fasthttp.StatusBadRequest, "invalid email")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	taken, err := s.repo.UserExists(rctx, req.Username, req.Email)
	if err != nil {
		serverError(ctx, "check existing user", err)
		return
	}
	if taken {
		writeError(ctx, fasthttp.StatusConflict, "username or email already exists")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		serverError(ctx, "hash password", err)
		return
	}
	u, err := s.repo.CreateUser(rctx, req.Username, req.Email, hash, s.startScore)
	if err != nil {
		serverError(ctx, "create user", err)
		return
	}
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		serverError(ctx, "issue token", err)
		return
	}
	obslog.L().Info("user_registered", zap.String("username", u.Username))
	writeJSON(ctx, fasthttp.StatusCreated, authResponse{Token: token, User: toUserResponse(u)})
}

func (s *Server) handleLogin(ctx *fasthttp.RequestCtx) {
	var req credentialsRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "email and password are required")
		return
	}

	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	u, err := s.repo.UserByEmail(rctx, req.Email)
	if errors.Is(err, store.ErrUserNotFound) {
		writeError(ctx, fasthttp.StatusUnauthorized, "invalid credentials")
		return
	}
	if err != nil {
		serverError(ctx, "load user", err)
		return
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		writeError(ctx, fasthttp.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := s.repo.TouchLastActive(rctx, u.ID); err != nil {
		obslog.L().Warn("touch last active", zap.Error(err))
	}
	token, err := s.tokens.Issue(u.ID)
	if err != nil {
		serverError(ctx, "issue token", err)
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, authResponse{Token: token, User: toUserResponse(u)})
}

func (s *Server) handleLeaderboard(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	users, err := s.repo.Leaderboard(rctx, limit)
	if err != nil {
		serverError(ctx, "load leaderboard", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for i := range users {
		u := toUserResponse(&users[i])
		u.Email = ""
		out = append(out, u)
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"leaderboard": out})
}

func (s *Server) handleRecentGames(ctx *fasthttp.RequestCtx) {
	userID := string(ctx.QueryArgs().Peek("userId"))
	if userID == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "userId is required")
		return
	}
	if s.cache == nil {
		writeJSON(ctx, fasthttp.StatusOK, map[string]any{"games": []store.RecentGame{}})
		return
	}
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	rctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	games, err := s.cache.ByUser(rctx, userID, limit)
	if err != nil {
		serverError(ctx, "load recent games", err)
		return
	}
	if games == nil {
		games = []store.RecentGame{}
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]any{"games": games})
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Rating:      u.Rating,
		GamesPlayed: u.GamesPlayed,
		Wins:        u.Wins,
		Losses:      u.Losses,
		Draws:       u.Draws,
	}
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json; charset=utf-8")
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func serverError(ctx *fasthttp.RequestCtx, op string, err error) {
	obslog.L().Error(op, zap.Error(err))
	writeError(ctx, fasthttp.StatusInternalServerError, "internal error")
}
