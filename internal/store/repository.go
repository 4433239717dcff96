// Package store is the durable side of the arena: a postgres repository for
// accounts and completed contests, and a redis cache of recent games.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/park285/chess-arena/internal/arena"
	"github.com/park285/chess-arena/internal/rating"
)

var ErrUserNotFound = errors.New("user not found")

// User is an account row.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	Rating       int
	GamesPlayed  int
	Wins         int
	Losses       int
	Draws        int
	LastActive   time.Time
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			username      TEXT UNIQUE NOT NULL,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			rating        INT NOT NULL,
			games_played  INT NOT NULL DEFAULT 0,
			wins          INT NOT NULL DEFAULT 0,
			losses        INT NOT NULL DEFAULT 0,
			draws         INT NOT NULL DEFAULT 0,
			last_active   TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			session_id    TEXT PRIMARY KEY,
			white_id      TEXT,
			white_name    TEXT NOT NULL,
			black_id      TEXT,
			black_name    TEXT NOT NULL,
			time_control  TEXT NOT NULL,
			result        TEXT NOT NULL,
			reason        TEXT NOT NULL,
			moves_uci     TEXT NOT NULL,
			moves_san     TEXT NOT NULL,
			pgn           TEXT NOT NULL,
			final_fen     TEXT NOT NULL,
			white_time_ms BIGINT NOT NULL,
			black_time_ms BIGINT NOT NULL,
			chat          TEXT NOT NULL,
			white_rating_before INT NOT NULL,
			white_rating_after  INT NOT NULL,
			black_rating_before INT NOT NULL,
			black_rating_after  INT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			ended_at      TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateUser inserts a new account with the starting rating.
func (r *Repository) CreateUser(ctx context.Context, username, email, passwordHash string, startRating int) (*User, error) {
	u := &User{
		ID:           uuid.NewString(),
		Username:     strings.TrimSpace(username),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Rating:       startRating,
		LastActive:   time.Now(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, rating, last_active)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Rating, u.LastActive,
	)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (r *Repository) UserByID(ctx context.Context, id string) (*User, error) {
	return r.userBy(ctx, "id = $1", id)
}

func (r *Repository) UserByEmail(ctx context.Context, email string) (*User, error) {
	return r.userBy(ctx, "email = $1", strings.ToLower(strings.TrimSpace(email)))
}

// UserExists reports whether a username or email is already taken.
func (r *Repository) UserExists(ctx context.Context, username, email string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM users WHERE username = $1 OR email = $2`,
		strings.TrimSpace(username), strings.ToLower(strings.TrimSpace(email)),
	).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Repository) userBy(ctx context.Context, where string, arg any) (*User, error) {
	var u User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, rating, games_played, wins, losses, draws, last_active
		 FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Rating, &u.GamesPlayed, &u.Wins, &u.Losses, &u.Draws, &u.LastActive)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// TouchLastActive bumps the activity timestamp, e.g. on login.
func (r *Repository) TouchLastActive(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE users SET last_active = now() WHERE id = $1`, id)
	return err
}

// Leaderboard lists established accounts (5+ games) by rating.
func (r *Repository) Leaderboard(ctx context.Context, limit int) ([]User, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, username, rating, games_played, wins, losses, draws
		 FROM users WHERE games_played >= 5
		 ORDER BY rating DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.Rating, &u.GamesPlayed, &u.Wins, &u.Losses, &u.Draws); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveResult upserts a completed contest record.
func (r *Repository) SaveResult(ctx context.Context, out *arena.Outcome) error {
	if r == nil || r.db == nil || out == nil {
		return nil
	}
	result := resultToken(out)
	pgn := buildPGN(out, mapResultToPGN(result))

	movesUCIRaw, _ := json.Marshal(out.MovesUCI)
	movesSANRaw, _ := json.Marshal(out.MovesSAN)
	chatRaw, _ := json.Marshal(out.Chat)

	q := `INSERT INTO games (
	    session_id, white_id, white_name, black_id, black_name,
	    time_control, result, reason, moves_uci, moves_san, pgn, final_fen,
	    white_time_ms, black_time_ms, chat,
	    white_rating_before, white_rating_after, black_rating_before, black_rating_after,
	    started_at, ended_at
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
	  ) ON CONFLICT (session_id) DO UPDATE SET
	    result=EXCLUDED.result,
	    reason=EXCLUDED.reason,
	    moves_uci=EXCLUDED.moves_uci,
	    moves_san=EXCLUDED.moves_san,
	    pgn=EXCLUDED.pgn,
	    final_fen=EXCLUDED.final_fen,
	    white_time_ms=EXCLUDED.white_time_ms,
	    black_time_ms=EXCLUDED.black_time_ms,
	    chat=EXCLUDED.chat,
	    white_rating_before=EXCLUDED.white_rating_before,
	    white_rating_after=EXCLUDED.white_rating_after,
	    black_rating_before=EXCLUDED.black_rating_before,
	    black_rating_after=EXCLUDED.black_rating_after,
	    ended_at=EXCLUDED.ended_at`

	_, err := r.db.ExecContext(ctx, q,
		out.SessionID,
		nullable(out.White.ID), out.White.Username,
		nullable(out.Black.ID), out.Black.Username,
		out.Control.Class, result, string(out.Reason),
		string(movesUCIRaw), string(movesSANRaw), pgn, out.FinalFEN,
		out.Clocks.White, out.Clocks.Black, string(chatRaw),
		out.Rating.White.Old, out.Rating.White.New,
		out.Rating.Black.Old, out.Rating.Black.New,
		out.StartedAt, out.EndedAt,
	)
	return err
}

// ApplyResult updates one account's aggregate stats and rating atomically.
// result is "win", "loss" or "draw" from this user's perspective.
func (r *Repository) ApplyResult(ctx context.Context, userID string, change rating.Change, result string) error {
	col := "draws"
	switch result {
	case "win":
		col = "wins"
	case "loss":
		col = "losses"
	}
	q := fmt.Sprintf(
		`UPDATE users SET games_played = games_played + 1, %s = %s + 1,
		 rating = $1, last_active = now() WHERE id = $2`, col, col)
	_, err := r.db.ExecContext(ctx, q, change.New, userID)
	return err
}

func resultToken(out *arena.Outcome) string {
	switch out.Winner {
	case "white":
		return "white"
	case "black":
		return "black"
	default:
		return "draw"
	}
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
