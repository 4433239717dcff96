package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr    string // websocket + game traffic
	APIListenAddr string // REST API (health, auth, leaderboard)

	DatabaseURL string
	RedisURL    string

	JWTSecret string
	TokenTTL  time.Duration

	DefaultTimeControl string
	TimeControlDir     string // optional override directory for the catalog

	MaxConcurrentGames int
	ChatMaxLen         int

	GuestRating int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:         ":8080",
		APIListenAddr:      ":8081",
		TokenTTL:           7 * 24 * time.Hour,
		DefaultTimeControl: "blitz",
		MaxConcurrentGames: 200,
		ChatMaxLen:         200,
		GuestRating:        1200,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("API_LISTEN_ADDR")); v != "" {
		cfg.APIListenAddr = v
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.JWTSecret = strings.TrimSpace(os.Getenv("JWT_SECRET"))

	if v := strings.TrimSpace(os.Getenv("TOKEN_TTL")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.TokenTTL = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("DEFAULT_TIME_CONTROL")); v != "" {
		cfg.DefaultTimeControl = v
	}
	cfg.TimeControlDir = strings.TrimSpace(os.Getenv("TIME_CONTROL_DIR"))

	if v := strings.TrimSpace(os.Getenv("MAX_CONCURRENT_GAMES")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentGames = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("CHAT_MAX_LEN")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChatMaxLen = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GUEST_RATING")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.GuestRating = n
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}

	return cfg, nil
}
