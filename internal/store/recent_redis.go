package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/chess-arena/internal/arena"
)

const recentTTL = 24 * time.Hour

// RecentGame is the compact snapshot kept in redis for replay and history
// lookups. Rows older than the TTL fall out on their own.
type RecentGame struct {
	SessionID   string    `json:"sessionId"`
	WhiteID     string    `json:"whiteId,omitempty"`
	WhiteName   string    `json:"whiteName"`
	BlackID     string    `json:"blackId,omitempty"`
	BlackName   string    `json:"blackName"`
	TimeControl string    `json:"timeControl"`
	Winner      string    `json:"winner,omitempty"`
	Reason      string    `json:"reason"`
	MovesUCI    []string  `json:"movesUci"`
	MovesSAN    []string  `json:"movesSan"`
	FinalFEN    string    `json:"finalFen"`
	EndedAt     time.Time `json:"endedAt"`
}

// RecentCache stores recently completed games in redis with a per-user index.
type RecentCache struct {
	rdb *redis.Client
}

func NewRecentCache(redisURL string) (*RecentCache, error) {
	opts, err := parseRedisURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RecentCache{rdb: rdb}, nil
}

// NewRecentCacheFromClient wraps an existing client, used by tests.
func NewRecentCacheFromClient(rdb *redis.Client) *RecentCache {
	return &RecentCache{rdb: rdb}
}

func (c *RecentCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

// Save stores the snapshot and indexes it under both participants.
func (c *RecentCache) Save(ctx context.Context, out *arena.Outcome) error {
	if c == nil || c.rdb == nil || out == nil {
		return nil
	}
	rec := RecentGame{
		SessionID:   out.SessionID,
		WhiteID:     out.White.ID,
		WhiteName:   out.White.Username,
		BlackID:     out.Black.ID,
		BlackName:   out.Black.Username,
		TimeControl: out.Control.Class,
		Winner:      string(out.Winner),
		Reason:      string(out.Reason),
		MovesUCI:    out.MovesUCI,
		MovesSAN:    out.MovesSAN,
		FinalFEN:    out.FinalFEN,
		EndedAt:     out.EndedAt,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, gameKey(rec.SessionID), raw, recentTTL).Err(); err != nil {
		return err
	}
	return c.indexParticipants(ctx, rec.SessionID, rec.WhiteID, rec.BlackID)
}

// Get returns the snapshot for a session id, or nil when it expired.
func (c *RecentCache) Get(ctx context.Context, sessionID string) (*RecentGame, error) {
	raw, err := c.rdb.Get(ctx, gameKey(sessionID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec RecentGame
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// ByUser returns the still-cached games a user took part in, newest first.
func (c *RecentCache) ByUser(ctx context.Context, userID string, limit int) ([]RecentGame, error) {
	if limit <= 0 {
		limit = 20
	}
	ids, err := c.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var out []RecentGame
	for _, id := range ids {
		rec, err := c.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			// Game key expired before the index entry; drop it.
			_ = c.rdb.SRem(ctx, idxUserKey(userID), id).Err()
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndedAt.After(out[j].EndedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (c *RecentCache) indexParticipants(ctx context.Context, id, whiteID, blackID string) error {
	for _, uid := range []string{whiteID, blackID} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		key := idxUserKey(uid)
		if err := c.rdb.SAdd(ctx, key, id).Err(); err != nil {
			return err
		}
		// Refresh the index TTL alongside the game key so the set cannot
		// outlive its members by much.
		_ = c.rdb.Expire(ctx, key, recentTTL).Err()
	}
	return nil
}

func gameKey(id string) string    { return "arena:game:" + strings.TrimSpace(id) }
func idxUserKey(id string) string { return "arena:index:user:" + strings.TrimSpace(id) }

func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			db = n
		}
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
