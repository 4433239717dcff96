package store

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/arena"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/pkg/arenadto"
)

// Sink receives resolved contests from the arena and persists them.
// Failures are logged, never propagated: a lost write must not touch the
// live game path.
type Sink struct {
	repo  *Repository
	cache *RecentCache
}

func NewSink(repo *Repository, cache *RecentCache) *Sink {
	return &Sink{repo: repo, cache: cache}
}

// HandleResolution implements arena.ResolutionSink. The arena calls it on its
// own goroutine after the session has already been removed from the registry.
func (s *Sink) HandleResolution(out *arena.Outcome) {
	if s == nil || out == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.repo != nil {
		if err := s.repo.SaveResult(ctx, out); err != nil {
			obslog.L().Error("save game result",
				zap.String("event", "store_save_failed"),
				zap.String("sessionId", out.SessionID),
				zap.Error(err))
		}
		s.applyRatings(ctx, out)
	}
	if s.cache != nil {
		if err := s.cache.Save(ctx, out); err != nil {
			obslog.L().Warn("cache recent game",
				zap.String("event", "store_cache_failed"),
				zap.String("sessionId", out.SessionID),
				zap.Error(err))
		}
	}
}

// applyRatings updates registered accounts only; guests carry no row.
func (s *Sink) applyRatings(ctx context.Context, out *arena.Outcome) {
	if out.White.ID != "" {
		if err := s.repo.ApplyResult(ctx, out.White.ID, out.Rating.White, perspective(out.Winner, arenadto.White)); err != nil {
			obslog.L().Error("apply rating",
				zap.String("event", "store_rating_failed"),
				zap.String("userId", out.White.ID),
				zap.Error(err))
		}
	}
	if out.Black.ID != "" {
		if err := s.repo.ApplyResult(ctx, out.Black.ID, out.Rating.Black, perspective(out.Winner, arenadto.Black)); err != nil {
			obslog.L().Error("apply rating",
				zap.String("event", "store_rating_failed"),
				zap.String("userId", out.Black.ID),
				zap.Error(err))
		}
	}
}

func perspective(winner, side arenadto.Color) string {
	switch winner {
	case "":
		return "draw"
	case side:
		return "win"
	default:
		return "loss"
	}
}
