package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/park285/chess-arena/internal/api"
	"github.com/park285/chess-arena/internal/arena"
	"github.com/park285/chess-arena/internal/auth"
	appcfg "github.com/park285/chess-arena/internal/config"
	"github.com/park285/chess-arena/internal/gateway"
	"github.com/park285/chess-arena/internal/obslog"
	"github.com/park285/chess-arena/internal/store"
	"github.com/park285/chess-arena/internal/timectrl"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()

	repo, err := store.NewRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres init", zap.Error(err))
	}
	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := repo.EnsureSchema(sctx); err != nil {
		scancel()
		logger.Fatal("schema init", zap.Error(err))
	}
	scancel()

	// Redis is an optional accelerator; the server runs without it.
	var cache *store.RecentCache
	if cfg.RedisURL != "" {
		cache, err = store.NewRecentCache(cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, recent-game cache disabled", zap.Error(err))
			cache = nil
		}
	}

	catalog, err := timectrl.New(cfg.TimeControlDir, cfg.DefaultTimeControl)
	if err != nil {
		logger.Fatal("time control catalog", zap.Error(err))
	}
	tokens, err := auth.NewManager(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		logger.Fatal("auth init", zap.Error(err))
	}

	sink := store.NewSink(repo, cache)
	registry := arena.NewRegistry(sink, cfg.ChatMaxLen)
	queue := arena.NewQueue()

	ws := gateway.NewServer(tokens, repo, queue, registry, catalog,
		cfg.GuestRating, cfg.DefaultTimeControl, cfg.MaxConcurrentGames)

	wsSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: websocketMux(ws),
	}
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.ListenAddr))
		if err := wsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway listener", zap.Error(err))
		}
	}()

	rest := api.NewServer(repo, cache, tokens, api.Stats{
		ActiveGames:       registry.Count,
		WaitingPlayers:    queue.Len,
		ActiveConnections: ws.ActiveConnections,
	}, cfg.GuestRating)
	apiSrv := &fasthttp.Server{
		Handler:     rest.Handler,
		Name:        "chess-arena",
		ReadTimeout: 30 * time.Second,
	}
	go func() {
		logger.Info("api listening", zap.String("addr", cfg.APIListenAddr))
		if err := apiSrv.ListenAndServe(cfg.APIListenAddr); err != nil {
			logger.Fatal("api listener", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	shctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = wsSrv.Shutdown(shctx)
	_ = apiSrv.ShutdownWithContext(shctx)
	_ = cache.Close()
	_ = repo.Close()
	_ = logger.Sync()
}

func websocketMux(ws *gateway.Server) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", ws)
	return mux
}
