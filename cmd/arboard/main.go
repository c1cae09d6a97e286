package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	appcfg "github.com/park285/Cheese-ARBoard/internal/config"
	"github.com/park285/Cheese-ARBoard/internal/history"
	"github.com/park285/Cheese-ARBoard/internal/msgcat"
	"github.com/park285/Cheese-ARBoard/internal/obslog"
	"github.com/park285/Cheese-ARBoard/internal/registry"
	"github.com/park285/Cheese-ARBoard/internal/remote"
	"github.com/park285/Cheese-ARBoard/internal/session"
	"github.com/park285/Cheese-ARBoard/internal/viewer"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	msgs, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		logger.Fatal("messages_load_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store remote.SnapshotStore
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis_url_error", zap.Error(err))
		}
		rdb = redis.NewClient(opt)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis_unavailable", zap.Error(err))
		}
		store = remote.NewRedisStore(rdb)
	}

	repo := history.NewMemoryRepository()
	if cfg.DatabaseURL != "" {
		pg, err := history.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("postgres_init_error", zap.Error(err))
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal("postgres_schema_error", zap.Error(err))
		}
		repo = pg
	}
	defer func() { _ = repo.Close() }()

	_, statErr := os.Stat(cfg.ModelDir)
	loader := registry.NewModelCatalog(cfg.ModelDir, statErr == nil)
	if statErr != nil {
		logger.Warn("model_dir_missing", zap.String("dir", cfg.ModelDir))
	}

	boardLabel := "local"
	if cfg.Mode == appcfg.ModeRemote {
		boardLabel = strconv.Itoa(cfg.GameID)
	}
	welcome, err := msgs.Render("viewer.connected", map[string]any{"Board": boardLabel})
	if err != nil {
		logger.Warn("messages_render_error", zap.String("key", "viewer.connected"), zap.Error(err))
	}
	hub := viewer.NewHub(viewer.WithLogger(obslog.Named("viewer")), viewer.WithWelcome(welcome))
	scfg := session.Config{
		GameID:       cfg.GameID,
		Store:        store,
		PollInterval: cfg.PollInterval,
		Loader:       loader,
		Scale:        cfg.PieceScale,
		Hub:          hub,
		Messages:     msgs,
		Repo:         repo,
		Logger:       obslog.Named("session"),
	}
	if cfg.Mode == appcfg.ModeRemote {
		scfg.Source = remote.NewClient(cfg.GameServerURL,
			remote.WithTimeout(cfg.RequestTimeout),
			remote.WithRetry(cfg.RequestRetry))
	}
	sess := session.New(scfg)
	defer sess.Close()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		snap := sess.Snapshot()
		writeJSON(w, map[string]any{
			"mode":    sess.Mode(),
			"fen":     snap.FEN(),
			"turn":    snap.Turn(),
			"status":  snap.Status(),
			"viewers": hub.ClientCount(),
		})
	})
	mux.HandleFunc("/matches", func(w http.ResponseWriter, r *http.Request) {
		recent, err := repo.RecentMatches(r.Context(), cfg.HistoryLimit)
		if err != nil {
			logger.Warn("matches_query_error", zap.Error(err))
			http.Error(w, "history unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, recent)
	})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(ctx) }()
	go func() {
		logger.Info("http_listening", zap.String("addr", cfg.ListenAddr), zap.String("mode", string(cfg.Mode)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http_serve_error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := <-runErr; err != nil {
		logger.Error("session_run_error", zap.Error(err))
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("shutdown_complete")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obslog.L().Debug("http_write_error", zap.Error(err))
	}
}
