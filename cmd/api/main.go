package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callbridge/internal/assets"
	"callbridge/internal/audio"
	"callbridge/internal/auth"
	"callbridge/internal/blocklist"
	"callbridge/internal/callcontrol"
	"callbridge/internal/calllog"
	"callbridge/internal/calls"
	"callbridge/internal/config"
	"callbridge/internal/httpapi"
	"callbridge/internal/preload"
	"callbridge/internal/session"
	"callbridge/internal/storage"
	"callbridge/internal/stream"
	"callbridge/internal/webhook"
	"callbridge/pkg/logger"
	"callbridge/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	// Call-control provider client.
	provider := callcontrol.New(callcontrol.Config{
		BaseURL:                cfg.Telnyx.APIBaseURL,
		APIKey:                 cfg.Telnyx.APIKey,
		FromNumber:             cfg.Telnyx.FromNumber,
		ConnectionID:           cfg.Telnyx.ConnectionID,
		CredentialConnectionID: cfg.Telnyx.CredentialConnectionID,
		WebhookURL:             cfg.Telnyx.WebhookURL,
		StreamBaseURL:          cfg.Telnyx.StreamBaseURL,
	}, log)

	// Audio pipeline: catalog lookups, signed downloads, telephony transcode.
	catalog := assets.NewPostgresCatalog(db)
	signer := storage.NewHTTPSigner(storage.Config{
		BaseURL:    cfg.Storage.BaseURL,
		ServiceKey: cfg.Storage.ServiceKey,
		Bucket:     cfg.Storage.Bucket,
	})
	transcoder := audio.NewTranscoder()
	transcoder.FrameDuration = cfg.Media.FrameDuration
	preloadSvc := preload.NewService(
		catalog,
		signer,
		preload.NewDownloader(cfg.Preload.MaxDownloads),
		preload.NewCache(cfg.Preload.MaxAge),
		transcoder,
		log,
	)

	// Session and media plumbing.
	sessions := session.NewRedisStore(rdb, session.Codec{})
	sockets := session.NewSocketRegistry()
	streamer := stream.NewStreamer(sessions, sockets, preloadSvc, log)

	events := calllog.NewService(calllog.NewPostgresRepo(db))
	quota := calls.NewRedisQuota(rdb, cfg.Media.MaxConcurrentCalls, cfg.Media.SessionTTL)

	callSvc := calls.NewService(
		provider,
		sessions,
		preloadSvc,
		blocklist.NewPostgresChecker(db),
		quota,
		streamer,
		events,
		cfg.Media.SessionTTL,
		log,
	)

	router := webhook.NewRouter(provider, sessions, events, cfg.Media.SessionTTL, log)
	router.SetReleaseHook(func(ctx context.Context, userID string) {
		if err := quota.Release(ctx, userID); err != nil {
			log.Warn("quota release failed", "user_id", userID, "err", err)
		}
	})

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		authMW: auth.RequireAccessToken(authManager),
		api: httpapi.Handlers{
			Auth:    authManager,
			Calls:   callSvc,
			Preload: preloadSvc,
			Streams: streamer,
			Events:  events,
		},
		webhooks: webhook.Handler{Router: router},
		media:    &stream.MediaHandler{Sessions: sessions, Sockets: sockets},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
