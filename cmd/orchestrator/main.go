// File: cmd/orchestrator/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reelforge/video-orchestrator/internal/config"
	"github.com/reelforge/video-orchestrator/internal/infra/adapters/media"
	"github.com/reelforge/video-orchestrator/internal/infra/adapters/videogen"
	pg "github.com/reelforge/video-orchestrator/internal/infra/db/postgres"
	"github.com/reelforge/video-orchestrator/internal/infra/logging"
	"github.com/reelforge/video-orchestrator/internal/infra/metrics"
	red "github.com/reelforge/video-orchestrator/internal/infra/redis"
	"github.com/reelforge/video-orchestrator/internal/infra/sched"
	"github.com/reelforge/video-orchestrator/internal/infra/security"
	"github.com/reelforge/video-orchestrator/internal/orchestrator"
	"github.com/reelforge/video-orchestrator/internal/orchestrator/httpapi"
	"github.com/reelforge/video-orchestrator/internal/orchestrator/pollcoord"
	"github.com/reelforge/video-orchestrator/internal/orchestrator/submitqueue"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres: connect failed")
	}
	defer pool.Close()
	tm := pg.NewTxManager(pool)

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis: connect failed")
	}
	defer redisClient.Close()

	// ---- Encryption ----
	encSvc, err := security.NewEncryptionService(cfg.Security.EncryptionKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("encryption: init failed")
	}

	// ---- Repositories ----
	userRepo := pg.NewPostgresUserRepo(pool)
	jobRepo := pg.NewPostgresJobRepo(pool)
	tokenRepo := pg.NewPostgresTokenRepo(pool, tm, encSvc, cfg.TokenPool.BatchSize)

	tokenPoolCfg := pg.TokenPoolConfig{
		ErrorWindow:    time.Duration(cfg.TokenPool.ErrorWindowMinutes) * time.Minute,
		ErrorThreshold: cfg.TokenPool.ErrorThreshold,
		Cooldown:       time.Duration(cfg.TokenPool.CooldownHours) * time.Hour,
	}
	tokenPool := pg.NewTokenPool(tokenRepo, tokenPoolCfg)

	// ---- Upstream adapters ----
	videoClient := videogen.NewClient(cfg.VideoGen.BaseURL, cfg.VideoGen.ProjectID, cfg.VideoGen.UpstreamConnectionPoolSize)
	uploader := media.NewUploader(cfg.Media.UploadURL, cfg.Media.Preset)

	// ---- Polling Coordinator ----
	uploadLocker := red.NewLocker(redisClient)
	coordinator := pollcoord.New(cfg.Polling, videoClient, uploader, jobRepo, tokenPool, uploadLocker, logger)

	// ---- Submission Queue (depends on the coordinator as its PollEnqueuer) ----
	queue := submitqueue.New(tokenPool, jobRepo, videoClient, coordinator, cfg.Queue, cfg.VideoGen.ProjectID, cfg.VideoGen.FallbackAPIKey, logger)

	// ---- Orchestrator facade ----
	orch := orchestrator.New(userRepo, jobRepo, tm, tokenPool, videoClient, queue, coordinator, logger)

	// ---- Housekeeper (depends on the orchestrator as its Resubmitter) ----
	housekeeper, err := sched.New(userRepo, jobRepo, orch, cfg.Housekeeper.DailyResetTimezone, time.Duration(cfg.Housekeeper.StaleJobCutoffMins)*time.Minute, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("housekeeper: init failed")
	}
	go housekeeper.Start(ctx)

	// ---- Redis-backed rate limiter, guards the burst-prone bulk/single submit routes ----
	rateLimiter := red.NewRateLimiter(redisClient)

	// ---- Metrics ----
	metrics.MustRegister()

	// ---- HTTP server ----
	adminAuth := httpapi.NewAdminAuth(cfg.Security.JWTSecret)
	adminSrv := httpapi.NewAdminServer(tokenPool, userRepo, adminAuth, logger)
	apiSrv := httpapi.NewServer(orch, rateLimiter, logger)

	mux := http.NewServeMux()
	mux.Handle("/", apiSrv.Router(adminSrv))
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: mux}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
}
