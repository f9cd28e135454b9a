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

	"callcenter-engine/internal/agents"
	"callcenter-engine/internal/auth"
	"callcenter-engine/internal/callbacks"
	"callcenter-engine/internal/calls"
	"callcenter-engine/internal/config"
	"callcenter-engine/internal/dispatch"
	"callcenter-engine/internal/events"
	"callcenter-engine/internal/httpapi"
	"callcenter-engine/internal/locks"
	"callcenter-engine/internal/metrics"
	"callcenter-engine/internal/notify"
	"callcenter-engine/internal/queues"
	"callcenter-engine/internal/reporting"
	"callcenter-engine/internal/routing"
	"callcenter-engine/internal/telephony"
	"callcenter-engine/pkg/logger"
	"callcenter-engine/pkg/utils"

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

	locker := locks.NewRedisLocker(rdb)
	locker.TTL = cfg.Engine.LockTTL

	gateway := telephony.NewTwilioGateway(telephony.TwilioConfig{
		AccountSID:   cfg.Twilio.AccountSID,
		AuthToken:    cfg.Twilio.AuthToken,
		HoldMusicURL: cfg.Twilio.HoldMusicURL,
	})

	var notifier notify.Notifier = notify.NoopNotifier{}
	if cfg.Slack.Token != "" {
		notifier = notify.NewSlackNotifier(cfg.Slack.Token, cfg.Slack.Channel, log)
	}

	m := metrics.New()

	eventSvc := events.NewService(events.NewPostgresRepo(db))
	callSvc := calls.NewService(calls.NewPostgresRepo(db), eventSvc)
	agentSvc := agents.NewService(agents.NewPostgresRepo(db), eventSvc, callSvc)
	queueSvc := queues.NewService(queues.NewPostgresRepo(db), callSvc, locker)
	callbackSvc := callbacks.NewService(callbacks.NewPostgresRepo(db), locker)

	router := routing.New(callSvc, agentSvc, queueSvc, gateway, locker, log)
	dispatcher := dispatch.New(dispatch.Config{
		PublicBaseURL:   cfg.Engine.PublicBaseURL,
		DefaultCallerID: cfg.Engine.DefaultCallerID,
		QueueGreeting:   cfg.Engine.QueueGreeting,
	}, callSvc, agentSvc, queueSvc, callbackSvc, router, gateway, locker, notifier, m, log)

	reports := reporting.New(callSvc, agentSvc, queueSvc)

	go dispatcher.RunBackground(rootCtx, cfg.Engine.EvictInterval, cfg.Engine.CallbackInterval)

	h := httpapi.Handlers{
		Auth:      authManager,
		Agents:    agentSvc,
		Calls:     callSvc,
		Queues:    queueSvc,
		Callbacks: callbackSvc,
		Dispatch:  dispatcher,
		Reports:   reports,
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, m, auth.RequireAccessToken(authManager))

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
