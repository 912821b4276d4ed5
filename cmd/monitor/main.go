package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jiliangzhu/MarketPulse-X/internal/alert"
	"github.com/jiliangzhu/MarketPulse-X/internal/config"
	cronrunner "github.com/jiliangzhu/MarketPulse-X/internal/cron"
	"github.com/jiliangzhu/MarketPulse-X/internal/db"
	"github.com/jiliangzhu/MarketPulse-X/internal/handler"
	"github.com/jiliangzhu/MarketPulse-X/internal/ingest"
	"github.com/jiliangzhu/MarketPulse-X/internal/intent"
	"github.com/jiliangzhu/MarketPulse-X/internal/logger"
	"github.com/jiliangzhu/MarketPulse-X/internal/metrics"
	gormrepository "github.com/jiliangzhu/MarketPulse-X/internal/repository/gorm"
	"github.com/jiliangzhu/MarketPulse-X/internal/rules"
	"github.com/jiliangzhu/MarketPulse-X/internal/synonym"
	"github.com/jiliangzhu/MarketPulse-X/internal/venue"
)

func main() {
	cfgPath := os.Getenv("MPX_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("MPX_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	reg := metrics.New()
	reg.Health.Set(1)
	store := gormrepository.New(dbConn.Gorm)

	var source venue.Source
	if cfg.App.DataSource == "real" {
		source = venue.NewPolymarketSource(&http.Client{Timeout: cfg.Venue.Timeout}, venue.PolymarketOptions{
			GammaBaseURL: cfg.Venue.GammaBaseURL,
			ClobBaseURL:  cfg.Venue.ClobBaseURL,
			BookTTL:      cfg.Venue.BookCacheTTL,
			DetailTTL:    cfg.Venue.DetailTTL,
			RatePerSec:   cfg.Venue.RatePerSec,
			RateBurst:    cfg.Venue.RateBurst,
		})
	} else {
		source = venue.NewSyntheticSource(cfg.Venue.MockSeed)
	}
	log.Info("venue source selected", zap.String("source", source.Name()))

	notifier := alert.NewTelegramNotifier(cfg.Alert.Enabled, cfg.Alert.BotToken, cfg.Alert.ChatID, nil, log)

	matcher, err := synonym.NewMatcher(store, log, cfg.Synonyms.Path)
	if err != nil {
		log.Fatal("synonyms document invalid", zap.Error(err))
	}

	breakers := rules.NewBreakerTable(time.Minute, 5, 5*time.Minute)
	engine := rules.NewEngine(store, matcher, notifier, reg, log, cfg.Rules, breakers, cfg.Exec.SlippageBps)

	pipeline := ingest.New(store, source, reg, log, cfg.Ingest)

	intentSvc := intent.NewService(store, breakers, reg, log, cfg.Exec, cfg.App.DataSource == "mock")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := intentSvc.BootstrapPolicy(ctx); err != nil {
		log.Fatal("execution policy bootstrap failed", zap.Error(err))
	}
	if err := engine.Reload(ctx); err != nil {
		log.Fatal("rule load failed", zap.Error(err))
	}

	// One ingest pass before the loops start so the first evaluation cycle
	// sees prices, then a synonym pass over the freshly-seen markets.
	if err := pipeline.Cycle(ctx); err != nil {
		log.Warn("initial ingest cycle failed (continuing)", zap.Error(err))
	}
	if err := matcher.Refresh(ctx); err != nil {
		log.Warn("initial synonym refresh failed (continuing)", zap.Error(err))
	}

	go func() {
		if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("ingest loop stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("rule engine stopped", zap.Error(err))
		}
	}()

	runner := cronrunner.New(log, ctx)
	if cfg.Cron.Enabled {
		if _, err := runner.Add(cfg.Rules.ReloadSpec, func(ctx context.Context) {
			if err := engine.Reload(ctx); err != nil {
				log.Warn("rule reload failed", zap.Error(err))
			}
		}); err != nil {
			log.Warn("cron register rule reload failed", zap.Error(err))
		}
		if _, err := runner.Add(cfg.Synonyms.RefreshSpec, func(ctx context.Context) {
			if err := matcher.Refresh(ctx); err != nil {
				log.Warn("synonym refresh failed", zap.Error(err))
			}
		}); err != nil {
			log.Warn("cron register synonym refresh failed", zap.Error(err))
		}
		if _, err := runner.Add(cfg.Exec.ExpireSpec, func(ctx context.Context) {
			if _, err := intentSvc.ExpireOverdue(ctx); err != nil {
				log.Warn("intent expiry sweep failed", zap.Error(err))
			}
		}); err != nil {
			log.Warn("cron register intent expiry failed", zap.Error(err))
		}
		runner.Start()
		defer runner.Stop()
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(handler.RequestCounter(reg))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm, Ingest: pipeline, Rules: engine}
	healthHandler.Register(router)
	marketHandler := &handler.MarketHandler{Repo: store}
	marketHandler.Register(router)
	signalHandler := &handler.SignalHandler{Repo: store}
	signalHandler.Register(router)
	kpiHandler := &handler.KpiHandler{Repo: store}
	kpiHandler.Register(router)
	execHandler := &handler.ExecutionHandler{
		Repo:       store,
		Service:    intentSvc,
		AdminToken: cfg.App.AdminToken,
	}
	execHandler.Register(router)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg.Prom, promhttp.HandlerOpts{})))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	reg.Health.Set(0)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, x-api-key")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
