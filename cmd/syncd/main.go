package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vendorsync/internal/api"
	"vendorsync/internal/buildinfo"
	"vendorsync/internal/config"
	"vendorsync/internal/directory"
	"vendorsync/internal/engine"
	"vendorsync/internal/logging"
	"vendorsync/internal/mapping"
	"vendorsync/internal/marketplace"
	"vendorsync/internal/metrics"
	"vendorsync/internal/token"
	"vendorsync/internal/vendor"
	"vendorsync/internal/webhooks"
)

func main() {
	cfgPath := config.EnvOr("CONFIG_FILE", "config.yaml")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, config.EnvOr("LOG_FORMAT", "json"))
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting", zap.Any("build", buildinfo.Info()))

	metrics.RegisterDefault()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	maps, err := mapping.New(ctx, mapping.Config{
		Backend: cfg.Mapping.Backend,
		Path:    cfg.Mapping.Path,
		DSN:     cfg.Mapping.DSN,
	})
	if err != nil {
		logger.Fatal("init mapping store", zap.Error(err))
	}
	defer func() { _ = maps.Close(context.Background()) }()
	if err := maps.RecordMigration(ctx, "0001-baseline", mapping.KindSchema); err != nil {
		logger.Fatal("record baseline migration", zap.Error(err))
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("parse redis url", zap.Error(err))
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
	}

	var lease engine.Lease
	var broker engine.Broker
	if rdb != nil {
		lease = engine.NewRedisLease(rdb, 2*cfg.Engine.PollInterval())
		broker = engine.NewRedisBroker(rdb)
	} else {
		lease = engine.NewMemoryLease()
		broker = engine.NewMemoryBroker()
	}

	dir := directory.New(cfg.Authorizations)
	tokens := token.NewManager(cfg, cfg.Vendor.AuthURL, cfg.Vendor.Scopes, logger)
	vnd := vendor.NewClient(tokens, cfg, vendor.Options{
		BaseURL:       cfg.Vendor.APIURL,
		Retries:       cfg.Engine.TransientRetries,
		BackoffBase:   cfg.Engine.BackoffBase(),
		BackoffCap:    cfg.Engine.BackoffCap(),
		Timeout:       cfg.Engine.RequestTimeout(),
		RatePerSecond: cfg.Vendor.RatePerSecond,
	}, logger)
	mkt := marketplace.NewClient(cfg.Marketplace.APIURL, cfg.Marketplace.APIToken, cfg.Engine.RequestTimeout(), logger)

	eng := engine.New(dir, vnd, mkt, maps, lease, broker, cfg, engine.Options{
		Workers:       cfg.Engine.Workers,
		AttemptBudget: cfg.Engine.AttemptBudget,
		PageSize:      cfg.Engine.PageSize,
	}, logger)

	sched := engine.NewScheduler(eng, cfg.Engine.PollInterval(), logger)
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		sched.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewServer(eng, webhooks.NewAuthenticator(cfg), broker, maps, logger).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	<-schedDone

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutCtx)
}
