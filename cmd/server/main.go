package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"

	"restlib/internal/auth"
	"restlib/internal/config"
	"restlib/internal/dao"
	"restlib/internal/db"
	"restlib/internal/descriptor"
	"restlib/internal/handler"
	"restlib/internal/logger"
	"restlib/internal/outbox"
	"restlib/internal/router"
	"restlib/internal/service"
)

func main() {
	debugFlag := flag.Bool("d", false, "enable debug logging")
	flag.Parse()

	cfg := config.LoadConfig()
	if err := logger.Init("."); err != nil {
		fmt.Fprintf(os.Stderr, "log init failed: %v\n", err)
		os.Exit(1)
	}
	logger.SetDebug(*debugFlag)

	ctx := context.Background()

	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Error("postgres_init_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer pg.Close()
	logger.Info("postgres_connected", nil)

	var plans *dao.PlanCache
	if cfg.RedisAddr != "" {
		rdb := db.NewRedis(cfg.RedisAddr)
		if err := db.PingRedis(rdb); err != nil {
			logger.Warn("redis_unavailable", map[string]any{"error": err.Error()})
			plans = dao.NewPlanCache(nil, cfg.PlanCache.MaxBytes)
		} else {
			plans = dao.NewPlanCache(rdb, cfg.PlanCache.MaxBytes)
		}
	} else {
		plans = dao.NewPlanCache(nil, cfg.PlanCache.MaxBytes)
	}

	registry := descriptor.NewRegistry()
	if cfg.ResourcesDir != "" {
		if err := registry.LoadDir(cfg.ResourcesDir); err != nil {
			logger.Error("resources_load_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}
	if err := registry.Resolve(); err != nil {
		logger.Error("registry_resolve_failed", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	logger.Info("resources_initialized", map[string]any{"specs": registry.Names()})

	var validator *auth.JWTValidator
	if cfg.JWT.Enabled {
		validator, err = auth.NewJWTValidator(cfg.JWT)
		if err != nil {
			logger.Error("jwt_init_failed", map[string]any{"error": err.Error()})
			os.Exit(1)
		}
	}

	ob := outbox.NewWriter(cfg.OutboxTable)
	factory := service.DefaultFactory(dao.Options{
		UseReturning:  cfg.UseReturningClause,
		SequenceTable: cfg.AutoIncrementTable,
		Plans:         plans,
	})

	rt := router.New(cfg.CORS, validator)
	for _, name := range registry.Names() {
		spec, _ := registry.Spec(name)
		svc := service.New(registry, spec, pg, pg.Pool, factory, service.Options{
			DefaultPageSize: cfg.DefaultPageSize,
			Outbox:          ob,
		})
		rt.Add(&handler.Resource{Path: name, Svc: svc})
	}

	logger.Info("server_start", map[string]any{"port": cfg.Port})
	if err := http.ListenAndServe(":"+cfg.Port, rt.Handler()); err != nil {
		logger.Error("server_error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}
