package cli

import (
	"context"
	"fmt"

	"github.com/kasuganosora/equipets/audit"
	"github.com/kasuganosora/equipets/cache"
	"github.com/kasuganosora/equipets/config"
	dbadapter "github.com/kasuganosora/equipets/db"
	"github.com/kasuganosora/equipets/game/care"
	"github.com/kasuganosora/equipets/game/ranking"
	"github.com/kasuganosora/equipets/model"
	"github.com/kasuganosora/equipets/plugin/hook"
	"github.com/kasuganosora/equipets/store"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds the services shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	store  *store.Store
	cache  cache.Cache
	pubsub cache.PubSub
	audit  *audit.Service
	hooks  *hook.HookCenter
	care   *care.Service
	board  *ranking.Board
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Server.Debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// loadApp reads the config file and builds the app.
func loadApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	a, err := newApp(cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

// newApp opens the database and cache and wires the care service.
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	policy, err := care.PolicyFromConfig(cfg.Progression)
	if err != nil {
		return nil, err
	}

	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	ps, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	st := store.New(db)
	auditSvc := audit.New(db, logger)
	hooks := hook.NewHookCenter()
	a := &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		store:  st,
		cache:  c,
		pubsub: ps,
		audit:  auditSvc,
		hooks:  hooks,
		board:  ranking.NewBoard(st, c, logger),
	}
	a.care = care.NewService(st, care.Options{
		Policy:    policy,
		Decay:     care.DecayRuleFromConfig(cfg.Decay),
		Bands:     care.StatusBandsFromConfig(cfg.Status),
		BatchSize: cfg.Worker.BatchSize,
		Hooks:     hooks,
		Audit:     auditSvc,
		Cache:     c,
	}, logger)
	return a, nil
}

// close flushes the audit queue and releases the database.
func (a *app) close() {
	a.audit.Stop(context.Background())
	cache.Close(a.cache)
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
