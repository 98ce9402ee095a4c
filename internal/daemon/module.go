// Package daemon composes gapd: a headless process that keeps the configured
// peer rooms synced into the local cache.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/gapchat/gap/internal/bus"
	"github.com/gapchat/gap/internal/cache"
	"github.com/gapchat/gap/internal/config"
	"github.com/gapchat/gap/internal/gateway"
	"github.com/gapchat/gap/internal/lock"
	"github.com/gapchat/gap/internal/logging"
	"github.com/gapchat/gap/internal/room"
	intsync "github.com/gapchat/gap/internal/sync"
)

// Params holds the resolved startup configuration passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for gapd, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideCache,
			provideGateway,
			provideHistory,
			provideManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(p.ConfigPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger() (*zap.Logger, error) {
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	return logging.New(config.LogPath("gapd"), true)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("dir", config.BaseDir()))
	l, err := lock.Acquire(config.BaseDir())
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideCache(_ *lock.Lock, cfg *config.Config, logger *zap.Logger) (*cache.DB, error) {
	db, err := cache.Open(config.CachePath())
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("cache migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("cache migrations up to date", zap.Uint("version", result.Version))
	}
	pruneCache(db, cfg, logger)
	return db, nil
}

// pruneCache trims cached history past the configured retention.
func pruneCache(db *cache.DB, cfg *config.Config, logger *zap.Logger) {
	if cfg.CacheRetentionDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -cfg.CacheRetentionDays)
	for _, peer := range cfg.Peers {
		roomID, err := room.ID(cfg.UserID, peer)
		if err != nil {
			continue
		}
		n, err := db.Prune(roomID, cutoff)
		if err != nil {
			logger.Warn("cache prune failed", zap.String("room_id", roomID), zap.Error(err))
			continue
		}
		if n > 0 {
			logger.Info("cache pruned", zap.String("room_id", roomID), zap.Int64("rows", n))
		}
	}
}

func provideGateway(cfg *config.Config, logger *zap.Logger) (*gateway.Client, error) {
	return gateway.Dial(cfg.ServerURL, cfg.NatsURL, logger)
}

func provideHistory(db *cache.DB) intsync.History {
	return db
}

func provideManager(cfg *config.Config, gw *gateway.Client, history intsync.History, b *bus.Bus, logger *zap.Logger) *Manager {
	return NewManager(cfg, gw, history, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, mgr *Manager, gw *gateway.Client, db *cache.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := mgr.OpenAll(context.Background()); err != nil {
					logger.Error("some rooms failed to open", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			mgr.CloseAll()
			gw.Close()
			_ = db.Close()
			_ = lk.Release()
			logger.Info("daemon stopped")
			return nil
		},
	})
}
