package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/gapchat/gap/internal/bus"
	"github.com/gapchat/gap/internal/cache"
	"github.com/gapchat/gap/internal/config"
	"github.com/gapchat/gap/internal/gateway"
	"github.com/gapchat/gap/internal/logging"
	"github.com/gapchat/gap/internal/room"
	"github.com/gapchat/gap/internal/store"
	intsync "github.com/gapchat/gap/internal/sync"
	"github.com/gapchat/gap/internal/tui"
)

func main() {
	configFlag := flag.String("config", config.DefaultPath(), "config file path")
	peerFlag := flag.String("peer", "", "participant id to chat with")
	flag.Parse()

	if err := run(*configFlag, *peerFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, peerID string) error {
	if peerID == "" {
		return fmt.Errorf("-peer is required")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	roomID, err := room.ID(cfg.UserID, peerID)
	if err != nil {
		return err
	}

	if err := config.EnsureDirs(); err != nil {
		return err
	}
	// The TUI owns the terminal, so the logger writes to file only.
	logger, err := logging.New(config.LogPath("gap"), false)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, err := cache.Open(config.CachePath())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		return err
	}

	gw, err := gateway.Dial(cfg.ServerURL, cfg.NatsURL, logger)
	if err != nil {
		// No live feed; the engine falls back to polling alone.
		logger.Warn("feed connection failed, polling only", zap.Error(err))
		gw = gateway.New(cfg.ServerURL, nil, logger)
	}
	defer gw.Close()

	b := bus.New()
	st := store.New(roomID, b)
	engine := intsync.New(roomID, cfg.UserID, gw, st, db, b, logger, cfg.SyncConfig())
	if err := engine.Open(context.Background()); err != nil {
		return err
	}
	defer engine.Close()

	return tui.NewApp(engine, b, cfg.UserID, peerID).Run()
}
