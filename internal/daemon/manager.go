package daemon

import (
	"context"
	"errors"
	stdsync "sync"

	"go.uber.org/zap"

	"github.com/gapchat/gap/internal/bus"
	"github.com/gapchat/gap/internal/config"
	"github.com/gapchat/gap/internal/gateway"
	"github.com/gapchat/gap/internal/room"
	"github.com/gapchat/gap/internal/store"
	intsync "github.com/gapchat/gap/internal/sync"
)

// Manager owns one sync engine per open room. Only one engine exists per
// room at a time; reopening a peer's room returns the existing engine.
type Manager struct {
	cfg     *config.Config
	gw      gateway.Gateway
	history intsync.History
	bus     *bus.Bus
	logger  *zap.Logger

	mu      stdsync.Mutex
	engines map[string]*intsync.Engine
}

// NewManager creates an engine manager. history may be nil.
func NewManager(cfg *config.Config, gw gateway.Gateway, history intsync.History, b *bus.Bus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:     cfg,
		gw:      gw,
		history: history,
		bus:     b,
		logger:  logger,
		engines: make(map[string]*intsync.Engine),
	}
}

// Open brings up the room shared with the given peer and returns its engine.
func (m *Manager) Open(ctx context.Context, peerID string) (*intsync.Engine, error) {
	roomID, err := room.ID(m.cfg.UserID, peerID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if e, ok := m.engines[roomID]; ok {
		m.mu.Unlock()
		return e, nil
	}
	m.mu.Unlock()

	st := store.New(roomID, m.bus)
	e := intsync.New(roomID, m.cfg.UserID, m.gw, st, m.history, m.bus, m.logger, m.cfg.SyncConfig())
	if err := e.Open(ctx); err != nil {
		e.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.engines[roomID]; ok {
		// Lost the race to another opener; keep the first engine.
		go e.Close()
		return existing, nil
	}
	m.engines[roomID] = e
	m.logger.Info("room opened", zap.String("room_id", roomID), zap.String("peer_id", peerID))
	return e, nil
}

// OpenAll opens every configured peer room. Failures are joined so one bad
// peer does not keep the rest from syncing.
func (m *Manager) OpenAll(ctx context.Context) error {
	var errs []error
	for _, peer := range m.cfg.Peers {
		if _, err := m.Open(ctx, peer); err != nil {
			m.logger.Warn("failed to open room", zap.String("peer_id", peer), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Get returns the engine for a room id, if open.
func (m *Manager) Get(roomID string) (*intsync.Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.engines[roomID]
	return e, ok
}

// CloseAll closes every open engine.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	engines := make([]*intsync.Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.engines = make(map[string]*intsync.Engine)
	m.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
