package app

import (
	"log/slog"
	"time"

	"market_go/internal/engine"
	"market_go/internal/infra"
	"market_go/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Storage *storage.Storage
	Engine  *engine.MarketEngine
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logger,
// storage, engine, and — when a save exists — state restore plus the
// offline catch-up pass.
func (b *Bootstrap) Initialize(configPath string) error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("🚀 Bootstrapping market simulator...",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.Path))

	// 4. Build the engine
	eng, err := engine.New(cfg)
	if err != nil {
		return err
	}
	b.Engine = eng
	slog.Info("✅ Market engine ready",
		slog.Int("stocks", len(cfg.Markets.Stocks)),
		slog.Int("crypto", len(cfg.Markets.Crypto)))

	// 5. Resume from the last save, if any
	snap, err := store.LoadSnapshot()
	if err != nil {
		return err
	}
	if snap == nil {
		slog.Info("No saved state, starting fresh")
		return nil
	}
	if err := eng.Restore(snap); err != nil {
		return err
	}
	b.catchUp(snap.SavedAtUnix)
	return nil
}

// catchUp fast-forwards the ticks that would have happened while the
// game was closed, through the normal tick path so every invariant and
// event fires as it would have live.
func (b *Bootstrap) catchUp(savedAtUnix int64) {
	if savedAtUnix <= 0 {
		return
	}
	elapsed := time.Since(time.Unix(savedAtUnix, 0))
	if elapsed <= 0 {
		return
	}

	interval := time.Duration(b.Config.Simulation.UpdateIntervalMS) * time.Millisecond
	missed := int64(elapsed / interval)
	if missed <= 0 {
		return
	}

	ticked := b.Engine.CatchUp(missed)
	slog.Info("⏩ Offline catch-up complete",
		slog.Int64("missed_ticks", missed),
		slog.Int64("simulated", ticked))
}
