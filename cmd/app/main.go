package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_go/internal/app"
	"market_go/internal/engine"
	"market_go/internal/event"
	"market_go/internal/infra"
	"market_go/internal/service"

	_ "net/http/pprof" // For pprof profiling
)

const saveEvery = 30 * time.Second

func main() {
	// 1. Pprof Server (for performance profiling)
	go func() {
		// Localhost only for security
		slog.Info("🕵️ Pprof server started on localhost:6060")
		if err := http.ListenAndServe("localhost:6060", nil); err != nil {
			slog.Error("Pprof server failed", slog.Any("error", err))
		}
	}()

	// 2. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize("configs/config.yaml"); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng := bootstrap.Engine

	// 4. UI read model
	view := service.NewMarketView()
	view.Start(ctx)

	// 5. Event handlers (the portfolio/UI collaborators live here in the
	//    full game; the driver just logs what it would hand them)
	eng.SetHandlers(engine.Handlers{
		OnTick: view.OnTick,
		OnFill: func(f event.FillEvent) {
			slog.Info("ORDER_FILLED",
				slog.String("order_id", f.OrderID),
				slog.String("symbol", f.Symbol),
				slog.String("type", string(f.Type)),
				slog.Int64("qty", f.Quantity),
				slog.String("price", f.Price.String()),
				slog.Int64("tick", f.Tick))
		},
		OnDividend: func(d event.DividendEvent) {
			slog.Info("DIVIDEND",
				slog.String("symbol", d.Symbol),
				slog.String("per_share", d.PerShare.String()))
		},
		OnCondition: func(c event.ConditionChangeEvent) {
			slog.Info("MARKET_CONDITION",
				slog.String("market", string(c.Market)),
				slog.String("from", string(c.From)),
				slog.String("to", string(c.To)),
				slog.Int64("tick", c.Tick))
		},
	})

	// Post-mortem dump if a tick ever panics
	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			eng.DumpState("panic_dump.json")
			panic(r)
		}
	}()

	interval := time.Duration(bootstrap.Config.Simulation.UpdateIntervalMS) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	saveTicker := time.NewTicker(saveEvery)
	defer saveTicker.Stop()

	slog.InfoContext(ctx, "✨ Market simulator running. Press Ctrl+C to exit.",
		slog.Duration("tick_interval", interval))

	for {
		select {
		case <-ctx.Done():
			slog.Info("👋 Shutting down, saving state...")
			if err := bootstrap.Storage.SaveSnapshot(eng.Snapshot()); err != nil {
				slog.Error("Final save failed", slog.Any("error", err))
			}
			return

		case <-ticker.C:
			eng.Tick()

		case <-saveTicker.C:
			if err := bootstrap.Storage.SaveSnapshot(eng.Snapshot()); err != nil {
				slog.Error("Periodic save failed", slog.Any("error", err))
			}
			m := infra.GlobalMetrics.Snapshot()
			slog.Info("METRICS",
				slog.Uint64("ticks", m.TicksProcessed),
				slog.Uint64("fills", m.OrdersFilled),
				slog.Uint64("expired", m.OrdersExpired),
				slog.Uint64("regime_changes", m.RegimeChanges),
				slog.Int64("avg_tick_ns", m.AvgTickNs))
		}
	}
}
