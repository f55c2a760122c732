package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"sentinel_go/internal/app"
	"sentinel_go/internal/bus"
	"sentinel_go/internal/engine"
	"sentinel_go/internal/event"
	"sentinel_go/internal/infra/binance"
	"sentinel_go/internal/market"
	"sentinel_go/internal/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	_ "net/http/pprof" // For pprof profiling
)

const inboxSize = 1024

func main() {
	// 1. System Bootstrapping (config, logger, DB)
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	cfg := bootstrap.Config

	// 2. Metrics + pprof server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		slog.Info("🕵️ Metrics/pprof server started", slog.String("addr", cfg.Metrics.ListenAddr))
		if err := http.ListenAndServe(cfg.Metrics.ListenAddr, nil); err != nil {
			slog.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	// 3. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. Transport: one combined-stream connection feeding the inbox
	inbox := make(chan event.Event, inboxSize)
	worker := binance.NewWorker(cfg.Binance.WSURL, inbox, cfg.ReconnectDelay())

	// 5. Derived market state + write-behind liquidation history
	aggregator := market.NewAggregator(bootstrap.Storage, cfg.FlushInterval())
	aggregator.Run(ctx)
	defer aggregator.Stop()

	// 6. Audit engine over the event bus
	events := bus.New()
	auditor := engine.NewAuditor(bootstrap.Storage, worker, events, engine.Params{
		FeeRate:          cfg.Audit.FeeRate,
		EntryTolerance:   cfg.Audit.EntryTolerance,
		MarketSlippage:   cfg.Audit.MarketSlippage,
		LimitSlippage:    cfg.Audit.LimitSlippage,
		PartialExitRatio: cfg.Audit.PartialExitRatio,
		SweepInterval:    cfg.SweepInterval(),
	})
	// Recover open positions before any new registration or tick is accepted
	if err := auditor.Reload(ctx); err != nil {
		slog.Error("❌ Signal reload failed", slog.Any("error", err))
		os.Exit(1)
	}
	auditor.Run(ctx)
	defer auditor.Stop()

	// 7. Watchdog: REST fallback when the stream goes silent
	watchdog := service.NewWatchdog(auditor, bootstrap.Rest, cfg.Binance.RestURL,
		cfg.WatchdogInterval(), cfg.SilenceThreshold())
	watchdog.Run(ctx)
	defer watchdog.Stop()

	// 8. Dispatcher (The Hotpath Loop)
	dispatcher := app.NewDispatcher(inbox, aggregator, events, auditor, watchdog)
	go dispatcher.Run(ctx)

	// 9. Subscriptions: liquidations firehose plus the configured symbols
	event.Warmup()
	worker.AddChannel(binance.LiquidationChannel)
	for _, symbol := range cfg.Binance.Symbols {
		worker.AddChannel(binance.TradeChannel(symbol))
		worker.AddChannel(binance.DepthChannel(symbol))
	}
	if err := worker.Connect(ctx); err != nil {
		slog.Error("❌ Stream connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer worker.Disconnect()

	slog.InfoContext(ctx, "✨ Sentinel Go fully operational. Press Ctrl+C to exit.",
		slog.Int("symbols", len(cfg.Binance.Symbols)))

	// Wait for shutdown signal
	<-ctx.Done()

	slog.InfoContext(ctx, "👋 Shutting down gracefully...")
}
