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

	"github.com/ocastell/atlas-trader/internal/config"
	"github.com/ocastell/atlas-trader/internal/journal"
	"github.com/ocastell/atlas-trader/internal/lifecycle"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/metrics"
	"github.com/ocastell/atlas-trader/internal/monitor"
	"github.com/ocastell/atlas-trader/internal/notifier"
	"github.com/ocastell/atlas-trader/internal/rebalance"
	"github.com/ocastell/atlas-trader/internal/session"
	"github.com/ocastell/atlas-trader/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	mode := "live"
	if cfg.DryRun {
		mode = "dry-run"
	}
	log.Printf("Starting Atlas Trader in %s mode, strategy %s, interval %s", mode, cfg.Strategy, cfg.Interval)

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	clock := market.RealClock{}

	// Load the session document, or start a fresh session
	repo := store.NewFileStore(cfg.StateFile)
	doc, err := repo.Load(ctx)
	switch {
	case err == nil:
		log.Printf("Restored session %s: %d open positions, %d closed trades",
			doc.Session.ID, len(doc.OpenPositions), len(doc.TradeHistory))
	case errors.Is(err, os.ErrNotExist):
		sess := session.New(cfg.InitialBudget, cfg.MaxBudget, cfg.Currency, session.Config{
			Strategy:          cfg.Strategy,
			Interval:          cfg.Interval,
			DryRun:            cfg.DryRun,
			AllowedAssetTypes: cfg.AllowedAssetTypes,
		}, cfg.CompoundRate, cfg.CompoundEnabled, session.Rebalancing{
			Enabled:         cfg.RebalanceEnabled,
			StagnationHours: cfg.StagnationHours,
			MaxPerDay:       cfg.MaxRebalancesPerDay,
		}, clock.Now())
		doc = &store.Document{Session: *sess}
		log.Printf("Started new session %s with budget %.2f %s", sess.ID, cfg.InitialBudget, cfg.Currency)
	default:
		log.Fatalf("Failed to load session document %s: %v", cfg.StateFile, err)
	}

	// Journal: Postgres when configured, in-memory otherwise
	var jrnl journal.Journaler
	if cfg.JournalConnStr != "" {
		pg, err := journal.NewPostgres(cfg.JournalConnStr, cfg.JournalMaxOpen, cfg.JournalMaxIdle)
		if err != nil {
			log.Fatalf("Failed to connect journal database: %v", err)
		}
		defer pg.Close()
		jrnl = pg
		log.Println("Journaling to Postgres")
	} else {
		jrnl = journal.NewMemory()
	}

	// Notifications
	var notif notifier.Notifier = notifier.Noop{}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		notif = notifier.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, cfg.NotificationRetries, cfg.NotificationDelay)
		log.Println("Telegram notifications enabled")
	}

	// Market collaborators: Wallex supplies prices in both modes; orders are
	// routed to the exchange only outside dry-run.
	gateway := market.NewWallexGateway(cfg.WallexAPIKey, cfg.FeeRate)
	var executor market.OrderExecutor = gateway
	if cfg.DryRun {
		executor = market.NewPaperExecutor(gateway, clock, cfg.FeeRate)
	}

	var signals market.SignalProvider = market.NoSignals{}
	if cfg.SignalURL != "" {
		provider := market.NewHTTPSignalProvider(cfg.SignalURL)
		signals = provider
		go atrRefresher(ctx, gateway, provider, cfg.Watchlist, cfg.IntervalDuration())
	} else {
		log.Println("No signal service configured; no new positions will be opened")
	}

	controller := lifecycle.New(doc, repo, executor, jrnl, notif, clock, lifecycle.Options{
		Strategy:          cfg.Strategy,
		MinTradeSize:      cfg.MinTradeSize,
		FeeRate:           cfg.FeeRate,
		DefaultKelly:      cfg.DefaultKelly,
		MaxKelly:          cfg.MaxKelly,
		ExecutionAttempts: cfg.ExecutionAttempts,
		ExecutionDelay:    cfg.ExecutionDelay,
	})

	var scheduler *rebalance.Scheduler
	if cfg.RebalanceEnabled {
		scheduler = rebalance.New(controller, clock, cfg.StagnationHours)
	}

	// Expose Prometheus metrics
	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			log.Printf("Serving metrics on %s", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.Printf("Metrics server stopped: %v", err)
			}
		}()
	}

	mon := monitor.New(controller, scheduler, gateway, signals, clock, cfg.IntervalDuration(), cfg.Watchlist)
	mon.Run(ctx)

	// Final save so a restart resumes from the last committed state
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := controller.Persist(shutdownCtx); err != nil {
		log.Printf("Final persist failed: %v", err)
	}
	log.Println("Shutdown complete")
}

// atrRefresher keeps the gateway's per-asset ATR current from the scoring
// service. An asset whose ATR cannot be fetched goes stale and is skipped by
// the monitor until the next successful refresh.
func atrRefresher(ctx context.Context, gateway *market.WallexGateway, provider *market.HTTPSignalProvider, watchlist []market.Asset, interval time.Duration) {
	refresh := func() {
		for _, asset := range watchlist {
			atr, err := provider.GetATR(ctx, asset.ID)
			if err != nil {
				log.Printf("Main | [%s] ATR refresh failed: %v", asset.ID, err)
				continue
			}
			gateway.SetATR(asset.ID, atr)
		}
	}

	refresh()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}
