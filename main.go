package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"trading-core/internal/api"
	"trading-core/internal/audit"
	"trading-core/internal/events"
	"trading-core/internal/exit"
	"trading-core/internal/model"
	"trading-core/internal/money"
	"trading-core/internal/monitor"
	"trading-core/internal/reconciliation"
	"trading-core/internal/resilience"
	"trading-core/internal/risk"
	"trading-core/internal/session"
	"trading-core/internal/venue"
	"trading-core/internal/venue/adapters/binance"
	"trading-core/internal/venue/ratelimit"
	"trading-core/pkg/config"
	"trading-core/pkg/db"
	"trading-core/pkg/i18n"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf(i18n.Get("ConfigLoadFailed"), err)
	}
	log.Println(i18n.Get("Starting"))
	log.Printf(i18n.Get("ConfigLoaded"), cfg.Port)
	log.Printf(i18n.Get("UsingDBPath"), cfg.DBPath)

	venues, err := config.LoadVenues(cfg.VenuesPath)
	if err != nil {
		log.Printf("⚠️ venue config %s unavailable, falling back to account-only wiring: %v", cfg.VenuesPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf(i18n.Get("DBInitFailed"), err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf(i18n.Get("DBMigrationsFailed"), err)
	}

	auditLogger := audit.NewLogger(database.Audit())

	factory, limiter := buildFactory(venues, bus)
	sessions := session.NewManager(factory, session.DefaultConfig(), session.NewTickCache())

	converter := money.NewConverter(tickRateSource(sessions))
	pips := money.NewPipTable()
	pnl := risk.NewPnLCalculator(bus, converter, pips, nil)
	drawdown := risk.NewDrawdownTracker()
	leverage := risk.NewLeverageTable()

	executor := risk.NewResponseExecutor(
		func(accountID string) (venue.Gateway, error) { return sessions.GetOrCreate(ctx, accountID) },
		sessions.Breaker,
	)
	responseEngine := risk.NewRiskResponseEngine(sessions, executor, auditLogger, bus)
	thresholds := risk.MarginThresholds{
		Warning:  decimal.NewFromFloat(cfg.MarginWarningPct),
		Critical: decimal.NewFromFloat(cfg.MarginCriticalPct),
		StopOut:  decimal.NewFromFloat(cfg.MarginStopOutPct),
	}
	marginBridge := risk.NewMarginResponseBridge(responseEngine, thresholds)
	margin := risk.NewMarginMonitor(bus, sessions, leverage, marginBridge, thresholds)

	exitGateway := session.NewExitGateway(sessions)
	exitEngine := exit.NewEngine(
		exitGateway,
		sessions,
		auditLogger,
		exit.NewTrailingStopManager(exit.TrailingStopConfig{
			ActivationThreshold: decimal.NewFromFloat(1.0),
			TrailingDistance:    decimal.NewFromFloat(0.5),
		}),
		exit.NewBreakEvenManager(exit.DefaultBreakEvenConfig()),
		exit.NewPartialProfitManager([]exit.ProfitTarget{
			{RMultiple: decimal.NewFromFloat(1.0), CloseFraction: decimal.NewFromFloat(0.5)},
			{RMultiple: decimal.NewFromFloat(2.0), CloseFraction: decimal.NewFromFloat(0.5)},
		}),
		exit.NewTimeBasedExitManager(24*time.Hour, exit.AlwaysOpenCalendar{}),
		exit.NewNewsEventProtection(exit.NewsPolicyWiden, decimal.NewFromFloat(2.0)),
	)

	reconService := reconciliation.NewService(sessions, pnl, database.Reconciliation(), time.Minute)

	metrics := monitor.NewSystemMetrics()
	alertMonitor := &monitor.Monitor{
		Bus: bus,
		AlertFn: func(msg string) {
			log.Printf("🚨 %s", msg)
		},
	}

	sessions.Start(ctx)
	go margin.Run(ctx, sessions.Accounts)
	go exitEngine.Run(ctx, sessions.Accounts)
	go feedTicksAndPositions(ctx, sessions, pnl, limiter)
	go pollGatewayMetrics(ctx, sessions, metrics)
	alertMonitor.Start(ctx)
	reconService.Start(ctx, sessions.Accounts)

	server := api.NewServer(
		bus,
		sessions,
		margin,
		drawdown,
		pnl,
		auditLogger,
		database,
		sessions.ResilientGateway,
		metrics,
		api.SystemMeta{
			Venues:  venueNames(venues),
			Version: envOr("APP_VERSION", "v1.0-dev"),
		},
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf(i18n.Get("APIServerError"), err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println(i18n.Get("ShuttingDown"))
	cancel()
	sessions.Stop()
}

// buildFactory wires one resilience.ResilientGateway per account, backed by
// the Binance spot adapter, using the declared "binance-spot" venue entry
// for credentials/environment (falling back to empty credentials if the
// venue file doesn't declare one — Connect still succeeds, since it only
// probes server time, and every signed call such as Place then fails with a
// missing-credentials error). The returned Limiter is
// seeded from the adapter's own declared per-operation rate limits and
// shared across every account's gateway.
func buildFactory(venues []config.VenueConfig, bus *events.Bus) (session.Factory, *ratelimit.Limiter) {
	venueCfg, _ := config.FindVenue(venues, "binance-spot")
	limiter := ratelimit.NewLimiter(binance.New(binance.Config{}, bus).Capabilities().RateLimits)

	factory := func(ctx context.Context, accountID string) (venue.Gateway, error) {
		adapter := binance.New(binance.Config{
			APIKey:    venueCfg.Credentials.APIKey,
			APISecret: venueCfg.Credentials.APISecret,
			Testnet:   venueCfg.Environment != "live",
			AccountID: accountID,
		}, bus)

		rg := resilience.NewResilientGateway(
			"binance-spot",
			bus,
			adapter,
			resilience.DefaultPoolConfig(),
			resilience.DefaultBreakerConfig(),
			resilience.DefaultRetryConfig(),
		)
		if err := rg.Connect(ctx); err != nil {
			return nil, fmt.Errorf("connect account %s: %w", accountID, err)
		}
		rg.Start(ctx)
		return rg, nil
	}
	return factory, limiter
}

// tickRateSource resolves an FX pair from whatever mid-price the tick cache
// already holds for the direct or inverse symbol; most FX/crypto pairs
// quote base+quote as a single tradable symbol (e.g. "EURUSD"), so no
// separate FX feed is needed beyond the venue's own market data.
func tickRateSource(sessions *session.Manager) money.RateSource {
	return func(base, quote string) (decimal.Decimal, error) {
		if tick, ok := sessions.Ticks().LastTick(base + quote); ok {
			return tick.Bid.Add(tick.Ask).Div(decimal.NewFromInt(2)), nil
		}
		if tick, ok := sessions.Ticks().LastTick(quote + base); ok {
			mid := tick.Bid.Add(tick.Ask).Div(decimal.NewFromInt(2))
			if mid.IsZero() {
				return decimal.Decimal{}, fmt.Errorf("money: zero inverse rate for %s%s", quote, base)
			}
			return decimal.NewFromInt(1).Div(mid), nil
		}
		return decimal.Decimal{}, fmt.Errorf("money: no tick for %s%s or %s%s", base, quote, quote, base)
	}
}

// feedTicksAndPositions keeps the P&L calculator's tracked-position set
// current for every account the session manager is tracking, and kicks off
// a market-data subscription the first time a new symbol is seen.
func feedTicksAndPositions(ctx context.Context, sessions *session.Manager, pnl *risk.PnLCalculator, limiter *ratelimit.Limiter) {
	seenSymbols := make(map[string]bool)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, accountID := range sessions.Accounts() {
				account, err := sessions.AccountInfo(ctx, accountID)
				if err != nil {
					continue
				}
				positions, err := sessions.Positions(ctx, accountID)
				if err != nil {
					continue
				}

				open := make(map[string]bool, len(positions))
				for _, pos := range positions {
					pnl.Track(pos, account.Currency)
					open[pos.PositionID] = true
					if !seenSymbols[pos.Symbol] {
						seenSymbols[pos.Symbol] = true
						go subscribeSymbol(ctx, sessions, pnl, limiter, accountID, pos.Symbol)
					}
				}
				for _, posID := range closedPositionIDs(pnl.Positions(), open) {
					pnl.Untrack(posID)
				}
			}
		}
	}
}

// closedPositionIDs returns the ids PnLCalculator is still tracking that no
// longer appear in the account's currently-open position list.
func closedPositionIDs(tracked []model.UnifiedPosition, stillOpen map[string]bool) []string {
	var stale []string
	for _, pos := range tracked {
		if !stillOpen[pos.PositionID] {
			stale = append(stale, pos.PositionID)
		}
	}
	return stale
}

// subscribeSymbol feeds one symbol's live ticks into the shared tick cache
// (read by the margin monitor and exit engine) and into the P&L
// calculator's OnTick recompute path, until ctx ends.
func subscribeSymbol(ctx context.Context, sessions *session.Manager, pnl *risk.PnLCalculator, limiter *ratelimit.Limiter, accountID, symbol string) {
	gw, err := sessions.GetOrCreate(ctx, accountID)
	if err != nil {
		return
	}
	if err := limiter.Wait(ctx, accountID, "query"); err != nil {
		return
	}
	ticks, err := gw.Subscribe(ctx, []string{symbol})
	if err != nil {
		log.Printf("⚠️ market data subscribe failed for %s/%s: %v", accountID, symbol, err)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case tick, ok := <-ticks:
			if !ok {
				return
			}
			sessions.Ticks().Set(tick.Symbol, tick.Bid, tick.Ask, tick.Timestamp)
			pnl.OnTick(tick.Symbol, tick.Bid, tick.Ask)
		}
	}
}

// pollGatewayMetrics periodically copies the busiest account's resilient
// gateway pool stats and the current session count into the system metrics
// snapshot, so /api/v1/system/metrics reflects live pool health without the
// gateway itself needing to know about monitor.SystemMetrics.
func pollGatewayMetrics(ctx context.Context, sessions *session.Manager, metrics *monitor.SystemMetrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			accounts := sessions.Accounts()
			metrics.SetMultiUserCounts(len(accounts))
			for _, accountID := range accounts {
				if rg, ok := sessions.ResilientGateway(accountID); ok {
					metrics.SetGatewayPoolStats(rg.PoolStats())
					break
				}
			}
		}
	}
}

func venueNames(venues []config.VenueConfig) []string {
	names := make([]string, 0, len(venues))
	for _, v := range venues {
		names = append(names, v.Name)
	}
	return names
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
