package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/syntharb/internal/analytics"
	"github.com/alanyoungcy/syntharb/internal/arbitrage"
	"github.com/alanyoungcy/syntharb/internal/demo"
	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/feed"
	"github.com/alanyoungcy/syntharb/internal/market"
	"github.com/alanyoungcy/syntharb/internal/pricing"
	"github.com/alanyoungcy/syntharb/internal/server"
	"github.com/alanyoungcy/syntharb/internal/server/handler"
	"github.com/alanyoungcy/syntharb/internal/server/ws"
	"github.com/alanyoungcy/syntharb/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// pipeline is everything between the event sink and the outer surfaces.
// Both modes share it; they differ only in what feeds the sink.
type pipeline struct {
	specs     []domain.InstrumentSpec
	sink      *feed.ChannelSink
	store     *market.Store
	pricing   *pricing.Engine
	vol       *analytics.VolatilityTracker
	engine    *arbitrage.Engine
	marketSvc *service.MarketDataService
	engineSvc *service.EngineService
	hub       *ws.Hub
	startedAt time.Time
}

// LiveMode streams market data from the configured exchanges.
func (a *App) LiveMode(ctx context.Context, deps *Dependencies) error {
	specs, err := ResolveInstruments(ctx, a.cfg, deps.InstrumentStore, a.logger)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "starting live mode", slog.Int("instruments", len(specs)))

	g, ctx := errgroup.WithContext(ctx)

	p, err := a.buildPipeline(ctx, deps, specs)
	if err != nil {
		return err
	}
	clients, err := a.buildClients(specs, p.sink)
	if err != nil {
		return err
	}
	for _, c := range clients {
		g.Go(func() error {
			if err := c.Connect(ctx); err != nil {
				// With auto-reconnect the client keeps retrying on its own.
				a.logger.WarnContext(ctx, "initial connect failed",
					slog.String("exchange", c.Exchange().String()),
					slog.String("url", c.URL()),
					slog.String("error", err.Error()),
				)
			}
			<-ctx.Done()
			return c.Close()
		})
	}

	a.runPipeline(ctx, g, deps, p)
	return g.Wait()
}

// DemoMode replaces exchange feeds with the random-walk generator.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	gen := demo.NewGenerator(a.cfg.Demo.Interval.Duration, uint64(a.cfg.Demo.Seed), a.logger)
	specs := gen.Instruments()
	a.logger.InfoContext(ctx, "starting demo mode", slog.Int("instruments", len(specs)))

	g, ctx := errgroup.WithContext(ctx)

	p, err := a.buildPipeline(ctx, deps, specs)
	if err != nil {
		return err
	}
	g.Go(func() error {
		return gen.Run(ctx, p.sink)
	})

	a.runPipeline(ctx, g, deps, p)
	return g.Wait()
}

// buildPipeline constructs the pricing and detection engines and the
// services around them. ctx bounds the detection loop.
func (a *App) buildPipeline(ctx context.Context, deps *Dependencies, specs []domain.InstrumentSpec) (*pipeline, error) {
	p := &pipeline{
		specs:     specs,
		sink:      feed.NewChannelSink(a.cfg.Feeds.EventBuffer),
		store:     market.NewStore(),
		startedAt: time.Now().UTC(),
	}

	pcfg := pricing.DefaultConfig()
	pcfg.StalenessThreshold = a.cfg.Pricing.StalenessThreshold.Duration
	for name, h := range a.cfg.Pricing.FundingIntervalHours {
		ex, err := domain.ParseExchange(name)
		if err != nil {
			return nil, fmt.Errorf("app: funding interval: %w", err)
		}
		pcfg.FundingIntervalHours[ex] = h
	}
	p.pricing = pricing.NewEngine(a.cfg.Environment(), pcfg, a.logger)
	for _, s := range specs {
		if err := p.pricing.RegisterInstrument(s); err != nil {
			return nil, fmt.Errorf("app: register %s: %w", s.ID(), err)
		}
	}

	p.vol = analytics.NewVolatilityTracker(
		a.cfg.Analytics.VolatilitySampleInterval.Duration,
		a.cfg.Analytics.VolatilityWindow,
	)

	p.hub = ws.NewHub(ws.Config{
		AllowedOrigins: a.cfg.Server.CORSOrigins,
		Status:         func() any { return a.statusSnapshot(p) },
	}, a.logger)

	oppSvc := service.NewOpportunityService(
		deps.SignalBus, p.hub, deps.Notifier, deps.Metrics, a.cfg.Notify.MinProfitUSD, a.logger,
	)

	strategies := make([]domain.StrategyType, 0, len(a.cfg.Arbitrage.Strategies))
	for _, s := range a.cfg.Arbitrage.Strategies {
		strategies = append(strategies, domain.StrategyType(s))
	}
	engine, err := arbitrage.NewEngine(a.cfg.DomainArbitrage(), arbitrage.Params{
		Interval:           a.cfg.Arbitrage.Interval.Duration,
		MaterialityFloor:   a.cfg.Arbitrage.MaterialityFloor,
		TargetNotionalUSD:  a.cfg.Arbitrage.TargetNotionalUSD,
		FundingHorizon:     a.cfg.Arbitrage.FundingHorizon.Duration,
		SlippageBps:        a.cfg.Arbitrage.SlippageBps,
		AgreementTolerance: a.cfg.Arbitrage.AgreementTolerance,
		Strategies:         strategies,
	}, arbitrage.Deps{
		Pricer:     p.pricing,
		Store:      p.store,
		Volatility: p.vol,
		Publisher:  oppSvc,
		Logger:     a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	p.engine = engine

	if err := deps.Metrics.RegisterEngine(engine.PerformanceMetrics); err != nil {
		return nil, fmt.Errorf("app: register engine metrics: %w", err)
	}
	if err := deps.Metrics.RegisterDropped(p.sink.Dropped); err != nil {
		return nil, fmt.Errorf("app: register sink metrics: %w", err)
	}
	if err := deps.Metrics.RegisterHub(p.hub.Dropped, p.hub.Evicted); err != nil {
		return nil, fmt.Errorf("app: register hub metrics: %w", err)
	}

	p.marketSvc = service.NewMarketDataService(
		deps.MarketCache, deps.SignalBus, deps.AuditStore, p.hub, deps.Notifier, a.logger,
	)
	p.engineSvc = service.NewEngineService(ctx, engine, deps.AuditStore, deps.Notifier, a.logger)
	return p, nil
}

// buildClients creates one feed client per exchange and market (spot or
// derivatives), attaches it to sink and records the desired subscriptions.
// Subscriptions are replayed when the client connects.
func (a *App) buildClients(specs []domain.InstrumentSpec, sink *feed.ChannelSink) ([]*feed.Client, error) {
	type group struct {
		exchange    domain.Exchange
		derivatives bool
	}
	clients := make(map[group]*feed.Client)
	var order []*feed.Client

	fc := a.cfg.Feeds
	for _, s := range specs {
		key := group{exchange: s.Exchange, derivatives: s.Type == domain.InstrumentPerpetualSwap}
		c, ok := clients[key]
		if !ok {
			var err error
			c, err = feed.NewClient(key.exchange, feed.ClientConfig{
				URL:                 a.cfg.FeedURL(key.exchange, key.derivatives),
				Derivatives:         key.derivatives,
				DialTimeout:         fc.DialTimeout.Duration,
				ReconnectInitial:    fc.ReconnectInitial.Duration,
				ReconnectMax:        fc.ReconnectMax.Duration,
				ReconnectMultiplier: fc.ReconnectMultiplier,
				SubscribeRate:       fc.SubscribeRate,
				SubscribeBurst:      fc.SubscribeBurst,
			}, a.logger)
			if err != nil {
				return nil, fmt.Errorf("app: feed client %s: %w", key.exchange, err)
			}
			c.SetAutoReconnect(fc.AutoReconnect)
			sink.Attach(c)
			clients[key] = c
			order = append(order, c)
		}

		for _, ch := range fc.Channels {
			channel := feed.Channel(ch)
			if !key.derivatives && (channel == feed.ChannelFundingRate || channel == feed.ChannelMarkPrice) {
				continue
			}
			if err := c.Subscribe(feed.Subscription{Channel: channel, Symbol: s.Symbol}); err != nil {
				a.logger.Warn("subscription skipped",
					slog.String("instrument", string(s.ID())),
					slog.String("channel", ch),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	return order, nil
}

// runPipeline starts the ingestor, hub, HTTP server and detection loop on g.
func (a *App) runPipeline(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	ingestor := feed.NewIngestor(p.sink.Events(), p.store, a.logger, p.vol, deps.Metrics, p.marketSvc)
	g.Go(func() error {
		return ingestor.Run(ctx)
	})
	g.Go(func() error {
		return p.hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, p)
	}

	if a.cfg.Arbitrage.AutoStart {
		if err := p.engineSvc.Start(ctx); err != nil {
			a.logger.ErrorContext(ctx, "detection engine did not start", slog.String("error", err.Error()))
		}
	}
	g.Go(func() error {
		<-ctx.Done()
		p.engine.Stop()
		return nil
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, p *pipeline) {
	strategies := make([]domain.StrategyType, 0, len(a.cfg.Arbitrage.Strategies))
	for _, s := range a.cfg.Arbitrage.Strategies {
		strategies = append(strategies, domain.StrategyType(s))
	}
	if len(strategies) == 0 {
		strategies = arbitrage.DefaultRegistry().List()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateBurst:   a.cfg.Server.RateBurst,
	}, server.Handlers{
		Health:  handler.NewHealthHandler(p.marketSvc),
		Status:  handler.NewStatusHandler(a.cfg.Mode, strategies, len(p.specs), p.engine, p.engine),
		Market:  handler.NewMarketHandler(p.engine),
		Pricing: handler.NewPricingHandler(p.pricing),
		Arb:     handler.NewArbHandler(p.engine, p.engineSvc, a.logger),
		Metrics: deps.Metrics.Handler(),
	}, p.hub, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.String("addr", srv.Addr()),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// statusSnapshot is the greeting sent to new dashboard connections.
func (a *App) statusSnapshot(p *pipeline) map[string]any {
	return map[string]any{
		"mode":           a.cfg.Mode,
		"engine_running": p.engine != nil && p.engine.IsRunning(),
		"instruments":    len(p.specs),
		"feeds":          p.marketSvc.FeedStatuses(),
		"uptime_seconds": int64(time.Since(p.startedAt).Seconds()),
	}
}
