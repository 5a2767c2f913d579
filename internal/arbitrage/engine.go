package arbitrage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/market"
)

// Params tunes detection. Zero values fall back to DefaultParams.
type Params struct {
	// Interval is the cadence of the background detection loop.
	Interval time.Duration
	// MaterialityFloor is the minimum relative mispricing, as a fraction,
	// before a candidate is raised at all.
	MaterialityFloor float64
	// TargetNotionalUSD is the notional of one leg.
	TargetNotionalUSD float64
	// FundingHorizon is the holding period for funding-rate candidates.
	FundingHorizon time.Duration
	// SlippageBps is the expected execution cost per leg.
	SlippageBps float64
	// AgreementTolerance is the price disagreement at which confidence
	// reaches zero.
	AgreementTolerance float64
	// Strategies selects strategies by name; empty means all.
	Strategies []domain.StrategyType
}

// DefaultParams returns the detection defaults for cfg.
func DefaultParams(cfg domain.ArbitrageConfig) Params {
	return Params{
		Interval:           time.Second,
		MaterialityFloor:   0.0001,
		TargetNotionalUSD:  cfg.MaxPositionSizeUSD / 2,
		FundingHorizon:     24 * time.Hour,
		SlippageBps:        2,
		AgreementTolerance: 0.05,
	}
}

// Pricer prices market snapshots and exposes the shared environment.
type Pricer interface {
	PriceAll(md domain.MarketData) []domain.PricingResult
	Environment() domain.MarketEnvironment
	FundingIntervalHours(exchange domain.Exchange) float64
}

// VolatilityProvider returns an annualised volatility estimate for an
// underlying symbol.
type VolatilityProvider interface {
	Volatility(underlying string) (float64, bool)
}

// Publisher receives each completed cycle of the background loop.
type Publisher interface {
	PublishCycle(ctx context.Context, opps []domain.Opportunity, m domain.PerformanceMetrics)
}

// Deps are the collaborators of an Engine. Only Logger is required.
type Deps struct {
	Pricer     Pricer
	Store      *market.Store
	Volatility VolatilityProvider
	Publisher  Publisher
	Registry   *Registry
	Logger     *slog.Logger
}

// Engine runs opportunity detection on demand or on a fixed cadence and
// keeps cumulative performance metrics for its lifetime.
type Engine struct {
	cfg        domain.ArbitrageConfig
	params     Params
	strategies []Strategy
	pricer     Pricer
	store      *market.Store
	vol        VolatilityProvider
	publisher  Publisher
	logger     *slog.Logger

	metrics metrics
	latest  atomic.Pointer[[]domain.Opportunity]

	runMu   sync.Mutex
	running atomic.Bool
	cancel  context.CancelFunc
	done    chan struct{}

	now   func() time.Time
	newID func() uuid.UUID
}

// NewEngine builds an engine with fixed thresholds cfg.
func NewEngine(cfg domain.ArbitrageConfig, params Params, deps Deps) (*Engine, error) {
	def := DefaultParams(cfg)
	if params.Interval <= 0 {
		params.Interval = def.Interval
	}
	if params.MaterialityFloor <= 0 {
		params.MaterialityFloor = def.MaterialityFloor
	}
	if params.TargetNotionalUSD <= 0 {
		params.TargetNotionalUSD = def.TargetNotionalUSD
	}
	if params.FundingHorizon <= 0 {
		params.FundingHorizon = def.FundingHorizon
	}
	if params.SlippageBps < 0 {
		params.SlippageBps = 0
	}
	if params.AgreementTolerance <= 0 {
		params.AgreementTolerance = def.AgreementTolerance
	}
	if params.TargetNotionalUSD <= 0 {
		return nil, errors.New("arbitrage: target notional must be positive (set max_position_size_usd)")
	}

	reg := deps.Registry
	if reg == nil {
		reg = DefaultRegistry()
	}
	strategies, err := reg.Select(params.Strategies)
	if err != nil {
		return nil, fmt.Errorf("arbitrage: %w", err)
	}

	store := deps.Store
	if store == nil {
		store = market.NewStore()
	}

	e := &Engine{
		cfg:        cfg,
		params:     params,
		strategies: strategies,
		pricer:     deps.Pricer,
		store:      store,
		vol:        deps.Volatility,
		publisher:  deps.Publisher,
		logger:     deps.Logger.With(slog.String("component", "arbitrage")),
		now:        time.Now,
		newID:      newUUID,
	}
	empty := []domain.Opportunity{}
	e.latest.Store(&empty)
	return e, nil
}

// Config returns the engine's thresholds.
func (e *Engine) Config() domain.ArbitrageConfig { return e.cfg }

// Params returns the effective detection parameters.
func (e *Engine) Params() Params { return e.params }

// UpdateMarketData records points in the engine's snapshot store.
func (e *Engine) UpdateMarketData(points ...domain.MarketDataPoint) {
	e.store.Put(points...)
}

// MarketData returns the current market snapshot.
func (e *Engine) MarketData() domain.MarketData { return e.store.Snapshot() }

// LatestOpportunities returns the validated opportunities of the last
// background cycle.
func (e *Engine) LatestOpportunities() []domain.Opportunity { return *e.latest.Load() }

// PerformanceMetrics returns a copy of the cumulative counters.
func (e *Engine) PerformanceMetrics() domain.PerformanceMetrics { return e.metrics.snapshot() }

// IsRunning reports whether the background loop is active.
func (e *Engine) IsRunning() bool { return e.running.Load() }

// DetectOpportunities runs every enabled strategy over the given snapshot,
// scores and filters the candidates, and returns the survivors ordered by
// expected USD profit. It does not depend on the background loop. Each call
// counts as exactly one detection cycle.
func (e *Engine) DetectOpportunities(md domain.MarketData, results []domain.PricingResult) []domain.Opportunity {
	start := time.Now()

	env := domain.MarketEnvironment{}
	var interval func(domain.Exchange) float64
	if e.pricer != nil {
		env = e.pricer.Environment()
		interval = e.pricer.FundingIntervalHours
	}
	in := newInput(md, results, env, e.params, e.now(), interval)

	var raw []Candidate
	for _, s := range e.strategies {
		raw = append(raw, s.Detect(in)...)
	}

	validated := make([]domain.Opportunity, 0, len(raw))
	var profit float64
	for _, c := range raw {
		o := e.score(c, in)
		if !e.accept(o) {
			continue
		}
		validated = append(validated, o)
		profit += o.ExpectedProfitUSD
	}
	rank(validated)

	e.metrics.record(len(raw), len(validated), profit, time.Since(start))
	return validated
}

// Start launches the background detection loop. Starting a running engine
// is a no-op.
func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.running.Load() {
		return nil
	}
	if e.pricer == nil {
		return errors.New("arbitrage: engine has no pricer")
	}
	if e.cancel != nil {
		// The previous loop ended with its parent context.
		e.cancel()
		<-e.done
	}

	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	e.running.Store(true)
	go e.loop(loopCtx, e.done)

	e.logger.Info("arbitrage engine started",
		slog.Duration("interval", e.params.Interval),
		slog.Int("strategies", len(e.strategies)),
	)
	return nil
}

// Stop ends the background loop and waits for it. An in-flight cycle
// completes first. Stop is safe in any state.
func (e *Engine) Stop() {
	e.runMu.Lock()
	defer e.runMu.Unlock()

	if e.cancel == nil {
		return
	}
	e.cancel()
	<-e.done
	e.cancel, e.done = nil, nil
	e.logger.Info("arbitrage engine stopped")
}

func (e *Engine) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer e.running.Store(false)

	ticker := time.NewTicker(e.params.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		opps, ok := e.RunCycle()
		if ok && e.publisher != nil {
			e.publisher.PublishCycle(ctx, opps, e.PerformanceMetrics())
		}
	}
}

// RunCycle prices the current snapshot and detects opportunities once,
// storing the result as the latest snapshot. A panic inside the pass is
// logged and the cycle is skipped without touching the metrics.
func (e *Engine) RunCycle() (opps []domain.Opportunity, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.failed.Add(1)
			e.logger.Error("detection cycle failed", slog.Any("panic", r))
			opps, ok = nil, false
		}
	}()

	md := e.store.Snapshot()
	results := e.pricer.PriceAll(md)
	opps = e.DetectOpportunities(md, results)
	e.latest.Store(&opps)
	if len(opps) > 0 {
		e.logger.Debug("opportunities detected", slog.Int("count", len(opps)))
	}
	return opps, true
}
