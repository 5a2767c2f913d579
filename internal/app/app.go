// Package app assembles the pipeline for the configured mode: exchange
// feeds or the demo generator, pricing, detection, the optional backends
// and the HTTP surface.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/config"
	"github.com/alanyoungcy/syntharb/internal/demo"
	"github.com/alanyoungcy/syntharb/internal/domain"
)

// App runs one mode until its context ends.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
	td     teardown
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

func (a *App) modes() map[string]func(context.Context, *Dependencies) error {
	return map[string]func(context.Context, *Dependencies) error{
		"live": a.LiveMode,
		"demo": a.DemoMode,
	}
}

// Run connects the backends and blocks in the configured mode. Context
// cancellation is a clean exit and returns nil.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	run, ok := a.modes()[mode]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.td.add(cleanup)

	if err := run(ctx, deps); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close releases the backends. Further calls do nothing.
func (a *App) Close() {
	a.logger.Info("closing")
	a.td.run()
	a.td = nil
}

// ResolveInstruments returns the instrument universe for cfg's mode. Demo
// mode always uses the generator's instruments. In live mode the configured
// instruments are saved to store, and with postgres.load_instruments the
// stored universe is merged in. store may be nil.
func ResolveInstruments(ctx context.Context, cfg *config.Config, store domain.InstrumentStore, logger *slog.Logger) ([]domain.InstrumentSpec, error) {
	if cfg.Mode == "demo" {
		return demo.NewGenerator(cfg.Demo.Interval.Duration, uint64(cfg.Demo.Seed), logger).Instruments(), nil
	}

	specs, err := cfg.InstrumentSpecs()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	if store == nil {
		return specs, nil
	}

	for _, s := range specs {
		if err := store.Upsert(ctx, s); err != nil {
			return nil, fmt.Errorf("app: save instrument %s: %w", s.ID(), err)
		}
	}
	if !cfg.Postgres.LoadInstruments {
		return specs, nil
	}

	stored, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load instruments: %w", err)
	}
	configured := len(specs)
	seen := make(map[domain.InstrumentID]bool, len(specs))
	for _, s := range specs {
		seen[s.ID()] = true
	}
	for _, s := range stored {
		if !seen[s.ID()] {
			seen[s.ID()] = true
			specs = append(specs, s)
		}
	}
	logger.InfoContext(ctx, "instruments loaded",
		slog.Int("configured", configured),
		slog.Int("total", len(specs)),
	)
	return specs, nil
}
