package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/syntharb/internal/domain"
	"github.com/alanyoungcy/syntharb/internal/notify"
)

// Engine is the part of the detection engine an operator controls.
type Engine interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
}

// EngineService starts and stops detection on operator request and records
// each transition.
type EngineService struct {
	engine   Engine
	runCtx   context.Context
	audit    domain.AuditStore
	notifier *notify.Notifier
	out      publisher
	logger   *slog.Logger
}

// NewEngineService creates an EngineService. runCtx bounds the detection
// loop of every Start, independent of the request that triggered it.
func NewEngineService(
	runCtx context.Context,
	engine Engine,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *EngineService {
	logger = logger.With(slog.String("component", "engine_service"))
	return &EngineService{
		engine:   engine,
		runCtx:   runCtx,
		audit:    audit,
		notifier: notifier,
		out:      publisher{logger: logger},
		logger:   logger,
	}
}

// Running reports whether detection is running.
func (s *EngineService) Running() bool { return s.engine.IsRunning() }

// Start starts detection. Starting a running engine is a no-op.
func (s *EngineService) Start(ctx context.Context) error {
	if s.engine.IsRunning() {
		return nil
	}
	if err := s.engine.Start(s.runCtx); err != nil {
		return fmt.Errorf("engine_service: start: %w", err)
	}
	s.record(ctx, "engine_started")
	return nil
}

// Stop stops detection. Stopping a stopped engine is a no-op.
func (s *EngineService) Stop(ctx context.Context) {
	if !s.engine.IsRunning() {
		return
	}
	s.engine.Stop()
	s.record(ctx, "engine_stopped")
}

func (s *EngineService) record(ctx context.Context, event string) {
	s.logger.InfoContext(ctx, event)
	s.out.audit(ctx, s.audit, event, map[string]any{})
	if err := s.notifier.Notify(ctx, notify.EventEngine, event, "arbitrage engine", event); err != nil {
		s.logger.WarnContext(ctx, "engine notification failed", slog.String("error", err.Error()))
	}
}
