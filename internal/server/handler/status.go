package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// EngineState is the read side of the detection engine used by the status
// endpoint.
type EngineState interface {
	IsRunning() bool
	Config() domain.ArbitrageConfig
}

// StatusHandler serves the backend status for the dashboard.
type StatusHandler struct {
	mode        string
	strategies  []domain.StrategyType
	instruments int
	startedAt   time.Time
	engine      EngineState
	market      MarketSource
	now         func() time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, strategies []domain.StrategyType, instruments int, engine EngineState, market MarketSource) *StatusHandler {
	return &StatusHandler{
		mode:        mode,
		strategies:  strategies,
		instruments: instruments,
		startedAt:   time.Now().UTC(),
		engine:      engine,
		market:      market,
		now:         time.Now,
	}
}

// GetStatus responds with the mode, uptime and engine state.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.Format(time.RFC3339),
		"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
		"engine_running": h.engine.IsRunning(),
		"strategies":     h.strategies,
		"instruments":    h.instruments,
		"market_points":  len(h.market.MarketData()),
		"config":         h.engine.Config(),
	})
}
