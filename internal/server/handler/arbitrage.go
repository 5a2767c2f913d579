package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// OpportunitySource is the read side of the detection engine.
type OpportunitySource interface {
	LatestOpportunities() []domain.Opportunity
	PerformanceMetrics() domain.PerformanceMetrics
}

// EngineController starts and stops detection.
type EngineController interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context)
	Running() bool
}

// ArbHandler serves arbitrage-related HTTP endpoints.
type ArbHandler struct {
	source  OpportunitySource
	control EngineController
	logger  *slog.Logger
}

// NewArbHandler creates an ArbHandler with the given source, controller and logger.
func NewArbHandler(source OpportunitySource, control EngineController, logger *slog.Logger) *ArbHandler {
	return &ArbHandler{source: source, control: control, logger: logger}
}

// listOpportunitiesResponse wraps the list opportunities response.
type listOpportunitiesResponse struct {
	Opportunities []domain.Opportunity `json:"opportunities"`
	Count         int                  `json:"count"`
}

// ListOpportunities returns the opportunities of the latest detection cycle,
// best first.
// GET /api/opportunities?limit=20&strategy=CROSS_EXCHANGE
func (h *ArbHandler) ListOpportunities(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 0, 500)
	strategy := domain.StrategyType(strings.ToUpper(r.URL.Query().Get("strategy")))

	opps := make([]domain.Opportunity, 0)
	for _, o := range h.source.LatestOpportunities() {
		if strategy != "" && o.Strategy != strategy {
			continue
		}
		opps = append(opps, o)
		if limit > 0 && len(opps) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, listOpportunitiesResponse{Opportunities: opps, Count: len(opps)})
}

// Metrics returns the engine's performance counters.
// GET /api/arbitrage/metrics
func (h *ArbHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.source.PerformanceMetrics())
}

type controlRequest struct {
	Action string `json:"action"`
}

// Control starts or stops the detection loop.
// POST /api/arbitrage/control {"action":"start"|"stop"}
func (h *ArbHandler) Control(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "start":
		if err := h.control.Start(r.Context()); err != nil {
			h.logger.ErrorContext(r.Context(), "handler: start engine failed",
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to start engine")
			return
		}
	case "stop":
		h.control.Stop(r.Context())
	default:
		writeError(w, http.StatusBadRequest, `action must be "start" or "stop"`)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"running": h.control.Running()})
}
