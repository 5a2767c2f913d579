package handler

import (
	"net/http"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// MarketSource provides the latest market data snapshot.
type MarketSource interface {
	MarketData() domain.MarketData
}

// MarketHandler serves market data endpoints.
type MarketHandler struct {
	market MarketSource
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(market MarketSource) *MarketHandler {
	return &MarketHandler{market: market}
}

type marketDataResponse struct {
	Points []domain.MarketDataPoint `json:"points"`
	Count  int                      `json:"count"`
}

// ListMarketData returns the latest point per instrument and exchange.
// GET /api/market-data?symbol=BTCUSDT&exchange=binance
func (h *MarketHandler) ListMarketData(w http.ResponseWriter, r *http.Request) {
	exchange, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := symbolParam(r)

	points := make([]domain.MarketDataPoint, 0)
	for _, p := range h.market.MarketData().Points() {
		if symbol != "" && p.Symbol != symbol {
			continue
		}
		if exchange != "" && p.Exchange != exchange {
			continue
		}
		points = append(points, p)
	}
	writeJSON(w, http.StatusOK, marketDataResponse{Points: points, Count: len(points)})
}
