package handler

import (
	"net/http"

	"github.com/alanyoungcy/syntharb/internal/domain"
)

// PricingSource provides the results of the latest pricing pass.
type PricingSource interface {
	LatestResults() []domain.PricingResult
}

// PricingHandler serves synthetic pricing results.
type PricingHandler struct {
	pricing PricingSource
}

// NewPricingHandler creates a PricingHandler.
func NewPricingHandler(pricing PricingSource) *PricingHandler {
	return &PricingHandler{pricing: pricing}
}

type pricingResponse struct {
	Results []domain.PricingResult `json:"results"`
	Count   int                    `json:"count"`
}

// ListResults returns the latest pricing results. With success=true only
// usable results are returned.
// GET /api/pricing-results?symbol=BTCUSDT-PERP&exchange=okx&success=true
func (h *PricingHandler) ListResults(w http.ResponseWriter, r *http.Request) {
	exchange, err := exchangeParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	symbol := symbolParam(r)
	onlyUsable := r.URL.Query().Get("success") == "true"

	results := make([]domain.PricingResult, 0)
	for _, res := range h.pricing.LatestResults() {
		if symbol != "" && res.Symbol != symbol {
			continue
		}
		if exchange != "" && res.Exchange != exchange {
			continue
		}
		if onlyUsable && !res.Usable() {
			continue
		}
		results = append(results, res)
	}
	writeJSON(w, http.StatusOK, pricingResponse{Results: results, Count: len(results)})
}
