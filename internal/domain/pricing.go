package domain

import "time"

// CostComponents breaks a synthetic price into its parts.
type CostComponents struct {
	BasePrice         float64 `json:"base_price"`
	FundingAdjustment float64 `json:"funding_adjustment"`
}

// PricingResult is the outcome of pricing one instrument for one cycle. When
// Success is false SyntheticPrice is meaningless and Diagnostic says why.
type PricingResult struct {
	InstrumentID      InstrumentID   `json:"instrument_id"`
	Symbol            string         `json:"symbol"`
	Exchange          Exchange       `json:"exchange"`
	Type              InstrumentType `json:"type"`
	SyntheticPrice    float64        `json:"synthetic_price"`
	Confidence        float64        `json:"confidence"`
	ModelName         string         `json:"model_name"`
	Components        CostComponents `json:"components"`
	Success           bool           `json:"success"`
	Diagnostic        string         `json:"diagnostic,omitempty"`
	CalculationTimeMs float64        `json:"calculation_time_ms"`
	Timestamp         time.Time      `json:"timestamp"`
}

// Usable reports whether the result can anchor a leg.
func (r PricingResult) Usable() bool {
	return r.Success && r.SyntheticPrice > 0
}
