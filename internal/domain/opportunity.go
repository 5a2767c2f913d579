package domain

import (
	"time"

	"github.com/google/uuid"
)

// ArbitrageConfig holds the acceptance thresholds of the detection engine.
// Percent values are in percent units: 0.01 means 0.01%.
type ArbitrageConfig struct {
	MinProfitThresholdUSD     float64 `json:"min_profit_threshold_usd"`
	MinProfitThresholdPercent float64 `json:"min_profit_threshold_percent"`
	MinConfidenceScore        float64 `json:"min_confidence_score"`
	MaxPositionSizeUSD        float64 `json:"max_position_size_usd"`
}

// StrategyType names the mispricing an opportunity exploits.
type StrategyType string

const (
	StrategySpotPerp      StrategyType = "SPOT_PERP"
	StrategyFundingRate   StrategyType = "FUNDING_RATE"
	StrategyCrossExchange StrategyType = "CROSS_EXCHANGE"
	StrategyBasis         StrategyType = "BASIS"
	StrategyVolatility    StrategyType = "VOLATILITY"
	StrategyStatistical   StrategyType = "STATISTICAL"
)

// Leg is one side of an opportunity.
// Deviation is (Price - SyntheticPrice) / SyntheticPrice.
type Leg struct {
	Symbol         string         `json:"symbol"`
	Type           InstrumentType `json:"type"`
	Exchange       Exchange       `json:"exchange"`
	Price          float64        `json:"price"`
	SyntheticPrice float64        `json:"synthetic_price"`
	Deviation      float64        `json:"deviation"`
	Action         Side           `json:"action"`
	Quantity       float64        `json:"quantity"`
	Weight         float64        `json:"weight"`
}

// Notional returns the USD value of the leg.
func (l Leg) Notional() float64 { return l.Price * l.Quantity }

// Opportunity is a scored multi-leg trade candidate. Opportunities are built
// once per detection cycle and never modified afterwards.
type Opportunity struct {
	ID                uuid.UUID    `json:"id"`
	Strategy          StrategyType `json:"strategy"`
	Underlying        string       `json:"underlying"`
	Legs              []Leg        `json:"legs"`
	ExpectedProfitPct float64      `json:"expected_profit_pct"`
	ExpectedProfitUSD float64      `json:"expected_profit_usd"`
	RequiredCapital   float64      `json:"required_capital"`
	RiskScore         float64      `json:"risk_score"`
	Confidence        float64      `json:"confidence"`
	DetectedAt        time.Time    `json:"detected_at"`
}

// NetExposure returns signed USD exposure across legs: buys add, sells
// subtract. Pure arbitrage candidates stay close to zero.
func (o Opportunity) NetExposure() float64 {
	var net float64
	for _, l := range o.Legs {
		if l.Action == SideBuy {
			net += l.Notional()
		} else {
			net -= l.Notional()
		}
	}
	return net
}

// PerformanceMetrics is a point-in-time copy of the engine's counters.
type PerformanceMetrics struct {
	DetectionCycles        int64   `json:"detection_cycles"`
	OpportunitiesDetected  int64   `json:"opportunities_detected"`
	OpportunitiesValidated int64   `json:"opportunities_validated"`
	TotalExpectedProfitUSD float64 `json:"total_expected_profit_usd"`
	AvgDetectionLatencyMs  float64 `json:"avg_detection_latency_ms"`
	LastDetectionLatencyMs float64 `json:"last_detection_latency_ms"`
	FailedDetectionCycles  int64   `json:"failed_detection_cycles"`
}
