package usecase

import (
	"github.com/vitos/orderflow-agent/internal/domain"
)

// VolatilityGate blocks entries in dead or non-expanding markets. A block
// is non-fatal; it only withholds the signal evaluation for the iteration.
type VolatilityGate struct {
	lookback       int
	rangeMult      float64
	minAvgRangePct float64
}

func NewVolatilityGate(lookback int, rangeMult, minAvgRangePct float64) *VolatilityGate {
	return &VolatilityGate{
		lookback:       lookback,
		rangeMult:      rangeMult,
		minAvgRangePct: minAvgRangePct,
	}
}

// Check returns whether the gate passes plus both range metrics for
// diagnostics. avgRange is the mean high-low span of the lookback closed
// candles preceding the last closed candle; lastRange is the span of the
// last closed candle.
func (g *VolatilityGate) Check(candles []domain.Candle, price float64) (bool, float64, float64) {
	if len(candles) < g.lookback+2 {
		return false, 0, 0
	}

	closed := candles[:len(candles)-1]
	last := closed[len(closed)-1]
	window := closed[len(closed)-1-g.lookback : len(closed)-1]

	var avgRange float64
	for _, c := range window {
		avgRange += c.Range()
	}
	avgRange /= float64(len(window))
	lastRange := last.Range()

	if avgRange <= 0 || lastRange <= 0 {
		return false, avgRange, lastRange
	}
	// Floor against dead/illiquid markets.
	if avgRange < price*g.minAvgRangePct {
		return false, avgRange, lastRange
	}
	// Expansion against chop.
	if lastRange < avgRange*g.rangeMult {
		return false, avgRange, lastRange
	}
	return true, avgRange, lastRange
}
