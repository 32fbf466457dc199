package usecase

import (
	"math"

	"github.com/vitos/orderflow-agent/internal/domain"
)

// CalculateATR returns the Average True Range over the last period candles:
// a simple average of max(high-low, |high-prevClose|, |low-prevClose|).
// Returns 0 when there is not enough history.
func CalculateATR(candles []domain.Candle, period int) float64 {
	if period <= 0 || len(candles) < period+1 {
		return 0
	}

	var sum float64
	start := len(candles) - period
	for i := start; i < len(candles); i++ {
		highLow := candles[i].High - candles[i].Low
		highClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowClose := math.Abs(candles[i].Low - candles[i-1].Close)
		sum += math.Max(highLow, math.Max(highClose, lowClose))
	}
	return sum / float64(period)
}
