package usecase

import (
	"github.com/vitos/orderflow-agent/internal/domain"
)

const bodyRatioEps = 1e-12

// SignalEngine derives an order-flow entry signal from recent candles.
// Pure: no side effects, no exchange access.
type SignalEngine struct {
	lookback     int
	volumeMult   float64
	minBodyRatio float64
}

func NewSignalEngine(lookback int, volumeMult, minBodyRatio float64) *SignalEngine {
	return &SignalEngine{
		lookback:     lookback,
		volumeMult:   volumeMult,
		minBodyRatio: minBodyRatio,
	}
}

// Evaluate inspects the last closed candle against the volume average of
// the lookback candles preceding it. Candles are most-recent-last with the
// still-forming candle as the final element. Insufficient history is not an
// error; it simply yields no signal.
func (e *SignalEngine) Evaluate(candles []domain.Candle) domain.Signal {
	if len(candles) < e.lookback+2 {
		return domain.SignalNone
	}

	closed := candles[:len(candles)-1] // drop the forming candle
	last := closed[len(closed)-1]
	window := closed[len(closed)-1-e.lookback : len(closed)-1]

	var avgVol float64
	for _, c := range window {
		avgVol += c.Volume
	}
	avgVol /= float64(len(window))

	if last.Volume < avgVol*e.volumeMult {
		return domain.SignalNone
	}

	rng := last.Range()
	if rng < bodyRatioEps {
		rng = bodyRatioEps
	}
	if last.Body()/rng < e.minBodyRatio {
		return domain.SignalNone
	}

	// Aggressor delta over the window plus the trigger candle: taker buys
	// must dominate for a long, taker sells for a short. Feeds without
	// taker volume skip the check rather than suppressing every signal.
	var buy, total float64
	for _, c := range window {
		buy += c.TakerBuyVolume
		total += c.Volume
	}
	buy += last.TakerBuyVolume
	total += last.Volume
	delta := buy - (total - buy)
	haveTakerData := buy > 0

	switch {
	case last.Close > last.Open:
		if haveTakerData && delta <= 0 {
			return domain.SignalNone
		}
		return domain.SignalLong
	case last.Close < last.Open:
		if haveTakerData && delta >= 0 {
			return domain.SignalNone
		}
		return domain.SignalShort
	default:
		// Doji.
		return domain.SignalNone
	}
}
