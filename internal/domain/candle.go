package domain

// Candle is a single kline. Sequences are ordered most-recent-last; the
// final element is the still-forming candle and must be excluded from any
// signal or volatility computation.
type Candle struct {
	Time           int64   `json:"time"` // close time, unix ms
	Open           float64 `json:"open"`
	High           float64 `json:"high"`
	Low            float64 `json:"low"`
	Close          float64 `json:"close"`
	Volume         float64 `json:"volume"`
	TakerBuyVolume float64 `json:"taker_buy_volume"`
}

// Range returns the high-low span of the candle.
func (c Candle) Range() float64 {
	return c.High - c.Low
}

// Body returns the absolute open-close span of the candle.
func (c Candle) Body() float64 {
	if c.Close > c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// Signal is the direction emitted by the signal engine. Derived, never persisted.
type Signal string

const (
	SignalLong  Signal = "LONG"
	SignalShort Signal = "SHORT"
	SignalNone  Signal = "NONE"
)
