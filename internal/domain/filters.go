package domain

import (
	"math"
	"strconv"
)

// SymbolFilters are the exchange trading filters for a symbol, fetched once
// at startup. Every price and quantity sent to the exchange must be a
// multiple of the tick/step below, or the exchange rejects the order.
type SymbolFilters struct {
	Symbol   string
	TickSize float64
	StepSize float64
	MinQty   float64
}

// roundEps absorbs float64 noise so that an already-aligned value rounds to
// itself instead of dropping one increment.
const roundEps = 1e-9

// FloorQty rounds a quantity down to the nearest step multiple.
func (f *SymbolFilters) FloorQty(qty float64) float64 {
	if f.StepSize <= 0 {
		return qty
	}
	steps := math.Floor(qty/f.StepSize + roundEps)
	return steps * f.StepSize
}

// FloorPrice rounds a price down to the nearest tick multiple.
func (f *SymbolFilters) FloorPrice(price float64) float64 {
	if f.TickSize <= 0 {
		return price
	}
	ticks := math.Floor(price/f.TickSize + roundEps)
	return ticks * f.TickSize
}

// CeilPrice rounds a price up to the nearest tick multiple.
func (f *SymbolFilters) CeilPrice(price float64) float64 {
	if f.TickSize <= 0 {
		return price
	}
	ticks := math.Ceil(price/f.TickSize - roundEps)
	return ticks * f.TickSize
}

// FormatQty renders a quantity with exactly the precision implied by the
// step size (step 0.001 -> 3 decimals).
func (f *SymbolFilters) FormatQty(qty float64) string {
	return strconv.FormatFloat(qty, 'f', decimalsOf(f.StepSize), 64)
}

// FormatPrice renders a price with the precision implied by the tick size.
func (f *SymbolFilters) FormatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', decimalsOf(f.TickSize), 64)
}

func decimalsOf(increment float64) int {
	if increment <= 0 {
		return 8
	}
	decimals := 0
	for increment < 1-roundEps && decimals < 8 {
		increment *= 10
		decimals++
	}
	return decimals
}
