package usecase

import (
	"github.com/vitos/orderflow-agent/internal/domain"
)

// RiskSizer converts configured capital (or a share of the live balance)
// into a filter-conforming order quantity.
type RiskSizer struct {
	capital    float64
	riskPct    float64 // >0 switches to balance-based sizing
	reservePct float64 // clamped to [0, 0.95] by config
	leverage   int
	filters    *domain.SymbolFilters
}

func NewRiskSizer(capital, riskPct, reservePct float64, leverage int, filters *domain.SymbolFilters) *RiskSizer {
	if reservePct < 0 {
		reservePct = 0
	}
	if reservePct > 0.95 {
		reservePct = 0.95
	}
	return &RiskSizer{
		capital:    capital,
		riskPct:    riskPct,
		reservePct: reservePct,
		leverage:   leverage,
		filters:    filters,
	}
}

// UsesBalance reports whether sizing needs the live USDT balance.
func (r *RiskSizer) UsesBalance() bool {
	return r.riskPct > 0
}

// Quantity returns the step-floored order quantity for the given price.
// balance is only consulted in risk mode. A quantity under the exchange
// minimum is rejected with ErrBelowMinQty, never silently substituted.
func (r *RiskSizer) Quantity(price, balance float64) (float64, error) {
	usable := r.capital
	if r.riskPct > 0 {
		usable = balance * (r.riskPct / 100)
	}
	if r.reservePct > 0 {
		usable *= 1 - r.reservePct
	}

	notional := usable * float64(r.leverage)
	raw := notional / price
	qty := r.filters.FloorQty(raw)
	if qty < r.filters.MinQty || qty <= 0 {
		return 0, domain.ErrBelowMinQty
	}
	return qty, nil
}
