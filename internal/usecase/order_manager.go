package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vitos/orderflow-agent/internal/domain"
	"go.uber.org/zap"
)

// atrStopFactor scales ATR into a stop distance before the percentage
// floor is applied.
const atrStopFactor = 0.6

// OrderManagerConfig carries the protective-order parameters.
type OrderManagerConfig struct {
	Symbol           string
	ATRTimeframe     string
	ATRPeriod        int
	MinSLDistancePct float64
	MinProfitUSD     float64
	TargetsUSD       []float64
	Shares           []float64 // normalized, sums to 1
	ConfirmWait      time.Duration
}

// OrderManager is the single authority that opens a market entry and
// immediately attaches the stop-loss and take-profit ladder. A filled
// position is never knowingly left without at least a stop-loss order.
type OrderManager struct {
	exchange domain.Exchange
	trades   domain.TradeRepository
	filters  *domain.SymbolFilters
	sizer    *RiskSizer
	cfg      OrderManagerConfig
	logger   *zap.Logger

	sleep func(time.Duration) // injected for tests
}

func NewOrderManager(
	exchange domain.Exchange,
	trades domain.TradeRepository,
	filters *domain.SymbolFilters,
	sizer *RiskSizer,
	cfg OrderManagerConfig,
	logger *zap.Logger,
) *OrderManager {
	return &OrderManager{
		exchange: exchange,
		trades:   trades,
		filters:  filters,
		sizer:    sizer,
		cfg:      cfg,
		logger:   logger,
		sleep:    time.Sleep,
	}
}

// Open runs the entry protocol: cancel stray orders, submit the market
// entry, confirm the fill with one bounded wait, then attach protection.
// A PartialProtectionError means the position exists but protection is
// incomplete; the caller must schedule a re-attach.
func (m *OrderManager) Open(ctx context.Context, signal domain.Signal) (*domain.Position, error) {
	// Defensive cleanup from a previous crash.
	if err := m.exchange.CancelAllOrders(ctx, m.cfg.Symbol); err != nil {
		return nil, fmt.Errorf("cancel stray orders: %w", err)
	}

	price, err := m.exchange.GetMarkPrice(ctx, m.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("mark price: %w", err)
	}

	var balance float64
	if m.sizer.UsesBalance() {
		balance, err = m.exchange.GetBalance(ctx, "USDT")
		if err != nil {
			return nil, fmt.Errorf("balance: %w", err)
		}
	}

	qty, err := m.sizer.Quantity(price, balance)
	if err != nil {
		return nil, err
	}

	side := domain.SideLong
	if signal == domain.SignalShort {
		side = domain.SideShort
	}

	if err := m.exchange.MarketOrder(ctx, m.cfg.Symbol, side, qty); err != nil {
		return nil, fmt.Errorf("entry order: %w", err)
	}

	// One fixed delay then one read, not a busy spin.
	m.sleep(m.cfg.ConfirmWait)
	pos, err := m.exchange.GetPosition(ctx, m.cfg.Symbol)
	if err != nil {
		return nil, fmt.Errorf("position after entry: %w", err)
	}
	if !pos.Open() {
		return nil, domain.ErrNoPositionAfterEntry
	}

	if err := m.trades.SaveTrade(ctx, &domain.Trade{
		Symbol:    m.cfg.Symbol,
		Side:      pos.Side,
		Qty:       pos.Qty(),
		Price:     pos.EntryPrice,
		Kind:      "entry",
		CreatedAt: time.Now(),
	}); err != nil {
		m.logger.Warn("failed to record entry trade", zap.Error(err))
	}

	if err := m.protect(ctx, pos); err != nil {
		return pos, err
	}
	return pos, nil
}

// EnsureProtection re-attaches the full protective order set to an already
// open position: after a restart, or after a partial placement failure.
// Resting orders are cancelled first so nothing is doubled up.
func (m *OrderManager) EnsureProtection(ctx context.Context, pos *domain.Position) error {
	if err := m.exchange.CancelAllOrders(ctx, m.cfg.Symbol); err != nil {
		return fmt.Errorf("cancel before re-protect: %w", err)
	}
	return m.protect(ctx, pos)
}

// ForceClose flattens the position with a reduce-only market order and
// cancels the resting protection. Used by the operator /close command.
func (m *OrderManager) ForceClose(ctx context.Context, pos *domain.Position) error {
	if err := m.exchange.ClosePosition(ctx, m.cfg.Symbol); err != nil {
		return fmt.Errorf("force close: %w", err)
	}
	if err := m.exchange.CancelAllOrders(ctx, m.cfg.Symbol); err != nil {
		m.logger.Warn("failed to cancel protection after force close", zap.Error(err))
	}
	now := time.Now()
	if err := m.trades.SaveTrade(ctx, &domain.Trade{
		Symbol:    m.cfg.Symbol,
		Side:      pos.Side.Opposite(),
		Qty:       pos.Qty(),
		Price:     pos.MarkPrice,
		Kind:      "close",
		CreatedAt: now,
	}); err != nil {
		m.logger.Warn("failed to record close trade", zap.Error(err))
	}
	if err := m.trades.SavePositionHistory(ctx, &domain.PositionHistory{
		Symbol:     m.cfg.Symbol,
		Side:       pos.Side,
		Qty:        pos.Qty(),
		EntryPrice: pos.EntryPrice,
		ExitPrice:  pos.MarkPrice,
		Outcome:    "forced",
		ClosedAt:   now,
	}); err != nil {
		m.logger.Warn("failed to record position history", zap.Error(err))
	}
	return nil
}

func (m *OrderManager) protect(ctx context.Context, pos *domain.Position) error {
	stopPrice, err := m.stopPrice(ctx, pos)
	if err != nil {
		return &domain.PartialProtectionError{Stage: "stop-loss", Err: err}
	}
	if err := m.exchange.StopMarketClose(ctx, m.cfg.Symbol, pos.Side.Opposite(), stopPrice); err != nil {
		return &domain.PartialProtectionError{Stage: "stop-loss", Err: err}
	}
	m.logger.Info("stop-loss placed",
		zap.String("symbol", m.cfg.Symbol),
		zap.Float64("stop_price", stopPrice),
		zap.Float64("entry_price", pos.EntryPrice))

	if err := m.placeLadder(ctx, pos); err != nil {
		return &domain.PartialProtectionError{Stage: "take-profit", Err: err}
	}
	return nil
}

// StopDistance is the stop-loss offset from entry: the larger of a
// volatility-scaled distance and a percentage floor, so stops never sit
// unrealistically close in low-ATR regimes.
func (m *OrderManager) StopDistance(atr, entryPrice float64) float64 {
	return math.Max(atr*atrStopFactor, entryPrice*m.cfg.MinSLDistancePct)
}

func (m *OrderManager) stopPrice(ctx context.Context, pos *domain.Position) (float64, error) {
	candles, err := m.exchange.GetCandles(ctx, m.cfg.Symbol, m.cfg.ATRTimeframe, m.cfg.ATRPeriod+2)
	if err != nil {
		return 0, fmt.Errorf("atr candles: %w", err)
	}
	atr := CalculateATR(candles, m.cfg.ATRPeriod)
	dist := m.StopDistance(atr, pos.EntryPrice)

	// Round toward the entry so the distance is floored, never widened.
	if pos.Side == domain.SideLong {
		return m.filters.CeilPrice(pos.EntryPrice - dist), nil
	}
	return m.filters.FloorPrice(pos.EntryPrice + dist), nil
}

// Ladder distributes the filled quantity across the configured profit
// targets. The final rung absorbs the rounding remainder so the rung sum
// equals the filled quantity exactly.
type LadderRung struct {
	Price float64
	Qty   float64
}

// BuildLadder computes the rung prices and quantities for a filled
// position. Exposed for tests; placement happens in placeLadder.
func (m *OrderManager) BuildLadder(pos *domain.Position) []LadderRung {
	targets := make([]float64, len(m.cfg.TargetsUSD))
	copy(targets, m.cfg.TargetsUSD)
	if len(targets) > 0 && targets[0] < m.cfg.MinProfitUSD {
		targets[0] = m.cfg.MinProfitUSD
	}

	total := pos.Qty()
	rungs := make([]LadderRung, 0, len(targets))
	var placed float64
	for i, target := range targets {
		var price float64
		if pos.Side == domain.SideLong {
			price = m.filters.FloorPrice(pos.EntryPrice + target)
		} else {
			price = m.filters.CeilPrice(pos.EntryPrice - target)
		}

		var qty float64
		if i == len(targets)-1 {
			qty = total - placed
		} else {
			qty = m.filters.FloorQty(total * m.cfg.Shares[i])
		}
		placed += qty

		rungs = append(rungs, LadderRung{Price: price, Qty: qty})
	}
	return rungs
}

func (m *OrderManager) placeLadder(ctx context.Context, pos *domain.Position) error {
	closeSide := pos.Side.Opposite()
	for i, rung := range m.BuildLadder(pos) {
		if rung.Qty <= 0 {
			continue
		}
		if err := m.exchange.LimitReduceOnly(ctx, m.cfg.Symbol, closeSide, rung.Qty, rung.Price); err != nil {
			return fmt.Errorf("rung %d: %w", i+1, err)
		}
		m.logger.Info("take-profit rung placed",
			zap.Int("rung", i+1),
			zap.Float64("price", rung.Price),
			zap.Float64("qty", rung.Qty))
	}
	return nil
}
