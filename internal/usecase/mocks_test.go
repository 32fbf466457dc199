package usecase

import (
	"context"
	"sync"

	"github.com/vitos/orderflow-agent/internal/domain"
)

type marketOrderCall struct {
	Side domain.Side
	Qty  float64
}

type stopCall struct {
	Side      domain.Side
	StopPrice float64
}

type limitCall struct {
	Side  domain.Side
	Qty   float64
	Price float64
}

// mockExchange scripts exchange responses per call. GetPosition consumes
// the positions queue and repeats the final element once drained.
type mockExchange struct {
	markPrice  float64
	markErr    error
	candles    []domain.Candle
	candlesErr error
	balance    float64
	balanceErr error
	positions  []*domain.Position
	posIdx     int
	posErr     error

	marketErr error
	stopErr   error
	limitErr  error
	cancelErr error

	marketOrders []marketOrderCall
	stops        []stopCall
	limits       []limitCall
	closeCalls   int
	cancelCalls  int
}

func (m *mockExchange) GetMarkPrice(ctx context.Context, symbol string) (float64, error) {
	return m.markPrice, m.markErr
}

func (m *mockExchange) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]domain.Candle, error) {
	return m.candles, m.candlesErr
}

func (m *mockExchange) GetSymbolFilters(ctx context.Context, symbol string) (*domain.SymbolFilters, error) {
	return &domain.SymbolFilters{Symbol: symbol, TickSize: 0.01, StepSize: 0.001, MinQty: 0.001}, nil
}

func (m *mockExchange) GetBalance(ctx context.Context, asset string) (float64, error) {
	return m.balance, m.balanceErr
}

func (m *mockExchange) GetPosition(ctx context.Context, symbol string) (*domain.Position, error) {
	if m.posErr != nil {
		return nil, m.posErr
	}
	if len(m.positions) == 0 {
		return &domain.Position{Symbol: symbol}, nil
	}
	pos := m.positions[m.posIdx]
	if m.posIdx < len(m.positions)-1 {
		m.posIdx++
	}
	return pos, nil
}

func (m *mockExchange) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) error {
	if m.marketErr != nil {
		return m.marketErr
	}
	m.marketOrders = append(m.marketOrders, marketOrderCall{Side: side, Qty: qty})
	return nil
}

func (m *mockExchange) StopMarketClose(ctx context.Context, symbol string, side domain.Side, stopPrice float64) error {
	if m.stopErr != nil {
		return m.stopErr
	}
	m.stops = append(m.stops, stopCall{Side: side, StopPrice: stopPrice})
	return nil
}

func (m *mockExchange) LimitReduceOnly(ctx context.Context, symbol string, side domain.Side, qty, price float64) error {
	if m.limitErr != nil {
		return m.limitErr
	}
	m.limits = append(m.limits, limitCall{Side: side, Qty: qty, Price: price})
	return nil
}

func (m *mockExchange) ClosePosition(ctx context.Context, symbol string) error {
	m.closeCalls++
	return nil
}

func (m *mockExchange) CancelAllOrders(ctx context.Context, symbol string) error {
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.cancelCalls++
	return nil
}

func (m *mockExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (m *mockExchange) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return nil
}

type mockStateRepo struct {
	mu     sync.Mutex
	loaded *domain.AgentState
	saved  []*domain.AgentState
}

func (m *mockStateRepo) LoadState(ctx context.Context, symbol string) (*domain.AgentState, error) {
	if m.loaded == nil {
		return &domain.AgentState{}, nil
	}
	return m.loaded, nil
}

func (m *mockStateRepo) SaveState(ctx context.Context, symbol string, state *domain.AgentState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.saved = append(m.saved, &copied)
	return nil
}

type mockTradeRepo struct {
	trades  []*domain.Trade
	history []*domain.PositionHistory
}

func (m *mockTradeRepo) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	m.trades = append(m.trades, trade)
	return nil
}

func (m *mockTradeRepo) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	return m.trades, nil
}

func (m *mockTradeRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	m.history = append(m.history, h)
	return nil
}

func (m *mockTradeRepo) ListPositionHistory(ctx context.Context, symbol string, limit int) ([]*domain.PositionHistory, error) {
	return m.history, nil
}

type mockNotifier struct {
	msgs []string
}

func (m *mockNotifier) Notify(msg string) {
	m.msgs = append(m.msgs, msg)
}

type mockCommandSource struct {
	commands []domain.Command
	next     int64
	err      error
}

func (m *mockCommandSource) Poll(ctx context.Context, offset int64) ([]domain.Command, int64, error) {
	if m.err != nil {
		return nil, offset, m.err
	}
	commands := m.commands
	m.commands = nil
	next := m.next
	if next < offset {
		next = offset
	}
	return commands, next, nil
}
