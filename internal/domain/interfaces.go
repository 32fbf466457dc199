package domain

import (
	"context"
	"time"
)

// Exchange defines the interface for the USDT-M futures exchange.
type Exchange interface {
	GetMarkPrice(ctx context.Context, symbol string) (float64, error)
	GetCandles(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)
	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
	GetBalance(ctx context.Context, asset string) (float64, error)
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	MarketOrder(ctx context.Context, symbol string, side Side, qty float64) error
	// StopMarketClose places a stop-market order that closes the entire
	// position, triggered off mark price.
	StopMarketClose(ctx context.Context, symbol string, side Side, stopPrice float64) error
	LimitReduceOnly(ctx context.Context, symbol string, side Side, qty, price float64) error
	ClosePosition(ctx context.Context, symbol string) error
	CancelAllOrders(ctx context.Context, symbol string) error

	SetLeverage(ctx context.Context, symbol string, leverage int) error
	SetMarginType(ctx context.Context, symbol, marginType string) error
}

// StateRepository persists the per-symbol AgentState.
type StateRepository interface {
	LoadState(ctx context.Context, symbol string) (*AgentState, error)
	SaveState(ctx context.Context, symbol string, state *AgentState) error
}

// TradeRepository records executed trades and reconstructed closed positions.
type TradeRepository interface {
	SaveTrade(ctx context.Context, trade *Trade) error
	ListTrades(ctx context.Context, symbol string, limit int) ([]*Trade, error)
	SavePositionHistory(ctx context.Context, history *PositionHistory) error
	ListPositionHistory(ctx context.Context, symbol string, limit int) ([]*PositionHistory, error)
}

// Command is one inbound operator command from the remote channel.
type Command struct {
	UpdateID int64
	ChatID   int64
	Text     string
	At       time.Time
}

// CommandSource polls the remote command channel. Poll returns the commands
// received after offset from the authorized sender only, together with the
// next offset to persist; unauthorized updates still advance the offset.
type CommandSource interface {
	Poll(ctx context.Context, offset int64) ([]Command, int64, error)
}

// Notifier delivers a human-readable outbound notification. Failures are
// logged by implementations and never propagate into trading logic.
type Notifier interface {
	Notify(msg string)
}
