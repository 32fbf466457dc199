package domain

import "time"

type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// Opposite returns the closing side for a position side.
func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Position represents an open position on the exchange. It is read back
// fresh every loop iteration and never cached across iterations.
type Position struct {
	Symbol        string
	Side          Side
	Amount        float64 // signed: positive long, negative short
	EntryPrice    float64
	MarkPrice     float64
	UnrealizedPnL float64
	Leverage      int
}

// Open reports whether the position has any size.
func (p *Position) Open() bool {
	return p != nil && p.Amount != 0
}

// Qty returns the unsigned position size.
func (p *Position) Qty() float64 {
	if p == nil {
		return 0
	}
	if p.Amount < 0 {
		return -p.Amount
	}
	return p.Amount
}

// EntrySummary is the durable record of the last entry, kept in AgentState
// so a restart can tell how a rediscovered position was opened.
type EntrySummary struct {
	Side  Side      `json:"side"`
	Price float64   `json:"price"`
	Qty   float64   `json:"qty"`
	Time  time.Time `json:"ts"`
}

// Trade is a single executed entry or forced close, recorded for history.
type Trade struct {
	ID        int64
	Symbol    string
	Side      Side
	Qty       float64
	Price     float64
	Kind      string // "entry" or "close"
	CreatedAt time.Time
}

// PositionHistory is a closed position as reconstructed by the agent when
// the exchange reports flat after a protected position.
type PositionHistory struct {
	ID         int64
	Symbol     string
	Side       Side
	Qty        float64
	EntryPrice float64
	ExitPrice  float64
	Outcome    string // "stop", "profit", "forced"
	ClosedAt   time.Time
}
