package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vitos/orderflow-agent/internal/domain"
)

// SQLiteStore persists agent state, trades and position history. It backs
// both domain.StateRepository and domain.TradeRepository.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS agent_state (
			symbol TEXT PRIMARY KEY,
			paused BOOLEAN NOT NULL DEFAULT 0,
			paused_at INTEGER,
			cooldown_until INTEGER NOT NULL DEFAULT 0,
			last_command_offset INTEGER NOT NULL DEFAULT 0,
			last_vol_block_notify INTEGER NOT NULL DEFAULT 0,
			last_error_notify INTEGER NOT NULL DEFAULT 0,
			last_entry_side TEXT,
			last_entry_price REAL,
			last_entry_qty REAL,
			last_entry_time INTEGER,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS trades (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			price REAL NOT NULL,
			kind TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);`,
		`CREATE TABLE IF NOT EXISTS position_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			side TEXT NOT NULL,
			qty REAL NOT NULL,
			entry_price REAL NOT NULL,
			exit_price REAL NOT NULL,
			outcome TEXT NOT NULL,
			closed_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_position_history_symbol ON position_history(symbol);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to exec query %s: %w", q, err)
		}
	}
	return nil
}

// LoadState returns the persisted state for the symbol, or a zero state
// when none has been saved yet.
func (s *SQLiteStore) LoadState(ctx context.Context, symbol string) (*domain.AgentState, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT paused, paused_at, cooldown_until, last_command_offset,
		       last_vol_block_notify, last_error_notify,
		       last_entry_side, last_entry_price, last_entry_qty, last_entry_time
		FROM agent_state WHERE symbol = ?`, symbol)

	var (
		state          domain.AgentState
		pausedAt       sql.NullInt64
		cooldownUntil  int64
		volBlockNotify int64
		errorNotify    int64
		entrySide      sql.NullString
		entryPrice     sql.NullFloat64
		entryQty       sql.NullFloat64
		entryTime      sql.NullInt64
	)
	err := row.Scan(&state.Paused, &pausedAt, &cooldownUntil, &state.LastCommandOffset,
		&volBlockNotify, &errorNotify, &entrySide, &entryPrice, &entryQty, &entryTime)
	if err == sql.ErrNoRows {
		return &domain.AgentState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if pausedAt.Valid {
		t := time.Unix(pausedAt.Int64, 0)
		state.PausedAt = &t
	}
	if cooldownUntil > 0 {
		state.CooldownUntil = time.Unix(cooldownUntil, 0)
	}
	if volBlockNotify > 0 {
		state.LastVolBlockNotify = time.Unix(volBlockNotify, 0)
	}
	if errorNotify > 0 {
		state.LastErrorNotify = time.Unix(errorNotify, 0)
	}
	if entrySide.Valid && entryPrice.Valid && entryQty.Valid && entryTime.Valid {
		state.LastEntry = &domain.EntrySummary{
			Side:  domain.Side(entrySide.String),
			Price: entryPrice.Float64,
			Qty:   entryQty.Float64,
			Time:  time.Unix(entryTime.Int64, 0),
		}
	}
	return &state, nil
}

// SaveState upserts the full state row in one statement, so a crash
// between fields can never leave a torn write.
func (s *SQLiteStore) SaveState(ctx context.Context, symbol string, state *domain.AgentState) error {
	var pausedAt sql.NullInt64
	if state.PausedAt != nil {
		pausedAt = sql.NullInt64{Int64: state.PausedAt.Unix(), Valid: true}
	}
	var cooldownUntil, volBlockNotify, errorNotify int64
	if !state.CooldownUntil.IsZero() {
		cooldownUntil = state.CooldownUntil.Unix()
	}
	if !state.LastVolBlockNotify.IsZero() {
		volBlockNotify = state.LastVolBlockNotify.Unix()
	}
	if !state.LastErrorNotify.IsZero() {
		errorNotify = state.LastErrorNotify.Unix()
	}

	var entrySide sql.NullString
	var entryPrice, entryQty sql.NullFloat64
	var entryTime sql.NullInt64
	if state.LastEntry != nil {
		entrySide = sql.NullString{String: string(state.LastEntry.Side), Valid: true}
		entryPrice = sql.NullFloat64{Float64: state.LastEntry.Price, Valid: true}
		entryQty = sql.NullFloat64{Float64: state.LastEntry.Qty, Valid: true}
		entryTime = sql.NullInt64{Int64: state.LastEntry.Time.Unix(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agent_state (
			symbol, paused, paused_at, cooldown_until, last_command_offset,
			last_vol_block_notify, last_error_notify,
			last_entry_side, last_entry_price, last_entry_qty, last_entry_time,
			updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			paused = excluded.paused,
			paused_at = excluded.paused_at,
			cooldown_until = excluded.cooldown_until,
			last_command_offset = excluded.last_command_offset,
			last_vol_block_notify = excluded.last_vol_block_notify,
			last_error_notify = excluded.last_error_notify,
			last_entry_side = excluded.last_entry_side,
			last_entry_price = excluded.last_entry_price,
			last_entry_qty = excluded.last_entry_qty,
			last_entry_time = excluded.last_entry_time,
			updated_at = excluded.updated_at`,
		symbol, state.Paused, pausedAt, cooldownUntil, state.LastCommandOffset,
		volBlockNotify, errorNotify,
		entrySide, entryPrice, entryQty, entryTime,
		time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SaveTrade(ctx context.Context, trade *domain.Trade) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (symbol, side, qty, price, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		trade.Symbol, string(trade.Side), trade.Qty, trade.Price, trade.Kind, trade.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		trade.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context, symbol string, limit int) ([]*domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, qty, price, kind, created_at
		FROM trades WHERE symbol = ?
		ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.Symbol, &side, &t.Qty, &t.Price, &t.Kind, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Side = domain.Side(side)
		t.CreatedAt = time.Unix(createdAt, 0)
		trades = append(trades, &t)
	}
	return trades, rows.Err()
}

func (s *SQLiteStore) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO position_history (symbol, side, qty, entry_price, exit_price, outcome, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		h.Symbol, string(h.Side), h.Qty, h.EntryPrice, h.ExitPrice, h.Outcome, h.ClosedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save position history: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		h.ID = id
	}
	return nil
}

func (s *SQLiteStore) ListPositionHistory(ctx context.Context, symbol string, limit int) ([]*domain.PositionHistory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, symbol, side, qty, entry_price, exit_price, outcome, closed_at
		FROM position_history WHERE symbol = ?
		ORDER BY id DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list position history: %w", err)
	}
	defer rows.Close()

	var history []*domain.PositionHistory
	for rows.Next() {
		var h domain.PositionHistory
		var side string
		var closedAt int64
		if err := rows.Scan(&h.ID, &h.Symbol, &side, &h.Qty, &h.EntryPrice, &h.ExitPrice, &h.Outcome, &closedAt); err != nil {
			return nil, fmt.Errorf("failed to scan position history: %w", err)
		}
		h.Side = domain.Side(side)
		h.ClosedAt = time.Unix(closedAt, 0)
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
