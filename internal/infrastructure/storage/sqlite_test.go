package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vitos/orderflow-agent/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLoadStateDefaultsWhenEmpty(t *testing.T) {
	store := newTestStore(t)

	state, err := store.LoadState(context.Background(), "SOLUSDT")
	require.NoError(t, err)
	assert.False(t, state.Paused)
	assert.Zero(t, state.LastCommandOffset)
	assert.True(t, state.CooldownUntil.IsZero())
	assert.Nil(t, state.LastEntry)
}

func TestStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pausedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := &domain.AgentState{
		Paused:             true,
		PausedAt:           &pausedAt,
		CooldownUntil:      pausedAt.Add(3 * time.Minute),
		LastCommandOffset:  1234,
		LastVolBlockNotify: pausedAt.Add(-10 * time.Minute),
		LastErrorNotify:    pausedAt.Add(-5 * time.Minute),
		LastEntry: &domain.EntrySummary{
			Side:  domain.SideLong,
			Price: 100.25,
			Qty:   4.0,
			Time:  pausedAt.Add(-time.Hour),
		},
	}
	require.NoError(t, store.SaveState(ctx, "SOLUSDT", in))

	out, err := store.LoadState(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.True(t, out.Paused)
	require.NotNil(t, out.PausedAt)
	assert.Equal(t, pausedAt.Unix(), out.PausedAt.Unix())
	assert.Equal(t, in.CooldownUntil.Unix(), out.CooldownUntil.Unix())
	assert.Equal(t, int64(1234), out.LastCommandOffset)
	assert.Equal(t, in.LastVolBlockNotify.Unix(), out.LastVolBlockNotify.Unix())
	require.NotNil(t, out.LastEntry)
	assert.Equal(t, domain.SideLong, out.LastEntry.Side)
	assert.Equal(t, 100.25, out.LastEntry.Price)
	assert.Equal(t, 4.0, out.LastEntry.Qty)
}

func TestSaveStateUpserts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, "SOLUSDT", &domain.AgentState{Paused: true, LastCommandOffset: 1}))
	require.NoError(t, store.SaveState(ctx, "SOLUSDT", &domain.AgentState{Paused: false, LastCommandOffset: 2}))

	out, err := store.LoadState(ctx, "SOLUSDT")
	require.NoError(t, err)
	assert.False(t, out.Paused)
	assert.Equal(t, int64(2), out.LastCommandOffset)
	assert.Nil(t, out.LastEntry)
}

func TestStatesAreScopedBySymbol(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveState(ctx, "SOLUSDT", &domain.AgentState{LastCommandOffset: 7}))

	other, err := store.LoadState(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Zero(t, other.LastCommandOffset)
}

func TestTradePersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	trade := &domain.Trade{
		Symbol:    "SOLUSDT",
		Side:      domain.SideLong,
		Qty:       4.0,
		Price:     100.25,
		Kind:      "entry",
		CreatedAt: time.Now(),
	}
	require.NoError(t, store.SaveTrade(ctx, trade))
	assert.NotZero(t, trade.ID)

	trades, err := store.ListTrades(ctx, "SOLUSDT", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "entry", trades[0].Kind)
	assert.Equal(t, domain.SideLong, trades[0].Side)
}

func TestPositionHistoryPersistence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SavePositionHistory(ctx, &domain.PositionHistory{
		Symbol:     "SOLUSDT",
		Side:       domain.SideShort,
		Qty:        4.0,
		EntryPrice: 100,
		ExitPrice:  99.4,
		Outcome:    "profit",
		ClosedAt:   time.Now(),
	}))

	history, err := store.ListPositionHistory(ctx, "SOLUSDT", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "profit", history[0].Outcome)
	assert.Equal(t, domain.SideShort, history[0].Side)
}
