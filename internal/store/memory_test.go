package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_AlertDedup(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	alerted, err := m.HasBeenAlerted(ctx, "MintA")
	require.NoError(t, err)
	assert.False(t, alerted)

	rec := AlertedToken{Mint: "MintA", FirstAlertAt: time.Now(), FinalScore: 8.5, Conviction: "HC-Strict"}
	require.NoError(t, m.MarkAlerted(ctx, rec))

	alerted, err = m.HasBeenAlerted(ctx, "MintA")
	require.NoError(t, err)
	assert.True(t, alerted)

	assert.ErrorIs(t, m.MarkAlerted(ctx, rec), ErrDuplicateKey)
	assert.ErrorIs(t, m.MarkAlerted(ctx, AlertedToken{}), ErrInvalidInput)
}

func TestMemory_AlertStatsUpsert(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.GetAlertStats(ctx, "MintA")
	assert.ErrorIs(t, err, ErrNotFound)

	s := AlertStats{Mint: "MintA", FirstPrice: 0.001, LastPrice: 0.001, PeakPrice: 0.001}
	require.NoError(t, m.UpsertAlertStats(ctx, s))

	s.LastPrice = 0.002
	s.PeakPrice = 0.002
	s.TimeToPeak = 90 * time.Minute
	s.Outcome = "2x"
	require.NoError(t, m.UpsertAlertStats(ctx, s))

	got, err := m.GetAlertStats(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, 0.002, got.PeakPrice)
	assert.Equal(t, "2x", got.Outcome)
}

func TestMemory_ActivityWindowAndFirstSeen(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	old := Activity{Mint: "MintA", TS: now.Add(-2 * time.Hour), USDValue: 500}
	recent1 := Activity{Mint: "MintA", TS: now.Add(-10 * time.Minute), USDValue: 1200, SmartMoney: true}
	recent2 := Activity{Mint: "MintA", TS: now.Add(-2 * time.Minute), USDValue: 3000}
	other := Activity{Mint: "MintB", TS: now, USDValue: 900}
	for _, a := range []Activity{old, recent1, recent2, other} {
		require.NoError(t, m.RecordActivity(ctx, a))
	}

	obs, err := m.RecentObservations(ctx, "MintA", 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	assert.True(t, obs[0].TS.Before(obs[1].TS))
	assert.True(t, obs[0].SmartMoney)

	first, err := m.FirstSeen(ctx, "MintA")
	require.NoError(t, err)
	assert.WithinDuration(t, old.TS, first, time.Second)

	_, err = m.FirstSeen(ctx, "MintC")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_PruneOlderThan(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	now := time.Now()
	require.NoError(t, m.RecordActivity(ctx, Activity{Mint: "MintA", TS: now.Add(-48 * time.Hour)}))
	require.NoError(t, m.RecordActivity(ctx, Activity{Mint: "MintA", TS: now.Add(-1 * time.Hour)}))

	removed, err := m.PruneOlderThan(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	obs, err := m.RecentObservations(ctx, "MintA", 72*time.Hour)
	require.NoError(t, err)
	assert.Len(t, obs, 1)
}

func TestMemory_OneOpenPositionPerMint(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p1 := Position{
		ID:         uuid.NewString(),
		Mint:       "MintA",
		EntryPrice: decimal.RequireFromString("1.00"),
		Quantity:   decimal.RequireFromString("100"),
		EntryUSD:   decimal.RequireFromString("100"),
		PeakPrice:  decimal.RequireFromString("1.00"),
		OpenedAt:   time.Now(),
	}
	require.NoError(t, m.SavePosition(ctx, p1))

	p2 := p1
	p2.ID = uuid.NewString()
	assert.ErrorIs(t, m.SavePosition(ctx, p2), ErrDuplicateKey)

	// Closing the first allows a fresh open for the same mint.
	require.NoError(t, m.ClosePosition(ctx, p1.ID, "stop", time.Now()))
	require.NoError(t, m.SavePosition(ctx, p2))

	open, err := m.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, p2.ID, open[0].ID)
}

func TestMemory_PeakOnlyGrows(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p := Position{
		ID:         uuid.NewString(),
		Mint:       "MintA",
		EntryPrice: decimal.RequireFromString("1.00"),
		Quantity:   decimal.RequireFromString("50"),
		EntryUSD:   decimal.RequireFromString("50"),
		PeakPrice:  decimal.RequireFromString("1.00"),
		OpenedAt:   time.Now(),
	}
	require.NoError(t, m.SavePosition(ctx, p))

	require.NoError(t, m.UpdatePeak(ctx, p.ID, decimal.RequireFromString("1.50")))
	require.NoError(t, m.UpdatePeak(ctx, p.ID, decimal.RequireFromString("1.20")))

	open, err := m.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.True(t, open[0].PeakPrice.Equal(decimal.RequireFromString("1.50")))

	assert.ErrorIs(t, m.UpdatePeak(ctx, uuid.NewString(), decimal.NewFromInt(2)), ErrNotFound)
}

func TestMemory_FillsOrderedByTime(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	posID := uuid.NewString()
	now := time.Now()
	sell := Fill{ID: uuid.NewString(), PositionID: posID, Side: "sell", CreatedAt: now.Add(time.Minute)}
	buy := Fill{ID: uuid.NewString(), PositionID: posID, Side: "buy", CreatedAt: now}
	require.NoError(t, m.RecordFill(ctx, sell))
	require.NoError(t, m.RecordFill(ctx, buy))

	fills, err := m.FillsForPosition(ctx, posID)
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "buy", fills[0].Side)
	assert.Equal(t, "sell", fills[1].Side)
}

func TestMemory_RecentAlertsWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.MarkAlerted(ctx, AlertedToken{Mint: "old", FirstAlertAt: time.Now().Add(-48 * time.Hour)}))
	require.NoError(t, m.MarkAlerted(ctx, AlertedToken{Mint: "mid", FirstAlertAt: time.Now().Add(-2 * time.Hour)}))
	require.NoError(t, m.MarkAlerted(ctx, AlertedToken{Mint: "new", FirstAlertAt: time.Now().Add(-time.Minute)}))

	recent, err := m.RecentAlerts(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "new", recent[0].Mint)
	assert.Equal(t, "mid", recent[1].Mint)
}
