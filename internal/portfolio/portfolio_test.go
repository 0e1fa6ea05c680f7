package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
)

func testManager(maxConcurrent int) (*Manager, *time.Time) {
	cfg := config.Default().Portfolio
	cfg.MaxConcurrent = maxConcurrent
	cfg.RebalanceCooldown = 10 * time.Minute
	cfg.MinPositionAge = 30 * time.Minute
	cfg.MinAdvantage = 15

	m := NewManager(cfg)
	current := time.Now()
	m.now = func() time.Time { return current }
	return m, &current
}

func TestAdd_CapacityAndDuplicates(t *testing.T) {
	m, now := testManager(2)

	require.NoError(t, m.Add(Position{Mint: "A", Score: 6, EntryPrice: 1, OpenedAt: *now}))
	assert.ErrorIs(t, m.Add(Position{Mint: "A", Score: 6, EntryPrice: 1, OpenedAt: *now}), ErrExists)

	require.NoError(t, m.Add(Position{Mint: "B", Score: 8, EntryPrice: 1, OpenedAt: *now}))
	assert.ErrorIs(t, m.Add(Position{Mint: "C", Score: 9, EntryPrice: 1, OpenedAt: *now}), ErrFull)
	assert.True(t, m.Full())
}

func TestMomentum_Formula(t *testing.T) {
	m, now := testManager(3)

	opened := now.Add(-2 * time.Hour)
	require.NoError(t, m.Add(Position{Mint: "A", Score: 8, EntryPrice: 1.0, OpenedAt: opened}))
	m.SyncPrice("A", 1.30)

	// pnl 30 + (8-5)*4 - min(2h*2, 10) = 30 + 12 - 4 = 38
	momentum, held := m.Momentum("A")
	require.True(t, held)
	assert.InDelta(t, 38.0, momentum, 1e-9)

	// Age drag caps at 10.
	*now = now.Add(48 * time.Hour)
	momentum, _ = m.Momentum("A")
	assert.InDelta(t, 32.0, momentum, 1e-9)

	_, held = m.Momentum("Z")
	assert.False(t, held)
}

// Mirrors the full-book displacement case: a weak loser and a strong winner,
// then a top-score smart-money signal arrives.
func TestEvaluateRebalance_PicksWeakestAgedVictim(t *testing.T) {
	m, now := testManager(2)

	opened := now.Add(-1 * time.Hour)
	require.NoError(t, m.Add(Position{Mint: "A", Score: 6, EntryPrice: 1.0, OpenedAt: opened}))
	require.NoError(t, m.Add(Position{Mint: "B", Score: 8, EntryPrice: 1.0, OpenedAt: opened}))
	m.SyncPrice("A", 0.80) // -20%
	m.SyncPrice("B", 1.30) // +30%

	victim, reason, ok := m.EvaluateRebalance(10, string(scoring.ConvictionHCSmartMoney))
	require.True(t, ok, "reason: %s", reason)
	assert.Equal(t, "A", victim)
	assert.Contains(t, reason, "advantage")

	require.NoError(t, m.ExecuteRebalance(victim, Position{Mint: "C", Score: 10, EntryPrice: 2.0, OpenedAt: *now}))
	assert.False(t, m.Held("A"))
	assert.True(t, m.Held("B"))
	assert.True(t, m.Held("C"))

	s := m.Snapshot()
	assert.Equal(t, 1, s.Rebalances)
}

func TestEvaluateRebalance_Refusals(t *testing.T) {
	m, now := testManager(2)
	opened := now.Add(-1 * time.Hour)

	// Not full: normal add path instead.
	require.NoError(t, m.Add(Position{Mint: "A", Score: 6, EntryPrice: 1.0, OpenedAt: opened}))
	_, reason, ok := m.EvaluateRebalance(10, string(scoring.ConvictionHCStrict))
	assert.False(t, ok)
	assert.Equal(t, "not full", reason)

	require.NoError(t, m.Add(Position{Mint: "B", Score: 8, EntryPrice: 1.0, OpenedAt: opened}))

	// Too-young positions are never displaced.
	young, _ := testManager(1)
	require.NoError(t, young.Add(Position{Mint: "Y", Score: 5, EntryPrice: 1.0, OpenedAt: young.now()}))
	_, reason, ok = young.EvaluateRebalance(10, string(scoring.ConvictionHCStrict))
	assert.False(t, ok)
	assert.Contains(t, reason, "old enough")

	// Insufficient advantage.
	m.SyncPrice("A", 1.50)
	m.SyncPrice("B", 1.60)
	_, reason, ok = m.EvaluateRebalance(7, "Nuanced")
	assert.False(t, ok)
	assert.Contains(t, reason, "advantage")

	assert.Positive(t, m.Snapshot().Rejections)
}

func TestEvaluateRebalance_CooldownBetweenRebalances(t *testing.T) {
	m, now := testManager(1)
	opened := now.Add(-1 * time.Hour)
	require.NoError(t, m.Add(Position{Mint: "A", Score: 5, EntryPrice: 1.0, OpenedAt: opened}))
	m.SyncPrice("A", 0.70)

	victim, _, ok := m.EvaluateRebalance(10, string(scoring.ConvictionHCSmartMoney))
	require.True(t, ok)
	require.NoError(t, m.ExecuteRebalance(victim, Position{Mint: "B", Score: 10, EntryPrice: 1.0, OpenedAt: now.Add(-time.Hour)}))

	m.SyncPrice("B", 0.50)
	_, reason, ok := m.EvaluateRebalance(10, string(scoring.ConvictionHCSmartMoney))
	assert.False(t, ok)
	assert.Contains(t, reason, "cooldown")

	*now = now.Add(11 * time.Minute)
	_, _, ok = m.EvaluateRebalance(10, string(scoring.ConvictionHCSmartMoney))
	assert.True(t, ok)
}

func TestExecuteRebalance_BookConsistency(t *testing.T) {
	m, now := testManager(2)
	opened := now.Add(-time.Hour)
	require.NoError(t, m.Add(Position{Mint: "A", Score: 5, EntryPrice: 1.0, OpenedAt: opened}))

	assert.ErrorIs(t, m.ExecuteRebalance("Z", Position{Mint: "C", EntryPrice: 1}), ErrNotHeld)
	assert.ErrorIs(t, m.ExecuteRebalance("A", Position{Mint: "A", EntryPrice: 1}), ErrExists)
	assert.True(t, m.Held("A"))
}

func TestSnapshot_AvgPnL(t *testing.T) {
	m, now := testManager(3)
	require.NoError(t, m.Add(Position{Mint: "A", Score: 5, EntryPrice: 1.0, OpenedAt: *now}))
	require.NoError(t, m.Add(Position{Mint: "B", Score: 5, EntryPrice: 2.0, OpenedAt: *now}))
	m.SyncPrice("A", 1.20) // +20%
	m.SyncPrice("B", 1.80) // -10%

	s := m.Snapshot()
	assert.Equal(t, 2, s.Used)
	assert.Equal(t, 3, s.Capacity)
	assert.InDelta(t, 5.0, s.AvgPnLPct, 1e-9)
}
