package portfolio

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
	"github.com/spbarathg/callsbotonchain-sub000/internal/scoring"
)

var (
	// ErrFull is returned by Add when the book has no free slot.
	ErrFull = errors.New("portfolio: at capacity")

	// ErrExists is returned by Add when the mint is already held.
	ErrExists = errors.New("portfolio: position exists")

	// ErrNotHeld is returned when the referenced mint is not in the book.
	ErrNotHeld = errors.New("portfolio: position not held")
)

// Position is the manager's lightweight view of an open position. Prices are
// synced periodically by the trader; the manager never fetches anything.
type Position struct {
	Mint         string
	Score        float64
	Conviction   string
	EntryPrice   float64
	CurrentPrice float64
	OpenedAt     time.Time
}

// Stats is the manager's status surface.
type Stats struct {
	Used       int
	Capacity   int
	AvgPnLPct  float64
	Rebalances int
	Rejections int
}

// Manager implements the circle strategy: a bounded book where a strong new
// signal may displace the weakest aged position.
//
// All public methods take the single mutex; internal helpers with the
// -Locked suffix assume it is held and must never call public methods.
type Manager struct {
	cfg config.PortfolioConfig

	mu            sync.Mutex
	positions     map[string]*Position
	lastRebalance time.Time
	rebalances    int
	rejections    int

	now func() time.Time
}

func NewManager(cfg config.PortfolioConfig) *Manager {
	return &Manager{
		cfg:       cfg,
		positions: make(map[string]*Position),
		now:       time.Now,
	}
}

// Add inserts a position if a slot is free.
func (m *Manager) Add(p Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[p.Mint]; held {
		return ErrExists
	}
	if len(m.positions) >= m.cfg.MaxConcurrent {
		return ErrFull
	}
	cp := p
	if cp.CurrentPrice == 0 {
		cp.CurrentPrice = cp.EntryPrice
	}
	m.positions[p.Mint] = &cp
	return nil
}

// Remove drops a position from the book.
func (m *Manager) Remove(mint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, held := m.positions[mint]; !held {
		return ErrNotHeld
	}
	delete(m.positions, mint)
	return nil
}

// SyncPrice updates the cached price for momentum calculations.
func (m *Manager) SyncPrice(mint string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, held := m.positions[mint]; held && price > 0 {
		p.CurrentPrice = price
	}
}

// Full reports whether every slot is taken.
func (m *Manager) Full() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.positions) >= m.cfg.MaxConcurrent
}

// Held reports whether mint is in the book.
func (m *Manager) Held(mint string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, held := m.positions[mint]
	return held
}

// Momentum returns the position's momentum score, or false if not held.
func (m *Manager) Momentum(mint string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, held := m.positions[mint]
	if !held {
		return 0, false
	}
	return m.momentumLocked(p), true
}

// momentumLocked scores a held position: unrealized PnL, signal strength
// above the midpoint, and an age drag capped at 10 points.
func (m *Manager) momentumLocked(p *Position) float64 {
	var pnlPct float64
	if p.EntryPrice > 0 {
		pnlPct = (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
	}
	ageHours := m.now().Sub(p.OpenedAt).Hours()
	drag := ageHours * 2
	if drag > 10 {
		drag = 10
	}
	return pnlPct + (p.Score-5)*4 - drag
}

// newSignalMomentum is the synthetic momentum of an incoming signal with no
// price history: signal strength plus a high-conviction bonus.
func newSignalMomentum(score float64, conviction string) float64 {
	momentum := (score - 5) * 4
	switch scoring.Conviction(conviction) {
	case scoring.ConvictionHCStrict, scoring.ConvictionHCSmartMoney:
		momentum += 10
	}
	return momentum
}

// EvaluateRebalance decides whether a new signal may displace the weakest
// aged position. It never executes anything.
func (m *Manager) EvaluateRebalance(newScore float64, conviction string) (victimMint, reason string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.positions) < m.cfg.MaxConcurrent {
		return "", "not full", false
	}
	if since := m.now().Sub(m.lastRebalance); since < m.cfg.RebalanceCooldown {
		m.rejections++
		return "", fmt.Sprintf("rebalance cooldown %s remaining", m.cfg.RebalanceCooldown-since), false
	}

	victim := m.weakestEligibleLocked()
	if victim == nil {
		m.rejections++
		return "", "no position old enough to displace", false
	}

	newMomentum := newSignalMomentum(newScore, conviction)
	victimMomentum := m.momentumLocked(victim)
	advantage := newMomentum - victimMomentum
	if advantage < m.cfg.MinAdvantage {
		m.rejections++
		return "", fmt.Sprintf("advantage %.1f below %.1f", advantage, m.cfg.MinAdvantage), false
	}

	return victim.Mint, fmt.Sprintf("advantage %.1f over %s", advantage, victim.Mint), true
}

// weakestEligibleLocked picks the lowest-momentum position at least
// MinPositionAge old.
func (m *Manager) weakestEligibleLocked() *Position {
	var weakest *Position
	var weakestMomentum float64
	minAge := m.cfg.MinPositionAge
	now := m.now()

	for _, p := range m.positions {
		if now.Sub(p.OpenedAt) < minAge {
			continue
		}
		momentum := m.momentumLocked(p)
		if weakest == nil || momentum < weakestMomentum {
			weakest = p
			weakestMomentum = momentum
		}
	}
	return weakest
}

// ExecuteRebalance swaps the victim for the new position in the book. The
// caller must have completed the underlying sell and buy first; the book
// mutation itself is atomic.
func (m *Manager) ExecuteRebalance(victimMint string, newPos Position) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, held := m.positions[victimMint]; !held {
		return ErrNotHeld
	}
	if _, held := m.positions[newPos.Mint]; held {
		return ErrExists
	}

	delete(m.positions, victimMint)
	cp := newPos
	if cp.CurrentPrice == 0 {
		cp.CurrentPrice = cp.EntryPrice
	}
	m.positions[newPos.Mint] = &cp
	m.lastRebalance = m.now()
	m.rebalances++

	log.Info().
		Str("victim", victimMint).
		Str("new", newPos.Mint).
		Msg("portfolio: rebalanced")
	return nil
}

// Snapshot returns usage and PnL stats.
func (m *Manager) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Used:       len(m.positions),
		Capacity:   m.cfg.MaxConcurrent,
		Rebalances: m.rebalances,
		Rejections: m.rejections,
	}
	if len(m.positions) > 0 {
		var total float64
		for _, p := range m.positions {
			if p.EntryPrice > 0 {
				total += (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
			}
		}
		s.AvgPnLPct = total / float64(len(m.positions))
	}
	return s
}
