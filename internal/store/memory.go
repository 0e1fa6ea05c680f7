package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Memory implements every store interface in process memory. It backs tests
// and paper-trading runs where no DSN is configured.
type Memory struct {
	mu sync.RWMutex

	alerted    map[string]AlertedToken
	alertStats map[string]AlertStats

	activity   []Activity
	activityID int64

	positions map[string]Position // keyed by position ID
	fills     map[string][]Fill   // keyed by position ID
}

func NewMemory() *Memory {
	return &Memory{
		alerted:    make(map[string]AlertedToken),
		alertStats: make(map[string]AlertStats),
		positions:  make(map[string]Position),
		fills:      make(map[string][]Fill),
	}
}

var (
	_ AlertStore    = (*Memory)(nil)
	_ ActivityStore = (*Memory)(nil)
	_ PositionStore = (*Memory)(nil)
)

// ---------------------------------------------------------------------------
// AlertStore
// ---------------------------------------------------------------------------

func (m *Memory) HasBeenAlerted(_ context.Context, mint string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.alerted[mint]
	return ok, nil
}

func (m *Memory) MarkAlerted(_ context.Context, a AlertedToken) error {
	if a.Mint == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.alerted[a.Mint]; exists {
		return ErrDuplicateKey
	}
	m.alerted[a.Mint] = a
	return nil
}

func (m *Memory) UpsertAlertStats(_ context.Context, s AlertStats) error {
	if s.Mint == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertStats[s.Mint] = s
	return nil
}

func (m *Memory) GetAlertStats(_ context.Context, mint string) (AlertStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.alertStats[mint]
	if !ok {
		return AlertStats{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) RecentAlerts(_ context.Context, window time.Duration) ([]AlertedToken, error) {
	cutoff := time.Now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []AlertedToken
	for _, a := range m.alerted {
		if a.FirstAlertAt.After(cutoff) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].FirstAlertAt.After(result[j].FirstAlertAt)
	})
	return result, nil
}

// ---------------------------------------------------------------------------
// ActivityStore
// ---------------------------------------------------------------------------

func (m *Memory) RecordActivity(_ context.Context, a Activity) error {
	if a.Mint == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activityID++
	a.ID = m.activityID
	m.activity = append(m.activity, a)
	return nil
}

func (m *Memory) RecentObservations(_ context.Context, mint string, window time.Duration) ([]Activity, error) {
	cutoff := time.Now().Add(-window)
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Activity
	for _, a := range m.activity {
		if a.Mint == mint && a.TS.After(cutoff) {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TS.Before(result[j].TS) })
	return result, nil
}

func (m *Memory) FirstSeen(_ context.Context, mint string) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var first time.Time
	for _, a := range m.activity {
		if a.Mint != mint {
			continue
		}
		if first.IsZero() || a.TS.Before(first) {
			first = a.TS
		}
	}
	if first.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return first, nil
}

func (m *Memory) PruneOlderThan(_ context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.activity[:0]
	var removed int64
	for _, a := range m.activity {
		if a.TS.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.activity = kept
	return removed, nil
}

// ---------------------------------------------------------------------------
// PositionStore
// ---------------------------------------------------------------------------

func (m *Memory) SavePosition(_ context.Context, p Position) error {
	if p.ID == "" || p.Mint == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.positions {
		if existing.Mint == p.Mint && existing.Open() {
			return ErrDuplicateKey
		}
	}
	if _, exists := m.positions[p.ID]; exists {
		return ErrDuplicateKey
	}
	m.positions[p.ID] = p
	return nil
}

func (m *Memory) UpdatePeak(_ context.Context, id string, peak decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return ErrNotFound
	}
	if peak.GreaterThan(p.PeakPrice) {
		p.PeakPrice = peak
		m.positions[id] = p
	}
	return nil
}

func (m *Memory) ClosePosition(_ context.Context, id, reason string, closedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.positions[id]
	if !ok {
		return ErrNotFound
	}
	t := closedAt
	p.ClosedAt = &t
	p.CloseReason = reason
	m.positions[id] = p
	return nil
}

// GetPosition returns a position by id, open or closed.
func (m *Memory) GetPosition(_ context.Context, id string) (Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	if !ok {
		return Position{}, ErrNotFound
	}
	return p, nil
}

func (m *Memory) OpenPositions(_ context.Context) ([]Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Position
	for _, p := range m.positions {
		if p.Open() {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].OpenedAt.Before(result[j].OpenedAt) })
	return result, nil
}

func (m *Memory) RecordFill(_ context.Context, f Fill) error {
	if f.ID == "" || f.PositionID == "" {
		return ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills[f.PositionID] = append(m.fills[f.PositionID], f)
	return nil
}

func (m *Memory) FillsForPosition(_ context.Context, positionID string) ([]Fill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	fills := make([]Fill, len(m.fills[positionID]))
	copy(fills, m.fills[positionID])
	sort.Slice(fills, func(i, j int) bool { return fills[i].CreatedAt.Before(fills[j].CreatedAt) })
	return fills, nil
}
