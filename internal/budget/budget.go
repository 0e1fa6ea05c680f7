package budget

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"

	"github.com/spbarathg/callsbotonchain-sub000/internal/config"
)

// ---------------------------------------------------------------------------
// Credit budget — rolling minute + UTC day windows, shared across processes
// ---------------------------------------------------------------------------

// Kind identifies what a spend pays for.
type Kind string

const (
	KindFeed  Kind = "feed"
	KindStats Kind = "stats"
)

// Unlimited is the sentinel returned by Remaining* when a cap is zero.
const Unlimited = 1 << 30

// ErrExhausted is returned by Spend when either window lacks credits.
var ErrExhausted = errors.New("budget: exhausted")

// windowState is the durable counter file, shared across processes.
type windowState struct {
	MinuteEpoch int64  `json:"minute_epoch"` // unix minute the counter belongs to
	MinuteCount int    `json:"minute_count"`
	DayUTC      string `json:"day_utc"` // YYYY-MM-DD
	DayCount    int    `json:"day_count"`
}

// Manager enforces per-minute and per-day credit caps. The counter file is
// guarded by an advisory file lock (exclusive across processes) plus a
// process mutex (exclusive across goroutines).
type Manager struct {
	cfg  config.BudgetConfig
	mu   sync.Mutex
	lock *flock.Flock
	now  func() time.Time
}

// New creates a Manager over the configured state file. The lock file lives
// next to the state file with a .lock suffix and carries a PID+host marker
// for diagnostics.
func New(cfg config.BudgetConfig) (*Manager, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o755); err != nil {
		return nil, fmt.Errorf("budget: mkdir state dir: %w", err)
	}
	m := &Manager{
		cfg:  cfg,
		lock: flock.New(cfg.StatePath + ".lock"),
		now:  time.Now,
	}
	if err := m.writeLockMarker(); err != nil {
		log.Warn().Err(err).Msg("budget: could not write lock marker")
	}
	return m, nil
}

// writeLockMarker stamps a fixed 64-byte PID+host header into the lock file.
func (m *Manager) writeLockMarker() error {
	host, _ := os.Hostname()
	marker := fmt.Sprintf("pid=%d host=%s", os.Getpid(), host)
	buf := make([]byte, 64)
	copy(buf, marker)
	return os.WriteFile(m.cfg.StatePath+".lock", buf, 0o644)
}

// cost returns the configured credit cost for a kind.
func (m *Manager) cost(kind Kind) int {
	switch kind {
	case KindFeed:
		return m.cfg.FeedCost
	case KindStats:
		return m.cfg.StatsCost
	default:
		return 1
	}
}

// CanSpend reloads the windows and reports whether both have room for kind.
func (m *Manager) CanSpend(kind Kind) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, unlock, err := m.loadLocked()
	if err != nil {
		log.Warn().Err(err).Msg("budget: load failed, refusing spend")
		return false
	}
	defer unlock()

	cost := m.cost(kind)
	return m.remainingMinute(st) >= cost && m.remainingDay(st) >= cost
}

// Spend atomically checks and increments both windows. Returns ErrExhausted
// when either window lacks credits; the counters are untouched in that case.
func (m *Manager) Spend(kind Kind) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, unlock, err := m.loadLocked()
	if err != nil {
		return fmt.Errorf("budget: load: %w", err)
	}
	defer unlock()

	cost := m.cost(kind)
	if m.remainingMinute(st) < cost || m.remainingDay(st) < cost {
		return ErrExhausted
	}

	st.MinuteCount += cost
	st.DayCount += cost
	if err := m.persist(st); err != nil {
		return fmt.Errorf("budget: persist: %w", err)
	}
	return nil
}

// RemainingMinute returns the credits left in the current minute window.
func (m *Manager) RemainingMinute() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, unlock, err := m.loadLocked()
	if err != nil {
		return 0
	}
	defer unlock()
	return m.remainingMinute(st)
}

// RemainingDay returns the credits left in the current UTC day window.
func (m *Manager) RemainingDay() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, unlock, err := m.loadLocked()
	if err != nil {
		return 0
	}
	defer unlock()
	return m.remainingDay(st)
}

func (m *Manager) remainingMinute(st *windowState) int {
	if m.cfg.PerMinute <= 0 {
		return Unlimited
	}
	rem := m.cfg.PerMinute - st.MinuteCount
	if rem < 0 {
		rem = 0
	}
	return rem
}

func (m *Manager) remainingDay(st *windowState) int {
	if m.cfg.PerDay <= 0 {
		return Unlimited
	}
	rem := m.cfg.PerDay - st.DayCount
	if rem < 0 {
		rem = 0
	}
	return rem
}

// loadLocked acquires the file lock, reads the state, and rolls windows over
// if their epoch has passed. The returned unlock func releases the file lock;
// callers must already hold m.mu.
func (m *Manager) loadLocked() (*windowState, func(), error) {
	if err := m.lock.Lock(); err != nil {
		return nil, nil, fmt.Errorf("acquire lock: %w", err)
	}
	unlock := func() {
		if err := m.lock.Unlock(); err != nil {
			log.Warn().Err(err).Msg("budget: unlock failed")
		}
	}

	st := &windowState{}
	data, err := os.ReadFile(m.cfg.StatePath)
	switch {
	case err == nil:
		if jerr := json.Unmarshal(data, st); jerr != nil {
			// Corrupt state: start a fresh window rather than fail closed forever.
			log.Warn().Err(jerr).Str("path", m.cfg.StatePath).Msg("budget: corrupt state, resetting")
			*st = windowState{}
		}
	case os.IsNotExist(err):
		// First run.
	default:
		unlock()
		return nil, nil, fmt.Errorf("read state: %w", err)
	}

	now := m.now().UTC()
	minute := now.Unix() / 60
	day := now.Format("2006-01-02")

	changed := false
	if st.MinuteEpoch != minute {
		st.MinuteEpoch = minute
		st.MinuteCount = 0
		changed = true
	}
	if st.DayUTC != day {
		st.DayUTC = day
		st.DayCount = 0
		changed = true
	}
	if changed {
		if err := m.persist(st); err != nil {
			unlock()
			return nil, nil, fmt.Errorf("persist rollover: %w", err)
		}
	}

	return st, unlock, nil
}

// persist writes the state via temp-file + rename so a crash never leaves a
// partially written counter file.
func (m *Manager) persist(st *windowState) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := m.cfg.StatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.cfg.StatePath)
}
