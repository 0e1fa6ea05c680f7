package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
)

// denyState is a time-boxed prohibition against calling the primary stats
// provider, persisted so sibling processes honor it too.
type denyState struct {
	DeniedUntilUnix int64 `json:"denied_until_unix"`
}

// DenyList guards the deny state file with an advisory file lock plus a
// process mutex, same discipline as the credit budget.
type DenyList struct {
	mu   sync.Mutex
	path string
	lock *flock.Flock
	now  func() time.Time
}

// NewDenyList opens (creating directories as needed) the deny state file.
func NewDenyList(path string) (*DenyList, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("deny: mkdir: %w", err)
	}
	return &DenyList{
		path: path,
		lock: flock.New(path + ".lock"),
		now:  time.Now,
	}, nil
}

// Denied reports whether the primary is currently denied.
func (d *DenyList) Denied() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, err := d.read()
	if err != nil {
		log.Warn().Err(err).Msg("deny: read failed, treating as not denied")
		return false
	}
	return st.DeniedUntilUnix > d.now().Unix()
}

// Deny marks the primary denied for ttl from now.
func (d *DenyList) Deny(ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	until := d.now().Add(ttl).Unix()
	if err := d.write(denyState{DeniedUntilUnix: until}); err != nil {
		log.Error().Err(err).Msg("deny: persist failed")
		return
	}
	log.Warn().Int64("denied_until", until).Msg("deny: primary stats provider denied")
}

// Clear removes any active denial.
func (d *DenyList) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.write(denyState{}); err != nil {
		log.Error().Err(err).Msg("deny: clear failed")
	}
}

func (d *DenyList) read() (denyState, error) {
	if err := d.lock.Lock(); err != nil {
		return denyState{}, fmt.Errorf("lock: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	var st denyState
	data, err := os.ReadFile(d.path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return denyState{}, nil // corrupt state file is equivalent to no denial
	}
	return st, nil
}

func (d *DenyList) write(st denyState) error {
	if err := d.lock.Lock(); err != nil {
		return fmt.Errorf("lock: %w", err)
	}
	defer func() { _ = d.lock.Unlock() }()

	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, d.path)
}
