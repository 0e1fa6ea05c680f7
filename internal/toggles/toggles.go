// Package toggles reads the runtime feature switches both services poll
// from disk on every cycle, so an operator can pause alerting or trading
// without a restart.
package toggles

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// State holds the two service switches.
type State struct {
	SignalsEnabled bool `json:"signals_enabled"`
	TradingEnabled bool `json:"trading_enabled"`
}

// Default is the state used when no toggles file exists: signals on,
// trading off. Live trading must be an explicit operator choice.
func Default() State {
	return State{SignalsEnabled: true, TradingEnabled: false}
}

// Load reads the toggles file. A missing file yields Default; a corrupt
// file also yields Default with a warning, never an error, so a bad write
// can't wedge the loops.
func Load(path string) State {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("toggles: read failed")
		}
		return Default()
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("toggles: corrupt file, using defaults")
		return Default()
	}
	return s
}

// Save writes the toggles file atomically.
func Save(path string, s State) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("toggles: marshal: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("toggles: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("toggles: rename: %w", err)
	}
	return nil
}
