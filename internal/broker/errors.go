package broker

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors returned by quote/swap/execution paths. The trader matches
// on these with errors.Is/As to decide between retry, escalation, and abort.
var (
	ErrInvalidInput       = errors.New("broker: invalid input")
	ErrRateLimited        = errors.New("broker: rate limited")
	ErrNoRoute            = errors.New("broker: no route available")
	ErrSlippageExceeded   = errors.New("broker: slippage tolerance exceeded")
	ErrPriceImpactTooHigh = errors.New("broker: price impact above cap")
	ErrNotFinalized       = errors.New("broker: transaction not finalized")
)

// SimulationError is a program error surfaced by transaction simulation.
// Code 6024 is a known false negative that tends to succeed on chain when
// resent with preflight skipped.
type SimulationError struct {
	Code int
	Logs []string
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("broker: simulation failed with code %d", e.Code)
}

// codeSimulationFalseNegative fails in simulation but usually lands on chain.
const codeSimulationFalseNegative = 6024

// retrySkipPreflight reports whether the error warrants one resend with
// preflight disabled.
func retrySkipPreflight(err error) bool {
	var sim *SimulationError
	return errors.As(err, &sim) && sim.Code == codeSimulationFalseNegative
}

// slippageError recognizes the aggregator's slippage rejection in raw
// send/simulate error text.
func slippageError(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "slippage tolerance exceeded") ||
		strings.Contains(lower, "0x1771") // SlippageToleranceExceeded custom code
}
