package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Record is the alert payload published to every sink and consumed by the
// trader as a trading signal.
type Record struct {
	Token      string    `json:"token"`
	Symbol     string    `json:"symbol,omitempty"`
	Name       string    `json:"name,omitempty"`
	FinalScore float64   `json:"final_score"`
	Conviction string    `json:"conviction_type"`
	Price      float64   `json:"price"`
	MarketCap  float64   `json:"market_cap"`
	Liquidity  float64   `json:"liquidity"`
	Volume24h  float64   `json:"volume_24h"`
	Change1h   float64   `json:"change_1h"`
	SmartMoney bool      `json:"smart_money_detected"`
	Reasons    []string  `json:"reasons,omitempty"`
	TS         time.Time `json:"ts"`
}

// Sink publishes alert records somewhere. Durable sinks count toward
// delivery; best-effort sinks (chat, cache queue) do not.
type Sink interface {
	Name() string
	Durable() bool
	Publish(ctx context.Context, rec Record) error
}

// FanOut publishes to every sink. One sink failing never blocks the others;
// the alert counts as delivered once any durable sink accepted it.
type FanOut struct {
	sinks []Sink
}

func NewFanOut(sinks ...Sink) *FanOut {
	return &FanOut{sinks: sinks}
}

// Publish fans the record out to all sinks and reports whether a durable
// sink accepted it.
func (f *FanOut) Publish(ctx context.Context, rec Record) (delivered bool) {
	hasDurable := false
	for _, s := range f.sinks {
		if s.Durable() {
			hasDurable = true
		}
		if err := s.Publish(ctx, rec); err != nil {
			log.Error().Err(err).
				Str("sink", s.Name()).
				Str("mint", rec.Token).
				Msg("alerts: sink publish failed")
			continue
		}
		if s.Durable() {
			delivered = true
		}
	}
	// With no durable sink configured, best-effort publication is all
	// delivery can mean.
	if !hasDurable {
		return true
	}
	return delivered
}
