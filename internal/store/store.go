package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when inserting a record whose key exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)

// AlertedToken is one row of the dedup set: a mint the funnel has already
// alerted on, with the score and conviction it carried at alert time.
type AlertedToken struct {
	Mint         string
	FirstAlertAt time.Time
	FinalScore   float64
	Conviction   string
}

// AlertStats tracks an alerted token's price path after the alert, used for
// outcome analysis (time to peak, final outcome label).
type AlertStats struct {
	Mint           string
	FirstPrice     float64
	LastPrice      float64
	PeakPrice      float64
	FirstMarketCap float64
	FirstLiquidity float64
	FirstVolume24h float64
	TimeToPeak     time.Duration
	Outcome        string
	UpdatedAt      time.Time
}

// Activity is one feed observation for a mint, recorded before any stats
// credit is spent. Velocity and multi-signal confirmation read this table.
type Activity struct {
	ID          int64
	Mint        string
	TS          time.Time
	USDValue    float64
	TxCount     int
	SmartMoney  bool
	PrelimScore float64
	Trader      string
}

// Position is a row of the trading book. ClosedAt nil means open.
type Position struct {
	ID          string
	Mint        string
	Symbol      string
	EntryPrice  decimal.Decimal
	Quantity    decimal.Decimal
	EntryUSD    decimal.Decimal
	PeakPrice   decimal.Decimal
	Score       float64
	Conviction  string
	OpenedAt    time.Time
	ClosedAt    *time.Time
	CloseReason string
}

// Open reports whether the position has not been closed.
func (p Position) Open() bool { return p.ClosedAt == nil }

// Fill is one executed (or paper) buy/sell tied to a position.
type Fill struct {
	ID          string
	PositionID  string
	Side        string // buy|sell
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	USD         decimal.Decimal
	TxSignature string
	SlippagePct float64
	CreatedAt   time.Time
}

// AlertStore is the dedup set plus post-alert outcome tracking.
type AlertStore interface {
	// HasBeenAlerted reports whether mint is in the alerted set.
	HasBeenAlerted(ctx context.Context, mint string) (bool, error)

	// MarkAlerted inserts mint into the alerted set.
	// Returns ErrDuplicateKey if it is already present.
	MarkAlerted(ctx context.Context, a AlertedToken) error

	// UpsertAlertStats writes or replaces the outcome row for a mint.
	UpsertAlertStats(ctx context.Context, s AlertStats) error

	// GetAlertStats returns the outcome row. ErrNotFound if absent.
	GetAlertStats(ctx context.Context, mint string) (AlertStats, error)

	// RecentAlerts returns tokens alerted within the last window, newest
	// first. The outcome tracker walks this set.
	RecentAlerts(ctx context.Context, window time.Duration) ([]AlertedToken, error)
}

// ActivityStore records feed observations and answers windowed queries.
type ActivityStore interface {
	// RecordActivity appends one observation.
	RecordActivity(ctx context.Context, a Activity) error

	// RecentObservations returns observations for mint newer than now-window,
	// ordered by timestamp ascending.
	RecentObservations(ctx context.Context, mint string, window time.Duration) ([]Activity, error)

	// FirstSeen returns the earliest observation time for mint.
	// ErrNotFound if the mint has never been observed.
	FirstSeen(ctx context.Context, mint string) (time.Time, error)

	// PruneOlderThan deletes observations older than the retention and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error)
}

// PositionStore is the durable trading book: positions and their fills.
type PositionStore interface {
	// SavePosition inserts an open position. Returns ErrDuplicateKey when an
	// open position for the same mint already exists.
	SavePosition(ctx context.Context, p Position) error

	// UpdatePeak raises the stored peak price for a position.
	UpdatePeak(ctx context.Context, id string, peak decimal.Decimal) error

	// ClosePosition marks the position closed with a reason.
	ClosePosition(ctx context.Context, id, reason string, closedAt time.Time) error

	// OpenPositions returns all open positions.
	OpenPositions(ctx context.Context) ([]Position, error)

	// RecordFill appends one fill for a position.
	RecordFill(ctx context.Context, f Fill) error

	// FillsForPosition returns fills ordered by creation time ascending.
	FillsForPosition(ctx context.Context, positionID string) ([]Fill, error)
}
