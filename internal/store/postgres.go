package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Postgres implements every store interface on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ AlertStore    = (*Postgres)(nil)
	_ ActivityStore = (*Postgres)(nil)
	_ PositionStore = (*Postgres)(nil)
)

// NewPostgres connects, verifies the connection, and ensures the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) Close() { p.pool.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS alerted_tokens (
	mint           TEXT PRIMARY KEY,
	first_alert_at TIMESTAMPTZ NOT NULL,
	final_score    DOUBLE PRECISION NOT NULL,
	conviction     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS alerted_token_stats (
	mint             TEXT PRIMARY KEY REFERENCES alerted_tokens (mint),
	first_price      DOUBLE PRECISION NOT NULL,
	last_price       DOUBLE PRECISION NOT NULL,
	peak_price       DOUBLE PRECISION NOT NULL,
	first_market_cap DOUBLE PRECISION NOT NULL,
	first_liquidity  DOUBLE PRECISION NOT NULL,
	first_volume_24h DOUBLE PRECISION NOT NULL,
	time_to_peak_sec BIGINT NOT NULL,
	outcome          TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS token_activity (
	id           BIGSERIAL PRIMARY KEY,
	mint         TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	usd_value    DOUBLE PRECISION NOT NULL,
	tx_count     INTEGER NOT NULL,
	smart_money  BOOLEAN NOT NULL,
	prelim_score DOUBLE PRECISION NOT NULL,
	trader       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_token_activity_mint_ts ON token_activity (mint, ts);

CREATE TABLE IF NOT EXISTS positions (
	id           UUID PRIMARY KEY,
	mint         TEXT NOT NULL,
	symbol       TEXT NOT NULL DEFAULT '',
	entry_price  NUMERIC NOT NULL,
	quantity     NUMERIC NOT NULL,
	entry_usd    NUMERIC NOT NULL,
	peak_price   NUMERIC NOT NULL,
	score        DOUBLE PRECISION NOT NULL,
	conviction   TEXT NOT NULL DEFAULT '',
	opened_at    TIMESTAMPTZ NOT NULL,
	closed_at    TIMESTAMPTZ,
	close_reason TEXT NOT NULL DEFAULT ''
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_open_mint
	ON positions (mint) WHERE closed_at IS NULL;

CREATE TABLE IF NOT EXISTS fills (
	id           UUID PRIMARY KEY,
	position_id  UUID NOT NULL REFERENCES positions (id),
	side         TEXT NOT NULL,
	price        NUMERIC NOT NULL,
	quantity     NUMERIC NOT NULL,
	usd          NUMERIC NOT NULL,
	tx_signature TEXT NOT NULL DEFAULT '',
	slippage_pct DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_position ON fills (position_id, created_at);
`

func (p *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const pgUniqueViolation = "23505"

func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// ---------------------------------------------------------------------------
// AlertStore
// ---------------------------------------------------------------------------

func (p *Postgres) HasBeenAlerted(ctx context.Context, mint string) (bool, error) {
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM alerted_tokens WHERE mint = $1)`, mint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("has been alerted: %w", err)
	}
	return exists, nil
}

func (p *Postgres) MarkAlerted(ctx context.Context, a AlertedToken) error {
	if a.Mint == "" {
		return ErrInvalidInput
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO alerted_tokens (mint, first_alert_at, final_score, conviction)
		 VALUES ($1, $2, $3, $4)`,
		a.Mint, a.FirstAlertAt, a.FinalScore, a.Conviction)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("mark alerted: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertAlertStats(ctx context.Context, s AlertStats) error {
	if s.Mint == "" {
		return ErrInvalidInput
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO alerted_token_stats
			(mint, first_price, last_price, peak_price, first_market_cap,
			 first_liquidity, first_volume_24h, time_to_peak_sec, outcome, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (mint) DO UPDATE SET
			last_price = EXCLUDED.last_price,
			peak_price = EXCLUDED.peak_price,
			time_to_peak_sec = EXCLUDED.time_to_peak_sec,
			outcome = EXCLUDED.outcome,
			updated_at = EXCLUDED.updated_at`,
		s.Mint, s.FirstPrice, s.LastPrice, s.PeakPrice, s.FirstMarketCap,
		s.FirstLiquidity, s.FirstVolume24h, int64(s.TimeToPeak.Seconds()), s.Outcome, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert alert stats: %w", err)
	}
	return nil
}

func (p *Postgres) GetAlertStats(ctx context.Context, mint string) (AlertStats, error) {
	var s AlertStats
	var peakSec int64
	err := p.pool.QueryRow(ctx,
		`SELECT mint, first_price, last_price, peak_price, first_market_cap,
			first_liquidity, first_volume_24h, time_to_peak_sec, outcome, updated_at
		 FROM alerted_token_stats WHERE mint = $1`, mint).
		Scan(&s.Mint, &s.FirstPrice, &s.LastPrice, &s.PeakPrice, &s.FirstMarketCap,
			&s.FirstLiquidity, &s.FirstVolume24h, &peakSec, &s.Outcome, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return AlertStats{}, ErrNotFound
		}
		return AlertStats{}, fmt.Errorf("get alert stats: %w", err)
	}
	s.TimeToPeak = time.Duration(peakSec) * time.Second
	return s, nil
}

func (p *Postgres) RecentAlerts(ctx context.Context, window time.Duration) ([]AlertedToken, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT mint, first_alert_at, final_score, conviction
		 FROM alerted_tokens
		 WHERE first_alert_at > $1
		 ORDER BY first_alert_at DESC`, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("recent alerts: %w", err)
	}
	defer rows.Close()

	var result []AlertedToken
	for rows.Next() {
		var a AlertedToken
		if err := rows.Scan(&a.Mint, &a.FirstAlertAt, &a.FinalScore, &a.Conviction); err != nil {
			return nil, fmt.Errorf("recent alerts scan: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// ---------------------------------------------------------------------------
// ActivityStore
// ---------------------------------------------------------------------------

func (p *Postgres) RecordActivity(ctx context.Context, a Activity) error {
	if a.Mint == "" {
		return ErrInvalidInput
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO token_activity (mint, ts, usd_value, tx_count, smart_money, prelim_score, trader)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.Mint, a.TS, a.USDValue, a.TxCount, a.SmartMoney, a.PrelimScore, a.Trader)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

func (p *Postgres) RecentObservations(ctx context.Context, mint string, window time.Duration) ([]Activity, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, mint, ts, usd_value, tx_count, smart_money, prelim_score, trader
		 FROM token_activity
		 WHERE mint = $1 AND ts > now() - $2::interval
		 ORDER BY ts ASC`,
		mint, window.String())
	if err != nil {
		return nil, fmt.Errorf("recent observations: %w", err)
	}
	defer rows.Close()

	var result []Activity
	for rows.Next() {
		var a Activity
		if err := rows.Scan(&a.ID, &a.Mint, &a.TS, &a.USDValue, &a.TxCount,
			&a.SmartMoney, &a.PrelimScore, &a.Trader); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activity rows: %w", err)
	}
	return result, nil
}

func (p *Postgres) FirstSeen(ctx context.Context, mint string) (time.Time, error) {
	var first time.Time
	err := p.pool.QueryRow(ctx,
		`SELECT min(ts) FROM token_activity WHERE mint = $1`, mint).Scan(&first)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, ErrNotFound
		}
		return time.Time{}, fmt.Errorf("first seen: %w", err)
	}
	if first.IsZero() {
		return time.Time{}, ErrNotFound
	}
	return first, nil
}

func (p *Postgres) PruneOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM token_activity WHERE ts < now() - $1::interval`, retention.String())
	if err != nil {
		return 0, fmt.Errorf("prune activity: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ---------------------------------------------------------------------------
// PositionStore
// ---------------------------------------------------------------------------

func (p *Postgres) SavePosition(ctx context.Context, pos Position) error {
	if pos.ID == "" || pos.Mint == "" {
		return ErrInvalidInput
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO positions
			(id, mint, symbol, entry_price, quantity, entry_usd, peak_price,
			 score, conviction, opened_at, closed_at, close_reason)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		pos.ID, pos.Mint, pos.Symbol, pos.EntryPrice, pos.Quantity, pos.EntryUSD,
		pos.PeakPrice, pos.Score, pos.Conviction, pos.OpenedAt, pos.ClosedAt, pos.CloseReason)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

func (p *Postgres) UpdatePeak(ctx context.Context, id string, peak decimal.Decimal) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE positions SET peak_price = $2 WHERE id = $1 AND peak_price < $2`, id, peak)
	if err != nil {
		return fmt.Errorf("update peak: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := p.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM positions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("update peak: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

func (p *Postgres) ClosePosition(ctx context.Context, id, reason string, closedAt time.Time) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE positions SET closed_at = $2, close_reason = $3 WHERE id = $1`,
		id, closedAt, reason)
	if err != nil {
		return fmt.Errorf("close position: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) OpenPositions(ctx context.Context) ([]Position, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, mint, symbol, entry_price, quantity, entry_usd, peak_price,
			score, conviction, opened_at, closed_at, close_reason
		 FROM positions WHERE closed_at IS NULL ORDER BY opened_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("open positions: %w", err)
	}
	defer rows.Close()

	var result []Position
	for rows.Next() {
		var pos Position
		if err := rows.Scan(&pos.ID, &pos.Mint, &pos.Symbol, &pos.EntryPrice,
			&pos.Quantity, &pos.EntryUSD, &pos.PeakPrice, &pos.Score,
			&pos.Conviction, &pos.OpenedAt, &pos.ClosedAt, &pos.CloseReason); err != nil {
			return nil, fmt.Errorf("scan position row: %w", err)
		}
		result = append(result, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate position rows: %w", err)
	}
	return result, nil
}

func (p *Postgres) RecordFill(ctx context.Context, f Fill) error {
	if f.ID == "" || f.PositionID == "" {
		return ErrInvalidInput
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO fills (id, position_id, side, price, quantity, usd, tx_signature, slippage_pct, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		f.ID, f.PositionID, f.Side, f.Price, f.Quantity, f.USD,
		f.TxSignature, f.SlippagePct, f.CreatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("record fill: %w", err)
	}
	return nil
}

func (p *Postgres) FillsForPosition(ctx context.Context, positionID string) ([]Fill, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, position_id, side, price, quantity, usd, tx_signature, slippage_pct, created_at
		 FROM fills WHERE position_id = $1 ORDER BY created_at ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("fills for position: %w", err)
	}
	defer rows.Close()

	var result []Fill
	for rows.Next() {
		var f Fill
		if err := rows.Scan(&f.ID, &f.PositionID, &f.Side, &f.Price, &f.Quantity,
			&f.USD, &f.TxSignature, &f.SlippagePct, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan fill row: %w", err)
		}
		result = append(result, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fill rows: %w", err)
	}
	return result, nil
}
