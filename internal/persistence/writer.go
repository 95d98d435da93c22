package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Writer persists engine events and position snapshots to Postgres
// using multi-row INSERTs. Inserts are idempotent on the event ID, so
// a retried batch never duplicates rows.
type Writer struct {
	db *sql.DB
}

// EventRow is a row in engine_events.
type EventRow struct {
	ID        string // uuid
	EventType string
	Symbol    string
	Payload   []byte // JSON-encoded event payload
	Timestamp time.Time
}

// PositionRow is a full snapshot of an open position for upsert into
// positions.
type PositionRow struct {
	ID               uint64
	Trader           string
	Symbol           string
	Direction        string
	Collateral       int64
	Size             int64
	EntryPrice       int64
	Leverage         int64
	LiquidationPrice int64
	OpenedAt         time.Time
	LastFundingAt    time.Time
}

// PositionPatch updates the risk fields of an existing position row.
type PositionPatch struct {
	ID               uint64
	Collateral       int64
	Leverage         int64
	LiquidationPrice int64
}

// PoolRow is the single-row pool snapshot.
type PoolRow struct {
	TotalDeposits int64
	TotalShares   int64
	TotalFees     int64
	UnrealizedPnL int64
	UpdatedAt     time.Time
}

func NewWriter(db *sql.DB) *Writer {
	return &Writer{db: db}
}

// WriteEventBatch inserts a batch of events.
func (w *Writer) WriteEventBatch(ctx context.Context, tx *sql.Tx, events []EventRow) error {
	if len(events) == 0 {
		return nil
	}

	query := `INSERT INTO engine_events (id, event_type, symbol, payload, timestamp) VALUES `

	values := make([]string, 0, len(events))
	args := make([]interface{}, 0, len(events)*5)
	for i, e := range events {
		base := i * 5
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5,
		))
		args = append(args, e.ID, e.EventType, e.Symbol, e.Payload, e.Timestamp)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (id) DO NOTHING"

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertPositions writes position snapshots, replacing existing rows.
func (w *Writer) UpsertPositions(ctx context.Context, tx *sql.Tx, rows []PositionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO positions
		(id, trader, symbol, direction, collateral, size, entry_price, leverage, liquidation_price, opened_at, last_funding_at)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*11)
	for i, p := range rows {
		base := i * 11
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11,
		))
		args = append(args,
			p.ID, p.Trader, p.Symbol, p.Direction, p.Collateral, p.Size,
			p.EntryPrice, p.Leverage, p.LiquidationPrice, p.OpenedAt, p.LastFundingAt,
		)
	}

	query += strings.Join(values, ", ")
	query += ` ON CONFLICT (id) DO UPDATE SET
		collateral = EXCLUDED.collateral,
		leverage = EXCLUDED.leverage,
		liquidation_price = EXCLUDED.liquidation_price,
		last_funding_at = EXCLUDED.last_funding_at`

	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// PatchPositions applies collateral/risk updates to existing rows.
func (w *Writer) PatchPositions(ctx context.Context, tx *sql.Tx, patches []PositionPatch) error {
	for _, p := range patches {
		if _, err := tx.ExecContext(ctx,
			`UPDATE positions SET collateral = $2, leverage = $3, liquidation_price = $4 WHERE id = $1`,
			p.ID, p.Collateral, p.Leverage, p.LiquidationPrice,
		); err != nil {
			return err
		}
	}
	return nil
}

// DeletePositions removes retired positions.
func (w *Writer) DeletePositions(ctx context.Context, tx *sql.Tx, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}

	values := make([]string, 0, len(ids))
	args := make([]interface{}, 0, len(ids))
	for i, id := range ids {
		values = append(values, fmt.Sprintf("$%d", i+1))
		args = append(args, id)
	}

	query := "DELETE FROM positions WHERE id IN (" + strings.Join(values, ", ") + ")"
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// UpsertPool writes the pool snapshot. Single row, last write wins.
func (w *Writer) UpsertPool(ctx context.Context, tx *sql.Tx, p *PoolRow) error {
	if p == nil {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pool_state (id, total_deposits, total_shares, total_fees, unrealized_pnl, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			total_deposits = EXCLUDED.total_deposits,
			total_shares = EXCLUDED.total_shares,
			total_fees = EXCLUDED.total_fees,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			updated_at = EXCLUDED.updated_at`,
		p.TotalDeposits, p.TotalShares, p.TotalFees, p.UnrealizedPnL, p.UpdatedAt,
	)
	return err
}
