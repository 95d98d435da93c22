package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/event"
	"PerpEngine/internal/observability"
)

// Record is one unit of durable work: the event row plus the position
// and pool table changes it implies.
type Record struct {
	Event   EventRow
	Upserts []PositionRow
	Patches []PositionPatch
	Deletes []uint64
	Pool    *PoolRow
}

// RecordFromEnvelope translates an engine event into its table
// changes. Events that only append to the log produce no position
// rows.
func RecordFromEnvelope(env event.Envelope) (Record, error) {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return Record{}, fmt.Errorf("marshal payload: %w", err)
	}

	rec := Record{Event: EventRow{
		ID:        env.ID.String(),
		EventType: env.Type.String(),
		Symbol:    env.Symbol,
		Payload:   payload,
		Timestamp: env.Timestamp,
	}}

	switch p := env.Payload.(type) {
	case event.PositionOpened:
		rec.Upserts = append(rec.Upserts, PositionRow{
			ID:               p.PositionID,
			Trader:           p.Trader,
			Symbol:           p.Symbol,
			Direction:        p.Direction,
			Collateral:       p.Collateral,
			Size:             p.Size,
			EntryPrice:       p.EntryPrice,
			Leverage:         p.Leverage,
			LiquidationPrice: p.LiquidationPrice,
			OpenedAt:         env.Timestamp,
			LastFundingAt:    env.Timestamp,
		})
	case event.PositionClosed:
		rec.Deletes = append(rec.Deletes, p.PositionID)
	case event.PositionLiquidated:
		rec.Deletes = append(rec.Deletes, p.PositionID)
	case event.CollateralAdded:
		rec.Patches = append(rec.Patches, PositionPatch{
			ID:               p.PositionID,
			Collateral:       p.NewCollateral,
			Leverage:         p.NewLeverage,
			LiquidationPrice: p.NewLiquidationPrice,
		})
	}
	return rec, nil
}

// Worker drains the persist channel and batch-writes to Postgres. The
// persist channel uses blocking sends from the engine, so if the
// worker falls behind, the engine stalls rather than losing events.
type Worker struct {
	writer       *Writer
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewWorker(db *sql.DB, inputChan <-chan Record, batchSize int, flushTimeout time.Duration, metrics *observability.Metrics, log zerolog.Logger) *Worker {
	return &Worker{
		writer:       NewWriter(db),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          log,
	}
}

// Run starts the worker loop. It batches incoming records and flushes
// either when the batch is full or the flush timeout expires. Blocks
// until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					w.log.Error().Err(err).Msg("final flush failed")
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						w.log.Error().Err(err).Msg("final flush failed")
					}
				}
				return nil
			}

			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.log.Error().Err(err).Msg("batch flush failed after retries")
				}
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				if err := w.flushWithRetry(ctx, batch); err != nil {
					w.log.Error().Err(err).Msg("timeout flush failed after retries")
				}
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The worker never
// drops a batch: it retries until the write succeeds or the context is
// cancelled, then makes one final attempt with a background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Record) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			w.log.Warn().
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Int("records", len(batch)).
				Msg("persistence retry")
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown failed: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		err := w.flush(ctx, batch)
		if err == nil {
			if attempt > 0 {
				w.log.Info().Int("attempts", attempt).Msg("persistence flush recovered")
			}
			return nil
		}

		if w.metrics != nil {
			w.metrics.PersistRetry.Inc()
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []Record) error {
	start := time.Now()

	events := make([]EventRow, 0, len(batch))
	var upserts []PositionRow
	var patches []PositionPatch
	var deletes []uint64
	var poolRow *PoolRow
	for _, rec := range batch {
		events = append(events, rec.Event)
		upserts = append(upserts, rec.Upserts...)
		patches = append(patches, rec.Patches...)
		deletes = append(deletes, rec.Deletes...)
		if rec.Pool != nil {
			poolRow = rec.Pool
		}
	}

	tx, err := w.writer.db.BeginTx(ctx, nil)
	if err != nil {
		w.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteEventBatch(ctx, tx, events); err != nil {
		w.countError("write_events")
		return err
	}
	if err := w.writer.UpsertPositions(ctx, tx, upserts); err != nil {
		w.countError("upsert_positions")
		return err
	}
	if err := w.writer.PatchPositions(ctx, tx, patches); err != nil {
		w.countError("patch_positions")
		return err
	}
	if err := w.writer.DeletePositions(ctx, tx, deletes); err != nil {
		w.countError("delete_positions")
		return err
	}
	if err := w.writer.UpsertPool(ctx, tx, poolRow); err != nil {
		w.countError("upsert_pool")
		return err
	}

	if err := tx.Commit(); err != nil {
		w.countError("tx_commit")
		return err
	}

	if w.metrics != nil {
		w.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		w.metrics.PersistBatchSize.Observe(float64(len(events)))
		w.metrics.PersistEventsWritten.Add(float64(len(events)))
	}
	return nil
}

func (w *Worker) countError(kind string) {
	if w.metrics != nil {
		w.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
