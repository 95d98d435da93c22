package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"PerpEngine/internal/event"
	"PerpEngine/internal/testutil"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// These tests need the docker-compose.test.yml Postgres and run only
// with INTEGRATION_TEST=1.

func setupIntegration(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	testutil.RequireIntegration(t)

	db, cleanup := testutil.SetupTestDB(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := NewMigrator(db, "../../migrations", zerolog.Nop()).Up(ctx); err != nil {
		cleanup()
		t.Fatalf("migrate up: %v", err)
	}
	return db, cleanup
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := db.Begin()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		t.Fatalf("tx body: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

// ============================================================
// Writer
// ============================================================

func TestWriteEventBatchDeduplicates(t *testing.T) {
	db, cleanup := setupIntegration(t)
	defer cleanup()

	w := NewWriter(db)
	row := EventRow{
		ID:        uuid.New().String(),
		EventType: "PositionOpened",
		Symbol:    "XLM",
		Payload:   []byte(`{"position_id":1}`),
		Timestamp: time.Now().UTC(),
	}

	ctx := context.Background()
	inTx(t, db, func(tx *sql.Tx) error { return w.WriteEventBatch(ctx, tx, []EventRow{row}) })
	inTx(t, db, func(tx *sql.Tx) error { return w.WriteEventBatch(ctx, tx, []EventRow{row}) })

	if n := countRows(t, db, "engine_events"); n != 1 {
		t.Errorf("engine_events rows = %d, want 1 (duplicate id must be ignored)", n)
	}
}

func TestPositionRowLifecycle(t *testing.T) {
	db, cleanup := setupIntegration(t)
	defer cleanup()

	w := NewWriter(db)
	ctx := context.Background()
	now := time.Now().UTC()

	row := PositionRow{
		ID:               7,
		Trader:           "alice",
		Symbol:           "XLM",
		Direction:        "long",
		Collateral:       100_0000000,
		Leverage:         10,
		Size:             1000_0000000,
		EntryPrice:       1_0000000,
		LiquidationPrice: 9100000,
		OpenedAt:         now,
		LastFundingAt:    now,
	}
	inTx(t, db, func(tx *sql.Tx) error { return w.UpsertPositions(ctx, tx, []PositionRow{row}) })

	patch := PositionPatch{ID: 7, Collateral: 300_0000000, Leverage: 3, LiquidationPrice: 7_000_000}
	inTx(t, db, func(tx *sql.Tx) error { return w.PatchPositions(ctx, tx, []PositionPatch{patch}) })

	var collateral int64
	if err := db.QueryRow("SELECT collateral FROM positions WHERE id = 7").Scan(&collateral); err != nil {
		t.Fatalf("read patched row: %v", err)
	}
	if collateral != 300_0000000 {
		t.Errorf("patched collateral = %d, want %d", collateral, int64(300_0000000))
	}

	inTx(t, db, func(tx *sql.Tx) error { return w.DeletePositions(ctx, tx, []uint64{7}) })
	if n := countRows(t, db, "positions"); n != 0 {
		t.Errorf("positions rows after delete = %d, want 0", n)
	}
}

func TestUpsertPoolSingleRow(t *testing.T) {
	db, cleanup := setupIntegration(t)
	defer cleanup()

	w := NewWriter(db)
	ctx := context.Background()

	first := &PoolRow{TotalDeposits: 1000, TotalShares: 1000, TotalFees: 3, UpdatedAt: time.Now().UTC()}
	second := &PoolRow{TotalDeposits: 900, TotalShares: 950, TotalFees: 6, UpdatedAt: time.Now().UTC()}
	inTx(t, db, func(tx *sql.Tx) error { return w.UpsertPool(ctx, tx, first) })
	inTx(t, db, func(tx *sql.Tx) error { return w.UpsertPool(ctx, tx, second) })

	if n := countRows(t, db, "pool_state"); n != 1 {
		t.Fatalf("pool_state rows = %d, want 1", n)
	}
	var deposits int64
	if err := db.QueryRow("SELECT total_deposits FROM pool_state WHERE id = 1").Scan(&deposits); err != nil {
		t.Fatalf("read pool row: %v", err)
	}
	if deposits != 900 {
		t.Errorf("total_deposits = %d, want 900", deposits)
	}
}

// ============================================================
// Worker end to end
// ============================================================

func TestWorkerFlushesRecords(t *testing.T) {
	db, cleanup := setupIntegration(t)
	defer cleanup()

	input := make(chan Record, 16)
	worker := NewWorker(db, input, 4, 10*time.Millisecond, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	now := time.Now().UTC()
	env := event.New(event.EventTypePositionOpened, "XLM", now, event.PositionOpened{
		PositionID: 42,
		Trader:     "bob",
		Symbol:     "XLM",
		Direction:  "short",
		Collateral: 50_0000000,
		Leverage:   5,
		Size:       250_0000000,
		EntryPrice: 1_0000000,
	})
	rec, err := RecordFromEnvelope(env)
	if err != nil {
		t.Fatalf("record from envelope: %v", err)
	}
	input <- rec
	close(input)

	if err := <-done; err != nil {
		t.Fatalf("worker run: %v", err)
	}
	cancel()

	if n := countRows(t, db, "engine_events"); n != 1 {
		t.Errorf("engine_events rows = %d, want 1", n)
	}
	if n := countRows(t, db, "positions"); n != 1 {
		t.Errorf("positions rows = %d, want 1", n)
	}
}
