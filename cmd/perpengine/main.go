package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/event"
	"PerpEngine/internal/market"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/persistence"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/server"
	"PerpEngine/internal/token"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds the process configuration, sourced from environment
// variables with sensible defaults for local development.
type Config struct {
	PostgresURL   string
	NATSURL       string
	MigrationsDir string

	Symbol        string
	EngineAccount string
	PoolAccount   string
	AdminAccount  string

	PersistChanSize     int
	PublishChanSize     int
	PersistBatchSize    int
	PersistFlushTimeout time.Duration

	HTTPAddr    string
	MetricsAddr string
}

func DefaultConfig() Config {
	return Config{
		PostgresURL:   envOrDefault("PERP_POSTGRES_DSN", "postgres://localhost:5432/perpengine?sslmode=disable"),
		NATSURL:       envOrDefault("PERP_NATS_URL", "nats://localhost:4222"),
		MigrationsDir: envOrDefault("PERP_MIGRATIONS_DIR", "migrations"),

		Symbol:        envOrDefault("PERP_SYMBOL", "XLM"),
		EngineAccount: envOrDefault("PERP_ENGINE_ACCOUNT", "engine"),
		PoolAccount:   envOrDefault("PERP_POOL_ACCOUNT", "pool"),
		AdminAccount:  envOrDefault("PERP_ADMIN_ACCOUNT", "admin"),

		PersistChanSize:     envIntOrDefault("PERP_PERSIST_CHAN_SIZE", 1024),
		PublishChanSize:     envIntOrDefault("PERP_PUBLISH_CHAN_SIZE", 1024),
		PersistBatchSize:    envIntOrDefault("PERP_PERSIST_BATCH_SIZE", 50),
		PersistFlushTimeout: time.Duration(envIntOrDefault("PERP_PERSIST_FLUSH_MS", 10)) * time.Millisecond,

		HTTPAddr:    envOrDefault("PERP_HTTP_ADDR", ":8080"),
		MetricsAddr: envOrDefault("PERP_METRICS_ADDR", ":9091"),
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func main() {
	cfg := DefaultConfig()
	log := observability.NewLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, pingCancel := context.WithTimeout(ctx, 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatal().Err(err).Msg("ping postgres")
	}
	pingCancel()

	if err := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrate")).Up(ctx); err != nil {
		log.Fatal().Err(err).Msg("run migrations")
	}
	log.Info().Msg("migrations applied")

	// --- NATS ---
	nc, js, err := event.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("connect NATS")
	}
	defer nc.Close()

	if err := event.EnsureStream(ctx, js); err != nil {
		log.Fatal().Err(err).Msg("ensure outbound stream")
	}

	// --- observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- event pipeline ---
	// The persist channel blocks when full so no event is ever lost;
	// the publish channel drops when full since consumers can replay
	// from the event log.
	persistChan := make(chan event.Envelope, cfg.PersistChanSize)
	publishChan := make(chan event.Envelope, cfg.PublishChanSize)

	bus := event.NewBus(persistChan, publishChan, func(env event.Envelope) {
		metrics.PublishDrops.Inc()
		log.Warn().
			Str("event_id", env.ID.String()).
			Str("event_type", env.Type.String()).
			Msg("publish channel full, event dropped")
	})

	// --- domain wiring ---
	bank := token.NewBank()
	prices := oracle.NewStatic()

	lp, err := pool.NewLiquidityPool(market.DefaultPoolConfig(), cfg.PoolAccount, cfg.EngineAccount, bank, bus)
	if err != nil {
		log.Fatal().Err(err).Msg("construct liquidity pool")
	}

	eng, err := engine.New(
		market.DefaultMarketConfig(),
		cfg.Symbol,
		cfg.EngineAccount,
		cfg.AdminAccount,
		bank,
		prices,
		lp,
		bus,
		metrics,
		observability.NewLogger("engine"),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("construct engine")
	}

	// --- goroutine inventory ---
	errChan := make(chan error, 4)

	// Bridge: envelope -> persistence record. Runs between the bus and
	// the batching worker so the worker only sees storage-shaped rows.
	recordChan := make(chan persistence.Record, cfg.PersistChanSize)
	go func() {
		defer close(recordChan)
		bridgeLog := observability.NewLogger("persist-bridge")
		for env := range persistChan {
			rec, err := persistence.RecordFromEnvelope(env)
			if err != nil {
				bridgeLog.Error().
					Err(err).
					Str("event_id", env.ID.String()).
					Msg("unconvertible event, skipping")
				continue
			}
			recordChan <- rec
		}
	}()

	worker := persistence.NewWorker(db, recordChan, cfg.PersistBatchSize, cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	go func() {
		if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	publisher := event.NewPublisher(js, publishChan, observability.NewLogger("publisher"))
	go func() {
		if err := publisher.Run(ctx); err != nil && ctx.Err() == nil {
			errChan <- err
		}
	}()

	// Funding tick: attempts are cheap and the interval gate inside the
	// engine decides when a payment actually applies.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		fundingLog := observability.NewLogger("funding")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rate, hours, err := eng.ApplyFunding(ctx)
				switch {
				case err == nil:
					fundingLog.Info().
						Int64("rate_bps", rate).
						Int64("hours", hours).
						Msg("funding applied")
				case errors.Is(err, market.ErrFundingIntervalNotElapsed):
					// Not due yet.
				default:
					fundingLog.Warn().Err(err).Msg("funding attempt failed")
				}
			}
		}
	}()

	// Pool mark-to-market refresh.
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		markLog := observability.NewLogger("mark")
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := eng.UpdatePoolUnrealizedPnL(ctx); err != nil {
					markLog.Warn().Err(err).Msg("unrealized PnL refresh failed")
				}
			}
		}
	}()

	// Channel utilization gauges.
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.SetChannelMetrics("persist", len(persistChan), cap(persistChan))
				metrics.SetChannelMetrics("publish", len(publishChan), cap(publishChan))
				metrics.SetChannelMetrics("records", len(recordChan), cap(recordChan))
			}
		}
	}()

	// --- metrics server ---
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// --- API server ---
	api := server.New(eng, lp, bank, prices, healthChecker, metrics, observability.NewLogger("http"))
	apiSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: api.Router()}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("API server listening")
		if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	healthChecker.SetReady(true)
	log.Info().
		Str("symbol", cfg.Symbol).
		Str("engine_account", cfg.EngineAccount).
		Str("pool_account", cfg.PoolAccount).
		Msg("perpengine started")

	// --- wait for shutdown ---
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errChan:
		log.Error().Err(err).Msg("fatal component error")
	}

	healthChecker.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API server shutdown")
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("metrics server shutdown")
	}

	// Closing the persist channel drains the bridge and lets the worker
	// flush its final batch before the context is cancelled.
	close(persistChan)
	close(publishChan)
	time.Sleep(100 * time.Millisecond)
	cancel()

	log.Info().Msg("perpengine stopped")
}
