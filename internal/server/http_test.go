package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/fixedpoint"
	"PerpEngine/internal/market"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/token"
)

const P = fixedpoint.Precision

func newTestServer(t *testing.T) (http.Handler, *token.Bank, *oracle.Static) {
	t.Helper()

	bank := token.NewBank()
	prices := oracle.NewStatic()
	prices.Set("XLM", P, time.Now())

	lp, err := pool.NewLiquidityPool(market.DefaultPoolConfig(), "pool", "engine", bank, nil)
	if err != nil {
		t.Fatalf("NewLiquidityPool: %v", err)
	}
	bank.Mint("lp", 100_000*P)
	if _, err := lp.Deposit("lp", 100_000*P); err != nil {
		t.Fatalf("pool seed: %v", err)
	}

	eng, err := engine.New(market.DefaultMarketConfig(), "XLM", "engine", "admin", bank, prices, lp, nil, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	bank.Mint("alice", 10_000*P)

	srv := New(eng, lp, bank, prices, observability.NewHealthChecker(), nil, zerolog.Nop())
	return srv.Router(), bank, prices
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode request: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body: %s)", err, rec.Body.String())
	}
}

func openPosition(t *testing.T, h http.Handler) positionResponse {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/v1/positions", map[string]any{
		"trader":     "alice",
		"collateral": 100 * P,
		"leverage":   10,
		"direction":  "long",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("open position status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var p positionResponse
	decodeBody(t, rec, &p)
	return p
}

// ============================================================
// Positions
// ============================================================

func TestOpenAndGetPosition(t *testing.T) {
	h, _, _ := newTestServer(t)

	p := openPosition(t, h)
	if p.Size != 1000*P || p.Direction != "long" || p.Status != "open" {
		t.Errorf("position = %+v", p)
	}

	rec := doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/v1/positions/%d", p.ID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var got positionResponse
	decodeBody(t, rec, &got)
	if got.ID != p.ID || got.Trader != "alice" {
		t.Errorf("got = %+v", got)
	}
}

func TestGetMissingPosition(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/positions/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	rec = doJSON(t, h, http.MethodGet, "/api/v1/positions/notanumber", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestOpenPositionRejectsBadRequests(t *testing.T) {
	h, _, _ := newTestServer(t)

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"bad direction", map[string]any{"trader": "alice", "collateral": 100 * P, "leverage": 2, "direction": "sideways"}, http.StatusBadRequest},
		{"excess leverage", map[string]any{"trader": "alice", "collateral": 100 * P, "leverage": 50, "direction": "long"}, http.StatusBadRequest},
		{"no funds", map[string]any{"trader": "nobody", "collateral": 100 * P, "leverage": 2, "direction": "long"}, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/v1/positions", tc.body)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d (body: %s)", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
}

func TestClosePositionReturnsPnL(t *testing.T) {
	h, _, _ := newTestServer(t)
	p := openPosition(t, h)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/prices", map[string]any{
		"symbol": "XLM",
		"value":  11 * P / 10,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("set price status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/positions/%d", p.ID), map[string]any{"trader": "alice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]int64
	decodeBody(t, rec, &out)
	if out["pnl"] != 100*P {
		t.Errorf("pnl = %d, want %d", out["pnl"], 100*P)
	}
}

func TestCloseByStrangerForbidden(t *testing.T) {
	h, _, _ := newTestServer(t)
	p := openPosition(t, h)

	rec := doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/positions/%d", p.ID), map[string]any{"trader": "mallory"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
}

func TestAddCollateral(t *testing.T) {
	h, _, _ := newTestServer(t)
	p := openPosition(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/positions/%d/collateral", p.ID), map[string]any{
		"trader": "alice",
		"amount": 100 * P,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var got positionResponse
	decodeBody(t, rec, &got)
	if got.Collateral != 200*P || got.Leverage != 5 {
		t.Errorf("position = %+v", got)
	}
}

func TestLiquidateEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t)
	p := openPosition(t, h)

	// Healthy position: conflict.
	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/positions/%d/liquidate", p.ID), map[string]any{"keeper": "kevin"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("healthy liquidate status = %d, want 409", rec.Code)
	}

	doJSON(t, h, http.MethodPost, "/api/v1/admin/prices", map[string]any{"symbol": "XLM", "value": 5 * P / 10})

	rec = doJSON(t, h, http.MethodGet, "/api/v1/liquidatable", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("liquidatable status = %d", rec.Code)
	}
	var list map[string][]uint64
	decodeBody(t, rec, &list)
	if len(list["position_ids"]) != 1 {
		t.Errorf("liquidatable = %v", list)
	}

	rec = doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/positions/%d/liquidate", p.ID), map[string]any{"keeper": "kevin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("liquidate status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]int64
	decodeBody(t, rec, &out)
	if out["bad_debt"] != 400*P {
		t.Errorf("bad debt = %d, want %d", out["bad_debt"], 400*P)
	}
}

// ============================================================
// Market and funding
// ============================================================

func TestMarketStats(t *testing.T) {
	h, _, _ := newTestServer(t)
	openPosition(t, h)

	rec := doJSON(t, h, http.MethodGet, "/api/v1/market/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var stats market.MarketStats
	decodeBody(t, rec, &stats)
	if stats.OpenPositions != 1 || stats.TotalLongSize != 1000*P {
		t.Errorf("stats = %+v", stats)
	}
}

func TestApplyFundingTooEarly(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/funding/apply", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rec.Code)
	}
}

// ============================================================
// Pool
// ============================================================

func TestPoolDepositAndInfo(t *testing.T) {
	h, bank, _ := newTestServer(t)
	bank.Mint("dave", 1000*P)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pool/deposits", map[string]any{
		"lp":     "dave",
		"amount": 1000 * P,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("deposit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out map[string]int64
	decodeBody(t, rec, &out)
	if out["shares_minted"] <= 0 {
		t.Errorf("shares minted = %d", out["shares_minted"])
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/pool", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("pool info status = %d", rec.Code)
	}
	var info market.PoolInfo
	decodeBody(t, rec, &info)
	if info.TotalShares == 0 || info.AUM == 0 {
		t.Errorf("info = %+v", info)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/pool/shares/dave", nil)
	decodeBody(t, rec, &out)
	if out["shares"] <= 0 {
		t.Errorf("dave shares = %d", out["shares"])
	}
}

func TestPoolWithdrawInsufficientShares(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/pool/withdrawals", map[string]any{
		"lp":     "stranger",
		"shares": 10,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

// ============================================================
// Orders
// ============================================================

func TestLimitOrderLifecycle(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/orders", map[string]any{
		"trader":        "alice",
		"collateral":    100 * P,
		"leverage":      5,
		"direction":     "long",
		"trigger_price": 9 * P / 10,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("place order status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var o orderResponse
	decodeBody(t, rec, &o)
	if o.Kind != "limit_entry" || o.Status != "pending" {
		t.Errorf("order = %+v", o)
	}

	rec = doJSON(t, h, http.MethodGet, "/api/v1/traders/alice/orders", nil)
	var orders []orderResponse
	decodeBody(t, rec, &orders)
	if len(orders) != 1 {
		t.Errorf("orders = %+v", orders)
	}

	rec = doJSON(t, h, http.MethodDelete, fmt.Sprintf("/api/v1/orders/%d", o.ID), map[string]any{"trader": "alice"})
	if rec.Code != http.StatusNoContent {
		t.Errorf("cancel status = %d", rec.Code)
	}
}

func TestAttachStopLossEndpoint(t *testing.T) {
	h, _, _ := newTestServer(t)
	p := openPosition(t, h)

	rec := doJSON(t, h, http.MethodPost, fmt.Sprintf("/api/v1/positions/%d/stop-loss", p.ID), map[string]any{
		"trader":        "alice",
		"trigger_price": 95 * P / 100,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var o orderResponse
	decodeBody(t, rec, &o)
	if o.Kind != "stop_loss" || o.PositionID != p.ID {
		t.Errorf("order = %+v", o)
	}
}

// ============================================================
// Admin
// ============================================================

func TestPauseEndpointAuthorization(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/v1/admin/pause", map[string]any{"caller": "alice"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/admin/pause", map[string]any{"caller": "admin"})
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}

	rec = doJSON(t, h, http.MethodPost, "/api/v1/positions", map[string]any{
		"trader": "alice", "collateral": 100 * P, "leverage": 2, "direction": "long",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("open while paused status = %d, want 409", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	h, _, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	// Readiness starts false until the orchestrator flips it.
	rec = doJSON(t, h, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}
