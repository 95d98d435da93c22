// Package server exposes the engine over HTTP. Principals are carried
// in request bodies; upstream authentication is a gateway concern.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"PerpEngine/internal/engine"
	"PerpEngine/internal/market"
	"PerpEngine/internal/observability"
	"PerpEngine/internal/oracle"
	"PerpEngine/internal/pool"
	"PerpEngine/internal/token"
)

type Server struct {
	engine  *engine.Engine
	pool    *pool.LiquidityPool
	bank    *token.Bank
	prices  *oracle.Static
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func New(eng *engine.Engine, lp *pool.LiquidityPool, bank *token.Bank, prices *oracle.Static, health *observability.HealthChecker, metrics *observability.Metrics, log zerolog.Logger) *Server {
	return &Server{
		engine:  eng,
		pool:    lp,
		bank:    bank,
		prices:  prices,
		health:  health,
		metrics: metrics,
		log:     log,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.instrument)

	r.Get("/healthz", s.health.LivenessHandler)
	r.Get("/readyz", s.health.ReadinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/positions", s.handleOpenPosition)
		r.Get("/positions/{id}", s.handleGetPosition)
		r.Delete("/positions/{id}", s.handleClosePosition)
		r.Post("/positions/{id}/collateral", s.handleAddCollateral)
		r.Get("/positions/{id}/pnl", s.handlePositionPnL)
		r.Post("/positions/{id}/liquidate", s.handleLiquidate)
		r.Post("/positions/{id}/stop-loss", s.handleAttachStopLoss)
		r.Post("/positions/{id}/take-profit", s.handleAttachTakeProfit)
		r.Get("/traders/{trader}/positions", s.handleTraderPositions)
		r.Get("/traders/{trader}/orders", s.handleTraderOrders)
		r.Get("/liquidatable", s.handleLiquidatable)

		r.Post("/funding/apply", s.handleApplyFunding)
		r.Get("/market/stats", s.handleMarketStats)

		r.Post("/pool/deposits", s.handlePoolDeposit)
		r.Post("/pool/withdrawals", s.handlePoolWithdraw)
		r.Get("/pool", s.handlePoolInfo)
		r.Get("/pool/shares/{lp}", s.handlePoolShares)

		r.Post("/orders", s.handlePlaceLimitOrder)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Delete("/orders/{id}", s.handleCancelOrder)

		r.Post("/admin/pause", s.handlePause)
		r.Post("/admin/unpause", s.handleUnpause)
		r.Post("/admin/mint", s.handleMint)
		r.Post("/admin/prices", s.handleSetPrice)
	})

	return r
}

// instrument records request counts and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.metrics.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ============================================================
// DTOs
// ============================================================

type positionResponse struct {
	ID                 uint64    `json:"id"`
	Trader             string    `json:"trader"`
	Symbol             string    `json:"symbol"`
	Direction          string    `json:"direction"`
	Collateral         int64     `json:"collateral"`
	Size               int64     `json:"size"`
	EntryPrice         int64     `json:"entry_price"`
	Leverage           int64     `json:"leverage"`
	LiquidationPrice   int64     `json:"liquidation_price"`
	Status             string    `json:"status"`
	OpenedAt           time.Time `json:"opened_at"`
	LastFundingAt      time.Time `json:"last_funding_at"`
	AccumulatedFunding int64     `json:"accumulated_funding"`
}

func toPositionResponse(p market.Position) positionResponse {
	return positionResponse{
		ID:                 p.ID,
		Trader:             p.Trader,
		Symbol:             p.Symbol,
		Direction:          p.Direction.String(),
		Collateral:         p.Collateral,
		Size:               p.Size,
		EntryPrice:         p.EntryPrice,
		Leverage:           p.Leverage,
		LiquidationPrice:   p.LiquidationPrice,
		Status:             p.Status.String(),
		OpenedAt:           p.OpenedAt,
		LastFundingAt:      p.LastFundingAt,
		AccumulatedFunding: p.AccumulatedFunding,
	}
}

type orderResponse struct {
	ID           uint64    `json:"id"`
	Trader       string    `json:"trader"`
	Symbol       string    `json:"symbol"`
	Kind         string    `json:"kind"`
	Status       string    `json:"status"`
	TriggerPrice int64     `json:"trigger_price"`
	Collateral   int64     `json:"collateral,omitempty"`
	Leverage     int64     `json:"leverage,omitempty"`
	Direction    string    `json:"direction"`
	PositionID   uint64    `json:"position_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toOrderResponse(o market.Order) orderResponse {
	return orderResponse{
		ID:           o.ID,
		Trader:       o.Trader,
		Symbol:       o.Symbol,
		Kind:         o.Kind.String(),
		Status:       o.Status.String(),
		TriggerPrice: o.TriggerPrice,
		Collateral:   o.Collateral,
		Leverage:     o.Leverage,
		Direction:    o.Direction.String(),
		PositionID:   o.PositionID,
		CreatedAt:    o.CreatedAt,
	}
}

// ============================================================
// Position handlers
// ============================================================

func (s *Server) handleOpenPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trader     string `json:"trader"`
		Collateral int64  `json:"collateral"`
		Leverage   int64  `json:"leverage"`
		Direction  string `json:"direction"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		s.writeError(w, err)
		return
	}

	p, err := s.engine.OpenPosition(r.Context(), req.Trader, req.Collateral, req.Leverage, dir)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toPositionResponse(*p))
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := s.engine.Position(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPositionResponse(p))
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Trader string `json:"trader"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	pnl, err := s.engine.ClosePosition(r.Context(), req.Trader, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"pnl": pnl})
}

func (s *Server) handleAddCollateral(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Trader string `json:"trader"`
		Amount int64  `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	p, err := s.engine.AddCollateral(r.Context(), req.Trader, id, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toPositionResponse(*p))
}

func (s *Server) handlePositionPnL(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	pnl, pendingFunding, err := s.engine.PositionPnL(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{
		"pnl":             pnl,
		"pending_funding": pendingFunding,
	})
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Keeper string `json:"keeper"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	toPool, toKeeper, badDebt, err := s.engine.Liquidate(r.Context(), req.Keeper, id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{
		"to_pool":       toPool,
		"keeper_reward": toKeeper,
		"bad_debt":      badDebt,
	})
}

func (s *Server) handleTraderPositions(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")
	positions := s.engine.TraderPositions(trader)
	out := make([]positionResponse, 0, len(positions))
	for _, p := range positions {
		out = append(out, toPositionResponse(p))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	ids, err := s.engine.LiquidatablePositions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	s.writeJSON(w, http.StatusOK, map[string][]uint64{"position_ids": ids})
}

// ============================================================
// Funding and market handlers
// ============================================================

func (s *Server) handleApplyFunding(w http.ResponseWriter, r *http.Request) {
	rate, hours, err := s.engine.ApplyFunding(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{
		"rate_bps":      rate,
		"hours_elapsed": hours,
	})
}

func (s *Server) handleMarketStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engine.Stats())
}

// ============================================================
// Pool handlers
// ============================================================

func (s *Server) handlePoolDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LP     string `json:"lp"`
		Amount int64  `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	minted, err := s.pool.Deposit(req.LP, req.Amount)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PoolDeposits.Inc()
	}
	s.writeJSON(w, http.StatusCreated, map[string]int64{"shares_minted": minted})
}

func (s *Server) handlePoolWithdraw(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LP     string `json:"lp"`
		Shares int64  `json:"shares"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	payout, err := s.pool.Withdraw(req.LP, req.Shares)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PoolWithdrawals.Inc()
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"payout": payout})
}

func (s *Server) handlePoolInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.pool.Info()
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePoolShares(w http.ResponseWriter, r *http.Request) {
	lp := chi.URLParam(r, "lp")
	s.writeJSON(w, http.StatusOK, map[string]int64{"shares": s.pool.ShareBalance(lp)})
}

// ============================================================
// Order handlers
// ============================================================

func (s *Server) handlePlaceLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Trader       string `json:"trader"`
		Collateral   int64  `json:"collateral"`
		Leverage     int64  `json:"leverage"`
		Direction    string `json:"direction"`
		TriggerPrice int64  `json:"trigger_price"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	dir, err := parseDirection(req.Direction)
	if err != nil {
		s.writeError(w, err)
		return
	}

	o, err := s.engine.PlaceLimitOrder(req.Trader, req.Collateral, req.Leverage, dir, req.TriggerPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(*o))
}

func (s *Server) handleAttachStopLoss(w http.ResponseWriter, r *http.Request) {
	s.attachConditional(w, r, s.engine.AttachStopLoss)
}

func (s *Server) handleAttachTakeProfit(w http.ResponseWriter, r *http.Request) {
	s.attachConditional(w, r, s.engine.AttachTakeProfit)
}

func (s *Server) attachConditional(w http.ResponseWriter, r *http.Request, attach func(string, uint64, int64) (*market.Order, error)) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Trader       string `json:"trader"`
		TriggerPrice int64  `json:"trigger_price"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	o, err := attach(req.Trader, id, req.TriggerPrice)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toOrderResponse(*o))
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	o, err := s.engine.Order(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toOrderResponse(o))
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Trader string `json:"trader"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.engine.CancelOrder(req.Trader, id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTraderOrders(w http.ResponseWriter, r *http.Request) {
	trader := chi.URLParam(r, "trader")
	orders := s.engine.TraderOrders(trader)
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrderResponse(o))
	}
	s.writeJSON(w, http.StatusOK, out)
}

// ============================================================
// Admin handlers
// ============================================================

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Pause(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.engine.Unpause(req.Caller); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Holder string `json:"holder"`
		Amount int64  `json:"amount"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.bank.Mint(req.Holder, req.Amount); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"balance": s.bank.Balance(req.Holder)})
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Symbol string `json:"symbol"`
		Value  int64  `json:"value"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Symbol == "" || req.Value <= 0 {
		s.writeError(w, market.ErrInvalidPrice)
		return
	}
	s.prices.Set(req.Symbol, req.Value, time.Now())
	w.WriteHeader(http.StatusNoContent)
}

// ============================================================
// Plumbing
// ============================================================

func parseDirection(s string) (market.Direction, error) {
	switch s {
	case "long":
		return market.Long, nil
	case "short":
		return market.Short, nil
	default:
		return 0, market.ErrInvalidDirection
	}
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, key string) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, key), 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("write response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps engine sentinel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, market.ErrPositionNotFound),
		errors.Is(err, market.ErrOrderNotFound),
		errors.Is(err, market.ErrAssetNotSupported):
		return http.StatusNotFound

	case errors.Is(err, market.ErrUnauthorized),
		errors.Is(err, market.ErrNotPositionOwner),
		errors.Is(err, market.ErrNotOrderOwner),
		errors.Is(err, market.ErrUnauthorizedSettlement):
		return http.StatusForbidden

	case errors.Is(err, market.ErrPaused),
		errors.Is(err, market.ErrNotLiquidatable),
		errors.Is(err, market.ErrPositionNotOpen),
		errors.Is(err, market.ErrOrderNotOpen),
		errors.Is(err, market.ErrFundingIntervalNotElapsed):
		return http.StatusConflict

	case errors.Is(err, market.ErrInsufficientBalance),
		errors.Is(err, market.ErrInsufficientLiquidity),
		errors.Is(err, market.ErrInsufficientShares):
		return http.StatusUnprocessableEntity

	case errors.Is(err, market.ErrPriceStale):
		return http.StatusServiceUnavailable

	default:
		return http.StatusBadRequest
	}
}
