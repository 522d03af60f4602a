// Package httpapi serves net-flow totals over HTTP. All amounts are decimal
// strings in the token's smallest unit.
package httpapi

import (
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/model"
	"github.com/goodnatureofminers/netflow-backend/internal/netflow/service/query"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type netflowResponse struct {
	Address          string `json:"address,omitempty"`
	CumulativeIn     string `json:"cumulativeIn"`
	CumulativeOut    string `json:"cumulativeOut"`
	Netflow          string `json:"netflow"`
	NetflowFormatted string `json:"netflowFormatted"`
	BlockHeight      string `json:"blockHeight"`
	BlockHash        string `json:"blockHash,omitempty"`
}

type healthResponse struct {
	Status      string `json:"status"`
	BlockHeight string `json:"blockHeight,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	logger   *zap.Logger
	query    QueryService
	metrics  Metrics
	decimals int32
}

// NewHandler creates a Handler. decimals is the token's decimal places used
// for netflowFormatted.
func NewHandler(logger *zap.Logger, svc QueryService, metrics Metrics, decimals int32) *Handler {
	return &Handler{
		logger:   logger.Named("http"),
		query:    svc,
		metrics:  metrics,
		decimals: decimals,
	}
}

// Routes returns the API router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.observe)

	r.Get("/healthz", h.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	// GET /netflow, GET /netflow/history?height=N
	r.Get("/netflow", h.handleAggregate)
	r.Get("/netflow/history", h.handleAggregateHistory)

	// GET /netflow/{address}, GET /netflow/{address}/history?height=N
	r.Get("/netflow/{address}", h.handleAddress)
	r.Get("/netflow/{address}/history", h.handleAddressHistory)
	return r
}

func (h *Handler) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		var route string
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		h.metrics.Observe(route, code, started)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	n, err := h.query.CurrentAggregate()
	if err != nil {
		h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "starting"})
		return
	}
	h.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "ok",
		BlockHeight: strconv.FormatUint(n.Cursor.Height, 10),
	})
}

func (h *Handler) handleAggregate(w http.ResponseWriter, _ *http.Request) {
	n, err := h.query.CurrentAggregate()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.current(n))
}

func (h *Handler) handleAddress(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}
	n, err := h.query.Current(addr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.current(n))
}

func (h *Handler) handleAggregateHistory(w http.ResponseWriter, r *http.Request) {
	height, ok := h.height(w, r)
	if !ok {
		return
	}
	p, err := h.query.AggregateAt(r.Context(), height)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.pointInTime(p, ""))
}

func (h *Handler) handleAddressHistory(w http.ResponseWriter, r *http.Request) {
	addr, ok := h.address(w, r)
	if !ok {
		return
	}
	height, ok := h.height(w, r)
	if !ok {
		return
	}
	p, err := h.query.At(r.Context(), addr, height)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.pointInTime(p, model.Entry{Address: addr}.Key()))
}

// address parses the {address} path segment. A malformed address cannot be
// tracked, so it gets the same 404 as an untracked one.
func (h *Handler) address(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addr, err := model.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		h.logger.Debug("malformed address", zap.Error(err))
		h.writeError(w, model.ErrNotTracked)
		return common.Address{}, false
	}
	return addr, true
}

func (h *Handler) height(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := r.URL.Query().Get("height")
	if raw == "" {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing query param height"})
		return 0, false
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid height " + strconv.Quote(raw)})
		return 0, false
	}
	return height, true
}

func (h *Handler) current(n query.Netflow) netflowResponse {
	resp := h.amounts(n.Entry.In.ToBig(), n.Entry.Out.ToBig())
	if !n.Entry.Aggregate {
		resp.Address = n.Entry.Key()
	}
	resp.BlockHeight = strconv.FormatUint(n.Cursor.Height, 10)
	resp.BlockHash = n.Cursor.Hash.Hex()
	return resp
}

func (h *Handler) pointInTime(p model.PointInTime, address string) netflowResponse {
	resp := h.amounts(p.In, p.Out)
	resp.Address = address
	resp.BlockHeight = strconv.FormatUint(p.Height, 10)
	return resp
}

func (h *Handler) amounts(in, out *big.Int) netflowResponse {
	netflow := new(big.Int).Sub(in, out)
	return netflowResponse{
		CumulativeIn:     in.String(),
		CumulativeOut:    out.String(),
		Netflow:          netflow.String(),
		NetflowFormatted: decimal.NewFromBigInt(netflow, -h.decimals).String(),
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotTracked):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "address not tracked"})
	case errors.Is(err, query.ErrHeightAhead):
		h.writeJSON(w, http.StatusNotFound, errorResponse{Error: "height not ingested yet"})
	case errors.Is(err, model.ErrUnavailable):
		h.writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
	default:
		h.logger.Error("query failed", zap.Error(err))
		h.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("write response failed", zap.Error(err))
	}
}
