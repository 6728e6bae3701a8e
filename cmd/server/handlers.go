package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clobcore/matching-engine/internal/market"
	"github.com/clobcore/matching-engine/internal/orderbook"
	"github.com/clobcore/matching-engine/internal/orderid"
	"github.com/clobcore/matching-engine/internal/riskgate"
	"github.com/clobcore/matching-engine/internal/side"
)

// OrderRequest is a new_order submission over HTTP.
type OrderRequest struct {
	Market      string `json:"market"`
	Side        string `json:"side"` // "bid" or "ask"
	AccountID   string `json:"account_id"`
	MaxBaseQty  uint64 `json:"max_base_qty"`
	MaxQuoteQty uint64 `json:"max_quote_qty"`
	LimitPrice  uint64 `json:"limit_price"` // FP32
	MatchLimit  uint64 `json:"match_limit"`
	PostOnly    bool   `json:"post_only"`
	PostAllowed bool   `json:"post_allowed"`
}

// OrderResponse mirrors the result of a NewOrderOp call.
type OrderResponse struct {
	Success            bool   `json:"success"`
	Posted             bool   `json:"posted,omitempty"`
	PostedOrderIDHi    uint64 `json:"posted_order_id_hi,omitempty"`
	PostedOrderIDLo    uint64 `json:"posted_order_id_lo,omitempty"`
	TotalBaseQty       uint64 `json:"total_base_qty,omitempty"`
	TotalQuoteQty      uint64 `json:"total_quote_qty,omitempty"`
	TotalBaseQtyPosted uint64 `json:"total_base_qty_posted,omitempty"`
	RejectReason       string `json:"reject_reason,omitempty"`
	Error              string `json:"error,omitempty"`
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, OrderResponse{Error: "invalid request: " + err.Error()})
		return
	}

	rt, ok := s.markets[req.Market]
	if !ok {
		writeJSON(w, http.StatusNotFound, OrderResponse{Error: "unknown market"})
		return
	}

	var orderSide side.Side
	switch req.Side {
	case "bid", "buy":
		orderSide = side.Bid
	case "ask", "sell":
		orderSide = side.Ask
	default:
		writeJSON(w, http.StatusBadRequest, OrderResponse{Error: "side must be 'bid' or 'ask'"})
		return
	}

	params := orderbook.NewOrderParams{
		MaxBaseQty:   req.MaxBaseQty,
		MaxQuoteQty:  req.MaxQuoteQty,
		LimitPrice:   req.LimitPrice,
		Side:         orderSide,
		MatchLimit:   req.MatchLimit,
		CallbackInfo: encodeCallbackInfo(req.AccountID, rt.accountIDLen),
		PostOnly:     req.PostOnly,
		PostAllowed:  req.PostAllowed,
	}

	riskResult := s.risk.Check(riskgate.MarketID(req.Market), riskgate.AccountID(params.CallbackInfo[:rt.accountIDLen]), params)
	if !riskResult.Passed {
		s.metrics.ordersRejected.WithLabelValues(req.Market, "risk").Inc()
		writeJSON(w, http.StatusBadRequest, OrderResponse{RejectReason: riskResult.Reason})
		return
	}

	summary, err := rt.engine.SubmitNewOrder(params, time.Now().UnixNano())
	if err != nil {
		s.metrics.ordersRejected.WithLabelValues(req.Market, "engine").Inc()
		writeJSON(w, http.StatusBadRequest, OrderResponse{Error: errString(err)})
		return
	}
	s.metrics.ordersSubmitted.WithLabelValues(req.Market).Inc()

	if summary.Posted {
		rt.view.RecordPost(summary.PostedOrderID, summary.TotalBaseQtyPosted)
	}

	writeJSON(w, http.StatusOK, OrderResponse{
		Success:            true,
		Posted:             summary.Posted,
		PostedOrderIDHi:    summary.PostedOrderID.Hi,
		PostedOrderIDLo:    summary.PostedOrderID.Lo,
		TotalBaseQty:       summary.TotalBaseQty,
		TotalQuoteQty:      summary.TotalQuoteQty,
		TotalBaseQtyPosted: summary.TotalBaseQtyPosted,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost && r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	mktName := r.URL.Query().Get("market")
	hiStr, loStr := r.URL.Query().Get("order_id_hi"), r.URL.Query().Get("order_id_lo")
	rt, ok := s.markets[mktName]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown market"})
		return
	}
	hi, err1 := strconv.ParseUint(hiStr, 10, 64)
	lo, err2 := strconv.ParseUint(loStr, 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid order_id_hi/order_id_lo"})
		return
	}

	summary, err := rt.engine.SubmitCancelOrder(orderid.ID{Hi: hi, Lo: lo})
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": errString(err)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":          true,
		"total_base_qty":   summary.TotalBaseQty,
		"total_quote_qty":  summary.TotalQuoteQty,
	})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.markets[r.URL.Query().Get("market")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown market"})
		return
	}
	levels := 10
	if l := r.URL.Query().Get("levels"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			levels = parsed
		}
	}
	writeJSON(w, http.StatusOK, rt.view.L2(levels, time.Now().UnixNano()))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	rt, ok := s.markets[r.URL.Query().Get("market")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown market"})
		return
	}
	writeJSON(w, http.StatusOK, rt.view.L1(time.Now().UnixNano()))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("id")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id required"})
		return
	}
	account := s.clearing.GetAccount(accountID)
	if account == nil {
		account = s.clearing.GetOrCreateAccount(accountID, 0)
	}
	writeJSON(w, http.StatusOK, account)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	settlementStats := s.clearing.GetSettlementStats()
	marketStats := make(map[string]int)
	for name, rt := range s.markets {
		seq, _ := rt.wal.LastSequence()
		marketStats[name] = int(seq)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settlement":        settlementStats,
		"wal_last_sequence": marketStats,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.hub.ServeWS(w, r); err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errString(err error) string {
	var merr *market.Error
	if errors.As(err, &merr) {
		return merr.Code.String()
	}
	return err.Error()
}
