package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobsim/engine"
	"lobsim/metrics"
)

type orderRequest struct {
	// ID is optional; the server assigns one when it is zero.
	ID       uint64          `json:"id"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

type modifyRequest struct {
	Quantity int64 `json:"quantity"`
}

type fillView struct {
	BuyOrderID  uint64          `json:"buyOrderId"`
	SellOrderID uint64          `json:"sellOrderId"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Timestamp   int64           `json:"timestamp"`
}

type executionResponse struct {
	ID        uint64     `json:"id"`
	Status    string     `json:"status"`
	Filled    int64      `json:"filled"`
	Rested    int64      `json:"rested"`
	Discarded int64      `json:"discarded"`
	Fills     []fillView `json:"fills"`
}

type orderView struct {
	ID        uint64          `json:"id"`
	Side      string          `json:"side"`
	Type      string          `json:"type"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Timestamp int64           `json:"timestamp"`
}

type statusResponse struct {
	ID       uint64 `json:"id"`
	Status   string `json:"status"`
	Quantity int64  `json:"quantity,omitempty"`
}

type quoteView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
}

type levelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

type bookResponse struct {
	Bids []levelView `json:"bids"`
	Asks []levelView `json:"asks"`
}

type topOfBookView struct {
	BestBid *quoteView       `json:"bestBid,omitempty"`
	BestAsk *quoteView       `json:"bestAsk,omitempty"`
	Spread  *decimal.Decimal `json:"spread,omitempty"`
}

type statsResponse struct {
	TotalFills  uint64          `json:"totalFills"`
	TotalVolume decimal.Decimal `json:"totalVolume"`
	TotalOrders int             `json:"totalOrders"`
	topOfBookView
}

type outboundMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}

	order, err := s.buildOrder(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	report, err := s.runner.Submit(r.Context(), order)
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveExecution(order, report)
	}

	switch {
	case errors.Is(report.Reject, engine.ErrDuplicateOrder):
		writeError(w, http.StatusConflict, report.Reject)
		return
	case report.Reject != nil:
		writeError(w, http.StatusBadRequest, report.Reject)
		return
	}

	requestLogger(r.Context(), s.logger).Info("order executed",
		zap.Uint64("order_id", uint64(order.ID)),
		zap.String("outcome", metrics.Outcome(report)),
		zap.Int("fills", len(report.Fills)))

	resp := executionResponse{
		ID:        uint64(order.ID),
		Status:    metrics.Outcome(report),
		Filled:    report.Filled,
		Rested:    report.Rested,
		Discarded: report.Discarded,
		Fills:     make([]fillView, 0, len(report.Fills)),
	}
	for _, f := range report.Fills {
		resp.Fills = append(resp.Fills, toFillView(f))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) buildOrder(req orderRequest) (engine.Order, error) {
	side, err := engine.ParseSide(req.Side)
	if err != nil {
		return engine.Order{}, err
	}
	typ, err := engine.ParseOrderType(req.Type)
	if err != nil {
		return engine.Order{}, err
	}
	id := engine.OrderID(req.ID)
	if id == 0 {
		id = engine.OrderID(s.ids.Add(1))
	}
	return engine.NewOrder(id, req.Price, req.Quantity, side, typ)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	order, found, err := s.runner.Order(r.Context(), id)
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("order %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, orderView{
		ID:        uint64(order.ID),
		Side:      order.Side.String(),
		Type:      order.Type.String(),
		Price:     order.Price,
		Quantity:  order.Quantity,
		Timestamp: order.Timestamp,
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := s.runner.Cancel(r.Context(), id)
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveCancel(found)
	}
	if !found {
		writeError(w, http.StatusNotFound, fmt.Errorf("order %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: uint64(id), Status: "cancelled"})
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req modifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid payload: %w", err))
		return
	}
	if req.Quantity <= 0 {
		if s.metrics != nil {
			s.metrics.ObserveModify(req.Quantity, false)
		}
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("quantity must be positive, got %d", req.Quantity))
		return
	}

	applied, err := s.runner.Modify(r.Context(), id, req.Quantity)
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveModify(req.Quantity, applied)
	}
	if !applied {
		writeError(w, http.StatusNotFound, fmt.Errorf("order %d not found", id))
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{ID: uint64(id), Status: "modified", Quantity: req.Quantity})
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	depth := s.cfg.DefaultDepth
	if raw := r.URL.Query().Get("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid depth %q", raw))
			return
		}
		depth = n
	}

	d, err := s.runner.Depth(r.Context(), depth)
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bookResponse{Bids: toLevelViews(d.Bids), Asks: toLevelViews(d.Asks)})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.runner.Stats(r.Context())
	if err != nil {
		s.runnerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{
		TotalFills:    stats.TotalFills,
		TotalVolume:   stats.TotalVolume,
		TotalOrders:   stats.TotalOrders,
		topOfBookView: toTopOfBookView(stats.TopOfBook),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.runner.TopOfBook(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) runnerError(w http.ResponseWriter, r *http.Request, err error) {
	requestLogger(r.Context(), s.logger).Warn("engine request failed", zap.Error(err))
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err)
	default:
		writeError(w, http.StatusServiceUnavailable, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (engine.OrderID, bool) {
	raw := r.PathValue("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid order id %q", raw))
		return 0, false
	}
	return engine.OrderID(n), true
}

func toFillView(f engine.Fill) fillView {
	return fillView{
		BuyOrderID:  uint64(f.BuyOrderID),
		SellOrderID: uint64(f.SellOrderID),
		Price:       f.Price,
		Quantity:    f.Quantity,
		Timestamp:   f.Timestamp,
	}
}

func toLevelViews(levels []engine.PriceLevel) []levelView {
	out := make([]levelView, 0, len(levels))
	for _, l := range levels {
		out = append(out, levelView{Price: l.Price, Quantity: l.TotalQuantity, Orders: l.OrderCount})
	}
	return out
}

func toQuoteView(q *engine.Quote) *quoteView {
	if q == nil {
		return nil
	}
	return &quoteView{Price: q.Price, Quantity: q.Quantity}
}

func toTopOfBookView(tob engine.TopOfBook) topOfBookView {
	view := topOfBookView{BestBid: toQuoteView(tob.BestBid), BestAsk: toQuoteView(tob.BestAsk)}
	if spread, ok := tob.Spread(); ok {
		view.Spread = &spread
	}
	return view
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
