package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FillHandler receives every fill synchronously, in generation order.
type FillHandler interface {
	OnFill(Fill)
}

// FillHandlerFunc adapts a function to the FillHandler interface.
type FillHandlerFunc func(Fill)

// OnFill calls f.
func (f FillHandlerFunc) OnFill(fill Fill) { f(fill) }

// MultiFillHandler fans each fill out to every handler in order.
type MultiFillHandler []FillHandler

// OnFill forwards fill to each non-nil handler.
func (m MultiFillHandler) OnFill(fill Fill) {
	for _, h := range m {
		if h != nil {
			h.OnFill(fill)
		}
	}
}

// ErrDuplicateOrder rejects a limit order whose id is already resting.
var ErrDuplicateOrder = errors.New("order id already resting")

// ExecutionReport describes what happened to one incoming order.
type ExecutionReport struct {
	// Reject is set when the order was refused before matching.
	Reject error
	Fills  []Fill
	// Filled is the quantity executed against resting orders.
	Filled int64
	// Rested is the limit remainder left on the book.
	Rested int64
	// Discarded is the market remainder no liquidity could absorb.
	Discarded int64
}

// MatchingEngine pairs incoming orders against an OrderBook. Like the book
// itself it is single threaded; wrap it in a Runner to share it.
type MatchingEngine struct {
	book   *OrderBook
	onFill FillHandler
	clock  Clock
	logger *zap.Logger

	fillCount uint64
	volume    decimal.Decimal
}

// NewMatchingEngine builds an engine over an empty book.
func NewMatchingEngine(opts ...Option) *MatchingEngine {
	me := &MatchingEngine{
		clock:  arrivals,
		logger: zap.NewNop(),
		volume: decimal.Zero,
	}
	for _, opt := range opts {
		opt(me)
	}
	me.book = NewOrderBook(me.logger)
	return me
}

// ProcessOrder matches order and returns the fills it produced.
func (me *MatchingEngine) ProcessOrder(order Order) []Fill {
	return me.Execute(order).Fills
}

// Execute matches order against the opposite side. Limit remainders rest on
// the book; market remainders are discarded and reported. An accepted order is
// restamped from the engine clock on arrival, so time priority follows the
// order in which Execute sees orders, not when they were built.
func (me *MatchingEngine) Execute(order Order) ExecutionReport {
	me.logger.Info("processing order", zap.Stringer("order", order))

	var report ExecutionReport
	switch order.Type {
	case Limit, Market:
	default:
		me.logger.Error("unknown order type",
			zap.Uint64("order_id", uint64(order.ID)),
			zap.Stringer("type", order.Type))
		report.Reject = &InvalidOrderError{Field: "type", Reason: fmt.Sprintf("must be LIMIT or MARKET, got %s", order.Type)}
		return report
	}
	if err := order.Validate(); err != nil {
		me.logger.Error("rejecting order", zap.Uint64("order_id", uint64(order.ID)), zap.Error(err))
		report.Reject = err
		return report
	}
	if _, resting := me.book.index[order.ID]; resting && order.IsLimit() {
		me.logger.Error("order id already resting", zap.Uint64("order_id", uint64(order.ID)))
		report.Reject = fmt.Errorf("order %d: %w", order.ID, ErrDuplicateOrder)
		return report
	}

	incoming := order
	incoming.Timestamp = me.clock.Now()
	report.Fills = me.sweep(&incoming)
	report.Filled = order.Quantity - incoming.Quantity

	if incoming.Quantity > 0 {
		if incoming.IsLimit() {
			me.book.AddOrder(incoming)
			report.Rested = incoming.Quantity
		} else {
			me.logger.Error("market order partially rejected - remaining quantity",
				zap.Uint64("order_id", uint64(order.ID)),
				zap.Int64("remaining", incoming.Quantity))
			report.Discarded = incoming.Quantity
		}
	}

	for _, fill := range report.Fills {
		if me.onFill != nil {
			me.onFill.OnFill(fill)
		}
		me.fillCount++
		me.volume = me.volume.Add(fill.Notional())
	}

	me.logger.Info("order processed",
		zap.Uint64("order_id", uint64(order.ID)),
		zap.Int("fills", len(report.Fills)),
		zap.Int64("filled", report.Filled))
	return report
}

// crosses reports whether a resting level at price is marketable for incoming.
func crosses(incoming *Order, price decimal.Decimal) bool {
	if incoming.IsMarket() {
		return true
	}
	if incoming.IsBuy() {
		return price.LessThanOrEqual(incoming.Price)
	}
	return price.GreaterThanOrEqual(incoming.Price)
}

// sweep consumes opposite-side liquidity best level first, oldest order first,
// until incoming is filled or no level crosses.
func (me *MatchingEngine) sweep(incoming *Order) []Fill {
	var fills []Fill
	opposite := me.book.ladder(incoming.Side.Opposite())

	for incoming.Quantity > 0 {
		lvl, ok := opposite.best()
		if !ok || !crosses(incoming, lvl.price) {
			break
		}

		for incoming.Quantity > 0 {
			elem, passive := lvl.head()
			if passive == nil {
				break
			}

			qty := min(incoming.Quantity, passive.Quantity)
			incoming.Quantity -= qty
			lvl.fill(passive, qty)

			fill := Fill{Price: lvl.price, Quantity: qty, Timestamp: me.clock.Now()}
			if incoming.IsBuy() {
				fill.BuyOrderID, fill.SellOrderID = incoming.ID, passive.ID
			} else {
				fill.BuyOrderID, fill.SellOrderID = passive.ID, incoming.ID
			}
			fills = append(fills, fill)

			if passive.Quantity == 0 {
				me.book.detach(passive.ID, location{side: passive.Side, level: lvl, elem: elem})
				me.logger.Debug("removed filled order", zap.Uint64("order_id", uint64(passive.ID)))
			}
		}

		if lvl.empty() {
			opposite.drop(lvl)
			me.logger.Debug("removed empty price level",
				zap.Stringer("side", opposite.side),
				zap.String("price", lvl.price.String()))
		}
	}
	return fills
}

// CancelOrder removes a resting order.
func (me *MatchingEngine) CancelOrder(id OrderID) bool {
	return me.book.CancelOrder(id)
}

// ModifyOrder changes a resting order's remaining quantity in place.
func (me *MatchingEngine) ModifyOrder(id OrderID, newQuantity int64) bool {
	return me.book.ModifyOrder(id, newQuantity)
}

// Book exposes the underlying book for queries. Mutating it directly bypasses
// fill reporting and statistics.
func (me *MatchingEngine) Book() *OrderBook { return me.book }

// TotalFills counts fills produced since construction.
func (me *MatchingEngine) TotalFills() uint64 { return me.fillCount }

// TotalVolume sums price times quantity across all fills.
func (me *MatchingEngine) TotalVolume() decimal.Decimal { return me.volume }

func (me *MatchingEngine) TopOfBook() TopOfBook { return me.book.TopOfBook() }

func (me *MatchingEngine) BidLevels(depth int) []PriceLevel { return me.book.BidLevels(depth) }

func (me *MatchingEngine) AskLevels(depth int) []PriceLevel { return me.book.AskLevels(depth) }

func (me *MatchingEngine) TotalOrders() int { return me.book.TotalOrders() }

func (me *MatchingEngine) Empty() bool { return me.book.Empty() }
