package engine

import (
	"container/list"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrBookCorrupted is wrapped by every invariant violation CheckIntegrity finds.
var ErrBookCorrupted = errors.New("order book corrupted")

// location pins a resting order to its level and queue slot.
type location struct {
	side  Side
	level *priceLevel
	elem  *list.Element
}

// OrderBook maintains resting limit orders on both sides using price-time
// priority. It is not safe for concurrent use; see Runner.
type OrderBook struct {
	bids   *ladder
	asks   *ladder
	index  map[OrderID]location
	logger *zap.Logger
}

// NewOrderBook builds an empty book. A nil logger discards everything.
func NewOrderBook(logger *zap.Logger) *OrderBook {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OrderBook{
		bids:   newBidLadder(),
		asks:   newAskLadder(),
		index:  make(map[OrderID]location),
		logger: logger,
	}
}

func (ob *OrderBook) ladder(side Side) *ladder {
	if side == Buy {
		return ob.bids
	}
	return ob.asks
}

// AddOrder rests a limit order at the tail of its price level. Market orders,
// malformed orders and ids already resting are logged and ignored.
func (ob *OrderBook) AddOrder(order Order) {
	if !order.IsLimit() {
		ob.logger.Error("cannot add market order to order book directly", zap.Uint64("order_id", uint64(order.ID)))
		return
	}
	if err := order.Validate(); err != nil {
		ob.logger.Error("refusing malformed order", zap.Uint64("order_id", uint64(order.ID)), zap.Error(err))
		return
	}
	if _, exists := ob.index[order.ID]; exists {
		ob.logger.Error("order id already resting", zap.Uint64("order_id", uint64(order.ID)))
		return
	}

	o := order
	lvl := ob.ladder(o.Side).getOrCreate(o.Price)
	elem := lvl.push(&o)
	ob.index[o.ID] = location{side: o.Side, level: lvl, elem: elem}

	ob.logger.Debug("added order to price level",
		zap.Stringer("order", o),
		zap.Stringer("side", o.Side),
		zap.String("price", lvl.price.String()))
}

// CancelOrder removes a resting order. It reports false, with no side
// effects, when the id is not resting.
func (ob *OrderBook) CancelOrder(id OrderID) bool {
	loc, ok := ob.index[id]
	if !ok {
		ob.logger.Debug("order not found for cancellation", zap.Uint64("order_id", uint64(id)))
		return false
	}

	ob.detach(id, loc)
	if loc.level.empty() {
		ob.ladder(loc.side).drop(loc.level)
	}

	ob.logger.Info("cancelled order", zap.Uint64("order_id", uint64(id)))
	return true
}

// ModifyOrder replaces the remaining quantity of a resting order. The order
// keeps its place in the queue whether the quantity grows or shrinks.
func (ob *OrderBook) ModifyOrder(id OrderID, newQuantity int64) bool {
	loc, ok := ob.index[id]
	if !ok {
		ob.logger.Debug("order not found for modification", zap.Uint64("order_id", uint64(id)))
		return false
	}
	if newQuantity <= 0 {
		ob.logger.Error("invalid quantity for modification",
			zap.Uint64("order_id", uint64(id)),
			zap.Int64("quantity", newQuantity))
		return false
	}

	o := loc.elem.Value.(*Order)
	old := o.Quantity
	loc.level.resize(o, newQuantity)

	ob.logger.Info("modified order quantity",
		zap.Uint64("order_id", uint64(id)),
		zap.Int64("from", old),
		zap.Int64("to", newQuantity))
	return true
}

// detach unlinks a resting order from its queue and the index. Dropping an
// emptied level is left to the caller.
func (ob *OrderBook) detach(id OrderID, loc location) *Order {
	o := loc.level.remove(loc.elem)
	delete(ob.index, id)
	return o
}

// Order returns a copy of a resting order.
func (ob *OrderBook) Order(id OrderID) (Order, bool) {
	loc, ok := ob.index[id]
	if !ok {
		return Order{}, false
	}
	return *loc.elem.Value.(*Order), true
}

// TopOfBook reports the best price and its aggregate quantity on each side.
func (ob *OrderBook) TopOfBook() TopOfBook {
	var tob TopOfBook
	if lvl, ok := ob.bids.best(); ok {
		tob.BestBid = &Quote{Price: lvl.price, Quantity: lvl.volume}
	}
	if lvl, ok := ob.asks.best(); ok {
		tob.BestAsk = &Quote{Price: lvl.price, Quantity: lvl.volume}
	}
	return tob
}

// Spread returns best ask minus best bid when both sides are present.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	return ob.TopOfBook().Spread()
}

// BidLevels returns up to depth bid levels, highest price first.
func (ob *OrderBook) BidLevels(depth int) []PriceLevel {
	return ob.bids.top(depth)
}

// AskLevels returns up to depth ask levels, lowest price first.
func (ob *OrderBook) AskLevels(depth int) []PriceLevel {
	return ob.asks.top(depth)
}

// TotalOrders counts resting orders on both sides.
func (ob *OrderBook) TotalOrders() int {
	return len(ob.index)
}

// Empty reports whether neither side holds a level.
func (ob *OrderBook) Empty() bool {
	return ob.bids.len() == 0 && ob.asks.len() == 0
}

// Walk visits copies of the resting orders on one side, best price first and
// oldest first within a price, until fn returns false.
func (ob *OrderBook) Walk(side Side, fn func(Order) bool) {
	ob.ladder(side).scan(func(lvl *priceLevel) bool {
		for e := lvl.orders.Front(); e != nil; e = e.Next() {
			if !fn(*e.Value.(*Order)) {
				return false
			}
		}
		return true
	})
}

// CheckIntegrity verifies that every queued order is indexed at its own
// level, every indexed order is queued, no level is empty, level volumes add
// up and the book is not crossed.
func (ob *OrderBook) CheckIntegrity() error {
	seen := 0
	for _, l := range []*ladder{ob.bids, ob.asks} {
		var err error
		l.scan(func(lvl *priceLevel) bool {
			if lvl.empty() {
				err = fmt.Errorf("%w: empty %s level at %s", ErrBookCorrupted, l.side, lvl.price)
				return false
			}
			var volume int64
			var prev int64
			for e := lvl.orders.Front(); e != nil; e = e.Next() {
				o := e.Value.(*Order)
				loc, ok := ob.index[o.ID]
				switch {
				case o.Quantity <= 0:
					err = fmt.Errorf("%w: order %d rests with quantity %d", ErrBookCorrupted, o.ID, o.Quantity)
				case o.Side != l.side || !o.Price.Equal(lvl.price):
					err = fmt.Errorf("%w: order %d (%s %s) stored under %s %s", ErrBookCorrupted, o.ID, o.Side, o.Price, l.side, lvl.price)
				case !ok || loc.level != lvl || loc.elem != e || loc.side != l.side:
					err = fmt.Errorf("%w: order %d not indexed at its level", ErrBookCorrupted, o.ID)
				case o.Timestamp < prev:
					err = fmt.Errorf("%w: order %d queued out of arrival order", ErrBookCorrupted, o.ID)
				}
				if err != nil {
					return false
				}
				prev = o.Timestamp
				volume += o.Quantity
				seen++
			}
			if volume != lvl.volume {
				err = fmt.Errorf("%w: %s level %s volume %d, orders sum to %d", ErrBookCorrupted, l.side, lvl.price, lvl.volume, volume)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}
	if seen != len(ob.index) {
		return fmt.Errorf("%w: %d orders queued, %d indexed", ErrBookCorrupted, seen, len(ob.index))
	}
	if bid, ok := ob.bids.best(); ok {
		if ask, ok := ob.asks.best(); ok && !bid.price.LessThan(ask.price) {
			return fmt.Errorf("%w: crossed book, bid %s >= ask %s", ErrBookCorrupted, bid.price, ask.price)
		}
	}
	return nil
}
