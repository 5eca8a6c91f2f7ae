package engine

import (
	"container/list"

	"github.com/shopspring/decimal"
	"github.com/tidwall/btree"
)

// priceLevel is a FIFO of resting orders sharing one price. The front of the
// list is the oldest order.
type priceLevel struct {
	price  decimal.Decimal
	orders *list.List // of *Order
	volume int64
}

func newPriceLevel(price decimal.Decimal) *priceLevel {
	return &priceLevel{price: price, orders: list.New()}
}

func (l *priceLevel) push(o *Order) *list.Element {
	l.volume += o.Quantity
	return l.orders.PushBack(o)
}

func (l *priceLevel) head() (*list.Element, *Order) {
	front := l.orders.Front()
	if front == nil {
		return nil, nil
	}
	return front, front.Value.(*Order)
}

func (l *priceLevel) remove(elem *list.Element) *Order {
	o := l.orders.Remove(elem).(*Order)
	l.volume -= o.Quantity
	return o
}

// fill takes qty off o, which must be queued at this level.
func (l *priceLevel) fill(o *Order, qty int64) {
	o.Quantity -= qty
	l.volume -= qty
}

// resize replaces o's quantity in place without touching its queue position.
func (l *priceLevel) resize(o *Order, qty int64) {
	l.volume += qty - o.Quantity
	o.Quantity = qty
}

func (l *priceLevel) len() int { return l.orders.Len() }

func (l *priceLevel) empty() bool { return l.orders.Len() == 0 }

func (l *priceLevel) view() PriceLevel {
	return PriceLevel{Price: l.price, TotalQuantity: l.volume, OrderCount: l.orders.Len()}
}

// ladder is one side of the book: price levels kept in priority order, best
// first. The comparator is bound when the ladder is built.
type ladder struct {
	side   Side
	levels *btree.BTreeG[*priceLevel]
}

func newBidLadder() *ladder {
	return &ladder{
		side: Buy,
		levels: btree.NewBTreeGOptions(func(a, b *priceLevel) bool {
			return a.price.GreaterThan(b.price)
		}, btree.Options{NoLocks: true}),
	}
}

func newAskLadder() *ladder {
	return &ladder{
		side: Sell,
		levels: btree.NewBTreeGOptions(func(a, b *priceLevel) bool {
			return a.price.LessThan(b.price)
		}, btree.Options{NoLocks: true}),
	}
}

// best returns the highest-priority level: highest bid or lowest ask.
func (l *ladder) best() (*priceLevel, bool) {
	return l.levels.Min()
}

func (l *ladder) get(price decimal.Decimal) (*priceLevel, bool) {
	return l.levels.Get(&priceLevel{price: price})
}

func (l *ladder) getOrCreate(price decimal.Decimal) *priceLevel {
	if lvl, ok := l.get(price); ok {
		return lvl
	}
	lvl := newPriceLevel(price)
	l.levels.Set(lvl)
	return lvl
}

func (l *ladder) drop(lvl *priceLevel) {
	l.levels.Delete(lvl)
}

// scan visits levels best to worst until fn returns false.
func (l *ladder) scan(fn func(*priceLevel) bool) {
	l.levels.Scan(fn)
}

func (l *ladder) len() int { return l.levels.Len() }

// top collects up to depth level views, best first.
func (l *ladder) top(depth int) []PriceLevel {
	if depth <= 0 {
		return nil
	}
	levels := make([]PriceLevel, 0, min(depth, l.len()))
	l.scan(func(lvl *priceLevel) bool {
		levels = append(levels, lvl.view())
		return len(levels) < depth
	})
	return levels
}
