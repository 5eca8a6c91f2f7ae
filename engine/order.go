package engine

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidOrder is matched by every construction-time validation failure.
var ErrInvalidOrder = errors.New("invalid order")

// InvalidOrderError names the order constraint that failed.
type InvalidOrderError struct {
	Field  string
	Reason string
}

func (e *InvalidOrderError) Error() string {
	return fmt.Sprintf("invalid order: %s %s", e.Field, e.Reason)
}

// Is reports ErrInvalidOrder as a match so callers can use errors.Is.
func (e *InvalidOrderError) Is(target error) bool {
	return target == ErrInvalidOrder
}

// Order describes a request to trade. Only Quantity changes after
// construction; it holds the remaining, unfilled amount.
type Order struct {
	ID        OrderID
	Side      Side
	Type      OrderType
	Price     decimal.Decimal
	Quantity  int64
	Timestamp int64
}

// NewOrder validates and stamps a new order. Market orders carry a zero price.
func NewOrder(id OrderID, price decimal.Decimal, quantity int64, side Side, typ OrderType) (Order, error) {
	if typ == Market {
		price = decimal.Zero
	}
	o := Order{
		ID:       id,
		Side:     side,
		Type:     typ,
		Price:    price,
		Quantity: quantity,
	}
	if err := o.Validate(); err != nil {
		return Order{}, err
	}
	o.Timestamp = arrivals.Now()
	return o, nil
}

// NewLimitOrder builds a limit order.
func NewLimitOrder(id OrderID, price decimal.Decimal, quantity int64, side Side) (Order, error) {
	return NewOrder(id, price, quantity, side, Limit)
}

// NewMarketOrder builds a market order.
func NewMarketOrder(id OrderID, quantity int64, side Side) (Order, error) {
	return NewOrder(id, decimal.Zero, quantity, side, Market)
}

// Validate checks side, type, quantity and, for limit orders, price.
func (o Order) Validate() error {
	switch {
	case !o.Side.valid():
		return &InvalidOrderError{Field: "side", Reason: fmt.Sprintf("must be BUY or SELL, got %s", o.Side)}
	case !o.Type.valid():
		return &InvalidOrderError{Field: "type", Reason: fmt.Sprintf("must be LIMIT or MARKET, got %s", o.Type)}
	case o.Quantity <= 0:
		return &InvalidOrderError{Field: "quantity", Reason: fmt.Sprintf("must be positive, got %d", o.Quantity)}
	case o.Type == Limit && !o.Price.IsPositive():
		return &InvalidOrderError{Field: "price", Reason: fmt.Sprintf("must be positive for limit orders, got %s", o.Price)}
	}
	return nil
}

func (o Order) IsBuy() bool    { return o.Side == Buy }
func (o Order) IsSell() bool   { return o.Side == Sell }
func (o Order) IsLimit() bool  { return o.Type == Limit }
func (o Order) IsMarket() bool { return o.Type == Market }

// Equal reports whether both values refer to the same order id.
func (o Order) Equal(other Order) bool {
	return o.ID == other.ID
}

// Before orders by arrival time.
func (o Order) Before(other Order) bool {
	return o.Timestamp < other.Timestamp
}

func (o Order) String() string {
	price := "MARKET"
	if o.IsLimit() {
		price = o.Price.String()
	}
	return fmt.Sprintf("Order[ID=%d, %s %s %d@%s, TS=%d]", o.ID, o.Side, o.Type, o.Quantity, price, o.Timestamp)
}
