package engine

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Side represents the direction of an order.
type Side int

const (
	// Buy indicates a bid order.
	Buy Side = iota
	// Sell indicates an ask order.
	Sell
)

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func (s Side) valid() bool { return s == Buy || s == Sell }

func (s Side) String() string {
	switch s {
	case Buy:
		return "BUY"
	case Sell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// OrderType represents the execution style for an order.
type OrderType int

const (
	// Limit orders rest on the book until filled or canceled.
	Limit OrderType = iota
	// Market orders consume available liquidity immediately and never rest.
	Market
)

func (t OrderType) valid() bool { return t == Limit || t == Market }

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "LIMIT"
	case Market:
		return "MARKET"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

// ParseSide accepts the usual spellings of a side, case-insensitively.
func ParseSide(value string) (Side, error) {
	switch strings.ToLower(value) {
	case "buy", "bid", "b":
		return Buy, nil
	case "sell", "ask", "s":
		return Sell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", value)
	}
}

// ParseOrderType accepts the usual spellings of an order type, case-insensitively.
func ParseOrderType(value string) (OrderType, error) {
	switch strings.ToLower(value) {
	case "limit", "lmt":
		return Limit, nil
	case "market", "mkt":
		return Market, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", value)
	}
}

// OrderID identifies an order for the lifetime of a book. Ids are assigned by
// the caller; the engine never generates them.
type OrderID uint64

// Fill captures one executed trade between a buy order and a sell order.
type Fill struct {
	BuyOrderID  OrderID
	SellOrderID OrderID
	Price       decimal.Decimal
	Quantity    int64
	Timestamp   int64
}

// Notional is price times quantity.
func (f Fill) Notional() decimal.Decimal {
	return f.Price.Mul(decimal.NewFromInt(f.Quantity))
}

func (f Fill) String() string {
	return fmt.Sprintf("Fill[BuyID=%d, SellID=%d, Price=%s, Qty=%d, TS=%d]",
		f.BuyOrderID, f.SellOrderID, f.Price.String(), f.Quantity, f.Timestamp)
}

// Quote is the best price on one side of the book and the quantity resting there.
type Quote struct {
	Price    decimal.Decimal
	Quantity int64
}

// TopOfBook summarizes the best level on each side. A nil quote means that
// side of the book is empty.
type TopOfBook struct {
	BestBid *Quote
	BestAsk *Quote
}

// Spread returns best ask minus best bid when both sides are present.
func (t TopOfBook) Spread() (decimal.Decimal, bool) {
	if t.BestBid == nil || t.BestAsk == nil {
		return decimal.Zero, false
	}
	return t.BestAsk.Price.Sub(t.BestBid.Price), true
}

// PriceLevel is an aggregated view of one price on one side of the book.
type PriceLevel struct {
	Price         decimal.Decimal
	TotalQuantity int64
	OrderCount    int
}
