package bots

import (
	"github.com/shopspring/decimal"

	"lobsim/engine"
)

var two = decimal.NewFromInt(2)

// midPrice is the midpoint when both sides quote, the single quote when one
// does, and fallback on an empty book.
func midPrice(view engine.TopOfBook, fallback decimal.Decimal) decimal.Decimal {
	switch {
	case view.BestBid != nil && view.BestAsk != nil:
		return view.BestBid.Price.Add(view.BestAsk.Price).Div(two)
	case view.BestBid != nil:
		return view.BestBid.Price
	case view.BestAsk != nil:
		return view.BestAsk.Price
	default:
		return fallback
	}
}

// roundToTick truncates price down to a multiple of tick.
func roundToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}
