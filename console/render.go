// Package console drives a MatchingEngine from a terminal: an interactive
// command shell and a timed random-flow simulation.
package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

var hundred = decimal.NewFromInt(100)

// PrintBook writes up to depth levels per side: asks worst to best above a
// rule, bids best to worst below it, then the spread.
func PrintBook(w io.Writer, me *engine.MatchingEngine, depth int) {
	fmt.Fprintln(w, "\n=== ORDER BOOK ===")

	asks := me.AskLevels(depth)
	for i := len(asks) - 1; i >= 0; i-- {
		lvl := asks[i]
		fmt.Fprintf(w, "%12s%8d @ %8s SELL (%d orders)\n", "", lvl.TotalQuantity, lvl.Price.StringFixed(2), lvl.OrderCount)
	}
	fmt.Fprintln(w, strings.Repeat("-", 50))
	for _, lvl := range me.BidLevels(depth) {
		fmt.Fprintf(w, "BUY (%d orders) %8s @ %8d\n", lvl.OrderCount, lvl.Price.StringFixed(2), lvl.TotalQuantity)
	}

	tob := me.TopOfBook()
	if spread, ok := tob.Spread(); ok {
		pct := spread.Div(tob.BestBid.Price).Mul(hundred)
		fmt.Fprintf(w, "\nSpread: %s (%s%%)\n", spread.StringFixed(2), pct.StringFixed(4))
	}
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w)
}

// PrintStats writes fill count, traded notional, resting orders and the top
// of book.
func PrintStats(w io.Writer, me *engine.MatchingEngine) {
	fmt.Fprintln(w, "\n=== STATISTICS ===")
	fmt.Fprintf(w, "Total Fills: %d\n", me.TotalFills())
	fmt.Fprintf(w, "Total Volume: $%s\n", me.TotalVolume().StringFixed(2))
	fmt.Fprintf(w, "Orders in Book: %d\n", me.TotalOrders())

	tob := me.TopOfBook()
	if spread, ok := tob.Spread(); ok {
		fmt.Fprintf(w, "Best Bid: %s (%d)\n", tob.BestBid.Price.StringFixed(2), tob.BestBid.Quantity)
		fmt.Fprintf(w, "Best Ask: %s (%d)\n", tob.BestAsk.Price.StringFixed(2), tob.BestAsk.Quantity)
		fmt.Fprintf(w, "Spread: %s\n", spread.StringFixed(2))
	} else {
		fmt.Fprintln(w, "No top of book available")
	}
	fmt.Fprintln(w, "==================")
	fmt.Fprintln(w)
}

func printFills(w io.Writer, fills []engine.Fill) {
	if len(fills) == 0 {
		return
	}
	fmt.Fprintf(w, "Generated %d fills:\n", len(fills))
	for _, f := range fills {
		fmt.Fprintf(w, "  %s\n", f)
	}
}
