package engine

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func px(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func limit(t testing.TB, id OrderID, side Side, price string, qty int64) Order {
	t.Helper()
	o, err := NewLimitOrder(id, px(price), qty, side)
	require.NoError(t, err)
	return o
}

func market(t testing.TB, id OrderID, side Side, qty int64) Order {
	t.Helper()
	o, err := NewMarketOrder(id, qty, side)
	require.NoError(t, err)
	return o
}

// fakeClock ticks by one on every reading.
type fakeClock struct{ now int64 }

func (c *fakeClock) Now() int64 {
	c.now++
	return c.now
}

// recorder collects fills in arrival order.
type recorder struct{ fills []Fill }

func (r *recorder) OnFill(f Fill) { r.fills = append(r.fills, f) }
