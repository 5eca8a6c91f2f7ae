package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewOrderValidation(t *testing.T) {
	cases := []struct {
		name  string
		side  Side
		typ   OrderType
		price string
		qty   int64
		field string
	}{
		{"bad side", Side(7), Limit, "10", 1, "side"},
		{"bad type", Buy, OrderType(9), "10", 1, "type"},
		{"zero quantity", Buy, Limit, "10", 0, "quantity"},
		{"negative quantity", Sell, Market, "0", -5, "quantity"},
		{"zero limit price", Buy, Limit, "0", 1, "price"},
		{"negative limit price", Sell, Limit, "-1.25", 1, "price"},
		{"side checked before quantity", Side(-1), Limit, "0", 0, "side"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewOrder(1, px(tc.price), tc.qty, tc.side, tc.typ)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOrder))

			var invalid *InvalidOrderError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tc.field, invalid.Field)
		})
	}
}

func TestMarketOrderIgnoresPrice(t *testing.T) {
	o, err := NewOrder(3, px("-4"), 10, Buy, Market)
	require.NoError(t, err)
	assert.True(t, o.Price.IsZero())
	assert.True(t, o.IsMarket())
	assert.True(t, o.IsBuy())
}

func TestOrderTimestampsIncrease(t *testing.T) {
	a := limit(t, 1, Buy, "10", 1)
	b := limit(t, 2, Buy, "10", 1)
	assert.True(t, a.Before(b))
	assert.False(t, b.Before(a))
}

func TestOrderEqualityByID(t *testing.T) {
	a := limit(t, 5, Buy, "10", 1)
	b := limit(t, 5, Sell, "11", 9)
	c := limit(t, 6, Buy, "10", 1)
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestParseSideAndType(t *testing.T) {
	side, err := ParseSide("BID")
	require.NoError(t, err)
	assert.Equal(t, Buy, side)
	side, err = ParseSide("s")
	require.NoError(t, err)
	assert.Equal(t, Sell, side)
	_, err = ParseSide("hold")
	assert.Error(t, err)

	typ, err := ParseOrderType("Market")
	require.NoError(t, err)
	assert.Equal(t, Market, typ)
	_, err = ParseOrderType("stop")
	assert.Error(t, err)
}

func TestFillString(t *testing.T) {
	f := Fill{BuyOrderID: 1, SellOrderID: 2, Price: px("100.50"), Quantity: 200, Timestamp: 7}
	assert.Equal(t, "Fill[BuyID=1, SellID=2, Price=100.5, Qty=200, TS=7]", f.String())
	assert.True(t, f.Notional().Equal(px("20100")))
}
