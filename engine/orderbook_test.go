package engine

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAddOrderRestsAtTail(t *testing.T) {
	ob := NewOrderBook(nil)
	ob.AddOrder(limit(t, 1, Buy, "10", 5))
	ob.AddOrder(limit(t, 2, Buy, "10", 3))
	ob.AddOrder(limit(t, 3, Buy, "9.5", 1))

	var ids []OrderID
	ob.Walk(Buy, func(o Order) bool {
		ids = append(ids, o.ID)
		return true
	})
	assert.Equal(t, []OrderID{1, 2, 3}, ids)

	levels := ob.BidLevels(10)
	require.Len(t, levels, 2)
	assert.True(t, levels[0].Price.Equal(px("10")))
	assert.Equal(t, int64(8), levels[0].TotalQuantity)
	assert.Equal(t, 2, levels[0].OrderCount)
	assert.True(t, levels[1].Price.Equal(px("9.5")))
	assert.Equal(t, 3, ob.TotalOrders())
	require.NoError(t, ob.CheckIntegrity())
}

func TestAddOrderRejectsMarketAndDuplicates(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	ob := NewOrderBook(zap.New(core))

	ob.AddOrder(market(t, 1, Buy, 10))
	assert.True(t, ob.Empty())
	assert.Equal(t, 1, logs.FilterMessageSnippet("market order").Len())

	ob.AddOrder(limit(t, 2, Sell, "11", 4))
	ob.AddOrder(limit(t, 2, Sell, "12", 4))
	assert.Equal(t, 1, ob.TotalOrders())
	assert.Equal(t, 1, logs.FilterMessageSnippet("already resting").Len())
}

func TestLadderOrdering(t *testing.T) {
	ob := NewOrderBook(nil)
	for i, p := range []string{"100.25", "99", "101", "100"} {
		ob.AddOrder(limit(t, OrderID(i+1), Buy, p, 1))
		ob.AddOrder(limit(t, OrderID(i+11), Sell, px(p).Add(px("5")).String(), 1))
	}

	bids := ob.BidLevels(3)
	require.Len(t, bids, 3)
	assert.Equal(t, "101", bids[0].Price.String())
	assert.Equal(t, "100.25", bids[1].Price.String())
	assert.Equal(t, "100", bids[2].Price.String())

	asks := ob.AskLevels(10)
	require.Len(t, asks, 4)
	assert.Equal(t, "104", asks[0].Price.String())
	assert.Equal(t, "106", asks[3].Price.String())

	assert.Empty(t, ob.BidLevels(0))
}

func TestCancelOrder(t *testing.T) {
	ob := NewOrderBook(nil)
	ob.AddOrder(limit(t, 1, Sell, "50", 2))
	ob.AddOrder(limit(t, 2, Sell, "50", 3))
	ob.AddOrder(limit(t, 3, Sell, "55", 1))

	assert.False(t, ob.CancelOrder(99))
	assert.Equal(t, 3, ob.TotalOrders())

	require.True(t, ob.CancelOrder(1))
	assert.False(t, ob.CancelOrder(1))
	levels := ob.AskLevels(5)
	require.Len(t, levels, 2)
	assert.Equal(t, int64(3), levels[0].TotalQuantity)

	require.True(t, ob.CancelOrder(3))
	assert.Len(t, ob.AskLevels(5), 1)
	require.True(t, ob.CancelOrder(2))
	assert.True(t, ob.Empty())
	require.NoError(t, ob.CheckIntegrity())
}

func TestModifyOrderKeepsQueuePosition(t *testing.T) {
	ob := NewOrderBook(nil)
	ob.AddOrder(limit(t, 1, Buy, "10", 1))
	ob.AddOrder(limit(t, 2, Buy, "10", 1))

	require.True(t, ob.ModifyOrder(1, 40))
	assert.False(t, ob.ModifyOrder(1, 0))
	assert.False(t, ob.ModifyOrder(1, -3))
	assert.False(t, ob.ModifyOrder(7, 5))

	o, ok := ob.Order(1)
	require.True(t, ok)
	assert.Equal(t, int64(40), o.Quantity)

	var first OrderID
	ob.Walk(Buy, func(o Order) bool {
		first = o.ID
		return false
	})
	assert.Equal(t, OrderID(1), first)
	assert.Equal(t, int64(41), ob.BidLevels(1)[0].TotalQuantity)
	require.NoError(t, ob.CheckIntegrity())
}

func TestTopOfBookAndSpread(t *testing.T) {
	ob := NewOrderBook(nil)
	tob := ob.TopOfBook()
	assert.Nil(t, tob.BestBid)
	assert.Nil(t, tob.BestAsk)
	_, ok := ob.Spread()
	assert.False(t, ok)

	ob.AddOrder(limit(t, 1, Buy, "100", 200))
	ob.AddOrder(limit(t, 2, Sell, "101", 150))
	ob.AddOrder(limit(t, 3, Sell, "101", 50))

	tob = ob.TopOfBook()
	require.NotNil(t, tob.BestBid)
	require.NotNil(t, tob.BestAsk)
	assert.True(t, tob.BestBid.Price.Equal(px("100")))
	assert.Equal(t, int64(200), tob.BestBid.Quantity)
	assert.Equal(t, int64(200), tob.BestAsk.Quantity)

	spread, ok := ob.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(px("1")))
}

func TestOrderReturnsCopy(t *testing.T) {
	ob := NewOrderBook(nil)
	ob.AddOrder(limit(t, 1, Buy, "10", 5))

	o, ok := ob.Order(1)
	require.True(t, ok)
	o.Quantity = 1

	again, _ := ob.Order(1)
	assert.Equal(t, int64(5), again.Quantity)
	_, ok = ob.Order(2)
	assert.False(t, ok)
}

func TestCheckIntegrityDetectsCorruption(t *testing.T) {
	ob := NewOrderBook(nil)
	ob.AddOrder(limit(t, 1, Buy, "10", 5))
	ob.AddOrder(limit(t, 2, Sell, "11", 5))
	require.NoError(t, ob.CheckIntegrity())

	lvl, ok := ob.bids.get(px("10"))
	require.True(t, ok)
	lvl.volume = 99
	err := ob.CheckIntegrity()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBookCorrupted))
	lvl.volume = 5

	delete(ob.index, 2)
	assert.ErrorIs(t, ob.CheckIntegrity(), ErrBookCorrupted)
}
