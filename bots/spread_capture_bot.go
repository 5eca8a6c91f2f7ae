package bots

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

// SpreadCaptureBot maintains paired bids/asks and re-prices when the spread moves.
type SpreadCaptureBot struct {
	Interval       time.Duration
	Lifetime       time.Duration
	ThresholdTicks int64
	Quantity       int64
}

type pairedOrders struct {
	buyID     engine.OrderID
	sellID    engine.OrderID
	anchorMid decimal.Decimal
	placedAt  time.Time
}

func NewSpreadCaptureBot() *SpreadCaptureBot {
	return &SpreadCaptureBot{
		Interval:       300 * time.Millisecond,
		Lifetime:       3 * time.Second,
		ThresholdTicks: 3,
		Quantity:       10,
	}
}

func (b *SpreadCaptureBot) Name() string { return "spread-capture" }

func (b *SpreadCaptureBot) Start(ctx context.Context, client EngineClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	var pair *pairedOrders
	for {
		select {
		case <-ctx.Done():
			b.cancelPair(context.Background(), client, pair)
			return
		case <-ticker.C:
			view, err := client.TopOfBook(ctx)
			if err != nil {
				continue
			}
			pair = b.refreshPair(ctx, client, view, pair)
		}
	}
}

func (b *SpreadCaptureBot) refreshPair(ctx context.Context, client EngineClient, view engine.TopOfBook, pair *pairedOrders) *pairedOrders {
	bid := view.BestBid
	ask := view.BestAsk
	if bid == nil || ask == nil {
		return b.cancelPair(ctx, client, pair)
	}
	tick := client.TickSize()
	mid := roundToTick(midPrice(view, decimal.Zero), tick)
	threshold := tick.Mul(decimal.NewFromInt(b.ThresholdTicks))

	if pair != nil {
		if time.Since(pair.placedAt) > b.Lifetime {
			return b.cancelPair(ctx, client, pair)
		}
		if mid.Sub(pair.anchorMid).Abs().GreaterThanOrEqual(threshold) {
			pair = b.cancelPair(ctx, client, pair)
		}
	}

	if pair != nil {
		return pair
	}

	buyPrice := bid.Price
	if mid.Sub(tick).IsPositive() {
		buyPrice = mid.Sub(tick)
	}
	sellPrice := ask.Price
	if sellPrice.LessThanOrEqual(buyPrice) {
		sellPrice = buyPrice.Add(tick)
	}

	buyOrder, err := engine.NewLimitOrder(client.NextID(), buyPrice, b.Quantity, engine.Buy)
	if err != nil {
		return pair
	}
	sellOrder, err := engine.NewLimitOrder(client.NextID(), sellPrice, b.Quantity, engine.Sell)
	if err != nil {
		return pair
	}

	if _, err := client.Submit(ctx, buyOrder); err != nil {
		return pair
	}
	if _, err := client.Submit(ctx, sellOrder); err != nil {
		_, _ = client.Cancel(ctx, buyOrder.ID)
		return pair
	}

	return &pairedOrders{buyID: buyOrder.ID, sellID: sellOrder.ID, anchorMid: mid, placedAt: time.Now()}
}

func (b *SpreadCaptureBot) cancelPair(ctx context.Context, client EngineClient, pair *pairedOrders) *pairedOrders {
	if pair == nil {
		return nil
	}
	_, _ = client.Cancel(ctx, pair.buyID)
	_, _ = client.Cancel(ctx, pair.sellID)
	return nil
}
