package bots

import (
	"context"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

// QuoteBot places short-lived limit orders on one side around the mid price.
// Bids go below the mid, asks above.
type QuoteBot struct {
	Side       engine.Side
	Interval   time.Duration
	Lifetime   time.Duration
	Quantity   int64
	RangeTicks int64
	rand       *rand.Rand
}

func newQuoteBot(side engine.Side, seed int64) *QuoteBot {
	return &QuoteBot{
		Side:       side,
		Interval:   200 * time.Millisecond,
		Lifetime:   2 * time.Second,
		Quantity:   10,
		RangeTicks: 5,
		rand:       rand.New(rand.NewSource(seed)),
	}
}

// NewRandomBidBot quotes bids.
func NewRandomBidBot(seed int64) *QuoteBot { return newQuoteBot(engine.Buy, seed) }

// NewRandomAskBot quotes asks.
func NewRandomAskBot(seed int64) *QuoteBot { return newQuoteBot(engine.Sell, seed) }

func (b *QuoteBot) Name() string {
	if b.Side == engine.Buy {
		return "random-bid"
	}
	return "random-ask"
}

func (b *QuoteBot) Start(ctx context.Context, client EngineClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.place(ctx, client)
		}
	}
}

// quotePrice offsets mid by delta ticks away from the spread.
func (b *QuoteBot) quotePrice(mid, tick decimal.Decimal, delta int64) decimal.Decimal {
	offset := tick.Mul(decimal.NewFromInt(delta))
	if b.Side == engine.Buy {
		price := mid.Sub(offset)
		if !price.IsPositive() {
			return tick
		}
		return price
	}
	return mid.Add(offset)
}

func (b *QuoteBot) place(ctx context.Context, client EngineClient) {
	view, err := client.TopOfBook(ctx)
	if err != nil {
		return
	}
	mid := midPrice(view, client.ReferencePrice())
	if !mid.IsPositive() {
		return
	}

	price := b.quotePrice(mid, client.TickSize(), b.rand.Int63n(b.RangeTicks+1))
	order, err := engine.NewLimitOrder(client.NextID(), price, b.Quantity, b.Side)
	if err != nil {
		return
	}
	report, err := client.Submit(ctx, order)
	if err != nil || report.Rested == 0 {
		return
	}

	go b.cancelAfter(ctx, client, order.ID)
}

func (b *QuoteBot) cancelAfter(ctx context.Context, client EngineClient, id engine.OrderID) {
	timer := time.NewTimer(b.Lifetime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		_, _ = client.Cancel(context.Background(), id)
	}
}
