package bots

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

// FlowGenerator draws random orders: side 50/50, price uniform in
// [MinPrice, MaxPrice) to the cent, quantity uniform in [MinQuantity,
// MaxQuantity], and a market order with probability MarketRatio.
type FlowGenerator struct {
	MinPrice    decimal.Decimal
	MaxPrice    decimal.Decimal
	MinQuantity int64
	MaxQuantity int64
	MarketRatio float64
	rand        *rand.Rand
}

// NewFlowGenerator returns a generator with the default distribution around
// 100. A zero seed picks one from the clock.
func NewFlowGenerator(seed int64) *FlowGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FlowGenerator{
		MinPrice:    decimal.NewFromInt(95),
		MaxPrice:    decimal.NewFromInt(105),
		MinQuantity: 10,
		MaxQuantity: 1000,
		MarketRatio: 0.1,
		rand:        rand.New(rand.NewSource(seed)),
	}
}

var cents = decimal.New(1, -2)

func (g *FlowGenerator) validate() error {
	if !g.MinPrice.IsPositive() || !g.MinPrice.LessThan(g.MaxPrice) {
		return errors.New("flow price range is empty or not positive")
	}
	if g.MinQuantity <= 0 || g.MinQuantity > g.MaxQuantity {
		return errors.New("flow quantity range is empty or not positive")
	}
	return nil
}

// Next draws one order with the given id.
func (g *FlowGenerator) Next(id engine.OrderID) (engine.Order, error) {
	if err := g.validate(); err != nil {
		return engine.Order{}, err
	}
	side := engine.Buy
	if g.rand.Intn(2) == 1 {
		side = engine.Sell
	}
	qty := g.MinQuantity + g.rand.Int63n(g.MaxQuantity-g.MinQuantity+1)
	if g.rand.Float64() < g.MarketRatio {
		return engine.NewMarketOrder(id, qty, side)
	}

	lo := g.MinPrice.Div(cents).Ceil().IntPart()
	hi := max(g.MaxPrice.Div(cents).Ceil().IntPart(), lo+1)
	price := decimal.New(lo+g.rand.Int63n(hi-lo), -2)
	return engine.NewLimitOrder(id, price, qty, side)
}

// RandomFlowBot sends generated order flow, crossing and resting alike.
type RandomFlowBot struct {
	Interval  time.Duration
	Generator *FlowGenerator
}

func NewRandomFlowBot(seed int64) *RandomFlowBot {
	gen := NewFlowGenerator(seed)
	gen.MaxQuantity = 50
	gen.MinQuantity = 1
	return &RandomFlowBot{Interval: 250 * time.Millisecond, Generator: gen}
}

func (b *RandomFlowBot) Name() string { return "random-flow" }

func (b *RandomFlowBot) Start(ctx context.Context, client EngineClient) {
	ticker := time.NewTicker(b.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.recenter(ctx, client)
			order, err := b.Generator.Next(client.NextID())
			if err != nil {
				return
			}
			_, _ = client.Submit(ctx, order)
		}
	}
}

// recenter moves the price band to straddle the current mid so the flow
// keeps interacting with the book.
func (b *RandomFlowBot) recenter(ctx context.Context, client EngineClient) {
	view, err := client.TopOfBook(ctx)
	if err != nil {
		return
	}
	mid := midPrice(view, client.ReferencePrice())
	half := b.Generator.MaxPrice.Sub(b.Generator.MinPrice).Div(two)
	if !mid.Sub(half).IsPositive() {
		return
	}
	b.Generator.MinPrice = mid.Sub(half)
	b.Generator.MaxPrice = mid.Add(half)
}
