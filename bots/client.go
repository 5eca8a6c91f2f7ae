package bots

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

// ClientOptions configures a ThrottledClient.
type ClientOptions struct {
	// TickSize is the price grid limit orders are truncated to.
	TickSize decimal.Decimal
	// ReferencePrice anchors quoting while the book is empty.
	ReferencePrice decimal.Decimal
	// FirstID is the first order id handed out by NextID.
	FirstID engine.OrderID
	// FillBuffer sizes the fill subscription.
	FillBuffer int
	Observer   Observer
}

// ThrottledClient wraps a Runner with basic rate limiting and bookkeeping.
type ThrottledClient struct {
	runner   *engine.Runner
	opts     ClientOptions
	throttle <-chan time.Time
	fills    <-chan engine.Fill
	unsub    func()

	mu     sync.Mutex
	nextID engine.OrderID
	owned  map[engine.OrderID]struct{}
}

// NewThrottledClient subscribes to the runner's fills. Each Submit waits for
// one tick of throttle; a nil throttle never waits.
func NewThrottledClient(runner *engine.Runner, opts ClientOptions, throttle <-chan time.Time) *ThrottledClient {
	if opts.FirstID == 0 {
		opts.FirstID = 1
	}
	if opts.FillBuffer <= 0 {
		opts.FillBuffer = 256
	}
	fills, unsub := runner.SubscribeFills(opts.FillBuffer)
	return &ThrottledClient{
		runner:   runner,
		opts:     opts,
		throttle: throttle,
		fills:    fills,
		unsub:    unsub,
		nextID:   opts.FirstID,
		owned:    make(map[engine.OrderID]struct{}),
	}
}

func (c *ThrottledClient) waitThrottle(ctx context.Context) error {
	if c.throttle == nil {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.throttle:
		return nil
	}
}

func (c *ThrottledClient) Submit(ctx context.Context, order engine.Order) (engine.ExecutionReport, error) {
	if err := c.waitThrottle(ctx); err != nil {
		return engine.ExecutionReport{}, err
	}
	if order.IsLimit() {
		if p := roundToTick(order.Price, c.opts.TickSize); p.IsPositive() {
			order.Price = p
		}
	}

	// Own the id before the runner can publish its fills.
	c.mu.Lock()
	c.owned[order.ID] = struct{}{}
	c.mu.Unlock()

	report, err := c.runner.Submit(ctx, order)
	if err != nil {
		return report, err
	}
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveExecution(order, report)
	}
	return report, nil
}

func (c *ThrottledClient) Cancel(ctx context.Context, id engine.OrderID) (bool, error) {
	ok, err := c.runner.Cancel(ctx, id)
	if err == nil && c.opts.Observer != nil {
		c.opts.Observer.ObserveCancel(ok)
	}
	return ok, err
}

func (c *ThrottledClient) TopOfBook(ctx context.Context) (engine.TopOfBook, error) {
	return c.runner.TopOfBook(ctx)
}

func (c *ThrottledClient) Fills() <-chan engine.Fill {
	return c.fills
}

func (c *ThrottledClient) TickSize() decimal.Decimal {
	return c.opts.TickSize
}

func (c *ThrottledClient) ReferencePrice() decimal.Decimal {
	return c.opts.ReferencePrice
}

func (c *ThrottledClient) NextID() engine.OrderID {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	return id
}

func (c *ThrottledClient) OwnsOrder(id engine.OrderID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.owned[id]
	return ok
}

// Close drops the fill subscription.
func (c *ThrottledClient) Close() {
	c.unsub()
}
