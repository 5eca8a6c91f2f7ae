package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

// ErrStopped is returned by Runner calls made after Stop.
var ErrStopped = errors.New("engine runner stopped")

// Depth is a ladder snapshot, best levels first on each side.
type Depth struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// Stats summarizes engine activity.
type Stats struct {
	TotalFills  uint64
	TotalVolume decimal.Decimal
	TotalOrders int
	TopOfBook   TopOfBook
}

// request runs on the worker goroutine. It reports whether the book changed.
type request struct {
	fn   func(me *MatchingEngine) bool
	done chan struct{}
}

// Runner owns a MatchingEngine on a single goroutine and executes requests
// one at a time, so any number of goroutines can share one book.
type Runner struct {
	engine  *MatchingEngine
	reqCh   chan request
	quit    chan struct{}
	stopped chan struct{}
	stop    sync.Once

	fills *feed[Fill]
	books *feed[TopOfBook]
}

// NewRunner builds an engine from opts and starts the worker loop. buffer is
// the request queue length.
func NewRunner(buffer int, opts ...Option) *Runner {
	r := &Runner{
		reqCh:   make(chan request, max(buffer, 0)),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		fills:   newFeed[Fill](),
		books:   newFeed[TopOfBook](),
	}
	opts = append(opts, withFillTap(FillHandlerFunc(r.fills.broadcast)))
	r.engine = NewMatchingEngine(opts...)
	go r.run()
	return r
}

func (r *Runner) run() {
	defer close(r.stopped)
	for {
		select {
		case <-r.quit:
			return
		case req := <-r.reqCh:
			if req.fn(r.engine) {
				r.books.broadcast(r.engine.TopOfBook())
			}
			close(req.done)
		}
	}
}

// do queues fn and waits for the worker to run it.
func (r *Runner) do(ctx context.Context, fn func(me *MatchingEngine) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := request{fn: fn, done: make(chan struct{})}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.quit:
		return ErrStopped
	case r.reqCh <- req:
	}
	select {
	case <-req.done:
		return nil
	case <-r.stopped:
		// The loop may have finished req before noticing quit.
		select {
		case <-req.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// Submit executes order on the worker and returns its report.
func (r *Runner) Submit(ctx context.Context, order Order) (ExecutionReport, error) {
	var report ExecutionReport
	err := r.do(ctx, func(me *MatchingEngine) bool {
		report = me.Execute(order)
		return report.Filled > 0 || report.Rested > 0
	})
	return report, err
}

// Cancel removes a resting order and reports whether it was found.
func (r *Runner) Cancel(ctx context.Context, id OrderID) (bool, error) {
	var ok bool
	err := r.do(ctx, func(me *MatchingEngine) bool {
		ok = me.CancelOrder(id)
		return ok
	})
	return ok, err
}

// Modify replaces a resting order's quantity and reports whether it applied.
func (r *Runner) Modify(ctx context.Context, id OrderID, quantity int64) (bool, error) {
	var ok bool
	err := r.do(ctx, func(me *MatchingEngine) bool {
		ok = me.ModifyOrder(id, quantity)
		return ok
	})
	return ok, err
}

// Resting reports whether id is currently on the book.
func (r *Runner) Resting(ctx context.Context, id OrderID) (bool, error) {
	_, ok, err := r.Order(ctx, id)
	return ok, err
}

// Order returns a copy of a resting order.
func (r *Runner) Order(ctx context.Context, id OrderID) (Order, bool, error) {
	var (
		o  Order
		ok bool
	)
	err := r.do(ctx, func(me *MatchingEngine) bool {
		o, ok = me.Book().Order(id)
		return false
	})
	return o, ok, err
}

func (r *Runner) TopOfBook(ctx context.Context) (TopOfBook, error) {
	var tob TopOfBook
	err := r.do(ctx, func(me *MatchingEngine) bool {
		tob = me.TopOfBook()
		return false
	})
	return tob, err
}

// Depth snapshots up to depth levels per side.
func (r *Runner) Depth(ctx context.Context, depth int) (Depth, error) {
	var d Depth
	err := r.do(ctx, func(me *MatchingEngine) bool {
		d = Depth{Bids: me.BidLevels(depth), Asks: me.AskLevels(depth)}
		return false
	})
	return d, err
}

func (r *Runner) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.do(ctx, func(me *MatchingEngine) bool {
		s = Stats{
			TotalFills:  me.TotalFills(),
			TotalVolume: me.TotalVolume(),
			TotalOrders: me.TotalOrders(),
			TopOfBook:   me.TopOfBook(),
		}
		return false
	})
	return s, err
}

// Verify runs the book integrity check on the worker goroutine.
func (r *Runner) Verify(ctx context.Context) error {
	var verr error
	if err := r.do(ctx, func(me *MatchingEngine) bool {
		verr = me.Book().CheckIntegrity()
		return false
	}); err != nil {
		return err
	}
	return verr
}

// SubscribeFills streams fills as they are generated. Values are dropped
// when the channel buffer is full. Call cancel to unsubscribe.
func (r *Runner) SubscribeFills(buffer int) (<-chan Fill, func()) {
	return r.fills.subscribe(buffer)
}

// SubscribeBook streams the top of book after every request that changed it.
func (r *Runner) SubscribeBook(buffer int) (<-chan TopOfBook, func()) {
	return r.books.subscribe(buffer)
}

// Stop terminates the worker and closes every subscription. Requests still
// queued are abandoned with ErrStopped.
func (r *Runner) Stop() {
	r.stop.Do(func() {
		close(r.quit)
		<-r.stopped
		r.fills.close()
		r.books.close()
	})
}
