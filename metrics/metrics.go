// Package metrics exposes engine activity as Prometheus collectors.
package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lobsim/engine"
)

const namespace = "lobsim"

// Collector records engine activity. It implements engine.FillHandler so it
// can be installed directly as a fill sink.
type Collector struct {
	orders       *prometheus.CounterVec
	fills        prometheus.Counter
	fillQuantity prometheus.Counter
	notional     prometheus.Counter
	discarded    prometheus.Counter
	cancels      *prometheus.CounterVec
	modifies     *prometheus.CounterVec
	bestPrice    *prometheus.GaugeVec
	topQuantity  *prometheus.GaugeVec
	restingTotal prometheus.Gauge
	httpDuration *prometheus.HistogramVec
}

// New registers every collector with reg. Passing nil uses the default
// registerer.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Collector{
		orders: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Orders processed by type and outcome.",
		}, []string{"type", "outcome"}),
		fills: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fills_total",
			Help:      "Fills generated.",
		}),
		fillQuantity: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_quantity_total",
			Help:      "Quantity executed across all fills.",
		}),
		notional: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fill_notional_total",
			Help:      "Sum of price times quantity across all fills.",
		}),
		discarded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "market_discarded_quantity_total",
			Help:      "Market order quantity left unmatched and dropped.",
		}),
		cancels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Cancel requests by result.",
		}, []string{"result"}),
		modifies: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "modifies_total",
			Help:      "Modify requests by result.",
		}, []string{"result"}),
		bestPrice: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_best_price",
			Help:      "Best price per side, zero when the side is empty.",
		}, []string{"side"}),
		topQuantity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_top_quantity",
			Help:      "Quantity resting at the best price per side.",
		}, []string{"side"}),
		restingTotal: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "book_resting_orders",
			Help:      "Orders resting on the book.",
		}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method", "route", "status"}),
	}
}

// OnFill counts a fill.
func (c *Collector) OnFill(fill engine.Fill) {
	c.fills.Inc()
	c.fillQuantity.Add(float64(fill.Quantity))
	c.notional.Add(fill.Notional().InexactFloat64())
}

// Outcome classifies an execution report.
func Outcome(report engine.ExecutionReport) string {
	switch {
	case report.Reject != nil, report.Filled == 0 && report.Rested == 0 && report.Discarded == 0:
		return "rejected"
	case report.Discarded > 0 && report.Filled == 0:
		return "unfilled"
	case report.Discarded > 0:
		return "partially_discarded"
	case report.Rested > 0 && report.Filled == 0:
		return "rested"
	case report.Rested > 0:
		return "partially_filled"
	default:
		return "filled"
	}
}

// ObserveExecution counts one processed order.
func (c *Collector) ObserveExecution(order engine.Order, report engine.ExecutionReport) {
	c.orders.WithLabelValues(order.Type.String(), Outcome(report)).Inc()
	if report.Discarded > 0 {
		c.discarded.Add(float64(report.Discarded))
	}
}

func (c *Collector) ObserveCancel(found bool) {
	c.cancels.WithLabelValues(result(found)).Inc()
}

// ObserveModify counts one modify request. A non-positive quantity is labelled
// rejected whether or not the order exists.
func (c *Collector) ObserveModify(quantity int64, applied bool) {
	label := result(applied)
	if quantity <= 0 {
		label = "rejected"
	}
	c.modifies.WithLabelValues(label).Inc()
}

// ObserveBook records the top of book and resting order count.
func (c *Collector) ObserveBook(tob engine.TopOfBook, resting int) {
	observeQuote(c, engine.Buy, tob.BestBid)
	observeQuote(c, engine.Sell, tob.BestAsk)
	c.restingTotal.Set(float64(resting))
}

// Watch samples r every interval until ctx ends or the runner stops.
func (c *Collector) Watch(ctx context.Context, r *engine.Runner, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := r.Stats(ctx)
			if err != nil {
				return
			}
			c.ObserveBook(stats.TopOfBook, stats.TotalOrders)
		}
	}
}

func observeQuote(c *Collector, side engine.Side, q *engine.Quote) {
	label := side.String()
	if q == nil {
		c.bestPrice.WithLabelValues(label).Set(0)
		c.topQuantity.WithLabelValues(label).Set(0)
		return
	}
	c.bestPrice.WithLabelValues(label).Set(q.Price.InexactFloat64())
	c.topQuantity.WithLabelValues(label).Set(float64(q.Quantity))
}

// ObserveRequest records one HTTP request.
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "not_found"
}
