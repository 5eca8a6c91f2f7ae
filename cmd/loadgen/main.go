package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"runtime/pprof"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobsim/engine"
	"lobsim/logging"
)

// submitter is the slice of engine behaviour the generator drives, satisfied
// inline by a MatchingEngine or asynchronously through a Runner.
type submitter interface {
	submit(engine.Order) error
	cancel(engine.OrderID) error
	verify() error
	close()
}

type inlineSubmitter struct{ me *engine.MatchingEngine }

func (s inlineSubmitter) submit(o engine.Order) error { s.me.Execute(o); return nil }
func (s inlineSubmitter) cancel(id engine.OrderID) error {
	s.me.CancelOrder(id)
	return nil
}
func (s inlineSubmitter) verify() error { return s.me.Book().CheckIntegrity() }
func (s inlineSubmitter) close()        {}

type runnerSubmitter struct{ r *engine.Runner }

func (s runnerSubmitter) submit(o engine.Order) error {
	_, err := s.r.Submit(context.Background(), o)
	return err
}
func (s runnerSubmitter) cancel(id engine.OrderID) error {
	_, err := s.r.Cancel(context.Background(), id)
	return err
}
func (s runnerSubmitter) verify() error { return s.r.Verify(context.Background()) }
func (s runnerSubmitter) close()        { s.r.Stop() }

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 on success, 1 when the run or its
// integrity check fails, 2 for bad flags.
func run(args []string, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("loadgen", flag.ContinueOnError)
	fs.SetOutput(errOut)
	totalOrders := fs.Int("orders", 500000, "number of orders to submit")
	priceLevels := fs.Int64("price-levels", 200, "unique price levels around the mid")
	basePrice := fs.Int64("base-price", 10000, "mid price in ticks")
	tickExp := fs.Int("tick-exp", -2, "tick size as a power of ten, -2 is one cent")
	cancelEvery := fs.Int("cancel-every", 0, "cancel a random earlier order every N submissions")
	inline := fs.Bool("inline", true, "process orders in the caller goroutine instead of through a runner")
	reqBuffer := fs.Int("request-buffer", 2048, "queue length for runner mode")
	seed := fs.Int64("seed", time.Now().UnixNano(), "seed for deterministic random streams")
	cpuProfile := fs.String("cpuprofile", "", "write cpu profile to file")
	memProfile := fs.String("memprofile", "", "write heap profile to file")
	marketRatio := fs.Int("market-ratio", 5, "1 in N orders will be market instead of limit")
	verify := fs.Bool("verify", false, "check book integrity after the run")
	logLevel := fs.String("log-level", "warn", "engine log level")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := validateFlags(*totalOrders, *priceLevels, *basePrice, *cancelEvery, *marketRatio); err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	logger, err := logging.New(logging.Options{Level: *logLevel})
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	rng := rand.New(rand.NewSource(*seed))

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			logger.Error("create cpu profile", zap.Error(err))
			return 1
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			logger.Error("start cpu profile", zap.Error(err))
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	var fills atomic.Int64
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithFillHandler(engine.FillHandlerFunc(func(engine.Fill) { fills.Add(1) })),
	}
	var sub submitter
	if *inline {
		sub = inlineSubmitter{me: engine.NewMatchingEngine(opts...)}
	} else {
		sub = runnerSubmitter{r: engine.NewRunner(*reqBuffer, opts...)}
	}
	defer sub.close()

	start := time.Now()
	for i := 0; i < *totalOrders; i++ {
		order, err := nextRandomOrder(rng, i, *basePrice, *priceLevels, int32(*tickExp), *marketRatio)
		if err != nil {
			logger.Error("generate order", zap.Error(err))
			return 1
		}
		if err := sub.submit(order); err != nil {
			logger.Error("submit failed", zap.Uint64("order_id", uint64(order.ID)), zap.Error(err))
		}
		if *cancelEvery > 0 && i > 0 && i%*cancelEvery == 0 {
			target := engine.OrderID(rng.Intn(i) + 1)
			if err := sub.cancel(target); err != nil {
				logger.Error("cancel failed", zap.Uint64("order_id", uint64(target)), zap.Error(err))
			}
		}
	}
	elapsed := time.Since(start)

	code := 0
	if *verify {
		if err := sub.verify(); err != nil {
			logger.Error("book integrity check failed", zap.Error(err))
			fmt.Fprintf(errOut, "book integrity check failed: %v\n", err)
			code = 1
		} else {
			fmt.Fprintln(out, "book integrity verified")
		}
	}

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err == nil {
			defer f.Close()
			_ = pprof.WriteHeapProfile(f)
		}
	}

	ordersPerSec := float64(*totalOrders) / elapsed.Seconds()
	fillsPerSec := float64(fills.Load()) / elapsed.Seconds()

	fmt.Fprintf(out, "submitted %d orders in %s (%.0f orders/s)\n", *totalOrders, elapsed.Truncate(time.Millisecond), ordersPerSec)
	fmt.Fprintf(out, "generated %d fills (%.0f fills/s)\n", fills.Load(), fillsPerSec)
	fmt.Fprintf(out, "config: inline=%t request-buffer=%d market-ratio=1/%d\n", *inline, *reqBuffer, *marketRatio)
	return code
}

func validateFlags(orders int, priceLevels, basePrice int64, cancelEvery, marketRatio int) error {
	var errs []error
	if orders < 0 {
		errs = append(errs, fmt.Errorf("-orders must not be negative, got %d", orders))
	}
	if priceLevels <= 0 {
		errs = append(errs, fmt.Errorf("-price-levels must be positive, got %d", priceLevels))
	}
	if basePrice <= 0 {
		errs = append(errs, fmt.Errorf("-base-price must be positive, got %d", basePrice))
	}
	if cancelEvery < 0 {
		errs = append(errs, fmt.Errorf("-cancel-every must not be negative, got %d", cancelEvery))
	}
	if marketRatio < 0 {
		errs = append(errs, fmt.Errorf("-market-ratio must not be negative, got %d", marketRatio))
	}
	return errors.Join(errs...)
}

// nextRandomOrder builds order i+1. Buys are priced at or above the mid and
// sells at or below it so that most limits cross.
func nextRandomOrder(rng *rand.Rand, i int, mid, width int64, tickExp int32, marketRatio int) (engine.Order, error) {
	if width <= 0 {
		return engine.Order{}, fmt.Errorf("price width must be positive, got %d", width)
	}
	side := engine.Side(rng.Intn(2))
	var ticks int64
	if side == engine.Buy {
		ticks = mid + rng.Int63n(width)
	} else {
		ticks = max(mid-rng.Int63n(width), 1)
	}

	otype := engine.Limit
	if marketRatio > 0 && rng.Intn(marketRatio) == 0 {
		otype = engine.Market
	}

	return engine.NewOrder(engine.OrderID(i+1), decimal.New(ticks, tickExp), rng.Int63n(5)+1, side, otype)
}
