package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobsim/bots"
	"lobsim/config"
	"lobsim/console"
	"lobsim/engine"
	"lobsim/logging"
	"lobsim/metrics"
	"lobsim/server"
)

const usage = `
Limit Order Book Simulator
==========================
Usage: lobsim [flags] [mode]

Modes:
  interactive  - Interactive command line mode (default)
  simulation   - Run automated simulation
  swarm        - Run the trading bot swarm against the engine
  serve        - Serve the HTTP and websocket API
  help         - Show this help message

Flags:
`

// swarmFirstID keeps bot order ids clear of shell and simulation ids.
const swarmFirstID = 1 << 32

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// app carries what every mode shares.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	registry  *prometheus.Registry
	collector *metrics.Collector
	in        io.Reader
	out       io.Writer
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	fs := flag.NewFlagSet("lobsim", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "path to a YAML config file")
	withBots := fs.Bool("bots", false, "also run the bot swarm in serve mode")
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
		fmt.Fprintf(fs.Output(), "\nInteractive Commands:\n%s", console.Usage)
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	mode := "interactive"
	if fs.NArg() > 0 {
		mode = fs.Arg(0)
	}
	switch mode {
	case "help", "--help", "-h":
		fs.SetOutput(out)
		fs.Usage()
		return 0
	case "interactive", "simulation", "swarm", "serve":
	default:
		fmt.Fprintf(errOut, "Unknown mode: %s\n", mode)
		fs.Usage()
		return 1
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Development: cfg.Log.Development})
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a := &app{
		cfg:       cfg,
		logger:    logger,
		registry:  registry,
		collector: metrics.New(registry),
		in:        in,
		out:       out,
	}

	switch mode {
	case "simulation":
		err = a.simulation(ctx)
	case "swarm":
		err = a.swarm(ctx)
	case "serve":
		err = a.serve(ctx, *withBots)
	default:
		err = a.interactive()
	}
	if err != nil {
		logger.Error("lobsim failed", zap.String("mode", mode), zap.Error(err))
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

func (a *app) interactive() error {
	me := engine.NewMatchingEngine(
		engine.WithLogger(a.logger),
		engine.WithFillHandler(a.collector),
	)
	return console.NewShell(me, a.cfg.Book.DisplayDepth, a.collector, a.logger).Run(a.in, a.out)
}

func (a *app) simulation(ctx context.Context) error {
	sc := a.cfg.Simulation
	gen := bots.NewFlowGenerator(sc.Seed)
	gen.MinPrice = decimal.NewFromFloat(sc.MinPrice)
	gen.MaxPrice = decimal.NewFromFloat(sc.MaxPrice)
	gen.MinQuantity = sc.MinQuantity
	gen.MaxQuantity = sc.MaxQuantity
	gen.MarketRatio = sc.MarketRatio

	me := engine.NewMatchingEngine(
		engine.WithLogger(a.logger),
		engine.WithFillHandler(engine.MultiFillHandler{console.LogFills(a.logger), a.collector}),
	)
	sim := console.NewSimulation(me, gen, a.collector, a.logger)
	sim.Ticks = sc.Ticks
	sim.OrdersPerTick = sc.OrdersPerTick
	sim.Interval = sc.Interval
	sim.Verify = sc.Verify

	fmt.Fprintln(a.out, "Starting automated simulation...")
	return sim.Run(ctx, a.out)
}

func (a *app) newRunner() *engine.Runner {
	return engine.NewRunner(a.cfg.Book.RequestBuffer,
		engine.WithLogger(a.logger),
		engine.WithFillHandler(a.collector),
	)
}

func (a *app) newSupervisor(runner *engine.Runner) *bots.Supervisor {
	bc := a.cfg.Bots
	return bots.NewSupervisor(runner, bots.SupervisorConfig{
		OrderInterval:  bc.OrderInterval,
		ReportEvery:    bc.ReportEvery,
		QuotePairs:     bc.QuotePairs,
		SpreadCapture:  bc.SpreadCapture,
		RandomFlow:     bc.RandomFlow,
		ReferencePrice: decimal.NewFromFloat(bc.SeedPrice),
		FirstID:        swarmFirstID,
		Seed:           a.cfg.Simulation.Seed,
	}, a.collector, a.logger)
}

func (a *app) swarm(ctx context.Context) error {
	runner := a.newRunner()
	defer runner.Stop()

	if d := a.cfg.Bots.Duration; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	go a.collector.Watch(ctx, runner, time.Second)

	sup := a.newSupervisor(runner)
	sup.Start(ctx)

	stats, err := runner.Stats(context.Background())
	if err != nil {
		return err
	}
	if err := runner.Verify(context.Background()); err != nil {
		return fmt.Errorf("book integrity: %w", err)
	}
	position, cash, fills := sup.PnL()
	fmt.Fprintf(a.out, "Swarm session %s finished\n", sup.Session())
	fmt.Fprintf(a.out, "Total Fills: %d\n", stats.TotalFills)
	fmt.Fprintf(a.out, "Total Volume: $%s\n", stats.TotalVolume.StringFixed(2))
	fmt.Fprintf(a.out, "Orders in Book: %d\n", stats.TotalOrders)
	fmt.Fprintf(a.out, "Swarm Fills: %d, Position: %d, Cash: $%s\n", fills, position, cash.StringFixed(2))
	return nil
}

func (a *app) serve(ctx context.Context, withBots bool) error {
	runner := a.newRunner()
	defer runner.Stop()

	go a.collector.Watch(ctx, runner, time.Second)
	if withBots {
		sup := a.newSupervisor(runner)
		go sup.Start(ctx)
	}

	srv := server.New(runner, a.cfg.Server, a.collector, a.registry, a.logger)
	return srv.ListenAndServe(ctx)
}
