package console

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"lobsim/bots"
	"lobsim/engine"
)

// Simulation feeds generated orders into an engine in ticks, printing the
// book and statistics after each one.
type Simulation struct {
	Ticks         int
	OrdersPerTick int
	Interval      time.Duration
	Depth         int
	// Verify runs the book integrity check after every tick.
	Verify bool

	engine    *engine.MatchingEngine
	generator *bots.FlowGenerator
	recorder  Recorder
	logger    *zap.Logger
}

func NewSimulation(me *engine.MatchingEngine, gen *bots.FlowGenerator, recorder Recorder, logger *zap.Logger) *Simulation {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulation{
		Ticks:         10,
		OrdersPerTick: 3,
		Interval:      time.Second,
		Depth:         3,
		engine:        me,
		generator:     gen,
		recorder:      recorder,
		logger:        logger,
	}
}

// Run plays every tick, or stops early when ctx ends. It fails only when
// verification finds a corrupted book.
func (s *Simulation) Run(ctx context.Context, out io.Writer) error {
	s.logger.Info("starting simulation",
		zap.Int("ticks", s.Ticks),
		zap.Int("orders_per_tick", s.OrdersPerTick))

	nextID := engine.OrderID(1)
	for tick := 1; tick <= s.Ticks; tick++ {
		if ctx.Err() != nil {
			s.logger.Info("simulation interrupted", zap.Int("tick", tick))
			return nil
		}
		fmt.Fprintf(out, "\n=== TICK %d ===\n", tick)

		for i := 0; i < s.OrdersPerTick; i++ {
			order, err := s.generator.Next(nextID)
			nextID++
			if err != nil {
				return fmt.Errorf("generate order: %w", err)
			}
			fmt.Fprintf(out, "Submitting: %s\n", order)
			report := s.engine.Execute(order)
			if s.recorder != nil {
				s.recorder.ObserveExecution(order, report)
			}
			printFills(out, report.Fills)
		}

		PrintBook(out, s.engine, s.Depth)
		PrintStats(out, s.engine)

		if s.Verify {
			if err := s.engine.Book().CheckIntegrity(); err != nil {
				s.logger.Error("book integrity check failed", zap.Int("tick", tick), zap.Error(err))
				return fmt.Errorf("tick %d: %w", tick, err)
			}
		}

		if tick == s.Ticks || s.Interval <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			s.logger.Info("simulation interrupted", zap.Int("tick", tick))
			return nil
		case <-time.After(s.Interval):
		}
	}

	s.logger.Info("simulation completed",
		zap.Uint64("fills", s.engine.TotalFills()),
		zap.String("volume", s.engine.TotalVolume().StringFixed(2)))
	return nil
}

// LogFills returns a fill sink that logs every fill at info level.
func LogFills(logger *zap.Logger) engine.FillHandler {
	return engine.FillHandlerFunc(func(f engine.Fill) {
		logger.Info("fill executed", zap.Stringer("fill", f))
	})
}
