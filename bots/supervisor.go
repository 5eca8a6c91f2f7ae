package bots

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobsim/engine"
)

// SupervisorConfig selects the swarm and its pacing.
type SupervisorConfig struct {
	// OrderInterval paces every order the swarm submits.
	OrderInterval time.Duration
	// ReportEvery is how often PnL is logged.
	ReportEvery    time.Duration
	QuotePairs     int
	SpreadCapture  bool
	RandomFlow     bool
	ReferencePrice decimal.Decimal
	TickSize       decimal.Decimal
	// FirstID keeps swarm order ids clear of other submitters.
	FirstID engine.OrderID
	Seed    int64
}

// Supervisor orchestrates multiple bots with a shared client and PnL tracking.
type Supervisor struct {
	session  string
	bots     []Bot
	client   *ThrottledClient
	pnl      *pnlTracker
	throttle *time.Ticker
	every    time.Duration
	logger   *zap.Logger
}

// NewSupervisor builds a swarm of bots and a throttled client over runner.
func NewSupervisor(runner *engine.Runner, cfg SupervisorConfig, observer Observer, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.OrderInterval <= 0 {
		cfg.OrderInterval = 50 * time.Millisecond
	}
	if cfg.ReportEvery <= 0 {
		cfg.ReportEvery = 2 * time.Second
	}
	if !cfg.TickSize.IsPositive() {
		cfg.TickSize = decimal.New(1, -2)
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	throttle := time.NewTicker(cfg.OrderInterval)
	client := NewThrottledClient(runner, ClientOptions{
		TickSize:       cfg.TickSize,
		ReferencePrice: cfg.ReferencePrice,
		FirstID:        cfg.FirstID,
		Observer:       observer,
	}, throttle.C)

	var bots []Bot
	for i := 0; i < cfg.QuotePairs; i++ {
		seed := cfg.Seed + int64(2*i)
		bots = append(bots, NewRandomBidBot(seed), NewRandomAskBot(seed+1))
	}
	if cfg.SpreadCapture {
		bots = append(bots, NewSpreadCaptureBot())
	}
	if cfg.RandomFlow {
		bots = append(bots, NewRandomFlowBot(cfg.Seed-1))
	}

	session := uuid.NewString()
	return &Supervisor{
		session:  session,
		bots:     bots,
		client:   client,
		pnl:      &pnlTracker{cash: decimal.Zero},
		throttle: throttle,
		every:    cfg.ReportEvery,
		logger:   logger.With(zap.String("session", session)),
	}
}

// Session identifies this swarm run in logs.
func (s *Supervisor) Session() string { return s.session }

// Bots lists the names of the bots in the swarm.
func (s *Supervisor) Bots() []string {
	names := make([]string, len(s.bots))
	for i, b := range s.bots {
		names[i] = b.Name()
	}
	return names
}

// Start launches all bots and PnL monitoring until the context is canceled.
// It returns once every bot has exited.
func (s *Supervisor) Start(ctx context.Context) {
	logTicker := time.NewTicker(s.every)
	defer logTicker.Stop()
	defer s.throttle.Stop()
	defer s.client.Close()

	s.logger.Info("starting bot swarm", zap.Strings("bots", s.Bots()))

	var wg sync.WaitGroup
	for _, bot := range s.bots {
		wg.Add(1)
		go func(b Bot) {
			defer wg.Done()
			b.Start(ctx, s.client)
		}(bot)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.consumeFills(ctx)
	}()

	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			s.report("final pnl")
			return
		case <-logTicker.C:
			s.report("pnl")
		}
	}
}

func (s *Supervisor) report(msg string) {
	pos, cash, fills := s.pnl.Snapshot()
	s.logger.Info(msg,
		zap.Int64("position", pos),
		zap.String("cash", cash.StringFixed(2)),
		zap.Int("fills", fills))
}

// PnL returns the swarm's net position, cash and fill count so far.
func (s *Supervisor) PnL() (int64, decimal.Decimal, int) {
	return s.pnl.Snapshot()
}

func (s *Supervisor) consumeFills(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-s.client.Fills():
			if !ok {
				return
			}
			s.pnl.Record(fill, s.client)
		}
	}
}

type pnlTracker struct {
	mu       sync.Mutex
	position int64
	cash     decimal.Decimal
	fills    int
}

func (p *pnlTracker) Record(fill engine.Fill, client EngineClient) {
	p.mu.Lock()
	defer p.mu.Unlock()
	notional := fill.Notional()
	counted := false
	if client.OwnsOrder(fill.BuyOrderID) {
		p.position += fill.Quantity
		p.cash = p.cash.Sub(notional)
		counted = true
	}
	if client.OwnsOrder(fill.SellOrderID) {
		p.position -= fill.Quantity
		p.cash = p.cash.Add(notional)
		counted = true
	}
	if counted {
		p.fills++
	}
}

func (p *pnlTracker) Snapshot() (int64, decimal.Decimal, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position, p.cash, p.fills
}
