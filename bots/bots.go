package bots

import (
	"context"

	"github.com/shopspring/decimal"

	"lobsim/engine"
)

// Bot represents a trading agent that can be run under a supervisor.
type Bot interface {
	Name() string
	Start(ctx context.Context, client EngineClient)
}

// EngineClient abstracts the minimal surface bots need from the matching engine.
type EngineClient interface {
	Submit(ctx context.Context, order engine.Order) (engine.ExecutionReport, error)
	Cancel(ctx context.Context, id engine.OrderID) (bool, error)
	TopOfBook(ctx context.Context) (engine.TopOfBook, error)
	Fills() <-chan engine.Fill
	TickSize() decimal.Decimal
	ReferencePrice() decimal.Decimal
	NextID() engine.OrderID
	OwnsOrder(id engine.OrderID) bool
}

// Observer receives the outcome of every request a client forwards.
// *metrics.Collector satisfies it.
type Observer interface {
	ObserveExecution(order engine.Order, report engine.ExecutionReport)
	ObserveCancel(found bool)
}
