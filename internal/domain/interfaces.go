package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// SignalStore is the persistent system of record for signals and liquidation
// telemetry. The audit engine's in-memory registry stays authoritative for the
// next decision; the store closes races with other process instances.
type SignalStore interface {
	InsertSignal(ctx context.Context, sig *Signal) error
	UpdateSignal(ctx context.Context, sig *Signal) error
	CountOpenSignals(ctx context.Context, symbol string) (int64, error)
	OpenSignals(ctx context.Context) ([]Signal, error)
	InsertLiquidationBatch(ctx context.Context, rows []LiquidationEvent) error
}

// ChannelSubscriber is the control-flow face of the stream transport: the
// audit engine asks it to add channels when it starts tracking a symbol.
type ChannelSubscriber interface {
	AddChannel(name string)
	IsAlive() bool
}

// TickSink receives price ticks. There is exactly one implementation path that
// mutates signal state from a price, shared by the push stream and the
// watchdog poll fallback.
type TickSink interface {
	OnTick(ctx context.Context, symbol string, price decimal.Decimal)
}
