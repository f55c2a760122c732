package app

import (
	"context"
	"log/slog"

	"sentinel_go/internal/bus"
	"sentinel_go/internal/event"
	"sentinel_go/internal/infra"
	"sentinel_go/internal/market"

	"github.com/shopspring/decimal"
)

// tickSink receives per-symbol price observations.
type tickSink interface {
	OnTick(ctx context.Context, symbol string, price decimal.Decimal)
}

// liveness records stream heartbeats.
type liveness interface {
	MarkTick()
}

// Dispatcher is the single consumer of the stream inbox. Events are handled
// strictly one at a time: fold into the aggregator, fan out on the bus, then
// drive the audit engine for trades. Everything downstream can rely on
// sequential delivery.
type Dispatcher struct {
	inbox      <-chan event.Event
	aggregator *market.Aggregator
	events     *bus.Bus
	auditor    tickSink
	watchdog   liveness
}

// NewDispatcher wires the inbox to its consumers.
func NewDispatcher(inbox <-chan event.Event, aggregator *market.Aggregator, events *bus.Bus, auditor tickSink, watchdog liveness) *Dispatcher {
	return &Dispatcher{
		inbox:      inbox,
		aggregator: aggregator,
		events:     events,
		auditor:    auditor,
		watchdog:   watchdog,
	}
}

// Run drains the inbox until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("✅ Dispatcher started")
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.inbox:
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev event.Event) {
	d.aggregator.Handle(ev)
	d.events.Publish(ev)

	if te, ok := ev.(*event.TradeEvent); ok {
		d.watchdog.MarkTick()
		d.auditor.OnTick(ctx, te.Tick.Symbol, te.Tick.Price)
		infra.MtxTicksProcessed.WithLabelValues("stream").Inc()
		// Fan-out is synchronous; no subscriber holds the event past Publish.
		event.ReleaseTradeEvent(te)
	}
}
