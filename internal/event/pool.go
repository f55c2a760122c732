package event

import (
	"sync"

	"sentinel_go/internal/domain"
)

// tradePool provides sync.Pool for high-frequency trade event allocation.
// Trades dominate the stream by an order of magnitude; pooling them keeps GC
// pressure out of the read loop.
//
// Usage:
//
//	ev := AcquireTradeEvent()
//	ev.Tick = tick
//	// ... dispatch ...
//	ReleaseTradeEvent(ev) // return after the synchronous fan-out completes
var tradePool = sync.Pool{
	New: func() interface{} {
		return &TradeEvent{}
	},
}

// AcquireTradeEvent gets a TradeEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireTradeEvent() *TradeEvent {
	return tradePool.Get().(*TradeEvent)
}

// ReleaseTradeEvent returns a TradeEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseTradeEvent(ev *TradeEvent) {
	if ev == nil {
		return
	}
	ev.Tick = domain.MarketTick{}
	tradePool.Put(ev)
}

// Warmup pre-allocates trade events to reduce GC pressure at startup.
func Warmup() {
	const batchSize = 1000

	evs := make([]*TradeEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		evs = append(evs, AcquireTradeEvent())
	}
	for _, ev := range evs {
		ReleaseTradeEvent(ev)
	}
}
