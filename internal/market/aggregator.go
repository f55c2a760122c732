package market

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"
	"sentinel_go/internal/infra"
)

const liquidationRingSize = 50

// LiquidationWriter is the slice of the store the aggregator needs.
type LiquidationWriter interface {
	InsertLiquidationBatch(ctx context.Context, rows []domain.LiquidationEvent) error
}

// Aggregator folds domain events into per-symbol derived state: cumulative
// volume delta, the latest order book snapshot, and a bounded buffer of
// recent liquidations. Liquidations are additionally batched to the store on
// a fixed interval (write-behind, best-effort).
type Aggregator struct {
	mu    sync.RWMutex
	cvd   map[string]*domain.CVDState
	depth map[string]domain.DepthSnapshot
	ring  []domain.LiquidationEvent

	bufMu  sync.Mutex
	buffer []domain.LiquidationEvent

	store         LiquidationWriter
	flushInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAggregator creates an aggregator flushing liquidation batches to store.
func NewAggregator(store LiquidationWriter, flushInterval time.Duration) *Aggregator {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}
	return &Aggregator{
		cvd:           make(map[string]*domain.CVDState),
		depth:         make(map[string]domain.DepthSnapshot),
		store:         store,
		flushInterval: flushInterval,
	}
}

// Handle folds one event. Called from the sequential dispatch path.
func (a *Aggregator) Handle(ev event.Event) {
	switch e := ev.(type) {
	case *event.TradeEvent:
		a.applyTrade(e.Tick)
	case *event.DepthEvent:
		a.applyDepth(e.Snapshot)
	case *event.LiquidationEvent:
		a.applyLiquidation(e.Liquidation)
	}
}

func (a *Aggregator) applyTrade(tick domain.MarketTick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state, ok := a.cvd[tick.Symbol]
	if !ok {
		state = &domain.CVDState{}
		a.cvd[tick.Symbol] = state
	}
	state.Apply(tick)
}

// applyDepth replaces the stored snapshot wholesale: the channel delivers a
// full top-N view, never a diff.
func (a *Aggregator) applyDepth(snap domain.DepthSnapshot) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.depth[snap.Symbol] = snap
}

func (a *Aggregator) applyLiquidation(liq domain.LiquidationEvent) {
	a.mu.Lock()
	a.ring = append(a.ring, liq)
	if len(a.ring) > liquidationRingSize {
		a.ring = a.ring[len(a.ring)-liquidationRingSize:]
	}
	a.mu.Unlock()

	a.bufMu.Lock()
	a.buffer = append(a.buffer, liq)
	a.bufMu.Unlock()
	infra.MtxLiquidationsBuffered.Inc()
}

// Run starts the periodic write-behind flush loop.
func (a *Aggregator) Run(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Liquidation flush panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(a.flushInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				a.Flush(context.Background()) // final drain on shutdown
				return
			case <-ticker.C:
				a.Flush(ctx)
			}
		}
	}()
}

// Flush swaps the buffer for an empty one before issuing the insert, so a
// slow write cannot cause duplicate accumulation. On failure the batch is
// dropped: liquidation history is best-effort telemetry, re-queueing would
// grow memory without bound.
func (a *Aggregator) Flush(ctx context.Context) {
	a.bufMu.Lock()
	if len(a.buffer) == 0 {
		a.bufMu.Unlock()
		return
	}
	batch := a.buffer
	a.buffer = nil
	a.bufMu.Unlock()

	if err := a.store.InsertLiquidationBatch(ctx, batch); err != nil {
		infra.MtxLiquidationFlushes.WithLabelValues("error").Inc()
		slog.Error("Liquidation batch insert failed, batch dropped",
			slog.Int("size", len(batch)),
			slog.Any("error", err),
		)
		return
	}
	infra.MtxLiquidationFlushes.WithLabelValues("ok").Inc()
}

// Stop halts the flush loop after a final drain.
func (a *Aggregator) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// CVD returns a copy of the per-symbol cumulative volume delta state.
func (a *Aggregator) CVD(symbol string) (domain.CVDState, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	state, ok := a.cvd[symbol]
	if !ok {
		return domain.CVDState{}, false
	}
	return *state, true
}

// Depth returns the latest order book snapshot for a symbol.
func (a *Aggregator) Depth(symbol string) (domain.DepthSnapshot, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap, ok := a.depth[symbol]
	return snap, ok
}

// RecentLiquidations returns a copy of the bounded ring, oldest first.
func (a *Aggregator) RecentLiquidations() []domain.LiquidationEvent {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.LiquidationEvent, len(a.ring))
	copy(out, a.ring)
	return out
}

// PendingFlushSize reports how many liquidations await the next flush.
func (a *Aggregator) PendingFlushSize() int {
	a.bufMu.Lock()
	defer a.bufMu.Unlock()
	return len(a.buffer)
}
