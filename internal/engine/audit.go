package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sentinel_go/internal/bus"
	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"
	"sentinel_go/internal/infra"
	"sentinel_go/internal/infra/binance"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Proposal is a trade suggestion handed in by the external strategy pipeline.
// ReferencePrice is the market price observed when the proposal was formed.
type Proposal struct {
	Symbol          string
	Side            domain.Side
	Strategy        string
	Timeframe       string
	PlannedEntry    decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfit1     decimal.Decimal
	TakeProfit2     decimal.Decimal
	TakeProfit3     decimal.Decimal
	ConfidenceScore decimal.Decimal
	ReferencePrice  decimal.Decimal
}

// Params are the audit engine tunables.
type Params struct {
	FeeRate          decimal.Decimal // per fill, fraction of price
	EntryTolerance   decimal.Decimal // entry band around planned entry
	MarketSlippage   decimal.Decimal // immediate activation at registration
	LimitSlippage    decimal.Decimal // activation on band touch, limit-style fill
	PartialExitRatio decimal.Decimal // fraction exited at TP1
	SweepInterval    time.Duration
}

// DefaultParams mirrors the production configuration.
func DefaultParams() Params {
	return Params{
		FeeRate:          decimal.NewFromFloat(0.001),
		EntryTolerance:   decimal.NewFromFloat(0.003),
		MarketSlippage:   decimal.NewFromFloat(0.0005),
		LimitSlippage:    decimal.NewFromFloat(0.0002),
		PartialExitRatio: decimal.NewFromFloat(0.4),
		SweepInterval:    5 * time.Minute,
	}
}

// Auditor owns the set of currently tracked signals and is the single
// mutation path for signal state. The in-memory registry is authoritative for
// the next decision; the store is the system of record and is reconciled
// write-through: on a failed write the in-memory state stands and the next
// write touching the same signal retries the full row.
type Auditor struct {
	mu       sync.Mutex
	registry map[string]*domain.Signal // symbol -> non-terminal signal
	inflight map[string]struct{}       // per-symbol registration locks

	store     domain.SignalStore
	transport domain.ChannelSubscriber
	events    *bus.Bus
	params    Params

	clock  func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAuditor creates an audit engine. transport and events may be nil in
// tests; nil disables subscription control and lifecycle notices.
func NewAuditor(store domain.SignalStore, transport domain.ChannelSubscriber, events *bus.Bus, params Params) *Auditor {
	if params.SweepInterval <= 0 {
		params.SweepInterval = 5 * time.Minute
	}
	return &Auditor{
		registry:  make(map[string]*domain.Signal),
		inflight:  make(map[string]struct{}),
		store:     store,
		transport: transport,
		events:    events,
		params:    params,
		clock:     time.Now,
	}
}

// Reload loads every non-terminal row from the store into the registry and
// re-subscribes their channels. Must run before registrations are accepted so
// a restart does not lose open positions.
func (a *Auditor) Reload(ctx context.Context) error {
	signals, err := a.store.OpenSignals(ctx)
	if err != nil {
		return err
	}

	a.mu.Lock()
	for i := range signals {
		sig := signals[i]
		a.registry[sig.Symbol] = &sig
	}
	open := len(a.registry)
	a.mu.Unlock()

	for _, sig := range signals {
		a.ensureSubscribed(sig.Symbol)
	}

	infra.MtxOpenSignals.Set(float64(open))
	slog.Info("♻️ Reloaded open signals", slog.Int("count", open))
	return nil
}

// Register runs the race-free registration sequence. Returns the tracked
// signal, or a rejection error (duplicate and in-flight rejections are
// expected and frequent, not failures).
func (a *Auditor) Register(ctx context.Context, p Proposal) (*domain.Signal, error) {
	// The in-flight lock is per symbol, not per (symbol, side): two
	// opposite-side proposals racing for the same instrument must serialize,
	// or both would pass the store re-check and double-open. It is taken
	// before any other step so a proposal that loses the race cannot have
	// side effects — in particular, it must not reverse a position it will
	// never replace.
	a.mu.Lock()
	if _, busy := a.inflight[p.Symbol]; busy {
		a.mu.Unlock()
		infra.MtxRegistrationsRejected.WithLabelValues("in_flight").Inc()
		return nil, domain.ErrRegistrationInFlight
	}
	a.inflight[p.Symbol] = struct{}{}

	if existing, ok := a.registry[p.Symbol]; ok {
		if existing.Side == p.Side {
			// An open position is never duplicated or re-parameterized.
			delete(a.inflight, p.Symbol)
			a.mu.Unlock()
			infra.MtxRegistrationsRejected.WithLabelValues("duplicate").Inc()
			return nil, domain.ErrDuplicateSignal
		}
		// Reversal: an opposite-direction proposal force-closes the open
		// position at the proposal's reference price before registration
		// proceeds.
		slog.Warn("Reversal: closing opposite position",
			slog.String("symbol", p.Symbol),
			slog.String("open_side", string(existing.Side)),
			slog.String("new_side", string(p.Side)),
		)
		status := domain.StatusLoss
		if existing.Stage > 0 || existing.NetPnlPercent(p.ReferencePrice).IsPositive() {
			status = domain.StatusWin
		}
		a.closeLocked(ctx, existing, p.ReferencePrice, status)
	}
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.inflight, p.Symbol)
		a.mu.Unlock()
	}()

	// Re-check the store, not just the registry: another process instance may
	// have persisted a row for this symbol since our in-memory check.
	if n, err := a.store.CountOpenSignals(ctx, p.Symbol); err != nil {
		return nil, err
	} else if n > 0 {
		infra.MtxRegistrationsRejected.WithLabelValues("store_race").Inc()
		return nil, domain.ErrDuplicateSignal
	}

	sig := &domain.Signal{
		ID:              uuid.NewString(),
		Symbol:          p.Symbol,
		Side:            p.Side,
		Status:          domain.StatusPending,
		Strategy:        p.Strategy,
		Timeframe:       p.Timeframe,
		PlannedEntry:    p.PlannedEntry,
		StopLoss:        p.StopLoss,
		TakeProfit1:     p.TakeProfit1,
		TakeProfit2:     p.TakeProfit2,
		TakeProfit3:     p.TakeProfit3,
		ConfidenceScore: p.ConfidenceScore,
		CreatedAt:       a.clock(),
	}

	// Already inside the entry band: fill immediately at market, with market
	// slippage against the side and the entry fee.
	if domain.WithinBand(p.ReferencePrice, p.PlannedEntry, a.params.EntryTolerance) {
		a.activate(sig, a.params.MarketSlippage)
	}

	if err := a.store.InsertSignal(ctx, sig); err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.registry[p.Symbol] = sig
	open := len(a.registry)
	a.mu.Unlock()

	a.ensureSubscribed(p.Symbol)

	infra.MtxSignalsOpened.Inc()
	infra.MtxOpenSignals.Set(float64(open))
	a.publish(event.SignalOpened, sig)
	slog.Info("📈 Signal registered",
		slog.String("id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("side", string(sig.Side)),
		slog.String("status", string(sig.Status)),
	)
	return sig, nil
}

// activate fills the entry at the planned level with slippage against the
// side, plus the entry fee. ActivationPrice is set exactly once, here.
func (a *Auditor) activate(sig *domain.Signal, slippage decimal.Decimal) {
	fill := domain.SlipAgainst(sig.Side, sig.PlannedEntry, slippage)
	sig.ActivationPrice = &fill
	sig.FeesPaid = sig.FeesPaid.Add(fill.Mul(a.params.FeeRate))
	sig.Status = domain.StatusActive
}

// OnTick applies one price observation to the tracked signal for the symbol.
// This is the single code path that mutates signal state from a price,
// regardless of whether the price arrived by push or poll.
func (a *Auditor) OnTick(ctx context.Context, symbol string, price decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sig, ok := a.registry[symbol]
	if !ok {
		return
	}

	switch sig.Status {
	case domain.StatusPending:
		if domain.WithinBand(price, sig.PlannedEntry, a.params.EntryTolerance) {
			// Band touch models a limit-style fill: tighter slippage than the
			// market fill used for immediate registration.
			a.activate(sig, a.params.LimitSlippage)
			a.persist(ctx, sig)
			slog.Info("🎯 Signal activated",
				slog.String("id", sig.ID),
				slog.String("symbol", sig.Symbol),
				slog.String("price", sig.ActivationPrice.String()),
			)
		}

	case domain.StatusActive, domain.StatusPartialWin:
		if sig.StopHit(price) {
			// A breakeven-or-better stop after a secured partial is a net win.
			status := domain.StatusLoss
			if sig.Stage > 0 {
				status = domain.StatusWin
			}
			a.closeLocked(ctx, sig, price, status)
			return
		}

		changed := false
		// Take-profit ladder, in order, never skipping backward. TP1 also
		// requires the price to be strictly in profit so a stale or inverted
		// level cannot fire on a losing tick.
		if sig.Stage == 0 && sig.TargetHit(price, sig.TakeProfit1) && sig.InProfit(price) {
			sig.Stage = 1
			sig.Status = domain.StatusPartialWin
			realized := sig.GrossPnlPercent(price).Mul(a.params.PartialExitRatio)
			sig.RealizedPnlPercent = &realized
			changed = true
			slog.Info("💰 TP1 hit, partial realized",
				slog.String("id", sig.ID),
				slog.String("realized_pct", realized.String()),
			)
		}
		if sig.Stage == 1 && sig.TargetHit(price, sig.TakeProfit2) {
			sig.Stage = 2
			changed = true
		}
		if sig.TargetHit(price, sig.TakeProfit3) {
			sig.Stage = 3
			a.closeLocked(ctx, sig, price, domain.StatusWin)
			return
		}
		if changed {
			a.persist(ctx, sig)
		}
	}
}

// closeLocked finalizes a signal: exit fee, close bookkeeping, integrity
// clamp, eviction, persistence and notification. Caller holds a.mu.
func (a *Auditor) closeLocked(ctx context.Context, sig *domain.Signal, price decimal.Decimal, status domain.Status) {
	sig.FeesPaid = sig.FeesPaid.Add(price.Mul(a.params.FeeRate))

	now := a.clock()
	final := price
	sig.ClosedAt = &now
	sig.FinalPrice = &final

	pnl := sig.NetPnlPercent(price)
	// The banked TP1 fraction counts toward the final figure; the remaining
	// position's move is still taken at full weight rather than blended.
	if sig.Stage >= 1 && sig.RealizedPnlPercent != nil {
		pnl = pnl.Add(*sig.RealizedPnlPercent)
	}
	// Integrity clamp: a nominal win with a non-positive net return is
	// recorded as a loss.
	if status == domain.StatusWin && !pnl.IsPositive() {
		status = domain.StatusLoss
	}
	sig.Status = status
	sig.PnlPercent = &pnl

	delete(a.registry, sig.Symbol)
	infra.MtxOpenSignals.Set(float64(len(a.registry)))
	infra.MtxSignalsClosed.WithLabelValues(string(status)).Inc()

	a.persist(ctx, sig)
	a.publish(event.SignalClosed, sig)
	slog.Info("🏁 Signal closed",
		slog.String("id", sig.ID),
		slog.String("symbol", sig.Symbol),
		slog.String("status", string(status)),
		slog.String("pnl_pct", pnl.String()),
	)
}

// Run starts the periodic expiration sweep.
func (a *Auditor) Run(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Expiration sweep panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(a.params.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the sweep loop.
func (a *Auditor) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
}

// Sweep expires PENDING signals that outlived their timeframe's age limit. A
// proposal that never got near its entry zone is a non-event, not a loss:
// zero PnL, no fees.
func (a *Auditor) Sweep(ctx context.Context) {
	now := a.clock()

	a.mu.Lock()
	defer a.mu.Unlock()

	for symbol, sig := range a.registry {
		if sig.Status != domain.StatusPending {
			continue
		}
		if now.Sub(sig.CreatedAt) <= domain.ExpiryLimit(sig.Timeframe) {
			continue
		}

		closedAt := now
		zero := decimal.Zero
		sig.Status = domain.StatusExpired
		sig.ClosedAt = &closedAt
		sig.PnlPercent = &zero

		delete(a.registry, symbol)
		infra.MtxOpenSignals.Set(float64(len(a.registry)))
		infra.MtxSignalsClosed.WithLabelValues(string(domain.StatusExpired)).Inc()

		a.persist(ctx, sig)
		a.publish(event.SignalClosed, sig)
		slog.Info("⌛ Signal expired",
			slog.String("id", sig.ID),
			slog.String("symbol", symbol),
			slog.String("timeframe", sig.Timeframe),
		)
	}
}

// persist writes the full current row. A failure is a recoverable
// inconsistency: the in-memory state has already advanced and remains
// authoritative, and the next write touching this signal carries the full
// state again.
func (a *Auditor) persist(ctx context.Context, sig *domain.Signal) {
	if err := a.store.UpdateSignal(ctx, sig); err != nil {
		slog.Error("Signal persist failed, in-memory state stands",
			slog.String("id", sig.ID),
			slog.Any("error", err),
		)
	}
}

func (a *Auditor) ensureSubscribed(symbol string) {
	if a.transport == nil {
		return
	}
	a.transport.AddChannel(binance.TradeChannel(symbol))
	a.transport.AddChannel(binance.DepthChannel(symbol))
}

func (a *Auditor) publish(notice event.SignalNotice, sig *domain.Signal) {
	if a.events == nil {
		return
	}
	a.events.Publish(&event.SignalEvent{Notice: notice, Signal: *sig})
}

// HasOpen reports whether any signal is currently tracked.
func (a *Auditor) HasOpen() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.registry) > 0
}

// TrackedSymbols returns the symbols with a non-terminal signal.
func (a *Auditor) TrackedSymbols() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.registry))
	for symbol := range a.registry {
		out = append(out, symbol)
	}
	return out
}

// Snapshot returns a copy of the tracked signal for a symbol.
func (a *Auditor) Snapshot(symbol string) (domain.Signal, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sig, ok := a.registry[symbol]
	if !ok {
		return domain.Signal{}, false
	}
	return *sig, true
}
