package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel_go/internal/infra"

	"github.com/shopspring/decimal"
)

// PriceAuditor is the slice of the audit engine the watchdog drives.
type PriceAuditor interface {
	HasOpen() bool
	TrackedSymbols() []string
	OnTick(ctx context.Context, symbol string, price decimal.Decimal)
}

// jsonGetter abstracts the REST gateway for tests.
type jsonGetter interface {
	GetJSON(ctx context.Context, url string, out interface{}) error
}

const tickerPricePath = "/api/v3/ticker/price"

// Watchdog guards against a silently dead stream: when no tick has arrived
// for longer than the silence threshold while signals are open, it polls the
// exchange REST ticker and feeds the prices through the exact same OnTick
// path the stream uses. Audit outcomes are identical either way; only the
// price source differs.
type Watchdog struct {
	auditor PriceAuditor
	rest    jsonGetter
	restURL string

	checkInterval    time.Duration
	silenceThreshold time.Duration

	lastTickNano atomic.Int64

	errMu   sync.Mutex
	lastErr error

	clock  func() time.Time
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewWatchdog creates a watchdog over the audit engine. restURL is the
// exchange REST base, e.g. https://api.binance.com.
func NewWatchdog(auditor PriceAuditor, rest jsonGetter, restURL string, checkInterval, silenceThreshold time.Duration) *Watchdog {
	if checkInterval <= 0 {
		checkInterval = 30 * time.Second
	}
	if silenceThreshold <= 0 {
		silenceThreshold = 45 * time.Second
	}
	w := &Watchdog{
		auditor:          auditor,
		rest:             rest,
		restURL:          restURL,
		checkInterval:    checkInterval,
		silenceThreshold: silenceThreshold,
		clock:            time.Now,
		logger:           slog.Default().With("module", "watchdog"),
	}
	w.lastTickNano.Store(w.clock().UnixNano())
	return w
}

// MarkTick records stream liveness. Called from the dispatch path on every
// streamed trade; safe for concurrent use.
func (w *Watchdog) MarkTick() {
	w.lastTickNano.Store(w.clock().UnixNano())
}

// Silence returns how long the stream has been quiet.
func (w *Watchdog) Silence() time.Duration {
	return w.clock().Sub(time.Unix(0, w.lastTickNano.Load()))
}

// Run starts the periodic liveness check.
func (w *Watchdog) Run(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.checkInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.check(ctx)
			}
		}
	}()
}

// Stop halts the check loop.
func (w *Watchdog) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// check polls only when the stream is silent past the threshold AND there is
// at least one open signal to protect. A quiet stream with nothing tracked
// costs nothing and risks nothing.
func (w *Watchdog) check(ctx context.Context) {
	silence := w.Silence()
	if silence <= w.silenceThreshold {
		return
	}
	if !w.auditor.HasOpen() {
		infra.MtxWatchdogPolls.WithLabelValues("skipped").Inc()
		return
	}

	w.logger.Warn("⚠️ Stream silent, falling back to REST poll",
		slog.Duration("silence", silence),
	)
	w.Poll(ctx)
}

// tickerPrice is one row of the exchange's bulk ticker response.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Poll fetches the full ticker table once and feeds the tracked symbols'
// prices into the auditor. Calling it directly is the manual force path: no
// silence check, no open-signal gate. A failed poll is recorded, leaves the
// silence window untouched and is retried on the next check; a successful one
// counts as tick delivery like any streamed trade.
func (w *Watchdog) Poll(ctx context.Context) {
	var table []tickerPrice
	if err := w.rest.GetJSON(ctx, w.restURL+tickerPricePath, &table); err != nil {
		infra.MtxWatchdogPolls.WithLabelValues("error").Inc()
		w.setErr(err)
		w.logger.Error("Ticker poll failed", slog.Any("error", err))
		return
	}
	w.setErr(nil)

	prices := make(map[string]decimal.Decimal, len(table))
	for _, row := range table {
		price, err := decimal.NewFromString(row.Price)
		if err != nil {
			continue
		}
		prices[row.Symbol] = price
	}

	fed := 0
	for _, symbol := range w.auditor.TrackedSymbols() {
		price, ok := prices[symbol]
		if !ok {
			w.logger.Warn("Ticker poll missing tracked symbol", slog.String("symbol", symbol))
			continue
		}
		w.auditor.OnTick(ctx, symbol, price)
		infra.MtxTicksProcessed.WithLabelValues("poll").Inc()
		fed++
	}

	if fed > 0 {
		w.MarkTick()
	}
	infra.MtxWatchdogPolls.WithLabelValues("ok").Inc()
	w.logger.Info("Ticker poll applied", slog.Int("symbols", fed))
}

func (w *Watchdog) setErr(err error) {
	w.errMu.Lock()
	w.lastErr = err
	w.errMu.Unlock()
}

// LastError returns the most recent poll failure, nil after a success.
func (w *Watchdog) LastError() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}
