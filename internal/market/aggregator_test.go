package market

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	batches [][]domain.LiquidationEvent
	err     error
}

func (f *fakeWriter) InsertLiquidationBatch(_ context.Context, rows []domain.LiquidationEvent) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, rows)
	return nil
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func trade(symbol, price, qty string, sellAggressor bool) *event.TradeEvent {
	return &event.TradeEvent{Tick: domain.MarketTick{
		Symbol:          symbol,
		Price:           dec(price),
		Quantity:        dec(qty),
		IsAggressorSell: sellAggressor,
	}}
}

func TestAggregator_CVD(t *testing.T) {
	a := NewAggregator(&fakeWriter{}, 0)

	a.Handle(trade("BTCUSDT", "100", "2", false))
	a.Handle(trade("BTCUSDT", "101", "5", true))
	a.Handle(trade("ETHUSDT", "3500", "1", false))

	btc, ok := a.CVD("BTCUSDT")
	require.True(t, ok)
	assert.True(t, btc.CumulativeDelta.Equal(dec("-3")), "delta: %s", btc.CumulativeDelta)
	assert.True(t, btc.CumulativeVolume.Equal(dec("7")))
	assert.True(t, btc.LastPrice.Equal(dec("101")))

	eth, ok := a.CVD("ETHUSDT")
	require.True(t, ok)
	assert.True(t, eth.CumulativeDelta.Equal(dec("1")), "symbols must not share state")

	_, ok = a.CVD("SOLUSDT")
	assert.False(t, ok)
}

func TestAggregator_DepthReplacedWholesale(t *testing.T) {
	a := NewAggregator(&fakeWriter{}, 0)

	first := domain.DepthSnapshot{
		Symbol:       "BTCUSDT",
		Bids:         []domain.DepthLevel{{Price: dec("100"), Quantity: dec("1")}, {Price: dec("99"), Quantity: dec("1")}},
		LastUpdateMs: 1,
	}
	second := domain.DepthSnapshot{
		Symbol:       "BTCUSDT",
		Bids:         []domain.DepthLevel{{Price: dec("101"), Quantity: dec("2")}},
		LastUpdateMs: 2,
	}
	a.Handle(&event.DepthEvent{Snapshot: first})
	a.Handle(&event.DepthEvent{Snapshot: second})

	got, ok := a.Depth("BTCUSDT")
	require.True(t, ok)
	require.Len(t, got.Bids, 1, "snapshot must be replaced, not merged")
	assert.Equal(t, int64(2), got.LastUpdateMs)
}

func TestAggregator_LiquidationRingBounded(t *testing.T) {
	a := NewAggregator(&fakeWriter{}, 0)

	for i := 0; i < liquidationRingSize+10; i++ {
		a.Handle(&event.LiquidationEvent{Liquidation: domain.LiquidationEvent{
			Symbol:      "BTCUSDT",
			TimestampMs: int64(i),
		}})
	}

	ring := a.RecentLiquidations()
	require.Len(t, ring, liquidationRingSize)
	assert.Equal(t, int64(10), ring[0].TimestampMs, "oldest entries must be evicted")
	assert.Equal(t, int64(liquidationRingSize+9), ring[len(ring)-1].TimestampMs)
}

func TestAggregator_FlushSwapsBuffer(t *testing.T) {
	w := &fakeWriter{}
	a := NewAggregator(w, 0)

	for i := 0; i < 3; i++ {
		a.Handle(&event.LiquidationEvent{Liquidation: domain.LiquidationEvent{
			Symbol: fmt.Sprintf("SYM%d", i),
		}})
	}
	require.Equal(t, 3, a.PendingFlushSize())

	a.Flush(context.Background())
	assert.Equal(t, 0, a.PendingFlushSize(), "buffer must be cleared before the insert is issued")
	require.Len(t, w.batches, 1)
	assert.Len(t, w.batches[0], 3)

	// Empty buffer: no insert issued
	a.Flush(context.Background())
	assert.Len(t, w.batches, 1)
}

func TestAggregator_FlushFailureDropsBatch(t *testing.T) {
	w := &fakeWriter{err: errors.New("db down")}
	a := NewAggregator(w, 0)

	a.Handle(&event.LiquidationEvent{Liquidation: domain.LiquidationEvent{Symbol: "BTCUSDT"}})
	a.Flush(context.Background())

	assert.Equal(t, 0, a.PendingFlushSize(), "failed batch is dropped, not re-queued")

	// Recovery: later events still flush
	w.err = nil
	a.Handle(&event.LiquidationEvent{Liquidation: domain.LiquidationEvent{Symbol: "ETHUSDT"}})
	a.Flush(context.Background())
	require.Len(t, w.batches, 1)
	assert.Equal(t, "ETHUSDT", w.batches[0][0].Symbol)
}
