package domain

import "github.com/shopspring/decimal"

// MarketTick is a single trade print from the stream. Ephemeral: folded into
// derived state and signal transitions, never persisted individually.
type MarketTick struct {
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Quantity        decimal.Decimal `json:"quantity"`
	IsAggressorSell bool            `json:"is_aggressor_sell"`
	TimestampMs     int64           `json:"timestamp_ms"`
}

// DepthLevel is one price level of an order book snapshot.
type DepthLevel struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Notional decimal.Decimal `json:"notional"`
}

// DepthSnapshot is a top-N order book view. The upstream channel delivers a
// full snapshot, so it is replaced wholesale on every update, never merged.
type DepthSnapshot struct {
	Symbol       string       `json:"symbol"`
	Bids         []DepthLevel `json:"bids"`
	Asks         []DepthLevel `json:"asks"`
	LastUpdateMs int64        `json:"last_update_ms"`
}

// CVDState is the per-symbol cumulative volume delta: a running sum of
// aggressor-side-signed trade volume. Never reset except on process restart.
type CVDState struct {
	CumulativeDelta  decimal.Decimal `json:"cumulative_delta"`
	CumulativeVolume decimal.Decimal `json:"cumulative_volume"`
	LastPrice        decimal.Decimal `json:"last_price"`
}

// Apply folds a trade into the delta: sell-aggressor volume subtracts,
// buy-aggressor volume adds.
func (c *CVDState) Apply(tick MarketTick) {
	if tick.IsAggressorSell {
		c.CumulativeDelta = c.CumulativeDelta.Sub(tick.Quantity)
	} else {
		c.CumulativeDelta = c.CumulativeDelta.Add(tick.Quantity)
	}
	c.CumulativeVolume = c.CumulativeVolume.Add(tick.Quantity)
	c.LastPrice = tick.Price
}

// LiquidationEvent is a forced-liquidation print. Kept in a bounded in-memory
// ring for immediate consumers and batch-inserted to the store as telemetry.
// Also the gorm row for the liquidations table.
type LiquidationEvent struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"-"`
	Symbol      string          `gorm:"index" json:"symbol"`
	Side        Side            `json:"side"`
	Price       decimal.Decimal `gorm:"type:numeric" json:"price"`
	Quantity    decimal.Decimal `gorm:"type:numeric" json:"quantity"`
	TimestampMs int64           `json:"timestamp_ms"`
	NotionalUSD decimal.Decimal `gorm:"type:numeric" json:"notional_usd"`
}
