package event

import "sentinel_go/internal/domain"

// Kind discriminates the bounded set of event types carried by the bus.
type Kind uint8

const (
	KindTrade Kind = iota + 1
	KindDepth
	KindLiquidation
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindTrade:
		return "trade"
	case KindDepth:
		return "depth"
	case KindLiquidation:
		return "liquidation"
	case KindSignal:
		return "signal"
	}
	return "unknown"
}

// Event is the common interface of everything delivered through the fan-out.
// Subscribers receive all events and filter by kind themselves.
type Event interface {
	GetKind() Kind
}

// TradeEvent carries a single trade print.
type TradeEvent struct {
	Tick domain.MarketTick
}

func (e *TradeEvent) GetKind() Kind { return KindTrade }

// DepthEvent carries a full top-N order book snapshot.
type DepthEvent struct {
	Snapshot domain.DepthSnapshot
}

func (e *DepthEvent) GetKind() Kind { return KindDepth }

// LiquidationEvent carries a forced-liquidation print.
type LiquidationEvent struct {
	Liquidation domain.LiquidationEvent
}

func (e *LiquidationEvent) GetKind() Kind { return KindLiquidation }

// SignalNotice distinguishes lifecycle notifications from the audit engine.
type SignalNotice string

const (
	SignalOpened SignalNotice = "opened"
	SignalClosed SignalNotice = "closed"
)

// SignalEvent announces that a signal opened or reached a terminal status.
// Consumed by the external notification layer.
type SignalEvent struct {
	Notice SignalNotice
	Signal domain.Signal
}

func (e *SignalEvent) GetKind() Kind { return KindSignal }
