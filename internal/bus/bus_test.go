package bus

import (
	"testing"

	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"
)

func TestPublishOrder(t *testing.T) {
	b := New()
	var order []int

	b.Subscribe(func(event.Event) { order = append(order, 1) })
	b.Subscribe(func(event.Event) { order = append(order, 2) })
	b.Subscribe(func(event.Event) { order = append(order, 3) })

	b.Publish(&event.TradeEvent{Tick: domain.MarketTick{Symbol: "BTCUSDT"}})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("expected delivery in registration order, got %v", order)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	var aCount, bCount int

	unsubA := b.Subscribe(func(event.Event) { aCount++ })
	b.Subscribe(func(event.Event) { bCount++ })

	ev := &event.TradeEvent{}
	b.Publish(ev)
	unsubA()
	b.Publish(ev)

	if aCount != 1 {
		t.Errorf("expected 1 delivery after unsubscribe, got %d", aCount)
	}
	if bCount != 2 {
		t.Errorf("expected remaining subscriber to see both, got %d", bCount)
	}
	if b.Len() != 1 {
		t.Errorf("expected 1 subscriber left, got %d", b.Len())
	}

	// Double unsubscribe is a no-op
	unsubA()
	if b.Len() != 1 {
		t.Error("double unsubscribe must not remove other subscribers")
	}
}

func TestAllKindsDelivered(t *testing.T) {
	b := New()
	seen := map[event.Kind]int{}
	b.Subscribe(func(ev event.Event) { seen[ev.GetKind()]++ })

	b.Publish(&event.TradeEvent{})
	b.Publish(&event.DepthEvent{})
	b.Publish(&event.LiquidationEvent{})
	b.Publish(&event.SignalEvent{Notice: event.SignalOpened})

	for _, k := range []event.Kind{event.KindTrade, event.KindDepth, event.KindLiquidation, event.KindSignal} {
		if seen[k] != 1 {
			t.Errorf("kind %s delivered %d times", k, seen[k])
		}
	}
}
