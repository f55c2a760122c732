package binance

import (
	"fmt"
	"sync"
	"testing"

	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"
)

func newTestWorker(inboxSize int) (*Worker, chan event.Event) {
	inbox := make(chan event.Event, inboxSize)
	return NewWorker("wss://example.com/stream", inbox, 0), inbox
}

func TestChannelNames(t *testing.T) {
	if got := TradeChannel("BTCUSDT"); got != "btcusdt@aggTrade" {
		t.Errorf("unexpected trade channel: %s", got)
	}
	if got := DepthChannel("ETHUSDT"); got != "ethusdt@depth20@100ms" {
		t.Errorf("unexpected depth channel: %s", got)
	}
}

func TestHandleMessage_Trade(t *testing.T) {
	w, inbox := newTestWorker(1)

	frame := `{"stream":"btcusdt@aggTrade","data":{"e":"aggTrade","s":"BTCUSDT","p":"97000.50","q":"0.250","m":true,"T":1700000000000}}`
	w.handleMessage([]byte(frame))

	select {
	case ev := <-inbox:
		trade, ok := ev.(*event.TradeEvent)
		if !ok {
			t.Fatalf("expected TradeEvent, got %T", ev)
		}
		tick := trade.Tick
		if tick.Symbol != "BTCUSDT" {
			t.Errorf("symbol: %s", tick.Symbol)
		}
		if tick.Price.String() != "97000.5" {
			t.Errorf("price: %s", tick.Price)
		}
		if !tick.IsAggressorSell {
			t.Error("buyer-is-maker must mean sell aggressor")
		}
		if tick.TimestampMs != 1700000000000 {
			t.Errorf("timestamp: %d", tick.TimestampMs)
		}
	default:
		t.Fatal("no event dispatched")
	}
}

func TestHandleMessage_Depth(t *testing.T) {
	w, inbox := newTestWorker(1)

	frame := `{"stream":"btcusdt@depth20@100ms","data":{"e":"depthUpdate","E":1700000000500,"s":"BTCUSDT","b":[["97000.00","1.5"],["96999.00","2.0"]],"a":[["97001.00","0.5"]]}}`
	w.handleMessage([]byte(frame))

	ev := <-inbox
	depth, ok := ev.(*event.DepthEvent)
	if !ok {
		t.Fatalf("expected DepthEvent, got %T", ev)
	}
	snap := depth.Snapshot
	if len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("levels: %d bids, %d asks", len(snap.Bids), len(snap.Asks))
	}
	if snap.Bids[0].Notional.String() != "145500" {
		t.Errorf("notional: %s", snap.Bids[0].Notional)
	}
	if snap.LastUpdateMs != 1700000000500 {
		t.Errorf("last update: %d", snap.LastUpdateMs)
	}
}

func TestHandleMessage_DepthCapsLevels(t *testing.T) {
	w, inbox := newTestWorker(1)

	bids := ""
	for i := 0; i < 25; i++ {
		if i > 0 {
			bids += ","
		}
		bids += fmt.Sprintf(`["%d","1"]`, 97000-i)
	}
	frame := fmt.Sprintf(`{"stream":"btcusdt@depth20@100ms","data":{"s":"BTCUSDT","E":1,"b":[%s],"a":[]}}`, bids)
	w.handleMessage([]byte(frame))

	depth := (<-inbox).(*event.DepthEvent)
	if len(depth.Snapshot.Bids) != 20 {
		t.Errorf("expected top-20 cap, got %d", len(depth.Snapshot.Bids))
	}
}

func TestHandleMessage_Liquidation(t *testing.T) {
	w, inbox := newTestWorker(1)

	frame := `{"stream":"!forceOrder@arr","data":{"e":"forceOrder","o":{"s":"ETHUSDT","S":"SELL","p":"3500.00","ap":"3498.50","q":"10","T":1700000001000}}}`
	w.handleMessage([]byte(frame))

	ev := <-inbox
	liq, ok := ev.(*event.LiquidationEvent)
	if !ok {
		t.Fatalf("expected LiquidationEvent, got %T", ev)
	}
	l := liq.Liquidation
	if l.Symbol != "ETHUSDT" {
		t.Errorf("symbol: %s", l.Symbol)
	}
	if l.Side != domain.SideShort {
		t.Errorf("forced sell should map to closed long side marker, got %s", l.Side)
	}
	if l.Price.String() != "3498.5" {
		t.Errorf("should prefer average price, got %s", l.Price)
	}
	if l.NotionalUSD.String() != "34985" {
		t.Errorf("notional: %s", l.NotionalUSD)
	}
}

func TestHandleMessage_MalformedDropped(t *testing.T) {
	w, inbox := newTestWorker(4)

	frames := []string{
		`not json at all`,
		`{"stream":"btcusdt@aggTrade"}`,
		`{"stream":"btcusdt@aggTrade","data":{"p":"bad"}}`,
		`{"stream":"mystery@channel","data":{}}`,
		`{"result":null,"id":3}`, // control response, silently ignored
	}
	for _, f := range frames {
		w.handleMessage([]byte(f))
	}

	if len(inbox) != 0 {
		t.Errorf("malformed frames must not produce events, got %d", len(inbox))
	}
}

func TestDispatch_DropsWhenFull(t *testing.T) {
	w, inbox := newTestWorker(1)

	frame := `{"stream":"btcusdt@aggTrade","data":{"s":"BTCUSDT","p":"1","q":"1","m":false,"T":1}}`
	w.handleMessage([]byte(frame))
	w.handleMessage([]byte(frame)) // inbox full, must not block

	if len(inbox) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(inbox))
	}
}

func TestAddChannel_Idempotent(t *testing.T) {
	w, _ := newTestWorker(1)

	w.AddChannel(TradeChannel("BTCUSDT"))
	w.AddChannel(TradeChannel("BTCUSDT"))
	w.AddChannel(LiquidationChannel)

	if w.channelCount() != 2 {
		t.Errorf("expected 2 channels, got %d", w.channelCount())
	}
}

func TestSubscribe_ConcurrentControlIDs(t *testing.T) {
	// Subscribes arrive from the audit engine's goroutine while the connect
	// goroutine replays; every control message still gets a distinct id.
	w, _ := newTestWorker(1)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.subscribe([]string{"btcusdt@aggTrade"})
		}()
	}
	wg.Wait()

	if got := w.nextID.Load(); got != n {
		t.Errorf("expected %d control message ids issued, got %d", n, got)
	}
}

func TestBatchNames(t *testing.T) {
	names := make([]string, 23)
	for i := range names {
		names[i] = fmt.Sprintf("ch%d", i)
	}

	batches := batchNames(names, 10)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 10 || len(batches[1]) != 10 || len(batches[2]) != 3 {
		t.Errorf("bad batch sizes: %d/%d/%d", len(batches[0]), len(batches[1]), len(batches[2]))
	}

	if batchNames(nil, 10) != nil {
		t.Error("empty input yields no batches")
	}
}
