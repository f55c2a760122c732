package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sentinel_go/internal/domain"
	"sentinel_go/internal/event"
	"sentinel_go/internal/infra"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

const (
	handshakeTimeout = 10 * time.Second
	readTimeout      = 60 * time.Second
	maxBatchSize     = 10 // channel names per subscribe control message
	maxDepthLevels   = 20
)

// Worker owns the single persistent connection to the exchange combined
// stream. It translates raw frames into typed domain events, manages
// subscriptions, and reconnects unconditionally on failure: a trading system
// favors stale-but-retrying over permanent silence, the watchdog covers the
// gap.
type Worker struct {
	wsURL          string
	inbox          chan<- event.Event
	reconnectDelay time.Duration

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool

	chanMu   sync.Mutex
	channels map[string]bool

	// Control message ids are handed out atomically: AddChannel subscribes
	// from the audit engine's goroutine while the connect goroutine replays.
	nextID atomic.Int64

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a combined-stream worker delivering events to inbox.
func NewWorker(wsURL string, inbox chan<- event.Event, reconnectDelay time.Duration) *Worker {
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	return &Worker{
		wsURL:          wsURL,
		inbox:          inbox,
		reconnectDelay: reconnectDelay,
		channels:       make(map[string]bool),
	}
}

// AddChannel registers a channel name. Idempotent. If connected, the
// subscription is issued immediately; otherwise it is remembered and replayed
// on the next successful connect.
func (w *Worker) AddChannel(name string) {
	w.chanMu.Lock()
	if w.channels[name] {
		w.chanMu.Unlock()
		return
	}
	w.channels[name] = true
	w.chanMu.Unlock()

	if w.IsAlive() {
		if err := w.subscribe([]string{name}); err != nil {
			// The connect replay will pick it up after reconnect.
			slog.Warn("Live subscribe failed", slog.String("channel", name), slog.Any("error", err))
		}
	}
}

// IsAlive reports whether the connection is currently up.
func (w *Worker) IsAlive() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.connected
}

// Connect starts the connection loop.
func (w *Worker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.connectionLoop(ctx)
	return nil
}

func (w *Worker) connectionLoop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			slog.Warn("Stream connection failed", slog.Any("error", err))
			infra.MtxReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnectDelay):
				continue
			}
		} else {
			w.readLoop(ctx)
			// Connection lost: fixed-delay reconnect, no backoff cap.
			infra.MtxStreamAlive.Set(0)
			infra.MtxReconnects.Inc()
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.reconnectDelay):
			}
		}
	}
}

func (w *Worker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial failed: %w", domain.NewNetworkError("connect", err))
	}

	conn.SetPingHandler(func(appData string) error {
		// Protocol ping: answer pong and mark the heartbeat.
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	w.mu.Lock()
	w.conn = conn
	w.connected = true
	w.mu.Unlock()

	if err := w.replaySubscriptions(); err != nil {
		w.closeConnection()
		return err
	}

	infra.MtxStreamAlive.Set(1)
	slog.Info("✅ Stream connected", slog.Int("channels", w.channelCount()))
	return nil
}

// replaySubscriptions subscribes every registered channel, batched to respect
// control-message payload limits.
func (w *Worker) replaySubscriptions() error {
	w.chanMu.Lock()
	names := make([]string, 0, len(w.channels))
	for name := range w.channels {
		names = append(names, name)
	}
	w.chanMu.Unlock()

	for _, batch := range batchNames(names, maxBatchSize) {
		if err := w.subscribe(batch); err != nil {
			return err
		}
	}
	return nil
}

// batchNames splits names into chunks of at most size.
func batchNames(names []string, size int) [][]string {
	var batches [][]string
	for start := 0; start < len(names); start += size {
		end := start + size
		if end > len(names) {
			end = len(names)
		}
		batches = append(batches, names[start:end])
	}
	return batches
}

func (w *Worker) subscribe(names []string) error {
	if len(names) == 0 {
		return nil
	}
	req := subscribeRequest{Method: "SUBSCRIBE", Params: names, ID: w.nextID.Add(1)}
	b, _ := json.Marshal(req)
	return w.threadSafeWrite(websocket.TextMessage, b)
}

func (w *Worker) threadSafeWrite(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.conn == nil {
		return fmt.Errorf("no conn")
	}
	return w.conn.WriteMessage(msgType, data)
}

// readLoop handles frames strictly sequentially: each frame is parsed and
// dispatched before the next is read, so derived state sees no concurrent
// mutation from this path.
func (w *Worker) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		w.mu.RLock()
		if w.conn == nil {
			w.mu.RUnlock()
			return
		}
		w.conn.SetReadDeadline(time.Now().Add(readTimeout))
		w.mu.RUnlock()

		_, msg, err := w.conn.ReadMessage()
		if err != nil {
			w.closeConnection()
			return
		}
		infra.MtxFramesRead.Inc()
		w.handleMessage(msg)
	}
}

// handleMessage routes one combined-stream frame. Malformed frames are
// counted and dropped, never allowed to kill the read loop.
func (w *Worker) handleMessage(msg []byte) {
	stream := gjson.GetBytes(msg, "stream")
	if !stream.Exists() {
		// Control responses ({"result":null,"id":n}) are expected; anything
		// else unroutable is malformed.
		if !gjson.GetBytes(msg, "id").Exists() {
			infra.MtxFramesDropped.Inc()
			slog.Debug("Unroutable frame dropped", slog.String("frame", truncate(msg)))
		}
		return
	}

	data := gjson.GetBytes(msg, "data")
	if !data.Exists() {
		infra.MtxFramesDropped.Inc()
		return
	}
	raw := []byte(data.Raw)

	name := stream.String()
	switch {
	case strings.HasSuffix(name, "@aggTrade"):
		w.handleTrade(raw)
	case strings.Contains(name, "@depth"):
		w.handleDepth(raw)
	case strings.Contains(name, "forceOrder"):
		w.handleLiquidation(raw)
	default:
		infra.MtxFramesDropped.Inc()
		slog.Debug("Unknown stream", slog.String("stream", name))
	}
}

func (w *Worker) handleTrade(raw []byte) {
	var p aggTradePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Symbol == "" {
		infra.MtxFramesDropped.Inc()
		return
	}

	ev := event.AcquireTradeEvent()
	ev.Tick = domain.MarketTick{
		Symbol:          p.Symbol,
		Price:           p.Price,
		Quantity:        p.Quantity,
		IsAggressorSell: p.BuyerIsMaker,
		TimestampMs:     p.TradeTimeMs,
	}
	w.dispatch(ev)
}

func (w *Worker) handleDepth(raw []byte) {
	var p depthPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Symbol == "" {
		infra.MtxFramesDropped.Inc()
		return
	}

	snap := domain.DepthSnapshot{
		Symbol:       p.Symbol,
		Bids:         toLevels(p.Bids),
		Asks:         toLevels(p.Asks),
		LastUpdateMs: p.EventTimeMs,
	}
	w.dispatch(&event.DepthEvent{Snapshot: snap})
}

func toLevels(raw [][]decimal.Decimal) []domain.DepthLevel {
	levels := make([]domain.DepthLevel, 0, len(raw))
	for i, pair := range raw {
		if i >= maxDepthLevels || len(pair) < 2 {
			break
		}
		levels = append(levels, domain.DepthLevel{
			Price:    pair[0],
			Quantity: pair[1],
			Notional: pair[0].Mul(pair[1]),
		})
	}
	return levels
}

func (w *Worker) handleLiquidation(raw []byte) {
	var p forceOrderPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.Order.Symbol == "" {
		infra.MtxFramesDropped.Inc()
		return
	}

	price := p.Order.AvgPrice
	if price.IsZero() {
		price = p.Order.Price
	}
	side := domain.SideLong
	if p.Order.Side == "SELL" {
		// A forced sell closes a long.
		side = domain.SideShort
	}

	liq := domain.LiquidationEvent{
		Symbol:      p.Order.Symbol,
		Side:        side,
		Price:       price,
		Quantity:    p.Order.Quantity,
		TimestampMs: p.Order.TradeTimeMs,
		NotionalUSD: price.Mul(p.Order.Quantity),
	}
	w.dispatch(&event.LiquidationEvent{Liquidation: liq})
}

// dispatch sends into the inbox without blocking the read loop. A dropped
// tick is recovered by the next print for the same symbol; state transitions
// are directional and idempotent downstream.
func (w *Worker) dispatch(ev event.Event) {
	select {
	case w.inbox <- ev:
	default:
		infra.MtxFramesDropped.Inc()
	}
}

func (w *Worker) channelCount() int {
	w.chanMu.Lock()
	defer w.chanMu.Unlock()
	return len(w.channels)
}

func (w *Worker) closeConnection() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	w.connected = false
	infra.MtxStreamAlive.Set(0)
}

// Disconnect stops the loop and closes the connection.
func (w *Worker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeConnection()
	w.wg.Wait()
}

func truncate(b []byte) string {
	const max = 120
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
