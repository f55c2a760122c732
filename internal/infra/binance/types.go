package binance

import "github.com/shopspring/decimal"

// Channel name helpers for the combined stream.
const (
	LiquidationChannel = "!forceOrder@arr"
)

// TradeChannel returns the aggregate trade channel for a symbol.
func TradeChannel(symbol string) string {
	return lower(symbol) + "@aggTrade"
}

// DepthChannel returns the top-20 partial book channel for a symbol.
func DepthChannel(symbol string) string {
	return lower(symbol) + "@depth20@100ms"
}

func lower(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// subscribeRequest is the stream control message. Payload limits cap params at
// ten channel names per message.
type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

// aggTradePayload is the data object of an @aggTrade frame.
// BuyerIsMaker=true means the aggressor was a seller.
type aggTradePayload struct {
	Symbol       string          `json:"s"`
	Price        decimal.Decimal `json:"p"`
	Quantity     decimal.Decimal `json:"q"`
	BuyerIsMaker bool            `json:"m"`
	TradeTimeMs  int64           `json:"T"`
}

// depthPayload is the data object of a partial book depth frame. Levels are
// ["price","qty"] pairs; the channel delivers a full top-N snapshot, not a
// diff.
type depthPayload struct {
	Symbol      string              `json:"s"`
	EventTimeMs int64               `json:"E"`
	Bids        [][]decimal.Decimal `json:"b"`
	Asks        [][]decimal.Decimal `json:"a"`
}

// forceOrderPayload is the data object of a liquidation frame.
type forceOrderPayload struct {
	Order struct {
		Symbol      string          `json:"s"`
		Side        string          `json:"S"` // side of the forced order
		Price       decimal.Decimal `json:"p"`
		AvgPrice    decimal.Decimal `json:"ap"`
		Quantity    decimal.Decimal `json:"q"`
		TradeTimeMs int64           `json:"T"`
	} `json:"o"`
}
