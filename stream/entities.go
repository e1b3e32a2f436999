package stream

import (
	"strconv"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Purpose tells which gateway session a frame or an event belongs to
type Purpose uint8

const (
	// PurposeQuote is the anonymous market-data session
	PurposeQuote Purpose = iota + 1
	// PurposeOrderUpdate is the authenticated order status session
	PurposeOrderUpdate
)

func (p Purpose) String() string {
	switch p {
	case PurposeQuote:
		return "quote"
	case PurposeOrderUpdate:
		return "order-update"
	}
	return "unknown"
}

// clientIDSuffix is appended to the device id to form the broker client id
func (p Purpose) clientIDSuffix() string {
	if p == PurposeOrderUpdate {
		return "_order"
	}
	return "_quotes"
}

// Level selects which message classes a subscription streams
type Level int

const (
	LevelSnapshot   Level = 101 // close, change, market value
	LevelQuote      Level = 102 // extended-hours price, or the regular-session quote
	LevelTrade      Level = 103 // deals
	LevelDepth      Level = 104 // ask and bid lists
	LevelQuoteTrade Level = 105 // 102 and 103
	LevelQuoteAlt   Level = 106 // 102, sometimes 103 depending on the exchange
	LevelTradeDepth Level = 107 // 103 and 104
	LevelFullDepth  Level = 108 // 103, 104 and aggregated depth

	DefaultLevel = LevelQuoteTrade
)

func (l Level) String() string {
	return strconv.Itoa(int(l))
}

// IncomingFrame is one message as received from a session. Topic is JSON text.
type IncomingFrame struct {
	Topic   string
	Payload []byte
}

type frameOp uint8

const (
	opSubscribe frameOp = iota + 1
	opUnsubscribe
)

func (o frameOp) String() string {
	if o == opUnsubscribe {
		return "unsubscribe"
	}
	return "subscribe"
}

// OutgoingFrame is a subscribe or unsubscribe request written to a session
type OutgoingFrame struct {
	op   frameOp
	Data []byte
}

// Topic is the parsed metadata that accompanies every inbound frame
type Topic struct {
	Type      int
	TickerIDs []string
	MessageID string
	Action    string
	Raw       string
}

func (t Topic) isOrder() bool {
	return t.MessageID != "" || t.Action != ""
}

// Event is a decoded frame: one of *PriceSnapshot, *TradeTick, *QuoteLevel1,
// *DepthUpdate or *OrderStatusUpdate.
type Event interface {
	Session() Purpose
	Topic() Topic
	Coerced() []string
}

type envelope struct {
	purpose Purpose
	topic   Topic
	coerced *[]string
}

// Session returns the purpose of the session the event arrived on
func (e envelope) Session() Purpose { return e.purpose }

// Topic returns the parsed topic of the frame the event was decoded from
func (e envelope) Topic() Topic { return e.topic }

// Coerced returns the sorted paths of the fields whose json kind was
// converted: numbers sent as strings and ids sent as numbers. Topic fields
// are prefixed with "topic.".
func (e envelope) Coerced() []string {
	if e.coerced == nil {
		return nil
	}
	return append([]string(nil), (*e.coerced)...)
}

// Market is the part shared by all market-data events
type Market struct {
	TickerID string
	// Status is F (pre-market), T (regular) or A (after-hours); empty if absent
	Status    string
	Timestamp *time.Time
}

// PriceSnapshot is an extended-hours price update
type PriceSnapshot struct {
	envelope
	Market
	Price       decimal.NullDecimal
	Change      decimal.NullDecimal
	ChangeRatio decimal.NullDecimal
}

// TradeTick is a single deal
type TradeTick struct {
	envelope
	Market
	Price     decimal.Decimal
	Volume    int64
	TimeOfDay civil.Time
	// Side is the trdBs flag of the deal; empty if absent
	Side string
}

// QuoteLevel1 is a partial quote. Fields missing from the frame are not Valid
// (or nil), they are never zero.
type QuoteLevel1 struct {
	envelope
	Market
	Open         decimal.NullDecimal
	High         decimal.NullDecimal
	Low          decimal.NullDecimal
	Close        decimal.NullDecimal
	Volume       *int64
	Change       decimal.NullDecimal
	ChangeRatio  decimal.NullDecimal
	MarketValue  decimal.NullDecimal
	VibrateRatio decimal.NullDecimal
	TurnoverRate decimal.NullDecimal
}

// PriceLevel is one row of an order book side
type PriceLevel struct {
	Price  decimal.Decimal
	Volume int64
}

// DepthUpdate carries the ask and bid sides of the book
type DepthUpdate struct {
	envelope
	Market
	Asks []PriceLevel
	Bids []PriceLevel
}

// OrderStatusUpdate is a push notification about one of the account's orders
type OrderStatusUpdate struct {
	envelope
	OrderID        string
	Status         string
	FilledQuantity decimal.Decimal
	TickerID       string
	OrderType      string
	Title          string
	Content        string
}

var (
	_ Event = (*PriceSnapshot)(nil)
	_ Event = (*TradeTick)(nil)
	_ Event = (*QuoteLevel1)(nil)
	_ Event = (*DepthUpdate)(nil)
	_ Event = (*OrderStatusUpdate)(nil)
)

// Handler receives decoded events of one slot. Returned errors are logged.
//
// The session reads its next frame only after the handler returned, and the
// transport holds further frames and keepalive responses until then. A
// handler that blocks for about 30s gets the connection dropped; hand slow
// work to another goroutine.
type Handler func(ev Event) error

// Subscription is a registry entry
type Subscription struct {
	TickerID string
	Level    Level
}
