package stream

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/civil"
	"github.com/mailru/easyjson/jlexer"
	"github.com/shopspring/decimal"
)

var (
	errMissingField = errors.New("missing required field")
	errWrongKind    = errors.New("unexpected json kind")
)

// Decode turns one frame received on a session of the given purpose into
// exactly one event. The payload shape selects the message class, checked in
// this order: order status, trade, depth, quote, extended-hours price.
//
// Numbers sent as JSON strings and ids sent as JSON numbers are accepted;
// the paths of such fields are listed by the event's Coerced method.
func Decode(purpose Purpose, frame IncomingFrame) (Event, error) {
	topic, topicCoerced, err := parseTopic(frame.Topic)
	if err != nil {
		return nil, decodeErr("", "malformed topic", err)
	}
	payload, err := lexObject("", frame.Payload)
	if err != nil {
		return nil, decodeErr("", "malformed payload", err)
	}
	*payload.coerced = append(*payload.coerced, topicCoerced...)
	env := envelope{purpose: purpose, topic: topic, coerced: payload.coerced}

	ev, err := decodeShape(env, payload)
	if err != nil {
		return nil, err
	}
	sort.Strings(*payload.coerced)
	return ev, nil
}

func decodeShape(env envelope, payload object) (Event, error) {
	topic := env.topic
	switch {
	case topic.isOrder() && payload.has("data"):
		return decodeOrderStatus(env, payload)
	case payload.has("deal"):
		return decodeTrade(env, payload)
	case payload.has("askList", "bidList", "depth"):
		return decodeDepth(env, payload)
	case payload.has("close", "change", "marketValue"):
		return decodeQuote(env, payload)
	case payload.has("pPrice", "pChange", "pChRatio"):
		return decodePriceSnapshot(env, payload)
	}
	return nil, decodeErr("", "unrecognized payload shape", nil)
}

// parseTopic also returns the paths of the topic fields that were coerced
func parseTopic(s string) (Topic, []string, error) {
	t := Topic{Raw: s}
	o, err := lexObject("topic", []byte(s))
	if err != nil {
		return t, nil, err
	}
	typ, err := o.optInt("type")
	if err != nil {
		return t, nil, err
	}
	if typ != nil {
		t.Type = int(*typ)
	}
	if raw, ok := o.get("tickerIds"); ok {
		items, err := lexArray(raw)
		if err != nil {
			return t, nil, fmt.Errorf("%s: %w", o.key("tickerIds"), err)
		}
		for i, item := range items {
			id, coerced, err := parseID(item)
			if err != nil {
				return t, nil, fmt.Errorf("%s: %w", o.key("tickerIds"), err)
			}
			if coerced {
				o.record(fmt.Sprintf("tickerIds[%d]", i))
			}
			t.TickerIDs = append(t.TickerIDs, id)
		}
	} else {
		id, err := o.optID("tickerId")
		if err != nil {
			return t, nil, err
		}
		if id != "" {
			t.TickerIDs = []string{id}
		}
	}
	if t.MessageID, err = o.optID("messageId"); err != nil {
		return t, nil, err
	}
	if t.Action, err = o.optString("action"); err != nil {
		return t, nil, err
	}
	return t, *o.coerced, nil
}

func decodeMarket(env envelope, o object) (Market, error) {
	m := Market{}
	var err error
	if m.TickerID, err = o.optID("tickerId"); err != nil {
		return m, err
	}
	if m.TickerID == "" && len(env.topic.TickerIDs) > 0 {
		m.TickerID = env.topic.TickerIDs[0]
	}
	if m.Status, err = o.optString("status"); err != nil {
		return m, err
	}
	stamp, err := o.optInt("tradeStamp")
	if err != nil {
		return m, err
	}
	if stamp != nil {
		ts := time.UnixMilli(*stamp)
		m.Timestamp = &ts
	}
	return m, nil
}

func decodeTrade(env envelope, payload object) (*TradeTick, error) {
	const class = "trade"
	invalid := func(err error) (*TradeTick, error) {
		return nil, decodeErr(class, "invalid field", err)
	}

	market, err := decodeMarket(env, payload)
	if err != nil {
		return invalid(err)
	}
	deal, err := payload.object("deal")
	if err != nil {
		return invalid(err)
	}
	t := &TradeTick{envelope: env, Market: market}
	if t.Price, err = deal.reqDecimal("price"); err != nil {
		return invalid(err)
	}
	if t.Volume, err = deal.reqInt("volume"); err != nil {
		return invalid(err)
	}
	tradeTime, err := deal.reqString("tradeTime")
	if err != nil {
		return invalid(err)
	}
	if t.TimeOfDay, err = civil.ParseTime(tradeTime); err != nil {
		return invalid(fmt.Errorf("%s: %w", deal.key("tradeTime"), err))
	}
	if t.Side, err = deal.optString("trdBs"); err != nil {
		return invalid(err)
	}
	return t, nil
}

func decodeDepth(env envelope, payload object) (*DepthUpdate, error) {
	const class = "depth"
	invalid := func(err error) (*DepthUpdate, error) {
		return nil, decodeErr(class, "invalid field", err)
	}

	market, err := decodeMarket(env, payload)
	if err != nil {
		return invalid(err)
	}
	d := &DepthUpdate{envelope: env, Market: market}

	askSrc, bidSrc := payload, payload
	askKey, bidKey := "askList", "bidList"
	if !payload.has("askList", "bidList") {
		depth, err := payload.object("depth")
		if err != nil {
			return invalid(err)
		}
		askSrc, bidSrc = depth, depth
		askKey = depth.suffixKey("AggAskList")
		bidKey = depth.suffixKey("AggBidList")
	}
	if d.Asks, err = askSrc.levels(askKey); err != nil {
		return invalid(err)
	}
	if d.Bids, err = bidSrc.levels(bidKey); err != nil {
		return invalid(err)
	}
	return d, nil
}

func decodeQuote(env envelope, payload object) (*QuoteLevel1, error) {
	market, err := decodeMarket(env, payload)
	if err != nil {
		return nil, decodeErr("quote", "invalid field", err)
	}
	q := &QuoteLevel1{envelope: env, Market: market}
	for key, dst := range map[string]*decimal.NullDecimal{
		"open":         &q.Open,
		"high":         &q.High,
		"low":          &q.Low,
		"close":        &q.Close,
		"change":       &q.Change,
		"changeRatio":  &q.ChangeRatio,
		"marketValue":  &q.MarketValue,
		"vibrateRatio": &q.VibrateRatio,
		"turnoverRate": &q.TurnoverRate,
	} {
		if *dst, err = payload.optDecimal(key); err != nil {
			return nil, decodeErr("quote", "invalid field", err)
		}
	}
	if q.Volume, err = payload.optInt("volume"); err != nil {
		return nil, decodeErr("quote", "invalid field", err)
	}
	return q, nil
}

func decodePriceSnapshot(env envelope, payload object) (*PriceSnapshot, error) {
	market, err := decodeMarket(env, payload)
	if err != nil {
		return nil, decodeErr("price", "invalid field", err)
	}
	p := &PriceSnapshot{envelope: env, Market: market}
	if p.Price, err = payload.optDecimal("pPrice"); err != nil {
		return nil, decodeErr("price", "invalid field", err)
	}
	if p.Change, err = payload.optDecimal("pChange"); err != nil {
		return nil, decodeErr("price", "invalid field", err)
	}
	if p.ChangeRatio, err = payload.optDecimal("pChRatio"); err != nil {
		return nil, decodeErr("price", "invalid field", err)
	}
	return p, nil
}

func decodeOrderStatus(env envelope, payload object) (*OrderStatusUpdate, error) {
	const class = "order"
	invalid := func(err error) (*OrderStatusUpdate, error) {
		return nil, decodeErr(class, "invalid field", err)
	}

	data, err := payload.object("data")
	if err != nil {
		return invalid(err)
	}
	u := &OrderStatusUpdate{envelope: env}
	if u.OrderID, err = data.reqID("orderId"); err != nil {
		return invalid(err)
	}
	if u.Status, err = data.reqString("orderStatus"); err != nil {
		return invalid(err)
	}
	if u.FilledQuantity, err = data.reqDecimal("filledQuantity"); err != nil {
		return invalid(err)
	}
	if u.TickerID, err = data.optID("tickerId"); err != nil {
		return invalid(err)
	}
	if u.OrderType, err = data.optString("orderType"); err != nil {
		return invalid(err)
	}
	if u.Title, err = data.optString("messageTitle"); err != nil {
		return invalid(err)
	}
	if u.Content, err = data.optString("messageContent"); err != nil {
		return invalid(err)
	}
	return u, nil
}

// object is a lexed json object whose values are kept raw until asked for.
// Nested objects share coerced with the object they were read from.
type object struct {
	path    string
	fields  map[string][]byte
	coerced *[]string
}

func lexObject(path string, data []byte) (object, error) {
	return lexObjectInto(path, data, new([]string))
}

func lexObjectInto(path string, data []byte, coerced *[]string) (object, error) {
	o := object{path: path, fields: map[string][]byte{}, coerced: coerced}
	in := jlexer.Lexer{Data: data}
	in.Delim('{')
	for !in.IsDelim('}') {
		key := in.String()
		in.WantColon()
		o.fields[key] = in.Raw()
		in.WantComma()
	}
	in.Delim('}')
	in.Consumed()
	if err := in.Error(); err != nil {
		return o, err
	}
	return o, nil
}

func lexArray(data []byte) ([][]byte, error) {
	var items [][]byte
	in := jlexer.Lexer{Data: data}
	in.Delim('[')
	for !in.IsDelim(']') {
		items = append(items, in.Raw())
		in.WantComma()
	}
	in.Delim(']')
	in.Consumed()
	return items, in.Error()
}

// record notes that the value at k was converted from another json kind
func (o object) record(k string) {
	*o.coerced = append(*o.coerced, o.key(k))
}

func (o object) key(k string) string {
	if o.path == "" {
		return k
	}
	return o.path + "." + k
}

// get returns the raw value of k; null counts as absent
func (o object) get(k string) ([]byte, bool) {
	raw, ok := o.fields[k]
	if !ok || kindOf(raw) == "null" {
		return nil, false
	}
	return raw, true
}

func (o object) has(keys ...string) bool {
	for _, k := range keys {
		if _, ok := o.get(k); ok {
			return true
		}
	}
	return false
}

// suffixKey returns the key ending in suffix, preferring the ntv-prefixed
// one and otherwise the first in sorted order
func (o object) suffixKey(suffix string) string {
	var keys []string
	for k := range o.fields {
		if strings.HasSuffix(k, suffix) {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return suffix
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "ntv"+suffix {
			return k
		}
	}
	return keys[0]
}

func (o object) object(k string) (object, error) {
	raw, ok := o.get(k)
	if !ok {
		return object{}, fmt.Errorf("%s: %w", o.key(k), errMissingField)
	}
	if kind := kindOf(raw); kind != "object" {
		return object{}, fmt.Errorf("%s: %w: %s", o.key(k), errWrongKind, kind)
	}
	return lexObjectInto(o.key(k), raw, o.coerced)
}

func (o object) optDecimal(k string) (decimal.NullDecimal, error) {
	raw, ok := o.get(k)
	if !ok {
		return decimal.NullDecimal{}, nil
	}
	d, coerced, err := parseDecimal(raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s: %w", o.key(k), err)
	}
	if coerced {
		o.record(k)
	}
	return decimal.NewNullDecimal(d), nil
}

func (o object) reqDecimal(k string) (decimal.Decimal, error) {
	d, err := o.optDecimal(k)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !d.Valid {
		return decimal.Decimal{}, fmt.Errorf("%s: %w", o.key(k), errMissingField)
	}
	return d.Decimal, nil
}

func (o object) optInt(k string) (*int64, error) {
	d, err := o.optDecimal(k)
	if err != nil || !d.Valid {
		return nil, err
	}
	if !d.Decimal.IsInteger() {
		return nil, fmt.Errorf("%s: %w: fractional %s", o.key(k), errWrongKind, d.Decimal)
	}
	n := d.Decimal.IntPart()
	return &n, nil
}

func (o object) reqInt(k string) (int64, error) {
	n, err := o.optInt(k)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, fmt.Errorf("%s: %w", o.key(k), errMissingField)
	}
	return *n, nil
}

func (o object) optString(k string) (string, error) {
	raw, ok := o.get(k)
	if !ok {
		return "", nil
	}
	if kind := kindOf(raw); kind != "string" {
		return "", fmt.Errorf("%s: %w: %s", o.key(k), errWrongKind, kind)
	}
	s, err := lexString(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", o.key(k), err)
	}
	return s, nil
}

func (o object) reqString(k string) (string, error) {
	if _, ok := o.get(k); !ok {
		return "", fmt.Errorf("%s: %w", o.key(k), errMissingField)
	}
	return o.optString(k)
}

func (o object) optID(k string) (string, error) {
	raw, ok := o.get(k)
	if !ok {
		return "", nil
	}
	id, coerced, err := parseID(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", o.key(k), err)
	}
	if coerced {
		o.record(k)
	}
	return id, nil
}

func (o object) reqID(k string) (string, error) {
	id, err := o.optID(k)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("%s: %w", o.key(k), errMissingField)
	}
	return id, nil
}

func (o object) levels(k string) ([]PriceLevel, error) {
	raw, ok := o.get(k)
	if !ok {
		return nil, nil
	}
	if kind := kindOf(raw); kind != "array" {
		return nil, fmt.Errorf("%s: %w: %s", o.key(k), errWrongKind, kind)
	}
	items, err := lexArray(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.key(k), err)
	}
	levels := make([]PriceLevel, 0, len(items))
	for i, item := range items {
		row, err := lexObjectInto(fmt.Sprintf("%s[%d]", o.key(k), i), item, o.coerced)
		if err != nil {
			return nil, err
		}
		var lvl PriceLevel
		if lvl.Price, err = row.reqDecimal("price"); err != nil {
			return nil, err
		}
		if lvl.Volume, err = row.reqInt("volume"); err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

// kindOf reports the json kind of a raw value by its first byte
func kindOf(raw []byte) string {
	if len(raw) == 0 {
		return "empty"
	}
	switch raw[0] {
	case '"':
		return "string"
	case '{':
		return "object"
	case '[':
		return "array"
	case 't', 'f':
		return "bool"
	case 'n':
		return "null"
	}
	return "number"
}

func lexString(raw []byte) (string, error) {
	in := jlexer.Lexer{Data: raw}
	s := in.String()
	in.Consumed()
	return s, in.Error()
}

// parseDecimal accepts a json number or a string holding one, and reports
// whether it was a string
func parseDecimal(raw []byte) (decimal.Decimal, bool, error) {
	switch kind := kindOf(raw); kind {
	case "number":
		d, err := decimal.NewFromString(string(raw))
		return d, false, err
	case "string":
		s, err := lexString(raw)
		if err != nil {
			return decimal.Decimal{}, false, err
		}
		d, err := decimal.NewFromString(strings.TrimSpace(s))
		return d, true, err
	default:
		return decimal.Decimal{}, false, fmt.Errorf("%w: %s", errWrongKind, kind)
	}
}

// parseID accepts a string or an integer literal, and reports whether it was
// a number
func parseID(raw []byte) (string, bool, error) {
	switch kind := kindOf(raw); kind {
	case "string":
		s, err := lexString(raw)
		return s, false, err
	case "number":
		d, err := decimal.NewFromString(string(raw))
		if err != nil {
			return "", false, err
		}
		if !d.IsInteger() {
			return "", false, fmt.Errorf("%w: fractional id %s", errWrongKind, raw)
		}
		return string(raw), true, nil
	default:
		return "", false, fmt.Errorf("%w: %s", errWrongKind, kind)
	}
}
