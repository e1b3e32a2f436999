package stream

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/mailru/easyjson/jwriter"
)

type sender interface {
	Send(ctx context.Context, frame OutgoingFrame) error
}

// registry keeps the desired (ticker, level) pairs and issues the frames.
// Bookkeeping is idempotent, the wire is not: every call sends a frame.
type registry struct {
	// issueMu makes subscription frames go out one at a time
	issueMu sync.Mutex

	mu   sync.Mutex
	subs map[Subscription]bool
}

func newRegistry() *registry {
	return &registry{subs: map[Subscription]bool{}}
}

func (r *registry) subscribe(ctx context.Context, s sender, tickerID string, level Level) error {
	if tickerID == "" {
		return ErrEmptyTickerID
	}
	frame, err := subscribeFrame(tickerID, level)
	if err != nil {
		return err
	}
	r.issueMu.Lock()
	defer r.issueMu.Unlock()
	r.set(Subscription{TickerID: tickerID, Level: level}, true)
	return s.Send(ctx, frame)
}

func (r *registry) unsubscribe(ctx context.Context, s sender, tickerID string, level Level) error {
	if tickerID == "" {
		return ErrEmptyTickerID
	}
	frame, err := unsubscribeFrame(tickerID, level)
	if err != nil {
		return err
	}
	r.issueMu.Lock()
	defer r.issueMu.Unlock()
	r.set(Subscription{TickerID: tickerID, Level: level}, false)
	return s.Send(ctx, frame)
}

func (r *registry) set(sub Subscription, desired bool) {
	r.mu.Lock()
	r.subs[sub] = desired
	r.mu.Unlock()
}

// desired returns the subscriptions currently wanted, sorted by ticker then level
func (r *registry) desired() []Subscription {
	r.mu.Lock()
	subs := make([]Subscription, 0, len(r.subs))
	for sub, want := range r.subs {
		if want {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool {
		if subs[i].TickerID != subs[j].TickerID {
			return subs[i].TickerID < subs[j].TickerID
		}
		return subs[i].Level < subs[j].Level
	})
	return subs
}

// size returns the number of keys ever seen, desired or not
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// subscribeFrame: {"tickerIds":["<tickerID>"],"type":"<level>"}
func subscribeFrame(tickerID string, level Level) (OutgoingFrame, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`{"tickerIds":[`)
	w.String(tickerID)
	w.RawString(`],"type":`)
	w.String(strconv.Itoa(int(level)))
	w.RawByte('}')
	b, err := w.BuildBytes()
	if err != nil {
		return OutgoingFrame{}, err
	}
	return OutgoingFrame{op: opSubscribe, Data: b}, nil
}

// unsubscribeFrame: ["type=<level>&tid=<tickerID>"]. The gateway expects this
// query-string shape, unlike the subscribe frame.
func unsubscribeFrame(tickerID string, level Level) (OutgoingFrame, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawByte('[')
	w.String("type=" + strconv.Itoa(int(level)) + "&tid=" + tickerID)
	w.RawByte(']')
	b, err := w.BuildBytes()
	if err != nil {
		return OutgoingFrame{}, err
	}
	return OutgoingFrame{op: opUnsubscribe, Data: b}, nil
}
