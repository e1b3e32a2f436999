package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/webull-go/webull-api-go/device"
	"github.com/webull-go/webull-api-go/internal/ctxtime"
)

// Client streams quotes and, when given an access token, order updates from
// the Webull push gateway.
//
// Connect must be called before Subscribe, RunBlocking or RunOnce. Connect can
// be called again after the sessions were lost or closed; it starts over with
// fresh sessions. The client never reconnects on its own.
//
// Events are handed to the price handler (quote session) and the order
// handler (order update session). Invocations of the same handler never
// overlap and follow the order in which frames arrived. A slow handler only
// holds back its own session.
type Client struct {
	logger            Logger
	baseURL           string
	pollInterval      time.Duration
	handlerErrorPause time.Duration
	connCreator       connCreator
	deviceStore       device.Store
	metrics           *metrics
	debug             atomic.Bool

	// connectMu serializes Connect
	connectMu sync.Mutex

	sessMu sync.RWMutex
	quote  *Session
	order  *Session

	// stopCh is shared by the RunBlocking calls in flight; Stop closes it
	// and the next run gets a new one
	stopMu sync.Mutex
	stopCh chan struct{}

	subs *registry

	handlerMu    sync.RWMutex
	priceHandler Handler
	orderHandler Handler
	// one dispatch lock per handler slot
	priceMu sync.Mutex
	orderMu sync.Mutex

	fatal chan *FatalStreamError
}

// NewClient returns a new Client whose default configuration is modified by opts
func NewClient(opts ...Option) *Client {
	o := defaultOptions()
	o.applyAll(opts...)

	c := &Client{
		logger:            o.logger,
		baseURL:           o.baseURL,
		pollInterval:      o.pollInterval,
		handlerErrorPause: o.handlerErrorPause,
		connCreator:       o.connCreator,
		metrics:           newMetrics(o.registerer),
		subs:              newRegistry(),
		priceHandler:      o.priceHandler,
		orderHandler:      o.orderHandler,
		fatal:             make(chan *FatalStreamError, 1),
	}
	if o.deviceStore != nil {
		c.deviceStore = device.Once(o.deviceStore)
	}
	c.debug.Store(o.debug)
	return c
}

// Connect opens the quote session and, if credential is not empty, the order
// update session. Both handshakes carry deviceID; if it is empty the id is
// taken from the configured device store. Sessions from a previous Connect
// are closed first. If either session fails, both are closed and the error is
// returned; a rejected handshake is a *ConnectionError.
func (c *Client) Connect(ctx context.Context, deviceID, credential string) error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	did, err := c.resolveDeviceID(deviceID)
	if err != nil {
		return err
	}
	u, err := c.constructURL()
	if err != nil {
		return err
	}

	c.closeSessions()

	quote := newSession(PurposeQuote, u, c.connCreator, c.pollInterval, c.logger)
	if err := quote.Connect(ctx, did, credential); err != nil {
		return fmt.Errorf("connect %s session: %w", PurposeQuote, err)
	}
	var order *Session
	if credential != "" {
		order = newSession(PurposeOrderUpdate, u, c.connCreator, c.pollInterval, c.logger)
		if err := order.Connect(ctx, did, credential); err != nil {
			quote.Close()
			return fmt.Errorf("connect %s session: %w", PurposeOrderUpdate, err)
		}
	}

	c.sessMu.Lock()
	c.quote, c.order = quote, order
	c.sessMu.Unlock()

	c.metrics.sessionsConnected.WithLabelValues(PurposeQuote.String()).Set(1)
	if order != nil {
		c.metrics.sessionsConnected.WithLabelValues(PurposeOrderUpdate.String()).Set(1)
	}
	return nil
}

func (c *Client) resolveDeviceID(deviceID string) (string, error) {
	if deviceID != "" {
		return deviceID, nil
	}
	if c.deviceStore == nil {
		return "", ErrNoDeviceID
	}
	did, err := c.deviceStore.LoadOrCreate()
	if err != nil {
		return "", fmt.Errorf("load device id: %w", err)
	}
	return did, nil
}

func (c *Client) constructURL() (url.URL, error) {
	scheme := "wss"
	ub, err := url.Parse(c.baseURL)
	if err != nil {
		return url.URL{}, err
	}
	switch ub.Scheme {
	case "http", "ws":
		scheme = "ws"
	}
	path := ub.Path
	if path == "" {
		path = "/mqtt"
	}

	return url.URL{Scheme: scheme, Host: ub.Host, Path: path}, nil
}

// Session returns the session of the given purpose, or nil if there is none
func (c *Client) Session(p Purpose) *Session {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	if p == PurposeOrderUpdate {
		return c.order
	}
	return c.quote
}

// SetPriceHandler replaces the handler of the quote session. It is safe to
// call while streaming; the next frame uses the new handler.
func (c *Client) SetPriceHandler(h Handler) {
	c.handlerMu.Lock()
	c.priceHandler = h
	c.handlerMu.Unlock()
}

// SetOrderHandler replaces the handler of the order update session. It is
// safe to call while streaming.
func (c *Client) SetOrderHandler(h Handler) {
	c.handlerMu.Lock()
	c.orderHandler = h
	c.handlerMu.Unlock()
}

// SetDebug toggles logging of every received frame
func (c *Client) SetDebug(debug bool) {
	c.debug.Store(debug)
}

// Fatal returns a channel that receives a *FatalStreamError when the price
// handler fails. Streaming goes on; stopping is up to the receiver. Only the
// latest unread signal is kept.
func (c *Client) Fatal() <-chan *FatalStreamError {
	return c.fatal
}

// Subscribe asks the quote session for tickerID at level. Calling it again
// for the same pair sends the request again.
func (c *Client) Subscribe(ctx context.Context, tickerID string, level Level) error {
	quote := c.Session(PurposeQuote)
	if quote == nil {
		return ErrNotConnected
	}
	if err := c.subs.subscribe(ctx, quote, tickerID, level); err != nil {
		return err
	}
	c.metrics.subscriptionFrames.WithLabelValues(opSubscribe.String()).Inc()
	c.logger.Infof("webullstream: subscribed to %s at level %d", tickerID, level)
	return nil
}

// Unsubscribe asks the quote session to stop streaming tickerID at level
func (c *Client) Unsubscribe(ctx context.Context, tickerID string, level Level) error {
	quote := c.Session(PurposeQuote)
	if quote == nil {
		return ErrNotConnected
	}
	if err := c.subs.unsubscribe(ctx, quote, tickerID, level); err != nil {
		return err
	}
	c.metrics.subscriptionFrames.WithLabelValues(opUnsubscribe.String()).Inc()
	c.logger.Infof("webullstream: unsubscribed from %s at level %d", tickerID, level)
	return nil
}

// Subscriptions returns the currently desired subscriptions
func (c *Client) Subscriptions() []Subscription {
	return c.subs.desired()
}

func (c *Client) sessionsForRun() (*Session, *Session) {
	c.sessMu.RLock()
	defer c.sessMu.RUnlock()
	return c.quote, c.order
}

func (c *Client) runStopCh() <-chan struct{} {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopCh == nil {
		c.stopCh = make(chan struct{})
	}
	return c.stopCh
}

// RunBlocking receives and dispatches frames until ctx is done, Stop is
// called, or the sessions are lost. The quote session is driven on the
// calling goroutine, the order update session on its own. It returns once
// both have exited; the error is nil if they stopped on request. After a
// Stop, RunBlocking can be called again on the same sessions.
func (c *Client) RunBlocking(ctx context.Context) error {
	quote, order := c.sessionsForRun()
	if quote == nil {
		return ErrNotConnected
	}
	stopCh := c.runStopCh()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var (
		wg       sync.WaitGroup
		orderErr error
	)
	if order != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			orderErr = order.ReceiveBlocking(ctx, func(f IncomingFrame) {
				c.dispatch(ctx, PurposeOrderUpdate, f)
			})
			c.sessionEnded(PurposeOrderUpdate, orderErr)
		}()
	}
	quoteErr := quote.ReceiveBlocking(ctx, func(f IncomingFrame) {
		c.dispatch(ctx, PurposeQuote, f)
	})
	c.sessionEnded(PurposeQuote, quoteErr)
	wg.Wait()

	return errors.Join(quoteErr, orderErr)
}

// RunOnce polls each session once, waiting at most the poll interval for a
// frame, and dispatches what arrived. A failing price handler is reported
// as a *FatalStreamError.
//
// Frames wait in the transport until they are read, and while one waits the
// transport processes nothing else, keepalive responses included. Call
// RunOnce at least every few seconds while subscribed: a gap close to the
// 30s keepalive makes the gateway connection drop.
func (c *Client) RunOnce(ctx context.Context) error {
	quote, order := c.sessionsForRun()
	if quote == nil {
		return ErrNotConnected
	}

	var errs []error
	for _, s := range []*Session{quote, order} {
		if s == nil {
			continue
		}
		purpose := s.Purpose()
		var fatal *FatalStreamError
		_, err := s.ReceiveOnce(ctx, func(f IncomingFrame) {
			fatal = c.dispatch(ctx, purpose, f)
		})
		if err != nil {
			c.sessionEnded(purpose, err)
			errs = append(errs, err)
		}
		if fatal != nil {
			errs = append(errs, fatal)
		}
	}
	return errors.Join(errs...)
}

func (c *Client) sessionEnded(p Purpose, err error) {
	if err == nil {
		return
	}
	c.metrics.sessionsConnected.WithLabelValues(p.String()).Set(0)
}

// dispatch decodes f and hands the event to the handler of p's slot
func (c *Client) dispatch(ctx context.Context, p Purpose, f IncomingFrame) *FatalStreamError {
	c.metrics.framesReceived.WithLabelValues(p.String()).Inc()
	if c.debug.Load() {
		c.logger.Infof("webullstream: %s topic: %s payload: %s", p, f.Topic, f.Payload)
	}

	ev, err := Decode(p, f)
	if err != nil {
		c.metrics.decodeErrors.WithLabelValues(p.String()).Inc()
		c.logger.Warnf("webullstream: dropping %s frame on topic %s: %v", p, f.Topic, err)
		return nil
	}
	if coerced := ev.Coerced(); len(coerced) > 0 {
		c.metrics.coercedFields.WithLabelValues(p.String()).Add(float64(len(coerced)))
		if c.debug.Load() {
			c.logger.Infof("webullstream: %s frame on topic %s: coerced %v", p, f.Topic, coerced)
		}
	}

	slot, mu, h := c.slot(ev.Session())
	if h == nil {
		return nil
	}
	mu.Lock()
	err = invoke(h, ev)
	mu.Unlock()
	if err == nil {
		return nil
	}

	c.metrics.handlerErrors.WithLabelValues(slot).Inc()
	c.logger.Errorf("webullstream: %s handler failed on topic %s: %v", slot, f.Topic, err)
	if p != PurposeQuote {
		return nil
	}

	fatal := &FatalStreamError{Purpose: p, Topic: f.Topic, Err: err}
	select {
	case c.fatal <- fatal:
	default:
		c.logger.Warnf("webullstream: previous fatal signal not consumed, dropping: %v", fatal)
	}
	_ = ctxtime.Sleep(ctx, c.handlerErrorPause)
	return fatal
}

func (c *Client) slot(p Purpose) (string, *sync.Mutex, Handler) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()
	if p == PurposeOrderUpdate {
		return "order", &c.orderMu, c.orderHandler
	}
	return "price", &c.priceMu, c.priceHandler
}

func invoke(h Handler, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ev)
}

// Stop makes the RunBlocking calls in flight return. Later calls are not
// affected, and the sessions stay open.
func (c *Client) Stop() {
	c.stopMu.Lock()
	defer c.stopMu.Unlock()
	if c.stopCh != nil {
		close(c.stopCh)
		c.stopCh = nil
	}
}

// Close stops streaming and closes all sessions
func (c *Client) Close() error {
	c.Stop()
	return c.closeSessions()
}

func (c *Client) closeSessions() error {
	c.sessMu.Lock()
	quote, order := c.quote, c.order
	c.quote, c.order = nil, nil
	c.sessMu.Unlock()

	var errs []error
	for _, s := range []*Session{quote, order} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
		c.metrics.sessionsConnected.WithLabelValues(s.Purpose().String()).Set(0)
	}
	return errors.Join(errs...)
}
