package stream

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webull-go/webull-api-go/config"
	"github.com/webull-go/webull-api-go/device"
)

// Option is a configuration option for the Client
type Option interface {
	apply(*options)
}

type options struct {
	logger            Logger
	baseURL           string
	pollInterval      time.Duration
	handlerErrorPause time.Duration
	debug             bool
	registerer        prometheus.Registerer
	deviceStore       device.Store
	priceHandler      Handler
	orderHandler      Handler

	// for testing only
	connCreator connCreator
}

type funcOption struct {
	f func(*options)
}

func (fo *funcOption) apply(o *options) {
	fo.f(o)
}

func newFuncOption(f func(*options)) *funcOption {
	return &funcOption{
		f: f,
	}
}

// WithLogger configures the logger
func WithLogger(logger Logger) Option {
	return newFuncOption(func(o *options) {
		o.logger = logger
	})
}

// WithBaseURL configures the push gateway URL
func WithBaseURL(url string) Option {
	return newFuncOption(func(o *options) {
		o.baseURL = url
	})
}

// WithTradingMode points the client at the push gateway of the given mode.
// Live and paper accounts share the same quote stream; the mode matters for
// which order updates the access token receives.
func WithTradingMode(mode config.Mode) Option {
	return newFuncOption(func(o *options) {
		if ep, err := config.EndpointsFor(mode); err == nil {
			o.baseURL = ep.Push
		}
	})
}

// WithDeviceStore configures where Connect loads the device id from when it
// is called with an empty one. The store is asked once per Client.
func WithDeviceStore(store device.Store) Option {
	return newFuncOption(func(o *options) {
		o.deviceStore = store
	})
}

// WithPollInterval configures how long RunOnce waits for a frame on each
// session before giving up
func WithPollInterval(d time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.pollInterval = d
	})
}

// WithHandlerErrorPause configures how long the quote loop pauses after the
// price handler failed, before it reads the next frame
func WithHandlerErrorPause(d time.Duration) Option {
	return newFuncOption(func(o *options) {
		o.handlerErrorPause = d
	})
}

// WithDebug logs every received frame at info level
func WithDebug(debug bool) Option {
	return newFuncOption(func(o *options) {
		o.debug = debug
	})
}

// WithRegisterer registers the stream metrics with reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return newFuncOption(func(o *options) {
		o.registerer = reg
	})
}

// WithPriceHandler configures the handler of the quote session
func WithPriceHandler(h Handler) Option {
	return newFuncOption(func(o *options) {
		o.priceHandler = h
	})
}

// WithOrderHandler configures the handler of the order update session
func WithOrderHandler(h Handler) Option {
	return newFuncOption(func(o *options) {
		o.orderHandler = h
	})
}

func withConnCreator(c connCreator) Option {
	return newFuncOption(func(o *options) {
		o.connCreator = c
	})
}

// defaultOptions are the default options for a client.
// Don't change this in a backward incompatible way!
func defaultOptions() *options {
	baseURL := config.LiveEndpoints.Push
	if s := os.Getenv("WEBULL_PUSH_URL"); s != "" {
		baseURL = s
	}

	return &options{
		logger:            DefaultLogger(),
		baseURL:           baseURL,
		pollInterval:      10 * time.Millisecond,
		handlerErrorPause: 2 * time.Second,
		connCreator:       newMQTTConn,
	}
}

func (o *options) applyAll(opts ...Option) {
	for _, opt := range opts {
		opt.apply(o)
	}
}
