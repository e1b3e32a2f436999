package stream

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/webull-go/webull-api-go/internal/version"
)

// The push gateway accepts any client with these broker credentials; the
// device id and the access token travel in the handshake envelope instead.
const (
	brokerUsername = "test"
	brokerPassword = "test"
)

// mqttConn speaks MQTT to the push gateway over a websocket opened with coder/websocket
type mqttConn struct {
	client mqtt.Client

	// netCtx bounds the lifetime of the websocket, not of the connect call
	netCtx    context.Context
	netCancel context.CancelFunc

	in        chan IncomingFrame
	lost      chan error
	closed    chan struct{}
	closeOnce sync.Once
}

var _ conn = (*mqttConn)(nil)

// newMQTTConn dials u, sends CONNECT as clientID and waits for CONNACK
func newMQTTConn(ctx context.Context, u url.URL, clientID string) (conn, error) {
	netCtx, netCancel := context.WithCancel(context.Background())
	c := &mqttConn{
		netCtx:    netCtx,
		netCancel: netCancel,
		// unbuffered: the paho router waits for the reader, frames keep their order.
		// While it waits it handles no PINGRESP either.
		in:     make(chan IncomingFrame),
		lost:   make(chan error, 1),
		closed: make(chan struct{}),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(u.String()).
		SetClientID(clientID).
		SetUsername(brokerUsername).
		SetPassword(brokerPassword).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true).
		SetDefaultPublishHandler(c.onMessage).
		SetConnectionLostHandler(c.onConnectionLost).
		SetCustomOpenConnectionFn(c.dialWebsocket)
	c.client = mqtt.NewClient(opts)

	token := c.client.Connect()
	select {
	case <-token.Done():
	case <-ctx.Done():
		c.close()
		return nil, &TransportError{Op: "connect", Err: ctx.Err()}
	}
	if err := token.Error(); err != nil {
		c.close()
		if ct, ok := token.(*mqtt.ConnectToken); ok && ct.ReturnCode() != 0 {
			return nil, &ConnectionError{Code: int(ct.ReturnCode()), Err: err}
		}
		return nil, &TransportError{Op: "connect", Err: err}
	}
	return c, nil
}

func (c *mqttConn) dialWebsocket(uri *url.URL, _ mqtt.ClientOptions) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(c.netCtx, connectTimeout)
	defer cancel()

	reqHeader := http.Header{}
	reqHeader.Set("User-Agent", version.UserAgent())
	//nolint:bodyclose // According to its docs: you never need to close resp.Body yourself
	ws, _, err := websocket.Dial(ctx, uri.String(), &websocket.DialOptions{
		Subprotocols: []string{"mqtt"},
		HTTPHeader:   reqHeader,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	// depth snapshots of busy tickers can be large
	ws.SetReadLimit(-1)

	return websocket.NetConn(c.netCtx, ws, websocket.MessageBinary), nil
}

func (c *mqttConn) onMessage(_ mqtt.Client, m mqtt.Message) {
	select {
	case c.in <- IncomingFrame{Topic: m.Topic(), Payload: m.Payload()}:
	case <-c.closed:
	}
}

func (c *mqttConn) onConnectionLost(_ mqtt.Client, err error) {
	select {
	case c.lost <- err:
	default:
	}
}

// close disconnects from the broker and tears down the websocket
func (c *mqttConn) close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.client.IsConnectionOpen() {
			c.client.Disconnect(250)
		}
		c.netCancel()
	})
	return nil
}

// readMessage blocks until it reads a single frame
func (c *mqttConn) readMessage(ctx context.Context) (IncomingFrame, error) {
	select {
	case <-ctx.Done():
		return IncomingFrame{}, ctx.Err()
	case f := <-c.in:
		return f, nil
	case err := <-c.lost:
		return IncomingFrame{}, fmt.Errorf("connection lost: %w", err)
	case <-c.closed:
		return IncomingFrame{}, ErrClosed
	}
}

// writeMessage subscribes to or unsubscribes from the frame's topic and
// waits for the broker's acknowledgement
func (c *mqttConn) writeMessage(ctx context.Context, frame OutgoingFrame) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()

	var token mqtt.Token
	switch frame.op {
	case opUnsubscribe:
		token = c.client.Unsubscribe(string(frame.Data))
	default:
		token = c.client.Subscribe(string(frame.Data), 0, nil)
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-writeCtx.Done():
		return writeCtx.Err()
	case <-c.closed:
		return ErrClosed
	}
}
