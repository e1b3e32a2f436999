package stream

import (
	"context"
	"net/url"
	"time"
)

// conn represents a publish/subscribe connection between the gateway and the client
type conn interface {
	// close closes the connection
	close() error
	// readMessage blocks until it reads a single frame
	readMessage(ctx context.Context) (IncomingFrame, error)
	// writeMessage issues a single subscribe or unsubscribe frame
	writeMessage(ctx context.Context, frame OutgoingFrame) error
}

// connCreator opens a transport to u and waits for the broker's acknowledgement.
// A rejected acknowledgement is reported as a *ConnectionError.
type connCreator func(ctx context.Context, u url.URL, clientID string) (conn, error)

var (
	writeWait      = 5 * time.Second  // Time allowed to get a subscribe acknowledgement
	connectTimeout = 10 * time.Second // Time allowed for dial and broker acknowledgement
	keepAlive      = 30 * time.Second // MQTT keepalive, as used by the web client
)
