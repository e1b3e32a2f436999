package stream

import (
	"context"
	"errors"
	"net/url"
	"sync"
)

var errClose = errors.New("closed")

type mockConn struct {
	closeCh   chan struct{}
	closeOnce sync.Once
	readCh    chan IncomingFrame
	writeCh   chan OutgoingFrame
	// readErr, if not nil, is returned by readMessage once readCh is drained
	readErr chan error
}

var _ conn = (*mockConn)(nil)

func newMockConn() *mockConn {
	return &mockConn{
		closeCh: make(chan struct{}),
		readCh:  make(chan IncomingFrame, 1000),
		writeCh: make(chan OutgoingFrame, 100),
		readErr: make(chan error, 1),
	}
}

func (c *mockConn) close() error {
	c.closeOnce.Do(func() {
		close(c.closeCh)
	})
	return nil
}

func (c *mockConn) isClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

func (c *mockConn) readMessage(ctx context.Context) (IncomingFrame, error) {
	select {
	case f := <-c.readCh:
		return f, nil
	default:
	}
	select {
	case <-ctx.Done():
		return IncomingFrame{}, ctx.Err()
	case f := <-c.readCh:
		return f, nil
	case err := <-c.readErr:
		return IncomingFrame{}, err
	case <-c.closeCh:
		return IncomingFrame{}, errClose
	}
}

func (c *mockConn) writeMessage(_ context.Context, frame OutgoingFrame) error {
	select {
	case <-c.closeCh:
		return errClose
	default:
	}
	c.writeCh <- frame
	return nil
}

// mockDialer hands out prepared conns and records the client ids it was asked for
type mockDialer struct {
	mu        sync.Mutex
	conns     map[string]*mockConn
	clientIDs []string
	errs      map[string]error
}

func newMockDialer() *mockDialer {
	return &mockDialer{conns: map[string]*mockConn{}, errs: map[string]error{}}
}

func (d *mockDialer) create(_ context.Context, _ url.URL, clientID string) (conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clientIDs = append(d.clientIDs, clientID)
	if err := d.errs[clientID]; err != nil {
		return nil, err
	}
	c, ok := d.conns[clientID]
	if !ok {
		c = newMockConn()
		d.conns[clientID] = c
	}
	return c, nil
}

func (d *mockDialer) conn(clientID string) *mockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.conns[clientID]
	if !ok {
		c = newMockConn()
		d.conns[clientID] = c
	}
	return c
}

func (d *mockDialer) ids() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.clientIDs...)
}
