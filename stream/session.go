package stream

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/mailru/easyjson/jwriter"

	"github.com/webull-go/webull-api-go/internal/ctxtime"
)

// State of a Session. Transitions only move forward.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one transport connection to the push gateway. A Session is
// used once: after it is closed, a new one has to be created and connected.
type Session struct {
	purpose      Purpose
	u            url.URL
	newConn      connCreator
	pollInterval time.Duration
	logger       Logger

	mu    sync.Mutex
	state State
	conn  conn
}

func newSession(purpose Purpose, u url.URL, newConn connCreator, pollInterval time.Duration, logger Logger) *Session {
	return &Session{
		purpose:      purpose,
		u:            u,
		newConn:      newConn,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Purpose returns what the session carries
func (s *Session) Purpose() Purpose {
	return s.purpose
}

// State returns the current state of the session
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect opens the transport and sends the handshake envelope. On any
// failure the session ends up closed.
func (s *Session) Connect(ctx context.Context, deviceID, credential string) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return ErrSessionReused
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.logger.Infof("webullstream: connecting %s session to %s", s.purpose, s.u.Redacted())
	c, err := s.newConn(ctx, s.u, deviceID+s.purpose.clientIDSuffix())
	if err != nil {
		s.setState(StateClosed)
		var ce *ConnectionError
		if errors.As(err, &ce) {
			ce.Purpose = s.purpose
			return ce
		}
		return err
	}

	hello, err := handshakeFrame(deviceID, credential)
	if err != nil {
		c.close()
		s.setState(StateClosed)
		return fmt.Errorf("encode handshake: %w", err)
	}
	if err := c.writeMessage(ctx, hello); err != nil {
		c.close()
		s.setState(StateClosed)
		return &TransportError{Op: "handshake", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		// closed while the handshake was in flight
		c.close()
		return ErrClosed
	}
	s.conn = c
	s.state = StateConnected
	s.logger.Infof("webullstream: %s session connected", s.purpose)
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// current returns the conn if the session is connected
func (s *Session) current(op string) (conn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateConnected:
		return s.conn, nil
	case StateClosed:
		return nil, ErrClosed
	}
	return nil, &TransportError{Op: op, Err: fmt.Errorf("%s session is %s", s.purpose, s.state)}
}

// Send writes one frame to the open session
func (s *Session) Send(ctx context.Context, frame OutgoingFrame) error {
	c, err := s.current("send")
	if err != nil {
		return err
	}
	if err := c.writeMessage(ctx, frame); err != nil {
		if s.State() == StateClosed {
			return ErrClosed
		}
		return &TransportError{Op: "send", Err: err}
	}
	return nil
}

// ReceiveBlocking hands every inbound frame to onFrame, in arrival order,
// and reads the next one only after onFrame returned. It returns nil when
// ctx is done, and an error when the transport went away, in which case the
// session is closed.
func (s *Session) ReceiveBlocking(ctx context.Context, onFrame func(IncomingFrame)) error {
	c, err := s.current("receive")
	if err != nil {
		return err
	}
	for {
		f, err := c.readMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return s.lost(err)
		}
		onFrame(f)
	}
}

// ReceiveOnce waits at most the poll interval for one frame and hands it to
// onFrame. It reports whether a frame was processed.
func (s *Session) ReceiveOnce(ctx context.Context, onFrame func(IncomingFrame)) (bool, error) {
	c, err := s.current("receive")
	if err != nil {
		return false, err
	}
	pollCtx, cancel := ctxtime.WithPoll(ctx, s.pollInterval)
	defer cancel()

	f, err := c.readMessage(pollCtx)
	if err != nil {
		if ctxtime.Expired(ctx, err) || ctx.Err() != nil {
			return false, nil
		}
		return false, s.lost(err)
	}
	onFrame(f)
	return true, nil
}

// lost closes the session after a transport failure
func (s *Session) lost(err error) error {
	s.mu.Lock()
	wasClosed := s.state == StateClosed
	s.state = StateClosed
	c := s.conn
	s.mu.Unlock()

	if wasClosed {
		return ErrClosed
	}
	if c != nil {
		c.close()
	}
	s.logger.Warnf("webullstream: %s session lost: %v", s.purpose, err)
	return &TransportError{Op: "receive", Err: err}
}

// Close releases the transport. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	c := s.conn
	s.mu.Unlock()

	if c == nil {
		return nil
	}
	s.logger.Infof("webullstream: closing %s session", s.purpose)
	return c.close()
}

// handshakeFrame builds the envelope the gateway expects first:
// {"header":{"did":...,"hl":"en","app":"desktop","os":"web","osType":"windows"[,"access_token":...]}}
func handshakeFrame(deviceID, credential string) (OutgoingFrame, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`{"header":{"did":`)
	w.String(deviceID)
	w.RawString(`,"hl":"en","app":"desktop","os":"web","osType":"windows"`)
	if credential != "" {
		w.RawString(`,"access_token":`)
		w.String(credential)
	}
	w.RawString(`}}`)
	b, err := w.BuildBytes()
	if err != nil {
		return OutgoingFrame{}, err
	}
	return OutgoingFrame{op: opSubscribe, Data: b}, nil
}
